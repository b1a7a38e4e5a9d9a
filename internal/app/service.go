package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"logistics/api/internal/config"
	"logistics/api/internal/export"
	"logistics/api/internal/importer"
	"logistics/api/internal/registry"
	"logistics/api/internal/search"
	"logistics/api/internal/session"
	"logistics/api/internal/store"
	"logistics/api/internal/syncer"
	"logistics/api/internal/training"
	"logistics/api/internal/util"
)

// DraftPatch carries the editable company fields. Nil fields are left alone.
type DraftPatch struct {
	Name            *string `json:"name"`
	Address         *string `json:"address"`
	DeliveryDetails *string `json:"deliveryDetails"`
	ContactPerson   *string `json:"contactPerson"`
	PhoneNumber     *string `json:"phoneNumber"`
	AssignedTour    *string `json:"assignedTour"`
}

func (p DraftPatch) apply(c *store.Company) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&c.Name, p.Name)
	set(&c.Address, p.Address)
	set(&c.DeliveryDetails, p.DeliveryDetails)
	set(&c.ContactPerson, p.ContactPerson)
	set(&c.PhoneNumber, p.PhoneNumber)
	set(&c.AssignedTour, p.AssignedTour)
}

// CompanyDetail is a company plus the display helpers of the detail screen.
type CompanyDetail struct {
	store.Company
	PhoneNumbers    []string `json:"phoneNumbers"`
	HasDeliveryInfo bool     `json:"hasDeliveryInfo"`
}

func detailFor(c store.Company) CompanyDetail {
	return CompanyDetail{
		Company:         c,
		PhoneNumbers:    registry.PhoneNumbers(c.PhoneNumber),
		HasDeliveryInfo: registry.HasDeliveryInfo(c),
	}
}

type Service struct {
	cfg      config.Config
	docs     store.DocumentStore
	sync     *syncer.Controller
	registry *registry.Editor
	importer *importer.Importer
	grid     *training.Grid
	search   *search.Service
	export   *export.Service
	sessions session.Store
	log      *zap.Logger
	now      func() time.Time
}

// New wires the domain components around one sync controller. index may be
// nil when no search server is configured.
func New(cfg config.Config, docs store.DocumentStore, sessions session.Store, index search.Index, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	policy, err := syncer.ParseFailurePolicy(cfg.CommitFailurePolicy)
	if err != nil {
		return nil, err
	}

	controller := syncer.New(docs, training.DefaultSteps(), policy, log.Named("sync"))
	editor := registry.NewEditor(controller)
	return &Service{
		cfg:      cfg,
		docs:     docs,
		sync:     controller,
		registry: editor,
		importer: importer.New(editor, cfg.NoticeTTL, log.Named("import")),
		grid:     training.NewGrid(controller),
		search:   search.NewService(index, controller, log.Named("search")),
		export:   export.NewService(controller),
		sessions: sessions,
		log:      log,
		now:      time.Now,
	}, nil
}

// Start subscribes the mirror and feeds company changes to the search index.
func (s *Service) Start(ctx context.Context) error {
	s.sync.Watch(func(ev syncer.Event) {
		if ev.Path == store.PathCompanies {
			s.search.Sync(ev.Companies, ev.Seq)
		}
	})
	if err := s.sync.Start(ctx); err != nil {
		return fmt.Errorf("start sync: %w", err)
	}
	return nil
}

func (s *Service) Close() {
	s.sync.Close()
	s.search.Close()
}

// Ping reports the health of each backing store by name.
func (s *Service) Ping(ctx context.Context) map[string]error {
	return map[string]error{
		"documents": s.docs.Ping(ctx),
		"sessions":  s.sessions.Ping(ctx),
	}
}

func (s *Service) Status() syncer.Status {
	return s.sync.Status()
}

func (s *Service) Watch(fn func(syncer.Event)) func() {
	return s.sync.Watch(fn)
}

// Snapshot returns one event per collection describing the current mirror.
func (s *Service) Snapshot() []syncer.Event {
	return s.sync.Events()
}

// Companies

func (s *Service) ListCompanies(query string) []store.Company {
	return s.registry.List(query)
}

func (s *Service) Lookup(query string) search.Response {
	return s.search.Lookup(query)
}

func (s *Service) Company(id string) (CompanyDetail, error) {
	c, err := s.registry.View(id)
	if err != nil {
		return CompanyDetail{}, err
	}
	return detailFor(c), nil
}

// SaveCompany replaces a company directly, without a session draft.
func (s *Service) SaveCompany(ctx context.Context, c store.Company) error {
	return s.registry.Save(ctx, c)
}

// DeleteCompany removes a company and clears it from the caller's selection.
// A failed remote write still clears the selection, since the mirror no
// longer holds the company.
func (s *Service) DeleteCompany(ctx context.Context, sessionID, id string, confirmed bool) error {
	err := s.registry.Delete(ctx, id, confirmed)
	if err != nil && !isSyncError(err) {
		return err
	}
	viewErr := s.updateView(ctx, sessionID, func(v *session.ViewState) error {
		if v.SelectedCompanyID == id {
			v.ClearSelection()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return viewErr
}

func (s *Service) AttachImage(ctx context.Context, id string, r io.Reader, mimeType string) error {
	blob, err := util.ReadDataURL(r, mimeType)
	if err != nil {
		return err
	}
	return s.registry.AttachImage(ctx, id, blob)
}

func (s *Service) AttachImageDataURL(ctx context.Context, id, dataURL string) error {
	if err := util.CheckDataURL(dataURL); err != nil {
		return domainError(http.StatusUnprocessableEntity, "INVALID_IMAGE", "Image must be a data URL", nil)
	}
	return s.registry.AttachImage(ctx, id, dataURL)
}

// RemoveImage drops one image and re-clamps the caller's carousel cursor. The
// cursor is saved even when the remote write fails.
func (s *Service) RemoveImage(ctx context.Context, sessionID, id string, index int) (session.ViewState, error) {
	var out session.ViewState
	var commitErr error
	err := s.updateView(ctx, sessionID, func(v *session.ViewState) error {
		cursor := 0
		if v.SelectedCompanyID == id {
			cursor = v.ImageIndex
		}
		next, err := s.registry.RemoveImage(ctx, id, index, cursor)
		if err != nil && !isSyncError(err) {
			return err
		}
		commitErr = err
		if v.SelectedCompanyID == id {
			v.ImageIndex = next
		}
		if v.Draft != nil && v.Draft.ID == id {
			if fresh, err := s.registry.View(id); err == nil {
				v.Draft.Images = fresh.Images
			}
		}
		out = *v
		return nil
	})
	if err != nil {
		return out, err
	}
	return out, commitErr
}

// StepImage moves the carousel of the selected company by delta, wrapping.
func (s *Service) StepImage(ctx context.Context, sessionID string, delta int) (session.ViewState, error) {
	var out session.ViewState
	err := s.updateView(ctx, sessionID, func(v *session.ViewState) error {
		if v.SelectedCompanyID == "" {
			return domainError(http.StatusConflict, "NO_SELECTION", "No company selected", nil)
		}
		c, err := s.registry.View(v.SelectedCompanyID)
		if err != nil {
			return err
		}
		n := len(c.Images)
		if delta < 0 {
			v.ImageIndex = registry.PrevImage(v.ImageIndex, n)
		} else {
			v.ImageIndex = registry.NextImage(v.ImageIndex, n)
		}
		out = *v
		return nil
	})
	return out, err
}

// Drafts

// BeginEdit selects a company in edit mode with a fresh draft.
func (s *Service) BeginEdit(ctx context.Context, sessionID, id string) (session.ViewState, error) {
	var out session.ViewState
	err := s.updateView(ctx, sessionID, func(v *session.ViewState) error {
		draft, err := s.registry.Edit(id)
		if err != nil {
			return err
		}
		v.Select(id, true, &draft)
		out = *v
		return nil
	})
	return out, err
}

func (s *Service) UpdateDraft(ctx context.Context, sessionID string, patch DraftPatch) (session.ViewState, error) {
	var out session.ViewState
	err := s.updateView(ctx, sessionID, func(v *session.ViewState) error {
		if v.Draft == nil {
			return errNoDraft
		}
		patch.apply(v.Draft)
		out = *v
		return nil
	})
	return out, err
}

// SaveDraft commits the caller's draft and leaves edit mode. A failed save
// keeps the draft.
func (s *Service) SaveDraft(ctx context.Context, sessionID string) (session.ViewState, error) {
	var out session.ViewState
	err := s.updateView(ctx, sessionID, func(v *session.ViewState) error {
		if v.Draft == nil {
			return errNoDraft
		}
		draft := v.Draft.Clone()
		// Images are committed as soon as they are attached or removed, so the
		// stored list wins over the copy taken when editing began.
		if current, err := s.registry.View(draft.ID); err == nil {
			draft.Images = current.Images
		}
		if err := s.registry.Save(ctx, draft); err != nil {
			return err
		}
		v.Draft = nil
		v.EditMode = false
		out = *v
		return nil
	})
	return out, err
}

func (s *Service) DiscardDraft(ctx context.Context, sessionID string) (session.ViewState, error) {
	var out session.ViewState
	err := s.updateView(ctx, sessionID, func(v *session.ViewState) error {
		v.Draft = nil
		v.EditMode = false
		out = *v
		return nil
	})
	return out, err
}

// Import

// Import runs the paste path when text is set and the upload path when file
// is set. The resulting form is stored in the caller's view state either way.
func (s *Service) Import(ctx context.Context, sessionID string, text *string, file io.Reader) (importer.Form, []store.Company, error) {
	state, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return importer.Form{}, nil, err
	}

	form := state.ImportForm.Prune(s.now())
	var batch []store.Company
	var importErr error
	if file != nil {
		form, batch, importErr = s.importer.SubmitFile(ctx, form, file)
	} else {
		if text != nil {
			form.Buffer = *text
		}
		form, batch, importErr = s.importer.Submit(ctx, form)
	}

	state.ImportForm = form
	if importErr == nil {
		state.View = store.ViewCompanies
	}
	if err := s.sessions.Save(ctx, sessionID, state); err != nil {
		s.log.Warn("save import form", zap.String("session_id", sessionID), zap.Error(err))
	}
	return form, batch, importErr
}

func (s *Service) ImportForm(ctx context.Context, sessionID string) (importer.Form, error) {
	state, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return importer.Form{}, err
	}
	return state.ImportForm.Prune(s.now()), nil
}

// SOP

func (s *Service) SOPCells() []training.Cell {
	return s.grid.Cells()
}

func (s *Service) SetStepImage(ctx context.Context, stepID int, dataURL string) error {
	if dataURL != "" {
		if err := util.CheckDataURL(dataURL); err != nil {
			return domainError(http.StatusUnprocessableEntity, "INVALID_IMAGE", "Image must be a data URL", nil)
		}
	}
	return s.grid.SetImage(ctx, stepID, dataURL)
}

func (s *Service) SetStepImageFile(ctx context.Context, stepID int, r io.Reader, mimeType string) error {
	blob, err := util.ReadDataURL(r, mimeType)
	if err != nil {
		return err
	}
	return s.grid.SetImage(ctx, stepID, blob)
}

// Guide

// Guide renders the caller's current guide page. delta moves the cursor
// first: 1 for next, -1 for previous, 0 to stay.
func (s *Service) Guide(ctx context.Context, sessionID string, delta int) (training.Page, error) {
	var page training.Page
	err := s.updateView(ctx, sessionID, func(v *session.ViewState) error {
		steps := s.sync.SOPSteps()
		guide := training.GuideAt(v.GuideCursor, len(steps))
		switch {
		case delta > 0:
			guide.Next()
		case delta < 0:
			guide.Prev()
		}
		page = guide.Page(steps)
		v.GuideCursor = guide.Cursor()
		return nil
	})
	return page, err
}

// View state

func (s *Service) ViewState(ctx context.Context, sessionID string) (session.ViewState, error) {
	state, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return session.ViewState{}, err
	}
	state.ImportForm = state.ImportForm.Prune(s.now())
	return state, nil
}

func (s *Service) SwitchView(ctx context.Context, sessionID string, view store.View, query *string) (session.ViewState, error) {
	var out session.ViewState
	err := s.updateView(ctx, sessionID, func(v *session.ViewState) error {
		if view != "" {
			if err := v.SwitchView(view); err != nil {
				return domainError(http.StatusUnprocessableEntity, "UNKNOWN_VIEW", err.Error(), map[string]any{"view": view})
			}
		}
		if query != nil {
			v.SearchQuery = *query
		}
		out = *v
		return nil
	})
	return out, err
}

// Select opens a company for the caller. Edit mode starts a fresh draft.
func (s *Service) Select(ctx context.Context, sessionID, id string, edit bool) (session.ViewState, error) {
	if edit {
		return s.BeginEdit(ctx, sessionID, id)
	}
	var out session.ViewState
	err := s.updateView(ctx, sessionID, func(v *session.ViewState) error {
		if _, err := s.registry.View(id); err != nil {
			return err
		}
		v.Select(id, false, nil)
		out = *v
		return nil
	})
	return out, err
}

// Admin

// Reset overwrites both collections: companies become empty and the SOP
// returns to the built-in template.
func (s *Service) Reset(ctx context.Context, sessionID string, confirmed bool) error {
	if !confirmed {
		return registry.ErrConfirmationRequired
	}
	companiesErr := s.sync.CommitCompanies(ctx, []store.Company{})
	stepsErr := s.sync.CommitSOPSteps(ctx, training.DefaultSteps())
	s.log.Warn("all data reset", zap.String("session_id", sessionID))

	if err := s.updateView(ctx, sessionID, func(v *session.ViewState) error {
		return v.SwitchView(store.ViewDashboard)
	}); err != nil {
		s.log.Warn("reset view state", zap.Error(err))
	}
	return errors.Join(companiesErr, stepsErr)
}

func (s *Service) Export(ctx context.Context, format export.Format) (*export.Result, error) {
	return s.export.Export(ctx, format)
}

func isSyncError(err error) bool {
	var syncErr *syncer.SyncError
	return errors.As(err, &syncErr)
}

// updateView loads the caller's view state, applies fn and saves it when fn
// succeeds.
func (s *Service) updateView(ctx context.Context, sessionID string, fn func(*session.ViewState) error) error {
	state, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load view state: %w", err)
	}
	if err := fn(&state); err != nil {
		return err
	}
	if err := s.sessions.Save(ctx, sessionID, state); err != nil {
		return fmt.Errorf("save view state: %w", err)
	}
	return nil
}
