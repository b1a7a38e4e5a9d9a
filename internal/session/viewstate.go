// Package session keeps per-client view state between requests.
package session

import (
	"context"
	"errors"

	"logistics/api/internal/importer"
	"logistics/api/internal/store"
)

var ErrUnknownView = errors.New("unknown view")

// ViewState is everything one client has selected or typed but not committed.
type ViewState struct {
	View              store.View     `json:"view"`
	SelectedCompanyID string         `json:"selectedCompanyId,omitempty"`
	EditMode          bool           `json:"editMode"`
	SearchQuery       string         `json:"searchQuery"`
	ImageIndex        int            `json:"imageIndex"`
	GuideCursor       int            `json:"guideCursor"`
	Draft             *store.Company `json:"draft,omitempty"`
	ImportForm        importer.Form  `json:"importForm"`
}

func DefaultViewState() ViewState {
	return ViewState{View: store.ViewDashboard}
}

// SwitchView moves to another screen and drops the detail selection.
func (s *ViewState) SwitchView(v store.View) error {
	if _, ok := store.ParseView(string(v)); !ok {
		return ErrUnknownView
	}
	s.View = v
	s.ClearSelection()
	return nil
}

// Select opens a company, optionally straight into edit mode with a fresh
// draft.
func (s *ViewState) Select(id string, edit bool, draft *store.Company) {
	s.SelectedCompanyID = id
	s.EditMode = edit
	s.ImageIndex = 0
	s.Draft = draft
}

func (s *ViewState) ClearSelection() {
	s.SelectedCompanyID = ""
	s.EditMode = false
	s.ImageIndex = 0
	s.Draft = nil
}

// Store persists view state per session id.
type Store interface {
	Load(ctx context.Context, id string) (ViewState, error)
	Save(ctx context.Context, id string, state ViewState) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}
