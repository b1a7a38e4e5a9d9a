package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"logistics/api/internal/export"
	"logistics/api/internal/importer"
	"logistics/api/internal/registry"
	"logistics/api/internal/store"
	"logistics/api/internal/syncer"
	"logistics/api/internal/training"
	"logistics/api/internal/util"
)

const (
	headerRequestID = "X-Request-ID"
	headerSessionID = "X-Session-ID"
	maxMemoryUpload = 32 << 20
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.routes())
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	r.Options("/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/stream", s.handleStream)

	r.Get("/api/companies", s.handleListCompanies)
	r.Get("/api/lookup", s.handleLookup)
	r.Get("/api/companies/{companyID}", s.handleGetCompany)
	r.Put("/api/companies/{companyID}", s.handleSaveCompany)
	r.Delete("/api/companies/{companyID}", s.handleDeleteCompany)
	r.Post("/api/companies/{companyID}/edit", s.handleBeginEdit)
	r.Post("/api/companies/{companyID}/images", s.handleAttachImage)
	r.Delete("/api/companies/{companyID}/images/{index}", s.handleRemoveImage)

	r.Patch("/api/draft", s.handleUpdateDraft)
	r.Post("/api/draft/save", s.handleSaveDraft)
	r.Delete("/api/draft", s.handleDiscardDraft)

	r.Post("/api/import", s.handleImport)
	r.Get("/api/import/status", s.handleImportStatus)

	r.Get("/api/sop-steps", s.handleSOPSteps)
	r.Put("/api/sop-steps/{stepID}/image", s.handleSetStepImage)
	r.Delete("/api/sop-steps/{stepID}/image", s.handleClearStepImage)

	r.Get("/api/guide", s.guideHandler(0))
	r.Post("/api/guide/next", s.guideHandler(1))
	r.Post("/api/guide/prev", s.guideHandler(-1))

	r.Get("/api/session/view", s.handleGetView)
	r.Put("/api/session/view", s.handleSwitchView)
	r.Post("/api/session/select", s.handleSelect)
	r.Post("/api/session/carousel/next", s.carouselHandler(1))
	r.Post("/api/session/carousel/prev", s.carouselHandler(-1))

	r.Get("/api/export/sop.{format}", s.handleExport)
	r.Post("/api/admin/reset", s.handleReset)
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	sync := s.service.Status()
	if sync.Loading {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
		"sync":   sync,
	})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status())
}

// Companies

func (s *HTTPServer) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	companies := s.service.ListCompanies(query)
	writeJSON(w, http.StatusOK, map[string]any{
		"companies": companies,
		"total":     len(companies),
		"query":     query,
	})
}

func (s *HTTPServer) handleLookup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Lookup(r.URL.Query().Get("q")))
}

func (s *HTTPServer) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.Company(chi.URLParam(r, "companyID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *HTTPServer) handleSaveCompany(w http.ResponseWriter, r *http.Request) {
	var body store.Company
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	id := chi.URLParam(r, "companyID")
	if body.ID != "" && body.ID != id {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id does not match path", nil)
		return
	}
	body.ID = id
	if err := s.service.SaveCompany(r.Context(), body); err != nil {
		s.fail(w, r, err)
		return
	}
	detail, err := s.service.Company(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *HTTPServer) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "companyID")
	if err := s.service.DeleteCompany(r.Context(), sessionID(r), id, queryBool(r, "confirm")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (s *HTTPServer) handleBeginEdit(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.BeginEdit(r.Context(), sessionID(r), chi.URLParam(r, "companyID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleAttachImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "companyID")
	var err error
	if isMultipart(r) {
		err = s.withUpload(r, "file", func(file io.Reader, mimeType string) error {
			return s.service.AttachImage(r.Context(), id, file, mimeType)
		})
	} else {
		var body struct {
			DataURL string `json:"dataUrl"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		err = s.service.AttachImageDataURL(r.Context(), id, body.DataURL)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	detail, err := s.service.Company(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (s *HTTPServer) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INDEX", "Image index must be a number", nil)
		return
	}
	state, err := s.service.RemoveImage(r.Context(), sessionID(r), chi.URLParam(r, "companyID"), index)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Drafts

func (s *HTTPServer) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	var patch DraftPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	state, err := s.service.UpdateDraft(r.Context(), sessionID(r), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.SaveDraft(r.Context(), sessionID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.DiscardDraft(r.Context(), sessionID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Import

// handleImport accepts a multipart upload in field "file", a text/plain body,
// or a JSON body {"buffer": "..."}.
func (s *HTTPServer) handleImport(w http.ResponseWriter, r *http.Request) {
	var (
		form  importer.Form
		batch []store.Company
		err   error
	)
	switch {
	case isMultipart(r):
		err = s.withUpload(r, "file", func(file io.Reader, _ string) error {
			var importErr error
			form, batch, importErr = s.service.Import(r.Context(), sessionID(r), nil, file)
			return importErr
		})
	case mediaType(r) == "text/plain":
		data, readErr := io.ReadAll(r.Body)
		if readErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
			return
		}
		text := string(data)
		form, batch, err = s.service.Import(r.Context(), sessionID(r), &text, nil)
	default:
		var body struct {
			Buffer *string `json:"buffer"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		form, batch, err = s.service.Import(r.Context(), sessionID(r), body.Buffer, nil)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"imported":  len(batch),
		"companies": batch,
		"form":      form,
	})
}

func (s *HTTPServer) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	form, err := s.service.ImportForm(r.Context(), sessionID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

// SOP

func (s *HTTPServer) handleSOPSteps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"steps": s.service.SOPCells()})
}

func (s *HTTPServer) handleSetStepImage(w http.ResponseWriter, r *http.Request) {
	stepID, ok := stepIDParam(w, r)
	if !ok {
		return
	}
	var err error
	if isMultipart(r) {
		err = s.withUpload(r, "file", func(file io.Reader, mimeType string) error {
			return s.service.SetStepImageFile(r.Context(), stepID, file, mimeType)
		})
	} else {
		var body struct {
			Image string `json:"image"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		err = s.service.SetStepImage(r.Context(), stepID, body.Image)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": s.service.SOPCells()})
}

func (s *HTTPServer) handleClearStepImage(w http.ResponseWriter, r *http.Request) {
	stepID, ok := stepIDParam(w, r)
	if !ok {
		return
	}
	if err := s.service.SetStepImage(r.Context(), stepID, ""); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": s.service.SOPCells()})
}

func (s *HTTPServer) guideHandler(delta int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := s.service.Guide(r.Context(), sessionID(r), delta)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

// View state

func (s *HTTPServer) handleGetView(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.ViewState(r.Context(), sessionID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleSwitchView(w http.ResponseWriter, r *http.Request) {
	var body struct {
		View        store.View `json:"view"`
		SearchQuery *string    `json:"searchQuery"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	state, err := s.service.SwitchView(r.Context(), sessionID(r), body.View, body.SearchQuery)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleSelect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CompanyID string `json:"companyId"`
		Edit      bool   `json:"edit"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.CompanyID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "companyId is required", nil)
		return
	}
	state, err := s.service.Select(r.Context(), sessionID(r), body.CompanyID, body.Edit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) carouselHandler(delta int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := s.service.StepImage(r.Context(), sessionID(r), delta)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

// Export and admin

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.Export(r.Context(), format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Reset(r.Context(), sessionID(r), queryBool(r, "confirm")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": s.service.Status()})
}

// Helpers

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("request_id", requestID(r)),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

// withUpload opens the multipart file in field and hands it to fn.
func (s *HTTPServer) withUpload(r *http.Request, field string, fn func(io.Reader, string) error) error {
	if err := r.ParseMultipartForm(maxMemoryUpload); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_UPLOAD", "Could not read upload", nil)
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return domainError(http.StatusBadRequest, "INVALID_UPLOAD", fmt.Sprintf("Missing file field %q", field), nil)
	}
	defer file.Close()
	return fn(file, header.Header.Get("Content-Type"))
}

func stepIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "stepID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_STEP", "Step id must be a number", nil)
		return 0, false
	}
	return id, true
}

func queryBool(r *http.Request, key string) bool {
	value, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && value
}

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

func isMultipart(r *http.Request) bool {
	return mediaType(r) == "multipart/form-data"
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = randomRequestID()
		}
		sessionID := strings.TrimSpace(r.Header.Get(headerSessionID))
		if sessionID == "" {
			sessionID = util.NewID("sess")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		ctx = context.WithValue(ctx, sessionIDKey{}, sessionID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set(headerRequestID, requestID)
		writer.Header().Set(headerSessionID, sessionID)

		next.ServeHTTP(writer, r)

		s.log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

type sessionIDKey struct{}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

func sessionID(r *http.Request) string {
	id, _ := r.Context().Value(sessionIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-Session-ID")
	header.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Session-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var (
		domainErr     *DomainError
		parseErr      *importer.ParseError
		validationErr *importer.ValidationError
		syncErr       *syncer.SyncError
	)
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.As(err, &parseErr):
		return http.StatusBadRequest, "PARSE_ERROR", parseErr.Error(), nil
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(),
			map[string]any{"index": validationErr.Index, "field": validationErr.Field}
	case errors.Is(err, importer.ErrEmptyInput):
		return http.StatusBadRequest, "EMPTY_INPUT", err.Error(), nil
	case errors.As(err, &syncErr):
		return http.StatusBadGateway, "SYNC_FAILED", syncErr.Error(), map[string]any{"path": syncErr.Path}
	case errors.Is(err, registry.ErrConfirmationRequired):
		return http.StatusConflict, "CONFIRMATION_REQUIRED", "Confirmation required", nil
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Company not found", nil
	case errors.Is(err, training.ErrStepNotFound):
		return http.StatusNotFound, "NOT_FOUND", "SOP step not found", nil
	case errors.Is(err, registry.ErrInvalidDraft):
		return http.StatusUnprocessableEntity, "INVALID_DRAFT", "Company name and address are required", nil
	case errors.Is(err, registry.ErrImageIndex):
		return http.StatusUnprocessableEntity, "IMAGE_INDEX", "Image index out of range", nil
	case errors.Is(err, util.ErrNotDataURL):
		return http.StatusUnprocessableEntity, "INVALID_IMAGE", "Image must be a data URL", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
