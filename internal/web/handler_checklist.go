package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/vbonduro/checklistsync/internal/checklist"
	"github.com/vbonduro/checklistsync/internal/events"
	"github.com/vbonduro/checklistsync/internal/service"
)

// Sections carry inline media until it is uploaded.
const maxSectionSize = 64 * 1024 * 1024 // 64 MB

const maxControlBodySize = 1024 * 1024

type checklistPath struct {
	PropertyID string `validate:"required,max=128,excludesall=/"`
	Kind       string `validate:"required,oneof=initial final"`
}

type saveRequest struct {
	Section string `json:"section" validate:"omitempty,max=64"`
}

type finalizeRequest struct {
	Fields map[string]any `json:"fields" validate:"omitempty,max=200"`
}

type finalizeResponse struct {
	Finalized bool `json:"finalized"`
}

type saveAllResponse struct {
	Reports []*service.SaveReport `json:"reports"`
	Error   string                `json:"error,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// session resolves the checklist named in the path and loads it on first
// use. It writes the error response itself and returns nil on failure.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *service.Session {
	p := checklistPath{PropertyID: r.PathValue("property"), Kind: r.PathValue("kind")}
	if err := s.validate.Struct(p); err != nil {
		s.writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return nil
	}
	sess, err := s.service.Session(p.PropertyID, checklist.Kind(p.Kind))
	if err != nil {
		s.writeError(w, err)
		return nil
	}
	if sess.Document() == nil {
		if _, err := sess.Load(r.Context()); err != nil {
			s.logger.Error("load checklist failed", "property_id", p.PropertyID, "kind", p.Kind, "error", err)
			s.writeError(w, err)
			return nil
		}
	}
	return sess
}

// handleGetChecklist returns the in-memory document. reload=1 re-reads it
// from the store first; sections with unsaved edits are kept.
func (s *Server) handleGetChecklist(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	if r.URL.Query().Get("reload") == "1" {
		if _, err := sess.Load(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, sess.Document())
}

func (s *Server) handlePutSection(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	id := r.PathValue("section")

	var sec checklist.Section
	if err := decodeBody(w, r, maxSectionSize, &sec); err != nil {
		s.writeError(w, err)
		return
	}

	if r.URL.Query().Get("debounce") == "1" {
		if err := sess.StageSection(id, &sec); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := sess.UpdateSection(id, &sec); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req saveRequest
	if err := s.decodeOptional(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	report, err := sess.SaveSection(r.Context(), req.Section)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSaveAll(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	reports, err := sess.SaveAll(r.Context())
	if errors.Is(err, service.ErrSaveInProgress) || errors.Is(err, service.ErrNotLoaded) {
		s.writeError(w, err)
		return
	}
	resp := saveAllResponse{Reports: reports}
	status := http.StatusOK
	if err != nil {
		// Sections that did save stay saved; report them with the failures.
		resp.Error = err.Error()
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var req finalizeRequest
	if err := s.decodeOptional(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	ok, err := sess.Finalize(r.Context(), req.Fields)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, finalizeResponse{Finalized: ok})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	p := checklistPath{PropertyID: r.PathValue("property"), Kind: r.PathValue("kind")}
	if err := s.validate.Struct(p); err != nil {
		s.writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	s.hub.ServeTopic(w, r, events.Topic(p.PropertyID, p.Kind))
}

var errBadRequest = errors.New("bad request")

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %w", errBadRequest, err)
	}
	return nil
}

// decodeOptional decodes and validates a small control body. An empty body
// leaves v untouched.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxControlBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body: %w", errBadRequest, err)
	}
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

// writeError maps service errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var saveErr *service.SaveError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &saveErr):
		status = http.StatusBadGateway
		resp.Retryable = saveErr.Retryable
	case errors.As(err, &verrs), errors.Is(err, errBadRequest),
		errors.Is(err, service.ErrUnknownKind), errors.Is(err, service.ErrNoSection),
		errors.Is(err, checklist.ErrInvalidSection):
		status = http.StatusBadRequest
	case errors.Is(err, checklist.ErrUnknownSection):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrSaveInProgress):
		status = http.StatusConflict
		resp.Retryable = true
	case errors.Is(err, service.ErrNotProvisioned), errors.Is(err, service.ErrNothingPersisted),
		errors.Is(err, service.ErrNotLoaded):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		resp.Error = "internal error"
	}
	s.writeJSON(w, status, resp)
}
