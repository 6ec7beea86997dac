package web

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vbonduro/checklistsync/internal/objectstore"
)

type propertyRequest struct {
	ID        string `json:"-" validate:"required,max=128,excludesall=/"`
	Bedrooms  *int   `json:"bedrooms" validate:"required,min=0,max=50"`
	Bathrooms *int   `json:"bathrooms" validate:"required,min=0,max=50"`
}

type propertyResponse struct {
	ID        string    `json:"id"`
	Bedrooms  int       `json:"bedrooms"`
	Bathrooms int       `json:"bathrooms"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// handlePutProperty records room counts. Loaded checklists of the property
// grow their bedroom and bathroom sections to match.
func (s *Server) handlePutProperty(w http.ResponseWriter, r *http.Request) {
	var req propertyRequest
	if err := decodeBody(w, r, maxControlBodySize, &req); err != nil {
		s.writeError(w, err)
		return
	}
	req.ID = r.PathValue("id")
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	p, err := s.service.UpdateRoomCounts(r.Context(), req.ID, *req.Bedrooms, *req.Bathrooms)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, propertyResponse{
		ID:        p.ID,
		Bedrooms:  p.Bedrooms,
		Bathrooms: p.Bathrooms,
		UpdatedAt: p.UpdatedAt,
	})
}

func (s *Server) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	reader, mimeType, err := s.media.Get(r.Context(), key)
	if err != nil {
		if !errors.Is(err, objectstore.ErrNotFound) {
			s.logger.Warn("get media failed", "key", key, "error", err)
		}
		http.NotFound(w, r)
		return
	}
	defer closeWithLog(reader, "media reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write media failed", "key", key, "error", err)
	}
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
