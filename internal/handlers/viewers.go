package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"quotepulse-backend/internal/models"
)

type ViewerSource interface {
	Viewers(ctx context.Context, documentID string) ([]models.Session, error)
}

// ViewersHandler is the polling fallback for observers that cannot hold a
// websocket open.
type ViewersHandler struct {
	source ViewerSource
	logger zerolog.Logger
}

func NewViewersHandler(source ViewerSource, logger zerolog.Logger) *ViewersHandler {
	return &ViewersHandler{source: source, logger: logger}
}

func (h *ViewersHandler) Get(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentId")
	if documentID == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("MISSING_DOCUMENT_ID", "Document id is required", r))
		return
	}

	viewers, err := h.source.Viewers(r.Context(), documentID)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", documentID).Msg("Failed to read viewers")
		writeJSON(w, http.StatusServiceUnavailable, errorResp("UNAVAILABLE", "Presence is not available", r))
		return
	}
	if viewers == nil {
		viewers = []models.Session{}
	}
	writeJSON(w, http.StatusOK, models.ViewersResponse{DocumentID: documentID, Viewers: viewers})
}
