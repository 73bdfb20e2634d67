package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vision/backend/internal/entries"
	"github.com/vision/backend/internal/middleware"
	"github.com/vision/backend/internal/models"
	"github.com/vision/backend/internal/results"
)

const updateScore = "score"

// ScoreReader reads an identity's scores.
type ScoreReader interface {
	ScoresFor(ctx context.Context, username string) (map[string]int, error)
	ValidateScore(entryID string, score int) error
}

// ScoreUpdater persists a score and fans the change out to live connections.
type ScoreUpdater interface {
	UpdateScore(ctx context.Context, identity, entryID string, score int) error
}

// EntryHandler serves the entry catalog and the caller's scores.
type EntryHandler struct {
	catalog *entries.Catalog
	scores  ScoreReader
	updater ScoreUpdater
}

// NewEntryHandler creates an EntryHandler.
func NewEntryHandler(catalog *entries.Catalog, scores ScoreReader, updater ScoreUpdater) *EntryHandler {
	return &EntryHandler{catalog: catalog, scores: scores, updater: updater}
}

// List returns every entry with the caller's score.
func (h *EntryHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.GetIdentity(r.Context())

	scores, err := h.scores.ScoresFor(r.Context(), identity.Username)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to load scores", err)
		return
	}

	all := h.catalog.All()
	response := make([]models.EntryResponse, 0, len(all))
	for _, e := range all {
		response = append(response, entryResponse(e, scores))
	}
	writeJSON(w, http.StatusOK, response)
}

// Get returns one entry with the caller's score.
func (h *EntryHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.GetIdentity(r.Context())

	e, ok := h.catalog.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}

	scores, err := h.scores.ScoresFor(r.Context(), identity.Username)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to load scores", err)
		return
	}
	writeJSON(w, http.StatusOK, entryResponse(e, scores))
}

// Update changes the caller's score for one entry. A score of -1 withdraws it.
func (h *EntryHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.GetIdentity(r.Context())
	entryID := chi.URLParam(r, "id")

	var req models.UpdateEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Update != updateScore || req.Score == nil {
		writeError(w, http.StatusBadRequest, `update must be "score" with a score`)
		return
	}

	err := h.scores.ValidateScore(entryID, *req.Score)
	switch {
	case errors.Is(err, entries.ErrUnknownEntry):
		writeError(w, http.StatusNotFound, "entry not found")
		return
	case errors.Is(err, entries.ErrScoreOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.updater.UpdateScore(r.Context(), identity.Username, entryID, *req.Score); err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to update score", err)
		return
	}

	e, _ := h.catalog.Get(entryID)
	writeJSON(w, http.StatusOK, models.EntryResponse{ID: e.ID, Attributes: e.Attributes, Score: *req.Score})
}

func entryResponse(e models.Entry, scores map[string]int) models.EntryResponse {
	score, ok := scores[e.ID]
	if !ok {
		score = results.SentinelScore
	}
	return models.EntryResponse{ID: e.ID, Attributes: e.Attributes, Score: score}
}
