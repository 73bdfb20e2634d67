package handlers

import (
	"net/http"
	"time"

	"github.com/vision/backend/internal/models"
	"github.com/vision/backend/internal/results"
)

type ConfigHandler struct {
	maxScore    int
	leeway      time.Duration
	minInterval time.Duration
}

func NewConfigHandler(maxScore int, leeway, minInterval time.Duration) *ConfigHandler {
	return &ConfigHandler{maxScore: maxScore, leeway: leeway, minInterval: minInterval}
}

// PublicConfig returns the score range and client refresh timing.
func (h *ConfigHandler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.PublicConfigResponse{
		MaxScore:             h.maxScore,
		SentinelScore:        results.SentinelScore,
		RefreshLeewayMs:      h.leeway.Milliseconds(),
		MinRefreshIntervalMs: h.minInterval.Milliseconds(),
	})
}
