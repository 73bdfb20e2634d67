package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vision/backend/internal/broker"
	"github.com/vision/backend/internal/hub"
	"github.com/vision/backend/internal/logging"
)

// SSEHandler serves a Server-Sent Events stream of results for clients that
// only watch and never vote.
type SSEHandler struct {
	broker   *broker.Broker
	results  hub.ResultsComputer
	entryIDs []string
}

// NewSSEHandler creates an SSEHandler backed by the given broker.
func NewSSEHandler(b *broker.Broker, results hub.ResultsComputer, entryIDs []string) *SSEHandler {
	return &SSEHandler{broker: b, results: results, entryIDs: entryIDs}
}

// Stream sends the full results as a "results" event, then pushes the results
// of every entry whose scores change. A heartbeat comment is sent every 30
// seconds to keep the connection alive through proxies.
func (h *SSEHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := h.broker.Subscribe(broker.TopicScores)
	defer h.broker.Unsubscribe(sub)

	ctx := r.Context()
	initial, err := h.results.ComputeResults(ctx, h.entryIDs)
	if err != nil {
		writeErrorWithCause(ctx, w, http.StatusInternalServerError, "failed to compute results", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	writeEvent := func(v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: results\ndata: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent(initial) {
		return
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.C():
			ids := sub.Drain()
			if len(ids) == 0 {
				continue
			}
			res, err := h.results.ComputeResults(ctx, ids)
			if err != nil {
				slog.ErrorContext(ctx, "computing streamed results", slog.Any("error", logging.WrapError(err, "computing streamed results")))
				return
			}
			if !writeEvent(res) {
				return
			}
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
