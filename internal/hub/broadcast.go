package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vision/backend/internal/logging"
	"github.com/vision/backend/internal/models"
)

// ResultsComputer computes the histogram of every requested entry.
type ResultsComputer interface {
	ComputeResults(ctx context.Context, entryIDs []string) (models.Results, error)
}

// Broadcaster pushes results and score confirmations to registered connections.
// Delivery is best-effort: a failed write is logged and never retried.
type Broadcaster struct {
	registry     *Registry
	results      ResultsComputer
	writeTimeout time.Duration
}

// NewBroadcaster creates a Broadcaster over the given registry.
func NewBroadcaster(registry *Registry, results ResultsComputer, writeTimeout time.Duration) *Broadcaster {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Broadcaster{registry: registry, results: results, writeTimeout: writeTimeout}
}

// SendResults computes results for entryIDs and sends them to target, or to
// every registered connection when target is nil.
func (b *Broadcaster) SendResults(ctx context.Context, entryIDs []string, target *Handle) error {
	res, err := b.results.ComputeResults(ctx, entryIDs)
	if err != nil {
		return fmt.Errorf("computing results: %w", err)
	}

	data, err := json.Marshal(models.NewResults(res))
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}

	if target != nil {
		b.write(ctx, *target, data)
		return nil
	}
	for _, h := range b.registry.Handles() {
		b.write(ctx, h, data)
	}
	return nil
}

// SendScoreUpdate confirms a score change to every connection bound to
// identity. It returns the number of connections written to.
func (b *Broadcaster) SendScoreUpdate(ctx context.Context, identity, entryID string, score int) int {
	handles := b.registry.ConnectionsFor(identity)
	if len(handles) == 0 {
		return 0
	}

	data, err := json.Marshal(models.NewScoreUpdate(entryID, score))
	if err != nil {
		slog.ErrorContext(ctx, "encoding score update", slog.Any("error", logging.WrapError(err, "encoding score update")))
		return 0
	}

	sent := 0
	for _, h := range handles {
		if b.write(ctx, h, data) {
			sent++
		}
	}
	return sent
}

// Send encodes and writes one message to h.
func (b *Broadcaster) Send(ctx context.Context, h Handle, msg models.ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "encoding message", slog.String("type", msg.Type), slog.Any("error", err))
		return false
	}
	return b.write(ctx, h, data)
}

func (b *Broadcaster) write(ctx context.Context, h Handle, data []byte) bool {
	conn, ok := b.registry.Conn(h)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, b.writeTimeout)
	defer cancel()

	if err := conn.Write(ctx, data); err != nil {
		slog.DebugContext(ctx, "websocket write failed", slog.Uint64("conn_id", uint64(h)), slog.Any("error", err))
		return false
	}
	return true
}
