package embeddings

import (
	"context"
	"log/slog"
	"time"

	"github.com/suimate-labs/suimate/pkg/room"
)

// Embedder produces vectors for texts. *Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const (
	defaultSweepInterval = 30 * time.Second
	defaultBatchSize     = 32
)

// Worker periodically embeds messages that were persisted without a
// vector. Embedding is lazy: message reads never wait for it, and a
// message missing its vector simply stays out of similarity recall.
type Worker struct {
	store    room.Store
	embedder Embedder
	interval time.Duration
	batch    int
}

// NewWorker creates an attach worker with default interval and batch
// size.
func NewWorker(store room.Store, embedder Embedder) *Worker {
	return &Worker{
		store:    store,
		embedder: embedder,
		interval: defaultSweepInterval,
		batch:    defaultBatchSize,
	}
}

// Run sweeps on an interval until ctx is cancelled. Sweep failures are
// logged; the next tick retries naturally.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("embedding worker started", "interval", w.interval, "batch", w.batch)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("embedding worker stopped")
			return
		case <-ticker.C:
			if n, err := w.sweep(ctx); err != nil {
				slog.Warn("embedding sweep failed", "error", err)
			} else if n > 0 {
				slog.Debug("embeddings attached", "count", n)
			}
		}
	}
}

// sweep embeds one batch of pending messages and attaches the vectors.
// Returns how many messages were embedded.
func (w *Worker) sweep(ctx context.Context) (int, error) {
	pending, err := w.store.MessagesWithoutEmbedding(ctx, w.batch)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, m := range pending {
		texts[i] = m.Content
	}
	vectors, err := w.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	attached := 0
	for i, m := range pending {
		if err := w.store.AttachEmbedding(ctx, m.ID, vectors[i]); err != nil {
			// Leave the rest of the batch for the next sweep.
			slog.Warn("attach embedding failed", "message", m.ID, "error", err)
			continue
		}
		attached++
	}
	return attached, nil
}
