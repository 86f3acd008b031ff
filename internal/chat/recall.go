package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/suimate-labs/suimate/pkg/room"
)

// Embedder produces a vector for one piece of text. *embeddings.Client
// satisfies it.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

const defaultRecallTimeout = 5 * time.Second

// Recaller surfaces prior conversation turns semantically close to the
// inbound text, reaching past the recent-window snapshot the composer
// already sees. Messages without an embedding are never candidates, so
// early in a room's life recall simply returns nothing.
type Recaller struct {
	store   room.Store
	embed   Embedder
	timeout time.Duration
}

// NewRecaller creates a recaller. A zero timeout defaults to 5s.
func NewRecaller(store room.Store, embed Embedder, timeout time.Duration) *Recaller {
	if timeout <= 0 {
		timeout = defaultRecallTimeout
	}
	return &Recaller{store: store, embed: embed, timeout: timeout}
}

// Recall embeds the query text and returns the k nearest stored
// messages in the room, best match first.
func (r *Recaller) Recall(ctx context.Context, roomID, text string, k int) ([]room.SimilarMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vec, err := r.embed.EmbedOne(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed recall query: %w", err)
	}
	hits, err := r.store.SimilarMessages(ctx, roomID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("similar messages: %w", err)
	}
	return hits, nil
}
