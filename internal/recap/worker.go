// Package recap maintains each room's rolling context: a background
// worker summarizes recent conversation and re-derives ranked keywords,
// replacing the room context wholesale. Refresh work is detached from
// the requests that trigger it; its failures never reach the caller.
package recap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/suimate-labs/suimate/internal/llm"
	"github.com/suimate-labs/suimate/pkg/room"
)

// Completer is the completion surface the worker needs. *llm.Router
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, tier llm.Tier, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// EventSink receives refresh outcomes for observability. May be nil.
type EventSink interface {
	Emit(eventType string, fields map[string]any)
}

const (
	defaultWindow         = 10
	defaultTopKeywords    = 8
	defaultRefreshTimeout = 30 * time.Second
	queueSize             = 64
)

// Worker consumes scheduled room IDs and refreshes their contexts one
// at a time. A failed refresh is logged and published, never retried;
// the next qualifying exchange re-triggers it.
type Worker struct {
	store  room.Store
	llm    Completer
	events EventSink

	queue   chan string
	window  int
	topK    int
	timeout time.Duration
}

// NewWorker creates a refresh worker with default window, keyword count,
// and per-refresh timeout.
func NewWorker(store room.Store, completer Completer, events EventSink) *Worker {
	return &Worker{
		store:   store,
		llm:     completer,
		events:  events,
		queue:   make(chan string, queueSize),
		window:  defaultWindow,
		topK:    defaultTopKeywords,
		timeout: defaultRefreshTimeout,
	}
}

// Schedule enqueues a room for refresh. Never blocks: when the queue is
// full the request is dropped, a later exchange will re-trigger it.
func (w *Worker) Schedule(roomID string) {
	select {
	case w.queue <- roomID:
	default:
		slog.Warn("refresh queue full, dropping", "room", roomID)
	}
}

// Run consumes the queue until ctx is cancelled. Each refresh runs under
// its own timeout, independent of any request deadline.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("context refresh worker started", "window", w.window, "keywords", w.topK)
	for {
		select {
		case <-ctx.Done():
			slog.Info("context refresh worker stopped")
			return
		case roomID := <-w.queue:
			if err := w.refresh(roomID); err != nil {
				slog.Warn("context refresh failed", "room", roomID, "error", err)
				if w.events != nil {
					w.events.Emit("context_refresh_failed", map[string]any{
						"room":  roomID,
						"error": err.Error(),
					})
				}
			}
		}
	}
}

func (w *Worker) refresh(roomID string) error {
	// Detached from whatever request scheduled this.
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	rm, err := w.store.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	recent, err := w.store.RecentMessages(ctx, roomID, w.window, room.OldestFirst)
	if err != nil {
		return fmt.Errorf("load recent messages: %w", err)
	}
	if len(recent) == 0 {
		return nil
	}

	texts := make([]string, len(recent))
	var transcript strings.Builder
	for i, m := range recent {
		texts[i] = m.Content
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	summary, err := w.summarize(ctx, transcript.String())
	if err != nil {
		return fmt.Errorf("summarize conversation: %w", err)
	}

	// Summary and keywords are replaced wholesale; preferences and
	// style are owned elsewhere and carried over untouched.
	rc := room.Context{
		Summary:           summary,
		Keywords:          room.ExtractKeywords(texts, w.topK),
		UserPreferences:   rm.Context.UserPreferences,
		ConversationStyle: rm.Context.ConversationStyle,
		UpdatedAt:         time.Now().UTC(),
	}
	if err := w.store.ReplaceContext(ctx, roomID, rc); err != nil {
		return fmt.Errorf("replace context: %w", err)
	}

	slog.Debug("room context refreshed", "room", roomID, "keywords", len(rc.Keywords))
	if w.events != nil {
		w.events.Emit("context_refreshed", map[string]any{"room": roomID})
	}
	return nil
}

const summaryPrompt = `Summarize the following conversation between a user and a wallet assistant in at most three sentences. Keep concrete facts (tokens, amounts, decisions) and the user's current goal.

%s`

func (w *Worker) summarize(ctx context.Context, transcript string) (string, error) {
	resp, err := w.llm.Complete(ctx, llm.TierFast, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(summaryPrompt, transcript)},
		},
		MaxTokens: 256,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
