package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/suimate-labs/suimate/internal/intent"
	"github.com/suimate-labs/suimate/pkg/room"
)

// IntentClassifier labels a message. Never fails outward.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) intent.Intent
}

// DataFetcher gathers domain data. Always returns usable Data.
type DataFetcher interface {
	Fetch(ctx context.Context, kind Kind, wallet string) *Data
}

// ReplyComposer builds the reply text. Errors are converted to a canned
// apology by the pipeline, never propagated to the caller.
type ReplyComposer interface {
	Compose(ctx context.Context, it intent.Intent, data *Data, convContext string) (string, error)
}

// ContextRefresher schedules a background room-context refresh. Schedule
// must not block.
type ContextRefresher interface {
	Schedule(roomID string)
}

// MemoryRecaller retrieves prior messages semantically close to the
// inbound text, beyond the recent window. A failure degrades the
// exchange to recent-window context only.
type MemoryRecaller interface {
	Recall(ctx context.Context, roomID, text string, k int) ([]room.SimilarMessage, error)
}

const (
	defaultRefreshThreshold = 5
	defaultContextWindow    = 10
	defaultRecallK          = 3
)

// Pipeline drives one message exchange: validate room, classify,
// aggregate, compose, persist user+assistant as a unit, then hand off a
// context refresh without blocking the caller. Only a missing room or a
// failed append surface as errors.
type Pipeline struct {
	store      room.Store
	classifier IntentClassifier
	fetcher    DataFetcher
	composer   ReplyComposer
	refresher  ContextRefresher
	recaller   MemoryRecaller

	// refresh fires when the message count before the current exchange
	// strictly exceeds this.
	refreshThreshold int
	contextWindow    int
}

// NewPipeline wires the pipeline's collaborators. refresher may be nil
// to disable background refresh.
func NewPipeline(store room.Store, classifier IntentClassifier, fetcher DataFetcher, composer ReplyComposer, refresher ContextRefresher) *Pipeline {
	return &Pipeline{
		store:            store,
		classifier:       classifier,
		fetcher:          fetcher,
		composer:         composer,
		refresher:        refresher,
		refreshThreshold: defaultRefreshThreshold,
		contextWindow:    defaultContextWindow,
	}
}

// SetRefreshThreshold overrides the default refresh trigger threshold.
func (p *Pipeline) SetRefreshThreshold(n int) {
	if n > 0 {
		p.refreshThreshold = n
	}
}

// SetRecaller enables semantic recall of prior messages during
// composition. Without one the composer sees recent-window context only.
func (p *Pipeline) SetRecaller(r MemoryRecaller) {
	p.recaller = r
}

// HandleMessage runs one exchange and returns the persisted assistant
// message.
func (p *Pipeline) HandleMessage(ctx context.Context, roomID, wallet, senderID, text string) (*room.Message, error) {
	start := time.Now()

	// Validating
	rm, err := p.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("validate room: %w", err)
	}

	// Snapshot the conversation state before this exchange appends
	// anything, so the context never references the incomplete turn.
	priorCount, err := p.store.CountMessages(ctx, roomID)
	if err != nil {
		slog.Warn("message count unavailable, refresh check skipped", "room", roomID, "error", err)
		priorCount = -1
	}
	recent, err := p.store.RecentMessages(ctx, roomID, p.contextWindow, room.OldestFirst)
	if err != nil {
		slog.Warn("recent messages unavailable", "room", roomID, "error", err)
	}

	// Semantic recall pulls related turns from beyond the recent window.
	// It degrades silently: the recent window alone is always enough to
	// answer.
	var related []room.SimilarMessage
	if p.recaller != nil {
		related, err = p.recaller.Recall(ctx, roomID, text, defaultRecallK)
		if err != nil {
			slog.Warn("semantic recall degraded", "room", roomID, "error", err)
			related = nil
		}
	}

	// Classifying: always yields exactly one label.
	it := p.classifier.Classify(ctx, text)

	// Aggregating: skipped unless the intent needs wallet data.
	var data *Data
	if it.NeedsDomainData() {
		data = p.fetcher.Fetch(ctx, KindForIntent(it), wallet)
	}

	// Composing: a composer failure degrades to the canned apology so
	// the assistant always answers.
	reply, err := p.composer.Compose(ctx, it, data, conversationContext(rm, recent, related))
	if err != nil {
		slog.Warn("composition degraded", "room", roomID, "intent", it, "error", err)
		reply = apologyText
	}

	// Persisting: user before assistant, both or neither.
	now := time.Now().UTC()
	userMsg := room.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Role:      room.RoleUser,
		Content:   text,
		SenderID:  senderID,
		CreatedAt: now,
	}
	assistantMsg := room.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Role:      room.RoleAssistant,
		Content:   reply,
		CreatedAt: now,
	}
	if err := p.store.AppendMessages(ctx, roomID, []*room.Message{&userMsg, &assistantMsg}); err != nil {
		return nil, fmt.Errorf("persist exchange: %w", err)
	}

	// Completed: hand off the refresh check without blocking.
	if p.refresher != nil && priorCount > p.refreshThreshold {
		p.refresher.Schedule(roomID)
	}

	slog.Info("exchange completed",
		"room", roomID,
		"intent", it,
		"elapsed", time.Since(start),
	)
	return &assistantMsg, nil
}

// conversationContext flattens the room summary, recalled turns, and
// recent turns into the free-text context the composer embeds in its
// prompt. Recalled messages already inside the recent window are
// dropped so no turn appears twice.
func conversationContext(rm *room.Room, recent []*room.Message, related []room.SimilarMessage) string {
	var b strings.Builder
	if rm.Context.Summary != "" {
		b.WriteString("Summary: ")
		b.WriteString(rm.Context.Summary)
		b.WriteString("\n")
	}
	if len(rm.Context.Keywords) > 0 {
		b.WriteString("Topics: ")
		b.WriteString(strings.Join(rm.Context.Keywords, ", "))
		b.WriteString("\n")
	}

	inWindow := make(map[string]struct{}, len(recent))
	for _, m := range recent {
		inWindow[m.ID] = struct{}{}
	}
	wroteHeader := false
	for _, h := range related {
		if _, dup := inWindow[h.ID]; dup {
			continue
		}
		if !wroteHeader {
			b.WriteString("Related earlier messages:\n")
			wroteHeader = true
		}
		fmt.Fprintf(&b, "%s: %s\n", h.Role, h.Content)
	}

	for _, m := range recent {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimSpace(b.String())
}
