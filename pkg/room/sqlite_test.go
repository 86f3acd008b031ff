package room

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRoom(t *testing.T, s *SQLiteStore) *Room {
	t.Helper()
	ctx := context.Background()
	u := &User{ID: "u1", WalletAddress: "0xabc", Name: "Tester", AuthType: "wallet", CreatedAt: time.Now()}
	if err := s.CreateUser(ctx, u); err != nil && !errors.Is(err, ErrUserExists) {
		t.Fatalf("CreateUser: %v", err)
	}
	r := &Room{
		ID:        "r1",
		OwnerID:   u.ID,
		Title:     "portfolio talk",
		IsActive:  true,
		Context:   NewContext(),
		CreatedAt: time.Now(),
	}
	if err := s.CreateRoom(ctx, r); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return r
}

func TestGetRoomNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetRoom(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRoom(missing) = %v, want ErrNotFound", err)
	}
}

func TestAppendMessagesOrdering(t *testing.T) {
	s := testStore(t)
	r := testRoom(t, s)
	ctx := context.Background()

	now := time.Now()
	pair := []*Message{
		{ID: "m1", RoomID: r.ID, Role: RoleUser, Content: "what is my risk?", SenderID: "u1", CreatedAt: now},
		{ID: "m2", RoomID: r.ID, Role: RoleAssistant, Content: "let me check", CreatedAt: now},
	}
	if err := s.AppendMessages(ctx, r.ID, pair); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	n, err := s.CountMessages(ctx, r.ID)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if n != 2 {
		t.Errorf("CountMessages = %d, want 2", n)
	}

	msgs, err := s.RecentMessages(ctx, r.ID, 10, OldestFirst)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("order = [%s, %s], want [user, assistant]", msgs[0].Role, msgs[1].Role)
	}

	newest, err := s.RecentMessages(ctx, r.ID, 1, NewestFirst)
	if err != nil {
		t.Fatalf("RecentMessages newest: %v", err)
	}
	if len(newest) != 1 || newest[0].ID != "m2" {
		t.Errorf("newest = %+v, want m2", newest)
	}
}

func TestReplaceContextRoundTrip(t *testing.T) {
	s := testStore(t)
	r := testRoom(t, s)
	ctx := context.Background()

	rc := Context{
		Summary:           "user is worried about liquidation",
		Keywords:          []string{"liquidation", "portfolio", "sui"},
		UserPreferences:   map[string]string{"tone": "concise"},
		ConversationStyle: "friendly",
		UpdatedAt:         time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.ReplaceContext(ctx, r.ID, rc); err != nil {
		t.Fatalf("ReplaceContext: %v", err)
	}

	got, err := s.GetRoom(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.Context.Summary != rc.Summary {
		t.Errorf("Summary = %q, want %q", got.Context.Summary, rc.Summary)
	}
	if len(got.Context.Keywords) != 3 || got.Context.Keywords[0] != "liquidation" {
		t.Errorf("Keywords = %v, want %v", got.Context.Keywords, rc.Keywords)
	}
	if got.Context.UserPreferences["tone"] != "concise" {
		t.Errorf("UserPreferences = %v", got.Context.UserPreferences)
	}
	if !got.Context.UpdatedAt.Equal(rc.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.Context.UpdatedAt, rc.UpdatedAt)
	}
}

func TestAttachEmbeddingAndSimilarity(t *testing.T) {
	s := testStore(t)
	r := testRoom(t, s)
	ctx := context.Background()

	msgs := []*Message{
		{ID: "m1", RoomID: r.ID, Role: RoleUser, Content: "tell me about my NFTs", CreatedAt: time.Now()},
		{ID: "m2", RoomID: r.ID, Role: RoleAssistant, Content: "you hold two collections", CreatedAt: time.Now()},
		{ID: "m3", RoomID: r.ID, Role: RoleUser, Content: "what about gas fees", CreatedAt: time.Now()},
	}
	if err := s.AppendMessages(ctx, r.ID, msgs); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	pending, err := s.MessagesWithoutEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("MessagesWithoutEmbedding: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}

	// m3 deliberately left without an embedding: it must not be a candidate.
	if err := s.AttachEmbedding(ctx, "m1", []float32{1, 0, 0}); err != nil {
		t.Fatalf("AttachEmbedding: %v", err)
	}
	if err := s.AttachEmbedding(ctx, "m2", []float32{0, 1, 0}); err != nil {
		t.Fatalf("AttachEmbedding: %v", err)
	}

	hits, err := s.SimilarMessages(ctx, r.ID, []float32{0.9, 0.1, 0}, 5)
	if err != nil {
		t.Fatalf("SimilarMessages: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].ID != "m1" {
		t.Errorf("top hit = %s, want m1", hits[0].ID)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("scores not descending: %f <= %f", hits[0].Score, hits[1].Score)
	}
}

func TestUserUniqueness(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := &User{ID: "u1", Email: "a@b.c", AuthType: "password", CreatedAt: time.Now()}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	dup := &User{ID: "u2", Email: "a@b.c", AuthType: "password", CreatedAt: time.Now()}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate CreateUser = %v, want ErrUserExists", err)
	}

	got, err := s.UserByEmail(ctx, "a@b.c")
	if err != nil {
		t.Fatalf("UserByEmail: %v", err)
	}
	if got.ID != "u1" {
		t.Errorf("UserByEmail ID = %s, want u1", got.ID)
	}
	if _, err := s.UserByWallet(ctx, "0xmissing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("UserByWallet(missing) = %v, want ErrUserNotFound", err)
	}
}

func TestDeleteRoomRemovesMessages(t *testing.T) {
	s := testStore(t)
	r := testRoom(t, s)
	ctx := context.Background()

	err := s.AppendMessages(ctx, r.ID, []*Message{
		{ID: "m1", RoomID: r.ID, Role: RoleUser, Content: "hi", CreatedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	if err := s.DeleteRoom(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if _, err := s.GetRoom(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRoom after delete = %v, want ErrNotFound", err)
	}
	n, err := s.CountMessages(ctx, r.ID)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if n != 0 {
		t.Errorf("CountMessages after delete = %d, want 0", n)
	}
}
