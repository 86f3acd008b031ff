// Package room holds the conversation data model — rooms, messages, and
// the per-room rolling context — together with the Store interface and
// its Postgres and SQLite implementations.
//
// A Room owns an append-only message sequence and exactly one Context.
// Messages live in their own table; the room only references them. The
// Context is a derived cache (summary + keywords), replaced wholesale on
// each refresh cycle and never treated as source-of-truth conversation
// data.
package room

import (
	"errors"
	"time"
)

// Message roles. A role is immutable after creation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Sentinel errors returned by Store implementations.
var (
	ErrNotFound     = errors.New("room not found")
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// Room is a persisted conversation session.
type Room struct {
	ID        string
	OwnerID   string
	Title     string
	IsActive  bool
	Context   Context
	CreatedAt time.Time
	UpdatedAt time.Time

	// ChannelKey links a room to an external channel conversation
	// (e.g. a Matrix room ID). Empty for API-created rooms.
	ChannelKey string
}

// Message is a single turn in a room's conversation.
type Message struct {
	ID      string
	RoomID  string
	Role    string // RoleUser or RoleAssistant
	Content string

	// SenderID is set for user messages, empty for assistant messages.
	SenderID string

	// Embedding is attached lazily by the embed worker. Nil is valid
	// and must never block reads; messages without an embedding are
	// simply excluded from similarity search.
	Embedding []float32

	CreatedAt time.Time
}

// Context is the rolling summary/keyword cache for a room. It is
// replaced as a whole on each refresh; UserPreferences and
// ConversationStyle survive refreshes untouched.
type Context struct {
	Summary           string
	Keywords          []string
	UserPreferences   map[string]string
	ConversationStyle string
	UpdatedAt         time.Time
}

// NewContext returns the empty context a room starts with.
func NewContext() Context {
	return Context{
		Keywords:          []string{},
		UserPreferences:   map[string]string{},
		ConversationStyle: "friendly",
	}
}

// User is an account that owns rooms. Either Email (password auth) or
// WalletAddress (wallet auth) identifies it.
type User struct {
	ID            string
	Email         string
	PasswordHash  string
	WalletAddress string
	Name          string
	AuthType      string // "password", "wallet", or "channel"
	CreatedAt     time.Time
}

// SimilarMessage is a nearest-neighbor search hit.
type SimilarMessage struct {
	Message
	Score float64 // cosine similarity, higher = closer
}

// Order selects the sort direction for RecentMessages.
type Order int

const (
	// NewestFirst returns messages in reverse chronological order.
	NewestFirst Order = iota
	// OldestFirst returns messages in conversation order.
	OldestFirst
)
