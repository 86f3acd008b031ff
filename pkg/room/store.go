package room

import "context"

// Store is the persistence boundary for rooms, messages, and users.
//
// Implementations must make AppendMessages atomic: either every message
// in the batch becomes visible, in the given order, or none does. The
// pipeline relies on this for its user-before-assistant ordering
// guarantee under concurrent turns in the same room.
type Store interface {
	// CreateRoom persists a new room with an empty context.
	CreateRoom(ctx context.Context, r *Room) error

	// GetRoom returns a room by ID, or ErrNotFound.
	GetRoom(ctx context.Context, id string) (*Room, error)

	// RoomByChannelKey returns the room bound to an external channel
	// conversation, or ErrNotFound.
	RoomByChannelKey(ctx context.Context, key string) (*Room, error)

	// ListRooms returns all rooms owned by a user, newest first.
	ListRooms(ctx context.Context, ownerID string) ([]*Room, error)

	// DeleteRoom removes a room and its messages.
	DeleteRoom(ctx context.Context, id string) error

	// AppendMessages appends the batch to the room's sequence as one
	// atomic unit, preserving slice order.
	AppendMessages(ctx context.Context, roomID string, msgs []*Message) error

	// RecentMessages returns up to limit messages for a room in the
	// requested order.
	RecentMessages(ctx context.Context, roomID string, limit int, order Order) ([]*Message, error)

	// CountMessages returns the number of messages in a room.
	CountMessages(ctx context.Context, roomID string) (int, error)

	// ReplaceContext overwrites the room's context wholesale.
	ReplaceContext(ctx context.Context, roomID string, rc Context) error

	// MessagesWithoutEmbedding returns up to limit messages that have
	// no embedding yet, oldest first. Used by the embed worker.
	MessagesWithoutEmbedding(ctx context.Context, limit int) ([]*Message, error)

	// AttachEmbedding sets a message's embedding after the fact. This
	// is the only permitted mutation of a persisted message.
	AttachEmbedding(ctx context.Context, messageID string, embedding []float32) error

	// SimilarMessages returns the k nearest messages in a room by
	// cosine similarity, ties broken by recency. Messages without an
	// embedding are not candidates.
	SimilarMessages(ctx context.Context, roomID string, embedding []float32, k int) ([]SimilarMessage, error)

	// CreateUser persists a new user, or returns ErrUserExists.
	CreateUser(ctx context.Context, u *User) error

	// GetUser returns a user by ID, or ErrUserNotFound.
	GetUser(ctx context.Context, id string) (*User, error)

	// UserByEmail returns a user by email, or ErrUserNotFound.
	UserByEmail(ctx context.Context, email string) (*User, error)

	// UserByWallet returns a user by wallet address, or ErrUserNotFound.
	UserByWallet(ctx context.Context, address string) (*User, error)

	Close() error
}
