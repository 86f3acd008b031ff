// Package channel abstracts inbound chat transports. A channel delivers
// user messages into the pipeline and carries replies back; the
// pipeline never knows which transport a conversation arrived on.
package channel

import "context"

// Message is an inbound user message from any transport.
type Message struct {
	// Source identifies the transport ("matrix", "http").
	Source string

	// SenderID is the transport-specific sender identifier.
	SenderID string

	// ConversationID is the transport-specific conversation identifier.
	// Combined with Source it forms the key binding the conversation to
	// a persistent room.
	ConversationID string

	// Content is the message text.
	Content string

	// Timestamp is the transport timestamp in milliseconds.
	Timestamp int64
}

// Key returns the room-binding key for this conversation.
func (m Message) Key() string {
	return m.Source + ":" + m.ConversationID
}

// Response is an outbound reply.
type Response struct {
	ConversationID string
	Content        string
}

// Handler is invoked for each inbound message.
type Handler func(ctx context.Context, msg Message) error

// Channel is one chat transport.
type Channel interface {
	// Name returns the transport identifier.
	Name() string

	// Start listens for messages, dispatching each to handler. Blocks
	// until ctx is cancelled.
	Start(ctx context.Context, handler Handler) error

	// Send delivers a reply to a conversation on this transport.
	Send(ctx context.Context, resp Response) error

	// Stop shuts the transport down.
	Stop() error
}
