package domain

import (
	"context"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventMessageCreated      EventType = "message.created"
	EventMessageDelta        EventType = "message.delta"
	EventMessageCompleted    EventType = "message.completed"
	EventMessageFailed       EventType = "message.failed"
	EventMessageDeleted      EventType = "message.deleted"
	EventConversationUpdated EventType = "conversation.updated"
)

// Event is the envelope delivered to projections. Message is a snapshot of
// the affected message; Delta carries the newly decoded text for
// EventMessageDelta.
type Event struct {
	Type           EventType
	Timestamp      time.Time
	ConversationID string
	Message        *Message
	Delta          string
	Err            error
}

// Projection consumes orchestrator events. Apply is called synchronously and
// in the order events occur; implementations must not block for long.
type Projection interface {
	Apply(ctx context.Context, event Event)
}

// ProjectionFunc adapts a function to Projection.
type ProjectionFunc func(ctx context.Context, event Event)

// Apply implements Projection.
func (f ProjectionFunc) Apply(ctx context.Context, event Event) { f(ctx, event) }
