package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MessageStore persists messages. Inserts and deletes recompute the owning
// conversation's aggregates in the same transaction.
type MessageStore interface {
	AddMessage(ctx context.Context, msg *Message) error
	// UpdateMessage applies u when u.Seq is greater than the stored sequence.
	// It reports whether the write was applied.
	UpdateMessage(ctx context.Context, u MessageUpdate) (bool, error)
	DeleteMessage(ctx context.Context, id string) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	// ListMessages returns the conversation's messages oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	ListMessagesPage(ctx context.Context, conversationID string, limit, offset int) ([]Message, error)
	// LatestMessages returns the newest n messages in chronological order.
	LatestMessages(ctx context.Context, conversationID string, n int) ([]Message, error)
	SearchMessages(ctx context.Context, conversationID, query string) ([]Message, error)
	ClearConversation(ctx context.Context, conversationID string) error
}

// ConversationStore persists conversations.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// ListConversations returns conversations most recently active first.
	ListConversations(ctx context.Context) ([]Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch ConversationPatch) error
	// DeleteConversation removes the conversation and all its messages atomically.
	DeleteConversation(ctx context.Context, id string) error
	RecomputeConversation(ctx context.Context, id string) error
}

// StateStore is a small key-value area for application state snapshots.
type StateStore interface {
	LoadState(ctx context.Context, key string) ([]byte, error)
	SaveState(ctx context.Context, key string, value []byte) error
}

// Dump is the backup format shared by export and import.
type Dump struct {
	Conversations []Conversation `json:"conversations"`
	Messages      []Message      `json:"messages"`
	ExportedAt    time.Time      `json:"exportedAt"`
	Version       int            `json:"version"`
}

// DumpVersion is the current backup format version.
const DumpVersion = 1

// ValidateDump checks a backup before it is imported.
func ValidateDump(d *Dump) error {
	if d == nil {
		return fmt.Errorf("%w: empty backup", ErrValidation)
	}
	if d.Version > DumpVersion {
		return fmt.Errorf("%w: backup version %d is newer than supported version %d", ErrValidation, d.Version, DumpVersion)
	}
	for _, c := range d.Conversations {
		if c.ID == "" {
			return fmt.Errorf("%w: conversation without id", ErrValidation)
		}
	}
	for _, m := range d.Messages {
		if m.ID == "" || m.ConversationID == "" {
			return fmt.Errorf("%w: message without id or conversation id", ErrValidation)
		}
		if !ValidRole(m.Role) {
			return fmt.Errorf("%w: message %q has role %q", ErrValidation, m.ID, m.Role)
		}
	}
	return nil
}

// DumpSize estimates the storage footprint as the length of the JSON
// encoding of all records.
func DumpSize(convs []Conversation, msgs []Message) (int, error) {
	data, err := json.Marshal(struct {
		Conversations []Conversation `json:"conversations"`
		Messages      []Message      `json:"messages"`
	}{convs, msgs})
	if err != nil {
		return 0, fmt.Errorf("estimate size: %w", err)
	}
	return len(data), nil
}

// StoreStats summarises the store contents.
type StoreStats struct {
	ConversationCount int
	MessageCount      int
	TotalSize         int // rough size of the exported JSON in bytes
}

// Store is the local database used by the chat core.
type Store interface {
	MessageStore
	ConversationStore
	StateStore
	Export(ctx context.Context) (*Dump, error)
	Import(ctx context.Context, dump *Dump) error
	ClearAll(ctx context.Context) error
	Stats(ctx context.Context) (StoreStats, error)
	Close() error
}
