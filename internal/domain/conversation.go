package domain

import (
	"sort"
	"time"
)

// Conversation is the lightweight record of a chat thread. MessageCount and
// LastMessageAt are derived from the message set and never set by hand.
type Conversation struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	Model         string     `json:"model,omitempty"`
	Provider      string     `json:"provider,omitempty"`
	MessageCount  int        `json:"messageCount"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

// LastActivity is LastMessageAt when known, otherwise UpdatedAt.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.UpdatedAt
}

// ConversationPatch lists the mutable fields of a conversation. Nil fields
// are left untouched.
type ConversationPatch struct {
	Name     *string
	Model    *string
	Provider *string
}

// Aggregate computes the derived conversation fields from its messages.
func Aggregate(msgs []Message) (count int, last *time.Time) {
	for i := range msgs {
		ts := msgs[i].Timestamp
		if last == nil || ts.After(*last) {
			t := ts
			last = &t
		}
	}
	return len(msgs), last
}

// SortByActivity orders conversations most recently active first, newest ID
// first on ties.
func SortByActivity(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i].LastActivity(), convs[j].LastActivity()
		if a.Equal(b) {
			return convs[i].ID > convs[j].ID
		}
		return a.After(b)
	})
}

// SortByTimestamp orders messages oldest first. Equal timestamps fall back to
// the ID, which is a ULID and therefore creation ordered.
func SortByTimestamp(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
