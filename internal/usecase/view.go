package usecase

import (
	"context"
	"slices"
	"sync"

	"aichat/internal/domain"
)

var _ domain.Projection = (*View)(nil)

// View is the in-memory message list of the conversation on screen. It is
// kept current by orchestrator events and is safe for concurrent use.
type View struct {
	mu             sync.RWMutex
	conversationID string
	messages       []domain.Message
	lastErr        error
}

// NewView returns an empty view.
func NewView() *View { return &View{} }

// Reset shows conversationID with the given messages.
func (v *View) Reset(conversationID string, msgs []domain.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.conversationID = conversationID
	v.messages = slices.Clone(msgs)
	v.lastErr = nil
}

// Apply implements domain.Projection. A message created in another
// conversation switches the view to it.
func (v *View) Apply(_ context.Context, e domain.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch e.Type {
	case domain.EventMessageCreated:
		if e.Message == nil {
			return
		}
		if e.ConversationID != v.conversationID {
			v.conversationID = e.ConversationID
			v.messages = nil
		}
		v.lastErr = nil
		v.messages = append(v.messages, *e.Message)
	case domain.EventMessageDelta, domain.EventMessageCompleted:
		v.replace(e)
	case domain.EventMessageFailed:
		v.replace(e)
		v.lastErr = e.Err
	case domain.EventMessageDeleted:
		if e.Message != nil && e.ConversationID == v.conversationID {
			v.messages = slices.DeleteFunc(v.messages, func(m domain.Message) bool { return m.ID == e.Message.ID })
		}
	}
	if e.Type == domain.EventMessageCompleted && e.Err != nil {
		v.lastErr = e.Err
	}
}

// replace swaps in the message snapshot carried by e. Caller holds mu.
func (v *View) replace(e domain.Event) {
	if e.Message == nil || e.ConversationID != v.conversationID {
		return
	}
	for i := range v.messages {
		if v.messages[i].ID == e.Message.ID {
			v.messages[i] = *e.Message
			return
		}
	}
}

// ConversationID returns the conversation shown, or "".
func (v *View) ConversationID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.conversationID
}

// Messages returns a copy of the visible messages.
func (v *View) Messages() []domain.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.messages)
}

// LastError returns the error of the most recent failed request, cleared by
// the next submission.
func (v *View) LastError() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastErr
}
