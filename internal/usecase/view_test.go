package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichat/internal/domain"
)

func TestViewFollowsEvents(t *testing.T) {
	ctx := context.Background()
	v := NewView()
	v.Reset("c1", []domain.Message{{ID: "m0", ConversationID: "c1", Role: domain.RoleUser, Body: domain.PlainText{Content: "old"}}})

	user := &domain.Message{ID: "m1", ConversationID: "c1", Role: domain.RoleUser, Body: domain.PlainText{Content: "hi"}}
	ph := &domain.Message{ID: "m2", ConversationID: "c1", Role: domain.RoleAssistant, Body: domain.Streaming{}}
	v.Apply(ctx, domain.Event{Type: domain.EventMessageCreated, ConversationID: "c1", Message: user})
	v.Apply(ctx, domain.Event{Type: domain.EventMessageCreated, ConversationID: "c1", Message: ph})

	snap := *ph
	snap.Body = domain.Streaming{Partial: "Hel"}
	v.Apply(ctx, domain.Event{Type: domain.EventMessageDelta, ConversationID: "c1", Message: &snap, Delta: "Hel"})
	msgs := v.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Hel", msgs[2].Text())
	assert.True(t, msgs[2].Loading())

	final := *ph
	final.Body = domain.PlainText{Content: "Hello"}
	v.Apply(ctx, domain.Event{Type: domain.EventMessageCompleted, ConversationID: "c1", Message: &final})
	msgs = v.Messages()
	assert.Equal(t, "Hello", msgs[2].Text())
	assert.False(t, msgs[2].Loading())
	assert.NoError(t, v.LastError())
}

func TestViewSwitchesOnNewConversation(t *testing.T) {
	ctx := context.Background()
	v := NewView()
	v.Reset("c1", []domain.Message{{ID: "m0", ConversationID: "c1"}})

	m := &domain.Message{ID: "m1", ConversationID: "c2", Role: domain.RoleUser, Body: domain.PlainText{Content: "hi"}}
	v.Apply(ctx, domain.Event{Type: domain.EventMessageCreated, ConversationID: "c2", Message: m})

	assert.Equal(t, "c2", v.ConversationID())
	require.Len(t, v.Messages(), 1)
	assert.Equal(t, "m1", v.Messages()[0].ID)
}

func TestViewFailureAndRollback(t *testing.T) {
	ctx := context.Background()
	v := NewView()
	ph := &domain.Message{ID: "m2", ConversationID: "c1", Role: domain.RoleAssistant, Body: domain.Streaming{}}
	v.Reset("c1", []domain.Message{*ph})

	boom := errors.New("boom")
	v.Apply(ctx, domain.Event{Type: domain.EventMessageDeleted, ConversationID: "c1", Message: ph})
	v.Apply(ctx, domain.Event{Type: domain.EventMessageFailed, ConversationID: "c1", Err: boom})
	assert.Empty(t, v.Messages())
	assert.Equal(t, boom, v.LastError())

	// The next submission clears the error.
	v.Apply(ctx, domain.Event{Type: domain.EventMessageCreated, ConversationID: "c1", Message: &domain.Message{ID: "m3", ConversationID: "c1"}})
	assert.NoError(t, v.LastError())
}

func TestViewIgnoresOtherConversations(t *testing.T) {
	ctx := context.Background()
	v := NewView()
	m := domain.Message{ID: "m1", ConversationID: "c1", Body: domain.Streaming{Partial: "a"}}
	v.Reset("c1", []domain.Message{m})

	other := m
	other.ConversationID = "c2"
	other.Body = domain.Streaming{Partial: "zzz"}
	v.Apply(ctx, domain.Event{Type: domain.EventMessageDelta, ConversationID: "c2", Message: &other})
	v.Apply(ctx, domain.Event{Type: domain.EventMessageDeleted, ConversationID: "c2", Message: &other})

	require.Len(t, v.Messages(), 1)
	assert.Equal(t, "a", v.Messages()[0].Text())
}

func TestViewWithOrchestrator(t *testing.T) {
	view := NewView()
	h := newHarness(t, bodyOf(sse("one", " two")), func(d *OrchestratorDeps) { d.Projection = view })

	res, err := h.orch.SendMessage(context.Background(), SendInput{Text: "count"})
	require.NoError(t, err)
	assert.Equal(t, res.ConversationID, view.ConversationID())
	stored := h.messages(t, res.ConversationID)
	shown := view.Messages()
	require.Len(t, shown, len(stored))
	for i := range stored {
		assert.Equal(t, stored[i].ID, shown[i].ID)
		assert.Equal(t, stored[i].Text(), shown[i].Text())
		assert.Equal(t, stored[i].Loading(), shown[i].Loading())
	}
}
