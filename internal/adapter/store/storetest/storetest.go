// Package storetest is a behavioural test suite every domain.Store
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichat/internal/domain"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) domain.Store

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s domain.Store)
	}{
		{"ConversationCRUD", testConversationCRUD},
		{"CreateDuplicateConversation", testCreateDuplicateConversation},
		{"AddMessageUpdatesAggregates", testAddMessageUpdatesAggregates},
		{"AddMessageUnknownConversation", testAddMessageUnknownConversation},
		{"AddMessageDuplicate", testAddMessageDuplicate},
		{"MessageBodies", testMessageBodies},
		{"UpdateSeqGuard", testUpdateSeqGuard},
		{"UpdateMissingMessage", testUpdateMissingMessage},
		{"DeleteMessageRecomputes", testDeleteMessageRecomputes},
		{"DeleteConversationCascades", testDeleteConversationCascades},
		{"ListConversationsByActivity", testListConversationsByActivity},
		{"PagingAndLatest", testPagingAndLatest},
		{"Search", testSearch},
		{"ClearConversation", testClearConversation},
		{"State", testState},
		{"ExportImportRoundTrip", testExportImportRoundTrip},
		{"ImportRejectsDuplicates", testImportRejectsDuplicates},
		{"ImportRejectsOrphans", testImportRejectsOrphans},
		{"ClearAllAndStats", testClearAllAndStats},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func newConversation(t *testing.T, s domain.Store, id string) *domain.Conversation {
	t.Helper()
	c := &domain.Conversation{
		ID:        id,
		Name:      "conv " + id,
		CreatedAt: base,
		UpdatedAt: base,
		Model:     "gpt-4o",
		Provider:  "p1",
	}
	require.NoError(t, s.CreateConversation(context.Background(), c))
	return c
}

func addMessage(t *testing.T, s domain.Store, convID, id, role, text string, ts time.Time) *domain.Message {
	t.Helper()
	m := &domain.Message{
		ID:             id,
		ConversationID: convID,
		Role:           role,
		Body:           domain.PlainText{Content: text},
		Timestamp:      ts,
	}
	require.NoError(t, s.AddMessage(context.Background(), m))
	return m
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func testConversationCRUD(t *testing.T, s domain.Store) {
	ctx := context.Background()
	newConversation(t, s, "c1")

	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "conv c1", got.Name)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, "p1", got.Provider)
	assert.True(t, got.CreatedAt.Equal(base))
	assert.Zero(t, got.MessageCount)
	assert.Nil(t, got.LastMessageAt)

	name, model := "renamed", "claude"
	require.NoError(t, s.UpdateConversation(ctx, "c1", domain.ConversationPatch{Name: &name, Model: &model}))
	got, err = s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "claude", got.Model)
	assert.Equal(t, "p1", got.Provider)
	assert.True(t, got.UpdatedAt.After(base))

	err = s.UpdateConversation(ctx, "missing", domain.ConversationPatch{Name: &name})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.DeleteConversation(ctx, "c1"))
	_, err = s.GetConversation(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteConversation(ctx, "c1"), domain.ErrNotFound)
}

func testCreateDuplicateConversation(t *testing.T, s domain.Store) {
	newConversation(t, s, "c1")
	err := s.CreateConversation(context.Background(), &domain.Conversation{ID: "c1", CreatedAt: base, UpdatedAt: base})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	err = s.CreateConversation(context.Background(), &domain.Conversation{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func testAddMessageUpdatesAggregates(t *testing.T, s domain.Store) {
	ctx := context.Background()
	newConversation(t, s, "c1")
	addMessage(t, s, "c1", "m1", domain.RoleUser, "hi", base.Add(time.Minute))
	addMessage(t, s, "c1", "m2", domain.RoleAssistant, "hello", base.Add(2*time.Minute))

	c, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.MessageCount)
	require.NotNil(t, c.LastMessageAt)
	assert.True(t, c.LastMessageAt.Equal(base.Add(2*time.Minute)))
}

func testAddMessageUnknownConversation(t *testing.T, s domain.Store) {
	err := s.AddMessage(context.Background(), &domain.Message{
		ID: "m1", ConversationID: "nope", Role: domain.RoleUser,
		Body: domain.PlainText{Content: "x"}, Timestamp: base,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testAddMessageDuplicate(t *testing.T, s domain.Store) {
	ctx := context.Background()
	newConversation(t, s, "c1")
	addMessage(t, s, "c1", "m1", domain.RoleUser, "hi", base)

	err := s.AddMessage(ctx, &domain.Message{
		ID: "m1", ConversationID: "c1", Role: domain.RoleUser,
		Body: domain.PlainText{Content: "again"}, Timestamp: base,
	})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	c, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.MessageCount)
}

func testMessageBodies(t *testing.T, s domain.Store) {
	ctx := context.Background()
	newConversation(t, s, "c1")
	img := domain.Image{Name: "a.png", MIMEType: "image/png", Data: "aGVsbG8="}

	msgs := []*domain.Message{
		{ID: "m1", ConversationID: "c1", Role: domain.RoleUser, Body: domain.WithImages{Content: "look", Images: []domain.Image{img}}, Timestamp: base},
		{ID: "m2", ConversationID: "c1", Role: domain.RoleAssistant, Body: domain.Streaming{Partial: "par"}, Timestamp: base.Add(time.Second), Model: "gpt-4o", Provider: "p1"},
		{ID: "m3", ConversationID: "c1", Role: domain.RoleAssistant, Body: domain.PlainText{Content: "partial"}, Timestamp: base.Add(2 * time.Second), Error: "boom"},
	}
	for _, m := range msgs {
		require.NoError(t, s.AddMessage(ctx, m))
	}

	got, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.WithImages{Content: "look", Images: []domain.Image{img}}, got.Body)
	assert.True(t, got.Timestamp.Equal(base))

	got, err = s.GetMessage(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, domain.Streaming{Partial: "par"}, got.Body)
	assert.True(t, got.Loading())
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, "p1", got.Provider)

	got, err = s.GetMessage(ctx, "m3")
	require.NoError(t, err)
	assert.Equal(t, domain.PlainText{Content: "partial"}, got.Body)
	assert.Equal(t, "boom", got.Error)

	_, err = s.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testUpdateSeqGuard(t *testing.T, s domain.Store) {
	ctx := context.Background()
	newConversation(t, s, "c1")
	require.NoError(t, s.AddMessage(ctx, &domain.Message{
		ID: "m1", ConversationID: "c1", Role: domain.RoleAssistant,
		Body: domain.Streaming{}, Timestamp: base,
	}))

	applied, err := s.UpdateMessage(ctx, domain.MessageUpdate{ID: "m1", Body: domain.Streaming{Partial: "ab"}, Seq: 2})
	require.NoError(t, err)
	assert.True(t, applied)

	// An older write arriving late must not overwrite newer content.
	applied, err = s.UpdateMessage(ctx, domain.MessageUpdate{ID: "m1", Body: domain.Streaming{Partial: "a"}, Seq: 1})
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.UpdateMessage(ctx, domain.MessageUpdate{ID: "m1", Body: domain.Streaming{Partial: "x"}, Seq: 2})
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.UpdateMessage(ctx, domain.MessageUpdate{ID: "m1", Body: domain.PlainText{Content: "abc"}, Seq: 3})
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.PlainText{Content: "abc"}, got.Body)
	assert.False(t, got.Loading())
	assert.Equal(t, uint64(3), got.Seq)
}

func testUpdateMissingMessage(t *testing.T, s domain.Store) {
	_, err := s.UpdateMessage(context.Background(), domain.MessageUpdate{ID: "nope", Body: domain.PlainText{}, Seq: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testDeleteMessageRecomputes(t *testing.T, s domain.Store) {
	ctx := context.Background()
	newConversation(t, s, "c1")
	addMessage(t, s, "c1", "m1", domain.RoleUser, "a", base.Add(time.Minute))
	addMessage(t, s, "c1", "m2", domain.RoleAssistant, "b", base.Add(2*time.Minute))

	require.NoError(t, s.DeleteMessage(ctx, "m2"))
	c, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.MessageCount)
	require.NotNil(t, c.LastMessageAt)
	assert.True(t, c.LastMessageAt.Equal(base.Add(time.Minute)))

	require.NoError(t, s.DeleteMessage(ctx, "m1"))
	c, err = s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, c.MessageCount)
	assert.Nil(t, c.LastMessageAt)

	assert.ErrorIs(t, s.DeleteMessage(ctx, "m1"), domain.ErrNotFound)
}

func testDeleteConversationCascades(t *testing.T, s domain.Store) {
	ctx := context.Background()
	newConversation(t, s, "c1")
	newConversation(t, s, "c2")
	addMessage(t, s, "c1", "m1", domain.RoleUser, "a", base)
	addMessage(t, s, "c1", "m2", domain.RoleAssistant, "b", base.Add(time.Second))
	addMessage(t, s, "c2", "m3", domain.RoleUser, "c", base)

	require.NoError(t, s.DeleteConversation(ctx, "c1"))

	for _, id := range []string{"m1", "m2"} {
		_, err := s.GetMessage(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound, id)
	}
	rest, err := s.ListMessages(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, []string{"m3"}, ids(rest))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ConversationCount)
	assert.Equal(t, 1, stats.MessageCount)
}

func testListConversationsByActivity(t *testing.T, s domain.Store) {
	ctx := context.Background()
	newConversation(t, s, "old")
	newConversation(t, s, "new")
	newConversation(t, s, "empty")
	addMessage(t, s, "old", "m1", domain.RoleUser, "a", base.Add(-time.Hour))
	addMessage(t, s, "new", "m2", domain.RoleUser, "b", base.Add(-time.Minute))

	// "empty" has no messages and falls back to its updated_at, which is
	// later than both message timestamps.
	convs, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 3)
	assert.Equal(t, []string{"empty", "new", "old"}, []string{convs[0].ID, convs[1].ID, convs[2].ID})
}

func testPagingAndLatest(t *testing.T, s domain.Store) {
	ctx := context.Background()
	newConversation(t, s, "c1")
	var want []string
	for i := range 5 {
		id := fmt.Sprintf("m%d", i)
		addMessage(t, s, "c1", id, domain.RoleUser, id, base.Add(time.Duration(i)*time.Second))
		want = append(want, id)
	}

	all, err := s.ListMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, want, ids(all))

	page, err := s.ListMessagesPage(ctx, "c1", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids(page))

	page, err = s.ListMessagesPage(ctx, "c1", 10, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"m4"}, ids(page))

	page, err = s.ListMessagesPage(ctx, "c1", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	latest, err := s.LatestMessages(ctx, "c1", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3", "m4"}, ids(latest))

	latest, err = s.LatestMessages(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, latest)

	latest, err = s.LatestMessages(ctx, "c1", 50)
	require.NoError(t, err)
	assert.Equal(t, want, ids(latest))

	none, err := s.ListMessages(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testSearch(t *testing.T, s domain.Store) {
	ctx := context.Background()
	newConversation(t, s, "c1")
	newConversation(t, s, "c2")
	addMessage(t, s, "c1", "m1", domain.RoleUser, "Tell me about Go", base)
	addMessage(t, s, "c1", "m2", domain.RoleAssistant, "Go is a language", base.Add(time.Second))
	addMessage(t, s, "c1", "m3", domain.RoleUser, "thanks", base.Add(2*time.Second))
	addMessage(t, s, "c2", "m4", domain.RoleUser, "go fish", base)

	got, err := s.SearchMessages(ctx, "c1", "go")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids(got))

	got, err = s.SearchMessages(ctx, "", "GO")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2", "m4"}, ids(got))

	got, err = s.SearchMessages(ctx, "c1", "absent")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testClearConversation(t *testing.T, s domain.Store) {
	ctx := context.Background()
	newConversation(t, s, "c1")
	addMessage(t, s, "c1", "m1", domain.RoleUser, "a", base)
	addMessage(t, s, "c1", "m2", domain.RoleUser, "b", base.Add(time.Second))

	require.NoError(t, s.ClearConversation(ctx, "c1"))
	msgs, err := s.ListMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	c, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, c.MessageCount)
	assert.Nil(t, c.LastMessageAt)

	assert.ErrorIs(t, s.ClearConversation(ctx, "missing"), domain.ErrNotFound)
}

func testState(t *testing.T, s domain.Store) {
	ctx := context.Background()
	_, err := s.LoadState(ctx, "app")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.SaveState(ctx, "app", []byte(`{"v":1}`)))
	require.NoError(t, s.SaveState(ctx, "app", []byte(`{"v":2}`)))
	got, err := s.LoadState(ctx, "app")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
}

func seed(t *testing.T, s domain.Store) {
	t.Helper()
	newConversation(t, s, "c1")
	newConversation(t, s, "c2")
	addMessage(t, s, "c1", "m1", domain.RoleUser, "question", base.Add(time.Minute))
	addMessage(t, s, "c1", "m2", domain.RoleAssistant, "answer", base.Add(2*time.Minute))
	require.NoError(t, s.AddMessage(context.Background(), &domain.Message{
		ID: "m3", ConversationID: "c2", Role: domain.RoleUser,
		Body:      domain.WithImages{Content: "pic", Images: []domain.Image{{Name: "x.png", MIMEType: "image/png", Data: "AAAA"}}},
		Timestamp: base.Add(3 * time.Minute),
	}))
}

func testExportImportRoundTrip(t *testing.T, s domain.Store) {
	ctx := context.Background()
	seed(t, s)

	dump, err := s.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DumpVersion, dump.Version)
	assert.Len(t, dump.Conversations, 2)
	assert.Len(t, dump.Messages, 3)
	assert.False(t, dump.ExportedAt.IsZero())

	before := map[string]domain.Conversation{}
	for _, c := range dump.Conversations {
		before[c.ID] = c
	}

	require.NoError(t, s.ClearAll(ctx))
	require.NoError(t, s.Import(ctx, dump))

	again, err := s.Export(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids(dump.Messages), ids(again.Messages))
	require.Len(t, again.Conversations, 2)
	for _, c := range again.Conversations {
		want := before[c.ID]
		assert.Equal(t, want.Name, c.Name)
		assert.Equal(t, want.MessageCount, c.MessageCount)
		assert.True(t, want.UpdatedAt.Equal(c.UpdatedAt), "updated_at of %s", c.ID)
		require.NotNil(t, c.LastMessageAt)
		assert.True(t, want.LastMessageAt.Equal(*c.LastMessageAt))
	}

	m3, err := s.GetMessage(ctx, "m3")
	require.NoError(t, err)
	assert.Len(t, domain.BodyImages(m3.Body), 1)
}

func testImportRejectsDuplicates(t *testing.T, s domain.Store) {
	ctx := context.Background()
	seed(t, s)
	dump, err := s.Export(ctx)
	require.NoError(t, err)

	err = s.Import(ctx, dump)
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ConversationCount)
	assert.Equal(t, 3, stats.MessageCount)
}

func testImportRejectsOrphans(t *testing.T, s domain.Store) {
	ctx := context.Background()
	dump := &domain.Dump{
		Version: domain.DumpVersion,
		Conversations: []domain.Conversation{
			{ID: "c1", Name: "one", CreatedAt: base, UpdatedAt: base},
		},
		Messages: []domain.Message{
			{ID: "m1", ConversationID: "c1", Role: domain.RoleUser, Body: domain.PlainText{Content: "ok"}, Timestamp: base},
			{ID: "m2", ConversationID: "ghost", Role: domain.RoleUser, Body: domain.PlainText{Content: "lost"}, Timestamp: base},
		},
	}
	err := s.Import(ctx, dump)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Nothing from the failed import is kept.
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.ConversationCount)
	assert.Zero(t, stats.MessageCount)

	err = s.Import(ctx, &domain.Dump{Version: domain.DumpVersion + 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func testClearAllAndStats(t *testing.T, s domain.Store) {
	ctx := context.Background()
	seed(t, s)
	require.NoError(t, s.SaveState(ctx, "app", []byte("x")))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ConversationCount)
	assert.Equal(t, 3, stats.MessageCount)
	assert.Positive(t, stats.TotalSize)

	require.NoError(t, s.ClearAll(ctx))
	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.ConversationCount)
	assert.Zero(t, stats.MessageCount)

	state, err := s.LoadState(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), state)
}
