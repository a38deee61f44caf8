package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichat/internal/adapter/store/storetest"
	"aichat/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chat.db"), nil)
	require.NoError(t, err)
	return s
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store { return newTestStore(t) })
}

func TestContractInMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store {
		s, err := Open(":memory:", nil)
		require.NoError(t, err)
		return s
	})
}

func TestMigrateSetsVersion(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	var v int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&v))
	assert.Equal(t, schemaVersion, v)

	// Running again on an up-to-date database is a no-op.
	require.NoError(t, migrate(s.db))
}

func TestMigrateRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path, nil)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "chat.db")
	ts := time.Date(2025, 5, 6, 7, 8, 9, 123456789, time.UTC)

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateConversation(ctx, &domain.Conversation{ID: "c1", Name: "kept", CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, s.AddMessage(ctx, &domain.Message{
		ID: "m1", ConversationID: "c1", Role: domain.RoleUser,
		Body: domain.PlainText{Content: "hello"}, Timestamp: ts,
	}))
	require.NoError(t, s.SaveState(ctx, "app", []byte(`{}`)))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	c, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "kept", c.Name)
	assert.Equal(t, 1, c.MessageCount)
	require.NotNil(t, c.LastMessageAt)
	assert.True(t, c.LastMessageAt.Equal(ts), "nanosecond precision survives")

	m, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Text())

	state, err := s.LoadState(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(state))
}

func TestForeignKeyCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	defer s.Close()

	now := time.Now().UTC()
	require.NoError(t, s.CreateConversation(ctx, &domain.Conversation{ID: "c1", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.AddMessage(ctx, &domain.Message{
		ID: "m1", ConversationID: "c1", Role: domain.RoleUser,
		Body: domain.PlainText{Content: "x"}, Timestamp: now,
	}))

	// Deleting the row directly still removes its messages.
	_, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", "c1")
	require.NoError(t, err)

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n))
	assert.Zero(t, n)
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.GetConversation(context.Background(), "c1")
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.NotErrorIs(t, err, sql.ErrNoRows)
}

func TestStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.LoadState(ctx, "app")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.SaveState(ctx, "app", nil))
	v, err := s.LoadState(ctx, "app")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SaveState(ctx, "app", []byte(`{"v":1}`)))
	require.NoError(t, s.SaveState(ctx, "app", []byte(`{"v":2}`)))
	v, err = s.LoadState(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(v))
}
