package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichat/internal/adapter/store/memory"
	"aichat/internal/domain"
)

func newState(t *testing.T, store domain.Store, seed Seed) *AppState {
	t.Helper()
	a := NewAppState(store, nil)
	require.NoError(t, a.Init(context.Background(), seed))
	return a
}

func defaultSeed() Seed {
	return Seed{
		Providers:       []domain.ProviderConfig{testProvider()},
		DefaultProvider: "or",
		DefaultModel:    testModel,
		Settings:        domain.DefaultSettings(),
	}
}

func TestInitWithoutSnapshot(t *testing.T) {
	a := newState(t, memory.New(), defaultSeed())

	p, ok := a.SelectedProvider()
	require.True(t, ok)
	assert.Equal(t, "or", p.ID)
	assert.Equal(t, testModel, a.SelectedModel())
	assert.Equal(t, domain.DefaultSettings(), a.Settings())
	assert.Empty(t, a.Conversations())
	assert.Empty(t, a.CurrentConversationID())
}

func TestInitSelectsFirstProvider(t *testing.T) {
	seed := defaultSeed()
	seed.DefaultProvider = ""
	a := newState(t, memory.New(), seed)

	p, ok := a.SelectedProvider()
	require.True(t, ok)
	assert.Equal(t, "or", p.ID)
}

func TestStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	a := newState(t, store, defaultSeed())

	require.NoError(t, a.AddProvider(ctx, domain.ProviderConfig{
		ID: "oa", Name: "OpenAI", Type: domain.ProviderOpenAI, APIKey: "sk-oa",
		SelectedModels: []domain.Model{{ID: "gpt-4o-mini"}},
	}))
	require.NoError(t, a.UpdateSettings(ctx, func(s *domain.Settings) { s.Temperature = 0.3 }))
	conv, err := a.CreateConversation(ctx, "kept")
	require.NoError(t, err)
	require.NoError(t, a.Teardown(ctx))

	b := newState(t, store, defaultSeed())
	assert.Equal(t, conv.ID, b.CurrentConversationID())
	p, ok := b.SelectedProvider()
	require.True(t, ok)
	assert.Equal(t, "oa", p.ID)
	assert.Equal(t, "gpt-4o-mini", b.SelectedModel())
	assert.InDelta(t, 0.3, b.Settings().Temperature, 1e-9)
	require.Len(t, b.Providers(), 2)
	cur, ok := b.CurrentConversation()
	require.True(t, ok)
	assert.Equal(t, "kept", cur.Name)
}

func TestSeedOverridesPersistedProvider(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	a := newState(t, store, defaultSeed())
	p := testProvider()
	p.APIKey = "sk-stale"
	require.NoError(t, a.UpdateProvider(ctx, "or", p))

	b := newState(t, store, defaultSeed())
	got, ok := b.SelectedProvider()
	require.True(t, ok)
	assert.Equal(t, "sk-test", got.APIKey)
	assert.Len(t, b.Providers(), 1)
}

func TestInitIgnoresUnreadableSnapshot(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.SaveState(context.Background(), stateKey, []byte("{not json")))

	a := newState(t, store, defaultSeed())
	assert.Equal(t, testModel, a.SelectedModel())
}

func TestInitDropsMissingCurrentConversation(t *testing.T) {
	store := memory.New()
	data, err := json.Marshal(snapshot{CurrentConversationID: "gone", Settings: domain.DefaultSettings()})
	require.NoError(t, err)
	require.NoError(t, store.SaveState(context.Background(), stateKey, data))

	a := newState(t, store, defaultSeed())
	assert.Empty(t, a.CurrentConversationID())
}

func TestProviderCRUD(t *testing.T) {
	ctx := context.Background()
	a := newState(t, memory.New(), defaultSeed())

	assert.ErrorIs(t, a.AddProvider(ctx, domain.ProviderConfig{}), domain.ErrValidation)
	assert.ErrorIs(t, a.AddProvider(ctx, testProvider()), domain.ErrDuplicate)
	assert.ErrorIs(t, a.UpdateProvider(ctx, "nope", testProvider()), domain.ErrNotFound)
	assert.ErrorIs(t, a.DeleteProvider(ctx, "nope"), domain.ErrNotFound)
	assert.ErrorIs(t, a.SelectProvider(ctx, "nope"), domain.ErrNotFound)

	require.NoError(t, a.AddProvider(ctx, domain.ProviderConfig{ID: "local", Type: domain.ProviderCustom}))
	p, _ := a.SelectedProvider()
	assert.Equal(t, "local", p.ID)
	assert.Empty(t, a.SelectedModel())

	require.NoError(t, a.SelectProvider(ctx, "or"))
	assert.Equal(t, testModel, a.SelectedModel())

	require.NoError(t, a.DeleteProvider(ctx, "or"))
	_, ok := a.SelectedProvider()
	assert.False(t, ok)
	assert.Empty(t, a.SelectedModel())
	assert.Nil(t, a.AvailableModels())
	require.Len(t, a.Providers(), 1)
}

func TestSelectModel(t *testing.T) {
	ctx := context.Background()
	a := newState(t, memory.New(), defaultSeed())

	require.NoError(t, a.SelectModel(ctx, "anthropic/claude-3.5-sonnet"))
	assert.Equal(t, "anthropic/claude-3.5-sonnet", a.SelectedModel())
	assert.ErrorIs(t, a.SelectModel(ctx, "made-up"), domain.ErrValidation)
	assert.Len(t, a.AvailableModels(), 2)

	require.NoError(t, a.SelectProvider(ctx, ""))
	assert.ErrorIs(t, a.SelectModel(ctx, testModel), domain.ErrValidation)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	a := newState(t, memory.New(), defaultSeed())

	require.NoError(t, a.UpdateSettings(ctx, func(s *domain.Settings) {
		s.SystemPrompt = "Answer in French."
		s.MaxConversationHistory = 10
	}))
	assert.Equal(t, "Answer in French.", a.Settings().SystemPrompt)

	err := a.UpdateSettings(ctx, func(s *domain.Settings) { s.Temperature = 3 })
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 10, a.Settings().MaxConversationHistory, "rejected update leaves settings alone")

	require.NoError(t, a.ResetSettings(ctx))
	assert.Equal(t, domain.DefaultSettings(), a.Settings())
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	a := newState(t, store, defaultSeed())
	a.now = func() time.Time { return time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC) }

	conv, err := a.CreateConversation(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "New Conversation 3/9/2025", conv.Name)
	assert.Equal(t, testModel, conv.Model)
	assert.Equal(t, "or", conv.Provider)
	assert.Equal(t, conv.ID, a.CurrentConversationID())

	assert.ErrorIs(t, a.RenameConversation(ctx, conv.ID, "  "), domain.ErrValidation)
	require.NoError(t, a.RenameConversation(ctx, conv.ID, "Renamed"))
	cur, ok := a.CurrentConversation()
	require.True(t, ok)
	assert.Equal(t, "Renamed", cur.Name)

	assert.ErrorIs(t, a.SetCurrentConversation(ctx, "missing"), domain.ErrNotFound)
	assert.Equal(t, conv.ID, a.CurrentConversationID())

	require.NoError(t, a.DeleteConversation(ctx, conv.ID))
	assert.Empty(t, a.CurrentConversationID())
	assert.Empty(t, a.Conversations())
	_, err = store.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetCurrentConversationLoadsUncached(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	a := newState(t, store, defaultSeed())

	now := time.Now().UTC()
	require.NoError(t, store.CreateConversation(ctx, &domain.Conversation{ID: "ext", Name: "external", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, a.SetCurrentConversation(ctx, "ext"))
	cur, ok := a.CurrentConversation()
	require.True(t, ok)
	assert.Equal(t, "external", cur.Name)
}

func TestSwitchHooks(t *testing.T) {
	ctx := context.Background()
	a := newState(t, memory.New(), defaultSeed())

	var got [][2]string
	unhook := a.OnConversationSwitch(func(from, to string) { got = append(got, [2]string{from, to}) })

	c1, err := a.CreateConversation(ctx, "one")
	require.NoError(t, err)
	c2, err := a.CreateConversation(ctx, "two")
	require.NoError(t, err)
	require.NoError(t, a.SetCurrentConversation(ctx, c2.ID), "no change, no notification")
	require.NoError(t, a.SetCurrentConversation(ctx, c1.ID))

	unhook()
	require.NoError(t, a.SetCurrentConversation(ctx, ""))

	assert.Equal(t, [][2]string{{"", c1.ID}, {c1.ID, c2.ID}, {c2.ID, c1.ID}}, got)
}

func TestExportImportThroughState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bodyOf(sse("pong")))
	_, err := h.orch.SendMessage(ctx, SendInput{Text: "ping"})
	require.NoError(t, err)

	data, err := h.state.Export(ctx)
	require.NoError(t, err)

	b := newState(t, memory.New(), defaultSeed())
	convs, msgs, err := b.Import(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 1, convs)
	assert.Equal(t, 2, msgs)
	require.Len(t, b.Conversations(), 1)
	assert.Equal(t, "ping", b.Conversations()[0].Name)

	_, _, err = b.Import(ctx, data)
	assert.ErrorIs(t, err, domain.ErrDuplicate, "records already present")

	_, _, err = b.Import(ctx, []byte("not json"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ConversationCount)
	assert.Equal(t, 2, stats.MessageCount)
	assert.Positive(t, stats.TotalSize)

	require.NoError(t, b.ClearAllData(ctx))
	assert.Empty(t, b.Conversations())
	stats, err = b.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.MessageCount)
	assert.Equal(t, testModel, b.SelectedModel(), "settings and providers survive a clear")
}
