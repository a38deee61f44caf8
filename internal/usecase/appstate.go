package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"aichat/internal/domain"
)

// stateKey is the key under which the AppState snapshot is saved.
const stateKey = "app"

// snapshot is the persisted part of AppState. Conversations live in the
// store and are not part of it.
type snapshot struct {
	CurrentConversationID string                  `json:"currentConversationId,omitempty"`
	Providers             []domain.ProviderConfig `json:"providers"`
	SelectedProvider      string                  `json:"selectedProvider,omitempty"`
	SelectedModel         string                  `json:"selectedModel,omitempty"`
	Settings              domain.Settings         `json:"settings"`
}

// Seed is the initial state, typically taken from the config file. Seed
// providers replace persisted providers with the same ID.
type Seed struct {
	Providers       []domain.ProviderConfig
	DefaultProvider string
	DefaultModel    string
	Settings        domain.Settings
}

// SwitchHook is called when the current conversation changes.
type SwitchHook func(from, to string)

// AppState holds the user's providers, selection, settings and the
// conversation list. It is safe for concurrent use.
type AppState struct {
	store  domain.Store
	logger *slog.Logger
	now    func() time.Time

	mu               sync.RWMutex
	conversations    []domain.Conversation
	currentID        string
	providers        []domain.ProviderConfig
	selectedProvider string
	selectedModel    string
	settings         domain.Settings
	defaultSettings  domain.Settings

	hookMu sync.Mutex
	hooks  map[uint64]SwitchHook
	hookID uint64
}

// NewAppState creates an empty AppState backed by store. Call Init before use.
func NewAppState(store domain.Store, logger *slog.Logger) *AppState {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AppState{
		store:           store,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
		settings:        domain.DefaultSettings(),
		defaultSettings: domain.DefaultSettings(),
		hooks:           make(map[uint64]SwitchHook),
	}
}

// Init applies seed, hydrates the persisted snapshot and loads the
// conversation list. A missing snapshot is not an error.
func (a *AppState) Init(ctx context.Context, seed Seed) error {
	const op = "AppState.Init"

	a.mu.Lock()
	if seed.Settings != (domain.Settings{}) {
		a.settings = seed.Settings
		a.defaultSettings = seed.Settings
	}
	a.providers = slices.Clone(seed.Providers)
	a.selectedProvider = seed.DefaultProvider
	a.selectedModel = seed.DefaultModel
	a.mu.Unlock()

	data, err := a.store.LoadState(ctx, stateKey)
	switch {
	case err == nil:
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			a.logger.Warn("ignoring unreadable app state", "error", err)
			break
		}
		a.hydrate(snap, seed.Providers)
	case errors.Is(err, domain.ErrNotFound):
	default:
		return domain.WrapOp(op, err)
	}

	if err := a.LoadConversations(ctx); err != nil {
		return err
	}

	// Drop a current conversation that no longer exists.
	a.mu.Lock()
	if a.currentID != "" && a.indexOf(a.currentID) < 0 {
		a.currentID = ""
	}
	if a.selectedProvider == "" && len(a.providers) > 0 {
		a.selectedProvider = a.providers[0].ID
	}
	a.mu.Unlock()

	a.logger.Debug("app state initialized",
		"providers", len(a.providers),
		"conversations", len(a.conversations),
	)
	return nil
}

func (a *AppState) hydrate(snap snapshot, seeded []domain.ProviderConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()

	seededIDs := make(map[string]bool, len(seeded))
	for _, p := range seeded {
		seededIDs[p.ID] = true
	}
	providers := make([]domain.ProviderConfig, 0, len(snap.Providers)+len(seeded))
	for _, p := range snap.Providers {
		if !seededIDs[p.ID] {
			providers = append(providers, p)
		}
	}
	a.providers = append(providers, seeded...)

	a.currentID = snap.CurrentConversationID
	if snap.SelectedProvider != "" && a.providerIndex(snap.SelectedProvider) >= 0 {
		a.selectedProvider = snap.SelectedProvider
		a.selectedModel = snap.SelectedModel
	}
	if snap.Settings != (domain.Settings{}) {
		a.settings = snap.Settings
	}
}

// Teardown persists the snapshot.
func (a *AppState) Teardown(ctx context.Context) error {
	return a.persist(ctx)
}

func (a *AppState) persist(ctx context.Context) error {
	a.mu.RLock()
	snap := snapshot{
		CurrentConversationID: a.currentID,
		Providers:             a.providers,
		SelectedProvider:      a.selectedProvider,
		SelectedModel:         a.selectedModel,
		Settings:              a.settings,
	}
	data, err := json.Marshal(snap)
	a.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("AppState.persist: %w: %w", domain.ErrPersistence, err)
	}
	return domain.WrapOp("AppState.persist", a.store.SaveState(ctx, stateKey, data))
}

// --- providers ---

// Providers returns a copy of the configured providers.
func (a *AppState) Providers() []domain.ProviderConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.providers)
}

func (a *AppState) providerIndex(id string) int {
	return slices.IndexFunc(a.providers, func(p domain.ProviderConfig) bool { return p.ID == id })
}

// AddProvider appends p and selects it.
func (a *AppState) AddProvider(ctx context.Context, p domain.ProviderConfig) error {
	const op = "AppState.AddProvider"
	if strings.TrimSpace(p.ID) == "" {
		return domain.NewDomainError(op, domain.ErrValidation, "Provider ID is required.")
	}
	a.mu.Lock()
	if a.providerIndex(p.ID) >= 0 {
		a.mu.Unlock()
		return fmt.Errorf("%s: provider %q: %w", op, p.ID, domain.ErrDuplicate)
	}
	a.providers = append(a.providers, p)
	a.selectedProvider = p.ID
	a.selectedModel = firstModel(p)
	a.mu.Unlock()
	return a.persist(ctx)
}

// UpdateProvider replaces the provider with the given ID.
func (a *AppState) UpdateProvider(ctx context.Context, id string, p domain.ProviderConfig) error {
	const op = "AppState.UpdateProvider"
	a.mu.Lock()
	i := a.providerIndex(id)
	if i < 0 {
		a.mu.Unlock()
		return fmt.Errorf("%s: provider %q: %w", op, id, domain.ErrNotFound)
	}
	p.ID = id
	a.providers[i] = p
	a.mu.Unlock()
	return a.persist(ctx)
}

// DeleteProvider removes a provider and clears the selection if it was
// selected.
func (a *AppState) DeleteProvider(ctx context.Context, id string) error {
	const op = "AppState.DeleteProvider"
	a.mu.Lock()
	i := a.providerIndex(id)
	if i < 0 {
		a.mu.Unlock()
		return fmt.Errorf("%s: provider %q: %w", op, id, domain.ErrNotFound)
	}
	a.providers = slices.Delete(a.providers, i, i+1)
	if a.selectedProvider == id {
		a.selectedProvider, a.selectedModel = "", ""
	}
	a.mu.Unlock()
	return a.persist(ctx)
}

// SelectProvider selects a provider by ID and resets the model to the
// provider's first model. An empty id clears the selection.
func (a *AppState) SelectProvider(ctx context.Context, id string) error {
	const op = "AppState.SelectProvider"
	a.mu.Lock()
	if id == "" {
		a.selectedProvider, a.selectedModel = "", ""
	} else {
		i := a.providerIndex(id)
		if i < 0 {
			a.mu.Unlock()
			return fmt.Errorf("%s: provider %q: %w", op, id, domain.ErrNotFound)
		}
		a.selectedProvider = id
		a.selectedModel = firstModel(a.providers[i])
	}
	a.mu.Unlock()
	return a.persist(ctx)
}

// SelectedProvider returns the selected provider.
func (a *AppState) SelectedProvider() (domain.ProviderConfig, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i := a.providerIndex(a.selectedProvider)
	if i < 0 {
		return domain.ProviderConfig{}, false
	}
	return a.providers[i], true
}

// SelectModel selects a model of the current provider. When the provider
// lists models, id must be one of them.
func (a *AppState) SelectModel(ctx context.Context, id string) error {
	const op = "AppState.SelectModel"
	a.mu.Lock()
	i := a.providerIndex(a.selectedProvider)
	if i < 0 {
		a.mu.Unlock()
		return domain.NewDomainError(op, domain.ErrValidation, "Please select a provider first.")
	}
	p := a.providers[i]
	if _, ok := p.FindModel(id); id != "" && len(p.SelectedModels) > 0 && !ok {
		a.mu.Unlock()
		return domain.NewDomainError(op, domain.ErrValidation,
			fmt.Sprintf("Model %q is not enabled for provider %q.", id, p.ID))
	}
	a.selectedModel = id
	a.mu.Unlock()
	return a.persist(ctx)
}

// SelectedModel returns the selected model ID, or "".
func (a *AppState) SelectedModel() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.selectedModel
}

// AvailableModels returns the models of the selected provider.
func (a *AppState) AvailableModels() []domain.Model {
	p, ok := a.SelectedProvider()
	if !ok {
		return nil
	}
	return slices.Clone(p.SelectedModels)
}

func firstModel(p domain.ProviderConfig) string {
	if len(p.SelectedModels) == 0 {
		return ""
	}
	return p.SelectedModels[0].ID
}

// --- settings ---

func (a *AppState) Settings() domain.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// UpdateSettings applies fn to a copy of the settings and stores the result.
func (a *AppState) UpdateSettings(ctx context.Context, fn func(*domain.Settings)) error {
	a.mu.Lock()
	s := a.settings
	fn(&s)
	if s.MaxConversationHistory < 0 || s.Temperature < 0 || s.Temperature > 2 || s.MaxTokens < 0 {
		a.mu.Unlock()
		return domain.NewDomainError("AppState.UpdateSettings", domain.ErrValidation, "Settings are out of range.")
	}
	a.settings = s
	a.mu.Unlock()
	return a.persist(ctx)
}

// ResetSettings restores the settings Init started from.
func (a *AppState) ResetSettings(ctx context.Context) error {
	a.mu.Lock()
	a.settings = a.defaultSettings
	a.mu.Unlock()
	return a.persist(ctx)
}

// --- conversations ---

// Conversations returns the cached conversation list, most recently active
// first.
func (a *AppState) Conversations() []domain.Conversation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.conversations)
}

// LoadConversations refreshes the cached list from the store.
func (a *AppState) LoadConversations(ctx context.Context) error {
	convs, err := a.store.ListConversations(ctx)
	if err != nil {
		return domain.WrapOp("AppState.LoadConversations", err)
	}
	a.mu.Lock()
	a.conversations = convs
	a.mu.Unlock()
	return nil
}

// RefreshConversation reloads one conversation into the cached list.
func (a *AppState) RefreshConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	c, err := a.store.GetConversation(ctx, id)
	if err != nil {
		return nil, domain.WrapOp("AppState.RefreshConversation", err)
	}
	a.mu.Lock()
	if i := a.indexOf(id); i >= 0 {
		a.conversations[i] = *c
	} else {
		a.conversations = append(a.conversations, *c)
	}
	domain.SortByActivity(a.conversations)
	a.mu.Unlock()
	return c, nil
}

func (a *AppState) indexOf(id string) int {
	return slices.IndexFunc(a.conversations, func(c domain.Conversation) bool { return c.ID == id })
}

// CreateConversation creates a conversation with the current provider and
// model, makes it current and returns it. An empty name gets a dated
// default.
func (a *AppState) CreateConversation(ctx context.Context, name string) (*domain.Conversation, error) {
	now := a.now()
	if strings.TrimSpace(name) == "" {
		name = ConversationName("", now)
	}
	a.mu.RLock()
	conv := &domain.Conversation{
		ID:        domain.NewID(now),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Model:     a.selectedModel,
		Provider:  a.selectedProvider,
	}
	a.mu.RUnlock()

	if err := a.store.CreateConversation(ctx, conv); err != nil {
		return nil, domain.WrapOp("AppState.CreateConversation", err)
	}
	a.mu.Lock()
	a.conversations = append([]domain.Conversation{*conv}, a.conversations...)
	domain.SortByActivity(a.conversations)
	a.mu.Unlock()

	if err := a.SetCurrentConversation(ctx, conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

// RenameConversation changes a conversation's name.
func (a *AppState) RenameConversation(ctx context.Context, id, name string) error {
	const op = "AppState.RenameConversation"
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.NewDomainError(op, domain.ErrValidation, "Conversation name cannot be empty.")
	}
	if err := a.store.UpdateConversation(ctx, id, domain.ConversationPatch{Name: &name}); err != nil {
		return domain.WrapOp(op, err)
	}
	_, err := a.RefreshConversation(ctx, id)
	return err
}

// DeleteConversation removes a conversation and its messages. If it was
// current, no conversation is current afterwards.
func (a *AppState) DeleteConversation(ctx context.Context, id string) error {
	if err := a.store.DeleteConversation(ctx, id); err != nil {
		return domain.WrapOp("AppState.DeleteConversation", err)
	}
	a.mu.Lock()
	if i := a.indexOf(id); i >= 0 {
		a.conversations = slices.Delete(a.conversations, i, i+1)
	}
	wasCurrent := a.currentID == id
	a.mu.Unlock()

	if wasCurrent {
		return a.SetCurrentConversation(ctx, "")
	}
	return nil
}

// SetCurrentConversation switches the current conversation and notifies
// switch hooks when it changed. An empty id means none.
func (a *AppState) SetCurrentConversation(ctx context.Context, id string) error {
	const op = "AppState.SetCurrentConversation"
	a.mu.Lock()
	if id != "" && a.indexOf(id) < 0 {
		a.mu.Unlock()
		if _, err := a.RefreshConversation(ctx, id); err != nil {
			return domain.WrapOp(op, err)
		}
		a.mu.Lock()
	}
	from := a.currentID
	a.currentID = id
	a.mu.Unlock()

	if from != id {
		a.notifySwitch(from, id)
	}
	return a.persist(ctx)
}

// CurrentConversationID returns the current conversation ID, or "".
func (a *AppState) CurrentConversationID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentID
}

// CurrentConversation returns the cached current conversation.
func (a *AppState) CurrentConversation() (domain.Conversation, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i := a.indexOf(a.currentID); i >= 0 {
		return a.conversations[i], true
	}
	return domain.Conversation{}, false
}

// OnConversationSwitch registers a hook. It returns an unregister function.
func (a *AppState) OnConversationSwitch(h SwitchHook) func() {
	a.hookMu.Lock()
	a.hookID++
	id := a.hookID
	a.hooks[id] = h
	a.hookMu.Unlock()
	return func() {
		a.hookMu.Lock()
		delete(a.hooks, id)
		a.hookMu.Unlock()
	}
}

func (a *AppState) notifySwitch(from, to string) {
	a.hookMu.Lock()
	hooks := make([]SwitchHook, 0, len(a.hooks))
	for _, h := range a.hooks {
		hooks = append(hooks, h)
	}
	a.hookMu.Unlock()
	for _, h := range hooks {
		h(from, to)
	}
}

// --- utilities ---

// Export returns every conversation and message as indented JSON.
func (a *AppState) Export(ctx context.Context) ([]byte, error) {
	dump, err := a.store.Export(ctx)
	if err != nil {
		return nil, domain.WrapOp("AppState.Export", err)
	}
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("AppState.Export: %w", err)
	}
	return data, nil
}

// Import loads a backup produced by Export and refreshes the conversation
// list. It returns the number of conversations and messages imported.
func (a *AppState) Import(ctx context.Context, data []byte) (convs, msgs int, err error) {
	const op = "AppState.Import"
	var dump domain.Dump
	if err := json.Unmarshal(data, &dump); err != nil {
		return 0, 0, domain.NewDomainError(op, domain.ErrValidation, "Invalid backup file: "+err.Error())
	}
	if err := a.store.Import(ctx, &dump); err != nil {
		return 0, 0, domain.WrapOp(op, err)
	}
	if err := a.LoadConversations(ctx); err != nil {
		return 0, 0, err
	}
	return len(dump.Conversations), len(dump.Messages), nil
}

// ClearAllData deletes every conversation and message.
func (a *AppState) ClearAllData(ctx context.Context) error {
	if err := a.store.ClearAll(ctx); err != nil {
		return domain.WrapOp("AppState.ClearAllData", err)
	}
	a.mu.Lock()
	a.conversations = nil
	a.mu.Unlock()
	return a.SetCurrentConversation(ctx, "")
}

// Stats reports store usage.
func (a *AppState) Stats(ctx context.Context) (domain.StoreStats, error) {
	st, err := a.store.Stats(ctx)
	return st, domain.WrapOp("AppState.Stats", err)
}
