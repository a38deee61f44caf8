package usecase

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"aichat/internal/adapter/provider"
	"aichat/internal/adapter/store/memory"
	"aichat/internal/adapter/stream"
	"aichat/internal/domain"
)

const testModel = "openai/gpt-4o"

func testProvider() domain.ProviderConfig {
	return domain.ProviderConfig{
		ID:             "or",
		Name:           "OpenRouter",
		Type:           domain.ProviderOpenRouter,
		APIKey:         "sk-test",
		SelectedModels: []domain.Model{{ID: testModel}, {ID: "anthropic/claude-3.5-sonnet"}},
	}
}

// sse renders deltas as a complete chat-completions event stream.
func sse(deltas ...string) string {
	var b strings.Builder
	for _, d := range deltas {
		payload, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"delta": map[string]any{"content": d}}},
		})
		b.WriteString("data: ")
		b.Write(payload)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

// scriptedOpener decodes bodies produced by open with the real stream decoder.
type scriptedOpener struct {
	mu   sync.Mutex
	reqs []*domain.HTTPRequest
	open func(ctx context.Context) (io.ReadCloser, error)
}

func (o *scriptedOpener) OpenStream(ctx context.Context, req *domain.HTTPRequest) (domain.DeltaStream, error) {
	o.mu.Lock()
	o.reqs = append(o.reqs, req)
	o.mu.Unlock()
	body, err := o.open(ctx)
	if err != nil {
		return nil, err
	}
	return stream.New(ctx, body, nil), nil
}

func (o *scriptedOpener) requests() []*domain.HTTPRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*domain.HTTPRequest(nil), o.reqs...)
}

func bodyOf(s string) func(context.Context) (io.ReadCloser, error) {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}

// recorder is a projection that keeps every event. onEv, when set, runs
// after the event is stored.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	onEv   func(domain.Event)
}

func (r *recorder) Apply(_ context.Context, e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	fn := r.onEv
	r.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		if e.Type != domain.EventConversationUpdated {
			out = append(out, e.Type)
		}
	}
	return out
}

func (r *recorder) deltas() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Type == domain.EventMessageDelta {
			out = append(out, e.Delta)
		}
	}
	return out
}

type harness struct {
	store  domain.Store
	state  *AppState
	orch   *Orchestrator
	opener *scriptedOpener
	events *recorder
}

type harnessOption func(*OrchestratorDeps)

func newHarness(t *testing.T, open func(context.Context) (io.ReadCloser, error), opts ...harnessOption) *harness {
	t.Helper()
	return newHarnessWithStore(t, memory.New(), open, opts...)
}

func newHarnessWithStore(t *testing.T, store domain.Store, open func(context.Context) (io.ReadCloser, error), opts ...harnessOption) *harness {
	t.Helper()
	state := NewAppState(store, nil)
	require.NoError(t, state.Init(context.Background(), Seed{
		Providers:       []domain.ProviderConfig{testProvider()},
		DefaultProvider: "or",
		DefaultModel:    testModel,
		Settings:        domain.DefaultSettings(),
	}))

	h := &harness{
		store:  store,
		state:  state,
		opener: &scriptedOpener{open: open},
		events: &recorder{},
	}
	deps := OrchestratorDeps{
		State:      state,
		Store:      store,
		Adapters:   provider.Factory{},
		Streams:    h.opener,
		Projection: h.events,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.orch = NewOrchestrator(deps)
	t.Cleanup(func() {
		h.orch.Close()
		store.Close()
	})
	return h
}

func (h *harness) messages(t *testing.T, convID string) []domain.Message {
	t.Helper()
	msgs, err := h.store.ListMessages(context.Background(), convID)
	require.NoError(t, err)
	return msgs
}

// requestMessages decodes the messages array of a captured request body.
func requestMessages(t *testing.T, req *domain.HTTPRequest) []map[string]any {
	t.Helper()
	var body struct {
		Messages []map[string]any `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(req.Body, &body))
	return body.Messages
}
