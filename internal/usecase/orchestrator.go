package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"aichat/internal/domain"
	"aichat/internal/infra/tracer"
)

// Phase is the state of the request an Orchestrator is working on.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitted
	PhaseStreaming
	PhaseCompleted
	PhaseFailed
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitted:
		return "submitted"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseAborted:
		return "aborted"
	}
	return "unknown"
}

// errConversationSwitched is the cancel cause when the user leaves the
// conversation a response is streaming into.
var errConversationSwitched = fmt.Errorf("%w: conversation switched", domain.ErrAborted)

// OrchestratorDeps holds injected dependencies for the orchestrator.
type OrchestratorDeps struct {
	State      *AppState
	Store      domain.Store
	Adapters   domain.AdapterFactory
	Streams    domain.StreamOpener
	Projection domain.Projection // optional, nil = no events
	// ResolveKey turns a stored API key reference into the key itself.
	// Optional, nil = keys are used as stored.
	ResolveKey func(ref string) (string, error)
	Logger     *slog.Logger
}

// SendInput is one user submission.
type SendInput struct {
	Text   string
	Images []domain.Image
}

// SendResult describes how a submission ended.
type SendResult struct {
	ConversationID string
	UserMessage    domain.Message
	// Assistant is the assistant message as last written, or nil when it
	// was removed after an early failure.
	Assistant *domain.Message
	Phase     Phase
	Content   string
	Skipped   int
}

// Orchestrator turns a user submission into a persisted exchange: user
// message, assistant placeholder, streamed deltas and the final write. It
// handles one request at a time.
type Orchestrator struct {
	deps OrchestratorDeps
	now  func() time.Time

	mu       sync.Mutex
	busy     bool
	phase    Phase
	cancel   context.CancelCauseFunc
	inflight string // conversation of the running request

	writes sync.WaitGroup
	unhook func()
}

// NewOrchestrator creates an orchestrator. A switch away from the
// conversation being streamed into aborts the request.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	o := &Orchestrator{
		deps: deps,
		now:  func() time.Time { return time.Now().UTC() },
	}
	o.unhook = deps.State.OnConversationSwitch(o.onSwitch)
	return o
}

func (o *Orchestrator) onSwitch(from, to string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil && o.inflight != "" && from == o.inflight && to != from {
		o.cancel(errConversationSwitched)
	}
}

// Phase returns the phase of the running request, PhaseIdle if none.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Cancel aborts the running request. It reports whether one was running.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return false
	}
	o.cancel(domain.ErrAborted)
	return true
}

// Wait blocks until every issued persistence write has finished.
func (o *Orchestrator) Wait() { o.writes.Wait() }

// Close aborts the running request, waits for outstanding writes and stops
// listening for conversation switches.
func (o *Orchestrator) Close() {
	o.unhook()
	o.Cancel()
	o.Wait()
}

// plan is a validated submission, ready to be persisted and sent.
type plan struct {
	text     string
	images   []domain.Image
	provider domain.ProviderConfig
	model    string
	convID   string
	req      *domain.HTTPRequest
}

// SendMessage submits in and streams the reply into the store.
//
// Validation and configuration problems are returned before anything is
// persisted. Once the messages are persisted the returned SendResult is
// non-nil; err then reports a network, protocol, stream, persistence or
// abort failure. A second call while a request is running fails with an
// error wrapping domain.ErrBusy.
func (o *Orchestrator) SendMessage(ctx context.Context, in SendInput) (*SendResult, error) {
	const op = "Orchestrator.SendMessage"

	ctx, span := tracer.StartSpan(ctx, "chat.send")
	defer span.End()

	reqCtx, err := o.begin(ctx)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	defer o.end()

	p, err := o.prepare(reqCtx, in)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		tracer.StringAttr("chat.provider", p.provider.ID),
		tracer.StringAttr("chat.model", p.model),
	)

	res, placeholder, err := o.submit(reqCtx, p)
	if err != nil {
		tracer.RecordError(span, err)
		return res, domain.WrapOp(op, err)
	}
	span.SetAttributes(tracer.StringAttr("chat.conversation_id", res.ConversationID))

	err = o.stream(ctx, reqCtx, p, res, placeholder)
	o.writes.Wait()
	span.SetAttributes(
		tracer.StringAttr("chat.outcome", res.Phase.String()),
		tracer.IntAttr("chat.skipped_frames", res.Skipped),
	)
	if err != nil {
		tracer.RecordError(span, err)
		return res, domain.WrapOp(op, err)
	}
	tracer.SetOK(span)
	return res, nil
}

func (o *Orchestrator) begin(ctx context.Context) (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return nil, domain.NewDomainError("Orchestrator.SendMessage", domain.ErrBusy,
			"Please wait for the current response to finish.")
	}
	o.busy = true
	reqCtx, cancel := context.WithCancelCause(ctx)
	o.cancel = cancel
	return reqCtx, nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != PhaseIdle {
		o.logPhase(o.phase, PhaseIdle)
	}
	o.cancel(nil)
	o.busy, o.phase, o.cancel, o.inflight = false, PhaseIdle, nil, ""
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logPhase(o.phase, p)
	o.phase = p
}

func (o *Orchestrator) logPhase(from, to Phase) {
	o.deps.Logger.Debug("chat phase", "from", from.String(), "to", to.String(), "conversation_id", o.inflight)
}

// prepare checks the preconditions and builds the provider request without
// touching the store.
func (o *Orchestrator) prepare(ctx context.Context, in SendInput) (*plan, error) {
	const op = "Orchestrator.SendMessage"

	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Images) == 0 {
		return nil, domain.NewDomainError(op, domain.ErrValidation, "Please enter a message or attach an image.")
	}
	prov, ok := o.deps.State.SelectedProvider()
	if !ok {
		return nil, domain.NewDomainError(op, domain.ErrValidation, "Please select a provider first.")
	}
	model := o.deps.State.SelectedModel()
	if model == "" {
		return nil, domain.NewDomainError(op, domain.ErrValidation, "Please select a model first.")
	}
	if o.deps.ResolveKey != nil && prov.APIKey != "" {
		key, err := o.deps.ResolveKey(prov.APIKey)
		if err != nil {
			return nil, &domain.DomainError{
				Op:     op,
				Err:    fmt.Errorf("%w: %w", domain.ErrConfiguration, err),
				Detail: fmt.Sprintf("Could not read the API key of provider %q.", prov.ID),
			}
		}
		prov.APIKey = key
	}
	adapter, err := o.deps.Adapters.Adapter(&prov)
	if err != nil {
		return nil, err
	}

	settings := o.deps.State.Settings()
	convID := o.deps.State.CurrentConversationID()
	var previous []domain.Message
	if convID != "" {
		_, err := o.deps.Store.GetConversation(ctx, convID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Removed behind our back; start a new one.
			convID = ""
		case err != nil:
			return nil, domain.WrapOp(op, err)
		default:
			if previous, err = o.deps.Store.ListMessages(ctx, convID); err != nil {
				return nil, domain.WrapOp(op, err)
			}
		}
	}

	history := BuildHistory(settings.SystemPrompt, previous, settings.MaxConversationHistory,
		domain.NewUserChatMessage(text, in.Images))
	req, err := adapter.BuildRequest(model, history, settings.RequestOptions())
	if err != nil {
		return nil, err
	}
	return &plan{
		text:     text,
		images:   in.Images,
		provider: prov,
		model:    model,
		convID:   convID,
		req:      req,
	}, nil
}

// submit ensures the conversation and persists the user message and the
// assistant placeholder.
func (o *Orchestrator) submit(ctx context.Context, p *plan) (*SendResult, *domain.Message, error) {
	if p.convID == "" {
		conv, err := o.deps.State.CreateConversation(ctx, ConversationName(p.text, o.now()))
		if err != nil {
			return nil, nil, err
		}
		p.convID = conv.ID
	}
	o.mu.Lock()
	o.inflight = p.convID
	o.mu.Unlock()
	o.setPhase(PhaseSubmitted)

	now := o.now()
	user := domain.Message{
		ID:             domain.NewID(now),
		ConversationID: p.convID,
		Role:           domain.RoleUser,
		Body:           domain.NewUserBody(p.text, p.images),
		Timestamp:      now,
		Model:          p.model,
		Provider:       p.provider.ID,
	}
	if err := o.deps.Store.AddMessage(ctx, &user); err != nil {
		return nil, nil, err
	}
	res := &SendResult{ConversationID: p.convID, UserMessage: user}
	o.publish(ctx, domain.EventMessageCreated, p.convID, &user, "", nil)

	now = o.now()
	placeholder := &domain.Message{
		ID:             domain.NewID(now),
		ConversationID: p.convID,
		Role:           domain.RoleAssistant,
		Body:           domain.Streaming{},
		Timestamp:      now,
		Model:          p.model,
		Provider:       p.provider.ID,
	}
	if err := o.deps.Store.AddMessage(ctx, placeholder); err != nil {
		res.Phase = PhaseFailed
		return res, nil, err
	}
	res.Assistant = placeholder
	o.publish(ctx, domain.EventMessageCreated, p.convID, placeholder, "", nil)

	model, provider := p.model, p.provider.ID
	if err := o.deps.Store.UpdateConversation(ctx, p.convID, domain.ConversationPatch{Model: &model, Provider: &provider}); err != nil {
		o.deps.Logger.Warn("update conversation failed", "conversation_id", p.convID, "error", err)
	}
	o.refresh(ctx, p.convID)
	return res, placeholder, nil
}

// stream reads the response into the placeholder. parent is the caller's
// context; writes use it without its cancellation so that an abort never
// interrupts a write half way.
func (o *Orchestrator) stream(parent, ctx context.Context, p *plan, res *SendResult, placeholder *domain.Message) error {
	writeCtx := context.WithoutCancel(parent)
	o.setPhase(PhaseStreaming)

	st, err := o.deps.Streams.OpenStream(ctx, p.req)
	if err != nil {
		if ctx.Err() != nil {
			return o.aborted(parent, res, placeholder, abortCause(ctx, err))
		}
		return o.rollback(writeCtx, res, placeholder, err)
	}
	defer st.Close()

	var (
		acc strings.Builder
		seq uint64
	)
	for st.Next() {
		d := st.Delta()
		acc.WriteString(d)
		seq++

		snap := *placeholder
		snap.Body = domain.Streaming{Partial: acc.String()}
		o.publish(parent, domain.EventMessageDelta, p.convID, &snap, d, nil)
		o.persistDelta(writeCtx, domain.MessageUpdate{ID: placeholder.ID, Body: snap.Body, Seq: seq})
	}
	res.Content = acc.String()
	res.Skipped = st.Skipped()

	switch st.State() {
	case domain.StreamCompleted:
		return o.complete(writeCtx, res, placeholder, seq+1)
	case domain.StreamAborted:
		return o.aborted(parent, res, placeholder, abortCause(ctx, st.Err()))
	default:
		streamErr := st.Err()
		if streamErr == nil {
			streamErr = domain.ErrStreamDecode
		}
		if acc.Len() == 0 {
			return o.rollback(writeCtx, res, placeholder, streamErr)
		}
		return o.failPartial(writeCtx, res, placeholder, seq+1, streamErr)
	}
}

func (o *Orchestrator) persistDelta(ctx context.Context, u domain.MessageUpdate) {
	o.writes.Add(1)
	go func() {
		defer o.writes.Done()
		if _, err := o.deps.Store.UpdateMessage(ctx, u); err != nil {
			o.deps.Logger.Warn("persist delta failed", "message_id", u.ID, "seq", u.Seq, "error", err)
		}
	}()
}

// complete writes the accumulated text as the authoritative final content.
func (o *Orchestrator) complete(ctx context.Context, res *SendResult, placeholder *domain.Message, seq uint64) error {
	o.setPhase(PhaseCompleted)
	final := *placeholder
	final.Body = domain.PlainText{Content: res.Content}
	final.Seq = seq
	res.Phase = PhaseCompleted
	res.Assistant = &final

	var perr error
	if _, err := o.deps.Store.UpdateMessage(ctx, domain.MessageUpdate{ID: final.ID, Body: final.Body, Seq: seq}); err != nil {
		o.deps.Logger.Error("persist final response failed", "message_id", final.ID, "error", err)
		perr = &domain.DomainError{
			Op:     "Orchestrator.complete",
			Err:    err,
			Detail: "The response could not be saved and may be lost after a restart.",
		}
	}
	o.recompute(ctx, res.ConversationID)
	o.publish(ctx, domain.EventMessageCompleted, res.ConversationID, &final, "", perr)
	o.deps.Logger.Info("response completed",
		"conversation_id", res.ConversationID,
		"message_id", final.ID,
		"bytes", len(res.Content),
		"skipped_frames", res.Skipped,
	)
	return perr
}

// rollback removes the placeholder after a failure that produced no content.
func (o *Orchestrator) rollback(ctx context.Context, res *SendResult, placeholder *domain.Message, cause error) error {
	o.setPhase(PhaseFailed)
	res.Phase = PhaseFailed
	res.Assistant = nil
	if err := o.deps.Store.DeleteMessage(ctx, placeholder.ID); err != nil {
		o.deps.Logger.Error("remove placeholder failed", "message_id", placeholder.ID, "error", err)
	} else {
		o.publish(ctx, domain.EventMessageDeleted, res.ConversationID, placeholder, "", nil)
	}
	o.recompute(ctx, res.ConversationID)
	o.publish(ctx, domain.EventMessageFailed, res.ConversationID, nil, "", cause)
	o.deps.Logger.Warn("request failed",
		"conversation_id", res.ConversationID,
		"code", string(domain.ErrorCodeOf(cause)),
		"error", cause,
	)
	return cause
}

// failPartial keeps the content received before a mid-stream failure.
func (o *Orchestrator) failPartial(ctx context.Context, res *SendResult, placeholder *domain.Message, seq uint64, cause error) error {
	o.setPhase(PhaseFailed)
	msg := *placeholder
	msg.Body = domain.PlainText{Content: res.Content}
	msg.Error = domain.UserMessage(cause)
	msg.Seq = seq
	res.Phase = PhaseFailed
	res.Assistant = &msg

	if _, err := o.deps.Store.UpdateMessage(ctx, domain.MessageUpdate{ID: msg.ID, Body: msg.Body, Error: msg.Error, Seq: seq}); err != nil {
		o.deps.Logger.Error("persist partial response failed", "message_id", msg.ID, "error", err)
	}
	o.recompute(ctx, res.ConversationID)
	o.publish(ctx, domain.EventMessageFailed, res.ConversationID, &msg, "", cause)
	o.deps.Logger.Warn("stream failed after partial content",
		"conversation_id", res.ConversationID,
		"bytes", len(res.Content),
		"error", cause,
	)
	return cause
}

// aborted stops without further writes. The placeholder keeps whatever was
// last persisted.
func (o *Orchestrator) aborted(ctx context.Context, res *SendResult, placeholder *domain.Message, cause error) error {
	o.setPhase(PhaseAborted)
	res.Phase = PhaseAborted
	snap := *placeholder
	snap.Body = domain.Streaming{Partial: res.Content}
	res.Assistant = &snap
	o.publish(ctx, domain.EventMessageFailed, res.ConversationID, &snap, "", cause)
	o.deps.Logger.Info("request aborted", "conversation_id", res.ConversationID, "cause", cause)
	return cause
}

func abortCause(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = err
	}
	if errors.Is(cause, domain.ErrAborted) {
		return cause
	}
	return fmt.Errorf("%w: %w", domain.ErrAborted, cause)
}

func (o *Orchestrator) recompute(ctx context.Context, convID string) {
	if err := o.deps.Store.RecomputeConversation(ctx, convID); err != nil {
		o.deps.Logger.Warn("recompute conversation failed", "conversation_id", convID, "error", err)
	}
	o.refresh(ctx, convID)
}

func (o *Orchestrator) refresh(ctx context.Context, convID string) {
	if _, err := o.deps.State.RefreshConversation(ctx, convID); err != nil {
		o.deps.Logger.Warn("refresh conversation failed", "conversation_id", convID, "error", err)
		return
	}
	o.publish(ctx, domain.EventConversationUpdated, convID, nil, "", nil)
}

func (o *Orchestrator) publish(ctx context.Context, typ domain.EventType, convID string, msg *domain.Message, delta string, err error) {
	if o.deps.Projection == nil {
		return
	}
	o.deps.Projection.Apply(ctx, domain.Event{
		Type:           typ,
		Timestamp:      o.now(),
		ConversationID: convID,
		Message:        msg,
		Delta:          delta,
		Err:            err,
	})
}
