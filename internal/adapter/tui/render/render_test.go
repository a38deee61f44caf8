package render

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"aichat/internal/domain"
	"aichat/internal/usecase/eventbus"
)

func TestPrinterStreamsPlainDeltas(t *testing.T) {
	var out bytes.Buffer
	bus := eventbus.New(nil)
	defer bus.Close()
	p := New(&out, false, 0)
	detach := p.Attach(bus)
	ctx := context.Background()

	ph := &domain.Message{ID: "a", Role: domain.RoleAssistant, Body: domain.Streaming{}}
	bus.Publish(ctx, domain.Event{Type: domain.EventMessageCreated, Message: &domain.Message{Role: domain.RoleUser}})
	bus.Publish(ctx, domain.Event{Type: domain.EventMessageCreated, Message: ph})
	bus.Publish(ctx, domain.Event{Type: domain.EventMessageDelta, Message: ph, Delta: "Hi"})
	bus.Publish(ctx, domain.Event{Type: domain.EventMessageDelta, Message: ph, Delta: " there"})
	bus.Publish(ctx, domain.Event{Type: domain.EventMessageCompleted, Message: &domain.Message{Body: domain.PlainText{Content: "Hi there"}}})

	assert.Contains(t, out.String(), "Assistant\n")
	assert.Contains(t, out.String(), "Hi there\n")

	detach()
	out.Reset()
	bus.Publish(ctx, domain.Event{Type: domain.EventMessageDelta, Delta: "ignored"})
	assert.Empty(t, out.String())
}

func TestPrinterNoNewlineWithoutContent(t *testing.T) {
	var out bytes.Buffer
	bus := eventbus.New(nil)
	defer bus.Close()
	New(&out, false, 0).Attach(bus)

	bus.Publish(context.Background(), domain.Event{Type: domain.EventMessageFailed})
	assert.Empty(t, out.String())
}

func TestTranscript(t *testing.T) {
	p := New(&bytes.Buffer{}, false, 80)
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	got := p.Transcript([]domain.Message{
		{Role: domain.RoleUser, Timestamp: ts, Body: domain.WithImages{
			Content: "what is this?",
			Images:  []domain.Image{{Name: "cat.png", MIMEType: "image/png", Data: "AA=="}},
		}},
		{Role: domain.RoleAssistant, Timestamp: ts, Body: domain.PlainText{Content: "A cat."}, Error: "Stream interrupted"},
		{Role: domain.RoleAssistant, Timestamp: ts, Body: domain.Streaming{Partial: "half"}},
	})

	assert.Contains(t, got, "what is this?")
	assert.Contains(t, got, "image: cat.png")
	assert.Contains(t, got, "A cat.")
	assert.Contains(t, got, "Stream interrupted")
	assert.Contains(t, got, "(incomplete)")
}
