// Package render prints conversations and streamed responses to a terminal.
package render

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"aichat/internal/adapter/tui/theme"
	"aichat/internal/domain"
	"aichat/internal/usecase/eventbus"
)

// Printer writes chat output to out. On a terminal a response is shown as a
// progress line while it streams and rendered as Markdown once complete;
// otherwise deltas are written as they arrive.
type Printer struct {
	out   io.Writer
	tty   bool
	width int

	mu       sync.Mutex
	md       *glamour.TermRenderer
	received int
}

// New creates a printer. width is the terminal width, 0 if unknown.
func New(out io.Writer, tty bool, width int) *Printer {
	if width <= 0 || width > theme.MaxContentWidth {
		width = theme.MaxContentWidth
	}
	return &Printer{out: out, tty: tty, width: width}
}

// Attach subscribes the printer to response events on bus. It returns a
// function that detaches it.
func (p *Printer) Attach(bus *eventbus.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(domain.EventMessageCreated, p.onCreated),
		bus.Subscribe(domain.EventMessageDelta, p.onDelta),
		bus.Subscribe(domain.EventMessageCompleted, p.onFinished),
		bus.Subscribe(domain.EventMessageFailed, p.onFinished),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (p *Printer) onCreated(_ context.Context, e domain.Event) {
	if e.Message == nil || e.Message.Role != domain.RoleAssistant {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = 0
	fmt.Fprintln(p.out, theme.AssistantLabel.Render(theme.Symbols.Assistant))
}

func (p *Printer) onDelta(_ context.Context, e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received += len(e.Delta)
	if !p.tty {
		io.WriteString(p.out, e.Delta)
		return
	}
	fmt.Fprintf(p.out, "\r%s", theme.TextMuted.Render(fmt.Sprintf("%s receiving%s %d bytes",
		theme.Symbols.Spinner, theme.Symbols.Ellipsis, p.received)))
}

func (p *Printer) onFinished(_ context.Context, e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.received = 0 }()
	if !p.tty {
		if p.received > 0 {
			fmt.Fprintln(p.out)
		}
		return
	}
	if p.received > 0 {
		io.WriteString(p.out, "\r\033[K")
	}
	if e.Message != nil && e.Message.Text() != "" {
		io.WriteString(p.out, p.markdown(e.Message.Text()))
	}
}

// Transcript renders a list of messages, oldest first.
func (p *Printer) Transcript(msgs []domain.Message) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.message(m))
	}
	return b.String()
}

func (p *Printer) message(m domain.Message) string {
	var b strings.Builder
	b.WriteString(roleLabel(m.Role))
	b.WriteString(" ")
	b.WriteString(theme.Timestamp.Render(m.Timestamp.Local().Format("2006-01-02 15:04")))
	if m.Loading() {
		b.WriteString(" " + theme.TextWarning.Render("(incomplete)"))
	}
	b.WriteString("\n")

	body := m.Text()
	if m.Role == domain.RoleAssistant && p.tty {
		b.WriteString(p.markdown(body))
	} else {
		b.WriteString(body)
		b.WriteString("\n")
	}
	for _, img := range domain.BodyImages(m.Body) {
		fmt.Fprintf(&b, "  %s %s\n", theme.Symbols.Bullet, theme.TextMuted.Render("image: "+img.Name))
	}
	if m.Error != "" {
		fmt.Fprintf(&b, "%s\n", theme.TextError.Render(theme.Symbols.Error+" "+m.Error))
	}
	return b.String()
}

func roleLabel(role string) string {
	switch role {
	case domain.RoleUser:
		return theme.UserLabel.Render(theme.Symbols.User)
	case domain.RoleAssistant:
		return theme.AssistantLabel.Render(theme.Symbols.Assistant)
	default:
		return theme.SystemLabel.Render(role)
	}
}

// markdown renders content, falling back to the raw text. Caller holds mu.
func (p *Printer) markdown(content string) string {
	if p.md == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(p.width),
		)
		if err != nil {
			return content + "\n"
		}
		p.md = r
	}
	out, err := p.md.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}
