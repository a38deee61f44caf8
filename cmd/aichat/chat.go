package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"aichat/internal/adapter/tui/theme"
	"aichat/internal/domain"
	"aichat/internal/usecase"
)

const chatHelp = `Commands:
  /new [name]        start a new conversation
  /list              list conversations
  /switch <id>       continue another conversation
  /history           print the current conversation
  /rename <name>     rename the current conversation
  /delete            delete the current conversation
  /provider [id]     show or select the provider
  /model [id]        show or select the model
  /image <path>      attach an image to the next message
  /images clear      drop pending attachments
  /quit              exit (Ctrl-D works too)
Ctrl-C stops a response while it streams.`

func runChat(args []string) error {
	fs, cfgFlag := newFlagSet("chat")
	convID := fs.String("c", "", "conversation ID to continue")
	newConv := fs.Bool("new", false, "start with a new conversation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx, *cfgFlag)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.printer.Attach(a.bus)()

	switch {
	case *newConv:
		err = a.showConversation(ctx, "")
	case *convID != "":
		err = a.showConversation(ctx, *convID)
	default:
		err = a.showConversation(ctx, a.state.CurrentConversationID())
	}
	if err != nil {
		return err
	}

	// Ctrl-C stops the running response; at the prompt it only reminds how
	// to leave.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go func() {
		for range sig {
			if !a.orch.Cancel() {
				fmt.Fprintln(os.Stderr, theme.TextMuted.Render("\n(type /quit or press Ctrl-D to exit)"))
			}
		}
	}()

	s := &chatSession{app: a, out: os.Stdout}
	s.greet()
	return s.loop(ctx, os.Stdin)
}

// chatSession is the state of one interactive chat.
type chatSession struct {
	*app
	out     io.Writer
	pending []domain.Image
}

func (s *chatSession) greet() {
	if conv, ok := s.state.CurrentConversation(); ok {
		fmt.Fprintf(s.out, "%s %s (%d messages)\n", theme.Bold.Render("Continuing"), conv.Name, conv.MessageCount)
	} else {
		fmt.Fprintln(s.out, theme.Bold.Render("New conversation"))
	}
	fmt.Fprintln(s.out, theme.TextMuted.Render("Type /help for commands."))
}

func (s *chatSession) prompt() string {
	model := s.state.SelectedModel()
	if model == "" {
		model = "no model"
	}
	p := model
	if n := len(s.pending); n > 0 {
		p += fmt.Sprintf(" +%d image(s)", n)
	}
	return theme.Prompt.Render(p+" >") + " "
}

func (s *chatSession) loop(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(s.out, s.prompt())
		if !sc.Scan() {
			fmt.Fprintln(s.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "/") {
			quit, err := s.command(ctx, line)
			if err != nil {
				fmt.Fprintln(os.Stderr, humanize(err))
			}
			if quit {
				return nil
			}
			continue
		}
		if line == "" && len(s.pending) == 0 {
			continue
		}
		s.send(ctx, line)
	}
}

func (s *chatSession) send(ctx context.Context, text string) {
	res, err := s.orch.SendMessage(ctx, usecase.SendInput{Text: text, Images: s.pending})
	if res != nil {
		// The submission was persisted; attachments went with it.
		s.pending = nil
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, humanize(err))
		return
	}
	if res.Skipped > 0 {
		s.log.Debug("response had unreadable frames", "skipped", res.Skipped)
	}
}

// command runs a slash command. It reports whether the session should end.
func (s *chatSession) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprintln(s.out, chatHelp)
	case "new":
		conv, err := s.state.CreateConversation(ctx, arg)
		if err != nil {
			return false, err
		}
		s.view.Reset(conv.ID, nil)
		fmt.Fprintf(s.out, "%s %s\n", theme.TextSuccess.Render(theme.Symbols.Success), conv.Name)
	case "list":
		printConversations(s.out, s.state.Conversations(), s.state.CurrentConversationID())
	case "switch":
		if arg == "" {
			return false, domain.NewDomainError("chat", domain.ErrValidation, "Usage: /switch <conversation id>")
		}
		if err := s.showConversation(ctx, arg); err != nil {
			return false, err
		}
		fmt.Fprint(s.out, s.printer.Transcript(s.view.Messages()))
	case "history":
		fmt.Fprint(s.out, s.printer.Transcript(s.view.Messages()))
	case "rename":
		id := s.state.CurrentConversationID()
		if id == "" {
			return false, domain.NewDomainError("chat", domain.ErrValidation, "No conversation to rename yet.")
		}
		return false, s.state.RenameConversation(ctx, id, arg)
	case "delete":
		id := s.state.CurrentConversationID()
		if id == "" {
			return false, domain.NewDomainError("chat", domain.ErrValidation, "No conversation to delete.")
		}
		if err := s.state.DeleteConversation(ctx, id); err != nil {
			return false, err
		}
		s.view.Reset("", nil)
		fmt.Fprintln(s.out, theme.TextMuted.Render("Conversation deleted."))
	case "provider":
		if arg == "" {
			printProviders(s.out, s.state)
			return false, nil
		}
		return false, s.state.SelectProvider(ctx, arg)
	case "model":
		if arg == "" {
			for _, m := range s.state.AvailableModels() {
				fmt.Fprintf(s.out, "  %s %s\n", theme.Symbols.Bullet, m.ID)
			}
			return false, nil
		}
		return false, s.state.SelectModel(ctx, arg)
	case "image":
		img, err := loadImage(arg)
		if err != nil {
			return false, err
		}
		s.pending = append(s.pending, img)
	case "images":
		if arg == "clear" {
			s.pending = nil
		}
	default:
		return false, domain.NewDomainError("chat", domain.ErrValidation,
			fmt.Sprintf("Unknown command /%s. Type /help for the list.", name))
	}
	return false, nil
}
