package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"aichat/internal/domain"
	"aichat/internal/usecase"
)

// runSend sends one message and prints the reply. Text comes from the
// arguments, or from stdin when the only argument is "-".
func runSend(args []string) error {
	fs, cfgFlag := newFlagSet("send")
	convID := fs.String("c", "", "conversation ID to continue (default: current)")
	newConv := fs.Bool("new", false, "send into a new conversation")
	model := fs.String("model", "", "model for this and later messages")
	var images []domain.Image
	fs.Func("image", "attach an image file (repeatable)", func(path string) error {
		img, err := loadImage(path)
		if err != nil {
			return errors.New(domain.UserMessage(err))
		}
		images = append(images, img)
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return err
	}

	text := strings.Join(fs.Args(), " ")
	if text == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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
	}
	if err != nil {
		return err
	}
	if *model != "" {
		if err := a.state.SelectModel(ctx, *model); err != nil {
			return err
		}
	}

	res, err := a.orch.SendMessage(ctx, usecase.SendInput{Text: text, Images: images})
	if err != nil {
		return err
	}
	a.log.Debug("send finished", "conversation_id", res.ConversationID, "phase", res.Phase.String())
	return nil
}
