// Package uxerror turns chat errors into short messages with recovery hints
// for the terminal.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"aichat/internal/adapter/tui/theme"
	"aichat/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Authentication Failed"
	Message string   // what happened, in the user's terms
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text (for debug)
}

// Render formats the error for the terminal.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(theme.TextError.Render(theme.Symbols.Error + " " + fe.Title))
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	for _, h := range fe.Hints {
		sb.WriteString(fmt.Sprintf("\n    %s %s", theme.Symbols.Bullet, theme.TextMuted.Render(h)))
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	{
		match:   isSentinel(domain.ErrAborted),
		produce: friendly("Stopped", "The response was cancelled. Anything received so far was kept."),
	},
	{
		match:   isSentinel(domain.ErrBusy),
		produce: friendly("Still Responding", "", "Wait for the current answer or press Ctrl-C to stop it"),
	},
	{
		match:   isSentinel(domain.ErrValidation),
		produce: friendly("Cannot Send", ""),
	},
	{
		match: isSentinel(domain.ErrConfiguration),
		produce: friendly("Configuration Problem", "",
			"Run 'aichat providers list' to check the selected provider",
			"Set the key with AICHAT_PROVIDER_<ID>_API_KEY or 'aichat providers add'"),
	},
	{
		match: status(401, 403),
		produce: friendly("Authentication Failed", "",
			"Check the API key of the selected provider",
			"Verify the key hasn't expired"),
	},
	{
		match:   status(402),
		produce: friendly("Quota Exceeded", "", "Add credits in the provider's billing dashboard"),
	},
	{
		match:   status(429),
		produce: friendly("Rate Limited", "", "Wait a moment before retrying"),
	},
	{
		match:   isSentinel(domain.ErrProtocol),
		produce: friendly("Provider Error", "", "Try again, or pick another model with 'aichat providers select'"),
	},
	{
		match: isSentinel(domain.ErrNetwork),
		produce: friendly("Connection Failed", "",
			"Check your internet connection",
			"Verify base_url of custom providers"),
	},
	{
		match:   isSentinel(domain.ErrStreamDecode),
		produce: friendly("Response Interrupted", "", "The partial answer was saved; send the message again to retry"),
	},
	{
		match:   isSentinel(domain.ErrPersistence),
		produce: friendly("Could Not Save", "", "Check free disk space and permissions of the data directory"),
	},
	{
		match:   isSentinel(domain.ErrNotFound),
		produce: friendly("Not Found", "", "Run 'aichat conversations list' to see what exists"),
	},
	{
		match:   isSentinel(domain.ErrDuplicate),
		produce: friendly("Already Exists", ""),
	},
}

// Humanize converts err into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with AICHAT_LOGGER_LEVEL=debug for more details"},
		Raw:     err.Error(),
	}
}

func isSentinel(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// status matches protocol errors carrying one of codes.
func status(codes ...int) func(error) bool {
	return func(err error) bool {
		var pe *domain.ProtocolError
		if !errors.As(err, &pe) {
			return false
		}
		for _, c := range codes {
			if pe.StatusCode == c {
				return true
			}
		}
		return false
	}
}

// friendly builds a FriendlyError. An empty message falls back to the
// error's own user message.
func friendly(title, message string, hints ...string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		msg := message
		if msg == "" {
			msg = domain.UserMessage(err)
		}
		return FriendlyError{
			Title:   title,
			Message: msg,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
