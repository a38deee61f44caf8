package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Orchestrator.SendMessage", ErrValidation, "Message is empty.")
	want := "Orchestrator.SendMessage: Message is empty.: validation failed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Store.GetConversation", ErrNotFound, "")
	want := "Store.GetConversation: not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Store.ImportData", ErrDuplicate, "conversation 01H")
	if !errors.Is(err, ErrDuplicate) {
		t.Error("errors.Is should match ErrDuplicate")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("send: %w", NewDomainError("Provider.Build", ErrConfiguration, "missing base URL"))
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should find *DomainError")
	}
	if de.Op != "Provider.Build" || de.Detail != "missing base URL" {
		t.Errorf("unexpected error fields: op=%q detail=%q", de.Op, de.Detail)
	}
}

func TestWrapOp(t *testing.T) {
	if err := WrapOp("op", nil); err != nil {
		t.Errorf("WrapOp(nil) = %v", err)
	}

	err := WrapOp("Store.AddMessage", ErrPersistence)
	if want := "Store.AddMessage: persistence failed"; err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrPersistence) {
		t.Error("errors.Is should match ErrPersistence")
	}
}

func TestProtocolError(t *testing.T) {
	err := error(&ProtocolError{StatusCode: 401, Message: "Invalid API key"})
	if !errors.Is(err, ErrProtocol) {
		t.Error("errors.Is should match ErrProtocol")
	}
	if want := "protocol error (status 401): Invalid API key"; err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}

	var pe *ProtocolError
	if !errors.As(fmt.Errorf("connect: %w", err), &pe) {
		t.Fatal("errors.As should find *ProtocolError")
	}
	if pe.StatusCode != 401 {
		t.Errorf("status = %d, want 401", pe.StatusCode)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"protocol", fmt.Errorf("x: %w", &ProtocolError{StatusCode: 429, Message: "Slow down"}), "Slow down"},
		{"detail", NewDomainError("op", ErrValidation, "Message is empty."), "Message is empty."},
		{"no detail", NewDomainError("op", ErrBusy, ""), "op: a request is already in flight"},
		{"plain", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// --- ErrorCode tests ---

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"validation sentinel", ErrValidation, CodeValidation},
		{"network sentinel", ErrNetwork, CodeNetwork},
		{"decode sentinel", ErrStreamDecode, CodeStreamDecode},
		{"aborted sentinel", ErrAborted, CodeAborted},
		{"domain error", NewDomainError("AppState.SelectModel", ErrNotFound, "model x"), CodeNotFound},
		{"protocol error", &ProtocolError{StatusCode: 500}, CodeProtocol},
		// A failed final write caused by an abort is still a persistence failure.
		{"outermost category wins", fmt.Errorf("%w: final write: %w", ErrPersistence, ErrAborted), CodePersistence},
		{"unknown", fmt.Errorf("some random error"), CodeUnknown},
		{"nil", nil, CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCodeOf(tt.err); got != tt.want {
				t.Errorf("ErrorCodeOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDomainError_Code(t *testing.T) {
	err := NewDomainError("Orchestrator.SendMessage", ErrBusy, "")
	if err.Code() != CodeBusy {
		t.Errorf("Code() = %s, want %s", err.Code(), CodeBusy)
	}
}

func TestDomainError_CodeUnknownSentinel(t *testing.T) {
	err := NewDomainError("Op", fmt.Errorf("custom"), "detail")
	if err.Code() != CodeUnknown {
		t.Errorf("Code() = %s, want %s", err.Code(), CodeUnknown)
	}
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	if len(errorCodeOrder) == 0 {
		t.Fatal("errorCodeOrder is empty")
	}
	seen := map[ErrorCode]bool{}
	for _, e := range errorCodeOrder {
		if e.code == CodeUnknown {
			t.Errorf("sentinel %v maps to UNKNOWN", e.err)
		}
		if seen[e.code] {
			t.Errorf("code %s listed twice", e.code)
		}
		seen[e.code] = true
	}
}
