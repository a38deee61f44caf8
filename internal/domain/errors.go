package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Every error produced by the chat core wraps exactly one
// of these so that callers can classify failures with errors.Is.
var (
	ErrValidation    = fmt.Errorf("validation failed")
	ErrConfiguration = fmt.Errorf("configuration error")
	ErrNetwork       = fmt.Errorf("network error")
	ErrProtocol      = fmt.Errorf("protocol error")
	ErrStreamDecode  = fmt.Errorf("stream read failed")
	ErrPersistence   = fmt.Errorf("persistence failed")
	ErrBusy          = fmt.Errorf("a request is already in flight")
	ErrAborted       = fmt.Errorf("request aborted")
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Orchestrator.SendMessage")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail, shown to the user when set
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ProtocolError is returned when a provider answers with a non-2xx status.
// Message is already human readable (derived from the body or the status).
type ProtocolError struct {
	StatusCode int
	Message    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s (status %d): %s", ErrProtocol, e.StatusCode, e.Message)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// UserMessage returns the text a UI should show for err. Details attached to
// a DomainError or ProtocolError win over the generic sentinel text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Message
	}
	var de *DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return err.Error()
}

// ErrorCode is a machine-parseable error category for logs and UI dispatch.
type ErrorCode string

const (
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeNetwork       ErrorCode = "NETWORK"
	CodeProtocol      ErrorCode = "PROTOCOL"
	CodeStreamDecode  ErrorCode = "STREAM_DECODE"
	CodePersistence   ErrorCode = "PERSISTENCE"
	CodeBusy          ErrorCode = "BUSY"
	CodeAborted       ErrorCode = "ABORTED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeDuplicate     ErrorCode = "DUPLICATE"
)

// errorCodeOrder is checked in order; the first sentinel matched wins.
// Wrapped chains such as a persistence failure caused by an abort resolve to
// the outermost category because persistence is listed first.
var errorCodeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrValidation, CodeValidation},
	{ErrConfiguration, CodeConfiguration},
	{ErrBusy, CodeBusy},
	{ErrPersistence, CodePersistence},
	{ErrProtocol, CodeProtocol},
	{ErrNetwork, CodeNetwork},
	{ErrStreamDecode, CodeStreamDecode},
	{ErrAborted, CodeAborted},
	{ErrNotFound, CodeNotFound},
	{ErrDuplicate, CodeDuplicate},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, e := range errorCodeOrder {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
