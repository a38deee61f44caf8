package domain

import "context"

// StreamState is the terminal (or current) state of a decoded stream.
type StreamState int

const (
	StreamOpen StreamState = iota
	StreamCompleted
	StreamAborted
	StreamFailed
)

func (s StreamState) String() string {
	switch s {
	case StreamOpen:
		return "open"
	case StreamCompleted:
		return "completed"
	case StreamAborted:
		return "aborted"
	case StreamFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no more deltas can follow.
func (s StreamState) Terminal() bool { return s != StreamOpen }

// DeltaStream is a single-pass sequence of decoded text deltas.
type DeltaStream interface {
	Next() bool
	Delta() string
	State() StreamState
	Err() error
	Skipped() int
	Close() error
}

// StreamOpener sends a chat-completions request and returns its decoded
// response stream. Cancelling ctx aborts the stream.
type StreamOpener interface {
	OpenStream(ctx context.Context, req *HTTPRequest) (DeltaStream, error)
}
