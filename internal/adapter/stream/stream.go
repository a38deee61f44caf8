package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"aichat/internal/domain"
)

const readSize = 4096

// Stream yields the deltas of a response body one at a time:
//
//	s := stream.New(ctx, body, logger)
//	defer s.Close()
//	for s.Next() {
//		fmt.Print(s.Delta())
//	}
//	switch s.State() { ... }
//
// The body is closed as soon as the stream reaches a terminal state, when ctx
// is cancelled, or on Close. A Stream is single-pass and not safe for
// concurrent use, except that Close may be called from any goroutine.
type Stream struct {
	ctx    context.Context
	body   io.ReadCloser
	dec    Decoder
	logger *slog.Logger

	stopWatch func() bool
	closeOnce sync.Once
	closeErr  error

	buf     []byte
	pending []string
	delta   string

	mu    sync.Mutex
	state domain.StreamState
	err   error
}

// New starts decoding body. Cancelling ctx aborts the stream and closes the
// body, which also unblocks a pending Read.
func New(ctx context.Context, body io.ReadCloser, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Stream{
		ctx:    ctx,
		body:   body,
		logger: logger,
		buf:    make([]byte, readSize),
	}
	s.dec.OnSkip = func(payload []byte) {
		s.logger.Debug("skipped stream frame", "bytes", len(payload))
	}
	s.stopWatch = context.AfterFunc(ctx, func() { s.closeBody() })
	return s
}

// Next advances to the next delta. It returns false once the stream is in a
// terminal state and every delta decoded before that point was returned.
func (s *Stream) Next() bool {
	for {
		if !s.State().Terminal() && s.ctx.Err() != nil {
			s.finish(domain.StreamAborted, fmt.Errorf("%w: %w", domain.ErrAborted, context.Cause(s.ctx)))
		}
		if s.State() == domain.StreamAborted {
			s.pending = nil
		}
		if len(s.pending) > 0 {
			s.delta = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		if s.State().Terminal() {
			s.delta = ""
			return false
		}
		s.read()
	}
}

func (s *Stream) read() {
	n, err := s.body.Read(s.buf)
	if n > 0 {
		deltas, done := s.dec.Feed(s.buf[:n])
		s.pending = append(s.pending, deltas...)
		if done {
			s.finish(domain.StreamCompleted, nil)
			return
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		// Source exhausted without the end marker; an unterminated tail is dropped.
		if s.dec.Pending() > 0 {
			s.logger.Debug("dropping unterminated stream tail", "bytes", s.dec.Pending())
		}
		s.finish(domain.StreamCompleted, nil)
	case s.ctx.Err() != nil:
		s.finish(domain.StreamAborted, fmt.Errorf("%w: %w", domain.ErrAborted, context.Cause(s.ctx)))
	default:
		s.finish(domain.StreamFailed, fmt.Errorf("%w: %w", domain.ErrStreamDecode, err))
	}
}

// finish moves to a terminal state once and releases the body.
func (s *Stream) finish(state domain.StreamState, err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state, s.err = state, err
	s.mu.Unlock()

	s.stopWatch()
	s.closeBody()
}

func (s *Stream) closeBody() {
	s.closeOnce.Do(func() { s.closeErr = s.body.Close() })
}

// Delta returns the delta produced by the last successful Next.
func (s *Stream) Delta() string { return s.delta }

// State returns the current state; StreamOpen until a terminal state is reached.
func (s *Stream) State() domain.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error: nil for Completed, an error wrapping
// domain.ErrAborted or domain.ErrStreamDecode otherwise.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Skipped returns the number of frames that carried no delta.
func (s *Stream) Skipped() int { return s.dec.Skipped() }

// Close aborts an open stream and releases the body. It is idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.state, s.err = domain.StreamAborted, domain.ErrAborted
	}
	s.mu.Unlock()
	s.stopWatch()
	s.closeBody()
	return s.closeErr
}
