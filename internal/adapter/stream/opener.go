package stream

import (
	"context"
	"io"
	"log/slog"

	"aichat/internal/domain"
)

var _ domain.StreamOpener = (*Opener)(nil)

// BodyOpener returns the raw response body of a chat-completions call.
// *provider.Client implements it.
type BodyOpener interface {
	Open(ctx context.Context, req *domain.HTTPRequest) (io.ReadCloser, error)
}

// Opener decodes the bodies returned by a BodyOpener.
type Opener struct {
	client BodyOpener
	logger *slog.Logger
}

// NewOpener wraps client.
func NewOpener(client BodyOpener, logger *slog.Logger) *Opener {
	return &Opener{client: client, logger: logger}
}

// OpenStream implements domain.StreamOpener.
func (o *Opener) OpenStream(ctx context.Context, req *domain.HTTPRequest) (domain.DeltaStream, error) {
	body, err := o.client.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	return New(ctx, body, o.logger), nil
}
