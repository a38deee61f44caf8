package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichat/internal/domain"
	"aichat/internal/infra/config"
	"aichat/internal/infra/logger"
)

func newTestClient(cfg config.HTTPConfig) *Client {
	return NewClient(cfg, logger.Discard())
}

func postTo(url string) *domain.HTTPRequest {
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-test")
	h.Set("Content-Type", "application/json")
	return &domain.HTTPRequest{URL: url, Header: h, Body: []byte(`{"model":"m","stream":true}`)}
}

func TestClientOpenStreamsBody(t *testing.T) {
	var gotAuth, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := newTestClient(config.HTTPConfig{})
	body, err := c.Open(context.Background(), postTo(srv.URL+"/chat/completions"))
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: [DONE]\n\n", string(data))
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestClientWithoutLogger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	c := NewClient(config.HTTPConfig{}, nil)

	_, err := c.Open(context.Background(), postTo(srv.URL+"/chat/completions"))
	var pe *domain.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)

	// Nothing listens any more: the connection failure is logged too.
	srv.Close()
	_, err = c.Open(context.Background(), postTo(srv.URL+"/chat/completions"))
	assert.ErrorIs(t, err, domain.ErrNetwork)
}

func TestClientProtocolErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"error.message wins", 400, `{"error":{"message":"bad model"},"message":"m","detail":"d"}`, "bad model"},
		{"message next", 400, `{"message":"from message","detail":"d"}`, "from message"},
		{"detail last", 422, `{"detail":"from detail"}`, "from detail"},
		{"non-string ignored", 401, `{"error":{"message":{"nested":true}}}`, "Authentication failed. Please check your API key."},
		{"html body", 503, `<html>down</html>`, "Service temporarily unavailable. Please try again later."},
		{"403", 403, ``, "Access forbidden. Your API key may not have permission for this model."},
		{"404", 404, ``, "Model not found. Please check if the selected model is available."},
		{"429", 429, `{}`, "Rate limit exceeded. Please wait a moment before trying again."},
		{"500", 500, ``, "Server error occurred. Please try again later."},
		{"unknown code", 418, ``, "API request failed: 418 I'm a teapot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := newTestClient(config.HTTPConfig{})
			_, err := c.Open(context.Background(), postTo(srv.URL))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrProtocol)

			var pe *domain.ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.wantMsg, domain.UserMessage(err))
		})
	}
}

func TestClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(config.HTTPConfig{ConnTimeout: time.Second})
	_, err := c.Open(context.Background(), postTo(url))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Equal(t, networkErrorDetail, domain.UserMessage(err))
}

func TestClientAbortedByContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := newTestClient(config.HTTPConfig{})
	_, err := c.Open(ctx, postTo(srv.URL))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAborted)
	assert.NotErrorIs(t, err, domain.ErrNetwork)
}

func TestClientInvalidURL(t *testing.T) {
	c := newTestClient(config.HTTPConfig{})
	_, err := c.Open(context.Background(), postTo("://bad"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestClientBreakerOpensOn5xxOnly(t *testing.T) {
	var hits, status atomic.Int32
	status.Store(http.StatusBadRequest)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c := newTestClient(config.HTTPConfig{CircuitBreaker: config.CircuitBreakerConfig{
		Enabled:     true,
		MaxFailures: 2,
		Timeout:     time.Minute,
	}})

	// Client errors never trip the breaker.
	for range 3 {
		_, err := c.Open(context.Background(), postTo(srv.URL))
		require.ErrorIs(t, err, domain.ErrProtocol)
	}
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState(srv.URL))

	status.Store(http.StatusInternalServerError)
	for range 2 {
		_, err := c.Open(context.Background(), postTo(srv.URL))
		require.ErrorIs(t, err, domain.ErrProtocol)
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState(srv.URL))

	before := hits.Load()
	_, err := c.Open(context.Background(), postTo(srv.URL))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Equal(t, "Service temporarily unavailable. Please try again later.", domain.UserMessage(err))
	assert.Equal(t, before, hits.Load(), "open breaker must not reach the server")
}

func TestClientRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	c := newTestClient(config.HTTPConfig{RateLimit: config.RateLimitConfig{RequestsPerMinute: 1, Burst: 1}})
	body, err := c.Open(context.Background(), postTo(srv.URL))
	require.NoError(t, err)
	body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Open(ctx, postTo(srv.URL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAborted))
}

func TestTripsBreaker(t *testing.T) {
	assert.False(t, tripsBreaker(nil))
	assert.False(t, tripsBreaker(&domain.ProtocolError{StatusCode: 429}))
	assert.True(t, tripsBreaker(&domain.ProtocolError{StatusCode: 502}))
	assert.True(t, tripsBreaker(domain.NewDomainError("op", domain.ErrNetwork, "")))
	assert.False(t, tripsBreaker(domain.ErrAborted))
}

func TestNewPooledTransportDefaults(t *testing.T) {
	tr := NewPooledTransport(config.HTTPConfig{})
	assert.Equal(t, defaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, defaultIdleConnTimeout, tr.IdleConnTimeout)
	assert.Zero(t, tr.ResponseHeaderTimeout)

	tr = NewPooledTransport(config.HTTPConfig{
		ResponseHeaderTimeout: 5 * time.Second,
		Pool:                  config.PoolConfig{MaxIdleConns: 3, MaxConnsPerHost: 2},
	})
	assert.Equal(t, 3, tr.MaxIdleConns)
	assert.Equal(t, 2, tr.MaxConnsPerHost)
	assert.Equal(t, 5*time.Second, tr.ResponseHeaderTimeout)
}
