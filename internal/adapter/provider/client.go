package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"aichat/internal/domain"
	"aichat/internal/infra/config"
	"aichat/internal/infra/tracer"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// Client opens chat-completions streams. It guards connection establishment
// with a per-host circuit breaker and an optional client-side rate limit.
// Bytes read from an open stream are not subject to any client deadline.
type Client struct {
	http    *http.Client
	cb      config.CircuitBreakerConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// NewClient creates a Client from the HTTP section of the config.
func NewClient(cfg config.HTTPConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		// No Client.Timeout: it would also cap reading the streamed body.
		http:     &http.Client{Transport: NewPooledTransport(cfg)},
		cb:       cfg.CircuitBreaker,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
	if cfg.RateLimit.RequestsPerMinute > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimit.RequestsPerMinute)/60.0), burst)
	}
	return c
}

// NewClientWithHTTP is NewClient with a caller-supplied *http.Client.
func NewClientWithHTTP(hc *http.Client, cfg config.HTTPConfig, logger *slog.Logger) *Client {
	c := NewClient(cfg, logger)
	c.http = hc
	return c
}

// Open sends req and returns the response body of a 2xx answer. The caller
// owns the body and must close it.
//
// Errors wrap domain.ErrNetwork when no connection could be made (including
// an open circuit), domain.ErrProtocol (as *domain.ProtocolError) for non-2xx
// answers, domain.ErrAborted when ctx ended first, and domain.ErrConfiguration
// for an unusable URL.
func (c *Client) Open(ctx context.Context, req *domain.HTTPRequest) (io.ReadCloser, error) {
	ctx, span := tracer.StartSpan(ctx, "provider.open",
		trace.WithAttributes(tracer.StringAttr("http.url", req.URL)),
	)
	defer span.End()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			err = fmt.Errorf("%w: rate limit wait: %w", domain.ErrAborted, err)
			tracer.RecordError(span, err)
			return nil, err
		}
	}

	var (
		resp *http.Response
		err  error
	)
	if c.cb.Enabled {
		resp, err = c.breakerFor(req.URL).Execute(func() (*http.Response, error) {
			return c.do(ctx, req)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = domain.NewDomainError("provider.Open", domain.ErrNetwork,
				"Service temporarily unavailable. Please try again later.")
		}
	} else {
		resp, err = c.do(ctx, req)
	}
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(tracer.IntAttr("http.status_code", resp.StatusCode))
	tracer.SetOK(span)
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, req *domain.HTTPRequest) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, domain.NewDomainError("provider.Open", domain.ErrConfiguration,
			fmt.Sprintf("Invalid provider URL %q.", req.URL))
	}
	httpReq.Header = req.Header.Clone()

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrAborted, ctx.Err())
		}
		c.logger.Warn("provider connection failed", "url", req.URL, "error", err)
		return nil, &domain.DomainError{Op: "provider.Open", Err: fmt.Errorf("%w: %w", domain.ErrNetwork, err), Detail: networkErrorDetail}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		perr := newProtocolError(httpResp.StatusCode, body)
		c.logger.Warn("provider rejected request",
			"url", req.URL,
			"status", httpResp.StatusCode,
			"message", perr.Message,
		)
		return nil, perr
	}
	return httpResp, nil
}

// breakerFor returns the circuit breaker for the request's host.
func (c *Client) breakerFor(rawURL string) *gobreaker.CircuitBreaker[*http.Response] {
	key := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		key = u.Host
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[key]; ok {
		return cb
	}

	maxFailures := c.cb.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := c.cb.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := c.cb.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "provider:" + key,
		MaxRequests: 1, // allow 1 trial request in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return !tripsBreaker(err)
		},
	})
	c.breakers[key] = cb
	return cb
}

// tripsBreaker reports whether err counts as a provider outage. Client-side
// problems (4xx, aborts) do not.
func tripsBreaker(err error) bool {
	if err == nil {
		return false
	}
	var pe *domain.ProtocolError
	if errors.As(err, &pe) {
		return pe.StatusCode >= 500
	}
	return errors.Is(err, domain.ErrNetwork)
}

// BreakerState returns the breaker state for the host of rawURL.
func (c *Client) BreakerState(rawURL string) gobreaker.State {
	return c.breakerFor(rawURL).State()
}
