package provider

import (
	"net"
	"net/http"
	"time"

	"aichat/internal/infra/config"
)

// Default connection pool settings. Chat clients talk to very few hosts
// and keep connections open for the length of a stream.
const (
	defaultMaxIdleConns        = 10
	defaultMaxIdleConnsPerHost = 4
	defaultIdleConnTimeout     = 90 * time.Second
	defaultConnTimeout         = 30 * time.Second
)

// NewPooledTransport creates an http.Transport for provider calls.
// A zero ResponseHeaderTimeout means no limit; once headers arrive the body
// is read without any deadline, so callers bound it with their context.
func NewPooledTransport(cfg config.HTTPConfig) *http.Transport {
	connTimeout := cfg.ConnTimeout
	if connTimeout <= 0 {
		connTimeout = defaultConnTimeout
	}
	maxIdle := cfg.Pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := cfg.Pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	idleTimeout := cfg.Pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       cfg.Pool.MaxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		ForceAttemptHTTP2:     true,
	}
}
