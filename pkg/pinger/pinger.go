package pinger

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/wakewatch/wakewatch/pkg/domain"
)

// HTTPPinger issues single GET requests to check endpoint liveness.
// A response in the 2xx-3xx range counts as success, the goal is "is the
// server awake", not semantic correctness.
type HTTPPinger struct {
	client    *http.Client
	userAgent string
}

// Config holds pinger configuration
type Config struct {
	ConnectTimeout time.Duration // dial timeout
	RequestTimeout time.Duration // overall per-request timeout
	UserAgent      string
}

// NewHTTPPinger creates a new pinger with bounded timeouts
func NewHTTPPinger(cfg Config) *HTTPPinger {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; Wakewatch/1.0)"
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.RequestTimeout,
	}

	return &HTTPPinger{
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		userAgent: cfg.UserAgent,
	}
}

// Ping issues one GET request against the given URL and classifies the
// outcome. No retries, retry policy lives with the scheduler. Transport
// faults and non-success statuses both come back as a failed outcome,
// never as an error.
func (p *HTTPPinger) Ping(ctx context.Context, url string) domain.PingOutcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return domain.PingOutcome{Success: false, ErrorDetail: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.PingOutcome{Success: false, ErrorDetail: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusBadRequest {
		return domain.PingOutcome{Success: true, HTTPStatus: resp.StatusCode}
	}

	return domain.PingOutcome{
		Success:     false,
		HTTPStatus:  resp.StatusCode,
		ErrorDetail: fmt.Sprintf("unexpected status: %s", resp.Status),
	}
}
