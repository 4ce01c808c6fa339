package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPSink posts events to an HTTP endpoint.
type HTTPSink struct {
	endpoint string
	client   *http.Client
	retries  uint64
	delay    time.Duration
	log      *slog.Logger
}

// NewHTTPSink creates a sink posting to endpoint.
func NewHTTPSink(endpoint string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		retries:  2,
		delay:    time.Second,
		log:      slog.With("component", "audit"),
	}
}

// Post sends an event, retrying with exponential backoff.
// Client errors (4xx) are not retried.
func (s *HTTPSink) Post(ctx context.Context, evt *Event) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.delay
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, s.retries), ctx)

	notify := func(err error, next time.Duration) {
		s.log.Warn("event post failed, retrying", "endpoint", s.endpoint, "backoff_ms", next.Milliseconds(), "error", err)
	}

	if err := backoff.RetryNotify(func() error { return s.post(ctx, evt) }, b, notify); err != nil {
		return fmt.Errorf("post event to %s: %w", s.endpoint, err)
	}
	return nil
}

func (s *HTTPSink) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal event: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return backoff.Permanent(err)
	}
	return err
}
