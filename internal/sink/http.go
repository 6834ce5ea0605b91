// Package sink delivers flushed flows from the capture agent to their consumers.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"AegisNet/internal/config"
	"AegisNet/internal/model"
)

const (
	defaultHTTPTimeout = 750 * time.Millisecond
	httpConcurrency    = 8
)

// HTTPSink posts each flow to the inference service's /ingest endpoint.
type HTTPSink struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

var _ model.FlowSink = (*HTTPSink)(nil)

// NewHTTPSink creates an HTTP sink. A zero timeout falls back to 750ms per request.
func NewHTTPSink(cfg config.HTTPSinkConfig, logger *slog.Logger) (*HTTPSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http sink requires a url")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPSink{
		url:     cfg.URL,
		timeout: timeout,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: httpConcurrency,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With("component", "http-sink"),
	}, nil
}

// Name identifies the sink in logs and metrics.
func (s *HTTPSink) Name() string { return "http" }

// Deliver posts every event, a few at a time. Each event gets its own error slot.
func (s *HTTPSink) Deliver(ctx context.Context, events []model.IngestEvent) []error {
	errs := make([]error, len(events))
	sem := make(chan struct{}, httpConcurrency)
	var wg sync.WaitGroup
	for i := range events {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = s.post(ctx, events[i])
		}(i)
	}
	wg.Wait()
	return errs
}

func (s *HTTPSink) post(ctx context.Context, ev model.IngestEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: encode flow: %v", model.ErrMalformed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", model.ErrFatal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post %s: %v", model.ErrTransient, s.url, err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: ingest returned %d: %s", model.ErrTransient, resp.StatusCode, bytes.TrimSpace(msg))
	default:
		return fmt.Errorf("%w: ingest returned %d: %s", model.ErrMalformed, resp.StatusCode, bytes.TrimSpace(msg))
	}
}

// Close releases idle connections.
func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
