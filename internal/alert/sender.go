package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sentrymon/sentrymon/internal/events"
	"github.com/sentrymon/sentrymon/internal/metrics"
	"github.com/sentrymon/sentrymon/internal/timewindow"
)

const deliveryMethod = "webhook"

var backoffSchedule = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

// Config is the subset of MonitorConfig the Sender needs, accepted by
// value so callers don't hand the Sender a pointer into mutable state.
type Config struct {
	Webhook          string
	SecretKey        string
	Timeout          time.Duration
	RateLimit        int
}

// Sender delivers CRITICAL/HIGH events to the configured webhook, per
// spec.md §4.8.
type Sender struct {
	cfg     Config
	client  *http.Client
	limiter *timewindow.Window
	metrics metrics.Registry
	log     *zap.Logger
}

// New returns a Sender. metrics and log must not be nil; pass a no-op
// logger in tests if desired.
func New(cfg Config, reg metrics.Registry, log *zap.Logger) *Sender {
	return &Sender{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: timewindow.New(60 * time.Second),
		metrics: reg,
		log:     log,
	}
}

// Send implements pipeline.AlertSink. Blocks for the duration of the HTTP
// call plus any retries, so the pipeline calls it on a separate goroutine
// rather than inline in its drain loop.
func (s *Sender) Send(e events.Event) {
	if s.cfg.Webhook == "" {
		return
	}
	if !s.limiter.Allow(time.Now(), s.cfg.RateLimit) {
		s.log.Warn("alert dropped: rate limit exceeded",
			zap.String("event_id", e.ID), zap.Int("alert_rate_limit", s.cfg.RateLimit))
		s.metrics.AlertFailed(deliveryMethod)
		return
	}
	if err := s.deliver(e); err != nil {
		s.log.Error("alert delivery failed after retries", zap.String("event_id", e.ID), zap.Error(err))
		s.metrics.AlertFailed(deliveryMethod)
		return
	}
	s.metrics.AlertSent(deliveryMethod)
}

func (s *Sender) deliver(e events.Event) error {
	now := time.Now()
	_, canonical, err := buildEnvelope(e, now)
	if err != nil {
		return err
	}
	signature := sign(s.cfg.SecretKey, canonical)

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = s.post(canonical, now, signature)
		if lastErr == nil {
			return nil
		}
		perr, retryable := lastErr.(*postError)
		if !retryable || !perr.Retryable() {
			return lastErr
		}
		if attempt >= len(backoffSchedule) {
			return lastErr
		}
		time.Sleep(backoffSchedule[attempt])
	}
}

type postError struct {
	statusCode int // 0 for a transport-level failure
	err        error
}

func (e *postError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("alert webhook returned status %d", e.statusCode)
}

// Retryable reports whether this failure qualifies for retry under
// spec.md §4.8: network errors and 5xx, never 4xx.
func (e *postError) Retryable() bool {
	if e.statusCode == 0 {
		return true
	}
	return e.statusCode >= 500
}

func (s *Sender) post(body []byte, timestamp time.Time, signature string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Webhook, bytes.NewReader(body))
	if err != nil {
		return &postError{err: fmt.Errorf("alert: build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", timestamp.UTC().Format(time.RFC3339))
	req.Header.Set("X-Hub-Signature-256", signature)

	resp, err := s.client.Do(req)
	if err != nil {
		return &postError{err: fmt.Errorf("alert: post %s: %w", s.cfg.Webhook, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &postError{statusCode: resp.StatusCode}
	}
	return nil
}

// RequiresHTTPS reports whether webhook needs an https:// scheme — every
// host except localhost/127.0.0.1, per spec.md §4.8. Config.Validate
// already enforces this at load time; exported here so the Sender's own
// tests can exercise the same rule without importing internal/config.
func RequiresHTTPS(webhook string) bool {
	lower := strings.ToLower(webhook)
	return !strings.Contains(lower, "localhost") && !strings.Contains(lower, "127.0.0.1")
}
