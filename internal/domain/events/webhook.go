package events

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mentora/engine/internal/infrastructure/logging"
	"github.com/mentora/engine/internal/infrastructure/monitoring"
	"github.com/mentora/engine/internal/infrastructure/resilience"
	"github.com/mentora/engine/internal/infrastructure/tracing"
)

// ErrRejected is returned when the receiver answers with a 4xx status.
// Rejections are not retried and do not count against the breaker.
var ErrRejected = errors.New("webhook rejected event")

// Header names sent with every delivery.
const (
	HeaderEventType      = "X-Mentora-Event"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// WebhookConfig configures progress webhook delivery.
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
	// RPS caps deliveries per second; zero means unlimited.
	RPS float64
}

// DefaultWebhookConfig returns a 5s timeout with three retries.
func DefaultWebhookConfig(url string) WebhookConfig {
	return WebhookConfig{
		URL:        url,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// Webhook posts events to the external progress tracker.
type Webhook struct {
	url     string
	client  *retryablehttp.Client
	breaker *resilience.Breaker
	limiter *rate.Limiter
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewWebhook creates a webhook sink.
func NewWebhook(cfg WebhookConfig, logger *logging.Logger) *Webhook {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = cfg.MinWait
	client.RetryWaitMax = cfg.MaxWait
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	w := &Webhook{
		url:     cfg.URL,
		client:  client,
		limiter: limiter,
		logger:  logging.OrNop(logger).Named("webhook"),
	}
	w.breaker = resilience.New("progress-webhook", resilience.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsFailure: func(err error) bool {
			return !errors.Is(err, ErrRejected) && !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			w.logger.Warn("Webhook breaker state changed",
				zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	return w
}

// WithMetrics enables metrics.
func (w *Webhook) WithMetrics(m *monitoring.Metrics) *Webhook {
	w.metrics = m
	return w
}

// Breaker exposes the delivery breaker.
func (w *Webhook) Breaker() *resilience.Breaker {
	return w.breaker
}

// Deliver posts one event. Transport errors and 5xx answers are retried by
// the client; a 4xx answer returns ErrRejected.
func (w *Webhook) Deliver(ctx context.Context, e Event) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	err := w.breaker.Execute(ctx, func(ctx context.Context) error {
		return w.post(ctx, e)
	})

	switch {
	case err == nil:
		w.metrics.RecordWebhook("delivered")
	case errors.Is(err, ErrRejected):
		w.metrics.RecordWebhook("rejected")
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		w.metrics.RecordWebhook("circuit_open")
	default:
		w.metrics.RecordWebhook("failed")
	}
	return err
}

func (w *Webhook) post(ctx context.Context, e Event) error {
	body, err := sonic.ConfigStd.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, string(e.Type))
	req.Header.Set(HeaderIdempotencyKey, IdempotencyKey(e))
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", e.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	default:
		return fmt.Errorf("deliver %s: status %d", e.ID, resp.StatusCode)
	}
}

// IdempotencyKey derives a stable key from the event id so the receiver
// can discard redelivered events.
func IdempotencyKey(e Event) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mentora:event:"+e.ID)).String()
}

// Run delivers events from sub until ctx is done or the subscription
// closes. Failed deliveries are logged and dropped.
func (w *Webhook) Run(ctx context.Context, sub Subscription) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sub.Events:
			if !ok {
				return nil
			}
			ectx := tracing.WithTraceID(ctx, tracing.TraceID(e.ID))
			if err := w.Deliver(ectx, e); err != nil && ctx.Err() == nil {
				w.logger.Warn("Webhook delivery failed",
					zap.String("event_id", e.ID),
					zap.String("event_type", string(e.Type)),
					zap.Error(err),
				)
			}
		}
	}
}
