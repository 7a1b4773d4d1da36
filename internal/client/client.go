// Package client is a typed HTTP client for the schedule engine API.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/domain/engine"
	"github.com/mentora/engine/internal/domain/generator"
	"github.com/mentora/engine/internal/domain/recovery"
	"github.com/mentora/engine/internal/domain/schedule"
)

// APIError is a non-2xx reply from the engine.
type APIError struct {
	Status  int    `json:"-"`
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("engine returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

// Accepted is the reply to a blueprint upload.
type Accepted struct {
	Version   uint64 `json:"version"`
	Digest    string `json:"digest"`
	Templates int    `json:"templates"`
}

// Client wraps resty with JSON decoding and retries on lock conflicts.
type Client struct {
	resty *resty.Client
}

// Option customizes a Client.
type Option func(*resty.Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *resty.Client) { r.SetTimeout(d) }
}

// WithRetries sets how often a 423 or 429 reply is retried.
func WithRetries(n int, wait time.Duration) Option {
	return func(r *resty.Client) {
		r.SetRetryCount(n).SetRetryWaitTime(wait).SetRetryMaxWaitTime(10 * wait)
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *resty.Client) { r.SetTransport(hc.Transport) }
}

// New creates a client for the engine at baseURL.
func New(baseURL string, opts ...Option) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("User-Agent", "mentoractl/1.0").
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil || resp == nil {
				return false
			}
			return resp.StatusCode() == http.StatusLocked || resp.StatusCode() == http.StatusTooManyRequests
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp == nil {
				return 0, nil
			}
			if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second, nil
			}
			return 0, nil
		})
	for _, opt := range opts {
		opt(r)
	}
	return &Client{resty: r}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	apiErr := &APIError{}
	req := c.resty.R().SetContext(ctx).SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		return apiErr
	}
	return nil
}

// Today returns today's schedule.
func (c *Client) Today(ctx context.Context) (engine.DayView, error) {
	var v engine.DayView
	err := c.do(ctx, http.MethodGet, "/api/schedule/today", nil, &v)
	return v, err
}

// Day returns the schedule of a YYYY-MM-DD date.
func (c *Client) Day(ctx context.Context, date string) (engine.DayView, error) {
	var v engine.DayView
	err := c.do(ctx, http.MethodGet, "/api/schedule/day/"+date, nil, &v)
	return v, err
}

// Week returns the week containing start, or the current week when empty.
func (c *Client) Week(ctx context.Context, start string) (engine.WeekView, error) {
	path := "/api/schedule/week"
	if start != "" {
		path += "/" + start
	}
	var v engine.WeekView
	err := c.do(ctx, http.MethodGet, path, nil, &v)
	return v, err
}

// Done marks an instance completed.
func (c *Client) Done(ctx context.Context, id string) (schedule.Instance, error) {
	var out struct {
		Instance schedule.Instance `json:"instance"`
	}
	err := c.do(ctx, http.MethodPost, "/api/instances/"+id+"/done", nil, &out)
	return out.Instance, err
}

// Missed marks an instance missed.
func (c *Client) Missed(ctx context.Context, id string) (*recovery.Outcome, error) {
	var out recovery.Outcome
	if err := c.do(ctx, http.MethodPost, "/api/instances/"+id+"/missed", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Snooze pushes an instance to its next free slot.
func (c *Client) Snooze(ctx context.Context, id string) (*recovery.Outcome, error) {
	var out recovery.Outcome
	if err := c.do(ctx, http.MethodPost, "/api/instances/"+id+"/snooze", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Regenerate rebuilds days from the active blueprint. Empty from means today;
// zero days means the engine's horizon.
func (c *Client) Regenerate(ctx context.Context, from string, days int) (*generator.Report, error) {
	var out generator.Report
	body := map[string]any{}
	if from != "" {
		body["from"] = from
	}
	if days > 0 {
		body["days"] = days
	}
	if err := c.do(ctx, http.MethodPost, "/api/schedule/regenerate", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Blueprint returns the active blueprint document in the given format.
func (c *Client) Blueprint(ctx context.Context, format blueprint.Format) ([]byte, error) {
	apiErr := &APIError{}
	resp, err := c.resty.R().
		SetContext(ctx).
		SetError(apiErr).
		SetQueryParam("format", string(format)).
		Get("/api/blueprint")
	if err != nil {
		return nil, fmt.Errorf("GET /api/blueprint: %w", err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return nil, apiErr
	}
	return resp.Body(), nil
}

// PutBlueprint uploads a blueprint document.
func (c *Client) PutBlueprint(ctx context.Context, data []byte, format blueprint.Format) (Accepted, error) {
	var out Accepted
	apiErr := &APIError{}
	resp, err := c.resty.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/"+string(format)).
		SetBody(data).
		SetResult(&out).
		SetError(apiErr).
		Put("/api/blueprint")
	if err != nil {
		return out, fmt.Errorf("PUT /api/blueprint: %w", err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return out, apiErr
	}
	return out, nil
}

// MentorContext returns the mentor snapshot as raw JSON.
func (c *Client) MentorContext(ctx context.Context) ([]byte, error) {
	resp, err := c.resty.R().SetContext(ctx).Get("/api/mentor/context")
	if err != nil {
		return nil, fmt.Errorf("GET /api/mentor/context: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Message: resp.String()}
	}
	return resp.Body(), nil
}
