package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/forgeloop/forgeloop/backend"
)

// maxResponseSize limits the response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Endpoint maps a backend name to its provider adapter and base URL.
type Endpoint struct {
	Provider string
	URL      string
}

// Transport performs one raw generation request against a single backend.
// Implementations must return classified errors (RateLimitError,
// UnsupportedError, TransientError) so the dispatcher can route failures.
type Transport func(ctx context.Context, b backend.Backend, prompt string) (string, error)

// DispatchConfig holds dispatcher tuning.
type DispatchConfig struct {
	// MaxRetries is the generic retry budget. Rate-limit rotations and
	// unsupported-backend skips never consume it.
	MaxRetries int

	// RateCooldown is the backend cooldown applied on a rate-limit signal
	// when the failure text carries no recommended wait.
	RateCooldown time.Duration

	// SwitchWait is the pause before rotating after a rate-limit signal.
	SwitchWait time.Duration

	// RetryDelayBase scales the linear backoff between generic retries.
	RetryDelayBase time.Duration
}

// DefaultDispatchConfig returns sensible dispatch defaults.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		MaxRetries:     3,
		RateCooldown:   60 * time.Second,
		SwitchWait:     10 * time.Second,
		RetryDelayBase: 5 * time.Second,
	}
}

// Dispatcher issues logical requests, classifying failures and driving
// backend selector transitions. It owns the current backend selection.
type Dispatcher struct {
	selector  *backend.Selector
	transport Transport
	cfg       DispatchConfig
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger

	current    backend.Backend
	hasCurrent bool

	onSwitch   func(from, to backend.Backend)
	onRotation func(reason string)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherSleep sets the wait function. Used by tests.
func WithDispatcherSleep(sleep func(ctx context.Context, d time.Duration) error) DispatcherOption {
	return func(d *Dispatcher) {
		d.sleep = sleep
	}
}

// WithSwitchHook registers a callback fired whenever the selected backend
// changes. Used for the lifecycle event stream.
func WithSwitchHook(hook func(from, to backend.Backend)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onSwitch = hook
	}
}

// WithRotationHook registers a callback fired on every failure
// classification (reason: rate_limit, unsupported, transient). Used for
// metrics.
func WithRotationHook(hook func(reason string)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onRotation = hook
	}
}

// NewDispatcher creates a Dispatcher on top of a selector and transport.
func NewDispatcher(selector *backend.Selector, transport Transport, cfg DispatchConfig, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		selector:  selector,
		transport: transport,
		cfg:       cfg,
		logger:    slog.Default(),
	}
	if d.cfg.MaxRetries < 1 {
		d.cfg.MaxRetries = 1
	}
	if d.cfg.RetryDelayBase <= 0 {
		d.cfg.RetryDelayBase = 5 * time.Second
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sleep == nil {
		d.sleep = func(ctx context.Context, wait time.Duration) error {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}
	return d
}

// Current returns the currently selected backend, if any.
func (d *Dispatcher) Current() (backend.Backend, bool) {
	return d.current, d.hasCurrent
}

// Refresh promotes the current selection to a recovered better-ranked
// backend, if one exists. Called at the start of every iteration.
func (d *Dispatcher) Refresh() {
	if !d.hasCurrent {
		return
	}
	d.setCurrent(d.selector.Refresh(d.current))
}

func (d *Dispatcher) setCurrent(b backend.Backend) {
	if d.hasCurrent && d.current.Name == b.Name {
		return
	}
	if d.hasCurrent && d.onSwitch != nil {
		d.onSwitch(d.current, b)
	}
	d.current = b
	d.hasCurrent = true
}

// Send issues one logical request. Failures are classified and recovered at
// this layer: rate limits rotate backends without bound, unsupported
// backends are skipped permanently, and anything else consumes the generic
// retry budget with linearly growing delay. The only failure that escapes
// is an ExhaustedError carrying the last cause, or context cancellation.
func (d *Dispatcher) Send(ctx context.Context, prompt string) (string, error) {
	if !d.hasCurrent {
		b, err := d.selector.PickBest(ctx)
		if err != nil {
			return "", err
		}
		d.setCurrent(b)
	}

	budget := 0
	for {
		b := d.current
		text, err := d.transport(ctx, b, prompt)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		err = ClassifyMessage(err)

		switch {
		case IsRateLimit(err):
			var rl *RateLimitError
			errors.As(err, &rl)
			cooldown := rl.RetryAfter
			if cooldown <= 0 {
				cooldown = d.cfg.RateCooldown
			}
			d.logger.Warn("Rate limit detected, rotating backend",
				"backend", b.Name,
				"cooldown", cooldown)
			d.rotated("rate_limit")
			if d.cfg.SwitchWait > 0 {
				if serr := d.sleep(ctx, d.cfg.SwitchWait); serr != nil {
					return "", serr
				}
			}
			d.selector.MarkUnavailable(b.Name, cooldown)

		case IsUnsupported(err):
			d.logger.Warn("Backend unsupported, skipping permanently",
				"backend", b.Name,
				"error", err)
			d.rotated("unsupported")
			d.selector.MarkPermanentlyUnavailable(b.Name)

		default:
			budget++
			d.rotated("transient")
			if budget >= d.cfg.MaxRetries {
				return "", &ExhaustedError{Attempts: budget, LastErr: err}
			}
			delay := time.Duration(budget) * d.cfg.RetryDelayBase
			d.logger.Warn("Request failed, retrying",
				"backend", b.Name,
				"attempt", budget,
				"delay", delay,
				"error", err)
			if serr := d.sleep(ctx, delay); serr != nil {
				return "", serr
			}
		}

		// Re-resolve selection after every classification.
		next, perr := d.selector.PickBest(ctx)
		if perr != nil {
			return "", perr
		}
		d.setCurrent(next)
	}
}

func (d *Dispatcher) rotated(reason string) {
	if d.onRotation != nil {
		d.onRotation(reason)
	}
}

// NewHTTPTransport builds the production transport: one HTTP request per
// call through the provider adapter configured for the backend.
func NewHTTPTransport(endpoints map[string]Endpoint, client *http.Client, logger *slog.Logger) Transport {
	if client == nil {
		client = &http.Client{Timeout: 180 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, b backend.Backend, prompt string) (string, error) {
		ep, ok := endpoints[b.Name]
		if !ok {
			return "", NewUnsupportedError(fmt.Errorf("no endpoint configured for backend %s", b.Name))
		}
		provider := GetProvider(ep.Provider)
		if provider == nil {
			return "", NewUnsupportedError(fmt.Errorf("unknown provider: %s", ep.Provider))
		}

		body, err := provider.BuildRequestBody(b.Name, []Message{{Role: "user", Content: prompt}}, nil, 0)
		if err != nil {
			return "", NewUnsupportedError(fmt.Errorf("build request body: %w", err))
		}

		url := provider.BuildURL(ep.URL)
		logger.Debug("Sending generation request",
			"provider", ep.Provider,
			"backend", b.Name,
			"url", url)

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", NewTransientError(fmt.Errorf("create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		provider.SetHeaders(httpReq)

		httpResp, err := client.Do(httpReq)
		if err != nil {
			return "", NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
		if err != nil {
			return "", NewTransientError(fmt.Errorf("read response body: %w", err))
		}

		if httpResp.StatusCode != http.StatusOK {
			return "", classifyHTTPError(httpResp.StatusCode, respBody)
		}

		parsed, err := provider.ParseResponse(respBody, b.Name)
		if err != nil {
			return "", NewTransientError(err)
		}
		return parsed.Content, nil
	}
}

// classifyHTTPError maps an HTTP failure to the dispatcher's taxonomy.
// Status codes win over message markers.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("backend API error (status %d): %s", statusCode, bodyStr)

	switch statusCode {
	case http.StatusTooManyRequests:
		retryAfter, _ := ParseRetryWait(string(body))
		return NewRateLimitError(err, retryAfter)
	case http.StatusNotFound:
		return NewUnsupportedError(err)
	default:
		return ClassifyMessage(err)
	}
}
