package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/forgeloop/forgeloop/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a manual time source shared by the selector and dispatcher so
// cooldown expiry can be simulated without real waiting.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// Sleep advances the clock instead of waiting and records nothing.
func (c *testClock) Sleep(_ context.Context, d time.Duration) error {
	c.Advance(d)
	return nil
}

// scriptedTransport replays per-backend responses in call order.
type scriptedTransport struct {
	script map[string][]any // string response or error
	calls  []string
}

func (s *scriptedTransport) call(_ context.Context, b backend.Backend, _ string) (string, error) {
	s.calls = append(s.calls, b.Name)

	queue := s.script[b.Name]
	if len(queue) == 0 {
		return "", fmt.Errorf("unexpected call to %s", b.Name)
	}
	next := queue[0]
	s.script[b.Name] = queue[1:]

	if err, ok := next.(error); ok {
		return "", err
	}
	return next.(string), nil
}

func newTestDispatcher(t *testing.T, clock *testClock, transport *scriptedTransport, cfg DispatchConfig, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	sel, err := backend.New([]string{"model-a", "model-b"},
		backend.WithClock(clock.Now),
		backend.WithSleep(clock.Sleep))
	require.NoError(t, err)

	opts = append([]DispatcherOption{WithDispatcherSleep(clock.Sleep)}, opts...)
	return NewDispatcher(sel, transport.call, cfg, opts...)
}

func TestDispatcher_Success(t *testing.T) {
	clock := newTestClock()
	transport := &scriptedTransport{script: map[string][]any{
		"model-a": {"hello"},
	}}
	d := newTestDispatcher(t, clock, transport, DefaultDispatchConfig())

	text, err := d.Send(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	current, ok := d.Current()
	require.True(t, ok)
	assert.Equal(t, "model-a", current.Name)
}

func TestDispatcher_RateLimitRotatesWithoutConsumingBudget(t *testing.T) {
	// With a budget of 1 any generic failure would exhaust immediately, so a
	// successful completion proves the rate-limit path never touched it.
	cfg := DispatchConfig{MaxRetries: 1, RateCooldown: 60 * time.Second, SwitchWait: 10 * time.Second}

	clock := newTestClock()
	transport := &scriptedTransport{script: map[string][]any{
		"model-a": {errors.New("429 too many requests")},
		"model-b": {"answer from b"},
	}}

	var reasons []string
	d := newTestDispatcher(t, clock, transport, cfg,
		WithRotationHook(func(reason string) { reasons = append(reasons, reason) }))

	text, err := d.Send(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "answer from b", text)
	assert.Equal(t, []string{"model-a", "model-b"}, transport.calls)
	assert.Equal(t, []string{"rate_limit"}, reasons)

	current, _ := d.Current()
	assert.Equal(t, "model-b", current.Name)
}

func TestDispatcher_RateLimitHonorsRecommendedWait(t *testing.T) {
	cfg := DispatchConfig{MaxRetries: 1, RateCooldown: 60 * time.Second}

	clock := newTestClock()
	transport := &scriptedTransport{script: map[string][]any{
		"model-a": {errors.New("quota exceeded, retry in 5s"), "a recovered"},
		"model-b": {errors.New("quota exceeded, retry in 300s")},
	}}
	d := newTestDispatcher(t, clock, transport, cfg)

	// Both backends rate-limit; the selector waits out the shortest cooldown
	// (model-a's 5s) and the request still completes.
	text, err := d.Send(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "a recovered", text)
	assert.Equal(t, []string{"model-a", "model-b", "model-a"}, transport.calls)
}

func TestDispatcher_UnsupportedSkipsPermanently(t *testing.T) {
	clock := newTestClock()
	transport := &scriptedTransport{script: map[string][]any{
		"model-a": {errors.New("model not found")},
		"model-b": {"from b", "from b again"},
	}}
	d := newTestDispatcher(t, clock, transport, DefaultDispatchConfig())

	text, err := d.Send(context.Background(), "one")
	require.NoError(t, err)
	assert.Equal(t, "from b", text)

	// Even a long time later, refresh never promotes back to model-a.
	clock.Advance(24 * time.Hour)
	d.Refresh()

	text, err = d.Send(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, "from b again", text)
	assert.Equal(t, []string{"model-a", "model-b", "model-b"}, transport.calls)
}

func TestDispatcher_TransientExhaustsBudget(t *testing.T) {
	cfg := DispatchConfig{MaxRetries: 3, RateCooldown: 60 * time.Second, RetryDelayBase: 5 * time.Second}

	clock := newTestClock()
	transport := &scriptedTransport{script: map[string][]any{
		"model-a": {
			errors.New("connection reset"),
			errors.New("connection reset"),
			errors.New("connection reset"),
		},
	}}
	d := newTestDispatcher(t, clock, transport, cfg)

	_, err := d.Send(context.Background(), "prompt")
	require.Error(t, err)

	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 3, ex.Attempts)
	assert.Contains(t, ex.LastErr.Error(), "connection reset")

	// Two backoff sleeps happened before exhaustion: 5s then 10s.
	assert.Equal(t, 15*time.Second, clock.Now().Sub(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDispatcher_RefreshPromotesAfterCooldown(t *testing.T) {
	cfg := DispatchConfig{MaxRetries: 1, RateCooldown: 60 * time.Second}

	clock := newTestClock()
	transport := &scriptedTransport{script: map[string][]any{
		"model-a": {errors.New("rate limit"), "back on a"},
		"model-b": {"from b"},
	}}

	var switches []string
	d := newTestDispatcher(t, clock, transport, cfg,
		WithSwitchHook(func(from, to backend.Backend) {
			switches = append(switches, from.Name+"->"+to.Name)
		}))

	_, err := d.Send(context.Background(), "one")
	require.NoError(t, err)

	// Cooldown not yet elapsed: refresh keeps model-b.
	clock.Advance(30 * time.Second)
	d.Refresh()
	current, _ := d.Current()
	assert.Equal(t, "model-b", current.Name)

	// Cooldown elapsed: refresh promotes back to the better-ranked model-a.
	clock.Advance(31 * time.Second)
	d.Refresh()
	current, _ = d.Current()
	assert.Equal(t, "model-a", current.Name)

	text, err := d.Send(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, "back on a", text)
	assert.Equal(t, []string{"model-a->model-b", "model-b->model-a"}, switches)
}

func TestDispatcher_ContextCancellation(t *testing.T) {
	clock := newTestClock()
	transport := &scriptedTransport{script: map[string][]any{
		"model-a": {errors.New("connection reset")},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	sel, err := backend.New([]string{"model-a", "model-b"},
		backend.WithClock(clock.Now),
		backend.WithSleep(clock.Sleep))
	require.NoError(t, err)

	d := NewDispatcher(sel, transport.call, DefaultDispatchConfig(),
		WithDispatcherSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}))

	_, err = d.Send(ctx, "prompt")
	assert.ErrorIs(t, err, context.Canceled)
}

// stubProvider is a minimal provider for exercising the HTTP transport.
type stubProvider struct{}

func (stubProvider) Name() string                   { return "stub" }
func (stubProvider) BuildURL(baseURL string) string { return baseURL }
func (stubProvider) SetHeaders(_ *http.Request)     {}

func (stubProvider) BuildRequestBody(model string, messages []Message, _ *float64, _ int) ([]byte, error) {
	return []byte(fmt.Sprintf(`{"model":%q,"prompt":%q}`, model, messages[0].Content)), nil
}

func (stubProvider) ParseResponse(body []byte, model string) (*Response, error) {
	return &Response{Content: string(body), Model: model}, nil
}

func TestHTTPTransport(t *testing.T) {
	RegisterProvider(stubProvider{})

	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "generated text")
		}))
		defer server.Close()

		transport := NewHTTPTransport(map[string]Endpoint{
			"model-a": {Provider: "stub", URL: server.URL},
		}, server.Client(), nil)

		text, err := transport(context.Background(), backend.Backend{Name: "model-a"}, "hi")
		require.NoError(t, err)
		assert.Equal(t, "generated text", text)
	})

	t.Run("429 maps to rate limit with recommended wait", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, "slow down, retry in 7s")
		}))
		defer server.Close()

		transport := NewHTTPTransport(map[string]Endpoint{
			"model-a": {Provider: "stub", URL: server.URL},
		}, server.Client(), nil)

		_, err := transport(context.Background(), backend.Backend{Name: "model-a"}, "hi")
		require.Error(t, err)

		var rl *RateLimitError
		require.True(t, errors.As(err, &rl))
		assert.Equal(t, 7*time.Second, rl.RetryAfter)
	})

	t.Run("404 maps to unsupported", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		transport := NewHTTPTransport(map[string]Endpoint{
			"model-a": {Provider: "stub", URL: server.URL},
		}, server.Client(), nil)

		_, err := transport(context.Background(), backend.Backend{Name: "model-a"}, "hi")
		assert.True(t, IsUnsupported(err))
	})

	t.Run("unknown backend maps to unsupported", func(t *testing.T) {
		transport := NewHTTPTransport(map[string]Endpoint{}, nil, nil)
		_, err := transport(context.Background(), backend.Backend{Name: "ghost"}, "hi")
		assert.True(t, IsUnsupported(err))
	})
}
