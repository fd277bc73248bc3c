// Package metrics exposes Prometheus instrumentation for the loop.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the loop's instruments.
type Metrics struct {
	// IterationsTotal counts finished iterations by result (pass, fail).
	IterationsTotal *prometheus.CounterVec
	// AttemptsTotal counts generation attempts by outcome
	// (pass, fail, malformed).
	AttemptsTotal *prometheus.CounterVec
	// BackendRotationsTotal counts dispatcher failure classifications by
	// reason (rate_limit, unsupported, transient).
	BackendRotationsTotal *prometheus.CounterVec
	// RetryBudgetExhaustedTotal counts requests abandoned after the generic
	// retry budget ran out.
	RetryBudgetExhaustedTotal prometheus.Counter
	// ConsecutivePasses tracks the current pass streak.
	ConsecutivePasses prometheus.Gauge
}

// New registers the loop metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IterationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forgeloop_iterations_total",
			Help: "Finished iterations by result.",
		}, []string{"result"}),
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forgeloop_attempts_total",
			Help: "Generation attempts by outcome.",
		}, []string{"outcome"}),
		BackendRotationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forgeloop_backend_rotations_total",
			Help: "Dispatcher failure classifications by reason.",
		}, []string{"reason"}),
		RetryBudgetExhaustedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "forgeloop_retry_budget_exhausted_total",
			Help: "Requests abandoned after the retry budget ran out.",
		}),
		ConsecutivePasses: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forgeloop_consecutive_passes",
			Help: "Current consecutive pass streak.",
		}),
	}
}

// Serve starts a metrics HTTP listener on addr. The returned server should
// be shut down by the caller; an empty addr returns nil.
func Serve(addr string, logger *slog.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Metrics listener started", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("Metrics listener stopped", "error", err)
		}
	}()
	return server
}
