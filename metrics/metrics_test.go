package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IterationsTotal.WithLabelValues("pass").Inc()
	m.IterationsTotal.WithLabelValues("pass").Inc()
	m.IterationsTotal.WithLabelValues("fail").Inc()
	m.AttemptsTotal.WithLabelValues("malformed").Inc()
	m.BackendRotationsTotal.WithLabelValues("rate_limit").Inc()
	m.RetryBudgetExhaustedTotal.Inc()
	m.ConsecutivePasses.Set(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IterationsTotal.WithLabelValues("pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IterationsTotal.WithLabelValues("fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendRotationsTotal.WithLabelValues("rate_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetryBudgetExhaustedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConsecutivePasses))
}

func TestServe_DisabledWithoutAddr(t *testing.T) {
	assert.Nil(t, Serve("", nil))
}
