package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.StoreQuery("ur5e", 20*time.Millisecond, nil)
	m.StoreQuery("ur5e", time.Second, errors.New("timeout"))
	m.ToolCall("ur5e", nil)
	m.ModelCall(nil)
	m.ParseFailure()
	m.ParseFailure()
	m.Turn(OutcomeFallback)
	m.RerankFallback()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeQueries.WithLabelValues("ur5e", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeQueries.WithLabelValues("ur5e", OutcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.parseFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeFallback)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rerankFalls))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.StoreQuery("x", time.Millisecond, nil)
		m.ModelCall(errors.New("x"))
		m.ToolCall("x", nil)
		m.ParseFailure()
		m.Turn(OutcomeAnswered)
		m.RerankFallback()
	})
}
