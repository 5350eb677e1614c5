package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordHistoryAppend("appended")
	m.RecordHistoryAppend("appended")
	m.RecordHistoryAppend("duplicate")
	m.RecordConflict("state")
	m.RecordStateTransition("CREATING", "ACTIVE")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HistoryAppends.WithLabelValues("appended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HistoryAppends.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConflictsTotal.WithLabelValues("state")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("CREATING", "ACTIVE")))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCacheHit("state")
		m.RecordStoreOp("get", "ok", 0.1)
		m.RecordRequest("GET", "/", "200", 0.1)
	})
}
