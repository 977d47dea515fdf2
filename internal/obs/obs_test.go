package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(schema.EventHeader{Type: schema.EventIntentAccepted, TsEvent: 100, TsRecv: 150})
	m.ObserveEvent(schema.EventHeader{Type: schema.EventIntentAccepted})
	m.IncBlockReason(schema.BlockReasonRateLimited)
	m.IncBlockReason(schema.BlockReason(999))
	m.IncExecStatus(schema.ExecStatusFilled)
	m.IncQueueDrop()
	m.IncDeadLettered()
	m.ObserveSubmit(2 * time.Millisecond)
	m.ObserveSubmit(4 * time.Millisecond)

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.EventCounts[schema.EventIntentAccepted])
	assert.Equal(t, map[schema.BlockReason]uint64{schema.BlockReasonRateLimited: 1}, s.BlockReasonCounts)
	assert.Equal(t, uint64(1), s.ExecStatusCounts[schema.ExecStatusFilled])
	assert.Equal(t, uint64(1), s.QueueDrops)
	assert.Equal(t, uint64(1), s.DeadLettered)
	assert.Equal(t, uint64(1), s.EventLatency.Count)
	assert.Equal(t, 50*time.Nanosecond, s.EventLatency.Max)
	assert.Equal(t, 3*time.Millisecond, s.SubmitLatency.Avg)
	assert.Equal(t, 2*time.Millisecond, s.SubmitLatency.Min)
	assert.Equal(t, 4*time.Millisecond, s.SubmitLatency.Max)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.IncQueueDrop()
	m.ObserveRiskEval(time.Millisecond)
	assert.Empty(t, m.Snapshot().EventCounts)
}

func TestTraceGenerator(t *testing.T) {
	g := NewTraceGenerator(10)
	assert.Equal(t, uint64(11), g.Next())
	g.Observe(50)
	assert.Equal(t, uint64(51), g.Next())
	g.Observe(20)
	assert.Equal(t, uint64(52), g.Next())
}

func TestCollector(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(schema.EventHeader{Type: schema.EventExecutionReported})
	m.IncBlockReason(schema.BlockReasonQueueFull)

	c := NewCollector(m, func() Gauges {
		return Gauges{RiskState: schema.RiskStateHalted, QueueSize: 3, QueueMax: 10, AgentCount: 2, HealthyAgents: 1}
	})
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if g := metric.GetGauge(); g != nil {
				byName[f.GetName()] += g.GetValue()
			}
			if cnt := metric.GetCounter(); cnt != nil {
				byName[f.GetName()] += cnt.GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), byName["ploy_risk_state"])
	assert.Equal(t, float64(3), byName["ploy_order_queue_size"])
	assert.Equal(t, float64(1), byName["ploy_events_total"])
	assert.Equal(t, float64(1), byName["ploy_intents_blocked_total"])
	assert.Equal(t, float64(2), byName["ploy_agents"])

	assert.Positive(t, testutil.CollectAndCount(NewCollector(m, nil)))
}
