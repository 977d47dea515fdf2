package obs

import (
	"sync/atomic"
	"time"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

const (
	maxEventType   = int(schema.EventDeadLettered)
	maxBlockReason = int(schema.MaxBlockReason)
	maxExecStatus  = int(schema.ExecStatusRejected)
)

// Metrics collects lightweight counters and latency stats. A nil *Metrics is a
// valid no-op sink.
type Metrics struct {
	eventCounts       [maxEventType + 1]uint64
	blockReasonCounts [maxBlockReason + 1]uint64
	execStatusCounts  [maxExecStatus + 1]uint64
	queueDrops        uint64
	queueClosed       uint64
	deadLettered      uint64

	eventLatency    LatencyStats
	submitLatency   LatencyStats
	riskEvalLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Sum   time.Duration
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts       map[schema.EventType]uint64
	BlockReasonCounts map[schema.BlockReason]uint64
	ExecStatusCounts  map[schema.ExecStatus]uint64
	QueueDrops        uint64
	QueueClosed       uint64
	DeadLettered      uint64
	EventLatency      LatencySnapshot
	SubmitLatency     LatencySnapshot
	RiskEvalLatency   LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent increments counters and tracks event latency when timestamps are present.
func (m *Metrics) ObserveEvent(header schema.EventHeader) {
	if m == nil {
		return
	}
	idx := int(header.Type)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
	if header.TsEvent > 0 && header.TsRecv > 0 {
		delta := header.TsRecv - header.TsEvent
		if delta >= 0 {
			m.eventLatency.Observe(time.Duration(delta))
		}
	}
}

// IncBlockReason counts a rejected intent by reason.
func (m *Metrics) IncBlockReason(reason schema.BlockReason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.blockReasonCounts) {
		atomic.AddUint64(&m.blockReasonCounts[idx], 1)
	}
}

// IncExecStatus counts a terminal report by status.
func (m *Metrics) IncExecStatus(status schema.ExecStatus) {
	if m == nil {
		return
	}
	idx := int(status)
	if idx >= 0 && idx < len(m.execStatusCounts) {
		atomic.AddUint64(&m.execStatusCounts[idx], 1)
	}
}

// IncDeadLettered records a command the DLQ gave up on.
func (m *Metrics) IncDeadLettered() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.deadLettered, 1)
}

// IncQueueDrop records an event dropped by a full queue.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// ObserveSubmit measures intent submission to terminal report.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d)
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[schema.EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[schema.EventType(i)] = v
		}
	}
	blockCounts := make(map[schema.BlockReason]uint64)
	for i := range m.blockReasonCounts {
		if v := atomic.LoadUint64(&m.blockReasonCounts[i]); v > 0 {
			blockCounts[schema.BlockReason(i)] = v
		}
	}
	statusCounts := make(map[schema.ExecStatus]uint64)
	for i := range m.execStatusCounts {
		if v := atomic.LoadUint64(&m.execStatusCounts[i]); v > 0 {
			statusCounts[schema.ExecStatus(i)] = v
		}
	}
	return Snapshot{
		EventCounts:       eventCounts,
		BlockReasonCounts: blockCounts,
		ExecStatusCounts:  statusCounts,
		QueueDrops:        atomic.LoadUint64(&m.queueDrops),
		QueueClosed:       atomic.LoadUint64(&m.queueClosed),
		DeadLettered:      atomic.LoadUint64(&m.deadLettered),
		EventLatency:      m.eventLatency.Snapshot(),
		SubmitLatency:     m.submitLatency.Snapshot(),
		RiskEvalLatency:   m.riskEvalLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		lo := atomic.LoadUint64(&l.min)
		if lo != 0 && nanos >= lo {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, lo, nanos) {
			break
		}
	}

	for {
		hi := atomic.LoadUint64(&l.max)
		if nanos <= hi {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, hi, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	lo := atomic.LoadUint64(&l.min)
	hi := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Sum:   time.Duration(sum),
		Min:   time.Duration(lo),
		Max:   time.Duration(hi),
		Avg:   time.Duration(sum / count),
	}
}
