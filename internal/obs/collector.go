package obs

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

const namespace = "ploy"

// Gauges is the point-in-time platform view exported next to the counters.
type Gauges struct {
	RiskState     schema.RiskState
	QueueSize     int
	QueueMax      int
	TotalExposure float64
	DailyPnL      float64
	RealizedPnL   float64
	Available     float64
	HealthyAgents int
	AgentCount    int
	RouterDropped uint64
	LastSeq       uint64
	DLQPending    int
}

// Collector exports Metrics and a gauge source to prometheus. Values are read
// at scrape time, so the hot path never touches the prometheus client.
type Collector struct {
	metrics *Metrics
	gauges  func() Gauges

	events       *prometheus.Desc
	blocks       *prometheus.Desc
	reports      *prometheus.Desc
	queueDrops   *prometheus.Desc
	deadLettered *prometheus.Desc
	latency      *prometheus.Desc

	riskState     *prometheus.Desc
	queueSize     *prometheus.Desc
	queueMax      *prometheus.Desc
	exposure      *prometheus.Desc
	dailyPnL      *prometheus.Desc
	realizedPnL   *prometheus.Desc
	available     *prometheus.Desc
	agents        *prometheus.Desc
	routerDropped *prometheus.Desc
	lastSeq       *prometheus.Desc
	dlqPending    *prometheus.Desc
}

// NewCollector creates a collector. gauges may be nil.
func NewCollector(metrics *Metrics, gauges func() Gauges) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		metrics: metrics,
		gauges:  gauges,

		events:       desc("events_total", "Stored events by type.", "type"),
		blocks:       desc("intents_blocked_total", "Rejected intents by reason.", "reason"),
		reports:      desc("execution_reports_total", "Terminal execution reports by status.", "status"),
		queueDrops:   desc("bus_dropped_total", "Events dropped by full queues."),
		deadLettered: desc("dead_lettered_total", "Commands handed to the dead-letter queue."),
		latency:      desc("latency_seconds", "Latency summary by stage.", "stage", "stat"),

		riskState:     desc("risk_state", "Risk gate state (0 normal, 1 elevated, 2 halted)."),
		queueSize:     desc("order_queue_size", "Commands waiting in the order queue."),
		queueMax:      desc("order_queue_max_size", "Order queue capacity."),
		exposure:      desc("total_exposure", "Platform-wide open exposure."),
		dailyPnL:      desc("daily_pnl", "Daily PnL since the risk baseline."),
		realizedPnL:   desc("realized_pnl", "Cumulative realized PnL."),
		available:     desc("available_funds", "Cash not reserved by open intents."),
		agents:        desc("agents", "Registered agents by health.", "health"),
		routerDropped: desc("router_dropped_total", "Events dropped by subscriber mailboxes."),
		lastSeq:       desc("event_log_last_seq", "Last stored event sequence."),
		dlqPending:    desc("dlq_pending", "Dead-letter entries awaiting retry."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.events, c.blocks, c.reports, c.queueDrops, c.deadLettered, c.latency,
		c.riskState, c.queueSize, c.queueMax, c.exposure, c.dailyPnL, c.realizedPnL,
		c.available, c.agents, c.routerDropped, c.lastSeq, c.dlqPending,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	for t, v := range s.EventCounts {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(v), t.String())
	}
	for r, v := range s.BlockReasonCounts {
		ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.CounterValue, float64(v), r.String())
	}
	for st, v := range s.ExecStatusCounts {
		ch <- prometheus.MustNewConstMetric(c.reports, prometheus.CounterValue, float64(v), st.String())
	}
	ch <- prometheus.MustNewConstMetric(c.queueDrops, prometheus.CounterValue, float64(s.QueueDrops))
	ch <- prometheus.MustNewConstMetric(c.deadLettered, prometheus.CounterValue, float64(s.DeadLettered))
	c.collectLatency(ch, "event", s.EventLatency)
	c.collectLatency(ch, "submit", s.SubmitLatency)
	c.collectLatency(ch, "risk_eval", s.RiskEvalLatency)

	if c.gauges == nil {
		return
	}
	g := c.gauges()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	gauge(c.riskState, float64(g.RiskState))
	gauge(c.queueSize, float64(g.QueueSize))
	gauge(c.queueMax, float64(g.QueueMax))
	gauge(c.exposure, g.TotalExposure)
	gauge(c.dailyPnL, g.DailyPnL)
	gauge(c.realizedPnL, g.RealizedPnL)
	gauge(c.available, g.Available)
	gauge(c.agents, float64(g.HealthyAgents), "healthy")
	gauge(c.agents, float64(g.AgentCount-g.HealthyAgents), "unhealthy")
	ch <- prometheus.MustNewConstMetric(c.routerDropped, prometheus.CounterValue, float64(g.RouterDropped))
	gauge(c.lastSeq, float64(g.LastSeq))
	gauge(c.dlqPending, float64(g.DLQPending))
}

func (c *Collector) collectLatency(ch chan<- prometheus.Metric, stage string, l LatencySnapshot) {
	if l.Count == 0 {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, l.Avg.Seconds(), stage, "avg")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, l.Min.Seconds(), stage, "min")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, l.Max.Seconds(), stage, "max")
}
