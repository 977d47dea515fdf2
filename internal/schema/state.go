package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskState is the platform-wide admission state.
type RiskState uint16

const (
	RiskStateNormal RiskState = iota
	RiskStateElevated
	RiskStateHalted
)

func (s RiskState) String() string {
	switch s {
	case RiskStateNormal:
		return "normal"
	case RiskStateElevated:
		return "elevated"
	case RiskStateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// CircuitBreakerEvent is an immutable audit record of a risk state transition.
type CircuitBreakerEvent struct {
	At       time.Time       `json:"at"`
	From     RiskState       `json:"from"`
	To       RiskState       `json:"to"`
	Reason   string          `json:"reason"`
	DailyPnL decimal.Decimal `json:"dailyPnl"`
	Drawdown decimal.Decimal `json:"drawdown"`
}

// RiskSnapshot is a point-in-time copy of the risk gate.
type RiskSnapshot struct {
	State        RiskState             `json:"state"`
	DailyPnL     decimal.Decimal       `json:"dailyPnl"`
	PeakPnL      decimal.Decimal       `json:"peakPnl"`
	Drawdown     decimal.Decimal       `json:"drawdown"`
	TradingDay   string                `json:"tradingDay"`
	Breakers     []CircuitBreakerEvent `json:"breakers"`
	BlockedTotal uint64                `json:"blockedTotal"`
}

// QueueStats reports order queue counters. All counters are monotonic except CurrentSize.
type QueueStats struct {
	CurrentSize   int    `json:"currentSize"`
	MaxSize       int    `json:"maxSize"`
	EnqueuedTotal uint64 `json:"enqueuedTotal"`
	DequeuedTotal uint64 `json:"dequeuedTotal"`
	ExpiredTotal  uint64 `json:"expiredTotal"`
	RejectedTotal uint64 `json:"rejectedTotal"`
}

// MarketPosition is one agent's open position in one market.
type MarketPosition struct {
	Market        string          `json:"market"`
	Size          decimal.Decimal `json:"size"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	MarkPrice     decimal.Decimal `json:"markPrice"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
}

// Exposure returns |size| × average entry price.
func (p MarketPosition) Exposure() decimal.Decimal {
	return p.Size.Abs().Mul(p.AvgPrice)
}

// Position is the per-agent open exposure and PnL.
type Position struct {
	AgentID       string           `json:"agentId"`
	Markets       []MarketPosition `json:"markets"`
	Exposure      decimal.Decimal  `json:"exposure"`
	RealizedPnL   decimal.Decimal  `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal  `json:"unrealizedPnl"`
}

// Market returns the agent's position in market, if any.
func (p Position) Market(market string) (MarketPosition, bool) {
	for _, m := range p.Markets {
		if m.Market == market {
			return m, true
		}
	}
	return MarketPosition{}, false
}

// AggregatedPosition is the platform-wide sum of agent positions.
type AggregatedPosition struct {
	Agents        []Position      `json:"agents"`
	TotalExposure decimal.Decimal `json:"totalExposure"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
}

// Agent returns the position of one agent, if tracked.
func (a AggregatedPosition) Agent(agentID string) (Position, bool) {
	for _, p := range a.Agents {
		if p.AgentID == agentID {
			return p, true
		}
	}
	return Position{}, false
}

// Domain names the market family an agent trades.
type Domain string

const (
	DomainCrypto    Domain = "crypto"
	DomainSports    Domain = "sports"
	DomainPolitics  Domain = "politics"
	DomainEventEdge Domain = "event_edge"
)

// AgentStatus is the lifecycle status of an agent.
type AgentStatus uint16

const (
	AgentStatusStarting AgentStatus = iota
	AgentStatusRunning
	AgentStatusPaused
	AgentStatusClosing
	AgentStatusStopped
	AgentStatusError
)

func (s AgentStatus) String() string {
	switch s {
	case AgentStatusStarting:
		return "starting"
	case AgentStatusRunning:
		return "running"
	case AgentStatusPaused:
		return "paused"
	case AgentStatusClosing:
		return "closing"
	case AgentStatusStopped:
		return "stopped"
	case AgentStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// CommandKind is a coordinator instruction to an agent.
type CommandKind uint16

const (
	CommandPause CommandKind = iota + 1
	CommandResume
	CommandForceClose
	CommandShutdown
	CommandHealthCheck
)

func (k CommandKind) String() string {
	switch k {
	case CommandPause:
		return "pause"
	case CommandResume:
		return "resume"
	case CommandForceClose:
		return "force_close"
	case CommandShutdown:
		return "shutdown"
	case CommandHealthCheck:
		return "health_check"
	default:
		return "unknown"
	}
}

// AgentCommand travels on an agent's command channel. HealthCheck answers on
// Health; every other kind answers on Ack.
type AgentCommand struct {
	Kind   CommandKind
	Ack    chan<- error
	Health chan<- AgentHealthResponse
}

// AgentRiskParams are the per-agent limits enforced by the risk gate. Zero disables a limit.
type AgentRiskParams struct {
	MaxOrderSize    decimal.Decimal `json:"maxOrderSize"`
	MaxPosition     decimal.Decimal `json:"maxPosition"`
	MaxExposure     decimal.Decimal `json:"maxExposure"`
	OrdersPerSec    float64         `json:"ordersPerSec"`
	OrderBurst      int             `json:"orderBurst"`
	DefaultTTL      time.Duration   `json:"defaultTtl"`
	DefaultPriority Priority        `json:"defaultPriority"`
}

// AgentHealthResponse is the reply to a health check.
type AgentHealthResponse struct {
	AgentID   string             `json:"agentId"`
	Status    AgentStatus        `json:"status"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	LastError string             `json:"lastError,omitempty"`
	At        time.Time          `json:"at"`
}

// AgentSnapshot is the point-in-time view of one agent.
type AgentSnapshot struct {
	AgentID       string             `json:"agentId"`
	Domain        Domain             `json:"domain"`
	Status        AgentStatus        `json:"status"`
	Healthy       bool               `json:"healthy"`
	MissedChecks  int                `json:"missedChecks"`
	Exposure      decimal.Decimal    `json:"exposure"`
	DailyPnL      decimal.Decimal    `json:"dailyPnl"`
	UnrealizedPnL decimal.Decimal    `json:"unrealizedPnl"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	LastHeartbeat time.Time          `json:"lastHeartbeat"`
	Error         string             `json:"error,omitempty"`
}

// GlobalState aggregates everything the coordinator exposes upward. It is rebuilt, never mutated in place.
type GlobalState struct {
	Agents          []AgentSnapshot       `json:"agents"`
	Positions       AggregatedPosition    `json:"positions"`
	Risk            RiskSnapshot          `json:"risk"`
	CircuitBreakers []CircuitBreakerEvent `json:"circuitBreakers"`
	Queue           QueueStats            `json:"queue"`
	RealizedPnL     decimal.Decimal       `json:"realizedPnl"`
	Available       decimal.Decimal       `json:"available"`
	LastSeq         uint64                `json:"lastSeq"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

// Clone returns a copy that shares no slices or maps with s.
func (s GlobalState) Clone() GlobalState {
	out := s
	out.Agents = make([]AgentSnapshot, len(s.Agents))
	for i, a := range s.Agents {
		if a.Metrics != nil {
			m := make(map[string]float64, len(a.Metrics))
			for k, v := range a.Metrics {
				m[k] = v
			}
			a.Metrics = m
		}
		out.Agents[i] = a
	}
	out.Positions.Agents = make([]Position, len(s.Positions.Agents))
	for i, p := range s.Positions.Agents {
		p.Markets = append([]MarketPosition(nil), p.Markets...)
		out.Positions.Agents[i] = p
	}
	out.Risk.Breakers = append([]CircuitBreakerEvent(nil), s.Risk.Breakers...)
	out.CircuitBreakers = append([]CircuitBreakerEvent(nil), s.CircuitBreakers...)
	return out
}

// EventKind is the category of a routed domain event.
type EventKind uint16

const (
	EventKindUnknown EventKind = iota
	EventKindQuote
	EventKindExecution
	EventKindRiskChange
	EventKindControl
)

// Quote is a top-of-book update for one market.
type Quote struct {
	Market string          `json:"market"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Last   decimal.Decimal `json:"last"`
}

// Mid returns the mid price, falling back to last when one side is missing.
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	}
	return q.Last
}

// DomainEvent is what the event router distributes to subscribers.
type DomainEvent struct {
	Kind      EventKind            `json:"kind"`
	Market    string               `json:"market,omitempty"`
	AgentID   string               `json:"agentId,omitempty"`
	Quote     *Quote               `json:"quote,omitempty"`
	Report    *ExecutionReport     `json:"report,omitempty"`
	Breaker   *CircuitBreakerEvent `json:"breaker,omitempty"`
	Seq       uint64               `json:"seq"`
	Published time.Time            `json:"published"`
}
