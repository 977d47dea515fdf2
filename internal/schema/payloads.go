package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side describes order direction.
type Side uint16

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideUnknown
	}
}

// Priority orders commands inside the order queue. Higher values dequeue first.
type Priority uint16

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityUrgent
)

// TradeIntent is an agent-issued desire to trade. Intents are immutable once created.
//
// Prices are outcome probabilities in (0, 1); Size is a count of outcome shares.
type TradeIntent struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotencyKey"`
	AgentID        string          `json:"agentId"`
	StrategyID     string          `json:"strategyId"`
	Market         string          `json:"market"`
	Side           Side            `json:"side"`
	Size           decimal.Decimal `json:"size"`
	LimitPrice     decimal.Decimal `json:"limitPrice"`
	ReduceOnly     bool            `json:"reduceOnly"`
	Priority       Priority        `json:"priority"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Notional returns price × size.
func (i TradeIntent) Notional() decimal.Decimal {
	return i.LimitPrice.Mul(i.Size)
}

// BlockReason is a coarse reason code for rejected intents.
type BlockReason uint16

const (
	BlockReasonNone BlockReason = iota
	BlockReasonInvalidIntent
	BlockReasonDrawdownBreach
	BlockReasonExposureLimit
	BlockReasonDailyLossLimit
	BlockReasonOrderSizeLimit
	BlockReasonPositionLimit
	BlockReasonAgentExposureLimit
	BlockReasonRateLimited
	BlockReasonQueueFull
	BlockReasonInsufficientFunds
	BlockReasonShuttingDown
	BlockReasonAgentPaused
	BlockReasonPersistence
)

var blockReasonNames = [...]string{
	BlockReasonNone:               "none",
	BlockReasonInvalidIntent:      "invalid_intent",
	BlockReasonDrawdownBreach:     "drawdown_breach",
	BlockReasonExposureLimit:      "exposure_limit",
	BlockReasonDailyLossLimit:     "daily_loss_limit",
	BlockReasonOrderSizeLimit:     "order_size_limit",
	BlockReasonPositionLimit:      "position_limit",
	BlockReasonAgentExposureLimit: "agent_exposure_limit",
	BlockReasonRateLimited:        "rate_limited",
	BlockReasonQueueFull:          "queue_full",
	BlockReasonInsufficientFunds:  "insufficient_funds",
	BlockReasonShuttingDown:       "shutting_down",
	BlockReasonAgentPaused:        "agent_paused",
	BlockReasonPersistence:        "persistence_failure",
}

// MaxBlockReason is the largest defined block reason.
const MaxBlockReason = BlockReasonPersistence

func (r BlockReason) String() string {
	if int(r) < len(blockReasonNames) {
		return blockReasonNames[r]
	}
	return "unknown"
}

// RiskDecision is produced by the risk gate for one intent and never mutated afterwards.
type RiskDecision struct {
	IntentID  string      `json:"intentId"`
	AgentID   string      `json:"agentId"`
	Approved  bool        `json:"approved"`
	Reason    BlockReason `json:"reason"`
	RiskState RiskState   `json:"riskState"`
	Detail    string      `json:"detail,omitempty"`
}

// Approve builds an approved decision.
func Approve(intent TradeIntent, state RiskState) RiskDecision {
	return RiskDecision{IntentID: intent.ID, AgentID: intent.AgentID, Approved: true, RiskState: state}
}

// Block builds a rejected decision.
func Block(intent TradeIntent, state RiskState, reason BlockReason, detail string) RiskDecision {
	return RiskDecision{IntentID: intent.ID, AgentID: intent.AgentID, Reason: reason, RiskState: state, Detail: detail}
}

// OrderCommand is the approved, queue-ready representation of an intent.
type OrderCommand struct {
	Intent        TradeIntent `json:"intent"`
	ClientOrderID string      `json:"clientOrderId"`
	Priority      Priority    `json:"priority"`
	EnqueuedAt    time.Time   `json:"enqueuedAt"`
	ExpiresAt     time.Time   `json:"expiresAt"`
	Seq           uint64      `json:"seq"`
}

// Expired reports whether the command deadline has passed at now.
func (c OrderCommand) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ExecStatus is the outcome carried by an execution report.
type ExecStatus uint16

const (
	ExecStatusUnknown ExecStatus = iota
	ExecStatusFilled
	ExecStatusPartiallyFilled
	ExecStatusFailed
	ExecStatusExpired
	ExecStatusRejected
)

var execStatusNames = [...]string{
	ExecStatusUnknown:         "unknown",
	ExecStatusFilled:          "filled",
	ExecStatusPartiallyFilled: "partially_filled",
	ExecStatusFailed:          "failed",
	ExecStatusExpired:         "expired",
	ExecStatusRejected:        "rejected",
}

func (s ExecStatus) String() string {
	if int(s) < len(execStatusNames) {
		return execStatusNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further update can follow this status.
func (s ExecStatus) Terminal() bool {
	return s != ExecStatusUnknown
}

// ExecutionReport is the outcome of a submitted (or rejected) intent.
type ExecutionReport struct {
	IntentID       string          `json:"intentId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	ClientOrderID  string          `json:"clientOrderId"`
	AgentID        string          `json:"agentId"`
	Market         string          `json:"market"`
	Side           Side            `json:"side"`
	Status         ExecStatus      `json:"status"`
	Reason         BlockReason     `json:"reason,omitempty"`
	RequestedSize  decimal.Decimal `json:"requestedSize"`
	FilledSize     decimal.Decimal `json:"filledSize"`
	AvgPrice       decimal.Decimal `json:"avgPrice"`
	Fee            decimal.Decimal `json:"fee"`
	ExchangeID     string          `json:"exchangeId,omitempty"`
	Error          string          `json:"error,omitempty"`
	Attempts       int             `json:"attempts,omitempty"`
	ReportedAt     time.Time       `json:"reportedAt"`
}

// HasFill reports whether the report moved any size.
func (r ExecutionReport) HasFill() bool {
	return r.FilledSize.IsPositive()
}

// RejectedReport builds the report handed back for an intent that never reached the queue.
func RejectedReport(intent TradeIntent, reason BlockReason, detail string, now time.Time) ExecutionReport {
	return ExecutionReport{
		IntentID:       intent.ID,
		IdempotencyKey: intent.IdempotencyKey,
		AgentID:        intent.AgentID,
		Market:         intent.Market,
		Side:           intent.Side,
		Status:         ExecStatusRejected,
		Reason:         reason,
		RequestedSize:  intent.Size,
		Error:          detail,
		ReportedAt:     now,
	}
}

// ReportFor builds an empty report bound to a command.
func ReportFor(cmd OrderCommand, status ExecStatus, now time.Time) ExecutionReport {
	return ExecutionReport{
		IntentID:       cmd.Intent.ID,
		IdempotencyKey: cmd.Intent.IdempotencyKey,
		ClientOrderID:  cmd.ClientOrderID,
		AgentID:        cmd.Intent.AgentID,
		Market:         cmd.Intent.Market,
		Side:           cmd.Intent.Side,
		Status:         status,
		RequestedSize:  cmd.Intent.Size,
		ReportedAt:     now,
	}
}
