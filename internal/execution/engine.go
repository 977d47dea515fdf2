package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

// Engine drives intents through Received → RiskApproved → Queued → Submitting
// → terminal, keeping the idempotency records and the fund ledger in step. It
// is owned by the platform loop and never touches the venue itself.
type Engine struct {
	sm    *StateMachine
	idem  *Idempotency
	funds *Funds
}

// NewEngine creates an engine with the starting cash.
func NewEngine(cash, feeRate decimal.Decimal) *Engine {
	return &Engine{
		sm:    NewStateMachine(),
		idem:  NewIdempotency(),
		funds: NewFunds(cash, feeRate),
	}
}

// Funds returns the fund ledger.
func (e *Engine) Funds() *Funds { return e.funds }

// Idempotency returns the idempotency manager.
func (e *Engine) Idempotency() *Idempotency { return e.idem }

// Live returns the number of intents not yet terminal.
func (e *Engine) Live() int { return e.sm.Len() }

// Receive checks the key of intent and, when new, claims it.
func (e *Engine) Receive(intent schema.TradeIntent) (Lookup, Record, error) {
	lookup, rec, err := e.idem.Check(intent)
	if err != nil || lookup != LookupNew {
		return lookup, rec, err
	}
	if err := e.sm.Receive(intent); err != nil {
		return LookupNew, Record{}, err
	}
	rec = e.idem.Reserve(intent)
	e.sm.Bind(intent.ID, rec.ClientOrderID)
	return LookupNew, rec, nil
}

// Approve records the risk approval and reserves funds.
func (e *Engine) Approve(intent schema.TradeIntent) error {
	if err := e.funds.Reserve(intent); err != nil {
		return err
	}
	return e.sm.Advance(intent.ID, IntentStateRiskApproved)
}

// Command builds the queue-ready command for an approved intent.
func (e *Engine) Command(intent schema.TradeIntent) schema.OrderCommand {
	return schema.OrderCommand{
		Intent:        intent,
		ClientOrderID: ClientOrderID(intent.IdempotencyKey),
		Priority:      intent.Priority,
	}
}

// Queued marks the intent as waiting in the order queue.
func (e *Engine) Queued(intentID string) error {
	return e.sm.Advance(intentID, IntentStateQueued)
}

// Submitting marks the intent as handed to the executor.
func (e *Engine) Submitting(intentID string) error {
	return e.sm.Advance(intentID, IntentStateSubmitting)
}

// Reject ends an intent that never reached the venue and releases its key.
func (e *Engine) Reject(intent schema.TradeIntent, reason schema.BlockReason, detail string, now time.Time) schema.ExecutionReport {
	e.funds.Release(intent.ID)
	e.idem.Release(intent.IdempotencyKey)
	_, _ = e.sm.Finish(intent.ID, IntentStateRejected)
	return schema.RejectedReport(intent, reason, detail, now)
}

// Complete books a terminal report. Expired commands never reached the venue
// but keep their key so a retry cannot double-execute a late resolution.
func (e *Engine) Complete(intentID string, report schema.ExecutionReport) error {
	e.funds.Settle(intentID, report)
	e.idem.Complete(report)
	_, err := e.sm.Finish(intentID, StateFor(report.Status))
	return err
}

// Resolve books a report that arrives after its intent was finished, such as a
// DLQ retry succeeding. It returns false when the key already holds a fill.
func (e *Engine) Resolve(report schema.ExecutionReport) bool {
	rec, ok := e.idem.Get(report.IdempotencyKey)
	if ok && rec.Done() && rec.Report.HasFill() {
		return false
	}
	e.funds.Settle(report.IntentID, report)
	e.idem.Complete(report)
	return true
}

// ReplayAccepted rebuilds the key claim of an accepted intent from the event log.
func (e *Engine) ReplayAccepted(intent schema.TradeIntent) {
	if _, ok := e.idem.Get(intent.IdempotencyKey); ok {
		return
	}
	e.idem.Reserve(intent)
}

// ReplayReport rebuilds the terminal report and cash flow from the event log. A
// rejection logged after acceptance gives the key back.
func (e *Engine) ReplayReport(report schema.ExecutionReport) {
	if report.Status == schema.ExecStatusRejected {
		if rec, ok := e.idem.Get(report.IdempotencyKey); ok && !rec.Done() && rec.IntentID == report.IntentID {
			e.idem.Release(report.IdempotencyKey)
		}
		return
	}
	e.Resolve(report)
}

// Pending returns accepted keys with no terminal report and no live intent,
// which after a restart have an unknown venue outcome.
func (e *Engine) Pending() []Record {
	var out []Record
	for _, rec := range e.idem.InFlight() {
		if _, live := e.sm.Order(rec.IntentID); !live {
			out = append(out, rec)
		}
	}
	return out
}

// EngineState is the persisted form of the engine.
type EngineState struct {
	Cash    decimal.Decimal `json:"cash"`
	Records []Record        `json:"records"`
}

// Export returns the persisted form. In-flight reservations are not persisted;
// pending records are reconciled with the venue after restore.
func (e *Engine) Export() EngineState {
	return EngineState{Cash: e.funds.Cash(), Records: e.idem.Export()}
}

// Import replaces the engine state.
func (e *Engine) Import(s EngineState) {
	e.funds = NewFunds(s.Cash, e.funds.feeRate)
	e.idem.Import(s.Records)
	e.sm = NewStateMachine()
}
