package execution

import (
	"errors"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

var (
	ErrDuplicateIntent   = errors.New("execution: intent already tracked")
	ErrUnknownIntent     = errors.New("execution: intent not found")
	ErrInvalidTransition = errors.New("execution: invalid intent state transition")
)

// IntentState tracks one intent through the pipeline.
type IntentState uint16

const (
	IntentStateUnknown IntentState = iota
	IntentStateReceived
	IntentStateRiskApproved
	IntentStateQueued
	IntentStateSubmitting
	IntentStateFilled
	IntentStatePartiallyFilled
	IntentStateFailed
	IntentStateExpired
	IntentStateRejected
)

var intentStateNames = [...]string{
	IntentStateUnknown:         "unknown",
	IntentStateReceived:        "received",
	IntentStateRiskApproved:    "risk_approved",
	IntentStateQueued:          "queued",
	IntentStateSubmitting:      "submitting",
	IntentStateFilled:          "filled",
	IntentStatePartiallyFilled: "partially_filled",
	IntentStateFailed:          "failed",
	IntentStateExpired:         "expired",
	IntentStateRejected:        "rejected",
}

func (s IntentState) String() string {
	if int(s) < len(intentStateNames) {
		return intentStateNames[s]
	}
	return "unknown"
}

// Terminal reports whether the state is final.
func (s IntentState) Terminal() bool {
	switch s {
	case IntentStateFilled, IntentStatePartiallyFilled, IntentStateFailed, IntentStateExpired, IntentStateRejected:
		return true
	default:
		return false
	}
}

// StateFor maps a report status to the terminal intent state.
func StateFor(status schema.ExecStatus) IntentState {
	switch status {
	case schema.ExecStatusFilled:
		return IntentStateFilled
	case schema.ExecStatusPartiallyFilled:
		return IntentStatePartiallyFilled
	case schema.ExecStatusExpired:
		return IntentStateExpired
	case schema.ExecStatusRejected:
		return IntentStateRejected
	default:
		return IntentStateFailed
	}
}

// allowed lists legal forward moves. Terminal states are reachable from any
// live state because rejections, expiry and failures can end an intent early.
var allowed = map[IntentState]IntentState{
	IntentStateReceived:     IntentStateRiskApproved,
	IntentStateRiskApproved: IntentStateQueued,
	IntentStateQueued:       IntentStateSubmitting,
}

// Order is the pipeline view of one intent.
type Order struct {
	IntentID      string
	Key           string
	ClientOrderID string
	State         IntentState
}

// StateMachine tracks live intents by id. Terminal intents are dropped.
type StateMachine struct {
	orders map[string]*Order
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[string]*Order)}
}

// Order returns the current order state.
func (m *StateMachine) Order(intentID string) (Order, bool) {
	o, ok := m.orders[intentID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Len returns the number of live intents.
func (m *StateMachine) Len() int {
	return len(m.orders)
}

// Receive registers a new intent in Received state.
func (m *StateMachine) Receive(intent schema.TradeIntent) error {
	if intent.ID == "" {
		return ErrUnknownIntent
	}
	if _, ok := m.orders[intent.ID]; ok {
		return ErrDuplicateIntent
	}
	m.orders[intent.ID] = &Order{IntentID: intent.ID, Key: intent.IdempotencyKey, State: IntentStateReceived}
	return nil
}

// Advance moves an intent one step forward.
func (m *StateMachine) Advance(intentID string, to IntentState) error {
	o, ok := m.orders[intentID]
	if !ok {
		return ErrUnknownIntent
	}
	if allowed[o.State] != to {
		return ErrInvalidTransition
	}
	o.State = to
	return nil
}

// Bind attaches the client order id.
func (m *StateMachine) Bind(intentID, clientOrderID string) {
	if o, ok := m.orders[intentID]; ok {
		o.ClientOrderID = clientOrderID
	}
}

// Finish moves an intent to a terminal state and forgets it.
func (m *StateMachine) Finish(intentID string, to IntentState) (Order, error) {
	o, ok := m.orders[intentID]
	if !ok {
		return Order{}, ErrUnknownIntent
	}
	if !to.Terminal() {
		return *o, ErrInvalidTransition
	}
	o.State = to
	delete(m.orders, intentID)
	return *o, nil
}

// Live returns every tracked intent.
func (m *StateMachine) Live() []Order {
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out
}
