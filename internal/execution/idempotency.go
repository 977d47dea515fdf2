package execution

import (
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

var (
	// ErrDivergentIntent is a defect: a known key was reused with different order parameters.
	ErrDivergentIntent = errors.New("execution: idempotency key reused with divergent intent")
	ErrMissingKey      = errors.New("execution: missing idempotency key")
)

// Lookup is the outcome of checking a key.
type Lookup uint8

const (
	// LookupNew means the key is unseen and the intent may proceed.
	LookupNew Lookup = iota
	// LookupInFlight means the key is being executed; callers wait for its report.
	LookupInFlight
	// LookupDone means the key has a terminal report.
	LookupDone
)

// Record is what the manager remembers about one key.
type Record struct {
	Key           string                  `json:"key"`
	Fingerprint   string                  `json:"fingerprint"`
	IntentID      string                  `json:"intentId"`
	ClientOrderID string                  `json:"clientOrderId"`
	Intent        schema.TradeIntent      `json:"intent"`
	Report        *schema.ExecutionReport `json:"report,omitempty"`
}

// Done reports whether the record carries a terminal report.
func (r Record) Done() bool {
	return r.Report != nil
}

// Fingerprint identifies the economically relevant parameters of an intent.
func Fingerprint(intent schema.TradeIntent) string {
	reduce := "0"
	if intent.ReduceOnly {
		reduce = "1"
	}
	return strings.Join([]string{
		intent.AgentID,
		intent.Market,
		intent.Side.String(),
		intent.Size.String(),
		intent.LimitPrice.String(),
		reduce,
	}, "|")
}

// ClientOrderID derives the venue-side id from the idempotency key, so retries
// and restarts resubmit under the same id.
func ClientOrderID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// Idempotency maps idempotency keys to at most one execution. Rejected intents
// release their key; accepted ones keep it forever.
type Idempotency struct {
	records map[string]*Record
}

// NewIdempotency creates an empty manager.
func NewIdempotency() *Idempotency {
	return &Idempotency{records: make(map[string]*Record)}
}

// Check classifies an intent against the known keys.
func (m *Idempotency) Check(intent schema.TradeIntent) (Lookup, Record, error) {
	if intent.IdempotencyKey == "" {
		return LookupNew, Record{}, ErrMissingKey
	}
	rec, ok := m.records[intent.IdempotencyKey]
	if !ok {
		return LookupNew, Record{}, nil
	}
	if rec.Fingerprint != Fingerprint(intent) {
		return LookupNew, *rec, ErrDivergentIntent
	}
	if rec.Done() {
		return LookupDone, *rec, nil
	}
	return LookupInFlight, *rec, nil
}

// Reserve claims a key for an intent.
func (m *Idempotency) Reserve(intent schema.TradeIntent) Record {
	rec := &Record{
		Key:           intent.IdempotencyKey,
		Fingerprint:   Fingerprint(intent),
		IntentID:      intent.ID,
		ClientOrderID: ClientOrderID(intent.IdempotencyKey),
		Intent:        intent,
	}
	m.records[rec.Key] = rec
	return *rec
}

// Release forgets a key whose intent never reached the venue.
func (m *Idempotency) Release(key string) {
	delete(m.records, key)
}

// Complete stores the terminal report for a key.
func (m *Idempotency) Complete(report schema.ExecutionReport) bool {
	rec, ok := m.records[report.IdempotencyKey]
	if !ok {
		return false
	}
	r := report
	rec.Report = &r
	return true
}

// Get returns the record of key.
func (m *Idempotency) Get(key string) (Record, bool) {
	rec, ok := m.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// InFlight returns records without a terminal report, ordered by key.
func (m *Idempotency) InFlight() []Record {
	var out []Record
	for _, rec := range m.records {
		if !rec.Done() {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of tracked keys.
func (m *Idempotency) Len() int {
	return len(m.records)
}

// Export returns all records ordered by key.
func (m *Idempotency) Export() []Record {
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Import replaces every record.
func (m *Idempotency) Import(records []Record) {
	m.records = make(map[string]*Record, len(records))
	for i := range records {
		rec := records[i]
		m.records[rec.Key] = &rec
	}
}
