package schema

import "time"

// SchemaVersion is the current stored event schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of an event stored in the event log.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventIntentAccepted
	EventIntentRejected
	EventExecutionReported
	EventRiskTransition
	EventRiskResumed
	EventDeadLettered
)

var eventTypeNames = [...]string{
	EventUnknown:           "unknown",
	EventIntentAccepted:    "intent_accepted",
	EventIntentRejected:    "intent_rejected",
	EventExecutionReported: "execution_reported",
	EventRiskTransition:    "risk_transition",
	EventRiskResumed:       "risk_resumed",
	EventDeadLettered:      "dead_lettered",
}

func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return "unknown"
}

// EventHeader is the common metadata attached to every stored event.
type EventHeader struct {
	Type    EventType `json:"type"`
	Version uint16    `json:"version"`
	Source  uint16    `json:"source"`
	Flags   uint16    `json:"flags"`
	Seq     uint64    `json:"seq"`
	TsEvent int64     `json:"tsEvent"`
	TsRecv  int64     `json:"tsRecv"`
	TraceID uint64    `json:"traceId"`
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, source uint16, seq uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Source:  source,
		Seq:     seq,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}

// Time returns the event timestamp.
func (h EventHeader) Time() time.Time {
	return time.Unix(0, h.TsEvent).UTC()
}

// StoredEvent is one record of the append-only event log.
// Payload is a self-describing JSON document whose layout is selected by Header.Type and Header.Version.
type StoredEvent struct {
	Header  EventHeader `json:"header"`
	Payload []byte      `json:"payload"`
}
