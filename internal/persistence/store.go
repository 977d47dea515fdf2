package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

var (
	// ErrEventGap means the event log is not contiguous; recovery must not continue.
	ErrEventGap = errors.New("persistence: event log gap")
	// ErrUnsupportedEvent means a stored event has a newer schema than this build.
	ErrUnsupportedEvent = errors.New("persistence: unsupported event version")
)

// Event sources recorded in the header.
const (
	SourcePlatform uint16 = iota + 1
	SourceCoordinator
	SourceDLQ
)

// EventStore is an append-only, strictly ordered log. Append assigns the
// sequence number; Replay yields events above afterSeq in sequence order.
type EventStore interface {
	Append(ctx context.Context, ev schema.StoredEvent) (schema.StoredEvent, error)
	Replay(ctx context.Context, afterSeq uint64, fn func(schema.StoredEvent) error) error
	LastSeq() uint64
}

// NewEvent encodes v as the payload of a new event.
func NewEvent(eventType schema.EventType, source uint16, v any, at time.Time) (schema.StoredEvent, error) {
	payload, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return schema.StoredEvent{}, fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return schema.StoredEvent{
		Header:  schema.NewHeader(eventType, source, 0, at.UnixNano(), 0),
		Payload: payload,
	}, nil
}

// DecodeEvent decodes the payload of ev into v.
func DecodeEvent(ev schema.StoredEvent, v any) error {
	if ev.Header.Version > schema.SchemaVersion {
		return fmt.Errorf("%w: %s v%d", ErrUnsupportedEvent, ev.Header.Type, ev.Header.Version)
	}
	if err := sonic.ConfigStd.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("decode %s event seq %d: %w", ev.Header.Type, ev.Header.Seq, err)
	}
	return nil
}

// ReplayContiguous replays store after afterSeq and fails with ErrEventGap on
// any missing sequence number.
func ReplayContiguous(ctx context.Context, store EventStore, afterSeq uint64, fn func(schema.StoredEvent) error) (uint64, error) {
	if last := store.LastSeq(); last < afterSeq {
		return afterSeq, fmt.Errorf("%w: log ends at %d before checkpoint %d", ErrEventGap, last, afterSeq)
	}
	next := afterSeq + 1
	err := store.Replay(ctx, afterSeq, func(ev schema.StoredEvent) error {
		if ev.Header.Seq != next {
			return fmt.Errorf("%w: want seq %d got %d", ErrEventGap, next, ev.Header.Seq)
		}
		next++
		return fn(ev)
	})
	return next - 1, err
}

// MemoryStore is an in-process EventStore.
type MemoryStore struct {
	mu     sync.Mutex
	events []schema.StoredEvent
	now    func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Append(ctx context.Context, ev schema.StoredEvent) (schema.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return ev, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.Header.Seq = uint64(len(s.events)) + 1
	if ev.Header.Version == 0 {
		ev.Header.Version = schema.SchemaVersion
	}
	ev.Header.TsRecv = s.now().UnixNano()
	ev.Payload = append([]byte(nil), ev.Payload...)
	s.events = append(s.events, ev)
	return ev, nil
}

func (s *MemoryStore) Replay(ctx context.Context, afterSeq uint64, fn func(schema.StoredEvent) error) error {
	s.mu.Lock()
	var events []schema.StoredEvent
	if afterSeq < uint64(len(s.events)) {
		events = append(events, s.events[afterSeq:]...)
	}
	s.mu.Unlock()
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.events))
}

// Events returns a copy of every stored event.
func (s *MemoryStore) Events() []schema.StoredEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.StoredEvent(nil), s.events...)
}
