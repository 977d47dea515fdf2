package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"github.com/proerror77/ploy-sub006/internal/execution"
	"github.com/proerror77/ploy-sub006/internal/obs"
	"github.com/proerror77/ploy-sub006/internal/schema"
)

var ErrUnknownEntry = errors.New("persistence: unknown dlq entry")

// DLQState is the lifecycle of a dead-letter entry.
type DLQState uint8

const (
	DLQPending DLQState = iota + 1
	DLQResolved
	DLQDead
)

func (s DLQState) String() string {
	switch s {
	case DLQPending:
		return "pending"
	case DLQResolved:
		return "resolved"
	case DLQDead:
		return "dead"
	default:
		return "unknown"
	}
}

// DLQEntry is one failed command awaiting retry or inspection.
type DLQEntry struct {
	ID            string                  `json:"id"`
	Command       schema.OrderCommand     `json:"command"`
	State         DLQState                `json:"state"`
	Attempts      int                     `json:"attempts"`
	LastError     string                  `json:"lastError"`
	NextAttemptAt time.Time               `json:"nextAttemptAt"`
	CreatedAt     time.Time               `json:"createdAt"`
	UpdatedAt     time.Time               `json:"updatedAt"`
	Report        *schema.ExecutionReport `json:"report,omitempty"`
}

// DLQStore persists dead-letter entries.
type DLQStore interface {
	Put(ctx context.Context, e DLQEntry) error
	Get(ctx context.Context, id string) (DLQEntry, error)
	Due(ctx context.Context, now time.Time, limit int) ([]DLQEntry, error)
	List(ctx context.Context, state DLQState) ([]DLQEntry, error)
}

// Retrier re-executes a command once.
type Retrier interface {
	Execute(ctx context.Context, cmd schema.OrderCommand) schema.ExecutionReport
}

// DLQConfig controls the DLQ retry policy.
type DLQConfig struct {
	Interval       time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	MaxAttempts    int
	BatchSize      int
}

// DefaultDLQConfig returns the DLQ defaults.
func DefaultDLQConfig() DLQConfig {
	return DLQConfig{
		Interval:       time.Second,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     5 * time.Minute,
		Multiplier:     2,
		MaxAttempts:    5,
		BatchSize:      32,
	}
}

// Validate checks if the configuration is usable.
func (c DLQConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("invalid dlq config: Interval must be > 0")
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("invalid dlq config: need 0 <= InitialBackoff <= MaxBackoff")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("invalid dlq config: Multiplier must be >= 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("invalid dlq config: MaxAttempts must be >= 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("invalid dlq config: BatchSize must be >= 1")
	}
	return nil
}

// DLQ retries commands the executor gave up on with its own backoff, then marks
// them dead for manual inspection. Nothing is dropped.
type DLQ struct {
	cfg        DLQConfig
	store      DLQStore
	retry      Retrier
	events     EventStore
	onResolved func(context.Context, schema.ExecutionReport) error
	metrics    *obs.Metrics
	now        func() time.Time
}

// DLQOption customizes a DLQ.
type DLQOption func(*DLQ)

// WithDLQMetrics counts permanently dead-lettered commands.
func WithDLQMetrics(m *obs.Metrics) DLQOption {
	return func(q *DLQ) { q.metrics = m }
}

// NewDLQ creates a processor. events may be nil.
func NewDLQ(cfg DLQConfig, store DLQStore, retry Retrier, events EventStore, opts ...DLQOption) (*DLQ, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || retry == nil {
		return nil, fmt.Errorf("invalid dlq config: store and retrier are required")
	}
	q := &DLQ{cfg: cfg, store: store, retry: retry, events: events, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// OnResolved registers the callback for commands that eventually succeed.
func (q *DLQ) OnResolved(fn func(context.Context, schema.ExecutionReport) error) {
	q.onResolved = fn
}

// DeadLetter queues a command whose executor retries are exhausted.
func (q *DLQ) DeadLetter(ctx context.Context, cmd schema.OrderCommand, cause error, attempts int) error {
	now := q.now()
	e := DLQEntry{
		ID:            cmd.ClientOrderID,
		Command:       cmd,
		State:         DLQPending,
		NextAttemptAt: now.Add(q.cfg.InitialBackoff),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if cause != nil {
		e.LastError = cause.Error()
	}
	if err := q.store.Put(ctx, e); err != nil {
		return err
	}
	logs.Warnf("dead-lettered order %s intent %s after %d attempts: %s", e.ID, cmd.Intent.ID, attempts, e.LastError)
	return nil
}

// ProcessDue retries every due entry once and returns how many were processed.
func (q *DLQ) ProcessDue(ctx context.Context) (int, error) {
	due, err := q.store.Due(ctx, q.now(), q.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, e := range due {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := q.attempt(ctx, e); err != nil {
			return 0, err
		}
	}
	return len(due), nil
}

func (q *DLQ) attempt(ctx context.Context, e DLQEntry) error {
	rep := q.retry.Execute(ctx, e.Command)
	now := q.now()
	e.Attempts++
	e.UpdatedAt = now

	if rep.Status != schema.ExecStatusFailed {
		e.State = DLQResolved
		e.Report = &rep
		if err := q.store.Put(ctx, e); err != nil {
			return err
		}
		logs.Infof("dlq resolved order %s as %s after %d attempts", e.ID, rep.Status, e.Attempts)
		if q.onResolved != nil {
			return q.onResolved(ctx, rep)
		}
		return nil
	}

	e.LastError = rep.Error
	if e.Attempts >= q.cfg.MaxAttempts {
		e.State = DLQDead
		if err := q.store.Put(ctx, e); err != nil {
			return err
		}
		q.metrics.IncDeadLettered()
		logs.Errorf("order %s permanently dead-lettered after %d attempts: %s", e.ID, e.Attempts, e.LastError)
		if q.events != nil {
			ev, err := NewEvent(schema.EventDeadLettered, SourceDLQ, e, now)
			if err != nil {
				return err
			}
			if _, err := q.events.Append(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	}
	e.NextAttemptAt = now.Add(execution.Backoff(q.cfg.InitialBackoff, q.cfg.MaxBackoff, q.cfg.Multiplier, 0, e.Attempts+1))
	return q.store.Put(ctx, e)
}

// Run processes due entries every Interval until ctx is done.
func (q *DLQ) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.ProcessDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logs.Errorf("dlq processing failed, err: %+v", err)
			}
		}
	}
}

// Entries lists entries in state.
func (q *DLQ) Entries(ctx context.Context, state DLQState) ([]DLQEntry, error) {
	return q.store.List(ctx, state)
}

// MemoryDLQStore is an in-process DLQStore.
type MemoryDLQStore struct {
	mu      sync.Mutex
	entries map[string]DLQEntry
}

// NewMemoryDLQStore creates an empty store.
func NewMemoryDLQStore() *MemoryDLQStore {
	return &MemoryDLQStore{entries: make(map[string]DLQEntry)}
}

func (s *MemoryDLQStore) Put(_ context.Context, e DLQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
	return nil
}

func (s *MemoryDLQStore) Get(_ context.Context, id string) (DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return DLQEntry{}, ErrUnknownEntry
	}
	return e, nil
}

func (s *MemoryDLQStore) Due(_ context.Context, now time.Time, limit int) ([]DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DLQEntry
	for _, e := range s.entries {
		if e.State == DLQPending && !e.NextAttemptAt.After(now) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryDLQStore) List(_ context.Context, state DLQState) ([]DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DLQEntry
	for _, e := range s.entries {
		if state == 0 || e.State == state {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []DLQEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].NextAttemptAt.Equal(entries[j].NextAttemptAt) {
			return entries[i].NextAttemptAt.Before(entries[j].NextAttemptAt)
		}
		return entries[i].ID < entries[j].ID
	})
}
