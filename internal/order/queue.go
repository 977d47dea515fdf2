package order

import (
	"time"

	"github.com/tidwall/btree"

	"github.com/proerror77/ploy-sub006/internal/errors"
	"github.com/proerror77/ploy-sub006/internal/schema"
)

var (
	ErrQueueFull       = errors.New("order queue full")
	ErrInvalidCommand  = errors.New("order queue: invalid command")
	ErrDuplicateIntent = errors.New("order queue: intent already queued")
)

const (
	defaultMaxSize = 1024
	defaultTTL     = 30 * time.Second
)

// QueueConfig controls queue capacity and default command lifetime.
type QueueConfig struct {
	MaxSize    int           `json:"maxSize"`
	DefaultTTL time.Duration `json:"defaultTtl"`
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.MaxSize == 0 {
		c.MaxSize = defaultMaxSize
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = defaultTTL
	}
	return c
}

// Validate checks if the configuration is usable.
func (c QueueConfig) Validate() error {
	if c.MaxSize <= 0 {
		return errors.New("invalid queue config: MaxSize must be > 0")
	}
	if c.DefaultTTL < 0 {
		return errors.New("invalid queue config: DefaultTTL must be >= 0")
	}
	return nil
}

// Queue is a bounded priority queue of order commands.
// Ordering: priority first (Urgent > Normal > Low), then enqueue time, then sequence.
// It is not safe for concurrent use; the platform loop owns it.
type Queue struct {
	cfg     QueueConfig
	tree    *btree.BTreeG[schema.OrderCommand]
	intents map[string]struct{}
	expired []schema.OrderCommand
	seq     uint64
	stats   schema.QueueStats
}

// NewQueue creates a queue with the given configuration.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Queue{
		cfg:     cfg,
		tree:    btree.NewBTreeG(less),
		intents: make(map[string]struct{}),
		stats:   schema.QueueStats{MaxSize: cfg.MaxSize},
	}, nil
}

func less(a, b schema.OrderCommand) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.Seq < b.Seq
}

// Enqueue stamps and stores cmd. Expired entries are purged first; a full queue
// rejects the command with ErrQueueFull.
func (q *Queue) Enqueue(cmd schema.OrderCommand, now time.Time) (schema.OrderCommand, error) {
	if cmd.Intent.ID == "" {
		return cmd, ErrInvalidCommand
	}
	q.purge(now)

	if _, ok := q.intents[cmd.Intent.ID]; ok {
		q.stats.RejectedTotal++
		return cmd, ErrDuplicateIntent
	}
	if q.tree.Len() >= q.cfg.MaxSize {
		q.stats.RejectedTotal++
		return cmd, ErrQueueFull
	}

	q.seq++
	cmd.Seq = q.seq
	cmd.EnqueuedAt = now
	if cmd.Priority == 0 {
		cmd.Priority = schema.PriorityNormal
	}
	if cmd.ExpiresAt.IsZero() && q.cfg.DefaultTTL > 0 {
		cmd.ExpiresAt = now.Add(q.cfg.DefaultTTL)
	}
	if cmd.Expired(now) {
		q.stats.RejectedTotal++
		return cmd, errors.Wrap(ErrInvalidCommand, "deadline already passed")
	}

	q.tree.Set(cmd)
	q.intents[cmd.Intent.ID] = struct{}{}
	q.stats.EnqueuedTotal++
	return cmd, nil
}

// Dequeue removes the next live command.
func (q *Queue) Dequeue(now time.Time) (schema.OrderCommand, bool) {
	q.purge(now)
	cmd, ok := q.tree.PopMin()
	if !ok {
		return schema.OrderCommand{}, false
	}
	delete(q.intents, cmd.Intent.ID)
	q.stats.DequeuedTotal++
	return cmd, true
}

// Peek returns the next live command without removing it.
func (q *Queue) Peek(now time.Time) (schema.OrderCommand, bool) {
	q.purge(now)
	return q.tree.Min()
}

// DrainExpired hands back commands purged since the last call.
func (q *Queue) DrainExpired() []schema.OrderCommand {
	out := q.expired
	q.expired = nil
	return out
}

// Expire purges commands whose deadline passed at now and hands back every
// command purged since the last drain.
func (q *Queue) Expire(now time.Time) []schema.OrderCommand {
	q.purge(now)
	return q.DrainExpired()
}

// ExpireAll purges every queued command, used when draining on shutdown timeout.
func (q *Queue) ExpireAll() []schema.OrderCommand {
	q.tree.Scan(func(cmd schema.OrderCommand) bool {
		q.expired = append(q.expired, cmd)
		return true
	})
	for _, cmd := range q.expired {
		if _, ok := q.tree.Delete(cmd); ok {
			delete(q.intents, cmd.Intent.ID)
			q.stats.ExpiredTotal++
		}
	}
	return q.DrainExpired()
}

// Stats returns the counters after purging expired entries.
func (q *Queue) Stats(now time.Time) schema.QueueStats {
	q.purge(now)
	s := q.stats
	s.CurrentSize = q.tree.Len()
	return s
}

// RestoreStats carries the monotonic counters over from a checkpoint. It is
// only meaningful on an empty queue.
func (q *Queue) RestoreStats(s schema.QueueStats) {
	q.stats.EnqueuedTotal = s.EnqueuedTotal
	q.stats.DequeuedTotal = s.DequeuedTotal
	q.stats.ExpiredTotal = s.ExpiredTotal
	q.stats.RejectedTotal = s.RejectedTotal
}

// Len returns the number of queued commands, including ones that have not been purged yet.
func (q *Queue) Len() int {
	return q.tree.Len()
}

func (q *Queue) purge(now time.Time) {
	var dead []schema.OrderCommand
	q.tree.Scan(func(cmd schema.OrderCommand) bool {
		if cmd.Expired(now) {
			dead = append(dead, cmd)
		}
		return true
	})
	for _, cmd := range dead {
		q.tree.Delete(cmd)
		delete(q.intents, cmd.Intent.ID)
		q.stats.ExpiredTotal++
	}
	q.expired = append(q.expired, dead...)
}
