package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

var (
	ErrDuplicateSubscriber = errors.New("bus: duplicate subscriber")
	ErrUnknownSubscriber   = errors.New("bus: unknown subscriber")
)

// Policy selects what a full subscriber mailbox discards.
type Policy uint8

const (
	// DropOldest evicts the oldest buffered event to make room.
	DropOldest Policy = iota
	// DropNewest discards the event being delivered.
	DropNewest
)

func (p Policy) String() string {
	if p == DropNewest {
		return "drop_newest"
	}
	return "drop_oldest"
}

// Filter narrows a subscription beyond its event kinds.
type Filter func(schema.DomainEvent) bool

// MarketFilter accepts events for the given markets. Events without a market pass.
func MarketFilter(markets ...string) Filter {
	set := make(map[string]struct{}, len(markets))
	for _, m := range markets {
		set[m] = struct{}{}
	}
	return func(ev schema.DomainEvent) bool {
		if ev.Market == "" {
			return true
		}
		_, ok := set[ev.Market]
		return ok
	}
}

// AgentFilter accepts events addressed to agentID and events not addressed to any agent.
func AgentFilter(agentID string) Filter {
	return func(ev schema.DomainEvent) bool {
		return ev.AgentID == "" || ev.AgentID == agentID
	}
}

// All accepts events that pass every filter.
func All(filters ...Filter) Filter {
	return func(ev schema.DomainEvent) bool {
		for _, f := range filters {
			if f != nil && !f(ev) {
				return false
			}
		}
		return true
	}
}

// Subscription describes what a subscriber wants to receive.
type Subscription struct {
	ID     string
	Kinds  []schema.EventKind
	Filter Filter
	Buffer int
	Policy Policy
}

// RouterConfig sizes the router queues.
type RouterConfig struct {
	InboxSize     int
	DefaultBuffer int
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.InboxSize <= 0 {
		c.InboxSize = 4096
	}
	if c.DefaultBuffer <= 0 {
		c.DefaultBuffer = 256
	}
	return c
}

// Subscriber is one registered mailbox.
type Subscriber struct {
	id     string
	kinds  map[schema.EventKind]struct{}
	filter Filter
	policy Policy
	ch     chan schema.DomainEvent

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// ID returns the subscription id.
func (s *Subscriber) ID() string { return s.id }

// C returns the mailbox. It is closed when the router stops.
func (s *Subscriber) C() <-chan schema.DomainEvent { return s.ch }

func (s *Subscriber) matches(ev schema.DomainEvent) bool {
	if len(s.kinds) > 0 {
		if _, ok := s.kinds[ev.Kind]; !ok {
			return false
		}
	}
	return s.filter == nil || s.filter(ev)
}

// offer never blocks. The router is the only sender, so the eviction loop terminates.
func (s *Subscriber) offer(ev schema.DomainEvent) {
	for {
		select {
		case s.ch <- ev:
			s.delivered.Add(1)
			return
		default:
		}
		if s.policy == DropNewest {
			s.dropped.Add(1)
			return
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// SubscriberStats reports one mailbox.
type SubscriberStats struct {
	ID        string `json:"id"`
	Policy    string `json:"policy"`
	Pending   int    `json:"pending"`
	Capacity  int    `json:"capacity"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// RouterStats reports router counters.
type RouterStats struct {
	Published    uint64            `json:"published"`
	InboxDropped uint64            `json:"inboxDropped"`
	Delivered    uint64            `json:"delivered"`
	Dropped      uint64            `json:"dropped"`
	Subscribers  []SubscriberStats `json:"subscribers"`
}

// Router fans published domain events out to subscribers. Publication goes
// through a bounded inbox consumed by Run; a slow subscriber only loses its
// own events.
type Router struct {
	cfg   RouterConfig
	inbox *Queue[schema.DomainEvent]
	now   func() time.Time

	mu   sync.Mutex
	subs atomic.Pointer[[]*Subscriber]

	seq          uint64
	published    atomic.Uint64
	inboxDropped atomic.Uint64
	stopped      chan struct{}
}

// NewRouter creates a router. Run must be started to deliver events.
func NewRouter(cfg RouterConfig) *Router {
	cfg = cfg.withDefaults()
	r := &Router{
		cfg:     cfg,
		inbox:   NewQueue[schema.DomainEvent](cfg.InboxSize),
		now:     time.Now,
		stopped: make(chan struct{}),
	}
	empty := []*Subscriber{}
	r.subs.Store(&empty)
	return r
}

// Subscribe registers a mailbox.
func (r *Router) Subscribe(sub Subscription) (*Subscriber, error) {
	if sub.ID == "" {
		return nil, fmt.Errorf("invalid subscription: empty id")
	}
	buffer := sub.Buffer
	if buffer <= 0 {
		buffer = r.cfg.DefaultBuffer
	}
	s := &Subscriber{
		id:     sub.ID,
		filter: sub.Filter,
		policy: sub.Policy,
		ch:     make(chan schema.DomainEvent, buffer),
	}
	if len(sub.Kinds) > 0 {
		s.kinds = make(map[schema.EventKind]struct{}, len(sub.Kinds))
		for _, k := range sub.Kinds {
			s.kinds[k] = struct{}{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current := *r.subs.Load()
	for _, existing := range current {
		if existing.id == sub.ID {
			return nil, ErrDuplicateSubscriber
		}
	}
	next := make([]*Subscriber, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, s)
	r.subs.Store(&next)
	return s, nil
}

// Unsubscribe removes a mailbox. Its channel is left open and simply stops receiving.
func (r *Router) Unsubscribe(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := *r.subs.Load()
	next := make([]*Subscriber, 0, len(current))
	found := false
	for _, s := range current {
		if s.id == id {
			found = true
			continue
		}
		next = append(next, s)
	}
	if !found {
		return ErrUnknownSubscriber
	}
	r.subs.Store(&next)
	return nil
}

// Publish hands an event to the router without blocking.
func (r *Router) Publish(ev schema.DomainEvent) error {
	if err := r.inbox.TryPublish(ev); err != nil {
		r.inboxDropped.Add(1)
		return err
	}
	return nil
}

// Run delivers events until ctx is done or Close is called, then closes every mailbox.
func (r *Router) Run(ctx context.Context) {
	defer close(r.stopped)
	r.inbox.Run(ctx, r.dispatch)
	for _, s := range *r.subs.Load() {
		close(s.ch)
	}
}

// Close stops accepting events; Run returns after the inbox drains.
func (r *Router) Close() {
	r.inbox.Close()
}

// Done is closed when Run has returned.
func (r *Router) Done() <-chan struct{} {
	return r.stopped
}

func (r *Router) dispatch(ev schema.DomainEvent) {
	r.seq++
	ev.Seq = r.seq
	if ev.Published.IsZero() {
		ev.Published = r.now()
	}
	r.published.Add(1)
	for _, s := range *r.subs.Load() {
		if s.matches(ev) {
			s.offer(ev)
		}
	}
}

// Stats returns a copy of the router counters.
func (r *Router) Stats() RouterStats {
	st := RouterStats{
		Published:    r.published.Load(),
		InboxDropped: r.inboxDropped.Load(),
	}
	for _, s := range *r.subs.Load() {
		ss := SubscriberStats{
			ID:        s.id,
			Policy:    s.policy.String(),
			Pending:   len(s.ch),
			Capacity:  cap(s.ch),
			Delivered: s.delivered.Load(),
			Dropped:   s.dropped.Load(),
		}
		st.Delivered += ss.Delivered
		st.Dropped += ss.Dropped
		st.Subscribers = append(st.Subscribers, ss)
	}
	sort.Slice(st.Subscribers, func(i, j int) bool { return st.Subscribers[i].ID < st.Subscribers[j].ID })
	return st
}
