package platform

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proerror77/ploy-sub006/internal/bus"
	"github.com/proerror77/ploy-sub006/internal/exchange"
	"github.com/proerror77/ploy-sub006/internal/execution"
	"github.com/proerror77/ploy-sub006/internal/obs"
	"github.com/proerror77/ploy-sub006/internal/order"
	"github.com/proerror77/ploy-sub006/internal/persistence"
	"github.com/proerror77/ploy-sub006/internal/risk"
	"github.com/proerror77/ploy-sub006/internal/schema"
	"github.com/proerror77/ploy-sub006/pkg/exception"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Add(dur time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(dur)
	c.mu.Unlock()
}

// stubExecutor fills every command at its limit price. When hold is set, each
// execution waits for a release or for its context to end.
type stubExecutor struct {
	clk  *clock
	hold chan struct{}

	mu    sync.Mutex
	calls int
}

func (s *stubExecutor) Execute(ctx context.Context, cmd schema.OrderCommand) schema.ExecutionReport {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.hold != nil {
		select {
		case <-s.hold:
		case <-ctx.Done():
			rep := schema.ReportFor(cmd, schema.ExecStatusFailed, s.clk.Now())
			rep.Error = ctx.Err().Error()
			return rep
		}
	}
	rep := schema.ReportFor(cmd, schema.ExecStatusFilled, s.clk.Now())
	rep.FilledSize = cmd.Intent.Size
	rep.AvgPrice = cmd.Intent.LimitPrice
	return rep
}

func (s *stubExecutor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testConfig() Config {
	return Config{
		Workers:       2,
		SweepInterval: 5 * time.Millisecond,
		DrainTimeout:  time.Minute,
		InitialCash:   d("10000"),
		Queue:         order.QueueConfig{MaxSize: 16, DefaultTTL: time.Minute},
		Risk: risk.Config{
			MaxExposure:    d("5000"),
			DailyLossLimit: d("30"),
		},
	}
}

func intent(key string, side schema.Side, size, price string) schema.TradeIntent {
	return schema.TradeIntent{
		ID:             "id-" + key,
		IdempotencyKey: key,
		AgentID:        "a1",
		Market:         "m1",
		Side:           side,
		Size:           d(size),
		LimitPrice:     d(price),
	}
}

func newPlatform(t *testing.T, cfg Config, exec order.Executor, store persistence.EventStore, clk *clock) *Platform {
	t.Helper()
	p, err := New(cfg, exec, store, WithClock(clk.Now))
	require.NoError(t, err)
	return p
}

// start runs p until the test ends.
func start(t *testing.T, p *Platform) {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- p.Run(context.Background()) }()
	select {
	case <-p.Ready():
	case <-time.After(time.Second):
		t.Fatal("platform did not start")
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-ctx.Done():
			t.Error("platform did not stop")
		}
	})
}

func submitAsync(p *Platform, in schema.TradeIntent) <-chan schema.ExecutionReport {
	out := make(chan schema.ExecutionReport, 1)
	go func() {
		rep, _ := p.Submit(context.Background(), in)
		out <- rep
	}()
	return out
}

func wait(t *testing.T, ch <-chan schema.ExecutionReport) schema.ExecutionReport {
	t.Helper()
	select {
	case rep := <-ch:
		return rep
	case <-time.After(5 * time.Second):
		t.Fatal("no report")
		return schema.ExecutionReport{}
	}
}

func encoded(t *testing.T, v any) string {
	t.Helper()
	b, err := sonic.ConfigStd.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func eventTypes(store *persistence.MemoryStore) []schema.EventType {
	var out []schema.EventType
	for _, ev := range store.Events() {
		out = append(out, ev.Header.Type)
	}
	return out
}

func TestPlatform_SubmitFillsAndLogs(t *testing.T) {
	clk := &clock{t: t0}
	store := persistence.NewMemoryStore()
	exec := &stubExecutor{clk: clk}
	p := newPlatform(t, testConfig(), exec, store, clk)
	start(t, p)

	rep, err := p.Submit(context.Background(), intent("k1", schema.SideBuy, "100", "0.4"))
	require.NoError(t, err)
	assert.Equal(t, schema.ExecStatusFilled, rep.Status)
	assert.True(t, rep.FilledSize.Equal(d("100")))

	pos, err := p.AgentPosition(context.Background(), "a1")
	require.NoError(t, err)
	m, ok := pos.Market("m1")
	require.True(t, ok)
	assert.True(t, m.Size.Equal(d("100")))

	snap, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Cash.Equal(d("9960")), snap.Cash.String())
	assert.True(t, snap.Reserved.IsZero())
	assert.Equal(t, uint64(2), snap.LastSeq)
	assert.Equal(t, []schema.EventType{schema.EventIntentAccepted, schema.EventExecutionReported}, eventTypes(store))

	events := store.Events()
	assert.NotZero(t, events[0].Header.TraceID)
	assert.Equal(t, events[0].Header.TraceID, events[1].Header.TraceID)
}

func TestPlatform_IdempotentResubmit(t *testing.T) {
	clk := &clock{t: t0}
	exec := &stubExecutor{clk: clk}
	p := newPlatform(t, testConfig(), exec, persistence.NewMemoryStore(), clk)
	start(t, p)

	in := intent("k1", schema.SideBuy, "10", "0.5")
	first, err := p.Submit(context.Background(), in)
	require.NoError(t, err)
	in.ID = "" // a retry from the agent carries a fresh id
	second, err := p.Submit(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, exec.Calls())

	diverged := intent("k1", schema.SideBuy, "11", "0.5")
	rep, err := p.Submit(context.Background(), diverged)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecStatusRejected, rep.Status)
	assert.Equal(t, schema.BlockReasonInvalidIntent, rep.Reason)
	assert.Equal(t, 1, exec.Calls())
}

func TestPlatform_ConcurrentDuplicatesExecuteOnce(t *testing.T) {
	clk := &clock{t: t0}
	exec := &stubExecutor{clk: clk, hold: make(chan struct{})}
	p := newPlatform(t, testConfig(), exec, persistence.NewMemoryStore(), clk)
	start(t, p)

	in := intent("k1", schema.SideBuy, "10", "0.5")
	a := submitAsync(p, in)
	require.Eventually(t, func() bool { return exec.Calls() == 1 }, time.Second, time.Millisecond)
	b := submitAsync(p, in)
	time.Sleep(20 * time.Millisecond)
	close(exec.hold)

	ra, rb := wait(t, a), wait(t, b)
	assert.Equal(t, schema.ExecStatusFilled, ra.Status)
	assert.Equal(t, ra, rb)
	assert.Equal(t, 1, exec.Calls())
}

func TestPlatform_RejectsInvalidIntents(t *testing.T) {
	clk := &clock{t: t0}
	store := persistence.NewMemoryStore()
	p := newPlatform(t, testConfig(), &stubExecutor{clk: clk}, store, clk)
	start(t, p)

	cases := map[string]schema.TradeIntent{
		"missing key":   intent("", schema.SideBuy, "1", "0.5"),
		"zero size":     intent("k1", schema.SideBuy, "0", "0.5"),
		"price at one":  intent("k2", schema.SideBuy, "1", "1"),
		"price at zero": intent("k3", schema.SideSell, "1", "0"),
		"unknown side":  intent("k4", schema.SideUnknown, "1", "0.5"),
	}
	for name, in := range cases {
		rep, err := p.Submit(context.Background(), in)
		require.NoError(t, err, name)
		assert.Equal(t, schema.ExecStatusRejected, rep.Status, name)
		assert.Equal(t, schema.BlockReasonInvalidIntent, rep.Reason, name)
	}

	snap, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(len(cases)), snap.Risk.BlockedTotal)
	assert.Len(t, store.Events(), len(cases))
}

func TestPlatform_InsufficientFunds(t *testing.T) {
	clk := &clock{t: t0}
	cfg := testConfig()
	cfg.InitialCash = d("10")
	exec := &stubExecutor{clk: clk}
	p := newPlatform(t, cfg, exec, persistence.NewMemoryStore(), clk)
	start(t, p)

	rep, err := p.Submit(context.Background(), intent("k1", schema.SideBuy, "100", "0.5"))
	require.NoError(t, err)
	assert.Equal(t, schema.BlockReasonInsufficientFunds, rep.Reason)
	assert.Zero(t, exec.Calls())

	// the key was released, a smaller retry under it goes through
	rep, err = p.Submit(context.Background(), intent("k1", schema.SideBuy, "10", "0.5"))
	require.NoError(t, err)
	assert.Equal(t, schema.ExecStatusFilled, rep.Status)
}

func TestPlatform_HaltAndResume(t *testing.T) {
	clk := &clock{t: t0}
	store := persistence.NewMemoryStore()
	p := newPlatform(t, testConfig(), &stubExecutor{clk: clk}, store, clk)
	start(t, p)
	ctx := context.Background()

	rep, err := p.Submit(ctx, intent("buy", schema.SideBuy, "100", "0.5"))
	require.NoError(t, err)
	require.Equal(t, schema.ExecStatusFilled, rep.Status)
	rep, err = p.Submit(ctx, intent("sell", schema.SideSell, "100", "0.1"))
	require.NoError(t, err)
	require.Equal(t, schema.ExecStatusFilled, rep.Status)

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.RiskStateHalted, snap.Risk.State)
	assert.True(t, snap.Risk.DailyPnL.Equal(d("-40")), snap.Risk.DailyPnL.String())
	require.Len(t, snap.Risk.Breakers, 1)
	assert.Equal(t, schema.RiskStateHalted, snap.Risk.Breakers[0].To)

	rep, err = p.Submit(ctx, intent("blocked", schema.SideBuy, "1", "0.5"))
	require.NoError(t, err)
	assert.Equal(t, schema.BlockReasonDrawdownBreach, rep.Reason)

	ev, changed, err := p.Resume(ctx, "operator ack")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, schema.RiskStateNormal, ev.To)

	rep, err = p.Submit(ctx, intent("after", schema.SideBuy, "1", "0.5"))
	require.NoError(t, err)
	assert.Equal(t, schema.ExecStatusFilled, rep.Status)

	_, changed, err = p.Resume(ctx, "again")
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Contains(t, eventTypes(store), schema.EventRiskTransition)
	assert.Contains(t, eventTypes(store), schema.EventRiskResumed)
}

func TestPlatform_QueueExpiry(t *testing.T) {
	clk := &clock{t: t0}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.DefaultParams.DefaultTTL = time.Second
	exec := &stubExecutor{clk: clk, hold: make(chan struct{})}
	p := newPlatform(t, cfg, exec, persistence.NewMemoryStore(), clk)
	start(t, p)

	first := submitAsync(p, intent("k1", schema.SideBuy, "1", "0.5"))
	require.Eventually(t, func() bool { return exec.Calls() == 1 }, time.Second, time.Millisecond)
	second := submitAsync(p, intent("k2", schema.SideBuy, "1", "0.5"))
	require.Eventually(t, func() bool {
		snap, err := p.Snapshot(context.Background())
		return err == nil && snap.Queue.CurrentSize == 1
	}, time.Second, time.Millisecond)

	clk.Add(2 * time.Second)
	rep := wait(t, second)
	assert.Equal(t, schema.ExecStatusExpired, rep.Status)
	assert.Equal(t, "expired in queue", rep.Error)

	close(exec.hold)
	assert.Equal(t, schema.ExecStatusFilled, wait(t, first).Status)
	assert.Equal(t, 1, exec.Calls())

	snap, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Queue.ExpiredTotal)
	assert.True(t, snap.Reserved.IsZero())
}

func TestPlatform_ShutdownDrainsInFlight(t *testing.T) {
	clk := &clock{t: t0}
	cfg := testConfig()
	cfg.Workers = 1
	exec := &stubExecutor{clk: clk, hold: make(chan struct{})}
	p := newPlatform(t, cfg, exec, persistence.NewMemoryStore(), clk)
	start(t, p)
	ctx := context.Background()

	first := submitAsync(p, intent("k1", schema.SideBuy, "1", "0.5"))
	require.Eventually(t, func() bool { return exec.Calls() == 1 }, time.Second, time.Millisecond)
	second := submitAsync(p, intent("k2", schema.SideBuy, "1", "0.5"))
	require.Eventually(t, func() bool {
		snap, err := p.Snapshot(ctx)
		return err == nil && snap.Queue.CurrentSize == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, p.do(ctx, func() { p.beginDrain("test") }))
	rep, err := p.Submit(ctx, intent("k3", schema.SideBuy, "1", "0.5"))
	require.NoError(t, err)
	assert.Equal(t, schema.BlockReasonShuttingDown, rep.Reason)

	stopped := make(chan error, 1)
	go func() { stopped <- p.Shutdown(ctx) }()
	close(exec.hold)

	assert.Equal(t, schema.ExecStatusFilled, wait(t, first).Status)
	assert.Equal(t, schema.ExecStatusFilled, wait(t, second).Status)
	require.NoError(t, <-stopped)

	rep, err = p.Submit(ctx, intent("k4", schema.SideBuy, "1", "0.5"))
	require.NoError(t, err)
	assert.Equal(t, schema.BlockReasonShuttingDown, rep.Reason)
}

func TestPlatform_DrainDeadlineExpiresAndCancels(t *testing.T) {
	clk := &clock{t: t0}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.DrainTimeout = time.Second
	exec := &stubExecutor{clk: clk, hold: make(chan struct{})}
	p := newPlatform(t, cfg, exec, persistence.NewMemoryStore(), clk)
	start(t, p)
	ctx := context.Background()

	first := submitAsync(p, intent("k1", schema.SideBuy, "1", "0.5"))
	require.Eventually(t, func() bool { return exec.Calls() == 1 }, time.Second, time.Millisecond)
	second := submitAsync(p, intent("k2", schema.SideBuy, "1", "0.5"))
	require.Eventually(t, func() bool {
		snap, err := p.Snapshot(ctx)
		return err == nil && snap.Queue.CurrentSize == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, p.do(ctx, func() { p.beginDrain("test") }))
	clk.Add(2 * time.Second)

	rep := wait(t, second)
	assert.Equal(t, schema.ExecStatusExpired, rep.Status)
	assert.Equal(t, "platform shutting down", rep.Error)
	assert.Equal(t, schema.ExecStatusFailed, wait(t, first).Status)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("platform did not stop")
	}
}

func TestPlatform_SubmitBeforeRun(t *testing.T) {
	clk := &clock{t: t0}
	p := newPlatform(t, testConfig(), &stubExecutor{clk: clk}, persistence.NewMemoryStore(), clk)
	_, err := p.Submit(context.Background(), intent("k1", schema.SideBuy, "1", "0.5"))
	assert.ErrorIs(t, err, exception.ErrPlatformNotRunning)
	assert.ErrorIs(t, p.Shutdown(context.Background()), exception.ErrPlatformNotRunning)
}

// trade runs a session that fills, rejects, halts and resumes, then stops.
func trade(t *testing.T, p *Platform) {
	t.Helper()
	ctx := context.Background()
	steps := []schema.TradeIntent{
		intent("b1", schema.SideBuy, "100", "0.5"),
		intent("bad", schema.SideBuy, "1", "2"),
		intent("s1", schema.SideSell, "100", "0.1"),
		intent("blocked", schema.SideBuy, "1", "0.5"),
	}
	for _, in := range steps {
		_, err := p.Submit(ctx, in)
		require.NoError(t, err)
	}
	_, _, err := p.Resume(ctx, "operator ack")
	require.NoError(t, err)
	_, err = p.Submit(ctx, intent("b2", schema.SideBuy, "20", "0.3"))
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(ctx))
}

func TestPlatform_CheckpointRoundTrip(t *testing.T) {
	clk := &clock{t: t0}
	store := persistence.NewMemoryStore()
	p := newPlatform(t, testConfig(), &stubExecutor{clk: clk}, store, clk)
	start(t, p)
	trade(t, p)

	ctx := context.Background()
	cp := p.Checkpointable()
	st, err := cp.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateName, cp.StateName())
	assert.Equal(t, store.LastSeq(), st.Seq)

	restored := newPlatform(t, testConfig(), &stubExecutor{clk: clk}, persistence.NewMemoryStore(), clk)
	require.NoError(t, restored.Checkpointable().Restore(ctx, st))
	again, err := restored.Checkpointable().Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(st.Data), string(again.Data))
	assert.Equal(t, st.Seq, again.Seq)
}

func TestPlatform_ReplayMatchesLive(t *testing.T) {
	clk := &clock{t: t0}
	store := persistence.NewMemoryStore()
	p := newPlatform(t, testConfig(), &stubExecutor{clk: clk}, store, clk)
	start(t, p)
	trade(t, p)

	ctx := context.Background()
	live, liveSeq, err := p.Export(ctx)
	require.NoError(t, err)
	require.Equal(t, schema.RiskStateNormal, live.Risk.State)
	require.Len(t, live.Risk.Breakers, 2)

	replayed := newPlatform(t, testConfig(), &stubExecutor{clk: clk}, store, clk)
	res, err := persistence.Recover(ctx, nil, store, replayed)
	require.NoError(t, err)
	assert.Equal(t, liveSeq, res.LastSeq)

	got, gotSeq, err := replayed.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, liveSeq, gotSeq)
	assert.Equal(t, encoded(t, live.Risk), encoded(t, got.Risk))
	assert.Equal(t, encoded(t, live.Positions), encoded(t, got.Positions))
	assert.Equal(t, encoded(t, live.Engine), encoded(t, got.Engine))
	assert.Equal(t, live.Blocked, got.Blocked)
}

func TestPlatform_CheckpointPlusTailMatchesReplay(t *testing.T) {
	clk := &clock{t: t0}
	store := persistence.NewMemoryStore()
	exec := &stubExecutor{clk: clk}
	p := newPlatform(t, testConfig(), exec, store, clk)
	start(t, p)
	ctx := context.Background()

	_, err := p.Submit(ctx, intent("c1", schema.SideBuy, "50", "0.4"))
	require.NoError(t, err)
	svc, err := persistence.NewCheckpointService(persistence.CheckpointConfig{Path: filepath.Join(t.TempDir(), "checkpoint.json")}, p.Checkpointable())
	require.NoError(t, err)
	_, err = svc.Save(ctx)
	require.NoError(t, err)
	trade(t, p)

	fromCheckpoint := newPlatform(t, testConfig(), exec, store, clk)
	svc2, err := persistence.NewCheckpointService(persistence.CheckpointConfig{Path: svc.Path()}, fromCheckpoint.Checkpointable())
	require.NoError(t, err)
	res, err := persistence.Recover(ctx, svc2, store, fromCheckpoint)
	require.NoError(t, err)
	assert.True(t, res.FromCheckpoint)
	assert.Equal(t, uint64(2), res.CheckpointSeq)

	full := newPlatform(t, testConfig(), exec, store, clk)
	_, err = persistence.Recover(ctx, nil, store, full)
	require.NoError(t, err)

	a, aSeq, err := fromCheckpoint.Export(ctx)
	require.NoError(t, err)
	b, bSeq, err := full.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, aSeq, bSeq)
	assert.Equal(t, encoded(t, a.Risk), encoded(t, b.Risk))
	assert.Equal(t, encoded(t, a.Positions), encoded(t, b.Positions))
	assert.Equal(t, encoded(t, a.Engine), encoded(t, b.Engine))
}

func TestPlatform_ReconcileAfterRestart(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: t0}
	store := persistence.NewMemoryStore()
	paper, err := exchange.NewPaper(exchange.PaperConfig{InitialCash: d("1000")})
	require.NoError(t, err)

	// two intents were accepted before a crash; only the first reached the venue
	for _, in := range []schema.TradeIntent{
		intent("sent", schema.SideBuy, "10", "0.5"),
		intent("lost", schema.SideBuy, "5", "0.5"),
	} {
		in.CreatedAt = t0
		ev, err := persistence.NewEvent(schema.EventIntentAccepted, persistence.SourcePlatform,
			acceptedPayload{Intent: in, ClientOrderID: execution.ClientOrderID(in.IdempotencyKey)}, t0)
		require.NoError(t, err)
		_, err = store.Append(ctx, ev)
		require.NoError(t, err)
	}
	sent := intent("sent", schema.SideBuy, "10", "0.5")
	_, err = paper.SubmitOrder(ctx, schema.OrderCommand{Intent: sent, ClientOrderID: execution.ClientOrderID("sent")})
	require.NoError(t, err)

	p := newPlatform(t, testConfig(), &stubExecutor{clk: clk}, store, clk)
	_, err = persistence.Recover(ctx, nil, store, p)
	require.NoError(t, err)

	n, err := p.Reconcile(ctx, paper)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, _, err := p.Export(ctx)
	require.NoError(t, err)
	require.Len(t, st.Engine.Records, 2)
	byKey := map[string]execution.Record{}
	for _, rec := range st.Engine.Records {
		byKey[rec.Key] = rec
	}
	require.True(t, byKey["sent"].Done())
	assert.Equal(t, schema.ExecStatusFilled, byKey["sent"].Report.Status)
	require.True(t, byKey["lost"].Done())
	assert.Equal(t, schema.ExecStatusExpired, byKey["lost"].Report.Status)

	pos, err := p.AgentPosition(ctx, "a1")
	require.NoError(t, err)
	m, ok := pos.Market("m1")
	require.True(t, ok)
	assert.True(t, m.Size.Equal(d("10")))

	// resolved keys answer retries without another venue call
	exec := &stubExecutor{clk: clk}
	p2 := newPlatform(t, testConfig(), exec, store, clk)
	_, err = persistence.Recover(ctx, nil, store, p2)
	require.NoError(t, err)
	start(t, p2)
	rep, err := p2.Submit(ctx, sent)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecStatusFilled, rep.Status)
	assert.Zero(t, exec.Calls())
}

func TestPlatform_ApplyEventRejectsNewerSchema(t *testing.T) {
	clk := &clock{t: t0}
	p := newPlatform(t, testConfig(), &stubExecutor{clk: clk}, persistence.NewMemoryStore(), clk)
	ev, err := persistence.NewEvent(schema.EventIntentAccepted, persistence.SourcePlatform, acceptedPayload{}, t0)
	require.NoError(t, err)
	ev.Header.Seq = 1
	ev.Header.Version = schema.SchemaVersion + 1
	assert.ErrorIs(t, p.ApplyEvent(context.Background(), ev), persistence.ErrUnsupportedEvent)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validate(intent("k1", schema.SideBuy, "1", "0.5")))
	assert.ErrorIs(t, validate(intent("", schema.SideBuy, "1", "0.5")), execution.ErrMissingKey)

	noMarket := intent("k1", schema.SideBuy, "1", "0.5")
	noMarket.Market = ""
	assert.ErrorIs(t, validate(noMarket), exception.ErrInvalidArgument)
	assert.ErrorIs(t, validate(intent("k1", schema.SideSell, "-1", "0.5")), exception.ErrInvalidArgument)
}

func TestPlatform_PublishCountsClosedRouter(t *testing.T) {
	clk := &clock{t: t0}
	router := bus.NewRouter(bus.RouterConfig{InboxSize: 1})
	m := obs.NewMetrics()
	p, err := New(testConfig(), &stubExecutor{clk: clk}, persistence.NewMemoryStore(), WithRouter(router), WithMetrics(m), WithClock(clk.Now))
	require.NoError(t, err)

	p.publish(schema.DomainEvent{Kind: schema.EventKindQuote, Market: "m1"})
	p.publish(schema.DomainEvent{Kind: schema.EventKindQuote, Market: "m1"})
	router.Close()
	p.publish(schema.DomainEvent{Kind: schema.EventKindQuote, Market: "m1"})

	s := m.Snapshot()
	assert.Equal(t, uint64(1), s.QueueDrops)
	assert.Equal(t, uint64(1), s.QueueClosed)
}
