package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"github.com/proerror77/ploy-sub006/internal/exchange"
	"github.com/proerror77/ploy-sub006/internal/execution"
	"github.com/proerror77/ploy-sub006/internal/ops"
	"github.com/proerror77/ploy-sub006/internal/persistence"
	"github.com/proerror77/ploy-sub006/internal/platform"
	"github.com/proerror77/ploy-sub006/internal/schema"
)

const drillAgent = "chaos-drill"

type drill struct {
	orders      int
	parallel    int
	market      string
	price, size decimal.Decimal
	dlqRounds   int
	chaos       exchange.ChaosConfig
}

// chaos runs a batch of orders through an in-memory platform whose venue
// fails, loses replies and rejects at the given rates, then prints the
// outcome mix and the dead-letter backlog.
func main() {
	configPath := flag.String("config", "", "Path to trader config (risk, queue, executor and dlq sections are used)")
	orders := flag.Int("orders", 100, "Number of intents to submit")
	parallel := flag.Int("parallel", 8, "Concurrent submitters")
	market := flag.String("market", "chaos-market", "Market id")
	price := flag.String("price", "0.5", "Limit price of every intent")
	size := flag.String("size", "1", "Size of every intent")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	failRate := flag.Float64("fail-rate", 0.2, "Probability a call fails before reaching the venue [0-1]")
	lostRate := flag.Float64("lost-rate", 0.1, "Probability a reply is lost after the venue saw the order [0-1]")
	rejectRate := flag.Float64("reject-rate", 0.05, "Probability the venue rejects [0-1]")
	maxDelay := flag.Duration("max-delay", 0, "Max injected latency")
	dlqRounds := flag.Int("dlq-rounds", 3, "Dead-letter retry rounds after the batch")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("config load failed, err: %+v", err)
		os.Exit(1)
	}
	d := drill{
		orders:    *orders,
		parallel:  *parallel,
		market:    *market,
		dlqRounds: *dlqRounds,
		chaos: exchange.ChaosConfig{
			Seed:          *seed,
			FailRate:      *failRate,
			LostReplyRate: *lostRate,
			RejectRate:    *rejectRate,
			MaxDelay:      *maxDelay,
		},
	}
	if d.price, err = decimal.NewFromString(*price); err != nil {
		logs.Errorf("invalid price %q, err: %+v", *price, err)
		os.Exit(1)
	}
	if d.size, err = decimal.NewFromString(*size); err != nil {
		logs.Errorf("invalid size %q, err: %+v", *size, err)
		os.Exit(1)
	}
	if d.orders <= 0 || d.parallel <= 0 {
		logs.Errorf("orders and parallel must be > 0")
		os.Exit(1)
	}
	if err := run(context.Background(), cfg, d); err != nil {
		logs.Errorf("chaos drill failed, err: %+v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg ops.Loaded, d drill) error {
	stores, err := ops.OpenStores(ctx, ops.StoreSpec{Driver: ops.StoreMemory})
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	paper, err := exchange.NewPaper(cfg.Paper)
	if err != nil {
		return err
	}
	paper.SetQuote(schema.Quote{Market: d.market, Bid: d.price, Ask: d.price, Last: d.price})
	venue, err := exchange.NewChaos(paper, d.chaos)
	if err != nil {
		return err
	}

	retryCfg := cfg.Executor
	retryCfg.MaxAttempts = 1
	retryCfg.BreakerName = "chaos-dlq"
	retry, err := execution.NewExecutor(retryCfg, venue, nil)
	if err != nil {
		return err
	}
	dlq, err := persistence.NewDLQ(cfg.DLQ, stores.DLQ, retry, stores.Events)
	if err != nil {
		return err
	}
	executor, err := execution.NewExecutor(cfg.Executor, venue, dlq)
	if err != nil {
		return err
	}
	p, err := platform.New(cfg.Platform, executor, stores.Events)
	if err != nil {
		return err
	}
	dlq.OnResolved(p.ApplyReport)

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(context.WithoutCancel(ctx)) }()
	select {
	case <-p.Ready():
	case err := <-runErr:
		return err
	}
	if err := p.RegisterAgent(ctx, drillAgent, schema.AgentRiskParams{}); err != nil {
		return err
	}

	start := time.Now()
	var (
		mu       sync.Mutex
		outcomes = map[string]int{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallel)
	for i := 0; i < d.orders; i++ {
		key := "drill-" + strconv.Itoa(i)
		g.Go(func() error {
			rep, err := p.Submit(gctx, schema.TradeIntent{
				ID:             key,
				IdempotencyKey: key,
				AgentID:        drillAgent,
				Market:         d.market,
				Side:           schema.SideBuy,
				Size:           d.size,
				LimitPrice:     d.price,
				CreatedAt:      time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			label := rep.Status.String()
			if rep.Status == schema.ExecStatusRejected {
				label += "/" + rep.Reason.String()
			}
			mu.Lock()
			outcomes[label]++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	for i := 0; i < d.dlqRounds; i++ {
		n, err := dlq.ProcessDue(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}

	snap, err := p.Snapshot(ctx)
	if err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, cfg.Coordinator.DrainTimeout)
	defer cancel()
	if err := p.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-runErr; err != nil {
		return err
	}

	fmt.Printf("orders=%d elapsed=%s venue_submits=%d venue_orders=%d\n", d.orders, elapsed, paper.Submits(), paper.Orders())
	for label, n := range outcomes {
		fmt.Printf("  %-28s %d\n", label, n)
	}
	for _, state := range []persistence.DLQState{persistence.DLQPending, persistence.DLQResolved, persistence.DLQDead} {
		entries, err := dlq.Entries(ctx, state)
		if err != nil {
			return err
		}
		fmt.Printf("dlq %-10s %d\n", state, len(entries))
	}
	fmt.Printf("risk=%s exposure=%s available=%s last_seq=%d\n",
		snap.Risk.State, snap.Positions.TotalExposure, snap.Available, snap.LastSeq)
	return nil
}
