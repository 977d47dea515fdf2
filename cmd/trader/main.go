package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bytedance/sonic"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"golang.org/x/sync/errgroup"

	"github.com/proerror77/ploy-sub006/internal/agent"
	"github.com/proerror77/ploy-sub006/internal/bus"
	"github.com/proerror77/ploy-sub006/internal/coordinator"
	"github.com/proerror77/ploy-sub006/internal/exchange"
	"github.com/proerror77/ploy-sub006/internal/execution"
	"github.com/proerror77/ploy-sub006/internal/mdg"
	"github.com/proerror77/ploy-sub006/internal/obs"
	"github.com/proerror77/ploy-sub006/internal/ops"
	"github.com/proerror77/ploy-sub006/internal/persistence"
	"github.com/proerror77/ploy-sub006/internal/platform"
	"github.com/proerror77/ploy-sub006/internal/schema"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON or YAML config (PLOY_ env overrides apply)")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("config load failed, err: %+v", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		logs.Errorf("trader failed, err: %+v", err)
		os.Exit(1)
	}
}

func run(cfg ops.Loaded) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Warnf("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Profiling.ServerAddress != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return fmt.Errorf("pyroscope start: %w", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	stores, err := ops.OpenStores(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logs.Errorf("close stores, err: %+v", err)
		}
	}()

	paper, err := exchange.NewPaper(cfg.Paper)
	if err != nil {
		return err
	}
	var client exchange.Client = paper
	if cfg.Chaos != nil {
		if client, err = exchange.NewChaos(paper, *cfg.Chaos); err != nil {
			return err
		}
		logs.Warnf("chaos enabled: fail=%.2f lost=%.2f reject=%.2f", cfg.Chaos.FailRate, cfg.Chaos.LostReplyRate, cfg.Chaos.RejectRate)
	}

	// the DLQ retries one attempt at a time on its own schedule
	retryCfg := cfg.Executor
	retryCfg.MaxAttempts = 1
	retryCfg.BreakerName = "exchange-dlq"
	retry, err := execution.NewExecutor(retryCfg, client, nil)
	if err != nil {
		return err
	}
	metrics := obs.NewMetrics()
	dlq, err := persistence.NewDLQ(cfg.DLQ, stores.DLQ, retry, stores.Events, persistence.WithDLQMetrics(metrics))
	if err != nil {
		return err
	}
	executor, err := execution.NewExecutor(cfg.Executor, client, dlq)
	if err != nil {
		return err
	}

	router := bus.NewRouter(cfg.Router)
	p, err := platform.New(cfg.Platform, executor, stores.Events, platform.WithRouter(router), platform.WithMetrics(metrics))
	if err != nil {
		return err
	}
	ckpt, err := persistence.NewCheckpointService(cfg.Checkpoint, p.Checkpointable())
	if err != nil {
		return err
	}

	res, err := persistence.Recover(ctx, ckpt, stores.Events, p)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	reconciled, err := p.Reconcile(ctx, client)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	logs.Infof("state restored: checkpoint=%v last_seq=%d replayed=%d reconciled=%d", res.FromCheckpoint, res.LastSeq, res.Replayed, reconciled)
	dlq.OnResolved(p.ApplyReport)

	coord, err := coordinator.New(cfg.Coordinator, p, coordinator.WithCheckpoint(ckpt))
	if err != nil {
		return err
	}
	for _, spec := range cfg.Agents {
		strategy, err := agent.NewThreshold(spec.Threshold)
		if err != nil {
			return err
		}
		runner, err := agent.New(spec.Agent, strategy, p, router)
		if err != nil {
			return err
		}
		if err := coord.Register(ctx, runner); err != nil {
			return err
		}
	}

	var feed *mdg.Feed
	if len(cfg.Feed.Markets) > 0 {
		feed, err = mdg.NewFeed(cfg.Feed, cfg.FeedInterval, func(q schema.Quote) error {
			paper.SetQuote(q)
			return router.Publish(schema.DomainEvent{Kind: schema.EventKindQuote, Market: q.Market, Quote: &q})
		})
		if err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(obs.NewCollector(metrics, gauges(coord, router, dlq)))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/state", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = sonic.ConfigDefault.NewEncoder(w).Encode(coord.State())
	})
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	// the router outlives the coordinator so reports published during the
	// drain still reach their agents
	routerCtx, stopRouter := context.WithCancel(context.Background())
	defer stopRouter()
	go router.Run(routerCtx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(gctx) })
	g.Go(func() error {
		ckpt.Run(gctx)
		return nil
	})
	g.Go(func() error {
		dlq.Run(gctx)
		return nil
	})
	if feed != nil {
		g.Go(func() error { return feed.Run(gctx) })
	}
	g.Go(func() error {
		logs.Infof("http listening on %s", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	logs.Infof("trader stopped")
	return err
}

// gauges reads the coordinator's last published state at scrape time.
func gauges(coord *coordinator.Coordinator, router *bus.Router, dlq *persistence.DLQ) func() obs.Gauges {
	return func() obs.Gauges {
		st := coord.State()
		healthy := 0
		for _, a := range st.Agents {
			if a.Healthy {
				healthy++
			}
		}
		g := obs.Gauges{
			RiskState:     st.Risk.State,
			QueueSize:     st.Queue.CurrentSize,
			QueueMax:      st.Queue.MaxSize,
			TotalExposure: st.Positions.TotalExposure.InexactFloat64(),
			DailyPnL:      st.Risk.DailyPnL.InexactFloat64(),
			RealizedPnL:   st.RealizedPnL.InexactFloat64(),
			Available:     st.Available.InexactFloat64(),
			HealthyAgents: healthy,
			AgentCount:    len(st.Agents),
			RouterDropped: router.Stats().Dropped,
			LastSeq:       st.LastSeq,
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if pending, err := dlq.Entries(ctx, persistence.DLQPending); err == nil {
			g.DLQPending = len(pending)
		}
		return g
	}
}
