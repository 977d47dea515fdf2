package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"github.com/proerror77/ploy-sub006/internal/ops"
	"github.com/proerror77/ploy-sub006/internal/persistence"
	"github.com/proerror77/ploy-sub006/internal/platform"
	"github.com/proerror77/ploy-sub006/internal/schema"
	"github.com/proerror77/ploy-sub006/internal/wal"
)

// replayOnly fails every command; a rebuilt platform is never run.
type replayOnly struct{}

func (replayOnly) Execute(_ context.Context, cmd schema.OrderCommand) schema.ExecutionReport {
	rep := schema.ReportFor(cmd, schema.ExecStatusFailed, cmd.EnqueuedAt)
	rep.Error = "replay only"
	return rep
}

func main() {
	configPath := flag.String("config", "", "Path to trader config (store and platform sections are used)")
	list := flag.Bool("list", false, "Print every stored event")
	decode := flag.Bool("decode", false, "Print decoded payloads with -list")
	speed := flag.Float64("speed", 0, "Pace -list by event time for wal stores (1=real-time, 0=no pacing)")
	verify := flag.Bool("verify", false, "Verify that checkpoint plus log tail matches a full replay")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("config load failed, err: %+v", err)
		os.Exit(1)
	}
	if err := run(context.Background(), cfg, *list, *decode, *speed, *verify); err != nil {
		logs.Errorf("replay failed, err: %+v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg ops.Loaded, list, decode bool, speed float64, verify bool) error {
	stores, err := ops.OpenStores(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	if list {
		if err := listEvents(ctx, cfg.Store, stores.Events, decode, speed); err != nil {
			return err
		}
	}

	full, err := rebuild(ctx, cfg.Platform, stores.Events, nil)
	if err != nil {
		return fmt.Errorf("full replay: %w", err)
	}
	snap, err := full.Snapshot(ctx)
	if err != nil {
		return err
	}
	out, err := sonic.ConfigStd.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !verify {
		return nil
	}
	fromCkpt, err := rebuild(ctx, cfg.Platform, stores.Events, &cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("checkpoint replay: %w", err)
	}
	a, err := canonical(ctx, full)
	if err != nil {
		return err
	}
	b, err := canonical(ctx, fromCkpt)
	if err != nil {
		return err
	}
	if string(a) != string(b) {
		return fmt.Errorf("checkpoint %s plus log tail diverges from full replay", cfg.Checkpoint.Path)
	}
	logs.Infof("verified: checkpoint %s plus log tail matches full replay", cfg.Checkpoint.Path)
	return nil
}

// rebuild folds the log into a fresh platform, starting from the checkpoint
// when ckpt is set.
func rebuild(ctx context.Context, cfg platform.Config, store persistence.EventStore, ckpt *persistence.CheckpointConfig) (*platform.Platform, error) {
	p, err := platform.New(cfg, replayOnly{}, store)
	if err != nil {
		return nil, err
	}
	var svc *persistence.CheckpointService
	if ckpt != nil {
		if svc, err = persistence.NewCheckpointService(*ckpt, p.Checkpointable()); err != nil {
			return nil, err
		}
	}
	if _, err := persistence.Recover(ctx, svc, store, p); err != nil {
		return nil, err
	}
	return p, nil
}

// canonical encodes the replayed state without queue counters, which are
// not part of the log.
func canonical(ctx context.Context, p *platform.Platform) ([]byte, error) {
	st, seq, err := p.Export(ctx)
	if err != nil {
		return nil, err
	}
	st.Queue = schema.QueueStats{}
	return sonic.ConfigStd.Marshal(struct {
		State platform.State `json:"state"`
		Seq   uint64         `json:"seq"`
	}{st, seq})
}

func listEvents(ctx context.Context, spec ops.StoreSpec, store persistence.EventStore, decode bool, speed float64) error {
	var index int
	show := func(h schema.EventHeader, payload []byte) error {
		index++
		fmt.Printf("%06d seq=%d type=%s v=%d source=%d trace=%d ts=%d len=%d\n",
			index, h.Seq, h.Type, h.Version, h.Source, h.TraceID, h.TsEvent, len(payload))
		if decode {
			fmt.Printf("       %s\n", payload)
		}
		return nil
	}
	if spec.Driver == ops.StoreWAL && speed > 0 {
		pb, err := wal.NewPlayback(wal.PlaybackConfig{Dir: spec.WAL.Dir, FilePrefix: spec.WAL.FilePrefix, Speed: speed})
		if err != nil {
			return err
		}
		return pb.Run(ctx, show)
	}
	return store.Replay(ctx, 0, func(ev schema.StoredEvent) error {
		return show(ev.Header, ev.Payload)
	})
}
