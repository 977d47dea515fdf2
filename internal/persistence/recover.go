package persistence

import (
	"context"
	"errors"

	"github.com/yanun0323/logs"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

// Replayer folds stored events into state.
type Replayer interface {
	ApplyEvent(ctx context.Context, ev schema.StoredEvent) error
}

// RecoverResult describes what recovery did.
type RecoverResult struct {
	FromCheckpoint bool
	CheckpointSeq  uint64
	LastSeq        uint64
	Replayed       int
}

// Recover restores the latest checkpoint, if any, then replays the event log
// tail into replayer. A corrupt checkpoint or an event gap is fatal.
func Recover(ctx context.Context, svc *CheckpointService, store EventStore, replayer Replayer) (RecoverResult, error) {
	var res RecoverResult
	if svc != nil {
		cp, err := svc.Load(ctx)
		switch {
		case err == nil:
			res.FromCheckpoint = true
			res.CheckpointSeq = cp.LastSeq()
		case errors.Is(err, ErrNoCheckpoint):
			logs.Infof("no checkpoint at %s, replaying full log", svc.Path())
		default:
			return res, err
		}
	}

	last, err := ReplayContiguous(ctx, store, res.CheckpointSeq, func(ev schema.StoredEvent) error {
		res.Replayed++
		return replayer.ApplyEvent(ctx, ev)
	})
	res.LastSeq = last
	if err != nil {
		return res, err
	}
	logs.Infof("recovered: checkpoint=%v checkpointSeq=%d replayed=%d lastSeq=%d", res.FromCheckpoint, res.CheckpointSeq, res.Replayed, res.LastSeq)
	return res, nil
}
