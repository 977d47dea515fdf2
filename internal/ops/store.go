package ops

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/yanun0323/logs"

	"github.com/proerror77/ploy-sub006/internal/persistence"
	"github.com/proerror77/ploy-sub006/internal/persistence/gormstore"
	"github.com/proerror77/ploy-sub006/internal/wal"
	"github.com/proerror77/ploy-sub006/pkg/conn"
)

// Stores is the opened event log and DLQ table.
type Stores struct {
	Events persistence.EventStore
	DLQ    persistence.DLQStore
	closer []func() error
}

// Close releases the stores in reverse open order.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closer) - 1; i >= 0; i-- {
		errs = append(errs, s.closer[i]())
	}
	return errors.Join(errs...)
}

const defaultDLQFile = "dlq.state"

// OpenStores opens the event log and the DLQ table for the configured driver.
// The wal driver keeps the DLQ in a file next to the log; the memory driver
// keeps nothing across restarts.
func OpenStores(ctx context.Context, spec StoreSpec) (*Stores, error) {
	switch spec.Driver {
	case StoreMemory:
		logs.Warnf("memory event store: state will not survive a restart")
		return &Stores{Events: persistence.NewMemoryStore(), DLQ: persistence.NewMemoryDLQStore()}, nil
	case StoreWAL:
		log, err := wal.Open(spec.WAL)
		if err != nil {
			return nil, fmt.Errorf("open wal %s: %w", spec.WAL.Dir, err)
		}
		// the writer loop stops on Close, not on ctx
		if err := log.Start(context.WithoutCancel(ctx)); err != nil {
			return nil, errors.Join(err, log.Close())
		}
		path := spec.DLQPath
		if path == "" {
			path = filepath.Join(spec.WAL.Dir, defaultDLQFile)
		}
		dlq, err := persistence.OpenFileDLQStore(path)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("open dlq %s: %w", path, err), log.Close())
		}
		pending, err := dlq.List(ctx, persistence.DLQPending)
		if err != nil {
			return nil, errors.Join(err, log.Close())
		}
		logs.Infof("wal event store at %s: last_seq=%d dlq_pending=%d", spec.WAL.Dir, log.LastSeq(), len(pending))
		return &Stores{Events: log, DLQ: dlq, closer: []func() error{log.Close}}, nil
	case StorePostgres, StoreSQLite:
		client, err := conn.New(spec.Conn)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", spec.Driver, err)
		}
		events, err := gormstore.NewEventStore(ctx, client.DB())
		if err != nil {
			return nil, errors.Join(err, client.Close())
		}
		dlq, err := gormstore.NewDLQStore(ctx, client.DB())
		if err != nil {
			return nil, errors.Join(err, client.Close())
		}
		logs.Infof("%s event store: last_seq=%d", spec.Driver, events.LastSeq())
		return &Stores{Events: events, DLQ: dlq, closer: []func() error{client.Close}}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", spec.Driver)
	}
}
