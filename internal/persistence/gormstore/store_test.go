package gormstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/proerror77/ploy-sub006/internal/persistence"
	"github.com/proerror77/ploy-sub006/internal/schema"
	"github.com/proerror77/ploy-sub006/pkg/conn"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	c, err := conn.New(conn.Option{Driver: conn.DriverSQLite, Path: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c.DB()
}

func TestEventStore_AppendReplay(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store, err := NewEventStore(ctx, db)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ev, err := persistence.NewEvent(schema.EventIntentAccepted, persistence.SourcePlatform, map[string]int{"i": i}, t0)
		require.NoError(t, err)
		stored, err := store.Append(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), stored.Header.Seq)
	}

	reopened, err := NewEventStore(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), reopened.LastSeq())

	var got []map[string]int
	last, err := persistence.ReplayContiguous(ctx, reopened, 1, func(ev schema.StoredEvent) error {
		var p map[string]int
		require.NoError(t, persistence.DecodeEvent(ev, &p))
		got = append(got, p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)
	assert.Equal(t, []map[string]int{{"i": 1}, {"i": 2}}, got)

	// a second writer with a stale sequence hits the primary key
	stale := &EventStore{db: db, now: time.Now, lastSeq: 1}
	_, err = stale.Append(ctx, schema.StoredEvent{Payload: []byte("{}")})
	assert.Error(t, err)
}

func TestDLQStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewDLQStore(ctx, openDB(t))
	require.NoError(t, err)

	cmd := schema.OrderCommand{
		ClientOrderID: "c1",
		Intent:        schema.TradeIntent{ID: "i1", IdempotencyKey: "k1", Market: "m1", Side: schema.SideBuy, Size: decimal.NewFromInt(5), LimitPrice: decimal.RequireFromString("0.42")},
	}
	e := persistence.DLQEntry{ID: "c1", Command: cmd, State: persistence.DLQPending, NextAttemptAt: t0, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, store.Put(ctx, e))
	require.NoError(t, store.Put(ctx, persistence.DLQEntry{ID: "c2", Command: cmd, State: persistence.DLQPending, NextAttemptAt: t0.Add(time.Hour), CreatedAt: t0, UpdatedAt: t0}))

	due, err := store.Due(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "c1", due[0].ID)
	assert.True(t, due[0].Command.Intent.LimitPrice.Equal(decimal.RequireFromString("0.42")))

	rep := schema.ReportFor(cmd, schema.ExecStatusFilled, t0)
	e.State = persistence.DLQResolved
	e.Attempts = 2
	e.Report = &rep
	require.NoError(t, store.Put(ctx, e))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, persistence.DLQResolved, got.State)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.Report)
	assert.Equal(t, schema.ExecStatusFilled, got.Report.Status)

	resolved, err := store.List(ctx, persistence.DLQResolved)
	require.NoError(t, err)
	assert.Len(t, resolved, 1)
	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrUnknownEntry)
}
