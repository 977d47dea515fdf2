package ops

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proerror77/ploy-sub006/internal/persistence"
	"github.com/proerror77/ploy-sub006/internal/schema"
	"github.com/proerror77/ploy-sub006/internal/wal"
	"github.com/proerror77/ploy-sub006/pkg/conn"
)

func TestOpenStores(t *testing.T) {
	specs := map[string]StoreSpec{
		StoreMemory: {Driver: StoreMemory},
		StoreWAL:    {Driver: StoreWAL, WAL: wal.DefaultConfig(t.TempDir())},
		StoreSQLite: {Driver: StoreSQLite, Conn: conn.Option{Driver: conn.DriverSQLite, Path: ":memory:", MaxOpenConns: 1}},
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, err := OpenStores(ctx, spec)
			require.NoError(t, err)
			defer func() { assert.NoError(t, s.Close()) }()

			ev, err := persistence.NewEvent(schema.EventRiskResumed, persistence.SourcePlatform, map[string]string{"reason": "test"}, time.Unix(1, 0))
			require.NoError(t, err)
			stored, err := s.Events.Append(ctx, ev)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), stored.Header.Seq)
			assert.Equal(t, uint64(1), s.Events.LastSeq())

			pending, err := s.DLQ.List(ctx, persistence.DLQPending)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}

	_, err := OpenStores(context.Background(), StoreSpec{Driver: "mongo"})
	assert.Error(t, err)
}

func TestOpenStoresWALKeepsDLQAcrossRestart(t *testing.T) {
	ctx := context.Background()
	spec := StoreSpec{Driver: StoreWAL, WAL: wal.DefaultConfig(t.TempDir())}

	s, err := OpenStores(ctx, spec)
	require.NoError(t, err)
	q, err := persistence.NewDLQ(persistence.DefaultDLQConfig(), s.DLQ, failingRetrier{}, s.Events)
	require.NoError(t, err)
	cmd := schema.OrderCommand{ClientOrderID: "coid-1", Intent: schema.TradeIntent{ID: "i-1", IdempotencyKey: "k-1", AgentID: "a1", Market: "m1"}}
	require.NoError(t, q.DeadLetter(ctx, cmd, assert.AnError, 4))
	require.NoError(t, s.Close())

	s, err = OpenStores(ctx, spec)
	require.NoError(t, err)
	defer func() { assert.NoError(t, s.Close()) }()
	entries, err := s.DLQ.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "coid-1", entries[0].ID)
	assert.Equal(t, persistence.DLQPending, entries[0].State)
	assert.Equal(t, "k-1", entries[0].Command.Intent.IdempotencyKey)
}

type failingRetrier struct{}

func (failingRetrier) Execute(_ context.Context, cmd schema.OrderCommand) schema.ExecutionReport {
	return schema.ReportFor(cmd, schema.ExecStatusFailed, time.Now())
}
