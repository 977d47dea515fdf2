package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"github.com/proerror77/ploy-sub006/internal/persistence"
	"github.com/proerror77/ploy-sub006/internal/schema"
)

const replayBatch = 500

// EventStore is a gorm-backed persistence.EventStore. It assumes a single
// writing process; the primary key on seq rejects a concurrent writer.
type EventStore struct {
	db  *gorm.DB
	now func() time.Time

	mu      sync.Mutex
	lastSeq uint64
}

// NewEventStore migrates the schema and loads the last sequence number.
func NewEventStore(ctx context.Context, db *gorm.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gormstore: nil db")
	}
	if err := db.WithContext(ctx).AutoMigrate(&EventModel{}); err != nil {
		return nil, fmt.Errorf("migrate events: %w", err)
	}
	var last uint64
	if err := db.WithContext(ctx).Model(&EventModel{}).Select("COALESCE(MAX(seq), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("load last seq: %w", err)
	}
	return &EventStore{db: db, now: time.Now, lastSeq: last}, nil
}

func (s *EventStore) Append(ctx context.Context, ev schema.StoredEvent) (schema.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.Header.Seq = s.lastSeq + 1
	if ev.Header.Version == 0 {
		ev.Header.Version = schema.SchemaVersion
	}
	ev.Header.TsRecv = s.now().UnixNano()
	row := EventModel{
		Seq:     ev.Header.Seq,
		Type:    uint16(ev.Header.Type),
		Version: ev.Header.Version,
		Source:  ev.Header.Source,
		Flags:   ev.Header.Flags,
		TsEvent: ev.Header.TsEvent,
		TsRecv:  ev.Header.TsRecv,
		TraceID: ev.Header.TraceID,
		Payload: ev.Payload,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ev, fmt.Errorf("append event seq %d: %w", row.Seq, err)
	}
	s.lastSeq = row.Seq
	return ev, nil
}

func (s *EventStore) Replay(ctx context.Context, afterSeq uint64, fn func(schema.StoredEvent) error) error {
	cursor := afterSeq
	for {
		var rows []EventModel
		err := s.db.WithContext(ctx).
			Where("seq > ?", cursor).
			Order("seq ASC").
			Limit(replayBatch).
			Find(&rows).Error
		if err != nil {
			return fmt.Errorf("replay after %d: %w", cursor, err)
		}
		for _, r := range rows {
			ev := schema.StoredEvent{
				Header: schema.EventHeader{
					Type:    schema.EventType(r.Type),
					Version: r.Version,
					Source:  r.Source,
					Flags:   r.Flags,
					Seq:     r.Seq,
					TsEvent: r.TsEvent,
					TsRecv:  r.TsRecv,
					TraceID: r.TraceID,
				},
				Payload: r.Payload,
			}
			if err := fn(ev); err != nil {
				return err
			}
			cursor = r.Seq
		}
		if len(rows) < replayBatch {
			return nil
		}
	}
}

func (s *EventStore) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// DLQStore is a gorm-backed persistence.DLQStore.
type DLQStore struct {
	db *gorm.DB
}

// NewDLQStore migrates the schema.
func NewDLQStore(ctx context.Context, db *gorm.DB) (*DLQStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gormstore: nil db")
	}
	if err := db.WithContext(ctx).AutoMigrate(&DLQModel{}); err != nil {
		return nil, fmt.Errorf("migrate dlq: %w", err)
	}
	return &DLQStore{db: db}, nil
}

func (s *DLQStore) Put(ctx context.Context, e persistence.DLQEntry) error {
	row, err := toDLQModel(e)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *DLQStore) Get(ctx context.Context, id string) (persistence.DLQEntry, error) {
	var row DLQModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return persistence.DLQEntry{}, persistence.ErrUnknownEntry
	}
	if err != nil {
		return persistence.DLQEntry{}, err
	}
	return fromDLQModel(row)
}

func (s *DLQStore) Due(ctx context.Context, now time.Time, limit int) ([]persistence.DLQEntry, error) {
	var rows []DLQModel
	q := s.db.WithContext(ctx).
		Where("state = ? AND next_attempt_at <= ?", uint8(persistence.DLQPending), now).
		Order("next_attempt_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromDLQModels(rows)
}

func (s *DLQStore) List(ctx context.Context, state persistence.DLQState) ([]persistence.DLQEntry, error) {
	var rows []DLQModel
	q := s.db.WithContext(ctx).Order("next_attempt_at ASC, id ASC")
	if state != 0 {
		q = q.Where("state = ?", uint8(state))
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromDLQModels(rows)
}

func toDLQModel(e persistence.DLQEntry) (DLQModel, error) {
	cmd, err := sonic.ConfigStd.Marshal(e.Command)
	if err != nil {
		return DLQModel{}, err
	}
	row := DLQModel{
		ID:            e.ID,
		State:         uint8(e.State),
		NextAttemptAt: e.NextAttemptAt.UTC(),
		Attempts:      e.Attempts,
		LastError:     e.LastError,
		Command:       cmd,
		CreatedAt:     e.CreatedAt.UTC(),
		UpdatedAt:     e.UpdatedAt.UTC(),
	}
	if e.Report != nil {
		if row.Report, err = sonic.ConfigStd.Marshal(e.Report); err != nil {
			return DLQModel{}, err
		}
	}
	return row, nil
}

func fromDLQModel(row DLQModel) (persistence.DLQEntry, error) {
	e := persistence.DLQEntry{
		ID:            row.ID,
		State:         persistence.DLQState(row.State),
		Attempts:      row.Attempts,
		LastError:     row.LastError,
		NextAttemptAt: row.NextAttemptAt.UTC(),
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
	if err := sonic.ConfigStd.Unmarshal(row.Command, &e.Command); err != nil {
		return e, fmt.Errorf("decode dlq command %s: %w", row.ID, err)
	}
	if len(row.Report) > 0 {
		var rep schema.ExecutionReport
		if err := sonic.ConfigStd.Unmarshal(row.Report, &rep); err != nil {
			return e, fmt.Errorf("decode dlq report %s: %w", row.ID, err)
		}
		e.Report = &rep
	}
	return e, nil
}

func fromDLQModels(rows []DLQModel) ([]persistence.DLQEntry, error) {
	out := make([]persistence.DLQEntry, 0, len(rows))
	for _, r := range rows {
		e, err := fromDLQModel(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
