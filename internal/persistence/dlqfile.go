package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

const dlqStateName = "dlq"

// FileDLQStore keeps entries in memory and rewrites one checksummed file on
// every change, so entries survive a restart without a database.
type FileDLQStore struct {
	path string
	now  func() time.Time

	mu  sync.Mutex
	mem *MemoryDLQStore
}

// OpenFileDLQStore loads the entries stored at path. A missing file is an
// empty store.
func OpenFileDLQStore(path string) (*FileDLQStore, error) {
	if path == "" {
		return nil, fmt.Errorf("invalid dlq store: empty path")
	}
	s := &FileDLQStore{path: path, now: time.Now, mem: NewMemoryDLQStore()}
	cp, err := ReadCheckpoint(path)
	if errors.Is(err, ErrNoCheckpoint) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	st, ok := cp.State(dlqStateName)
	if !ok {
		return s, nil
	}
	var entries []DLQEntry
	if err := sonic.ConfigStd.Unmarshal(st.Data, &entries); err != nil {
		return nil, fmt.Errorf("%w: dlq entries: %v", ErrCorruptCheckpoint, err)
	}
	for _, e := range entries {
		s.mem.entries[e.ID] = e
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileDLQStore) Path() string {
	return s.path
}

// Put stores e and persists the whole set. The in-memory view is rolled back
// when the write fails.
func (s *FileDLQStore) Put(ctx context.Context, e DLQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.mem.entries[e.ID]
	_ = s.mem.Put(ctx, e)
	if err := s.flush(ctx); err != nil {
		if existed {
			s.mem.entries[e.ID] = prev
		} else {
			delete(s.mem.entries, e.ID)
		}
		return fmt.Errorf("persist dlq entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *FileDLQStore) Get(ctx context.Context, id string) (DLQEntry, error) {
	return s.mem.Get(ctx, id)
}

func (s *FileDLQStore) Due(ctx context.Context, now time.Time, limit int) ([]DLQEntry, error) {
	return s.mem.Due(ctx, now, limit)
}

func (s *FileDLQStore) List(ctx context.Context, state DLQState) ([]DLQEntry, error) {
	return s.mem.List(ctx, state)
}

func (s *FileDLQStore) flush(ctx context.Context) error {
	entries, err := s.mem.List(ctx, 0)
	if err != nil {
		return err
	}
	data, err := sonic.ConfigStd.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = WriteCheckpoint(s.path, []State{{Name: dlqStateName, Data: data}}, s.now())
	return err
}
