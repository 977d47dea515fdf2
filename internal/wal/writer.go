package wal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

var (
	ErrClosed         = errors.New("wal: log closed")
	ErrNotStarted     = errors.New("wal: log not started")
	ErrAlreadyStarted = errors.New("wal: log already started")
)

// Log is the file-backed event store. A single writer goroutine assigns
// sequence numbers, so file order and sequence order always agree.
type Log struct {
	cfg Config
	ch  chan appendRequest
	wg  sync.WaitGroup

	errMu    sync.Mutex
	firstErr error

	mu      sync.RWMutex
	closed  bool
	started atomic.Bool
	done    chan struct{}

	lastSeq atomic.Uint64
	segID   uint64
	now     func() time.Time
}

type appendRequest struct {
	event schema.StoredEvent
	reply chan appendResult
}

type appendResult struct {
	event schema.StoredEvent
	err   error
}

// Open creates the directory if needed and recovers the last sequence number.
// A torn record at the end of the newest segment is truncated; any other
// corruption is returned.
func Open(cfg Config) (*Log, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	files, err := segmentFiles(cfg.Dir, cfg.FilePrefix)
	if err != nil {
		return nil, err
	}
	l := &Log{
		cfg:   cfg,
		ch:    make(chan appendRequest, cfg.QueueSize),
		done:  make(chan struct{}),
		segID: uint64(len(files)),
		now:   time.Now,
	}
	for i, path := range files {
		last, err := scanSegment(path, i == len(files)-1)
		if err != nil {
			return nil, err
		}
		if last > 0 {
			l.lastSeq.Store(last)
		}
	}
	return l, nil
}

func scanSegment(path string, newest bool) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := NewReader(file, ReaderOptions{})
	var last uint64
	for {
		header, _, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return last, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) && newest {
			logs.Warnf("truncate torn wal tail %s at offset %d", path, reader.Offset())
			return last, os.Truncate(path, reader.Offset())
		}
		if err != nil {
			return 0, fmt.Errorf("scan %s: %w", path, err)
		}
		last = header.Seq
	}
}

// Start runs the writer loop in a new goroutine.
func (l *Log) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(l.done)
		l.run(ctx)
	}()
	return nil
}

// Close stops accepting appends, flushes and syncs the open segment.
func (l *Log) Close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	l.mu.Unlock()
	l.wg.Wait()
	return l.Err()
}

// Err returns the first error observed by the writer, if any.
func (l *Log) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.firstErr
}

// LastSeq returns the sequence number of the last durable record.
func (l *Log) LastSeq() uint64 {
	return l.lastSeq.Load()
}

// Append writes ev and returns it with its assigned sequence number. It returns
// once the record is flushed (and synced when SyncOnAppend is set).
func (l *Log) Append(ctx context.Context, ev schema.StoredEvent) (schema.StoredEvent, error) {
	if !l.started.Load() {
		return ev, ErrNotStarted
	}
	if err := l.Err(); err != nil {
		return ev, err
	}
	if uint64(len(ev.Payload)) > maxPayloadLen {
		return ev, ErrPayloadTooLarge
	}
	req := appendRequest{event: ev, reply: make(chan appendResult, 1)}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ev, ErrClosed
	}
	select {
	case l.ch <- req:
		l.mu.RUnlock()
	case <-ctx.Done():
		l.mu.RUnlock()
		return ev, ctx.Err()
	case <-l.done:
		l.mu.RUnlock()
		return ev, ErrClosed
	}

	select {
	case res := <-req.reply:
		return res.event, res.err
	case <-l.done:
		select {
		case res := <-req.reply:
			return res.event, res.err
		default:
			return ev, ErrClosed
		}
	}
}

// Replay calls fn for every record with a sequence above afterSeq, in order.
func (l *Log) Replay(ctx context.Context, afterSeq uint64, fn func(schema.StoredEvent) error) error {
	pb, err := NewPlayback(PlaybackConfig{Dir: l.cfg.Dir, FilePrefix: l.cfg.FilePrefix})
	if err != nil {
		return err
	}
	return pb.Run(ctx, func(header schema.EventHeader, payload []byte) error {
		if header.Seq <= afterSeq {
			return nil
		}
		return fn(schema.StoredEvent{Header: header, Payload: append([]byte(nil), payload...)})
	})
}

func (l *Log) run(ctx context.Context) {
	var (
		seg   *segmentWriter
		buf   []byte
		syncC <-chan time.Time
	)
	if !l.cfg.SyncOnAppend && l.cfg.SyncInterval > 0 {
		ticker := time.NewTicker(l.cfg.SyncInterval)
		defer ticker.Stop()
		syncC = ticker.C
	}
	defer func() {
		if err := closeSegment(seg); err != nil {
			l.setErr(err)
		}
	}()

	handle := func(req appendRequest) bool {
		if err := l.Err(); err != nil {
			req.reply <- appendResult{event: req.event, err: err}
			return false
		}
		ev, err := l.write(&seg, &buf, req.event)
		if err != nil {
			l.setErr(err)
		}
		req.reply <- appendResult{event: ev, err: err}
		return err == nil
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case req, ok := <-l.ch:
					if !ok {
						return
					}
					handle(req)
				default:
					return
				}
			}
		case req, ok := <-l.ch:
			if !ok {
				return
			}
			if !handle(req) {
				return
			}
		case <-syncC:
			if seg != nil {
				if err := seg.file.Sync(); err != nil {
					l.setErr(err)
					return
				}
			}
		}
	}
}

func (l *Log) write(seg **segmentWriter, buf *[]byte, ev schema.StoredEvent) (schema.StoredEvent, error) {
	now := l.now().UTC()
	ev.Header.Seq = l.lastSeq.Load() + 1
	if ev.Header.Version == 0 {
		ev.Header.Version = schema.SchemaVersion
	}
	if ev.Header.TsEvent == 0 {
		ev.Header.TsEvent = now.UnixNano()
	}
	ev.Header.TsRecv = now.UnixNano()

	size := recordSize(len(ev.Payload))
	if l.shouldRotate(*seg, now, size) {
		if err := closeSegment(*seg); err != nil {
			return ev, err
		}
		*seg = nil
		opened, err := l.openSegment(now)
		if err != nil {
			return ev, err
		}
		*seg = opened
	}

	*buf = appendRecord((*buf)[:0], ev.Header, ev.Payload)
	if _, err := (*seg).buf.Write(*buf); err != nil {
		return ev, err
	}
	if err := (*seg).buf.Flush(); err != nil {
		return ev, err
	}
	if l.cfg.SyncOnAppend {
		if err := (*seg).file.Sync(); err != nil {
			return ev, err
		}
	}
	(*seg).size += size
	l.lastSeq.Store(ev.Header.Seq)
	return ev, nil
}

func (l *Log) shouldRotate(seg *segmentWriter, now time.Time, nextSize int64) bool {
	if seg == nil {
		return true
	}
	if l.cfg.SegmentMaxBytes > 0 && seg.size+nextSize > l.cfg.SegmentMaxBytes {
		return true
	}
	if l.cfg.SegmentMaxDuration > 0 && now.Sub(seg.openedAt) >= l.cfg.SegmentMaxDuration {
		return true
	}
	return false
}

func closeSegment(seg *segmentWriter) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (l *Log) openSegment(now time.Time) (*segmentWriter, error) {
	ts := now.Format("20060102-150405")
	for {
		l.segID++
		name := fmt.Sprintf("%s-%s-%06d.wal", l.cfg.FilePrefix, ts, l.segID)
		path := filepath.Join(l.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, err
		}
		return &segmentWriter{
			file:     file,
			buf:      bufio.NewWriterSize(file, l.cfg.BufferSize),
			openedAt: now,
		}, nil
	}
}

func (l *Log) setErr(err error) {
	if err == nil {
		return
	}
	l.errMu.Lock()
	if l.firstErr == nil {
		l.firstErr = err
	}
	l.errMu.Unlock()
}

type segmentWriter struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}
