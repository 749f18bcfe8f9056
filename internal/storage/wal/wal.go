package wal

// ============================================================================
// Mission Event Log
// Responsibilities:
// 1. Append mission events to a JSON-lines file (append-only)
// 2. Replay events with checksum and sequence verification
// 3. Rotate the log into a timestamped backup
// 4. Buffer writes; flush on size, interval or force
// ============================================================================

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// FileInterface defines the file operations the WAL needs, so tests can
// substitute failing files.
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Options configures a WAL.
type Options struct {
	Path          string        `yaml:"path"`
	BufferSize    int           `yaml:"buffer_size"`    // events held before a flush
	FlushInterval time.Duration `yaml:"flush_interval"` // background flush period; 0 disables
	SyncOnFlush   bool          `yaml:"sync_on_flush"`  // fsync after every flush
}

// DefaultOptions returns buffered, periodically flushed settings for path.
func DefaultOptions(path string) Options {
	return Options{
		Path:          path,
		BufferSize:    64,
		FlushInterval: time.Second,
		SyncOnFlush:   true,
	}
}

// WAL is an append-only mission event log.
type WAL struct {
	mu      sync.Mutex
	file    FileInterface
	encoder *json.Encoder
	opts    Options
	seq     uint64
	closed  bool

	buffer        []Event
	lastFlushTime time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

/*
Open creates or opens a WAL.

Behavior:
- A missing file is created and numbering starts at 1
- An existing file is scanned; numbering continues after its last event
- The file is opened O_APPEND so existing records are never overwritten
- With FlushInterval > 0 a background goroutine flushes the buffer
*/
func Open(opts Options) (*WAL, error) {
	if opts.Path == "" {
		return nil, errors.New("wal: path is required")
	}
	if opts.BufferSize < 1 {
		opts.BufferSize = 1
	}

	var seq uint64
	last, err := GetLastEvent(opts.Path)
	switch {
	case err == nil:
		seq = last.Seq
	case errors.Is(err, ErrEmptyWAL), errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read last WAL event: %w", err)
	}

	file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL: %w", err)
	}

	w := newWAL(file, opts, seq)
	if opts.FlushInterval > 0 {
		w.stopCh = make(chan struct{})
		w.doneCh = make(chan struct{})
		go w.flushLoop()
	}
	return w, nil
}

func newWAL(file FileInterface, opts Options, seq uint64) *WAL {
	return &WAL{
		file:          file,
		encoder:       json.NewEncoder(file),
		opts:          opts,
		seq:           seq,
		buffer:        make([]Event, 0, opts.BufferSize),
		lastFlushTime: time.Now(),
	}
}

// Append adds an event to the log.
//
// Behavior:
// - Assigns the next seq, the timestamp and the checksum
// - Buffers the event; flushes when forced, when the buffer is full, or
//   when the flush interval has elapsed
//
// Returns the stored event.
func (w *WAL) Append(event Event, force bool) (Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return Event{}, ErrWALClosed
	}

	w.seq++
	event.Seq = w.seq
	event.Timestamp = time.Now().UnixMilli()
	event.Checksum = CalculateChecksum(event)
	w.buffer = append(w.buffer, event)

	needFlush := force || len(w.buffer) >= w.opts.BufferSize ||
		(w.opts.FlushInterval > 0 && time.Since(w.lastFlushTime) > w.opts.FlushInterval)
	if needFlush {
		if err := w.flushLocked(); err != nil {
			return event, err
		}
	}
	return event, nil
}

// Flush writes buffered events now.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWALClosed
	}
	return w.flushLocked()
}

// Replay flushes, then streams every event of the current file to handler.
func (w *WAL) Replay(handler EventHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		if err := w.flushLocked(); err != nil {
			return err
		}
	}
	return ReplayFile(w.opts.Path, handler)
}

// ReplayFile streams the events of the log at path to handler.
//
// Verification:
// - every line must decode (CorruptionError otherwise)
// - every checksum must match (ChecksumError)
// - seq must increase by exactly one (ErrSequenceGap)
func ReplayFile(path string, handler EventHandler) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return replay(file, handler)
}

func replay(r io.Reader, handler EventHandler) error {
	reader := bufio.NewReader(r)
	var (
		offset  int64
		lastSeq uint64
	)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var event Event
			if decodeErr := json.Unmarshal(line, &event); decodeErr != nil {
				return &CorruptionError{Seq: lastSeq, Offset: offset, Cause: fmt.Errorf("%w: %v", ErrCorruptedWAL, decodeErr)}
			}
			if verr := VerifyChecksum(event); verr != nil {
				return verr
			}
			if lastSeq != 0 && event.Seq != lastSeq+1 {
				return fmt.Errorf("%w: seq %d follows %d", ErrSequenceGap, event.Seq, lastSeq)
			}
			lastSeq = event.Seq
			if herr := handler(event); herr != nil {
				return herr
			}
		}
		offset += int64(len(line))

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Rotate moves the current file to a timestamped backup and starts a fresh
// log. Numbering restarts at 1.
func (w *WAL) Rotate() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return "", ErrWALClosed
	}
	if err := w.flushLocked(); err != nil {
		return "", err
	}
	if err := w.file.Close(); err != nil {
		return "", err
	}

	backupPath := w.opts.Path + "." + time.Now().Format("20060102_150405.000000000")
	if err := os.Rename(w.opts.Path, backupPath); err != nil {
		return "", err
	}

	newFile, err := os.OpenFile(w.opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", err
	}

	w.file = newFile
	w.encoder = json.NewEncoder(newFile)
	w.seq = 0
	w.buffer = w.buffer[:0]
	w.lastFlushTime = time.Now()
	return backupPath, nil
}

// Close flushes and closes the log. A closed WAL must not be reused.
func (w *WAL) Close() error {
	if w.stopCh != nil {
		w.stopOnce.Do(func() {
			close(w.stopCh)
			<-w.doneCh
		})
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.flushLocked(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// LastSeq returns the sequence number of the last appended event.
func (w *WAL) LastSeq() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Path returns the log file path.
func (w *WAL) Path() string {
	return w.opts.Path
}

func (w *WAL) flushLoop() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.Flush(); err != nil && !errors.Is(err, ErrWALClosed) {
				slog.Default().Error("background WAL flush failed", "path", w.opts.Path, "error", err)
			}
		}
	}
}

// flushLocked writes the buffer; the caller holds w.mu. Events are dropped
// from the buffer as they are written, so a retry after a failed write
// resumes at the first unwritten event.
func (w *WAL) flushLocked() error {
	if len(w.buffer) == 0 {
		return nil
	}
	for i, event := range w.buffer {
		if err := w.encoder.Encode(event); err != nil {
			w.buffer = append(w.buffer[:0], w.buffer[i:]...)
			return fmt.Errorf("failed to write WAL event %d: %w", event.Seq, err)
		}
	}
	w.buffer = w.buffer[:0]
	w.lastFlushTime = time.Now()
	if w.opts.SyncOnFlush {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL: %w", err)
		}
	}
	return nil
}
