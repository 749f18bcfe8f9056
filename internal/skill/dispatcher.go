// ============================================================================
// topo-nav Skill Dispatcher - traversal worker pool
// ============================================================================
//
// Package: internal/skill
// File: dispatcher.go
// Purpose: Run edge traversals on a fixed set of worker goroutines
//
// Architecture:
//   ┌──────────┐
//   │ Executor │ --Execute()--> taskCh
//   └──────────┘
//         ↑
//     per-task reply
//         ↑
//   ┌──────────────┐
//   │  Dispatcher  │
//   │  ┌────────┐  │
//   │  │Worker 1│←── taskCh
//   │  │Worker 2│←── taskCh   ──→ reply
//   │  └────────┘  │
//   └──────────────┘
//
// Lifecycle:
//   1. NewDispatcher() - channels created
//   2. Start(n)        - n worker goroutines
//   3. Execute(...)    - synchronous; result returned to the caller only
//   4. Stop()          - no new tasks, wait for in-flight work
//
// Timeouts:
//   Each task carries its own timeout. A traversal that outlives it is
//   reported as a failure wrapping ErrTraversalTimeout; the worker moves
//   on without waiting for the skill to return.
//
// Shutdown:
//   Execute holds the read side of a RWMutex while sending, and Stop takes
//   the write side before closing taskCh, so a send never races a close.
//
// ============================================================================

package skill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

var (
	// ErrDispatcherClosed means Stop has been called.
	ErrDispatcherClosed = errors.New("skill dispatcher is closed")
	// ErrDispatcherNotStarted means Start has not been called.
	ErrDispatcherNotStarted = errors.New("skill dispatcher not started")
)

// task is one traversal request.
type task struct {
	id      string
	edge    types.Edge
	timeout time.Duration
	reply   chan error
}

// Dispatcher is a worker pool in front of a Skill.
type Dispatcher struct {
	skill  Skill
	taskCh chan task
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.RWMutex // guards started/stopped and sends on taskCh
	stopOnce sync.Once
	workers  int
	started  bool
	stopped  bool
}

// NewDispatcher creates a dispatcher for s.
//
// Parameters:
//   - s: the skill every worker calls, typically a *Registry
//   - bufferSize: capacity of the task channel
func NewDispatcher(s Skill, bufferSize int) *Dispatcher {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Dispatcher{
		skill:  s,
		taskCh: make(chan task, bufferSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches workerCount workers.
func (d *Dispatcher) Start(workerCount int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("dispatcher already started")
	}
	if workerCount < 1 {
		return fmt.Errorf("worker count must be >= 1, got %d", workerCount)
	}

	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.runWorker(id)
		}(i)
	}
	d.workers = workerCount
	d.started = true
	return nil
}

func (d *Dispatcher) runWorker(id int) {
	for t := range d.taskCh {
		began := time.Now()
		err := traverseWithTimeout(d.skill, t.edge, t.timeout)
		slog.Default().Debug("traversal finished", "worker", id, "task_id", t.id,
			"edge", t.edge.Key().String(), "duration", time.Since(began), "error", err)
		t.reply <- err
	}
}

// Execute runs one traversal and waits for it. ctx bounds only the wait for
// a free worker; once the traversal starts it runs to completion or timeout.
func (d *Dispatcher) Execute(ctx context.Context, edge types.Edge, timeout time.Duration) error {
	t := task{id: uuid.NewString(), edge: edge, timeout: timeout, reply: make(chan error, 1)}

	d.mu.RLock()
	switch {
	case !d.started:
		d.mu.RUnlock()
		return ErrDispatcherNotStarted
	case d.stopped:
		d.mu.RUnlock()
		return ErrDispatcherClosed
	}
	select {
	case d.taskCh <- t:
		d.mu.RUnlock()
	case <-ctx.Done():
		d.mu.RUnlock()
		return ctx.Err()
	case <-d.stopCh:
		d.mu.RUnlock()
		return ErrDispatcherClosed
	}

	return <-t.reply
}

// Stop waits for queued and in-flight traversals. Safe to call more than
// once.
func (d *Dispatcher) Stop() {
	d.mu.RLock()
	started := d.started
	d.mu.RUnlock()
	if !started {
		return
	}

	first := false
	d.stopOnce.Do(func() {
		first = true
		// Closed before taking the write lock so senders blocked on a full
		// taskCh release their read lock.
		close(d.stopCh)
	})
	if !first {
		return
	}

	d.mu.Lock()
	d.stopped = true
	close(d.taskCh)
	d.mu.Unlock()

	d.wg.Wait()
}

// WorkerCount returns the number of running workers.
func (d *Dispatcher) WorkerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.workers
}
