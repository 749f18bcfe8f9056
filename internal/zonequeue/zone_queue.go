// ============================================================================
// topo-nav Zone Queue - zone visit state machine
// ============================================================================
//
// Package: internal/zonequeue
// File: zone_queue.go
// Purpose: Orders a mission's zone requests and tracks each visit's state
//
// Design:
//   visits map[zoneID]*Visit is the single source of truth; the pending
//   slice is an index kept sorted by (priority desc, submission index asc).
//
// Visit states:
//   Pending
//      ↓ Next()
//   Active
//      ↓ MarkCompleted() or MarkUnreachable()
//   Completed / Unreachable
//
// Rules:
//   - Pending → Active: Next() hands out the highest-priority visit,
//     earliest submission first among equals
//   - Active → Completed: MarkCompleted()
//   - Active → Unreachable: MarkUnreachable() (attempts exhausted)
//   - Pending → Unreachable: the ordering policy skipped the zone
//   - RecordAttempt() counts planning attempts of the active visit
//
// Concurrency:
//   sync.RWMutex guards all state. The executor is the only writer;
//   Executor.Status reads Pending/Stats/Snapshot while a mission runs.
//
// ============================================================================

package zonequeue

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

var (
	ErrDuplicateZone = errors.New("zone already queued")
	ErrNotActive     = errors.New("zone visit not active")
	ErrZoneNotFound  = errors.New("zone not queued")
	ErrUnknownPolicy = errors.New("unknown ordering policy")
)

// State is the lifecycle state of one zone visit.
type State string

const (
	StatePending     State = "pending"
	StateActive      State = "active"
	StateCompleted   State = "completed"
	StateUnreachable State = "unreachable"
)

// Policy selects which requested zones are visited.
type Policy string

const (
	// PolicyPriorityFirst visits every zone, highest priority first.
	PolicyPriorityFirst Policy = "priority_first"
	// PolicyHighOnly visits only high-priority zones; the rest are skipped.
	PolicyHighOnly Policy = "high_only"
)

// ParsePolicy accepts the policy names above; empty means priority_first.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyPriorityFirst, "":
		return PolicyPriorityFirst, nil
	case PolicyHighOnly:
		return PolicyHighOnly, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// SkippedReason is recorded on zones the ordering policy excluded.
const SkippedReason = "skipped by high_only policy"

// Visit is one zone's progress through a mission.
type Visit struct {
	Request   types.ZoneRequest `json:"request"`
	Index     int               `json:"index"` // submission order
	State     State             `json:"state"`
	Attempts  int               `json:"attempts"`
	Reason    string            `json:"reason,omitempty"`
	UpdatedAt int64             `json:"updated_at"` // Unix milliseconds
}

// Queue holds the zone visits of one mission.
type Queue struct {
	mu      sync.RWMutex
	policy  Policy
	visits  map[string]*Visit
	order   []string // every zone, submission order
	pending []string // sorted by (priority desc, index asc)
}

// New creates an empty queue with the given policy.
func New(policy Policy) *Queue {
	if policy == "" {
		policy = PolicyPriorityFirst
	}
	return &Queue{
		policy: policy,
		visits: make(map[string]*Visit),
	}
}

// Enqueue adds one request. It reports false when the policy skipped the
// zone, in which case the visit is recorded as Unreachable immediately.
func (q *Queue) Enqueue(req types.ZoneRequest) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.visits[req.ZoneID]; exists {
		return false, fmt.Errorf("%w: %s", ErrDuplicateZone, req.ZoneID)
	}
	if req.Priority == 0 {
		req.Priority = types.PriorityMedium
	}

	v := &Visit{
		Request:   req,
		Index:     len(q.order),
		State:     StatePending,
		UpdatedAt: time.Now().UnixMilli(),
	}
	q.visits[req.ZoneID] = v
	q.order = append(q.order, req.ZoneID)

	if q.policy == PolicyHighOnly && req.Priority != types.PriorityHigh {
		v.State = StateUnreachable
		v.Reason = SkippedReason
		return false, nil
	}

	i := sort.Search(len(q.pending), func(i int) bool {
		return q.before(v, q.visits[q.pending[i]])
	})
	q.pending = append(q.pending, "")
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = req.ZoneID
	return true, nil
}

// before reports whether a is visited before b.
func (q *Queue) before(a, b *Visit) bool {
	if a.Request.Priority != b.Request.Priority {
		return a.Request.Priority > b.Request.Priority
	}
	return a.Index < b.Index
}

// Next activates and returns the next pending visit, or nil when none remain.
// The returned value is a copy.
func (q *Queue) Next() *Visit {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	id := q.pending[0]
	q.pending = q.pending[1:]

	v := q.visits[id]
	v.State = StateActive
	v.UpdatedAt = time.Now().UnixMilli()
	out := *v
	return &out
}

// RecordAttempt counts one planning attempt of an active visit and returns
// the new total.
func (q *Queue) RecordAttempt(zoneID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, err := q.active(zoneID)
	if err != nil {
		return 0, err
	}
	v.Attempts++
	v.UpdatedAt = time.Now().UnixMilli()
	return v.Attempts, nil
}

// MarkCompleted finishes an active visit.
func (q *Queue) MarkCompleted(zoneID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, err := q.active(zoneID)
	if err != nil {
		return err
	}
	v.State = StateCompleted
	v.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// MarkUnreachable gives up on an active visit.
func (q *Queue) MarkUnreachable(zoneID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, err := q.active(zoneID)
	if err != nil {
		return err
	}
	v.State = StateUnreachable
	v.Reason = reason
	v.UpdatedAt = time.Now().UnixMilli()
	return nil
}

func (q *Queue) active(zoneID string) (*Visit, error) {
	v, exists := q.visits[zoneID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrZoneNotFound, zoneID)
	}
	if v.State != StateActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotActive, zoneID, v.State)
	}
	return v, nil
}

// Pending returns the zone ids still waiting, in visit order.
func (q *Queue) Pending() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]string(nil), q.pending...)
}

// Stats counts visits by state.
func (q *Queue) Stats() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := map[string]int{
		string(StatePending):     0,
		string(StateActive):      0,
		string(StateCompleted):   0,
		string(StateUnreachable): 0,
	}
	for _, v := range q.visits {
		stats[string(v.State)]++
	}
	return stats
}

// Snapshot returns copies of every visit in submission order.
func (q *Queue) Snapshot() []Visit {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Visit, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.visits[id])
	}
	return out
}
