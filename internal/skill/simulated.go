package skill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

// ErrSimulatedFailure is returned by Simulated for a scripted or random failure.
var ErrSimulatedFailure = errors.New("simulated traversal failure")

// Simulated is a stand-in robot for demos and tests.
//
// Failures come from two sources, checked in order:
//   - a per-edge script: the n-th traversal of an edge fails if script[n] is true;
//     traversals beyond the script succeed
//   - FailureRate: a seeded random failure probability for unscripted edges
//
// Delay, when set, is slept (respecting ctx) before each traversal.
type Simulated struct {
	FailureRate float64
	Delay       time.Duration

	mu      sync.Mutex
	rng     *rand.Rand
	script  map[types.EdgeKey][]bool
	counts  map[types.EdgeKey]int
	history []types.EdgeKey
	cleaned []string
	blocked map[types.EdgeKey]bool
}

// NewSimulated returns a simulated robot whose random failures are seeded.
func NewSimulated(seed int64) *Simulated {
	return &Simulated{
		rng:     rand.New(rand.NewSource(seed)),
		script:  make(map[types.EdgeKey][]bool),
		counts:  make(map[types.EdgeKey]int),
		blocked: make(map[types.EdgeKey]bool),
	}
}

// FailNext scripts the next n traversals of from -> to to fail.
func (s *Simulated) FailNext(from, to types.NodeID, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := types.EdgeKey{From: from, To: to}
	done := s.counts[key]
	script := s.script[key]
	for len(script) < done {
		script = append(script, false)
	}
	for i := 0; i < n; i++ {
		script = append(script, true)
	}
	s.script[key] = script
}

// Block makes every traversal of from -> to fail.
func (s *Simulated) Block(from, to types.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[types.EdgeKey{From: from, To: to}] = true
}

// Traverse implements Skill.
func (s *Simulated) Traverse(ctx context.Context, edge types.Edge) error {
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.Delay):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := edge.Key()
	n := s.counts[key]
	s.counts[key] = n + 1
	s.history = append(s.history, key)

	if s.blocked[key] {
		return fmt.Errorf("%w: %s blocked", ErrSimulatedFailure, key)
	}
	if script := s.script[key]; n < len(script) {
		if script[n] {
			return fmt.Errorf("%w: %s attempt %d", ErrSimulatedFailure, key, n+1)
		}
		return nil
	}
	if s.FailureRate > 0 && s.rng.Float64() < s.FailureRate {
		return fmt.Errorf("%w: %s (random)", ErrSimulatedFailure, key)
	}
	return nil
}

// Clean implements Cleaner; it always succeeds and records the zone.
func (s *Simulated) Clean(ctx context.Context, zoneID, mode string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaned = append(s.cleaned, zoneID)
	slog.Default().Info("simulated cleaning", "zone", zoneID, "mode", mode)
	return nil
}

// History returns every edge traversed, failed attempts included, in order.
func (s *Simulated) History() []types.EdgeKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.EdgeKey(nil), s.history...)
}

// Attempts returns how often from -> to was traversed.
func (s *Simulated) Attempts(from, to types.NodeID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[types.EdgeKey{From: from, To: to}]
}

// Cleaned returns the zones cleaned so far.
func (s *Simulated) Cleaned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cleaned...)
}
