// ============================================================================
// topo-nav Cost Model
// ============================================================================
//
// Package: internal/cost
// File: cost.go
// Purpose: Effective traversal cost of an edge and the failure penalty policy
//
// Effective cost:
//   effective = base_cost / reliability + failure_penalty
//
//   - Lower reliability inflates the expected cost (expected retries)
//   - Fresh failures additively discourage re-selection without declaring
//     the edge permanently unusable
//   - A non-traversable edge has infinite cost and is never expanded
//
// Penalty policy:
//   - Increment 0 means "penalize by the edge's own base cost"
//   - MinIncrement keeps every penalty strictly positive (zero-cost edges)
//   - DecayFactor 0 resets penalties between missions; (0, 1) decays them
//
// ============================================================================

package cost

import (
	"errors"
	"fmt"
	"math"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

var (
	// ErrInvalidPolicy is returned by Validate for out-of-range settings.
	ErrInvalidPolicy = errors.New("invalid penalty policy")
)

// Effective returns the planning weight of e, or +Inf when e is not traversable.
func Effective(e types.Edge) float64 {
	if !e.Traversable {
		return math.Inf(1)
	}
	return e.BaseCost/e.Reliability + e.FailurePenalty
}

// Usable reports whether a planner may expand e.
func Usable(e types.Edge) bool {
	return e.Traversable && !math.IsInf(Effective(e), 1)
}

// PathCost sums the effective cost of edges.
func PathCost(edges []types.Edge) float64 {
	total := 0.0
	for _, e := range edges {
		total += Effective(e)
	}
	return total
}

// PathDistance sums the base cost (physical distance) of edges.
func PathDistance(edges []types.Edge) float64 {
	total := 0.0
	for _, e := range edges {
		total += e.BaseCost
	}
	return total
}

// PenaltyPolicy decides how much a traversal failure costs and how stale
// penalties are handled between missions.
type PenaltyPolicy struct {
	Increment    float64 `yaml:"increment"`     // fixed increment; 0 = edge base cost
	MinIncrement float64 `yaml:"min_increment"` // floor for non-positive increments
	DecayFactor  float64 `yaml:"decay_factor"`  // 0 = reset, (0,1) = multiply
	Persist      bool    `yaml:"persist"`       // keep penalties across missions
}

// DefaultPolicy penalizes by base cost and resets between missions.
func DefaultPolicy() PenaltyPolicy {
	return PenaltyPolicy{
		Increment:    0,
		MinIncrement: 1.0,
		DecayFactor:  0,
	}
}

// Validate checks the policy's ranges.
func (p PenaltyPolicy) Validate() error {
	if p.Increment < 0 || math.IsNaN(p.Increment) || math.IsInf(p.Increment, 0) {
		return fmt.Errorf("%w: increment must be finite and >= 0, got %v", ErrInvalidPolicy, p.Increment)
	}
	if p.MinIncrement <= 0 || math.IsNaN(p.MinIncrement) || math.IsInf(p.MinIncrement, 0) {
		return fmt.Errorf("%w: min_increment must be finite and > 0, got %v", ErrInvalidPolicy, p.MinIncrement)
	}
	if p.DecayFactor < 0 || p.DecayFactor >= 1 || math.IsNaN(p.DecayFactor) {
		return fmt.Errorf("%w: decay_factor must be in [0, 1), got %v", ErrInvalidPolicy, p.DecayFactor)
	}
	return nil
}

// Amount returns the penalty to add to e after one traversal failure. Always > 0.
func (p PenaltyPolicy) Amount(e types.Edge) float64 {
	amount := p.Increment
	if amount == 0 {
		amount = e.BaseCost
	}
	if amount <= 0 {
		amount = p.MinIncrement
	}
	if amount <= 0 {
		amount = 1.0
	}
	return amount
}
