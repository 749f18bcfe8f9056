package graph

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/topo-nav/internal/cost"
	"github.com/ChuLiYu/topo-nav/internal/graph/graphtest"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func newTriangle(t *testing.T) *Store {
	t.Helper()
	s, err := New(graphtest.Triangle())
	require.NoError(t, err)
	return s
}

// ============================================================================
// Construction
// ============================================================================

func TestNew_Triangle(t *testing.T) {
	s := newTriangle(t)

	assert.Equal(t, 3, s.Len())
	nodes := s.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, graphtest.A, nodes[0].ID)
	assert.Equal(t, graphtest.C, nodes[2].ID)

	dock, ok := s.Dock()
	assert.True(t, ok)
	assert.Equal(t, graphtest.A, dock)
	assert.Equal(t, []string{"dock", "zone-b", "zone-c"}, s.Zones())
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *types.GraphData)
		field  string
	}{
		{"duplicate node", func(d *types.GraphData) {
			d.Nodes = append(d.Nodes, types.Node{ID: graphtest.A})
		}, "node"},
		{"unknown endpoint", func(d *types.GraphData) {
			d.Edges = append(d.Edges, graphtest.Edge(graphtest.A, 99, 1))
		}, "edge"},
		{"duplicate edge", func(d *types.GraphData) {
			d.Edges = append(d.Edges, graphtest.Edge(graphtest.A, graphtest.B, 3))
		}, "edge"},
		{"negative cost", func(d *types.GraphData) {
			d.Edges[0].BaseCost = -1
		}, "edge"},
		{"infinite cost", func(d *types.GraphData) {
			d.Edges[0].BaseCost = math.Inf(1)
		}, "edge"},
		{"zero reliability", func(d *types.GraphData) {
			d.Edges[0].Reliability = 0
		}, "edge"},
		{"reliability above one", func(d *types.GraphData) {
			d.Edges[0].Reliability = 1.5
		}, "edge"},
		{"unknown skill", func(d *types.GraphData) {
			d.Edges[0].Skill = "teleport"
		}, "edge"},
		{"zone entry missing", func(d *types.GraphData) {
			d.Zones = []types.ZoneSpec{{ID: "zone-b", Entry: 42}}
		}, "zone"},
		{"dock missing", func(d *types.GraphData) {
			dock := types.NodeID(42)
			d.Dock = &dock
		}, "node"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := graphtest.Triangle()
			tt.mutate(&data)

			_, err := New(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidGraph))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestNew_EmptyGraph(t *testing.T) {
	s, err := New(types.GraphData{})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Zones())
}

// ============================================================================
// Lookups
// ============================================================================

func TestNeighbors_SortedByDestination(t *testing.T) {
	s := newTriangle(t)

	out, err := s.Neighbors(graphtest.A)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, graphtest.B, out[0].To)
	assert.Equal(t, graphtest.C, out[1].To)
}

func TestLookups_NotFound(t *testing.T) {
	s := newTriangle(t)

	_, err := s.Node(99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Neighbors(99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Edge(graphtest.A, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ZoneEntry("garage")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestZoneEntry_LowestIDUnlessDeclared(t *testing.T) {
	data := graphtest.Triangle()
	data.Nodes = append(data.Nodes,
		types.Node{ID: 7, Pose: types.Pose{X: 20, Y: 0}, Zone: "lab"},
		types.Node{ID: 5, Pose: types.Pose{X: 21, Y: 0}, Zone: "lab"},
		types.Node{ID: 9, Pose: types.Pose{X: 22, Y: 0}, Zone: "office"},
		types.Node{ID: 8, Pose: types.Pose{X: 23, Y: 0}, Zone: "office"},
	)
	data.Zones = []types.ZoneSpec{{ID: "office", Entry: 9}}

	s, err := New(data)
	require.NoError(t, err)

	entry, err := s.ZoneEntry("lab")
	require.NoError(t, err)
	assert.Equal(t, types.NodeID(5), entry)

	entry, err = s.ZoneEntry("office")
	require.NoError(t, err)
	assert.Equal(t, types.NodeID(9), entry)
}

func TestNeighbors_ReturnsCopies(t *testing.T) {
	s := newTriangle(t)

	out, err := s.Neighbors(graphtest.A)
	require.NoError(t, err)
	out[0].FailurePenalty = 1000

	e, err := s.Edge(graphtest.A, graphtest.B)
	require.NoError(t, err)
	assert.Zero(t, e.FailurePenalty)
}

// ============================================================================
// Penalties
// ============================================================================

func TestApplyPenalty_TwiceMakesDirectRouteCheaper(t *testing.T) {
	s := newTriangle(t)
	policy := cost.DefaultPolicy()

	for i := 0; i < 2; i++ {
		e, err := s.Edge(graphtest.A, graphtest.B)
		require.NoError(t, err)
		_, err = s.ApplyPenalty(graphtest.A, graphtest.B, policy.Amount(e))
		require.NoError(t, err)
	}

	ab, err := s.Edge(graphtest.A, graphtest.B)
	require.NoError(t, err)
	assert.Equal(t, 30.0, cost.Effective(ab))

	ac, err := s.Edge(graphtest.A, graphtest.C)
	require.NoError(t, err)
	assert.Equal(t, 25.0, cost.Effective(ac))

	// Only the penalized edge changes.
	ba, err := s.Edge(graphtest.B, graphtest.A)
	require.NoError(t, err)
	assert.Equal(t, 10.0, cost.Effective(ba))
}

func TestApplyPenalty_Monotonic(t *testing.T) {
	s := newTriangle(t)

	prev := 0.0
	for i := 0; i < 5; i++ {
		p, err := s.ApplyPenalty(graphtest.B, graphtest.C, 0.5)
		require.NoError(t, err)
		assert.Greater(t, p, prev)
		prev = p
	}
}

func TestApplyPenalty_Rejected(t *testing.T) {
	s := newTriangle(t)
	before := s.Version()

	_, err := s.ApplyPenalty(graphtest.A, graphtest.B, 0)
	assert.ErrorIs(t, err, ErrInvalidPenalty)
	_, err = s.ApplyPenalty(graphtest.A, graphtest.B, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidPenalty)
	_, err = s.ApplyPenalty(graphtest.A, 99, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, before, s.Version())
}

func TestDecayAndReset(t *testing.T) {
	s := newTriangle(t)
	_, err := s.ApplyPenalty(graphtest.A, graphtest.B, 8)
	require.NoError(t, err)

	require.NoError(t, s.DecayPenalties(0.5))
	assert.Equal(t, map[types.EdgeKey]float64{{From: graphtest.A, To: graphtest.B}: 4}, s.Penalties())

	assert.ErrorIs(t, s.DecayPenalties(1), ErrInvalidPenalty)
	assert.ErrorIs(t, s.DecayPenalties(-0.1), ErrInvalidPenalty)

	s.ResetPenalties()
	assert.Empty(t, s.Penalties())
}

func TestRestorePenalties(t *testing.T) {
	s := newTriangle(t)
	_, err := s.ApplyPenalty(graphtest.B, graphtest.C, 3)
	require.NoError(t, err)

	ab := types.EdgeKey{From: graphtest.A, To: graphtest.B}
	require.NoError(t, s.RestorePenalties(map[types.EdgeKey]float64{ab: 7}))
	assert.Equal(t, map[types.EdgeKey]float64{ab: 7}, s.Penalties())

	err = s.RestorePenalties(map[types.EdgeKey]float64{{From: 1, To: 99}: 1})
	assert.ErrorIs(t, err, ErrNotFound)
	// Failed restore leaves state untouched.
	assert.Equal(t, map[types.EdgeKey]float64{ab: 7}, s.Penalties())
}

func TestVersion_IncreasesOnMutation(t *testing.T) {
	s := newTriangle(t)
	v0 := s.Version()

	_, err := s.ApplyPenalty(graphtest.A, graphtest.B, 1)
	require.NoError(t, err)
	v1 := s.Version()
	assert.Greater(t, v1, v0)

	s.ResetPenalties()
	assert.Greater(t, s.Version(), v1)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := newTriangle(t)
	_, err := s.ApplyPenalty(graphtest.A, graphtest.C, 2)
	require.NoError(t, err)

	data := s.Snapshot()
	clone, err := New(data)
	require.NoError(t, err)

	assert.Equal(t, s.Penalties(), clone.Penalties())
	assert.Equal(t, s.Zones(), clone.Zones())
	dock, ok := clone.Dock()
	assert.True(t, ok)
	assert.Equal(t, graphtest.A, dock)
}

// ============================================================================
// Concurrency
// ============================================================================

func TestRead_ConsistentUnderConcurrentPenalties(t *testing.T) {
	s := newTriangle(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = s.ApplyPenalty(graphtest.A, graphtest.B, 1)
			_, _ = s.ApplyPenalty(graphtest.B, graphtest.C, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			err := s.Read(func(r Reader) error {
				ab, err := r.Edge(graphtest.A, graphtest.B)
				if err != nil {
					return err
				}
				bc, err := r.Edge(graphtest.B, graphtest.C)
				if err != nil {
					return err
				}
				// Both penalties move together under the writer above, so a
				// consistent view never sees bc ahead of ab.
				if bc.FailurePenalty > ab.FailurePenalty {
					return errors.New("torn read")
				}
				return nil
			})
			assert.NoError(t, err)
		}
	}()
	wg.Wait()
}
