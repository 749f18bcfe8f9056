// ============================================================================
// topo-nav Performance Test Suite
// ============================================================================
//
// Package: test/integration
// File: performance_test.go
// Purpose: Planner throughput and consistency under concurrent load
//
// TestPlannerThroughput:
//   2000-node random graph, 8 goroutines issuing 500 plans each.
//   - target: >= 200 plans/s even on a slow CI machine
//   - every successful plan is a connected path from start to goal
//
// TestPlannerConsistencyUnderPenalties:
//   Planning races with penalty updates. Once updates stop, cached plans
//   must match a cache-less planner exactly.
//
// TestLocalizerIndexMatchesScan:
//   The kd-tree localizer and the linear scan agree on 1000 random poses.
//
// Notes:
//   - results depend on machine load; the targets are deliberately loose
//   - skipped with -short
//
// ============================================================================

package integration

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/topo-nav/internal/graph"
	"github.com/ChuLiYu/topo-nav/internal/graph/graphtest"
	"github.com/ChuLiYu/topo-nav/internal/localize"
	"github.com/ChuLiYu/topo-nav/internal/planner"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

const (
	perfNodes  = 2000
	perfDegree = 4
	perfSize   = 1000.0
)

func perfStore(t testing.TB) *graph.Store {
	t.Helper()
	store, err := graph.New(graphtest.Random(1, perfNodes, perfDegree, perfSize))
	require.NoError(t, err)
	return store
}

func TestPlannerThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping performance test in short mode")
	}

	store := perfStore(t)
	p, err := planner.New(store, planner.DefaultConfig())
	require.NoError(t, err)
	defer p.Close()

	const (
		workers   = 8
		perWorker = 500
	)
	var found, unreachable atomic.Int64

	started := time.Now()
	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < workers; w++ {
		rng := rand.New(rand.NewSource(int64(w)))
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				start := types.NodeID(rng.Intn(perfNodes))
				goal := types.NodeID(rng.Intn(perfNodes))
				plan, err := p.Plan(ctx, start, goal)
				if errors.Is(err, planner.ErrUnreachable) {
					unreachable.Add(1)
					continue
				}
				if err != nil {
					return err
				}
				if plan.Nodes[0] != start || plan.Nodes[len(plan.Nodes)-1] != goal || len(plan.Edges) != len(plan.Nodes)-1 {
					return errors.New("malformed plan")
				}
				found.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	elapsed := time.Since(started)

	total := float64(workers * perWorker)
	rate := total / elapsed.Seconds()
	t.Logf("📊 %d plans in %v (%.0f plans/s): %d found, %d unreachable",
		workers*perWorker, elapsed, rate, found.Load(), unreachable.Load())

	assert.Equal(t, int64(workers*perWorker), found.Load()+unreachable.Load())
	assert.Positive(t, found.Load())
	assert.GreaterOrEqual(t, rate, 200.0, "planner throughput below target")
}

func TestPlannerConsistencyUnderPenalties(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping performance test in short mode")
	}

	store := perfStore(t)
	cached, err := planner.New(store, planner.DefaultConfig())
	require.NoError(t, err)
	defer cached.Close()

	uncachedCfg := planner.DefaultConfig()
	uncachedCfg.Cache.Enabled = false
	uncached, err := planner.New(store, uncachedCfg)
	require.NoError(t, err)
	defer uncached.Close()

	edges := store.Snapshot().Edges
	pairs := make([][2]types.NodeID, 50)
	rng := rand.New(rand.NewSource(99))
	for i := range pairs {
		pairs[i] = [2]types.NodeID{types.NodeID(rng.Intn(perfNodes)), types.NodeID(rng.Intn(perfNodes))}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		prng := rand.New(rand.NewSource(7))
		for i := 0; i < 200; i++ {
			e := edges[prng.Intn(len(edges))]
			if _, err := store.ApplyPenalty(e.From, e.To, 1+prng.Float64()*10); err != nil {
				return err
			}
		}
		return nil
	})
	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for round := 0; round < 5; round++ {
				for _, pair := range pairs {
					if _, err := cached.Plan(gctx, pair[0], pair[1]); err != nil && !errors.Is(err, planner.ErrUnreachable) {
						return err
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, pair := range pairs {
		want, wantErr := uncached.Plan(ctx, pair[0], pair[1])
		got, gotErr := cached.Plan(ctx, pair[0], pair[1])
		if wantErr != nil {
			assert.ErrorIs(t, gotErr, planner.ErrUnreachable)
			continue
		}
		require.NoError(t, gotErr)
		assert.InDelta(t, want.Cost, got.Cost, 1e-9, "%d -> %d", pair[0], pair[1])
	}
}

func TestLocalizerIndexMatchesScan(t *testing.T) {
	store := perfStore(t)
	indexed := localize.New(store, 1)
	require.True(t, indexed.Indexed())

	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 1000; i++ {
		pose := types.Pose{X: rng.Float64() * perfSize, Y: rng.Float64() * perfSize}

		got, err := indexed.NearestNode(pose)
		require.NoError(t, err)
		want, err := localize.NearestNode(store, pose)
		require.NoError(t, err)

		gotNode, _ := store.Node(got)
		wantNode, _ := store.Node(want)
		assert.InDelta(t, wantNode.Pose.DistanceTo(pose), gotNode.Pose.DistanceTo(pose), 1e-9)
	}
}
