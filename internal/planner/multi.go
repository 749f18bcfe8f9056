package planner

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/topo-nav/internal/graph"
	"github.com/ChuLiYu/topo-nav/internal/telemetry"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

// PlanMulti chains paths from start through goals using greedy nearest
// neighbour on path distance. It is an open-path TSP heuristic, not an
// optimal tour.
//
// Each round runs A* from the current node to every remaining goal in
// parallel, picks the shortest (ties to the lowest id), and appends that
// path. Goals crossed on the way are marked visited where they are crossed.
// Goals that no round can reach are returned in Unreachable.
//
// Returns ErrNotFound if start or any goal is unknown.
func (p *Planner) PlanMulti(ctx context.Context, start types.NodeID, goals []types.NodeID) (*types.MultiPlan, error) {
	ctx, span := telemetry.StartMultiPlanSpan(ctx, int(start), len(goals))
	began := time.Now()

	var result *types.MultiPlan
	err := p.store.Read(func(r graph.Reader) error {
		var err error
		result, err = p.planMulti(ctx, r, start, goals)
		return err
	})

	if p.metrics != nil {
		p.metrics.RecordPlan(multiResult(result, err), time.Since(began).Seconds())
	}
	telemetry.End(span, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func multiResult(m *types.MultiPlan, err error) string {
	switch {
	case err != nil:
		return planResult(err)
	case len(m.Unreachable) > 0:
		return "partial"
	default:
		return "found"
	}
}

type candidate struct {
	goal types.NodeID
	plan *types.PathPlan
}

func (p *Planner) planMulti(ctx context.Context, r graph.Reader, start types.NodeID, goals []types.NodeID) (*types.MultiPlan, error) {
	if _, err := r.Node(start); err != nil {
		return nil, err
	}

	remaining := make(map[types.NodeID]bool, len(goals))
	for _, g := range goals {
		if _, err := r.Node(g); err != nil {
			return nil, err
		}
		remaining[g] = true
	}

	nodes := []types.NodeID{start}
	var edges []types.Edge
	var visits []types.NodeID

	if remaining[start] {
		delete(remaining, start)
		visits = append(visits, start)
	}

	current := start
	for len(remaining) > 0 {
		best, err := p.nearestGoal(ctx, r, current, sortedIDs(remaining))
		if err != nil {
			return nil, err
		}
		if best == nil {
			break
		}

		for i, n := range best.plan.Nodes[1:] {
			nodes = append(nodes, n)
			edges = append(edges, best.plan.Edges[i])
			if remaining[n] {
				delete(remaining, n)
				visits = append(visits, n)
			}
		}
		current = best.goal
	}

	unreachable := sortedIDs(remaining)
	if visits == nil {
		visits = []types.NodeID{}
	}
	return &types.MultiPlan{
		Plan:        *p.buildPlan(nodes, edges),
		Visits:      visits,
		Unreachable: unreachable,
	}, nil
}

// nearestGoal fans A* out to every candidate goal and returns the one with
// the shortest path distance, or nil when none is reachable.
func (p *Planner) nearestGoal(ctx context.Context, r graph.Reader, from types.NodeID, goals []types.NodeID) (*candidate, error) {
	results := make([]*types.PathPlan, len(goals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, goal := range goals {
		g.Go(func() error {
			plan, err := p.search(gctx, r, from, goal)
			if errors.Is(err, ErrUnreachable) {
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = plan
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var best *candidate
	for i, plan := range results {
		if plan == nil {
			continue
		}
		// goals is ascending, so strict < keeps the lowest id on ties.
		if best == nil || plan.Distance < best.plan.Distance {
			best = &candidate{goal: goals[i], plan: plan}
		}
	}
	return best, nil
}

func sortedIDs(set map[types.NodeID]bool) []types.NodeID {
	out := make([]types.NodeID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
