// ============================================================================
// topo-nav Single-Goal Planner
// ============================================================================
//
// Package: internal/planner
// File: astar.go
// Purpose: A* shortest path under the effective cost model
//
// Search:
//   - weight      = cost.Effective(edge); non-traversable edges are skipped
//   - heuristic   = HeuristicWeight * euclid(pose(n), pose(goal))
//   - frontier    = min-heap on (f, g, node id)
//   - duplicates  = lazy; a popped entry whose g is stale is dropped
//   - reopening   = a cheaper g for an already expanded node pushes it again
//
// The heuristic is admissible only when every edge costs at least the
// straight-line distance between its endpoints. Graph files built from
// poses satisfy this; hand-written ones may not, and then the result is
// a good path rather than a guaranteed optimum.
//
// Every search runs inside one graph.Store read view, so penalties applied
// concurrently by an executor are seen either entirely or not at all.
//
// ============================================================================

package planner

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChuLiYu/topo-nav/internal/cost"
	"github.com/ChuLiYu/topo-nav/internal/graph"
	"github.com/ChuLiYu/topo-nav/internal/telemetry"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

var (
	// ErrUnreachable means no traversable path exists. It is an expected
	// outcome; callers branch on it with errors.Is.
	ErrUnreachable = errors.New("goal unreachable")
	// ErrInvalidConfig is returned by New for out-of-range settings.
	ErrInvalidConfig = errors.New("invalid planner config")
)

// ctxCheckInterval is how many expansions run between context checks.
const ctxCheckInterval = 256

// Config configures a Planner.
type Config struct {
	NominalSpeed    float64     `yaml:"nominal_speed"`    // m/s, used for EstimatedTime
	HeuristicWeight float64     `yaml:"heuristic_weight"` // 1 = plain A*, 0 = Dijkstra
	Cache           CacheConfig `yaml:"cache"`
}

// DefaultConfig returns the planner defaults.
func DefaultConfig() Config {
	return Config{
		NominalSpeed:    0.5,
		HeuristicWeight: 1.0,
		Cache:           DefaultCacheConfig(),
	}
}

// Validate checks the config's ranges.
func (c Config) Validate() error {
	if !(c.NominalSpeed > 0) {
		return fmt.Errorf("%w: nominal_speed must be > 0, got %v", ErrInvalidConfig, c.NominalSpeed)
	}
	if c.HeuristicWeight < 0 {
		return fmt.Errorf("%w: heuristic_weight must be >= 0, got %v", ErrInvalidConfig, c.HeuristicWeight)
	}
	if c.Cache.Enabled && c.Cache.MaxPlans <= 0 {
		return fmt.Errorf("%w: cache.max_plans must be > 0 when the cache is enabled", ErrInvalidConfig)
	}
	return nil
}

// Metrics receives planner observations. *metrics.Collector implements it.
type Metrics interface {
	RecordPlan(result string, seconds float64)
	RecordPlanCache(hit bool)
}

// Option customizes a Planner.
type Option func(*Planner)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(p *Planner) { p.metrics = m }
}

// Planner computes paths over a graph.Store. Safe for concurrent use.
type Planner struct {
	store   *graph.Store
	cfg     Config
	cache   *planCache
	metrics Metrics
}

// New creates a Planner over store.
//
// Parameters:
//   - store: the graph to plan over
//   - cfg: planner settings; see DefaultConfig
//
// Returns:
//   - *Planner: ready to use; call Close to release the cache
//   - error: ErrInvalidConfig, or a cache construction failure
func New(store *graph.Store, cfg Config, opts ...Option) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Planner{store: store, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if cfg.Cache.Enabled {
		c, err := newPlanCache(cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("failed to create plan cache: %w", err)
		}
		p.cache = c
	}
	return p, nil
}

// Close releases the plan cache.
func (p *Planner) Close() {
	if p.cache != nil {
		p.cache.close()
	}
}

// Config returns the planner's settings.
func (p *Planner) Config() Config {
	return p.cfg
}

// Plan returns the cheapest path from start to goal.
//
// Returns:
//   - *types.PathPlan: start..goal; a single node when start == goal
//   - error: ErrNotFound for unknown nodes, ErrUnreachable when no path exists,
//     or the context's error
func (p *Planner) Plan(ctx context.Context, start, goal types.NodeID) (*types.PathPlan, error) {
	ctx, span := telemetry.StartPlanSpan(ctx, int(start), int(goal))
	began := time.Now()

	var plan *types.PathPlan
	err := p.store.Read(func(r graph.Reader) error {
		var err error
		if p.cache == nil {
			plan, err = p.search(ctx, r, start, goal)
			return err
		}
		key := cacheKey(start, goal, r.Version())
		var hit bool
		plan, hit, err = p.cache.do(key, func() (*types.PathPlan, error) {
			return p.search(ctx, r, start, goal)
		})
		if p.metrics != nil && err == nil {
			p.metrics.RecordPlanCache(hit)
		}
		return err
	})

	if p.metrics != nil {
		p.metrics.RecordPlan(planResult(err), time.Since(began).Seconds())
	}
	if errors.Is(err, ErrUnreachable) {
		telemetry.End(span, nil)
	} else {
		telemetry.End(span, err)
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func planResult(err error) string {
	switch {
	case err == nil:
		return "found"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, graph.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// search runs A* inside an already-held read view.
func (p *Planner) search(ctx context.Context, r graph.Reader, start, goal types.NodeID) (*types.PathPlan, error) {
	startNode, err := r.Node(start)
	if err != nil {
		return nil, err
	}
	goalNode, err := r.Node(goal)
	if err != nil {
		return nil, err
	}
	if start == goal {
		return p.buildPlan([]types.NodeID{start}, nil), nil
	}

	h := func(n types.Node) float64 {
		return p.cfg.HeuristicWeight * n.Pose.DistanceTo(goalNode.Pose)
	}

	gScore := map[types.NodeID]float64{start: 0}
	cameFrom := make(map[types.NodeID]types.Edge)
	open := &frontier{}
	heap.Push(open, &entry{id: start, g: 0, f: h(startNode)})

	expansions := 0
	for open.Len() > 0 {
		cur := heap.Pop(open).(*entry)
		if best, ok := gScore[cur.id]; ok && cur.g > best {
			continue
		}
		if cur.id == goal {
			return p.buildPlan(reconstruct(cameFrom, start, goal)), nil
		}

		if expansions%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		expansions++

		edges, err := r.Neighbors(cur.id)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if !cost.Usable(e) {
				continue
			}
			g := cur.g + cost.Effective(e)
			if best, ok := gScore[e.To]; ok && g >= best {
				continue
			}
			next, err := r.Node(e.To)
			if err != nil {
				return nil, err
			}
			gScore[e.To] = g
			cameFrom[e.To] = e
			heap.Push(open, &entry{id: e.To, g: g, f: g + h(next)})
		}
	}

	return nil, fmt.Errorf("%d -> %d: %w", start, goal, ErrUnreachable)
}

func reconstruct(cameFrom map[types.NodeID]types.Edge, start, goal types.NodeID) ([]types.NodeID, []types.Edge) {
	var edges []types.Edge
	for at := goal; at != start; {
		e := cameFrom[at]
		edges = append(edges, e)
		at = e.From
	}
	nodes := make([]types.NodeID, 0, len(edges)+1)
	nodes = append(nodes, start)
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
	for _, e := range edges {
		nodes = append(nodes, e.To)
	}
	return nodes, edges
}

func (p *Planner) buildPlan(nodes []types.NodeID, edges []types.Edge) *types.PathPlan {
	if edges == nil {
		edges = []types.Edge{}
	}
	distance := cost.PathDistance(edges)
	return &types.PathPlan{
		Nodes:         nodes,
		Edges:         edges,
		Distance:      distance,
		Cost:          cost.PathCost(edges),
		EstimatedTime: time.Duration(distance / p.cfg.NominalSpeed * float64(time.Second)),
	}
}

// ----------------------------------------------------------------------------
// Frontier
// ----------------------------------------------------------------------------

type entry struct {
	id types.NodeID
	g  float64
	f  float64
}

type frontier []*entry

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].f != f[j].f {
		return f[i].f < f[j].f
	}
	if f[i].g != f[j].g {
		return f[i].g < f[j].g
	}
	return f[i].id < f[j].id
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(*entry)) }

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*f = old[:n-1]
	return item
}
