package planner

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

// CacheConfig configures the plan cache. Entries are keyed by
// (start, goal, graph version), so any penalty change makes older entries
// unreachable and they age out under the cost bound.
type CacheConfig struct {
	Enabled  bool  `yaml:"enabled"`
	MaxPlans int64 `yaml:"max_plans"`
}

// DefaultCacheConfig enables a small cache.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Enabled: true, MaxPlans: 4096}
}

type planCache struct {
	c     *ristretto.Cache[string, *types.PathPlan]
	group singleflight.Group
}

func newPlanCache(cfg CacheConfig) (*planCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, *types.PathPlan]{
		NumCounters:        cfg.MaxPlans * 10,
		MaxCost:            cfg.MaxPlans, // one unit per plan
		IgnoreInternalCost: true,
		BufferItems:        64,
	})
	if err != nil {
		return nil, err
	}
	return &planCache{c: c}, nil
}

func cacheKey(start, goal types.NodeID, version uint64) string {
	return fmt.Sprintf("%d:%d:%d", start, goal, version)
}

// do returns the cached plan for key or computes it once across concurrent
// callers. Errors are not cached.
func (pc *planCache) do(key string, compute func() (*types.PathPlan, error)) (*types.PathPlan, bool, error) {
	if plan, ok := pc.c.Get(key); ok {
		return clonePlan(plan), true, nil
	}

	v, err, _ := pc.group.Do(key, func() (any, error) {
		plan, err := compute()
		if err != nil {
			return nil, err
		}
		pc.c.Set(key, plan, 1)
		pc.c.Wait()
		return plan, nil
	})
	if err != nil {
		return nil, false, err
	}
	return clonePlan(v.(*types.PathPlan)), false, nil
}

func (pc *planCache) close() {
	pc.c.Close()
}

func clonePlan(p *types.PathPlan) *types.PathPlan {
	out := *p
	out.Nodes = append([]types.NodeID(nil), p.Nodes...)
	out.Edges = append([]types.Edge{}, p.Edges...)
	return &out
}
