package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollectorWith(reg), reg
}

func TestNewCollector(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()
	require.NotNil(t, collector)
	assert.NotNil(t, collector.plans)
	assert.NotNil(t, collector.traversals)
	assert.NotNil(t, collector.penalized)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollectorWith(reg)
	assert.Panics(t, func() { NewCollectorWith(reg) })
}

func TestRecordPlan(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordPlan("found", 0.001)
	c.RecordPlan("found", 0.002)
	c.RecordPlan("unreachable", 0.003)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.plans.WithLabelValues("found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.plans.WithLabelValues("unreachable")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.planLatency))
}

func TestRecordPlanCache(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordPlanCache(true)
	c.RecordPlanCache(false)
	c.RecordPlanCache(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.planCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.planCache.WithLabelValues("miss")))
}

func TestMissionLifecycle(t *testing.T) {
	c, _ := newTestCollector(t)

	c.MissionStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inProgress))

	c.ZoneFinished(types.ZoneCompleted)
	c.ZoneFinished(types.ZoneUnreachable)
	c.RecordTraversal(types.SkillFollowCorridor, true, 0.1)
	c.RecordTraversal(types.SkillFollowCorridor, false, 0.2)
	c.RecordPenalty(10)
	c.RecordPenalty(2.5)
	c.SetPenalizedEdges(1)
	c.MissionFinished(types.MissionComplete, 3)

	assert.Equal(t, 0.0, testutil.ToFloat64(c.inProgress))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.missions.WithLabelValues("mission_complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.zones.WithLabelValues("unreachable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.traversals.WithLabelValues("follow_corridor", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.penalties))
	assert.Equal(t, 12.5, testutil.ToFloat64(c.penaltyAmount))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.penalized))
}

func TestConcurrentMetricUpdates(t *testing.T) {
	c, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordPlan("found", 0.001)
			c.RecordTraversal(types.SkillEnterZone, true, 0.01)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50.0, testutil.ToFloat64(c.plans.WithLabelValues("found")))
	assert.Equal(t, 50.0, testutil.ToFloat64(c.traversals.WithLabelValues("enter_zone", "ok")))
}

func TestGatherNames(t *testing.T) {
	c, reg := newTestCollector(t)
	c.RecordPlan("found", 0.001)
	c.MissionStarted()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["toponav_plans_total"])
	assert.True(t, names["toponav_missions_in_progress"])
}

func TestHandlerFor_ServerRegistry(t *testing.T) {
	reg := NewServerRegistry()
	c := NewCollectorWith(reg)
	c.RecordPlanCache(true)

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `toponav_plan_cache_total{result="hit"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
