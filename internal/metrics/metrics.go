// ============================================================================
// topo-nav Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: collect and expose planner and mission metrics for Prometheus
//
// Metric groups:
//
//   1. Planning (RED):
//      - toponav_plans_total{result}: found | unreachable | not_found | partial | error
//      - toponav_plan_duration_seconds: planning latency
//      - toponav_plan_cache_total{result}: hit | miss
//
//   2. Missions:
//      - toponav_missions_total{status}: mission_complete | mission_abandoned
//      - toponav_mission_duration_seconds
//      - toponav_missions_in_progress
//      - toponav_zones_total{outcome}: completed | unreachable
//
//   3. Traversal and failure handling:
//      - toponav_traversals_total{skill,result}: ok | failed
//      - toponav_traversal_duration_seconds{skill}
//      - toponav_penalties_total / toponav_penalty_amount_total
//      - toponav_edges_penalized: edges with a non-zero penalty
//
// Example queries:
//
//   # traversal failure rate per skill
//   rate(toponav_traversals_total{result="failed"}[5m])
//     / rate(toponav_traversals_total[5m])
//
//   # 95th percentile planning latency
//   histogram_quantile(0.95, toponav_plan_duration_seconds_bucket)
//
// HTTP:
//   Handler() serves the default gatherer; the HTTP surface mounts it at
//   /metrics.
//
// ============================================================================

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

const namespace = "toponav"

// Collector holds every topo-nav metric. It satisfies the planner's and the
// executor's metrics interfaces.
type Collector struct {
	plans         *prometheus.CounterVec
	planLatency   prometheus.Histogram
	planCache     *prometheus.CounterVec
	missions      *prometheus.CounterVec
	missionTime   prometheus.Histogram
	inProgress    prometheus.Gauge
	zones         *prometheus.CounterVec
	traversals    *prometheus.CounterVec
	traverseTime  *prometheus.HistogramVec
	penalties     prometheus.Counter
	penaltyAmount prometheus.Counter
	penalized     prometheus.Gauge
}

// NewCollector creates the collector and registers it with
// prometheus.DefaultRegisterer.
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer)
}

// NewCollectorWith creates the collector and registers it with reg.
// It panics on duplicate registration, like prometheus.MustRegister.
func NewCollectorWith(reg prometheus.Registerer) *Collector {
	c := &Collector{
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Planning requests by result",
		}, []string{"result"}),
		planLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_duration_seconds",
			Help:      "Planning latency in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		planCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_cache_total",
			Help:      "Plan cache lookups by result",
		}, []string{"result"}),
		missions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missions_total",
			Help:      "Finished missions by terminal status",
		}, []string{"status"}),
		missionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mission_duration_seconds",
			Help:      "Mission wall-clock duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "missions_in_progress",
			Help:      "Missions currently executing",
		}),
		zones: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zones_total",
			Help:      "Zone visits by outcome",
		}, []string{"outcome"}),
		traversals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traversals_total",
			Help:      "Edge traversals by skill and result",
		}, []string{"skill", "result"}),
		traverseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "traversal_duration_seconds",
			Help:      "Edge traversal duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"skill"}),
		penalties: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "penalties_total",
			Help:      "Failure penalties applied to edges",
		}),
		penaltyAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "penalty_amount_total",
			Help:      "Sum of failure penalty amounts applied",
		}),
		penalized: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "edges_penalized",
			Help:      "Edges currently carrying a non-zero penalty",
		}),
	}

	reg.MustRegister(
		c.plans, c.planLatency, c.planCache,
		c.missions, c.missionTime, c.inProgress, c.zones,
		c.traversals, c.traverseTime,
		c.penalties, c.penaltyAmount, c.penalized,
	)
	return c
}

// RecordPlan records one planning request.
func (c *Collector) RecordPlan(result string, seconds float64) {
	c.plans.WithLabelValues(result).Inc()
	c.planLatency.Observe(seconds)
}

// RecordPlanCache records a plan cache lookup.
func (c *Collector) RecordPlanCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.planCache.WithLabelValues(result).Inc()
}

// MissionStarted marks a mission as running.
func (c *Collector) MissionStarted() {
	c.inProgress.Inc()
}

// MissionFinished records a terminal mission status.
func (c *Collector) MissionFinished(status types.MissionStatus, seconds float64) {
	c.inProgress.Dec()
	c.missions.WithLabelValues(string(status)).Inc()
	c.missionTime.Observe(seconds)
}

// ZoneFinished records a zone outcome.
func (c *Collector) ZoneFinished(outcome types.ZoneOutcome) {
	c.zones.WithLabelValues(string(outcome)).Inc()
}

// RecordTraversal records one edge traversal.
func (c *Collector) RecordTraversal(skill types.SkillKind, ok bool, seconds float64) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.traversals.WithLabelValues(string(skill), result).Inc()
	c.traverseTime.WithLabelValues(string(skill)).Observe(seconds)
}

// RecordPenalty records a penalty of amount.
func (c *Collector) RecordPenalty(amount float64) {
	c.penalties.Inc()
	c.penaltyAmount.Add(amount)
}

// SetPenalizedEdges sets the number of edges carrying a penalty.
func (c *Collector) SetPenalizedEdges(n int) {
	c.penalized.Set(float64(n))
}

// Handler serves the default Prometheus gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServerRegistry returns a registry carrying the Go runtime and process
// collectors, for servers that expose their own /metrics.
func NewServerRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// HandlerFor serves the metrics gathered by g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
