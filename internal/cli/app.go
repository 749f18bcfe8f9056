package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChuLiYu/topo-nav/internal/config"
	"github.com/ChuLiYu/topo-nav/internal/events"
	"github.com/ChuLiYu/topo-nav/internal/executor"
	"github.com/ChuLiYu/topo-nav/internal/graph"
	"github.com/ChuLiYu/topo-nav/internal/graphfile"
	"github.com/ChuLiYu/topo-nav/internal/localize"
	"github.com/ChuLiYu/topo-nav/internal/metrics"
	"github.com/ChuLiYu/topo-nav/internal/planner"
	"github.com/ChuLiYu/topo-nav/internal/skill"
	"github.com/ChuLiYu/topo-nav/internal/snapshot"
	"github.com/ChuLiYu/topo-nav/internal/storage/wal"
)

// app is the component graph every command builds from the config.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *graph.Store
	planner   *planner.Planner
	localizer *localize.Localizer
	metrics   *metrics.Collector

	closers []func() error
}

// newApp loads the graph and builds the planner and localizer. Metrics
// register on reg.
func newApp(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*app, error) {
	store, err := graphfile.LoadStore(cfg.Graph)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		localizer: localize.New(store, cfg.Planner.KDTreeThreshold),
		metrics:   metrics.NewCollectorWith(reg),
	}

	p, err := planner.New(store, cfg.Planner.Config, planner.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create planner: %w", err)
	}
	a.planner = p
	a.onClose(func() error { p.Close(); return nil })

	logger.Debug("graph loaded", "path", cfg.Graph, "nodes", store.Len(), "zones", len(store.Zones()))
	return a, nil
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newExecutor wires the simulated robot behind a skill registry, the
// optional dispatcher pool, mission log, event publishers and penalty
// snapshots into an executor.
func (a *app) newExecutor(ctx context.Context) (*executor.Executor, *skill.Simulated, error) {
	cfg := a.cfg

	sim := skill.NewSimulated(cfg.Simulation.Seed)
	sim.FailureRate = cfg.Simulation.FailureRate
	sim.Delay = cfg.Simulation.Delay

	skills := skill.NewRegistry()
	skills.RegisterAll(sim)
	a.logger.Debug("skills registered", "kinds", skills.Kinds())

	var runner skill.Runner = skill.Inline{Skill: skills}
	if cfg.Executor.SkillWorkers > 0 {
		d := skill.NewDispatcher(skills, cfg.Executor.SkillWorkers*2)
		if err := d.Start(cfg.Executor.SkillWorkers); err != nil {
			return nil, nil, fmt.Errorf("failed to start skill dispatcher: %w", err)
		}
		a.onClose(func() error { d.Stop(); return nil })
		a.logger.Debug("skill dispatcher started", "workers", d.WorkerCount())
		runner = d
	}

	opts := []executor.Option{
		executor.WithMetrics(a.metrics),
		executor.WithCleaner(sim),
		executor.WithLogger(a.logger),
	}

	if cfg.MissionLog.Enabled() {
		w, err := wal.Open(cfg.MissionLog.Options)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open mission log: %w", err)
		}
		a.onClose(w.Close)
		opts = append(opts, executor.WithEventLog(w))
	}

	pubs := events.Multi{events.LogPublisher{Logger: a.logger, Level: slog.LevelDebug}}
	if cfg.Events.Enabled {
		np, err := events.ConnectNATS(ctx, cfg.Events.NATSConfig)
		if err != nil {
			return nil, nil, err
		}
		a.onClose(np.Close)
		pubs = append(pubs, np)
	}
	opts = append(opts, executor.WithPublisher(pubs))

	if cfg.Snapshot.Path != "" {
		opts = append(opts, executor.WithSnapshots(snapshot.NewManager(cfg.Snapshot.Path)))
	}

	exec, err := executor.New(a.store, a.planner, runner, cfg.ExecutorConfig(), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create executor: %w", err)
	}
	return exec, sim, nil
}
