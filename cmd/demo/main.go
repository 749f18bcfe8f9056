package main

// ============================================================================
// topo-nav demo: failure-aware cleaning mission and recovery from the log
// ============================================================================
//
// Usage:
//   go run ./cmd/demo start     # run a mission with a flaky door, persist penalties
//   go run ./cmd/demo recover   # rebuild traces from the mission log, restore penalties
//
// ============================================================================

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChuLiYu/topo-nav/internal/config"
	"github.com/ChuLiYu/topo-nav/internal/executor"
	"github.com/ChuLiYu/topo-nav/internal/graph"
	"github.com/ChuLiYu/topo-nav/internal/graphfile"
	"github.com/ChuLiYu/topo-nav/internal/metrics"
	"github.com/ChuLiYu/topo-nav/internal/planner"
	"github.com/ChuLiYu/topo-nav/internal/skill"
	"github.com/ChuLiYu/topo-nav/internal/snapshot"
	"github.com/ChuLiYu/topo-nav/internal/storage/wal"
	"github.com/ChuLiYu/topo-nav/internal/telemetry"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/demo <start|recover>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fail("Failed to load config", err)
	}
	logger, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		fail("Failed to configure logging", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		fail("Failed to configure tracing", err)
	}

	switch os.Args[1] {
	case "start":
		err = start(ctx, cfg, logger)
	case "recover":
		err = recoverMissions(cfg)
	default:
		err = fmt.Errorf("unknown mode %q", os.Args[1])
	}
	if serr := shutdownTracing(context.WithoutCancel(ctx)); serr != nil {
		logger.Warn("failed to flush traces", "error", serr)
	}
	if err != nil {
		fail("Demo failed", err)
	}
}

func start(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	banner("Demo: penalize-and-replan mission")

	store, err := graphfile.LoadStore(cfg.Graph)
	if err != nil {
		return err
	}
	ok("Loaded %s (%d nodes, zones %s)", cfg.Graph, store.Len(), strings.Join(store.Zones(), ", "))

	collector := metrics.NewCollectorWith(prometheus.NewRegistry())
	p, err := planner.New(store, cfg.Planner.Config, planner.WithMetrics(collector))
	if err != nil {
		return err
	}
	defer p.Close()

	// The hall to living room door sticks twice before it opens.
	robot := skill.NewSimulated(cfg.Simulation.Seed)
	robot.Delay = cfg.Simulation.Delay
	robot.FailNext(2, 3, 2)
	ok("Simulated robot ready (door 2->3 fails twice)")

	if !cfg.MissionLog.Enabled() {
		return fmt.Errorf("mission_log.path is not configured")
	}
	missionLog, err := wal.Open(cfg.MissionLog.Options)
	if err != nil {
		return err
	}
	defer missionLog.Close()

	execCfg := cfg.ExecutorConfig()
	execCfg.Penalty.Persist = true
	opts := []executor.Option{
		executor.WithEventLog(missionLog),
		executor.WithMetrics(collector),
		executor.WithCleaner(robot),
		executor.WithLogger(logger),
	}
	if cfg.Snapshot.Path != "" {
		opts = append(opts, executor.WithSnapshots(snapshot.NewManager(cfg.Snapshot.Path)))
	}
	skills := skill.NewRegistry()
	skills.RegisterAll(robot)
	exec, err := executor.New(store, p, skill.Inline{Skill: skills}, execCfg, opts...)
	if err != nil {
		return err
	}

	mission := types.Mission{Zones: []types.ZoneRequest{
		{ZoneID: "bedroom", Priority: types.PriorityLow},
		{ZoneID: "kitchen", Priority: types.PriorityHigh, CleaningMode: "deep"},
		{ZoneID: "bathroom", Priority: types.PriorityMedium},
	}}
	dock, _ := store.Dock()

	section("Running mission")
	trace, err := exec.RunMission(ctx, mission, dock)
	if trace == nil {
		return err
	}
	printTrace(trace)
	if err != nil {
		fmt.Printf("\n❌ %v\n", err)
	}

	printPenalties(store)
	fmt.Printf("\n💾 Mission log: %s\n", cfg.MissionLog.Path)
	fmt.Println("💡 Run 'go run ./cmd/demo recover' to rebuild the trace from the log")
	return nil
}

func recoverMissions(cfg *config.Config) error {
	banner("Demo: recovery from the mission log")

	events, err := wal.ReadEvents(cfg.MissionLog.Path)
	if err != nil {
		return err
	}
	traces, err := wal.Rebuild(events)
	if err != nil {
		return err
	}
	ok("Replayed %d events into %d mission trace(s)", len(events), len(traces))

	for _, t := range traces {
		section("Mission " + t.MissionID)
		printTrace(t)
	}

	if cfg.Snapshot.Path == "" {
		return nil
	}
	store, err := graphfile.LoadStore(cfg.Graph)
	if err != nil {
		return err
	}
	n, err := snapshot.NewManager(cfg.Snapshot.Path).RestoreStore(store)
	if err != nil {
		return err
	}
	ok("Restored %d penalized edge(s) from %s", n, cfg.Snapshot.Path)
	printPenalties(store)
	return nil
}

// ============================================================================
// Output helpers
// ============================================================================

func printTrace(t *types.MissionTrace) {
	fmt.Printf("  Status: %s  (start %d, final %d)\n", t.Status, t.Start, t.Final)
	for _, z := range t.Zones {
		icon := "✅"
		if z.Outcome != types.ZoneCompleted {
			icon = "❌"
		}
		fmt.Printf("  %s %-10s [%s] attempts=%d path=%v\n", icon, z.ZoneID, z.Priority, z.Attempts, z.Path)
	}
	if t.Dock != nil {
		fmt.Printf("  🔌 dock       attempts=%d path=%v\n", t.Dock.Attempts, t.Dock.Path)
	}
	for k, n := range t.FailureCounts {
		fmt.Printf("  ⚠️  edge %s failed %d time(s)\n", k, n)
	}
}

func printPenalties(store *graph.Store) {
	keys := snapshot.PenalizedEdges(store.Snapshot())
	if len(keys) == 0 {
		fmt.Println("\n📊 No penalized edges")
		return
	}
	penalties := store.Penalties()
	fmt.Println("\n📊 Penalized edges:")
	for _, k := range keys {
		fmt.Printf("  %s  +%.2f\n", k, penalties[k])
	}
}

func banner(title string) {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║  %-57s║\n", title)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
}

func section(title string) { fmt.Printf("\n▶ %s\n", title) }

func ok(format string, args ...any) { fmt.Printf("✓ "+format+"\n", args...) }

func fail(msg string, err error) {
	fmt.Fprintf(os.Stderr, "✗ %s: %v\n", msg, err)
	os.Exit(1)
}
