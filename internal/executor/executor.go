// ============================================================================
// topo-nav Mission Executor
// ============================================================================
//
// Package: internal/executor
// File: executor.go
// Purpose: run a cleaning mission zone by zone over the topological graph,
//          absorbing traversal failures by penalizing edges and replanning
//
// State machine (per zone, then once more for the dock):
//
//   Planning ──plan ok──▶ Traversing ──all edges ok──▶ ZoneComplete
//      ▲   │                  │
//      │   └─unreachable──┐   └─edge failed: count, penalize, drop rest of path
//      │                  ▼                   │
//      └──── attempt < MaxAttempts ◀──────────┘
//                         │
//                         └─ attempts exhausted ─▶ ZoneUnreachable (mission continues)
//                                                  dock: MissionAbandoned
//
// Mission flow:
//   1. validate the start node (unknown → MissionAbandoned)
//   2. queue zones by priority (zonequeue); policy-skipped and duplicate
//      zones are recorded or ignored up front
//   3. visit each zone; unknown zones are Unreachable without planning
//   4. return to the dock
//   5. reset, decay or persist penalties
//
// Every step is written to the mission log before it is published, so
// wal.Rebuild of the log reproduces the returned trace.
//
// Concurrency:
//   - one mission per Executor (ErrMissionInProgress)
//   - traversals are sequential; planning reads the graph under its read lock
//   - the context is checked before every planning attempt and every
//     dispatch; an in-flight traversal is never interrupted
//
// ============================================================================

package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/topo-nav/internal/cost"
	"github.com/ChuLiYu/topo-nav/internal/events"
	"github.com/ChuLiYu/topo-nav/internal/graph"
	"github.com/ChuLiYu/topo-nav/internal/planner"
	"github.com/ChuLiYu/topo-nav/internal/skill"
	"github.com/ChuLiYu/topo-nav/internal/storage/wal"
	"github.com/ChuLiYu/topo-nav/internal/telemetry"
	"github.com/ChuLiYu/topo-nav/internal/zonequeue"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

var (
	ErrMissionInProgress = errors.New("a mission is already running")
	ErrMissionAbandoned  = errors.New("mission abandoned")
	ErrInvalidConfig     = errors.New("invalid executor config")
)

// UnknownZoneReason is recorded on zones the graph does not know.
const UnknownZoneReason = "unknown zone"

// ============================================================================
// Configuration and collaborators
// ============================================================================

// Config controls retries, the dock and penalty handling.
type Config struct {
	MaxAttempts      int                `yaml:"max_attempts"`      // planning attempts per zone and for the dock
	DockNode         *types.NodeID      `yaml:"dock_node"`         // nil: the graph's dock, else the start node
	TraversalTimeout time.Duration      `yaml:"traversal_timeout"` // 0 disables
	Policy           zonequeue.Policy   `yaml:"policy"`
	Penalty          cost.PenaltyPolicy `yaml:"-"`
}

// DefaultConfig returns three attempts, a 30s traversal timeout,
// priority_first ordering and the default penalty policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		TraversalTimeout: 30 * time.Second,
		Policy:           zonequeue.PolicyPriorityFirst,
		Penalty:          cost.DefaultPolicy(),
	}
}

// Validate checks ranges and the policy name.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be >= 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.TraversalTimeout < 0 {
		return fmt.Errorf("%w: traversal_timeout must be >= 0, got %v", ErrInvalidConfig, c.TraversalTimeout)
	}
	if _, err := zonequeue.ParsePolicy(string(c.Policy)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Penalty.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// PathPlanner is the planning capability the executor needs.
type PathPlanner interface {
	Plan(ctx context.Context, start, goal types.NodeID) (*types.PathPlan, error)
}

// EventLog is the mission log; *wal.WAL implements it.
type EventLog interface {
	Append(event wal.Event, force bool) (wal.Event, error)
}

// PenaltySnapshots persists penalty state; *snapshot.Manager implements it.
type PenaltySnapshots interface {
	SaveStore(store *graph.Store) error
	RestoreStore(store *graph.Store) (int, error)
}

// Metrics receives mission instrumentation; *metrics.Collector implements it.
type Metrics interface {
	MissionStarted()
	MissionFinished(status types.MissionStatus, seconds float64)
	ZoneFinished(outcome types.ZoneOutcome)
	RecordTraversal(skill types.SkillKind, ok bool, seconds float64)
	RecordPenalty(amount float64)
	SetPenalizedEdges(n int)
}

// Option configures optional collaborators.
type Option func(*Executor)

// WithEventLog writes every mission event to l.
func WithEventLog(l EventLog) Option { return func(e *Executor) { e.events = l } }

// WithPublisher publishes every logged event to p.
func WithPublisher(p events.Publisher) Option { return func(e *Executor) { e.publisher = p } }

// WithMetrics records mission metrics on m.
func WithMetrics(m Metrics) Option { return func(e *Executor) { e.metrics = m } }

// WithCleaner runs c on arrival in each zone.
func WithCleaner(c skill.Cleaner) Option { return func(e *Executor) { e.cleaner = c } }

// WithSnapshots restores and saves penalties when Penalty.Persist is set.
func WithSnapshots(s PenaltySnapshots) Option { return func(e *Executor) { e.snapshots = s } }

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.log = l } }

// ============================================================================
// Executor
// ============================================================================

// Executor runs missions against one graph store.
type Executor struct {
	store   *graph.Store
	planner PathPlanner
	runner  skill.Runner
	cfg     Config

	events    EventLog
	publisher events.Publisher
	metrics   Metrics
	cleaner   skill.Cleaner
	snapshots PenaltySnapshots
	log       *slog.Logger

	mu     sync.Mutex
	active *mission
}

// New creates an executor.
//
// Parameters:
//   - store: the graph; the executor is the only writer of its penalties
//   - p: path planner over the same store
//   - runner: traversal capability (skill.Dispatcher or skill.Inline)
//   - cfg: validated before use; a configured dock node must exist
//
// Returns:
//   - *Executor
//   - error: ErrInvalidConfig or graph.ErrNotFound
func New(store *graph.Store, p PathPlanner, runner skill.Runner, cfg Config, opts ...Option) (*Executor, error) {
	if cfg.Policy == "" {
		cfg.Policy = zonequeue.PolicyPriorityFirst
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DockNode != nil {
		if _, err := store.Node(*cfg.DockNode); err != nil {
			return nil, fmt.Errorf("dock node: %w", err)
		}
	}

	e := &Executor{
		store:     store,
		planner:   p,
		runner:    runner,
		cfg:       cfg,
		publisher: events.Nop{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// MissionStatus is a point-in-time view of the running mission's zone queue.
type MissionStatus struct {
	MissionID string            `json:"mission_id"`
	Pending   []string          `json:"pending"`
	Counts    map[string]int    `json:"counts"`
	Zones     []zonequeue.Visit `json:"zones"`
}

// Status reports the zone queue of the mission in progress. ok is false
// when the executor is idle.
func (e *Executor) Status() (status MissionStatus, ok bool) {
	e.mu.Lock()
	run := e.active
	e.mu.Unlock()
	if run == nil {
		return MissionStatus{}, false
	}
	return MissionStatus{
		MissionID: run.id,
		Pending:   run.queue.Pending(),
		Counts:    run.queue.Stats(),
		Zones:     run.queue.Snapshot(),
	}, true
}

// Config returns the executor configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// mission is the state of one RunMission call.
type mission struct {
	id      string
	trace   *types.MissionTrace
	current types.NodeID
	queue   *zonequeue.Queue
}

// abandonError ends the mission; cause is nil for exhausted dock attempts.
type abandonError struct {
	reason string
	cause  error
}

func (a *abandonError) Error() string { return a.reason }
func (a *abandonError) Unwrap() error { return a.cause }

// giveUpError ends one zone or dock visit after MaxAttempts.
type giveUpError struct {
	reason string
}

func (g *giveUpError) Error() string { return g.reason }

/*
RunMission executes a mission starting at start.

Outcomes:
  - MissionComplete: every zone was completed or marked Unreachable and
    the robot docked; error is nil
  - MissionAbandoned: unknown start, dock unreachable, context cancelled
    or a planner failure; the partial trace is returned with an error
    wrapping ErrMissionAbandoned
  - ErrMissionInProgress with a nil trace if another mission is running
*/
func (e *Executor) RunMission(ctx context.Context, m types.Mission, start types.NodeID) (*types.MissionTrace, error) {
	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return nil, ErrMissionInProgress
	}
	run := &mission{
		id:      uuid.NewString(),
		current: start,
		queue:   zonequeue.New(e.cfg.Policy),
	}
	e.active = run
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active = nil
		e.mu.Unlock()
	}()

	began := time.Now()
	run.trace = &types.MissionTrace{
		MissionID:     run.id,
		Start:         start,
		Final:         start,
		Zones:         []types.ZoneRecord{},
		FailureCounts: make(map[types.EdgeKey]int),
		Status:        types.MissionInProgress,
		StartedAt:     began.UnixMilli(),
	}

	ctx, span := telemetry.StartMissionSpan(ctx, run.id, int(start), len(m.Zones))
	if e.metrics != nil {
		e.metrics.MissionStarted()
	}
	e.emit(ctx, wal.Event{Type: wal.EventMissionStart, MissionID: run.id, Node: start}, true)
	e.log.Info("mission started", "mission", run.id, "start", start, "zones", len(m.Zones))

	e.restorePenalties()
	err := e.run(ctx, run, m)
	e.finishPenalties()

	trace := run.trace
	trace.Final = run.current
	trace.FinishedAt = time.Now().UnixMilli()
	if len(trace.FailureCounts) == 0 {
		trace.FailureCounts = nil
	}

	var abandon *abandonError
	if errors.As(err, &abandon) {
		trace.Status = types.MissionAbandoned
		trace.Reason = abandon.reason
		ev := wal.Event{Type: wal.EventMissionAbandoned, MissionID: run.id, Node: run.current, Reason: abandon.reason}
		if trace.Dock != nil {
			trace.Dock.Outcome = types.ZoneUnreachable
			trace.Dock.Reason = abandon.reason
			ev.Attempt = trace.Dock.Attempts
		}
		e.emit(ctx, ev, true)
		e.log.Warn("mission abandoned", "mission", run.id, "node", run.current, "reason", abandon.reason)
		if abandon.cause != nil {
			err = fmt.Errorf("%w: %s: %w", ErrMissionAbandoned, abandon.reason, abandon.cause)
		} else {
			err = fmt.Errorf("%w: %s", ErrMissionAbandoned, abandon.reason)
		}
	} else {
		trace.Status = types.MissionComplete
		e.emit(ctx, wal.Event{Type: wal.EventMissionComplete, MissionID: run.id, Node: run.current}, true)
		e.log.Info("mission complete", "mission", run.id, "completed", len(trace.Completed()), "zones", len(trace.Zones))
	}

	if e.metrics != nil {
		e.metrics.MissionFinished(trace.Status, time.Since(began).Seconds())
	}
	telemetry.End(span, err)
	return trace, err
}

// run drives the zone loop and the return to the dock. It returns nil or an
// *abandonError.
func (e *Executor) run(ctx context.Context, run *mission, m types.Mission) error {
	if _, err := e.store.Node(run.current); err != nil {
		return &abandonError{reason: fmt.Sprintf("unknown start node %d", run.current), cause: err}
	}

	e.loadZones(ctx, run, m)

	for {
		if err := ctx.Err(); err != nil {
			return &abandonError{reason: "mission cancelled", cause: err}
		}
		v := run.queue.Next()
		if v == nil {
			break
		}
		if err := e.visitZone(ctx, run, v.Request); err != nil {
			return err
		}
	}

	return e.dock(ctx, run)
}

// loadZones queues the requests. Zones the policy skips are recorded as
// Unreachable now; repeated zone ids are ignored.
func (e *Executor) loadZones(ctx context.Context, run *mission, m types.Mission) {
	for _, req := range m.Zones {
		if req.Priority == 0 {
			req.Priority = types.PriorityMedium
		}
		queued, err := run.queue.Enqueue(req)
		if errors.Is(err, zonequeue.ErrDuplicateZone) {
			e.log.Warn("ignoring duplicate zone request", "mission", run.id, "zone", req.ZoneID)
			continue
		}
		if err != nil || queued {
			continue
		}

		entry, _ := e.store.ZoneEntry(req.ZoneID)
		run.trace.Zones = append(run.trace.Zones, types.ZoneRecord{
			ZoneID:       req.ZoneID,
			Priority:     req.Priority,
			CleaningMode: req.CleaningMode,
			EntryNode:    entry,
			Outcome:      types.ZoneUnreachable,
			Path:         []types.NodeID{run.current},
			Reason:       zonequeue.SkippedReason,
		})
		e.emit(ctx, wal.Event{
			Type: wal.EventZoneUnreachable, MissionID: run.id, ZoneID: req.ZoneID,
			Priority: req.Priority, CleaningMode: req.CleaningMode,
			Node: run.current, Target: entry, Reason: zonequeue.SkippedReason,
		}, false)
		if e.metrics != nil {
			e.metrics.ZoneFinished(types.ZoneUnreachable)
		}
	}
}

// visitZone plans to and enters one zone. Only mission-ending failures are
// returned.
func (e *Executor) visitZone(ctx context.Context, run *mission, req types.ZoneRequest) error {
	entry, err := e.store.ZoneEntry(req.ZoneID)
	if err != nil {
		e.log.Warn("zone unreachable", "mission", run.id, "zone", req.ZoneID, "reason", UnknownZoneReason)
		_ = run.queue.MarkUnreachable(req.ZoneID, UnknownZoneReason)
		run.trace.Zones = append(run.trace.Zones, types.ZoneRecord{
			ZoneID:       req.ZoneID,
			Priority:     req.Priority,
			CleaningMode: req.CleaningMode,
			Outcome:      types.ZoneUnreachable,
			Path:         []types.NodeID{run.current},
			Reason:       UnknownZoneReason,
		})
		e.emit(ctx, wal.Event{
			Type: wal.EventZoneUnreachable, MissionID: run.id, ZoneID: req.ZoneID,
			Priority: req.Priority, CleaningMode: req.CleaningMode,
			Node: run.current, Reason: UnknownZoneReason,
		}, true)
		e.zoneFinished(types.ZoneUnreachable)
		return nil
	}

	zctx, span := telemetry.StartZoneSpan(ctx, req.ZoneID, int(entry))
	rec := types.ZoneRecord{
		ZoneID:       req.ZoneID,
		Priority:     req.Priority,
		CleaningMode: req.CleaningMode,
		EntryNode:    entry,
		Path:         []types.NodeID{run.current},
	}
	e.emit(zctx, wal.Event{
		Type: wal.EventZoneStart, MissionID: run.id, ZoneID: req.ZoneID,
		Priority: req.Priority, CleaningMode: req.CleaningMode,
		Node: run.current, Target: entry,
	}, false)

	err = e.navigate(zctx, run, &rec, entry, func() {
		if _, err := run.queue.RecordAttempt(req.ZoneID); err != nil {
			e.log.Error("failed to record zone attempt", "zone", req.ZoneID, "error", err)
		}
	})

	var giveUp *giveUpError
	var abandon *abandonError
	switch {
	case err == nil:
		rec.Outcome = types.ZoneCompleted
		_ = run.queue.MarkCompleted(req.ZoneID)
		if e.cleaner != nil {
			if cerr := e.cleaner.Clean(zctx, req.ZoneID, req.CleaningMode); cerr != nil {
				rec.CleaningError = cerr.Error()
				e.log.Warn("cleaning failed", "mission", run.id, "zone", req.ZoneID, "mode", req.CleaningMode, "error", cerr)
			}
		}
		e.emit(zctx, wal.Event{
			Type: wal.EventZoneComplete, MissionID: run.id, ZoneID: req.ZoneID,
			Node: run.current, Attempt: rec.Attempts, CleaningError: rec.CleaningError,
		}, true)
		e.log.Info("zone complete", "mission", run.id, "zone", req.ZoneID, "attempts", rec.Attempts)

	case errors.As(err, &giveUp), errors.As(err, &abandon):
		reason := err.Error()
		rec.Outcome = types.ZoneUnreachable
		rec.Reason = reason
		_ = run.queue.MarkUnreachable(req.ZoneID, reason)
		e.emit(zctx, wal.Event{
			Type: wal.EventZoneUnreachable, MissionID: run.id, ZoneID: req.ZoneID,
			Node: run.current, Target: entry, Attempt: rec.Attempts, Reason: reason,
		}, true)
		e.log.Warn("zone unreachable", "mission", run.id, "zone", req.ZoneID, "attempts", rec.Attempts, "reason", reason)
	}

	run.trace.Zones = append(run.trace.Zones, rec)
	e.zoneFinished(rec.Outcome)
	telemetry.End(span, err)

	if abandon != nil {
		return abandon
	}
	return nil
}

// dock returns the robot to the dock node under the same retry protocol.
func (e *Executor) dock(ctx context.Context, run *mission) error {
	target := run.trace.Start
	if e.cfg.DockNode != nil {
		target = *e.cfg.DockNode
	} else if d, ok := e.store.Dock(); ok {
		target = d
	}

	dctx, span := telemetry.StartZoneSpan(ctx, "dock", int(target))
	rec := &types.ZoneRecord{EntryNode: target, Path: []types.NodeID{run.current}}
	run.trace.Dock = rec
	e.emit(dctx, wal.Event{Type: wal.EventDockStart, MissionID: run.id, Node: run.current, Target: target}, false)

	err := e.navigate(dctx, run, rec, target, nil)
	telemetry.End(span, err)

	var giveUp *giveUpError
	switch {
	case err == nil:
		rec.Outcome = types.ZoneCompleted
		e.emit(dctx, wal.Event{Type: wal.EventDocked, MissionID: run.id, Node: run.current, Attempt: rec.Attempts}, true)
		return nil
	case errors.As(err, &giveUp):
		return &abandonError{reason: "dock unreachable: " + giveUp.reason}
	default:
		return err
	}
}

/*
navigate moves the robot from its current node to goal.

Each attempt plans from the current node. An unreachable plan or a failed
traversal consumes the attempt; a failed traversal also counts the failure,
penalizes the edge and drops the rest of the path.

Returns nil on arrival, *giveUpError after MaxAttempts, *abandonError on
cancellation or a planner error.
*/
func (e *Executor) navigate(ctx context.Context, run *mission, rec *types.ZoneRecord, goal types.NodeID, onAttempt func()) error {
	var lastReason string

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &abandonError{reason: "mission cancelled", cause: err}
		}
		rec.Attempts = attempt
		if onAttempt != nil {
			onAttempt()
		}

		plan, err := e.planner.Plan(ctx, run.current, goal)
		planEvent := wal.Event{
			Type: wal.EventPlan, MissionID: run.id, ZoneID: rec.ZoneID,
			Node: run.current, Target: goal, Attempt: attempt,
		}
		switch {
		case errors.Is(err, planner.ErrUnreachable):
			lastReason = fmt.Sprintf("no path from %d to %d", run.current, goal)
			planEvent.Reason = lastReason
			e.emit(ctx, planEvent, false)
			e.log.Info("no path", "mission", run.id, "zone", rec.ZoneID, "from", run.current, "to", goal, "attempt", attempt)
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			planEvent.Reason = err.Error()
			e.emit(ctx, planEvent, false)
			return &abandonError{reason: "mission cancelled", cause: err}
		case err != nil:
			planEvent.Reason = err.Error()
			e.emit(ctx, planEvent, false)
			return &abandonError{reason: fmt.Sprintf("planning from %d to %d failed", run.current, goal), cause: err}
		}
		planEvent.Path = plan.Nodes
		planEvent.Value = plan.Cost
		e.emit(ctx, planEvent, false)

		failure, err := e.traversePath(ctx, run, rec, plan, attempt)
		if err != nil {
			return err
		}
		if failure == "" {
			return nil
		}
		lastReason = failure
	}

	return &giveUpError{reason: fmt.Sprintf("gave up after %d attempts: %s", e.cfg.MaxAttempts, lastReason)}
}

// traversePath walks plan edge by edge. It returns a non-empty failure
// description when an edge failed.
func (e *Executor) traversePath(ctx context.Context, run *mission, rec *types.ZoneRecord, plan *types.PathPlan, attempt int) (string, error) {
	for _, edge := range plan.Edges {
		if err := ctx.Err(); err != nil {
			return "", &abandonError{reason: "mission cancelled", cause: err}
		}

		key := edge.Key()
		tctx, span := telemetry.StartTraverseSpan(ctx, int(edge.From), int(edge.To), string(edge.Skill))
		began := time.Now()
		terr := e.runner.Execute(tctx, edge, e.cfg.TraversalTimeout)
		telemetry.End(span, terr)
		if e.metrics != nil {
			e.metrics.RecordTraversal(edge.Skill, terr == nil, time.Since(began).Seconds())
		}

		if terr == nil {
			run.current = edge.To
			rec.Path = append(rec.Path, edge.To)
			e.emit(ctx, wal.Event{
				Type: wal.EventTraverseOK, MissionID: run.id, ZoneID: rec.ZoneID,
				Node: run.current, Edge: &key, Skill: edge.Skill, Attempt: attempt,
			}, false)
			continue
		}

		run.trace.FailureCounts[key]++
		failure := types.TraversalFailure{Edge: key, Skill: edge.Skill, Attempt: attempt, Reason: terr.Error()}
		e.emit(ctx, wal.Event{
			Type: wal.EventTraverseFail, MissionID: run.id, ZoneID: rec.ZoneID,
			Node: run.current, Edge: &key, Skill: edge.Skill, Attempt: attempt, Reason: failure.Reason,
		}, false)

		amount := e.cfg.Penalty.Amount(edge)
		total, perr := e.store.ApplyPenalty(edge.From, edge.To, amount)
		if perr != nil {
			e.log.Error("failed to penalize edge", "edge", key.String(), "amount", amount, "error", perr)
		} else {
			failure.Penalty = amount
			e.emit(ctx, wal.Event{
				Type: wal.EventPenalty, MissionID: run.id, ZoneID: rec.ZoneID,
				Node: run.current, Edge: &key, Attempt: attempt, Value: amount,
			}, false)
			if e.metrics != nil {
				e.metrics.RecordPenalty(amount)
				e.metrics.SetPenalizedEdges(len(e.store.Penalties()))
			}
		}
		rec.Failures = append(rec.Failures, failure)

		e.log.Warn("traversal failed",
			"mission", run.id, "zone", rec.ZoneID, "edge", key.String(), "skill", edge.Skill,
			"attempt", attempt, "penalty_total", total, "error", terr)
		return fmt.Sprintf("traversal of %s failed: %v", key, terr), nil
	}
	return "", nil
}

// ============================================================================
// Penalty lifecycle
// ============================================================================

func (e *Executor) restorePenalties() {
	if !e.cfg.Penalty.Persist || e.snapshots == nil {
		return
	}
	n, err := e.snapshots.RestoreStore(e.store)
	if err != nil {
		e.log.Error("failed to restore penalties", "error", err)
		return
	}
	if n > 0 {
		e.log.Info("penalties restored", "edges", n)
	}
}

// finishPenalties applies the between-missions policy.
func (e *Executor) finishPenalties() {
	switch {
	case e.cfg.Penalty.Persist:
		if e.snapshots != nil {
			if err := e.snapshots.SaveStore(e.store); err != nil {
				e.log.Error("failed to save penalties", "error", err)
			}
		}
	case e.cfg.Penalty.DecayFactor > 0:
		if err := e.store.DecayPenalties(e.cfg.Penalty.DecayFactor); err != nil {
			e.log.Error("failed to decay penalties", "error", err)
		}
	default:
		e.store.ResetPenalties()
	}
	if e.metrics != nil {
		e.metrics.SetPenalizedEdges(len(e.store.Penalties()))
	}
}

// ============================================================================
// Event emission
// ============================================================================

// publishTimeout bounds one publish on the detached context.
const publishTimeout = 5 * time.Second

// emit logs the event, then publishes the stored copy. Failures are logged;
// they never change the mission outcome. Publishing runs on a context
// detached from the mission's cancellation so the terminal event of a
// cancelled mission still reaches subscribers.
func (e *Executor) emit(ctx context.Context, ev wal.Event, force bool) {
	if e.events != nil {
		stored, err := e.events.Append(ev, force)
		if err != nil {
			e.log.Error("failed to append mission event", "type", ev.Type, "mission", ev.MissionID, "error", err)
		} else {
			ev = stored
		}
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(pctx, ev); err != nil {
		e.log.Warn("failed to publish mission event", "type", ev.Type, "mission", ev.MissionID, "error", err)
	}
}

func (e *Executor) zoneFinished(outcome types.ZoneOutcome) {
	if e.metrics != nil {
		e.metrics.ZoneFinished(outcome)
	}
}
