// Package server exposes planning, localization and missions over gRPC and HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ChuLiYu/topo-nav/internal/executor"
	"github.com/ChuLiYu/topo-nav/internal/graph"
	"github.com/ChuLiYu/topo-nav/internal/localize"
	"github.com/ChuLiYu/topo-nav/internal/planner"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

var (
	// ErrBadRequest marks a request that could not be decoded or is incomplete.
	ErrBadRequest = errors.New("bad request")
	// ErrMissionsDisabled is returned by RunMission when no executor is wired.
	ErrMissionsDisabled = errors.New("missions are not enabled on this server")
)

// PlanRequest asks for a path from Start to Goal.
type PlanRequest struct {
	Start types.NodeID `json:"start"`
	Goal  types.NodeID `json:"goal"`
}

// PlanResponse carries the plan, or Reachable=false when no path exists.
type PlanResponse struct {
	Reachable bool            `json:"reachable"`
	Plan      *types.PathPlan `json:"plan,omitempty"`
}

// MultiPlanRequest asks for a chained plan over Goals.
type MultiPlanRequest struct {
	Start types.NodeID   `json:"start"`
	Goals []types.NodeID `json:"goals"`
}

// LocateRequest is a pose to snap onto the graph.
type LocateRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LocateResponse is the nearest node and its distance from the pose.
type LocateResponse struct {
	Node     types.NodeID `json:"node"`
	Distance float64      `json:"distance"`
}

// MissionRequest runs the zones from Start.
type MissionRequest struct {
	Start types.NodeID        `json:"start"`
	Zones []types.ZoneRequest `json:"zones"`
}

// MissionStatusResponse is the executor's view of the running mission.
type MissionStatusResponse struct {
	Running bool `json:"running"`
	executor.MissionStatus
}

// Service is the transport-independent API shared by the gRPC and HTTP surfaces.
type Service struct {
	store     *graph.Store
	planner   *planner.Planner
	localizer *localize.Localizer
	executor  *executor.Executor
	log       *slog.Logger
	base      context.Context
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger. The default is slog.Default() at
// construction time.
func WithLogger(l *slog.Logger) ServiceOption { return func(s *Service) { s.log = l } }

// WithBaseContext bounds missions by the server's lifetime instead of the
// request's: a client that disconnects does not abandon its mission, a
// server shutdown does.
func WithBaseContext(ctx context.Context) ServiceOption {
	return func(s *Service) { s.base = ctx }
}

// NewService wires the components. exec may be nil to disable missions.
func NewService(store *graph.Store, p *planner.Planner, loc *localize.Localizer, exec *executor.Executor, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		planner:   p,
		localizer: loc,
		executor:  exec,
		log:       slog.Default(),
		base:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Plan returns the cheapest path. An unreachable goal is not an error.
func (s *Service) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	plan, err := s.planner.Plan(ctx, req.Start, req.Goal)
	if errors.Is(err, planner.ErrUnreachable) {
		return &PlanResponse{Reachable: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &PlanResponse{Reachable: true, Plan: plan}, nil
}

// PlanMulti returns the greedy chained plan over the goal set.
func (s *Service) PlanMulti(ctx context.Context, req MultiPlanRequest) (*types.MultiPlan, error) {
	if len(req.Goals) == 0 {
		return nil, fmt.Errorf("%w: goals is required", ErrBadRequest)
	}
	return s.planner.PlanMulti(ctx, req.Start, req.Goals)
}

// NearestNode snaps a pose to the closest node.
func (s *Service) NearestNode(req LocateRequest) (*LocateResponse, error) {
	pose := types.Pose{X: req.X, Y: req.Y}
	id, err := s.localizer.NearestNode(pose)
	if err != nil {
		return nil, err
	}
	n, err := s.store.Node(id)
	if err != nil {
		return nil, err
	}
	return &LocateResponse{Node: id, Distance: n.Pose.DistanceTo(pose)}, nil
}

// RunMission executes a mission synchronously. An abandoned mission is
// reported through the trace status, not as an error.
//
// The mission keeps the request's values but not its cancellation: it is
// cancelled only when the base context ends.
func (s *Service) RunMission(ctx context.Context, req MissionRequest) (*types.MissionTrace, error) {
	if s.executor == nil {
		return nil, ErrMissionsDisabled
	}
	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	trace, err := s.executor.RunMission(mctx, types.Mission{Zones: req.Zones}, req.Start)
	if err != nil && trace == nil {
		return nil, err
	}
	if err != nil {
		s.log.Warn("mission abandoned", "mission", trace.MissionID, "reason", trace.Reason)
	}
	return trace, nil
}

// Status reports the running mission and its zone queue, if any.
func (s *Service) Status() MissionStatusResponse {
	if s.executor == nil {
		return MissionStatusResponse{}
	}
	st, ok := s.executor.Status()
	return MissionStatusResponse{Running: ok, MissionStatus: st}
}
