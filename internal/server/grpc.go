package server

// ============================================================================
// gRPC surface
// Service: toponav.v1.Navigation
//
// Every method takes and returns a google.protobuf.Struct whose fields are
// the JSON form of the request and response types in service.go.
// ============================================================================

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/topo-nav/internal/executor"
	"github.com/ChuLiYu/topo-nav/internal/graph"
	"github.com/ChuLiYu/topo-nav/internal/localize"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "toponav.v1.Navigation"

// NavigationServer is the server API of toponav.v1.Navigation.
type NavigationServer interface {
	Plan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PlanMulti(context.Context, *structpb.Struct) (*structpb.Struct, error)
	NearestNode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunMission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MissionStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// NavigationServiceDesc describes toponav.v1.Navigation for grpc.Server.RegisterService.
var NavigationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NavigationServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Plan", NavigationServer.Plan),
		unaryMethod("PlanMulti", NavigationServer.PlanMulti),
		unaryMethod("NearestNode", NavigationServer.NearestNode),
		unaryMethod("RunMission", NavigationServer.RunMission),
		unaryMethod("MissionStatus", NavigationServer.MissionStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "toponav/v1/navigation.proto",
}

type structCall func(NavigationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call structCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(NavigationServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(NavigationServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// RegisterNavigationServer registers srv on s.
func RegisterNavigationServer(s grpc.ServiceRegistrar, srv NavigationServer) {
	s.RegisterService(&NavigationServiceDesc, srv)
}

// ============================================================================
// Server side
// ============================================================================

type grpcNavigation struct {
	svc *Service
}

// NewGRPCServer returns a grpc.Server with the navigation and health
// services registered. The health service reports SERVING for both the
// server and ServiceName.
func NewGRPCServer(svc *Service, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(loggingInterceptor)}, opts...)
	s := grpc.NewServer(opts...)
	RegisterNavigationServer(s, &grpcNavigation{svc: svc})

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s
}

func (g *grpcNavigation) Plan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PlanRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	resp, err := g.svc.Plan(ctx, req)
	return reply(resp, err)
}

func (g *grpcNavigation) PlanMulti(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req MultiPlanRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	resp, err := g.svc.PlanMulti(ctx, req)
	return reply(resp, err)
}

func (g *grpcNavigation) NearestNode(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req LocateRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	resp, err := g.svc.NearestNode(req)
	return reply(resp, err)
}

func (g *grpcNavigation) RunMission(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req MissionRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	resp, err := g.svc.RunMission(ctx, req)
	return reply(resp, err)
}

func (g *grpcNavigation) MissionStatus(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return reply(g.svc.Status(), nil)
}

func reply(v any, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, grpcError(err)
	}
	out, err := toStruct(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// grpcError maps domain errors onto status codes.
func grpcError(err error) error {
	switch {
	case errors.Is(err, ErrBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, graph.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, localize.ErrEmptyGraph):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, executor.ErrMissionInProgress):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrMissionsDisabled):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	began := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		slog.Default().Warn("rpc failed", "method", info.FullMethod, "code", status.Code(err), "duration", time.Since(began), "error", err)
	} else {
		slog.Default().Debug("rpc served", "method", info.FullMethod, "duration", time.Since(began))
	}
	return resp, err
}

// ============================================================================
// Struct bridging
// ============================================================================

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(in *structpb.Struct, v any) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// ============================================================================
// Client side
// ============================================================================

// Client calls toponav.v1.Navigation over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := toStruct(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return err
	}
	if err := fromStruct(out, resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Plan calls Navigation/Plan.
func (c *Client) Plan(ctx context.Context, start, goal types.NodeID) (*PlanResponse, error) {
	var resp PlanResponse
	if err := c.invoke(ctx, "Plan", PlanRequest{Start: start, Goal: goal}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PlanMulti calls Navigation/PlanMulti.
func (c *Client) PlanMulti(ctx context.Context, start types.NodeID, goals []types.NodeID) (*types.MultiPlan, error) {
	var resp types.MultiPlan
	if err := c.invoke(ctx, "PlanMulti", MultiPlanRequest{Start: start, Goals: goals}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NearestNode calls Navigation/NearestNode.
func (c *Client) NearestNode(ctx context.Context, x, y float64) (*LocateResponse, error) {
	var resp LocateResponse
	if err := c.invoke(ctx, "NearestNode", LocateRequest{X: x, Y: y}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunMission calls Navigation/RunMission and waits for the trace.
func (c *Client) RunMission(ctx context.Context, start types.NodeID, zones []types.ZoneRequest) (*types.MissionTrace, error) {
	var resp types.MissionTrace
	if err := c.invoke(ctx, "RunMission", MissionRequest{Start: start, Zones: zones}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MissionStatus calls Navigation/MissionStatus.
func (c *Client) MissionStatus(ctx context.Context) (*MissionStatusResponse, error) {
	var resp MissionStatusResponse
	if err := c.invoke(ctx, "MissionStatus", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
