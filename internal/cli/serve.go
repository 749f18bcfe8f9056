package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ChuLiYu/topo-nav/internal/metrics"
	"github.com/ChuLiYu/topo-nav/internal/server"
	"github.com/ChuLiYu/topo-nav/internal/snapshot"
	"github.com/ChuLiYu/topo-nav/internal/storage/wal"
	"github.com/ChuLiYu/topo-nav/internal/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second
	statusTimeout   = 5 * time.Second
)

func buildServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gRPC, HTTP and metrics servers",
		Long: `Start the configured surfaces and run until SIGINT or SIGTERM:
  gRPC  toponav.v1.Navigation + grpc.health.v1      (grpc.port)
  HTTP  /healthz /metrics /v1/plan /v1/plan/multi
        /v1/locate /v1/missions                      (http.port)
  /metrics on its own port when metrics.port differs from http.port`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireGraph(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.serve(ctx)
		},
	}
	return cmd
}

func (o *rootOptions) serve(ctx context.Context) error {
	cfg := o.cfg
	if !cfg.GRPC.Enabled && !cfg.HTTP.Enabled && !cfg.Metrics.Enabled {
		return errors.New("no surface enabled (grpc, http and metrics are all disabled)")
	}

	reg := metrics.NewServerRegistry()
	a, err := newApp(cfg, o.logger, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	exec, _, err := a.newExecutor(ctx)
	if err != nil {
		return err
	}
	svc := server.NewService(a.store, a.planner, a.localizer, exec,
		server.WithLogger(o.logger), server.WithBaseContext(ctx))
	metricsHandler := metrics.HandlerFor(reg)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr())
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPC.Addr(), err)
		}
		gs := server.NewGRPCServer(svc)
		o.logger.Info("gRPC server listening", "addr", lis.Addr().String(), "service", server.ServiceName)
		g.Go(func() error { return gs.Serve(lis) })
		g.Go(func() error {
			<-ctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	if cfg.HTTP.Enabled {
		var mh http.Handler
		if cfg.Metrics.Enabled {
			mh = metricsHandler
		}
		runHTTP(ctx, g, o, "http", cfg.HTTP.Addr(), server.NewHTTPHandler(svc, mh))
	}

	if cfg.Metrics.Enabled && (!cfg.HTTP.Enabled || cfg.Metrics.Port != cfg.HTTP.Port) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		runHTTP(ctx, g, o, "metrics", cfg.Metrics.Addr(), mux)
	}

	o.logger.Info("topo-nav serving", "graph", cfg.Graph, "nodes", a.store.Len())
	err = g.Wait()
	o.logger.Info("topo-nav stopped")
	return err
}

func runHTTP(ctx context.Context, g *errgroup.Group, o *rootOptions, name, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		o.logger.Info("HTTP server listening", "server", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func buildStatusCommand(opts *rootOptions) *cobra.Command {
	var serverAddr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and storage status",
		Long: `Show configuration and storage status.

With --server the running mission of a topo-nav server is queried over
gRPC and its zone queue is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "\n╔═══════════════════════════════════════════════════════════╗")
			fmt.Fprintln(out, "║           topo-nav Status                                 ║")
			fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════╝")
			fmt.Fprintln(out)

			fmt.Fprintln(out, "📋 Configuration:")
			fmt.Fprintf(out, "  ├─ Config File:     %s\n", opts.configFile)
			fmt.Fprintf(out, "  ├─ Graph:           %s\n", orNone(cfg.Graph))
			fmt.Fprintf(out, "  ├─ Nominal Speed:   %.2f m/s\n", cfg.Planner.NominalSpeed)
			fmt.Fprintf(out, "  ├─ Max Attempts:    %d\n", cfg.Executor.MaxAttempts)
			fmt.Fprintf(out, "  ├─ Zone Policy:     %s\n", cfg.Executor.Policy)
			fmt.Fprintf(out, "  └─ Penalties:       decay %.2f, persist %t\n", cfg.Penalties.DecayFactor, cfg.Penalties.Persist)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "💾 Storage:")
			if cfg.MissionLog.Enabled() {
				fmt.Fprintf(out, "  ├─ Mission Log:     %s\n", cfg.MissionLog.Path)
				if stats, err := wal.GetWALStats(cfg.MissionLog.Path); err == nil {
					fmt.Fprintf(out, "  │  ├─ Events:       %d (seq %d..%d)\n", stats.TotalEvents, stats.FirstSeq, stats.LastSeq)
					fmt.Fprintf(out, "  │  └─ Missions:     %d\n", stats.Missions)
				} else {
					fmt.Fprintln(out, "  │  └─ No events yet")
				}
			} else {
				fmt.Fprintln(out, "  ├─ Mission Log:     ⚠️  Disabled")
			}
			if cfg.Snapshot.Path != "" {
				mgr := snapshot.NewManager(cfg.Snapshot.Path)
				fmt.Fprintf(out, "  └─ Snapshot:        %s\n", mgr.Path())
				if snap, err := mgr.Load(); err == nil {
					fmt.Fprintf(out, "     └─ Penalized edges: %d\n", len(snapshot.PenalizedEdges(snap.Graph)))
				} else {
					fmt.Fprintln(out, "     └─ Not written yet")
				}
			} else {
				fmt.Fprintln(out, "  └─ Snapshot:        ⚠️  Disabled")
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "📡 Surfaces:")
			fmt.Fprintf(out, "  ├─ gRPC:     %s\n", endpointStatus(cfg.GRPC.Enabled, fmt.Sprintf("localhost:%d", cfg.GRPC.Port)))
			fmt.Fprintf(out, "  ├─ HTTP:     %s\n", endpointStatus(cfg.HTTP.Enabled, fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port)))
			fmt.Fprintf(out, "  ├─ Metrics:  %s\n", endpointStatus(cfg.Metrics.Enabled, fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)))
			fmt.Fprintf(out, "  ├─ Events:   %s\n", endpointStatus(cfg.Events.Enabled, cfg.Events.URL))
			fmt.Fprintf(out, "  └─ Tracing:  %s\n", endpointStatus(cfg.Tracing.Enabled, tracingTarget(cfg.Tracing)))
			fmt.Fprintln(out)

			if serverAddr != "" {
				if err := printMissionStatus(cmd.Context(), out, serverAddr); err != nil {
					return err
				}
			}

			fmt.Fprintln(out, "═══════════════════════════════════════════════════════════")
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "", "gRPC address of a running server to query, e.g. localhost:50051")
	return cmd
}

func printMissionStatus(ctx context.Context, out io.Writer, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	st, err := server.NewClient(conn).MissionStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to query mission status from %s: %w", addr, err)
	}

	fmt.Fprintln(out, "🤖 Mission:")
	if !st.Running {
		fmt.Fprintln(out, "  └─ Idle")
		fmt.Fprintln(out)
		return nil
	}
	fmt.Fprintf(out, "  ├─ ID:       %s\n", st.MissionID)
	fmt.Fprintf(out, "  ├─ Zones:    %d pending, %d active, %d completed, %d unreachable\n",
		st.Counts["pending"], st.Counts["active"], st.Counts["completed"], st.Counts["unreachable"])
	for i, v := range st.Zones {
		branch := "├─"
		if i == len(st.Zones)-1 {
			branch = "└─"
		}
		fmt.Fprintf(out, "  │  %s %-12s %-11s attempts=%d\n", branch, v.Request.ZoneID, v.State, v.Attempts)
	}
	fmt.Fprintf(out, "  └─ Next:     %s\n", orNone(strings.Join(st.Pending, ", ")))
	fmt.Fprintln(out)
	return nil
}

func tracingTarget(c telemetry.TracingConfig) string {
	if strings.EqualFold(c.Exporter, telemetry.ExporterOTLP) {
		return "otlp " + c.Endpoint
	}
	return c.Exporter
}

func endpointStatus(enabled bool, where string) string {
	if !enabled {
		return "⚠️  Disabled"
	}
	return "✅ Enabled on " + where
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
