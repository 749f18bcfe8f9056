// ============================================================================
// topo-nav CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides the topo-nav command line interface based on Cobra
//
// Command Structure:
//   topo-nav                       # Root command
//   ├── plan <start> <goal>        # Single-goal A* plan
//   ├── multi <start> <goal>...    # Greedy multi-goal plan
//   ├── locate <x> <y>             # Nearest node to a pose
//   ├── mission run                # Run a mission on the simulated robot
//   ├── graph validate             # Load, validate and summarize a graph
//   ├── graph export -o <file>     # Re-encode a graph (json|yaml|hcl)
//   ├── trace                      # Rebuild mission traces from the mission log
//   ├── serve                      # gRPC + HTTP + metrics servers
//   ├── status                     # Configuration and storage overview
//   ├── --config, -c               # Config file (default: configs/default.yaml)
//   └── --graph, -g                # Graph file, overrides the config
//
// Configuration Management:
//   defaults < YAML file < TOPONAV_* environment variables, validated on
//   load (see internal/config). The logging section configures the
//   default slog logger and the tracing section the global tracer
//   provider before any command runs; Execute flushes spans on exit.
//
// Exit Codes:
//   0  success
//   1  any error
//   2  the mission was abandoned (ExitError)
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/topo-nav/internal/config"
	"github.com/ChuLiYu/topo-nav/internal/telemetry"
)

const tracingShutdownTimeout = 5 * time.Second

// ExitError carries a process exit code up to main.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// rootOptions holds the persistent flags and the config they resolve to.
type rootOptions struct {
	configFile string
	graphFile  string

	cfg             *config.Config
	logger          *slog.Logger
	shutdownTracing telemetry.ShutdownFunc
}

// BuildCLI returns the topo-nav root command.
func BuildCLI() *cobra.Command {
	return buildCLI(&rootOptions{})
}

func buildCLI(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "topo-nav",
		Short: "topo-nav: topological navigation and failure-aware mission planning",
		Long: `topo-nav plans and executes cleaning missions over a semantic facility graph:
- A* and greedy multi-goal planning with reliability-weighted costs
- Penalize-and-replan execution with a per-zone attempt cap
- Mission log (WAL) with trace rebuild
- gRPC / HTTP surfaces with Prometheus metrics`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.Context(), cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", config.DefaultConfigFile, "config file path")
	rootCmd.PersistentFlags().StringVarP(&opts.graphFile, "graph", "g", "", "graph file (json, yaml or hcl); overrides the config")

	rootCmd.AddCommand(buildPlanCommand(opts))
	rootCmd.AddCommand(buildMultiCommand(opts))
	rootCmd.AddCommand(buildLocateCommand(opts))
	rootCmd.AddCommand(buildMissionCommand(opts))
	rootCmd.AddCommand(buildGraphCommand(opts))
	rootCmd.AddCommand(buildTraceCommand(opts))
	rootCmd.AddCommand(buildServeCommand(opts))
	rootCmd.AddCommand(buildStatusCommand(opts))

	return rootCmd
}

// load resolves the config and installs the configured logger and tracer
// provider.
func (o *rootOptions) load(ctx context.Context, logOut io.Writer) error {
	cfg, err := config.LoadFrom(o.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if o.graphFile != "" {
		cfg.Graph = o.graphFile
	}

	logger, err := cfg.Logging.NewLogger(logOut)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	slog.SetDefault(logger)

	shutdown, err := telemetry.SetupTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to configure tracing: %w", err)
	}

	o.cfg = cfg
	o.logger = logger
	o.shutdownTracing = shutdown
	return nil
}

// close flushes spans still buffered by the tracer provider.
func (o *rootOptions) close() {
	if o.shutdownTracing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
	defer cancel()
	if err := o.shutdownTracing(ctx); err != nil {
		o.logger.Warn("failed to flush traces", "error", err)
	}
	o.shutdownTracing = nil
}

func (o *rootOptions) requireGraph() error {
	if o.cfg.Graph == "" {
		return fmt.Errorf("no graph file configured (use --graph or set graph in %s)", o.configFile)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	opts := &rootOptions{}
	err := buildCLI(opts).Execute()
	opts.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var exit *ExitError
		if errors.As(err, &exit) {
			return exit.Code
		}
		return 1
	}
	return 0
}
