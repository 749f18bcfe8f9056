package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/topo-nav/internal/executor"
	"github.com/ChuLiYu/topo-nav/internal/storage/wal"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

func buildMissionCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mission",
		Short: "Run cleaning missions",
	}
	cmd.AddCommand(buildMissionRunCommand(opts))
	return cmd
}

func buildMissionRunCommand(opts *rootOptions) *cobra.Command {
	var (
		start       int
		zoneFlags   []string
		missionFile string
		blocked     []string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a mission on the simulated robot",
		Long: `Run a mission on the simulated robot and print its trace.

Zones are given as id[:priority[:cleaning_mode]] or read from a YAML file:

  zones:
    - {zone_id: kitchen, priority: high, cleaning_mode: deep}
    - {zone_id: bedroom, priority: low}

Examples:
  topo-nav mission run --zone kitchen:high:deep --zone bedroom
  topo-nav mission run -f mission.yaml --block 2-3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mission, err := loadMission(missionFile, zoneFlags)
			if err != nil {
				return err
			}
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			exec, sim, err := a.newExecutor(cmd.Context())
			if err != nil {
				return err
			}
			for _, b := range blocked {
				from, to, err := parseEdge(b)
				if err != nil {
					return err
				}
				sim.Block(from, to)
			}

			startNode := types.NodeID(start)
			if start < 0 {
				dock, ok := a.store.Dock()
				if !ok {
					return errors.New("graph has no dock; use --start")
				}
				startNode = dock
			}

			trace, runErr := exec.RunMission(cmd.Context(), mission, startNode)
			if trace == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := printJSON(out, trace); err != nil {
					return err
				}
			} else {
				printTrace(out, trace)
			}
			if errors.Is(runErr, executor.ErrMissionAbandoned) {
				return &ExitError{Code: 2, Err: runErr}
			}
			return runErr
		},
	}

	cmd.Flags().IntVar(&start, "start", -1, "start node (default: the graph's dock)")
	cmd.Flags().StringArrayVarP(&zoneFlags, "zone", "z", nil, "zone as id[:priority[:cleaning_mode]] (repeatable)")
	cmd.Flags().StringVarP(&missionFile, "file", "f", "", "YAML mission file")
	cmd.Flags().StringArrayVar(&blocked, "block", nil, "make the simulated robot fail edge from-to every time (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the trace as JSON")
	return cmd
}

// loadMission merges the mission file, if any, with --zone flags.
func loadMission(path string, zoneFlags []string) (types.Mission, error) {
	var m types.Mission
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return m, fmt.Errorf("failed to read mission file: %w", err)
		}
		if err := yaml.Unmarshal(data, &m); err != nil {
			return m, fmt.Errorf("failed to parse mission file: %w", err)
		}
	}
	for _, z := range zoneFlags {
		req, err := parseZone(z)
		if err != nil {
			return m, err
		}
		m.Zones = append(m.Zones, req)
	}
	if len(m.Zones) == 0 {
		return m, errors.New("mission has no zones (use --zone or --file)")
	}
	return m, nil
}

func parseZone(s string) (types.ZoneRequest, error) {
	parts := strings.SplitN(s, ":", 3)
	req := types.ZoneRequest{ZoneID: strings.TrimSpace(parts[0]), Priority: types.PriorityMedium}
	if req.ZoneID == "" {
		return req, fmt.Errorf("invalid zone %q: empty id", s)
	}
	if len(parts) > 1 {
		p, err := types.ParsePriority(parts[1])
		if err != nil {
			return req, fmt.Errorf("invalid zone %q: %w", s, err)
		}
		req.Priority = p
	}
	if len(parts) > 2 {
		req.CleaningMode = parts[2]
	}
	return req, nil
}

func parseEdge(s string) (types.NodeID, types.NodeID, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid edge %q (want from-to)", s)
	}
	f, err := parseNode(from)
	if err != nil {
		return 0, 0, err
	}
	t, err := parseNode(to)
	if err != nil {
		return 0, 0, err
	}
	return f, t, nil
}

func buildTraceCommand(opts *rootOptions) *cobra.Command {
	var (
		logPath string
		mission string
		raw     bool
		asJSON  bool
		rotate  bool
	)

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Rebuild mission traces from the mission log",
		Long: `Rebuild mission traces from the mission log.

With --rotate the log is moved to a timestamped backup after it has been
printed, and the next mission starts a fresh log at seq 1.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if logPath == "" {
				logPath = opts.cfg.MissionLog.Path
			}
			if logPath == "" {
				return errors.New("no mission log configured (use --log or set mission_log.path)")
			}
			out := cmd.OutOrStdout()
			if err := printMissionLog(out, logPath, mission, raw, asJSON); err != nil {
				return err
			}
			if !rotate {
				return nil
			}
			backup, err := rotateMissionLog(logPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "📦 Mission log rotated to %s\n", backup)
			return nil
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "", "mission log path (default: mission_log.path)")
	cmd.Flags().StringVarP(&mission, "mission", "m", "", "only this mission id (prefix match)")
	cmd.Flags().BoolVar(&raw, "raw", false, "dump raw events instead of traces")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print traces as JSON")
	cmd.Flags().BoolVar(&rotate, "rotate", false, "archive the log after printing it")
	return cmd
}

func printMissionLog(out io.Writer, logPath, mission string, raw, asJSON bool) error {
	if raw {
		return wal.DumpWAL(logPath, out)
	}

	events, err := wal.ReadEvents(logPath)
	if err != nil {
		return err
	}
	traces, err := wal.Rebuild(events)
	if err != nil {
		return fmt.Errorf("failed to rebuild traces: %w", err)
	}
	if mission != "" {
		traces = filterTraces(traces, mission)
		if len(traces) == 0 {
			return fmt.Errorf("mission %s not found in %s", mission, logPath)
		}
	}
	if asJSON {
		return printJSON(out, traces)
	}
	for _, t := range traces {
		printTrace(out, t)
		fmt.Fprintln(out)
	}
	return nil
}

// rotateMissionLog archives the log at path and leaves an empty one behind.
func rotateMissionLog(path string) (string, error) {
	opts := wal.DefaultOptions(path)
	opts.FlushInterval = 0
	w, err := wal.Open(opts)
	if err != nil {
		return "", fmt.Errorf("failed to open mission log: %w", err)
	}
	backup, rerr := w.Rotate()
	if err := w.Close(); err != nil && rerr == nil {
		rerr = err
	}
	if rerr != nil {
		return "", fmt.Errorf("failed to rotate mission log: %w", rerr)
	}
	return backup, nil
}

func filterTraces(traces []*types.MissionTrace, prefix string) []*types.MissionTrace {
	var out []*types.MissionTrace
	for _, t := range traces {
		if strings.HasPrefix(t.MissionID, prefix) {
			out = append(out, t)
		}
	}
	return out
}

func printTrace(w io.Writer, t *types.MissionTrace) {
	icon := "🏁"
	switch t.Status {
	case types.MissionAbandoned:
		icon = "🛑"
	case types.MissionInProgress:
		icon = "⏳"
	}
	fmt.Fprintf(w, "%s Mission %s: %s\n", icon, t.MissionID, t.Status)
	fmt.Fprintf(w, "  ├─ Start: %d  Final: %d\n", t.Start, t.Final)
	if t.Reason != "" {
		fmt.Fprintf(w, "  ├─ Reason: %s\n", t.Reason)
	}

	for _, z := range t.Zones {
		fmt.Fprintf(w, "  ├─ %s %-14s [%s] attempts %d  path %s\n",
			outcomeIcon(z.Outcome), z.ZoneID, z.Priority, z.Attempts, joinIDs(z.Path))
		if z.Reason != "" {
			fmt.Fprintf(w, "  │    └─ %s\n", z.Reason)
		}
		if z.CleaningError != "" {
			fmt.Fprintf(w, "  │    └─ cleaning: %s\n", z.CleaningError)
		}
	}
	if t.Dock != nil {
		fmt.Fprintf(w, "  ├─ 🔌 dock %-9s attempts %d  path %s\n", string(t.Dock.Outcome), t.Dock.Attempts, joinIDs(t.Dock.Path))
	}

	keys := make([]types.EdgeKey, 0, len(t.FailureCounts))
	for k := range t.FailureCounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].From != keys[j].From {
			return keys[i].From < keys[j].From
		}
		return keys[i].To < keys[j].To
	})
	if len(keys) == 0 {
		fmt.Fprintln(w, "  └─ Failures: none")
		return
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s x%d", k, t.FailureCounts[k])
	}
	fmt.Fprintf(w, "  └─ Failures: %s\n", strings.Join(parts, ", "))
}

func outcomeIcon(o types.ZoneOutcome) string {
	switch o {
	case types.ZoneCompleted:
		return "✅"
	case types.ZoneUnreachable:
		return "❌"
	}
	return "⏳"
}
