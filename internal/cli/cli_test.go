package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/ChuLiYu/topo-nav/internal/graphfile"
	"github.com/ChuLiYu/topo-nav/internal/localize"
	"github.com/ChuLiYu/topo-nav/internal/planner"
	"github.com/ChuLiYu/topo-nav/internal/server"
	"github.com/ChuLiYu/topo-nav/internal/storage/wal"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

// ============================================================================
// Test Helpers
// ============================================================================

// writeConfig writes a config pointing at the example house graph with a
// deterministic, failure-free simulated robot and returns its path and the
// mission log path.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	t.Setenv("NATS_URL", "")

	graphPath, err := filepath.Abs("../../examples/house.hcl")
	require.NoError(t, err)

	dir := t.TempDir()
	logPath := filepath.Join(dir, "missions.wal")
	content := fmt.Sprintf(`
graph: %s
executor:
  max_attempts: 3
  skill_workers: 2
mission_log:
  path: %s
  buffer_size: 16
snapshot:
  path: %s
simulation:
  seed: 7
  failure_rate: 0
  delay: 0s
logging:
  level: error
`, graphPath, logPath, filepath.Join(dir, "graph.snapshot.json"))

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return cfgPath, logPath
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// ============================================================================
// Command Tree
// ============================================================================

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "topo-nav", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"plan", "multi", "locate", "mission", "graph", "trace", "serve", "status"} {
		assert.True(t, names[want], "missing %q command", want)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)

	graphFlag := cmd.PersistentFlags().Lookup("graph")
	require.NotNil(t, graphFlag)
	assert.Equal(t, "g", graphFlag.Shorthand)
}

func TestMissionRunFlags(t *testing.T) {
	cmd := buildMissionRunCommand(&rootOptions{})

	start := cmd.Flags().Lookup("start")
	require.NotNil(t, start)
	assert.Equal(t, "-1", start.DefValue)

	zone := cmd.Flags().Lookup("zone")
	require.NotNil(t, zone)
	assert.Equal(t, "z", zone.Shorthand)

	file := cmd.Flags().Lookup("file")
	require.NotNil(t, file)
	assert.Equal(t, "f", file.Shorthand)

	assert.NotNil(t, cmd.Flags().Lookup("block"))
	assert.NotNil(t, cmd.Flags().Lookup("json"))
}

// ============================================================================
// Argument Parsing
// ============================================================================

func TestParseZone(t *testing.T) {
	tests := []struct {
		in      string
		want    types.ZoneRequest
		wantErr bool
	}{
		{in: "kitchen", want: types.ZoneRequest{ZoneID: "kitchen", Priority: types.PriorityMedium}},
		{in: "kitchen:high", want: types.ZoneRequest{ZoneID: "kitchen", Priority: types.PriorityHigh}},
		{in: "bedroom:low:deep", want: types.ZoneRequest{ZoneID: "bedroom", Priority: types.PriorityLow, CleaningMode: "deep"}},
		{in: "hall::spot", want: types.ZoneRequest{ZoneID: "hall", Priority: types.PriorityMedium, CleaningMode: "spot"}},
		{in: "", wantErr: true},
		{in: ":high", wantErr: true},
		{in: "kitchen:urgent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseZone(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEdge(t *testing.T) {
	from, to, err := parseEdge("2-3")
	require.NoError(t, err)
	assert.Equal(t, types.NodeID(2), from)
	assert.Equal(t, types.NodeID(3), to)

	for _, bad := range []string{"23", "a-3", "2-", "-3"} {
		_, _, err := parseEdge(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadMission(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mission.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
zones:
  - {zone_id: kitchen, priority: high, cleaning_mode: deep}
  - {zone_id: bedroom, priority: low}
`), 0o644))

	m, err := loadMission(path, []string{"hall"})
	require.NoError(t, err)
	require.Len(t, m.Zones, 3)
	assert.Equal(t, "kitchen", m.Zones[0].ZoneID)
	assert.Equal(t, types.PriorityHigh, m.Zones[0].Priority)
	assert.Equal(t, "deep", m.Zones[0].CleaningMode)
	assert.Equal(t, types.PriorityLow, m.Zones[1].Priority)
	assert.Equal(t, "hall", m.Zones[2].ZoneID)

	_, err = loadMission("", nil)
	assert.ErrorContains(t, err, "no zones")

	_, err = loadMission(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorContains(t, err, "failed to read mission file")
}

func TestJoinIDs(t *testing.T) {
	assert.Equal(t, "-", joinIDs(nil))
	assert.Equal(t, "1 -> 2 -> 3", joinIDs([]types.NodeID{1, 2, 3}))
}

func TestExitError(t *testing.T) {
	inner := errors.New("mission abandoned")
	err := fmt.Errorf("run: %w", &ExitError{Code: 2, Err: inner})

	var exit *ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 2, exit.Code)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "mission abandoned", exit.Error())
}

// ============================================================================
// Planning Commands
// ============================================================================

func TestPlanCommand(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := runCLI(t, "-c", cfgPath, "plan", "1", "4", "--json")
	require.NoError(t, err)

	var resp struct {
		Reachable bool           `json:"reachable"`
		Plan      types.PathPlan `json:"plan"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Reachable)
	assert.Equal(t, []types.NodeID{1, 2, 3, 4}, resp.Plan.Nodes)
	assert.InDelta(t, 11.0, resp.Plan.Distance, 1e-9)

	out, err = runCLI(t, "-c", cfgPath, "plan", "1", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "Path: 1 -> 2 -> 3 -> 4")
}

func TestPlanCommand_Errors(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, err := runCLI(t, "-c", cfgPath, "plan", "1", "x")
	assert.ErrorContains(t, err, "invalid node id")

	_, err = runCLI(t, "-c", cfgPath, "plan", "1")
	assert.Error(t, err)

	_, err = runCLI(t, "-c", cfgPath, "plan", "1", "99")
	assert.Error(t, err)

	_, err = runCLI(t, "-c", cfgPath, "-g", filepath.Join(t.TempDir(), "missing.hcl"), "plan", "1", "4")
	assert.Error(t, err)
}

func TestMultiCommand(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := runCLI(t, "-c", cfgPath, "multi", "1", "4", "5", "--json")
	require.NoError(t, err)

	var multi types.MultiPlan
	require.NoError(t, json.Unmarshal([]byte(out), &multi))
	assert.ElementsMatch(t, []types.NodeID{4, 5}, multi.Visits)
	assert.Empty(t, multi.Unreachable)
	assert.Equal(t, types.NodeID(1), multi.Plan.Nodes[0])
}

func TestLocateCommand(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := runCLI(t, "-c", cfgPath, "locate", "6.9", "0.2")
	require.NoError(t, err)
	assert.Contains(t, out, "Node 3")
	assert.Contains(t, out, `zone "living_room"`)

	_, err = runCLI(t, "-c", cfgPath, "locate", "x", "0")
	assert.ErrorContains(t, err, "invalid x")
}

// ============================================================================
// Missions and Traces
// ============================================================================

func TestMissionRunAndTrace(t *testing.T) {
	cfgPath, logPath := writeConfig(t)

	out, err := runCLI(t, "-c", cfgPath, "mission", "run", "-z", "kitchen:high", "-z", "bedroom", "--json")
	require.NoError(t, err)

	var trace types.MissionTrace
	require.NoError(t, json.Unmarshal([]byte(out), &trace))
	assert.Equal(t, types.MissionComplete, trace.Status)
	assert.Equal(t, types.NodeID(1), trace.Start)
	assert.Equal(t, types.NodeID(1), trace.Final)
	assert.Equal(t, []string{"kitchen", "bedroom"}, trace.Completed())

	out, err = runCLI(t, "-c", cfgPath, "trace", "--json")
	require.NoError(t, err)

	var traces []types.MissionTrace
	require.NoError(t, json.Unmarshal([]byte(out), &traces))
	require.Len(t, traces, 1)
	assert.Equal(t, trace.MissionID, traces[0].MissionID)
	assert.Equal(t, trace.Status, traces[0].Status)
	assert.Equal(t, trace.Completed(), traces[0].Completed())

	out, err = runCLI(t, "-c", cfgPath, "trace", "-m", trace.MissionID[:8])
	require.NoError(t, err)
	assert.Contains(t, out, trace.MissionID)

	_, err = runCLI(t, "-c", cfgPath, "trace", "-m", "no-such-mission")
	assert.ErrorContains(t, err, "not found")

	out, err = runCLI(t, "-c", cfgPath, "trace", "--raw", "--log", logPath)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestTrace_RotateArchivesLog(t *testing.T) {
	cfgPath, logPath := writeConfig(t)

	_, err := runCLI(t, "-c", cfgPath, "mission", "run", "-z", "kitchen", "--json")
	require.NoError(t, err)

	out, err := runCLI(t, "-c", cfgPath, "trace", "--rotate")
	require.NoError(t, err)
	assert.Contains(t, out, "Mission log rotated to")

	backups, err := filepath.Glob(logPath + ".*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	events, err := wal.ReadEvents(backups[0])
	require.NoError(t, err)
	assert.Len(t, wal.MissionIDs(events), 1)

	n, err := wal.CountEvents(logPath)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The next mission starts the fresh log at seq 1.
	_, err = runCLI(t, "-c", cfgPath, "mission", "run", "-z", "bedroom", "--json")
	require.NoError(t, err)
	events, err = wal.ReadEvents(logPath)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, uint64(1), events[0].Seq)
}

func TestMissionRun_BlockedEdgeMarksZoneUnreachable(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	// 2->3 is the only way into the living room and the kitchen.
	out, err := runCLI(t, "-c", cfgPath, "mission", "run", "-z", "kitchen", "-z", "bedroom", "--block", "2-3", "--json")
	require.NoError(t, err)

	var trace types.MissionTrace
	require.NoError(t, json.Unmarshal([]byte(out), &trace))
	assert.Equal(t, types.MissionComplete, trace.Status)
	require.Len(t, trace.Zones, 2)
	assert.Equal(t, types.ZoneUnreachable, trace.Zones[0].Outcome)
	assert.Equal(t, 3, trace.Zones[0].Attempts)
	assert.Equal(t, types.ZoneCompleted, trace.Zones[1].Outcome)
	assert.Equal(t, 3, trace.FailureCounts[types.EdgeKey{From: 2, To: 3}])
}

func TestMissionRun_AbandonedExitCode(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := runCLI(t, "-c", cfgPath, "mission", "run", "--start", "99", "-z", "kitchen")
	require.Error(t, err)

	var exit *ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 2, exit.Code)
	assert.Contains(t, out, string(types.MissionAbandoned))
}

func TestMissionRun_NoZones(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, err := runCLI(t, "-c", cfgPath, "mission", "run")
	assert.ErrorContains(t, err, "no zones")
}

// ============================================================================
// Graph Commands
// ============================================================================

func TestGraphValidate(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := runCLI(t, "-c", cfgPath, "graph", "validate", "--strict")
	require.NoError(t, err)
	assert.Contains(t, out, "Nodes: 6")
	assert.Contains(t, out, "Dock:  1")
	assert.Contains(t, out, "Zones: 5")
	assert.NotContains(t, out, "unreachable")
}

func TestGraphExport(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	dir := t.TempDir()

	for _, name := range []string{"house.json", "house.yaml", "house.hcl"} {
		t.Run(name, func(t *testing.T) {
			target := filepath.Join(dir, name)
			out, err := runCLI(t, "-c", cfgPath, "graph", "export", "-o", target)
			require.NoError(t, err)
			assert.Contains(t, out, "Wrote "+target)

			store, err := graphfile.LoadStore(target)
			require.NoError(t, err)
			assert.Equal(t, 6, store.Len())
			dock, ok := store.Dock()
			assert.True(t, ok)
			assert.Equal(t, types.NodeID(1), dock)
		})
	}

	_, err := runCLI(t, "-c", cfgPath, "graph", "export")
	assert.ErrorContains(t, err, "nothing to do")

	out, err := runCLI(t, "-c", cfgPath, "graph", "export", "--snapshot")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote snapshot")
}

// ============================================================================
// Status
// ============================================================================

func TestStatusCommand(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := runCLI(t, "-c", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "topo-nav Status")
	assert.Contains(t, out, "Mission Log")
	assert.Contains(t, out, "No events yet")
	assert.Contains(t, out, "Not written yet")
	assert.Contains(t, out, "Events:   ⚠️  Disabled")
}

func TestStatusCommand_QueriesServer(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	graphPath, err := filepath.Abs("../../examples/house.hcl")
	require.NoError(t, err)
	store, err := graphfile.LoadStore(graphPath)
	require.NoError(t, err)
	p, err := planner.New(store, planner.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(p.Close)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := server.NewGRPCServer(server.NewService(store, p, localize.New(store, 0), nil))
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	out, err := runCLI(t, "-c", cfgPath, "status", "--server", lis.Addr().String())
	require.NoError(t, err)
	assert.Contains(t, out, "Mission:")
	assert.Contains(t, out, "Idle")
	assert.Contains(t, out, "Tracing:  ⚠️  Disabled")
}

func TestMissionRun_TracingLogsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfgPath, _ := writeConfig(t)
	f, err := os.OpenFile(cfgPath, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("tracing:\n  enabled: true\n  exporter: log\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	t.Setenv("TOPONAV_LOG_LEVEL", "debug")

	opts := &rootOptions{}
	cmd := buildCLI(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"-c", cfgPath, "mission", "run", "-z", "kitchen", "--json"})
	require.NoError(t, cmd.Execute())
	opts.close()

	assert.Contains(t, errOut.String(), "span=mission")
	assert.Contains(t, errOut.String(), "span=traverse")
}

func TestServe_NoSurfaces(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	opts := &rootOptions{configFile: cfgPath}
	require.NoError(t, opts.load(t.Context(), &bytes.Buffer{}))
	opts.cfg.GRPC.Enabled = false
	opts.cfg.HTTP.Enabled = false
	opts.cfg.Metrics.Enabled = false

	err := opts.serve(t.Context())
	assert.ErrorContains(t, err, "no surface enabled")
}
