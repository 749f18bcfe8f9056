// Package config holds the topo-nav configuration and its loader.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ChuLiYu/topo-nav/internal/cost"
	"github.com/ChuLiYu/topo-nav/internal/events"
	"github.com/ChuLiYu/topo-nav/internal/executor"
	"github.com/ChuLiYu/topo-nav/internal/localize"
	"github.com/ChuLiYu/topo-nav/internal/planner"
	"github.com/ChuLiYu/topo-nav/internal/storage/wal"
	"github.com/ChuLiYu/topo-nav/internal/telemetry"
)

// Config is the root configuration for every topo-nav command.
type Config struct {
	Graph      string                  `yaml:"graph"`
	Planner    PlannerConfig           `yaml:"planner"`
	Executor   ExecutorConfig          `yaml:"executor"`
	Penalties  cost.PenaltyPolicy      `yaml:"penalties"`
	MissionLog MissionLogConfig        `yaml:"mission_log"`
	Snapshot   SnapshotConfig          `yaml:"snapshot"`
	Simulation SimulationConfig        `yaml:"simulation"`
	Metrics    EndpointConfig          `yaml:"metrics"`
	HTTP       EndpointConfig          `yaml:"http"`
	GRPC       EndpointConfig          `yaml:"grpc"`
	Events     EventsConfig            `yaml:"events"`
	Logging    LoggingConfig           `yaml:"logging"`
	Tracing    telemetry.TracingConfig `yaml:"tracing"`
}

// PlannerConfig extends the planner settings with the localizer threshold.
type PlannerConfig struct {
	planner.Config  `yaml:",inline"`
	KDTreeThreshold int `yaml:"kdtree_threshold"`
}

// ExecutorConfig is the executor section; penalties live in their own section.
type ExecutorConfig struct {
	executor.Config `yaml:",inline"`
	SkillWorkers    int `yaml:"skill_workers"` // 0 runs traversals inline
}

// MissionLogConfig enables the mission WAL when Path is set.
type MissionLogConfig struct {
	wal.Options `yaml:",inline"`
}

// Enabled reports whether a mission log path is configured.
func (m MissionLogConfig) Enabled() bool { return m.Path != "" }

// SnapshotConfig locates the graph snapshot file.
type SnapshotConfig struct {
	Path string `yaml:"path"`
}

// SimulationConfig drives the simulated traversal skill.
type SimulationConfig struct {
	Seed        int64         `yaml:"seed"`
	FailureRate float64       `yaml:"failure_rate"`
	Delay       time.Duration `yaml:"delay"`
}

// EndpointConfig is a listener toggle.
type EndpointConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Addr returns ":<port>".
func (e EndpointConfig) Addr() string { return fmt.Sprintf(":%d", e.Port) }

// EventsConfig enables NATS mission events.
type EventsConfig struct {
	Enabled           bool `yaml:"enabled"`
	events.NATSConfig `yaml:",inline"`
}

// LoggingConfig selects the slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Defaults returns a config with sane defaults for every section.
func Defaults() Config {
	return Config{
		Planner: PlannerConfig{
			Config:          planner.DefaultConfig(),
			KDTreeThreshold: localize.DefaultKDTreeThreshold,
		},
		Executor:   ExecutorConfig{Config: executor.DefaultConfig()},
		Penalties:  cost.DefaultPolicy(),
		MissionLog: MissionLogConfig{Options: wal.DefaultOptions("")},
		Simulation: SimulationConfig{Seed: 1},
		Metrics:    EndpointConfig{Enabled: true, Port: 9090},
		HTTP:       EndpointConfig{Enabled: true, Port: 8080},
		GRPC:       EndpointConfig{Enabled: true, Port: 50051},
		Events: EventsConfig{
			NATSConfig: events.NATSConfig{Subject: events.DefaultSubject},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracing: telemetry.DefaultTracingConfig(),
	}
}

// ExecutorConfig returns the executor config with the penalty policy merged in.
func (c *Config) ExecutorConfig() executor.Config {
	ec := c.Executor.Config
	ec.Penalty = c.Penalties
	return ec
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// NewLogger builds a logger writing to w in the configured format.
func (l LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(l.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", l.Format)
}
