package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "configs/default.yaml"

// ErrInvalid marks a config that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML unmarshals the file over cfg. A missing file is not an error.
func loadYAML(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays TOPONAV_* variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Graph, "TOPONAV_GRAPH")
	setFloat64(&cfg.Planner.NominalSpeed, "TOPONAV_NOMINAL_SPEED")
	setFloat64(&cfg.Planner.HeuristicWeight, "TOPONAV_HEURISTIC_WEIGHT")
	setBool(&cfg.Planner.Cache.Enabled, "TOPONAV_PLAN_CACHE")
	setInt(&cfg.Executor.MaxAttempts, "TOPONAV_MAX_ATTEMPTS")
	setNodeID(&cfg.Executor.DockNode, "TOPONAV_DOCK_NODE")
	setDuration(&cfg.Executor.TraversalTimeout, "TOPONAV_TRAVERSAL_TIMEOUT")
	setInt(&cfg.Executor.SkillWorkers, "TOPONAV_SKILL_WORKERS")
	setFloat64(&cfg.Penalties.Increment, "TOPONAV_PENALTY_INCREMENT")
	setFloat64(&cfg.Penalties.DecayFactor, "TOPONAV_PENALTY_DECAY")
	setBool(&cfg.Penalties.Persist, "TOPONAV_PENALTY_PERSIST")
	setString(&cfg.MissionLog.Path, "TOPONAV_MISSION_LOG")
	setString(&cfg.Snapshot.Path, "TOPONAV_SNAPSHOT")
	setInt(&cfg.HTTP.Port, "TOPONAV_HTTP_PORT")
	setInt(&cfg.GRPC.Port, "TOPONAV_GRPC_PORT")
	setInt(&cfg.Metrics.Port, "TOPONAV_METRICS_PORT")
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Events.URL = v
		cfg.Events.Enabled = true
	}
	setString(&cfg.Events.Subject, "TOPONAV_EVENTS_SUBJECT")
	setString(&cfg.Logging.Level, "TOPONAV_LOG_LEVEL")
	setString(&cfg.Logging.Format, "TOPONAV_LOG_FORMAT")
	setBool(&cfg.Tracing.Enabled, "TOPONAV_TRACING")
	setString(&cfg.Tracing.Exporter, "TOPONAV_TRACING_EXPORTER")
	setString(&cfg.Tracing.Endpoint, "TOPONAV_TRACING_ENDPOINT")
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Planner.Config.Validate(); err != nil {
		return fmt.Errorf("%w: planner: %v", ErrInvalid, err)
	}
	if c.Planner.KDTreeThreshold < 0 {
		return fmt.Errorf("%w: planner.kdtree_threshold must be >= 0", ErrInvalid)
	}
	if err := c.ExecutorConfig().Validate(); err != nil {
		return fmt.Errorf("%w: executor: %v", ErrInvalid, err)
	}
	if c.Executor.SkillWorkers < 0 {
		return fmt.Errorf("%w: executor.skill_workers must be >= 0", ErrInvalid)
	}
	if c.MissionLog.Enabled() && c.MissionLog.BufferSize < 1 {
		return fmt.Errorf("%w: mission_log.buffer_size must be >= 1", ErrInvalid)
	}
	if c.Simulation.FailureRate < 0 || c.Simulation.FailureRate > 1 {
		return fmt.Errorf("%w: simulation.failure_rate must be in [0,1]", ErrInvalid)
	}
	for name, ep := range map[string]EndpointConfig{"metrics": c.Metrics, "http": c.HTTP, "grpc": c.GRPC} {
		if ep.Enabled && (ep.Port < 1 || ep.Port > 65535) {
			return fmt.Errorf("%w: %s.port must be in 1..65535, got %d", ErrInvalid, name, ep.Port)
		}
	}
	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("%w: events.nats_url is required when events are enabled", ErrInvalid)
	}
	if _, err := c.Logging.NewLogger(nil); err != nil {
		return fmt.Errorf("%w: logging: %v", ErrInvalid, err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("%w: tracing: %v", ErrInvalid, err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setNodeID(dst **types.NodeID, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			id := types.NodeID(n)
			*dst = &id
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
