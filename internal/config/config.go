// Package config handles reading and writing the simlab YAML configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"simlab/pkg/model"
)

// Config is the top-level structure shared by the master and worker binaries.
type Config struct {
	Engine    EngineConfig     `yaml:"engine"`
	Transport TransportConfig  `yaml:"transport"`
	Discovery DiscoveryConfig  `yaml:"discovery"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Log       LogConfig        `yaml:"log"`
	Resources []ResourceConfig `yaml:"resources"`
	Worker    WorkerConfig     `yaml:"worker"`
}

// EngineConfig controls the scheduler loop and node workers.
type EngineConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`
	LockRetryInterval time.Duration `yaml:"lock_retry_interval"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`    // 0 = wait forever
	LockAttemptLimit  int           `yaml:"lock_attempt_limit"` // 0 = retry forever
}

// TransportConfig holds the ZeroMQ endpoints the master binds.
type TransportConfig struct {
	Submission        string        `yaml:"submission"`
	Registration      string        `yaml:"registration"`
	Telemetry         string        `yaml:"telemetry"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	RelayPrefix       string        `yaml:"relay_prefix"`
}

// DiscoveryConfig enables etcd-based agent discovery when endpoints are set.
type DiscoveryConfig struct {
	EtcdEndpoints []string      `yaml:"etcd_endpoints"`
	LeaseTTL      time.Duration `yaml:"lease_ttl"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

// Enabled reports whether any etcd endpoint is configured.
func (d DiscoveryConfig) Enabled() bool {
	return len(d.EtcdEndpoints) > 0
}

// MetricsConfig controls the HTTP status server. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level       string `yaml:"level"` // debug | info | warn | error
	Development bool   `yaml:"development"`
}

// ResourceConfig is a resource registered by the master at boot.
type ResourceConfig struct {
	ID       string         `yaml:"id"`
	Features map[string]any `yaml:"features"`
}

// WorkerConfig configures the reference agent.
type WorkerConfig struct {
	ID         string         `yaml:"id"`          // generated when empty
	Listen     string         `yaml:"listen"`      // command socket bind address
	Advertise  string         `yaml:"advertise"`   // addr_external announced to the master
	Handler    string         `yaml:"handler"`     // "echo" | "docker"
	Image      string         `yaml:"image"`       // docker handler image
	Reannounce time.Duration  `yaml:"reannounce"`  // periodic re-announce, 0 = heartbeat only
	Features   map[string]any `yaml:"features"`
}

// ReadConfig reads the config file at path on top of DefaultConfig.
// Returns an error if the file is not found or YAML is malformed.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads path, or returns DefaultConfig when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	return ReadConfig(path)
}

// WriteConfig writes cfg to path, creating parent directories as needed.
func WriteConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// DefaultConfig returns a Config populated with the engine's stock settings.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			TickInterval:      250 * time.Millisecond,
			LockRetryInterval: time.Second,
		},
		Transport: TransportConfig{
			Submission:        "tcp://0.0.0.0:5560",
			Registration:      "tcp://0.0.0.0:5561",
			Telemetry:         "tcp://0.0.0.0:5562",
			TelemetryInterval: 5 * time.Second,
			HeartbeatInterval: 60 * time.Second,
			RelayPrefix:       "inproc://agents/",
		},
		Discovery: DiscoveryConfig{
			LeaseTTL:    10 * time.Second,
			DialTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Resources: []ResourceConfig{
			{ID: "group-0", Features: map[string]any{"variant": "group", "name": "0"}},
		},
		Worker: WorkerConfig{
			Listen:     "tcp://0.0.0.0:5570",
			Advertise:  "tcp://127.0.0.1:5570",
			Handler:    "echo",
			Image:      "alpine:3.19",
			Reannounce: 30 * time.Second,
		},
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if c.Engine.LockRetryInterval <= 0 {
		return fmt.Errorf("engine.lock_retry_interval must be positive")
	}
	if c.Engine.CommandTimeout < 0 || c.Engine.LockAttemptLimit < 0 {
		return fmt.Errorf("engine.command_timeout and engine.lock_attempt_limit cannot be negative")
	}
	if c.Transport.TelemetryInterval <= 0 || c.Transport.HeartbeatInterval <= 0 {
		return fmt.Errorf("transport intervals must be positive")
	}
	if c.Discovery.Enabled() && c.Discovery.LeaseTTL < time.Second {
		return fmt.Errorf("discovery.lease_ttl must be at least 1s")
	}
	return nil
}

// StaticResources converts the boot-time resources into model resources.
// Features pass through JSON so numbers compare the same way as in submitted jobs.
func (c *Config) StaticResources() ([]*model.Resource, error) {
	out := make([]*model.Resource, 0, len(c.Resources))
	for _, rc := range c.Resources {
		res, err := toResource(rc.ID, rc.Features)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// WorkerResource builds the resource a worker announces for itself.
func (c *Config) WorkerResource(id string) (*model.Resource, error) {
	features := make(map[string]any, len(c.Worker.Features)+2)
	for k, v := range c.Worker.Features {
		features[k] = v
	}
	features[model.FeatureVariant] = model.VariantAgent
	features[model.FeatureAddrExternal] = c.Worker.Advertise
	return toResource(id, features)
}

func toResource(id string, features map[string]any) (*model.Resource, error) {
	raw, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("encoding features of %s: %w", id, err)
	}
	res := &model.Resource{ID: model.ResourceID(id)}
	if err := json.Unmarshal(raw, &res.Features); err != nil {
		return nil, fmt.Errorf("decoding features of %s: %w", id, err)
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}
