// Package config loads the daemon and CLI configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/greenlight-sh/greenlight/internal/controlplane"
	"github.com/greenlight-sh/greenlight/internal/deploy"
	"github.com/greenlight-sh/greenlight/internal/health"
	"github.com/greenlight-sh/greenlight/internal/rollout"
)

// Driver names accepted in the control_plane and ledger sections.
const (
	ControlPlaneECS       = "ecs"
	ControlPlaneSimulator = "simulator"

	LedgerSQLite = "sqlite"
	LedgerMemory = "memory"
)

// Config is the top-level configuration shared by greenlightd and the CLI.
type Config struct {
	ListenAddr   string           `yaml:"listen_addr"`
	ControlPlane ControlPlaneSpec `yaml:"control_plane"`
	Ledger       LedgerSpec       `yaml:"ledger"`
	Rollout      RolloutSpec      `yaml:"rollout"`
}

// ControlPlaneSpec selects and configures the control plane backend.
type ControlPlaneSpec struct {
	Driver string `yaml:"driver"`
	// Region applies to the ecs driver.
	Region string `yaml:"region"`
	// Scenario is the simulator driver's YAML scenario file.
	Scenario string `yaml:"scenario"`
}

// LedgerSpec selects and configures the deployment ledger backend.
type LedgerSpec struct {
	Driver string `yaml:"driver"`
	// DSN applies to the sqlite driver, e.g. "file:greenlight.db".
	DSN string `yaml:"dsn"`
}

// RolloutSpec carries the rollout defaults applied to every deployment that
// does not override them per request.
type RolloutSpec struct {
	PollInterval                 Duration `yaml:"poll_interval"`
	MaxWait                      Duration `yaml:"max_wait"`
	GracePeriod                  Duration `yaml:"grace_period"`
	RegisterTimeout              Duration `yaml:"register_timeout"`
	UpdateTimeout                Duration `yaml:"update_timeout"`
	MinHealthyPercent            int      `yaml:"min_healthy_percent"`
	MaxPercent                   int      `yaml:"max_percent"`
	RollbackBelowHealthyFraction float64  `yaml:"rollback_below_healthy_fraction"`
}

// Capacity returns the configured capacity bounds.
func (r RolloutSpec) Capacity() controlplane.CapacityBounds {
	return controlplane.CapacityBounds{MinPercent: r.MinHealthyPercent, MaxPercent: r.MaxPercent}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		ControlPlane: ControlPlaneSpec{
			Driver: ControlPlaneECS,
			Region: "us-east-1",
		},
		Ledger: LedgerSpec{
			Driver: LedgerSQLite,
			DSN:    "file:greenlight.db",
		},
		Rollout: RolloutSpec{
			PollInterval:                 Duration(rollout.DefaultPollInterval),
			MaxWait:                      Duration(rollout.DefaultMaxWait),
			GracePeriod:                  Duration(health.DefaultGracePeriod),
			RegisterTimeout:              Duration(deploy.DefaultMutationTimeout),
			UpdateTimeout:                Duration(deploy.DefaultMutationTimeout),
			MinHealthyPercent:            controlplane.DefaultCapacityBounds.MinPercent,
			MaxPercent:                   controlplane.DefaultCapacityBounds.MaxPercent,
			RollbackBelowHealthyFraction: 0,
		},
	}
}

// LoadFromFile loads configuration from a YAML file, filling unset fields
// from Default.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects unknown drivers and nonsensical rollout settings.
func (c *Config) Validate() error {
	switch c.ControlPlane.Driver {
	case ControlPlaneECS, ControlPlaneSimulator:
	default:
		return fmt.Errorf("unknown control plane driver %q", c.ControlPlane.Driver)
	}
	switch c.Ledger.Driver {
	case LedgerSQLite, LedgerMemory:
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	if c.ControlPlane.Driver == ControlPlaneSimulator && c.ControlPlane.Scenario == "" {
		return fmt.Errorf("simulator control plane needs a scenario file")
	}
	if c.Rollout.PollInterval <= 0 || c.Rollout.MaxWait <= 0 {
		return fmt.Errorf("poll_interval and max_wait must be positive")
	}
	if f := c.Rollout.RollbackBelowHealthyFraction; f < 0 || f > 1 {
		return fmt.Errorf("rollback_below_healthy_fraction must be in [0,1], got %v", f)
	}
	return nil
}

// Duration is a time.Duration that unmarshals from YAML strings like "15s".
type Duration time.Duration

func (d Duration) Value() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
