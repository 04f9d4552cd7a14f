package simulator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/greenlight-sh/greenlight/internal/controlplane"
)

// Config describes a simulated service scenario, loadable from YAML.
type Config struct {
	Target         controlplane.ServiceTarget `yaml:"target"`
	ActiveRevision string                     `yaml:"active_revision"`
	DesiredCount   int                        `yaml:"desired_count"`
	Behaviors      []BehaviorConfig           `yaml:"behaviors"`
	Health         []HealthConfig             `yaml:"health"`
}

// BehaviorConfig scripts the rollout behavior of one revision.
type BehaviorConfig struct {
	Revision string   `yaml:"revision"`
	Behavior Behavior `yaml:",inline"`
}

// HealthConfig scripts instance health for one revision.
type HealthConfig struct {
	Revision  string `yaml:"revision"`
	Healthy   int    `yaml:"healthy"`
	Unhealthy int    `yaml:"unhealthy"`
}

// LoadConfigFromFile loads a scenario configuration from a YAML file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Build constructs the scripted control plane described by the config.
func (c *Config) Build() *ControlPlane {
	cp := NewControlPlane(c.Target, controlplane.RevisionRef(c.ActiveRevision), c.DesiredCount)
	for _, b := range c.Behaviors {
		cp.SetBehavior(controlplane.RevisionRef(b.Revision), b.Behavior)
	}
	for _, h := range c.Health {
		cp.SetHealth(controlplane.RevisionRef(h.Revision), h.Healthy, h.Unhealthy)
	}
	return cp
}
