package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentDefinition describes one worker entry in configs/agents.yaml.
// The file carries declarative defaults (identity, cadence, enablement)
// that override the compiled-in ones without touching config.yaml.
type AgentDefinition struct {
	Name         string                 `yaml:"name"`
	Type         string                 `yaml:"type"`
	Enabled      *bool                  `yaml:"enabled"`
	StepInterval string                 `yaml:"step_interval"` // Go duration string, e.g. "30s"
	Config       map[string]interface{} `yaml:"config"`
}

// IsEnabled defaults to true when the field is omitted.
func (d AgentDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Interval parses the step interval, falling back when absent or invalid.
func (d AgentDefinition) Interval(fallback time.Duration) time.Duration {
	if d.StepInterval == "" {
		return fallback
	}
	iv, err := time.ParseDuration(d.StepInterval)
	if err != nil || iv <= 0 {
		return fallback
	}
	return iv
}

// agentsFile is the on-disk schema of configs/agents.yaml.
type agentsFile struct {
	Agents map[string]AgentDefinition `yaml:"agents"`
}

// LoadAgentDefinitions reads declarative worker defaults from a YAML file.
// A missing file is not an error; workers fall back to config.yaml sections.
func LoadAgentDefinitions(path string) (map[string]AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]AgentDefinition{}, nil
		}
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}

	var file agentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agents file: %w", err)
	}

	// Map keys double as names when the entry omits one
	for key, def := range file.Agents {
		if def.Name == "" {
			def.Name = key
			file.Agents[key] = def
		}
	}

	return file.Agents, nil
}
