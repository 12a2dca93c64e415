package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ListenField handles YAML unmarshaling of a listen address that may be
// written as a bare string ("0.0.0.0:8080") or as a structured object
// with a distinct address per transport, following the same
// scalar-or-object convention egg.yaml's base field uses.
type ListenField struct {
	HTTP string `yaml:"http,omitempty"`
	WS   string `yaml:"ws,omitempty"`
	GRPC string `yaml:"grpc,omitempty"`
}

func (l *ListenField) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		l.HTTP = value.Value
		l.WS = value.Value
		l.GRPC = value.Value
		return nil
	}
	type plain ListenField
	return value.Decode((*plain)(l))
}

// ProfileSpec is one rotation candidate: a named credential profile with
// the environment overrides to apply when it becomes active.
type ProfileSpec struct {
	Name string            `yaml:"name"`
	Env  map[string]string `yaml:"env,omitempty"`
}

// CoopConfig is the top-level session config coopd reads at startup,
// unmarshaled the way egg.yaml is: gopkg.in/yaml.v3 onto a struct with
// custom UnmarshalYAML for union-typed fields.
type CoopConfig struct {
	Agent    string        `yaml:"agent"`
	Command  []string      `yaml:"command"`
	Cols     int           `yaml:"cols"`
	Rows     int           `yaml:"rows"`
	Listen   ListenField   `yaml:"listen"`
	Profiles []ProfileSpec `yaml:"profiles,omitempty"`

	Stop  StopConfigSpec  `yaml:"stop,omitempty"`
	Start StartConfigSpec `yaml:"start,omitempty"`

	IdleTimeout  Duration `yaml:"idle_timeout,omitempty"`
	RetryBackoff Duration `yaml:"retry_backoff,omitempty"`
}

// StopConfigSpec mirrors coopapi.StopConfig's shape for YAML loading.
type StopConfigSpec struct {
	Mode   string                   `yaml:"mode,omitempty"` // "allow" | "signal"
	Prompt string                   `yaml:"prompt,omitempty"`
	Schema map[string]StopFieldSpec `yaml:"schema,omitempty"`
}

// StopFieldSpec mirrors coopapi.StopSchemaField for YAML loading.
type StopFieldSpec struct {
	Required     bool              `yaml:"required,omitempty"`
	Enum         []string          `yaml:"enum,omitempty"`
	Description  string            `yaml:"description,omitempty"`
	Descriptions map[string]string `yaml:"descriptions,omitempty"`
}

// StartConfigSpec mirrors coopapi.StartConfig for YAML loading.
type StartConfigSpec struct {
	Text  string                     `yaml:"text,omitempty"`
	Shell []string                   `yaml:"shell,omitempty"`
	Event map[string]StartEventField `yaml:"event,omitempty"`
}

// StartEventField mirrors coopapi.StartEventConfig for YAML loading.
type StartEventField struct {
	Text  string   `yaml:"text,omitempty"`
	Shell []string `yaml:"shell,omitempty"`
}

// Duration unmarshals a YAML scalar like "30s" into a time.Duration,
// the way EggResources.CPU is documented ("duration: \"300s\"") but
// actually parsed as a typed field here rather than left as a string.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// DefaultCoopConfig returns the config used when no coop.yaml exists:
// an 80x24 PTY running the given agent command with no rotation and
// stop mode defaulting to allow (matches stop.go's StopAllow default).
func DefaultCoopConfig(agent string, command []string) *CoopConfig {
	return &CoopConfig{
		Agent:   agent,
		Command: command,
		Cols:    80,
		Rows:    24,
		Listen:  ListenField{HTTP: ":8080", WS: ":8080", GRPC: ":9090"},
		Stop:    StopConfigSpec{Mode: "allow"},
	}
}

// LoadCoopConfig reads and parses a coop.yaml file.
func LoadCoopConfig(path string) (*CoopConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read coop config: %w", err)
	}
	var cfg CoopConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse coop config: %w", err)
	}
	if cfg.Cols == 0 {
		cfg.Cols = 80
	}
	if cfg.Rows == 0 {
		cfg.Rows = 24
	}
	return &cfg, nil
}

// DiscoverCoopConfig looks for coop.yaml in cwd, falling back to a
// built-in default built from the given agent/command.
func DiscoverCoopConfig(cwd, agent string, command []string) *CoopConfig {
	path := cwd + "/coop.yaml"
	if cfg, err := LoadCoopConfig(path); err == nil {
		return cfg
	}
	return DefaultCoopConfig(agent, command)
}
