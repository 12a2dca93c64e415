package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefaultCoopConfigSetsListenDefaults(t *testing.T) {
	cfg := DefaultCoopConfig("claude", []string{"claude"})
	if cfg.Listen.HTTP != ":8080" || cfg.Listen.GRPC != ":9090" {
		t.Fatalf("unexpected listen defaults: %+v", cfg.Listen)
	}
	if cfg.Stop.Mode != "allow" {
		t.Fatalf("expected default stop mode allow, got %q", cfg.Stop.Mode)
	}
}

func TestListenFieldUnmarshalsScalarToAllTransports(t *testing.T) {
	var l ListenField
	if err := yaml.Unmarshal([]byte(`":9000"`), &l); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if l.HTTP != ":9000" || l.WS != ":9000" || l.GRPC != ":9000" {
		t.Fatalf("expected scalar to populate all transports, got %+v", l)
	}
}

func TestListenFieldUnmarshalsObjectPerTransport(t *testing.T) {
	var l ListenField
	src := "http: \":8080\"\nws: \":8081\"\ngrpc: \":9090\"\n"
	if err := yaml.Unmarshal([]byte(src), &l); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if l.HTTP != ":8080" || l.WS != ":8081" || l.GRPC != ":9090" {
		t.Fatalf("unexpected fields: %+v", l)
	}
}

func TestDurationParsesScalar(t *testing.T) {
	var d Duration
	if err := yaml.Unmarshal([]byte(`"45s"`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if time.Duration(d) != 45*time.Second {
		t.Fatalf("expected 45s, got %v", time.Duration(d))
	}
}

func TestLoadCoopConfigAppliesMissingDimensionDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coop.yaml")
	if err := os.WriteFile(path, []byte("agent: claude\ncommand: [\"claude\"]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadCoopConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cols != 80 || cfg.Rows != 24 {
		t.Fatalf("expected default dimensions, got %dx%d", cfg.Cols, cfg.Rows)
	}
}

func TestLoadCoopConfigParsesStopSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coop.yaml")
	yamlSrc := `
agent: claude
command: ["claude"]
stop:
  mode: signal
  schema:
    status:
      required: true
      enum: ["done", "blocked"]
      descriptions:
        done: "Work completed"
        blocked: "Needs human input"
`
	if err := os.WriteFile(path, []byte(yamlSrc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadCoopConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	field, ok := cfg.Stop.Schema["status"]
	if !ok || !field.Required || len(field.Enum) != 2 {
		t.Fatalf("unexpected status field: %+v", field)
	}
}

func TestDiscoverCoopConfigFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg := DiscoverCoopConfig(dir, "claude", []string{"claude"})
	if cfg.Agent != "claude" {
		t.Fatalf("expected fallback default, got %+v", cfg)
	}
}
