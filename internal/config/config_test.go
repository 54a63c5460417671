package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "moodlens.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no moodlens.yaml around

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Inference.ThrottleInterval != 5 {
		t.Errorf("Default interval = %d, want 5", cfg.Inference.ThrottleInterval)
	}
	if cfg.Inference.Backend != BackendPython {
		t.Errorf("Default backend = %q", cfg.Inference.Backend)
	}
	if !cfg.Override.Enabled || cfg.Override.From != "sad" || cfg.Override.To != "happy" || cfg.Override.Below != 60 {
		t.Errorf("Default override = %+v", cfg.Override)
	}
	if cfg.Camera.OpenTimeout != 5*time.Second {
		t.Errorf("Default open timeout = %v", cfg.Camera.OpenTimeout)
	}
	if cfg.Inference.Worker.ReadTimeout != 10*time.Second {
		t.Errorf("Default worker timeout = %v", cfg.Inference.Worker.ReadTimeout)
	}
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, `
inference:
  throttle_interval: 3
  backend: http
  http:
    url: http://localhost:5005
override:
  enabled: false
camera:
  index: 2
`)
	t.Setenv("MOODLENS_CAMERA_INDEX", "4")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("interval", 0, "")
	if err := flags.Parse([]string{"--interval", "7"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Inference.ThrottleInterval != 7 {
		t.Errorf("Flag should win over file: interval = %d", cfg.Inference.ThrottleInterval)
	}
	if cfg.Camera.Index != 4 {
		t.Errorf("Env should win over file: camera index = %d", cfg.Camera.Index)
	}
	if cfg.Override.Enabled {
		t.Error("Override should be disabled by the file")
	}
	if cfg.Inference.HTTP.URL != "http://localhost:5005" {
		t.Errorf("HTTP url = %q", cfg.Inference.HTTP.URL)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("Expected error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"zero interval", func(c *Config) { c.Inference.ThrottleInterval = 0 }, "throttle_interval"},
		{"unknown backend", func(c *Config) { c.Inference.Backend = "grpc" }, "inference.backend"},
		{"http without url", func(c *Config) { c.Inference.Backend = BackendHTTP }, "inference.http.url"},
		{"threshold out of range", func(c *Config) { c.Override.Below = 150 }, "override.below"},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"speech without command", func(c *Config) { c.Speech.Command = "" }, "speech.command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestDatabaseURLFallback(t *testing.T) {
	c := &Config{}
	t.Setenv("POSTGRES_HOST", "")
	if got := c.DatabaseURL(); got != "" {
		t.Errorf("Expected persistence disabled, got %q", got)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "moods")
	t.Setenv("POSTGRES_PORT", "")
	if got, want := c.DatabaseURL(), "postgres://u:p@db:5432/moods"; got != want {
		t.Errorf("DatabaseURL() = %q, want %q", got, want)
	}

	c.Database.URL = "postgres://explicit"
	if got := c.DatabaseURL(); got != "postgres://explicit" {
		t.Errorf("Explicit URL should win, got %q", got)
	}
}

func TestDumpRoundTrips(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := cfg.Dump()
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	if !strings.Contains(string(out), "throttle_interval: 5") {
		t.Errorf("Dump missing interval:\n%s", out)
	}

	path := writeConfig(t, string(out))
	again, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Reloading dumped config failed: %v", err)
	}
	var a, b map[string]any
	_ = yaml.Unmarshal(out, &a)
	dumped, _ := again.Dump()
	_ = yaml.Unmarshal(dumped, &b)
	if len(a) != len(b) {
		t.Errorf("Reloaded config differs")
	}
}
