// Package config loads moodlens settings from a YAML file, MOODLENS_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/moodlens/internal/camera"
	"github.com/andresmejia3/moodlens/internal/emitter"
	"github.com/andresmejia3/moodlens/internal/emotion"
	"github.com/andresmejia3/moodlens/internal/worker"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. MOODLENS_INFERENCE_THROTTLE_INTERVAL.
const EnvPrefix = "MOODLENS"

// Inference backends.
const (
	BackendPython = "python"
	BackendHTTP   = "http"
)

type Config struct {
	LogLevel  string               `mapstructure:"log_level" yaml:"log_level"`
	Camera    camera.Config        `mapstructure:"camera" yaml:"camera"`
	Inference Inference            `mapstructure:"inference" yaml:"inference"`
	Override  emotion.OverrideRule `mapstructure:"override" yaml:"override"`
	Speech    Speech               `mapstructure:"speech" yaml:"speech"`
	Gallery   Gallery              `mapstructure:"gallery" yaml:"gallery"`
	Paths     Paths                `mapstructure:"paths" yaml:"paths"`
	Server    Server               `mapstructure:"server" yaml:"server"`
	Database  Database             `mapstructure:"database" yaml:"database"`
	MQTT      emitter.Config       `mapstructure:"mqtt" yaml:"mqtt"`
}

type Inference struct {
	Backend          string        `mapstructure:"backend" yaml:"backend"`
	ThrottleInterval int           `mapstructure:"throttle_interval" yaml:"throttle_interval"`
	Worker           worker.Config `mapstructure:"worker" yaml:"worker"`
	HTTP             HTTPService   `mapstructure:"http" yaml:"http"`
}

type HTTPService struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type Speech struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args"`
	Phrase  string   `mapstructure:"phrase" yaml:"phrase"`
}

type Gallery struct {
	ThumbSize int `mapstructure:"thumb_size" yaml:"thumb_size"`
}

type Paths struct {
	Snapshots string `mapstructure:"snapshots" yaml:"snapshots"`
}

type Server struct {
	Addr        string   `mapstructure:"addr" yaml:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

type Database struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// FlagKeys maps command-line flag names onto config keys. Only flags that are actually
// defined on a command get bound.
var FlagKeys = map[string]string{
	"log-level": "log_level",
	"camera":    "camera.index",
	"device":    "camera.device",
	"interval":  "inference.throttle_interval",
	"backend":   "inference.backend",
	"url":       "inference.http.url",
	"speech":    "speech.enabled",
	"snapshots": "paths.snapshots",
	"addr":      "server.addr",
	"db":        "database.url",
	"mqtt":      "mqtt.broker",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("camera.index", 0)
	v.SetDefault("camera.device", "")
	v.SetDefault("camera.format", "v4l2")
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.fps", 30)
	v.SetDefault("camera.open_timeout", "5s")

	v.SetDefault("inference.backend", BackendPython)
	v.SetDefault("inference.throttle_interval", 5)
	v.SetDefault("inference.worker.python", "python3")
	v.SetDefault("inference.worker.script", "python/emotion_worker.py")
	v.SetDefault("inference.worker.detector_backend", "opencv")
	v.SetDefault("inference.worker.downscale_width", 320)
	v.SetDefault("inference.worker.read_timeout", "10s")
	v.SetDefault("inference.http.url", "")
	v.SetDefault("inference.http.timeout", "10s")

	def := emotion.DefaultOverride()
	v.SetDefault("override.enabled", def.Enabled)
	v.SetDefault("override.from", def.From)
	v.SetDefault("override.to", def.To)
	v.SetDefault("override.below", def.Below)

	v.SetDefault("speech.enabled", true)
	v.SetDefault("speech.command", "espeak")
	v.SetDefault("speech.args", []string{})
	v.SetDefault("speech.phrase", "You look %s")

	v.SetDefault("gallery.thumb_size", 96)
	v.SetDefault("paths.snapshots", "snapshots")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.url", "")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "moodlens")
	v.SetDefault("mqtt.topic_prefix", "moodlens")
	v.SetDefault("mqtt.qos", 0)
}

// Load reads configuration. path selects an explicit file; when empty, moodlens.yaml is
// searched in ., ./config and $HOME/.moodlens and a missing file is not an error.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("moodlens")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
		v.AddConfigPath("$HOME/.moodlens")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Inference.ThrottleInterval < 1 {
		errs = append(errs, fmt.Errorf("inference.throttle_interval must be >= 1, got %d", c.Inference.ThrottleInterval))
	}
	switch c.Inference.Backend {
	case BackendPython:
		if c.Inference.Worker.Script == "" {
			errs = append(errs, errors.New("inference.worker.script is required for the python backend"))
		}
	case BackendHTTP:
		if c.Inference.HTTP.URL == "" {
			errs = append(errs, errors.New("inference.http.url is required for the http backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("inference.backend must be %q or %q, got %q", BackendPython, BackendHTTP, c.Inference.Backend))
	}
	if c.Override.Below < 0 || c.Override.Below > 100 {
		errs = append(errs, fmt.Errorf("override.below must be a percentage, got %v", c.Override.Below))
	}
	if c.Camera.FPS < 1 {
		errs = append(errs, fmt.Errorf("camera.fps must be >= 1, got %d", c.Camera.FPS))
	}
	if c.Gallery.ThumbSize < 16 {
		errs = append(errs, fmt.Errorf("gallery.thumb_size must be >= 16, got %d", c.Gallery.ThumbSize))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Speech.Enabled && c.Speech.Command == "" {
		errs = append(errs, errors.New("speech.command is required when speech is enabled"))
	}
	return errors.Join(errs...)
}

// DatabaseURL returns the configured connection string. When none is set it is built
// from POSTGRES_HOST, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DB and POSTGRES_PORT.
// An empty result means persistence is disabled.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}

// Dump renders the effective configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}
