package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/bitranox/check-zpools-sub001/pkg/alerts"
	"github.com/bitranox/check-zpools-sub001/pkg/monitor"
)

// ConfigurationError reports an invalid runtime configuration. It is fatal
// at startup, before any monitoring begins.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "invalid configuration: " + e.Reason }

// Config is the full runtime configuration, assembled from defaults, an
// optional YAML file and CHECK_ZPOOLS_* environment overrides.
type Config struct {
	Pools      []string   `yaml:"pools" json:"pools,omitempty"`
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
	Daemon     Daemon     `yaml:"daemon" json:"daemon"`
	Zpool      Zpool      `yaml:"zpool" json:"zpool"`
	State      State      `yaml:"state" json:"state"`
	History    History    `yaml:"history" json:"history"`
	HTTP       HTTP       `yaml:"http" json:"http"`
	Notify     Notify     `yaml:"notify" json:"notify"`
	Logging    Logging    `yaml:"logging" json:"logging"`
}

type Thresholds struct {
	CapacityWarnPercent float64 `yaml:"capacity_warn_percent" json:"capacity_warn_percent"`
	CapacityCritPercent float64 `yaml:"capacity_crit_percent" json:"capacity_crit_percent"`
	MaxErrors           uint64  `yaml:"max_errors" json:"max_errors"`
	ChecksumCrit        uint64  `yaml:"checksum_crit" json:"checksum_crit"`
	ScrubMaxAgeDays     float64 `yaml:"scrub_max_age_days" json:"scrub_max_age_days"`
}

type Daemon struct {
	IntervalSeconds       int     `yaml:"interval_seconds" json:"interval_seconds"`
	ResendHours           float64 `yaml:"resend_hours" json:"resend_hours"`
	AcquireTimeoutSeconds int     `yaml:"acquire_timeout_seconds" json:"acquire_timeout_seconds"`
}

// Zpool overrides the queried commands, mainly for testing against
// recorded output.
type Zpool struct {
	ListCommand   []string `yaml:"list_command" json:"list_command,omitempty"`
	StatusCommand []string `yaml:"status_command" json:"status_command,omitempty"`
}

type State struct {
	Path string `yaml:"path" json:"path"`
}

// History configures the event log. An empty path disables it.
type History struct {
	Path          string `yaml:"path" json:"path,omitempty"`
	RetentionDays int    `yaml:"retention_days" json:"retention_days"`
}

// HTTP configures the status endpoint. An empty listen address disables it.
type HTTP struct {
	Listen string `yaml:"listen" json:"listen,omitempty"`
}

type Notify struct {
	Recovery bool                  `yaml:"recovery" json:"recovery"`
	Digest   string                `yaml:"digest" json:"digest,omitempty"`
	Email    *alerts.EmailConfig   `yaml:"email" json:"email,omitempty"`
	Webhook  *alerts.WebhookConfig `yaml:"webhook" json:"webhook,omitempty"`
	Ntfy     *alerts.NtfyConfig    `yaml:"ntfy" json:"ntfy,omitempty"`
}

type Logging struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		Thresholds: Thresholds{
			CapacityWarnPercent: 80,
			CapacityCritPercent: 90,
			ScrubMaxAgeDays:     35,
		},
		Daemon: Daemon{
			IntervalSeconds:       300,
			ResendHours:           24,
			AcquireTimeoutSeconds: 30,
		},
		State:   State{Path: "/var/lib/check-zpools/state.json"},
		History: History{RetentionDays: 90},
		Notify:  Notify{Recovery: true},
		Logging: Logging{Level: "info"},
	}
}

// Load builds the runtime configuration. Precedence, lowest to highest:
// defaults, YAML file, environment. A missing file is not an error; the
// defaults apply and the daemon logs the effective configuration.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, &ConfigurationError{Reason: fmt.Sprintf("read %s: %v", path, err)}
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, &ConfigurationError{Reason: fmt.Sprintf("parse %s: %v", path, err)}
			}
		}
	}
	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHECK_ZPOOLS_POOLS"); v != "" {
		var pools []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				pools = append(pools, p)
			}
		}
		cfg.Pools = pools
	}
	if v := os.Getenv("CHECK_ZPOOLS_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Daemon.IntervalSeconds = n
		}
	}
	if v := os.Getenv("CHECK_ZPOOLS_RESEND_HOURS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Daemon.ResendHours = f
		}
	}
	if v := os.Getenv("CHECK_ZPOOLS_CAPACITY_WARN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.CapacityWarnPercent = f
		}
	}
	if v := os.Getenv("CHECK_ZPOOLS_CAPACITY_CRIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.CapacityCritPercent = f
		}
	}
	if v := os.Getenv("CHECK_ZPOOLS_STATE"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("CHECK_ZPOOLS_HISTORY"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("CHECK_ZPOOLS_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}
	if v := os.Getenv("CHECK_ZPOOLS_LOG"); v != "" {
		cfg.Logging.Level = v
	}
}

const schemaJSON = `{
  "type": "object",
  "properties": {
    "pools": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "thresholds": {
      "type": "object",
      "properties": {
        "capacity_warn_percent": {"type": "number", "minimum": 0, "maximum": 100},
        "capacity_crit_percent": {"type": "number", "minimum": 0, "maximum": 100},
        "max_errors": {"type": "integer", "minimum": 0},
        "checksum_crit": {"type": "integer", "minimum": 0},
        "scrub_max_age_days": {"type": "number", "minimum": 0}
      }
    },
    "daemon": {
      "type": "object",
      "properties": {
        "interval_seconds": {"type": "integer", "minimum": 1},
        "resend_hours": {"type": "number", "minimum": 0},
        "acquire_timeout_seconds": {"type": "integer", "minimum": 1}
      }
    },
    "state": {
      "type": "object",
      "properties": {"path": {"type": "string", "minLength": 1}},
      "required": ["path"]
    },
    "history": {
      "type": "object",
      "properties": {"retention_days": {"type": "integer", "minimum": 0}}
    }
  },
  "required": ["thresholds", "daemon", "state"]
}`

// Validate checks structural constraints against the embedded schema, then
// the semantic rules the schema cannot express.
func Validate(cfg Config) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("marshal: %v", err)}
	}
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schemaJSON), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("schema: %v", err)}
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		return &ConfigurationError{Reason: strings.Join(problems, "; ")}
	}

	t := cfg.Thresholds
	if t.CapacityWarnPercent > 0 && t.CapacityCritPercent > 0 && t.CapacityWarnPercent > t.CapacityCritPercent {
		return &ConfigurationError{Reason: fmt.Sprintf(
			"capacity_warn_percent (%.1f) must not exceed capacity_crit_percent (%.1f)",
			t.CapacityWarnPercent, t.CapacityCritPercent)}
	}
	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("unknown log level %q", cfg.Logging.Level)}
	}
	if cfg.Notify.Digest != "" {
		if _, err := cron.ParseStandard(cfg.Notify.Digest); err != nil {
			return &ConfigurationError{Reason: fmt.Sprintf("invalid digest schedule %q: %v", cfg.Notify.Digest, err)}
		}
	}
	if e := cfg.Notify.Email; e != nil {
		if e.SMTPHost == "" || e.From == "" || len(e.To) == 0 {
			return &ConfigurationError{Reason: "email channel requires smtp_host, from and at least one recipient"}
		}
	}
	if w := cfg.Notify.Webhook; w != nil && w.URL == "" {
		return &ConfigurationError{Reason: "webhook channel requires url"}
	}
	if n := cfg.Notify.Ntfy; n != nil && (n.ServerURL == "" || n.Topic == "") {
		return &ConfigurationError{Reason: "ntfy channel requires server_url and topic"}
	}
	return nil
}

// MonitorThresholds converts the configured thresholds for the evaluator.
func (c Config) MonitorThresholds() monitor.Thresholds {
	return monitor.Thresholds{
		CapacityWarnPercent: c.Thresholds.CapacityWarnPercent,
		CapacityCritPercent: c.Thresholds.CapacityCritPercent,
		MaxErrors:           c.Thresholds.MaxErrors,
		ChecksumCrit:        c.Thresholds.ChecksumCrit,
		ScrubMaxAgeDays:     c.Thresholds.ScrubMaxAgeDays,
	}
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.Daemon.IntervalSeconds) * time.Second
}

func (c Config) ResendInterval() time.Duration {
	return time.Duration(c.Daemon.ResendHours * float64(time.Hour))
}

func (c Config) AcquireTimeout() time.Duration {
	return time.Duration(c.Daemon.AcquireTimeoutSeconds) * time.Second
}

// LogLevel parses the configured level. Validate has already rejected
// unknown values, so the fallback is only for zero-value configs.
func (c Config) LogLevel() zerolog.Level {
	if c.Logging.Level == "" {
		return zerolog.InfoLevel
	}
	if l, err := zerolog.ParseLevel(c.Logging.Level); err == nil {
		return l
	}
	return zerolog.InfoLevel
}
