// Package config loads fleetd settings from a YAML or JSON file and the
// environment.
//
// Precedence, lowest to highest: Default, the config file, FLEET_* environment
// variables, command-line flags (applied by the caller).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/fleetcore/internal/cache"
)

// ErrMissingBotID is returned by Validate when no bot id is configured.
var ErrMissingBotID = errors.New("bot_id is required")

// Duration is a time.Duration that reads and writes as "30s" in YAML and JSON.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Endpoint is a remote HTTP service and its credential.
type Endpoint struct {
	URL   string `yaml:"url" json:"url"`
	Token string `yaml:"token" json:"token"`
}

// RateLimit configures the per-user command limiter.
type RateLimit struct {
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	Burst     int     `yaml:"burst" json:"burst"`
}

// Config is the complete fleetd configuration.
type Config struct {
	Listen         string    `yaml:"listen" json:"listen"`
	BotID          uint64    `yaml:"bot_id" json:"bot_id"`
	JoinLogChannel uint64    `yaml:"join_log_channel" json:"join_log_channel"`
	JoinFreshness  Duration  `yaml:"join_freshness" json:"join_freshness"`
	Sink           Endpoint  `yaml:"sink" json:"sink"`
	Relay          Endpoint  `yaml:"relay" json:"relay"`
	BlocklistFile  string    `yaml:"blocklist_file" json:"blocklist_file"`
	RateLimit      RateLimit `yaml:"rate_limit" json:"rate_limit"`
	LogLevel       string    `yaml:"log_level" json:"log_level"`
	TaskTimeout    Duration  `yaml:"task_timeout" json:"task_timeout"`
}

// Default returns a config with every optional setting filled in.
func Default() Config {
	return Config{
		Listen:        ":8080",
		JoinFreshness: Duration(30 * time.Second),
		RateLimit:     RateLimit{PerSecond: 1, Burst: 5},
		LogLevel:      "info",
		TaskTimeout:   Duration(10 * time.Second),
	}
}

// FromFile reads path on top of Default. The format follows the extension:
// .yaml, .yml or .json.
func FromFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FLEET_* environment variables. Unparsable
// numeric values are reported rather than ignored.
func (c *Config) ApplyEnv() error {
	c.Listen = getenv("FLEET_LISTEN", c.Listen)
	c.Sink.URL = getenv("FLEET_SINK_URL", c.Sink.URL)
	c.Sink.Token = getenv("FLEET_SINK_TOKEN", c.Sink.Token)
	c.Relay.URL = getenv("FLEET_RELAY_URL", c.Relay.URL)
	c.Relay.Token = getenv("FLEET_RELAY_TOKEN", c.Relay.Token)
	c.BlocklistFile = getenv("FLEET_BLOCKLIST_FILE", c.BlocklistFile)
	c.LogLevel = getenv("FLEET_LOG_LEVEL", c.LogLevel)

	var errs []error
	if v := os.Getenv("FLEET_BOT_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		errs = append(errs, wrapEnv("FLEET_BOT_ID", err))
		if err == nil {
			c.BotID = id
		}
	}
	if v := os.Getenv("FLEET_JOIN_LOG_CHANNEL"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		errs = append(errs, wrapEnv("FLEET_JOIN_LOG_CHANNEL", err))
		if err == nil {
			c.JoinLogChannel = id
		}
	}
	if v := os.Getenv("FLEET_JOIN_FRESHNESS"); v != "" {
		errs = append(errs, wrapEnv("FLEET_JOIN_FRESHNESS", c.JoinFreshness.parse(v)))
	}
	if v := os.Getenv("FLEET_TASK_TIMEOUT"); v != "" {
		errs = append(errs, wrapEnv("FLEET_TASK_TIMEOUT", c.TaskTimeout.parse(v)))
	}
	return errors.Join(errs...)
}

// Validate checks the settings fleetd cannot start without.
func (c Config) Validate() error {
	if c.BotID == 0 {
		return ErrMissingBotID
	}
	if c.JoinFreshness <= 0 {
		return fmt.Errorf("join_freshness must be positive, got %s", c.JoinFreshness)
	}
	if c.RateLimit.PerSecond < 0 {
		return fmt.Errorf("rate_limit.per_second must not be negative, got %v", c.RateLimit.PerSecond)
	}
	return nil
}

// TrackingEnabled reports whether stats are pushed to an external sink.
func (c Config) TrackingEnabled() bool {
	return c.Sink.URL != ""
}

// Seed writes the boot keys into the shared config cache. JOIN_LOG is only
// written when an audit channel is configured, so its absence reads as a miss.
func (c Config) Seed(store *cache.ConfigStore) {
	entries := map[string]string{
		cache.KeyBotID: strconv.FormatUint(c.BotID, 10),
	}
	if c.JoinLogChannel != 0 {
		entries[cache.KeyJoinLog] = strconv.FormatUint(c.JoinLogChannel, 10)
	}
	store.SetMany(entries)
}

func wrapEnv(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
