// Package config loads and validates watcher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quillfeed/quillwatch/internal/watch"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Mirrors []string            `mapstructure:"mirrors"`
	Fetch   FetchConfig         `mapstructure:"fetch"`
	Monitor MonitorConfig       `mapstructure:"monitor"`
	Queries []watch.QueryConfig `mapstructure:"queries"`
	VIP     VIPConfig           `mapstructure:"vip"`
	State   StateConfig         `mapstructure:"state"`
	Notify  NotifyConfig        `mapstructure:"notify"`
	Archive ArchiveConfig       `mapstructure:"archive"`
	Server  ServerConfig        `mapstructure:"server"`
	Logging LoggingConfig       `mapstructure:"logging"`
}

// FetchConfig controls the mirror fetcher.
type FetchConfig struct {
	Mode             string `mapstructure:"mode"` // "http" or "headless"
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	RetriesPerMirror int    `mapstructure:"retries_per_mirror"`
	UserAgent        string `mapstructure:"user_agent"`
	MinBodyBytes     int    `mapstructure:"min_body_bytes"`
}

// MonitorConfig governs classification thresholds and pacing.
type MonitorConfig struct {
	IntervalSeconds   int      `mapstructure:"interval_seconds"`
	SearchLimit       int      `mapstructure:"search_limit"`
	AgeCeilingHours   int      `mapstructure:"age_ceiling_hours"`
	MinLikes          int      `mapstructure:"min_likes"`
	GrowthFraction    float64  `mapstructure:"growth_fraction"`
	GrowthAbsolute    int      `mapstructure:"growth_absolute"`
	QueryPauseSeconds int      `mapstructure:"query_pause_seconds"`
	Keywords          []string `mapstructure:"keywords"`
	Domains           []string `mapstructure:"domains"`
	EnrichAlerts      bool     `mapstructure:"enrich_alerts"`
}

// VIPConfig controls the low-frequency relationship job.
type VIPConfig struct {
	IntervalSeconds int       `mapstructure:"interval_seconds"`
	Handles         []string  `mapstructure:"handles"`
	Pairs           []VIPPair `mapstructure:"pairs"`
	StatePath       string    `mapstructure:"state_path"`
}

// VIPPair is one watched follow relationship (does source follow
// target).
type VIPPair struct {
	Source string `mapstructure:"source"`
	Target string `mapstructure:"target"`
}

// StateConfig selects and parameterizes the monitor state store.
type StateConfig struct {
	Provider string `mapstructure:"provider"` // "file", "memory", "postgres"
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
}

// NotifyConfig selects the alert sink.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"` // "log", "pubsub", "memory"
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ArchiveConfig selects the raw-page snapshot store.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"` // "none", "local", "gcs"
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QUILLWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fetch.mode", "http")
	v.SetDefault("fetch.timeout_seconds", 12)
	v.SetDefault("fetch.retries_per_mirror", 1)
	v.SetDefault("fetch.user_agent", "quillwatch/1.0 (+https://github.com/quillfeed/quillwatch)")
	v.SetDefault("fetch.min_body_bytes", 2048)
	v.SetDefault("monitor.interval_seconds", 300)
	v.SetDefault("monitor.search_limit", 40)
	v.SetDefault("monitor.age_ceiling_hours", 72)
	v.SetDefault("monitor.min_likes", 5)
	v.SetDefault("monitor.growth_fraction", 0.5)
	v.SetDefault("monitor.growth_absolute", 5)
	v.SetDefault("monitor.query_pause_seconds", 3)
	v.SetDefault("monitor.enrich_alerts", false)
	v.SetDefault("vip.interval_seconds", 3600)
	v.SetDefault("vip.state_path", "data/vip-state.json")
	v.SetDefault("state.provider", "file")
	v.SetDefault("state.path", "data/monitor-state.json")
	v.SetDefault("state.table", "monitor_entries")
	v.SetDefault("notify.provider", "log")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8520)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Mirrors) == 0 {
		return fmt.Errorf("mirrors must not be empty")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.RetriesPerMirror < 0 {
		return fmt.Errorf("fetch.retries_per_mirror must be >= 0")
	}
	if c.Fetch.Mode != "http" && c.Fetch.Mode != "headless" {
		return fmt.Errorf("fetch.mode must be http or headless")
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor.interval_seconds must be > 0")
	}
	if c.Monitor.GrowthFraction <= 0 {
		return fmt.Errorf("monitor.growth_fraction must be > 0")
	}
	if c.VIP.IntervalSeconds < c.Monitor.IntervalSeconds {
		return fmt.Errorf("vip.interval_seconds must be >= monitor.interval_seconds")
	}
	for i, q := range c.Queries {
		if q.Key == "" || q.Query == "" {
			return fmt.Errorf("queries[%d]: key and query are required", i)
		}
	}
	for i, p := range c.VIP.Pairs {
		if p.Source == "" || p.Target == "" {
			return fmt.Errorf("vip.pairs[%d]: source and target are required", i)
		}
	}
	switch c.State.Provider {
	case "file":
		if c.State.Path == "" {
			return fmt.Errorf("state.path is required for the file provider")
		}
	case "postgres":
		if c.State.DSN == "" {
			return fmt.Errorf("state.dsn is required for the postgres provider")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown state provider: %s", c.State.Provider)
	}
	if c.Notify.Provider == "pubsub" && (c.Notify.ProjectID == "" || c.Notify.TopicID == "") {
		return fmt.Errorf("notify.project_id and notify.topic_id are required for pubsub")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// FetchTimeout converts the per-attempt timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// MonitorInterval returns the monitor cycle cadence.
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

// VIPInterval returns the relationship job cadence.
func (c Config) VIPInterval() time.Duration {
	return time.Duration(c.VIP.IntervalSeconds) * time.Second
}

// AgeCeiling returns the stale-post cutoff.
func (c Config) AgeCeiling() time.Duration {
	return time.Duration(c.Monitor.AgeCeilingHours) * time.Hour
}

// QueryPause returns the inter-query delay inside one cycle.
func (c Config) QueryPause() time.Duration {
	return time.Duration(c.Monitor.QueryPauseSeconds) * time.Second
}
