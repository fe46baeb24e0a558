// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Errors    ErrorsConfig    `mapstructure:"errors"`
	Challenge ChallengeConfig `mapstructure:"challenge"`
	Governor  GovernorConfig  `mapstructure:"governor"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls the control-surface HTTP server. An empty APIKey
// leaves the /v1 routes open.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs the cycle driver and its retry policy.
type CrawlerConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RetryMultiplier   float64       `mapstructure:"retry_multiplier"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	RetryJitter       bool          `mapstructure:"retry_jitter"`
	AdapterPause      time.Duration `mapstructure:"adapter_pause"`
	CyclePause        time.Duration `mapstructure:"cycle_pause"`
	MaxCycles         int           `mapstructure:"max_cycles"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	PerHost           []HostRate    `mapstructure:"per_host"`
	UserAgent         string        `mapstructure:"user_agent"`
	SourcesFile       string        `mapstructure:"sources_file"`
}

// HostRate overrides the politeness rate for one host.
type HostRate struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// ErrorsConfig feeds the error classifier.
type ErrorsConfig struct {
	Cooldown          time.Duration `mapstructure:"cooldown"`
	MaxPerHour        int           `mapstructure:"max_per_hour"`
	CriticalThreshold int           `mapstructure:"critical_threshold"`
}

// ChallengeConfig controls the anti-bot challenge handler.
type ChallengeConfig struct {
	MaxWait           time.Duration `mapstructure:"max_wait"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	SnapshotOnTimeout bool          `mapstructure:"snapshot_on_timeout"`
	ExtraSelectors    []string      `mapstructure:"extra_selectors"`
	ExtraKeywords     []string      `mapstructure:"extra_keywords"`
	Solver            SolverConfig  `mapstructure:"solver"`
}

// SolverConfig selects an automated solver. Provider "" or "none" disables it.
type SolverConfig struct {
	Provider     string        `mapstructure:"provider"`
	APIKey       string        `mapstructure:"api_key"`
	Endpoint     string        `mapstructure:"endpoint"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// GovernorConfig controls memory reclamation.
type GovernorConfig struct {
	LightInterval    int     `mapstructure:"light_interval"`
	HeavyInterval    int     `mapstructure:"heavy_interval"`
	MemoryCeilingMB  uint64  `mapstructure:"memory_ceiling_mb"`
	PressureFraction float64 `mapstructure:"pressure_fraction"`
	PressureGap      int     `mapstructure:"pressure_gap"`
	UseRSS           bool    `mapstructure:"use_rss"`
}

// BrowserConfig configures the chromedp page source.
type BrowserConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	UserAgent       string        `mapstructure:"user_agent"`
	NavTimeout      time.Duration `mapstructure:"nav_timeout"`
	SelectorTimeout time.Duration `mapstructure:"selector_timeout"`
	Headless        bool          `mapstructure:"headless"`
}

// DatabaseConfig selects and tunes the listing store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	ListingsTable   string        `mapstructure:"listings_table"`
	SourcesTable    string        `mapstructure:"sources_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SnapshotsConfig selects where challenge page snapshots are written.
type SnapshotsConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// NotifyConfig tunes the notification hub and its sinks.
type NotifyConfig struct {
	BufferSize          int           `mapstructure:"buffer_size"`
	MaxBatchEvents      int           `mapstructure:"max_batch_events"`
	MaxBatchWait        time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout         time.Duration `mapstructure:"sink_timeout"`
	MaxFlushesPerSecond float64       `mapstructure:"max_flushes_per_second"`
	LogEnabled          bool          `mapstructure:"log_enabled"`
	PubSub              PubSubConfig  `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// TopicName disables the sink.
type PubSubConfig struct {
	ProjectID string   `mapstructure:"project_id"`
	TopicName string   `mapstructure:"topic_name"`
	Kinds     []string `mapstructure:"kinds"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Exporter    string  `mapstructure:"exporter"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Supported backends.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	BackendGCS    = "gcs"
	BackendLocal  = "local"
	BackendMemory = "memory"

	SolverNone       = "none"
	SolverTwoCaptcha = "2captcha"
)

// Load builds a Config from defaults, an optional file and CRAWLER_*
// environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)

	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.retry_delay", 2*time.Second)
	v.SetDefault("crawler.retry_multiplier", 2.0)
	v.SetDefault("crawler.retry_max_delay", 30*time.Second)
	v.SetDefault("crawler.retry_jitter", true)
	v.SetDefault("crawler.adapter_pause", 5*time.Second)
	v.SetDefault("crawler.cycle_pause", 10*time.Minute)
	v.SetDefault("crawler.max_cycles", 0)
	v.SetDefault("crawler.requests_per_second", 0.5)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.user_agent", "listing-crawler/0.1")
	v.SetDefault("crawler.sources_file", "sources.yaml")

	v.SetDefault("errors.cooldown", 5*time.Minute)
	v.SetDefault("errors.max_per_hour", 50)
	v.SetDefault("errors.critical_threshold", 10)

	v.SetDefault("challenge.max_wait", 60*time.Second)
	v.SetDefault("challenge.poll_interval", 3*time.Second)
	v.SetDefault("challenge.snapshot_on_timeout", true)
	v.SetDefault("challenge.solver.provider", SolverNone)
	v.SetDefault("challenge.solver.endpoint", "https://2captcha.com")
	v.SetDefault("challenge.solver.max_wait", 120*time.Second)
	v.SetDefault("challenge.solver.poll_interval", 5*time.Second)

	v.SetDefault("governor.light_interval", 5)
	v.SetDefault("governor.heavy_interval", 20)
	v.SetDefault("governor.memory_ceiling_mb", 1024)
	v.SetDefault("governor.pressure_fraction", 0.8)
	v.SetDefault("governor.pressure_gap", 5)
	v.SetDefault("governor.use_rss", true)

	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.nav_timeout", 45*time.Second)
	v.SetDefault("browser.selector_timeout", 10*time.Second)
	v.SetDefault("browser.headless", true)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "listings.db")
	v.SetDefault("database.listings_table", "listings")
	v.SetDefault("database.sources_table", "sources")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)

	v.SetDefault("snapshots.backend", BackendLocal)
	v.SetDefault("snapshots.base_dir", "snapshots")

	v.SetDefault("notify.buffer_size", 1024)
	v.SetDefault("notify.max_batch_events", 100)
	v.SetDefault("notify.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("notify.sink_timeout", 10*time.Second)
	v.SetDefault("notify.max_flushes_per_second", 5.0)
	v.SetDefault("notify.log_enabled", true)
	v.SetDefault("notify.pubsub.kinds", []string{
		string(crawler.NotifyChallengeDetected),
		string(crawler.NotifyCritical),
		string(crawler.NotifyAdapterSummary),
	})

	v.SetDefault("telemetry.service_name", "listing-crawler")
	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0")
	}
	if c.Crawler.RetryDelay < 0 {
		return fmt.Errorf("crawler.retry_delay must be >= 0")
	}
	if c.Crawler.MaxCycles < 0 {
		return fmt.Errorf("crawler.max_cycles must be >= 0")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	for _, h := range c.Crawler.PerHost {
		if h.Host == "" || h.RPS <= 0 {
			return fmt.Errorf("crawler.per_host entries need a host and rps > 0")
		}
	}
	if c.Errors.Cooldown < 0 {
		return fmt.Errorf("errors.cooldown must be >= 0")
	}
	if c.Errors.MaxPerHour <= 0 {
		return fmt.Errorf("errors.max_per_hour must be > 0")
	}
	if c.Errors.CriticalThreshold <= 0 {
		return fmt.Errorf("errors.critical_threshold must be > 0")
	}
	if c.Challenge.MaxWait <= 0 {
		return fmt.Errorf("challenge.max_wait must be > 0")
	}
	if c.Challenge.PollInterval <= 0 || c.Challenge.PollInterval > c.Challenge.MaxWait {
		return fmt.Errorf("challenge.poll_interval must be > 0 and <= challenge.max_wait")
	}
	switch c.Challenge.Solver.Provider {
	case "", SolverNone:
	case SolverTwoCaptcha:
		if c.Challenge.Solver.APIKey == "" {
			return fmt.Errorf("challenge.solver.api_key must be set for provider %s", SolverTwoCaptcha)
		}
	default:
		return fmt.Errorf("challenge.solver.provider %q is not supported", c.Challenge.Solver.Provider)
	}
	if c.Governor.PressureFraction <= 0 || c.Governor.PressureFraction > 1 {
		return fmt.Errorf("governor.pressure_fraction must be in (0, 1]")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for driver %s", c.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.Snapshots.Backend {
	case BackendGCS:
		if c.Snapshots.Bucket == "" {
			return fmt.Errorf("snapshots.bucket must be set for backend %s", BackendGCS)
		}
	case BackendLocal:
		if c.Snapshots.BaseDir == "" {
			return fmt.Errorf("snapshots.base_dir must be set for backend %s", BackendLocal)
		}
	case BackendMemory, "":
	default:
		return fmt.Errorf("snapshots.backend %q is not supported", c.Snapshots.Backend)
	}
	if c.Notify.PubSub.TopicName != "" && c.Notify.PubSub.ProjectID == "" {
		return fmt.Errorf("notify.pubsub.project_id must be set when a topic is configured")
	}
	for _, kind := range c.Notify.PubSub.Kinds {
		if !crawler.NotificationKind(kind).Valid() {
			return fmt.Errorf("notify.pubsub.kinds: unknown kind %q", kind)
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be in [0, 1]")
	}
	return nil
}

// RetryPolicy converts the crawler section into the engine's retry policy.
func (c Config) RetryPolicy() crawler.RetryPolicy {
	return crawler.RetryPolicy{
		MaxAttempts: c.Crawler.MaxRetries,
		Delay:       c.Crawler.RetryDelay,
		Multiplier:  c.Crawler.RetryMultiplier,
		MaxDelay:    c.Crawler.RetryMaxDelay,
		Jitter:      c.Crawler.RetryJitter,
	}
}

// PerHostRPS flattens the per-host overrides for the rate limiter.
func (c Config) PerHostRPS() map[string]float64 {
	out := make(map[string]float64, len(c.Crawler.PerHost))
	for _, h := range c.Crawler.PerHost {
		out[strings.ToLower(h.Host)] = h.RPS
	}
	return out
}

// MemoryCeiling returns the governor ceiling in bytes.
func (c Config) MemoryCeiling() uint64 {
	return c.Governor.MemoryCeilingMB << 20
}
