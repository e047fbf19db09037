// Package config holds the agent's configuration, unmarshalled by viper from
// defaults, an optional YAML file and the environment.
package config

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

var (
	instance *Config
	once     sync.Once
	loadErr  error
	mu       sync.RWMutex
)

// Config is the root configuration structure.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Profile     ProfileConfig     `mapstructure:"profile"`
	Rotation    RotationConfig    `mapstructure:"rotation"`
	Enforcement EnforcementConfig `mapstructure:"enforcement"`
	Status      StatusConfig      `mapstructure:"status"`
	Health      HealthConfig      `mapstructure:"health"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level         string      `mapstructure:"level" json:"level" yaml:"level"`
	Format        string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource     bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName   string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile       string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize       int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups    int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge        int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress      bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors        ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
	// RevealSecrets disables masking of seed fields in log output.
	RevealSecrets bool        `mapstructure:"reveal_secrets" json:"reveal_secrets" yaml:"reveal_secrets"`
}

// AgentConfig controls the agent lifecycle.
type AgentConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Seed fixes the engine seed. Zero means: use SeedFile, else a random seed.
	Seed     uint64 `mapstructure:"seed"`
	SeedFile string `mapstructure:"seed_file"`
	// SeedPhrase derives a seed from text when Seed is zero.
	SeedPhrase      string        `mapstructure:"seed_phrase"`
	PIDFile         string        `mapstructure:"pid_file"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout"`
	ThreatBaseline  int           `mapstructure:"threat_baseline"`
	ThreatStaleness time.Duration `mapstructure:"threat_staleness"`
	ThreatRamp      time.Duration `mapstructure:"threat_ramp"`
}

// TelemetryConfig controls decoy emission. IntervalSeconds is fractional seconds.
type TelemetryConfig struct {
	ChaosEnabled     bool          `mapstructure:"chaos_enabled"`
	DNSChaffEnabled  bool          `mapstructure:"dns_chaff_enabled"`
	PhantomSwarm     bool          `mapstructure:"phantom_swarm_enabled"`
	IntervalSeconds  float64       `mapstructure:"interval"`
	JitterFraction   float64       `mapstructure:"jitter_fraction"`
	EmitTimeout      time.Duration `mapstructure:"emit_timeout"`
	MinPadding       time.Duration `mapstructure:"min_padding"`
	MaxPadding       time.Duration `mapstructure:"max_padding"`
	IgnoreTLSErrors  bool          `mapstructure:"ignore_tls_errors"`
	DisableHTTP2     bool          `mapstructure:"disable_http2"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// Interval converts IntervalSeconds into a duration.
func (t TelemetryConfig) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds * float64(time.Second))
}

// ProfileConfig overrides the frozen profile tables.
type ProfileConfig struct {
	PlatformWeights map[string]float64 `mapstructure:"platform_weights"`
}

// RotationConfig controls how profiles are replaced.
type RotationConfig struct {
	Mode                string        `mapstructure:"mode"`
	Interval            time.Duration `mapstructure:"interval"`
	AutoRotateThreshold int           `mapstructure:"auto_rotate_threshold"`
	ManualMinGap        time.Duration `mapstructure:"manual_min_gap"`
	ManualBurst         int           `mapstructure:"manual_burst"`
}

// EnforcementConfig controls the OS adapter and its worker pool.
type EnforcementConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	DryRun         bool          `mapstructure:"dry_run"`
	BlockLeakPorts bool          `mapstructure:"block_leak_ports"`
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	ApplyTimeout   time.Duration `mapstructure:"apply_timeout"`
}

// StatusConfig locates the status file.
type StatusConfig struct {
	Path string `mapstructure:"path"`
}

// HealthConfig tunes the health check.
type HealthConfig struct {
	MaxAge  time.Duration `mapstructure:"max_age"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PostgresConfig holds settings for the optional rotation journal.
type PostgresConfig struct {
	URL            string        `mapstructure:"url"`
	JournalTimeout time.Duration `mapstructure:"journal_timeout"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// SetDefaults registers every default so the agent runs with no config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "spicy-cat")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("agent.enabled", true)
	v.SetDefault("agent.seed", 0)
	v.SetDefault("agent.seed_file", "")
	v.SetDefault("agent.pid_file", "/run/spicy-cat/agent.pid")
	v.SetDefault("agent.stop_timeout", "3s")
	v.SetDefault("agent.threat_baseline", 5)
	v.SetDefault("agent.threat_staleness", "30m")
	v.SetDefault("agent.threat_ramp", "2h")

	v.SetDefault("telemetry.chaos_enabled", true)
	v.SetDefault("telemetry.dns_chaff_enabled", true)
	v.SetDefault("telemetry.phantom_swarm_enabled", false)
	v.SetDefault("telemetry.interval", 5.0)
	v.SetDefault("telemetry.jitter_fraction", 0.4)
	v.SetDefault("telemetry.emit_timeout", "5s")
	v.SetDefault("telemetry.min_padding", "50ms")
	v.SetDefault("telemetry.max_padding", "1500ms")
	v.SetDefault("telemetry.handshake_timeout", "5s")

	v.SetDefault("rotation.mode", "both")
	v.SetDefault("rotation.interval", "45m")
	v.SetDefault("rotation.auto_rotate_threshold", 90)
	v.SetDefault("rotation.manual_min_gap", "2s")
	v.SetDefault("rotation.manual_burst", 5)

	v.SetDefault("enforcement.enabled", true)
	v.SetDefault("enforcement.dry_run", false)
	v.SetDefault("enforcement.block_leak_ports", true)
	v.SetDefault("enforcement.workers", 1)
	v.SetDefault("enforcement.queue_size", 8)
	v.SetDefault("enforcement.apply_timeout", "15s")

	v.SetDefault("status.path", "/run/spicy-cat/status.json")
	v.SetDefault("health.max_age", "300s")
	v.SetDefault("health.timeout", "10s")
	v.SetDefault("postgres.journal_timeout", "5s")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9464")
}

// BindEnv wires the short environment names the agent has always accepted.
// Everything else is reachable as SPICYCAT_<SECTION>_<KEY>.
func BindEnv(v *viper.Viper) {
	_ = v.BindEnv("agent.enabled", "AGENT_ENABLED", "SPICYCAT_AGENT_ENABLED")
	_ = v.BindEnv("telemetry.chaos_enabled", "TELEMETRY_CHAOS_ENABLED", "SPICYCAT_TELEMETRY_CHAOS_ENABLED")
	_ = v.BindEnv("telemetry.dns_chaff_enabled", "DNS_CHAFF_ENABLED", "SPICYCAT_TELEMETRY_DNS_CHAFF_ENABLED")
	_ = v.BindEnv("telemetry.phantom_swarm_enabled", "PHANTOM_SWARM_ENABLED", "SPICYCAT_TELEMETRY_PHANTOM_SWARM_ENABLED")
	_ = v.BindEnv("telemetry.interval", "TELEMETRY_INTERVAL", "SPICYCAT_TELEMETRY_INTERVAL")
	_ = v.BindEnv("postgres.url", "DATABASE_URL", "SPICYCAT_POSTGRES_URL")
}

// Validate reports the first invalid field as a *schemas.ConfigError.
func (c *Config) Validate() error {
	iv := c.Telemetry.IntervalSeconds
	switch {
	case math.IsNaN(iv) || math.IsInf(iv, 0) || iv <= 0:
		return &schemas.ConfigError{Field: "telemetry.interval", Reason: "must be a positive number of seconds"}
	case c.Telemetry.JitterFraction < 0.05 || c.Telemetry.JitterFraction > 0.9:
		return &schemas.ConfigError{Field: "telemetry.jitter_fraction", Reason: "must be within [0.05,0.9]; periodic timing is a fingerprint"}
	case c.Telemetry.MinPadding > c.Telemetry.MaxPadding:
		return &schemas.ConfigError{Field: "telemetry.min_padding", Reason: "must not exceed max_padding"}
	case c.Agent.StopTimeout <= 0:
		return &schemas.ConfigError{Field: "agent.stop_timeout", Reason: "must be positive"}
	case c.Agent.ThreatBaseline < 0 || c.Agent.ThreatBaseline > 100:
		return &schemas.ConfigError{Field: "agent.threat_baseline", Reason: "must be within 0-100"}
	case c.Agent.ThreatRamp <= 0:
		return &schemas.ConfigError{Field: "agent.threat_ramp", Reason: "must be positive"}
	case c.Status.Path == "":
		return &schemas.ConfigError{Field: "status.path", Reason: "is required"}
	case c.Enforcement.Workers < 1:
		return &schemas.ConfigError{Field: "enforcement.workers", Reason: "must be a positive integer"}
	case c.Enforcement.QueueSize < 1:
		return &schemas.ConfigError{Field: "enforcement.queue_size", Reason: "must be a positive integer"}
	case c.Metrics.Enabled && c.Metrics.ListenAddr == "":
		return &schemas.ConfigError{Field: "metrics.listen_addr", Reason: "is required when metrics are enabled"}
	}

	switch c.Rotation.Mode {
	case "manual":
	case "scheduled", "both":
		if c.Rotation.Interval <= 0 {
			return &schemas.ConfigError{Field: "rotation.interval", Reason: "must be positive when scheduled rotation is enabled"}
		}
	default:
		return &schemas.ConfigError{Field: "rotation.mode", Reason: fmt.Sprintf("unknown mode %q (want manual, scheduled or both)", c.Rotation.Mode)}
	}
	if t := c.Rotation.AutoRotateThreshold; t < 0 || t > 100 {
		return &schemas.ConfigError{Field: "rotation.auto_rotate_threshold", Reason: "must be within 0-100"}
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			loadErr = err
			return
		}
		Set(&cfg)
	})
	return loadErr
}

// Set replaces the configuration singleton.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}

// envKeyReplacer maps nested keys onto environment names: telemetry.interval
// becomes SPICYCAT_TELEMETRY_INTERVAL.
var envKeyReplacer = strings.NewReplacer(".", "_")

// ConfigureEnv applies the SPICYCAT_ prefix and the explicit bindings to v.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix("SPICYCAT")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	BindEnv(v)
}
