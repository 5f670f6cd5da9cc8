package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Modem      ModemConfig      `yaml:"modem"`
	Listener   ListenerConfig   `yaml:"listener"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
}

// DatabaseConfig holds the device registry connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // "postgres" or "sqlite"
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogQueries             bool   `yaml:"log_queries"`
}

// ModemConfig describes the serial link to the GSM modem.
type ModemConfig struct {
	Port          string        `yaml:"port"`
	Baud          int           `yaml:"baud"`
	ReadTimeoutMs int           `yaml:"read_timeout_ms"` // per-chunk serial read timeout
	ReadTimeout   time.Duration `yaml:"-"`
	// Phone normalization: numbers not starting with CountryCode or
	// TrunkPrefix get CountryCode prepended; a leading TrunkPrefix is
	// replaced by CountryCode.
	CountryCode string        `yaml:"country_code"`
	TrunkPrefix string        `yaml:"trunk_prefix"`
	Timings     TimingsConfig `yaml:"timings"`
}

// TimingsConfig holds the modem turnaround delays in milliseconds.
// A zero value disables the corresponding wait, which tests rely on.
type TimingsConfig struct {
	SettleAfterOpenMs  int `yaml:"settle_after_open_ms"`
	SetupDelayMs       int `yaml:"setup_delay_ms"`
	ListDelayMs        int `yaml:"list_delay_ms"`
	DeleteDelayMs      int `yaml:"delete_delay_ms"`
	DeleteReadDelayMs  int `yaml:"delete_read_delay_ms"`
	SendStepDelayMs    int `yaml:"send_step_delay_ms"`
	SendBodyDelayMs    int `yaml:"send_body_delay_ms"`
	SendResponseWaitMs int `yaml:"send_response_wait_ms"`
	ReadWindowMs       int `yaml:"read_window_ms"`
}

// ListenerConfig drives the worker loop.
type ListenerConfig struct {
	Enabled                bool          `yaml:"enabled"`
	TickIntervalMs         int           `yaml:"tick_interval_ms"`
	TickInterval           time.Duration `yaml:"-"`
	CleanupIntervalSeconds int           `yaml:"cleanup_interval_seconds"`
	CleanupInterval        time.Duration `yaml:"-"`
	JoinTimeoutSeconds     int           `yaml:"join_timeout_seconds"`
	JoinTimeout            time.Duration `yaml:"-"`
	PollPayload            string        `yaml:"poll_payload"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset values and derives the duration fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "data/thermal.db"
	}

	if cfg.Modem.Port == "" {
		cfg.Modem.Port = "/dev/ttyUSB0"
	}
	if cfg.Modem.Baud <= 0 {
		cfg.Modem.Baud = 9600
	}
	if cfg.Modem.ReadTimeoutMs <= 0 {
		cfg.Modem.ReadTimeoutMs = 100
	}
	cfg.Modem.ReadTimeout = time.Duration(cfg.Modem.ReadTimeoutMs) * time.Millisecond
	if cfg.Modem.CountryCode == "" {
		cfg.Modem.CountryCode = "7"
	}
	if cfg.Modem.TrunkPrefix == "" {
		cfg.Modem.TrunkPrefix = "8"
	}
	if cfg.Modem.Timings == (TimingsConfig{}) {
		cfg.Modem.Timings = DefaultTimings()
	}

	if cfg.Listener.TickIntervalMs <= 0 {
		cfg.Listener.TickIntervalMs = 2000
	}
	cfg.Listener.TickInterval = time.Duration(cfg.Listener.TickIntervalMs) * time.Millisecond
	if cfg.Listener.CleanupIntervalSeconds <= 0 {
		cfg.Listener.CleanupIntervalSeconds = 1800
	}
	cfg.Listener.CleanupInterval = time.Duration(cfg.Listener.CleanupIntervalSeconds) * time.Second
	if cfg.Listener.JoinTimeoutSeconds <= 0 {
		cfg.Listener.JoinTimeoutSeconds = 5
	}
	cfg.Listener.JoinTimeout = time.Duration(cfg.Listener.JoinTimeoutSeconds) * time.Second
	if cfg.Listener.PollPayload == "" {
		cfg.Listener.PollPayload = "SN0000OFF"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
}

// DefaultTimings returns the modem delays the SIM800-class modems need.
func DefaultTimings() TimingsConfig {
	return TimingsConfig{
		SettleAfterOpenMs:  2000,
		SetupDelayMs:       1000,
		ListDelayMs:        1000,
		DeleteDelayMs:      500,
		DeleteReadDelayMs:  2000,
		SendStepDelayMs:    1000,
		SendBodyDelayMs:    500,
		SendResponseWaitMs: 3000,
		ReadWindowMs:       1000,
	}
}
