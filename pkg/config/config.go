// Package config provides YAML-based configuration loading for aprslink.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// Callsign is the station callsign used for packets we originate.
	Callsign string `mapstructure:"callsign"`

	// AppName and Version are sent to the APRS-IS server at login.
	AppName string `mapstructure:"app_name"`
	Version string `mapstructure:"version"`

	// EnablePacketLogging toggles per-packet log lines.
	EnablePacketLogging bool `mapstructure:"enable_packet_logging"`

	Log LogConfig `mapstructure:"log"`

	AprsNetwork AprsNetworkConfig `mapstructure:"aprs_network"`
	KissTCP     KissTCPConfig     `mapstructure:"kiss_tcp"`
	KissSerial  KissSerialConfig  `mapstructure:"kiss_serial"`
	Fake        FakeConfig        `mapstructure:"fake"`

	Connect   ConnectConfig   `mapstructure:"connect"`
	Keepalive KeepaliveConfig `mapstructure:"keepalive"`
	Client    ClientConfig    `mapstructure:"client"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// AprsNetworkConfig is the APRS-IS aggregator connection.
type AprsNetworkConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Login    string `mapstructure:"login"`
	Password string `mapstructure:"password"` // "-1" logs in receive-only
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Filter   string `mapstructure:"filter"`
}

// KissTCPConfig is a KISS TNC reachable over TCP (e.g. Direwolf :8001).
type KissTCPConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Host    string   `mapstructure:"host"`
	Port    int      `mapstructure:"port"`
	Path    []string `mapstructure:"path"`
}

// KissSerialConfig is a KISS TNC attached to a serial port.
type KissSerialConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Device   string   `mapstructure:"device"`
	Baudrate int      `mapstructure:"baudrate"`
	Path     []string `mapstructure:"path"`
}

// FakeConfig enables the in-process simulator transport.
type FakeConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ConnectConfig tunes connect retries. Backoff grows additively by Step
// from Min up to Max.
type ConnectConfig struct {
	Attempts       int `mapstructure:"attempts"`
	BackoffMinMS   int `mapstructure:"backoff_min_ms"`
	BackoffMaxMS   int `mapstructure:"backoff_max_ms"`
	BackoffStepMS  int `mapstructure:"backoff_step_ms"`
	DialTimeoutMS  int `mapstructure:"dial_timeout_ms"`
	LoginTimeoutMS int `mapstructure:"login_timeout_ms"`
}

// KeepaliveConfig controls the supervisor and the staleness threshold.
type KeepaliveConfig struct {
	IntervalS   int `mapstructure:"interval_s"`
	StaleAfterS int `mapstructure:"stale_after_s"`
}

// ClientConfig controls the client facade.
type ClientConfig struct {
	AutoConnect        bool `mapstructure:"auto_connect"`
	ReconnectPerMinute int  `mapstructure:"reconnect_per_minute"`
	PollTimeoutMS      int  `mapstructure:"poll_timeout_ms"`
	// DedupWindowS drops repeats of a received packet within this many
	// seconds; 0 disables duplicate suppression.
	DedupWindowS int `mapstructure:"dedup_window_s"`
}

// MetricsConfig exposes prometheus metrics over HTTP when enabled.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "aprslink",
		Version: "0.1.0",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/aprslink.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		AprsNetwork: AprsNetworkConfig{Host: "rotate.aprs.net", Port: 14580},
		KissTCP:     KissTCPConfig{Host: "localhost", Port: 8001, Path: []string{"WIDE1-1", "WIDE2-1"}},
		KissSerial:  KissSerialConfig{Baudrate: 9600, Path: []string{"WIDE1-1", "WIDE2-1"}},
		Connect: ConnectConfig{
			Attempts:       3,
			BackoffMinMS:   1000,
			BackoffMaxMS:   5000,
			BackoffStepMS:  1000,
			DialTimeoutMS:  10000,
			LoginTimeoutMS: 5000,
		},
		Keepalive: KeepaliveConfig{IntervalS: 60, StaleAfterS: 120},
		Client:    ClientConfig{AutoConnect: true, ReconnectPerMinute: 6, PollTimeoutMS: 1000, DedupWindowS: 30},
		Metrics:   MetricsConfig{Listen: ":9109"},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix APRSLINK and `.`/`-` are replaced with `_`.
// Example: APRSLINK_APRS_NETWORK_PASSWORD=12345
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APRSLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("callsign", cfg.Callsign)
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("version", cfg.Version)
	v.SetDefault("enable_packet_logging", cfg.EnablePacketLogging)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	// Transports
	v.SetDefault("aprs_network.enabled", cfg.AprsNetwork.Enabled)
	v.SetDefault("aprs_network.login", cfg.AprsNetwork.Login)
	v.SetDefault("aprs_network.password", cfg.AprsNetwork.Password)
	v.SetDefault("aprs_network.host", cfg.AprsNetwork.Host)
	v.SetDefault("aprs_network.port", cfg.AprsNetwork.Port)
	v.SetDefault("aprs_network.filter", cfg.AprsNetwork.Filter)
	v.SetDefault("kiss_tcp.enabled", cfg.KissTCP.Enabled)
	v.SetDefault("kiss_tcp.host", cfg.KissTCP.Host)
	v.SetDefault("kiss_tcp.port", cfg.KissTCP.Port)
	v.SetDefault("kiss_tcp.path", cfg.KissTCP.Path)
	v.SetDefault("kiss_serial.enabled", cfg.KissSerial.Enabled)
	v.SetDefault("kiss_serial.device", cfg.KissSerial.Device)
	v.SetDefault("kiss_serial.baudrate", cfg.KissSerial.Baudrate)
	v.SetDefault("kiss_serial.path", cfg.KissSerial.Path)
	v.SetDefault("fake.enabled", cfg.Fake.Enabled)
	// Connection lifecycle
	v.SetDefault("connect.attempts", cfg.Connect.Attempts)
	v.SetDefault("connect.backoff_min_ms", cfg.Connect.BackoffMinMS)
	v.SetDefault("connect.backoff_max_ms", cfg.Connect.BackoffMaxMS)
	v.SetDefault("connect.backoff_step_ms", cfg.Connect.BackoffStepMS)
	v.SetDefault("connect.dial_timeout_ms", cfg.Connect.DialTimeoutMS)
	v.SetDefault("connect.login_timeout_ms", cfg.Connect.LoginTimeoutMS)
	v.SetDefault("keepalive.interval_s", cfg.Keepalive.IntervalS)
	v.SetDefault("keepalive.stale_after_s", cfg.Keepalive.StaleAfterS)
	v.SetDefault("client.auto_connect", cfg.Client.AutoConnect)
	v.SetDefault("client.reconnect_per_minute", cfg.Client.ReconnectPerMinute)
	v.SetDefault("client.poll_timeout_ms", cfg.Client.PollTimeoutMS)
	v.SetDefault("client.dedup_window_s", cfg.Client.DedupWindowS)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("APRSLINK_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `aprslink`
		v.SetConfigName("aprslink")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".aprslink"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	c.Callsign = strings.ToUpper(strings.TrimSpace(c.Callsign))
	if c.Connect.Attempts <= 0 {
		c.Connect.Attempts = 1
	}
	if c.Connect.BackoffMaxMS < c.Connect.BackoffMinMS {
		return fmt.Errorf("connect.backoff_max_ms (%d) below backoff_min_ms (%d)", c.Connect.BackoffMaxMS, c.Connect.BackoffMinMS)
	}
	// transport-specific completeness is checked by each driver, not here
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// DialTimeout returns connect.dial_timeout_ms as a duration.
func (c ConnectConfig) DialTimeout() time.Duration { return ms(c.DialTimeoutMS) }

// LoginTimeout returns connect.login_timeout_ms as a duration.
func (c ConnectConfig) LoginTimeout() time.Duration { return ms(c.LoginTimeoutMS) }

// StaleAfter returns keepalive.stale_after_s as a duration.
func (k KeepaliveConfig) StaleAfter() time.Duration {
	return time.Duration(k.StaleAfterS) * time.Second
}

// Interval returns keepalive.interval_s as a duration.
func (k KeepaliveConfig) Interval() time.Duration {
	return time.Duration(k.IntervalS) * time.Second
}

// PollTimeout returns client.poll_timeout_ms as a duration.
func (c ClientConfig) PollTimeout() time.Duration { return ms(c.PollTimeoutMS) }

// DedupWindow returns client.dedup_window_s as a duration.
func (c ClientConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowS) * time.Second
}
