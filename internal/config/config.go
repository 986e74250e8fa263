// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultJWTExpiresIn    = "24h"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "safewalk"
	DefaultPGSSLMode       = "disable"
	DefaultWatchInterval   = "1m"
	DefaultMaxContacts     = 5
	DefaultEphemeralTTL    = "20h"
	DefaultSMSWeeklyCap    = 25
	DefaultRetentionWindow = "720h"
	DefaultMinCodeLength   = 6
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	CheckIn  CheckInConfig  `toml:"checkin"`
	Notify   NotifyConfig   `toml:"notify"`
	Channels ChannelsConfig `toml:"channels"`
	Admin    AdminConfig    `toml:"admin"`
}

// AdminConfig optionally bootstraps a first account on startup.
type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig holds JWT secret, token expiry, and the passcode length policy.
type AuthConfig struct {
	JWTSecret     string `toml:"jwt_secret"`
	JWTExpiresIn  string `toml:"jwt_expires_in"`
	MinCodeLength int    `toml:"min_code_length"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// CheckInConfig holds check-in lifecycle settings: watcher cadence, persistent
// contact cap, ephemeral contact lifetime, and the retention purge window.
type CheckInConfig struct {
	WatchInterval   string `toml:"watch_interval"`
	MaxContacts     int    `toml:"max_contacts"`
	EphemeralTTL    string `toml:"ephemeral_ttl"`
	RetentionWindow string `toml:"retention_window"`
}

// NotifyConfig holds dispatcher capacity settings.
type NotifyConfig struct {
	SMSWeeklyCap   int     `toml:"sms_weekly_cap"`
	SendsPerSecond float64 `toml:"sends_per_second"`
	MaxParallel    int     `toml:"max_parallel"`
}

// ChannelsConfig holds per-transport credentials for outbound channels.
type ChannelsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	SMTP     SMTPConfig     `toml:"smtp"`
	SMS      ProviderConfig `toml:"sms"`
	Push     ProviderConfig `toml:"push"`
}

// TelegramConfig holds the bridge bot token and the webhook shared secret.
type TelegramConfig struct {
	BotToken      string `toml:"bot_token"`
	WebhookSecret string `toml:"webhook_secret"`
}

// SMTPConfig holds the SMTP relay used by the email fallback channel.
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
}

// ProviderConfig holds an external HTTP provider endpoint and credential.
type ProviderConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn:  DefaultJWTExpiresIn,
			MinCodeLength: DefaultMinCodeLength,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		CheckIn: CheckInConfig{
			WatchInterval:   DefaultWatchInterval,
			MaxContacts:     DefaultMaxContacts,
			EphemeralTTL:    DefaultEphemeralTTL,
			RetentionWindow: DefaultRetentionWindow,
		},
		Notify: NotifyConfig{
			SMSWeeklyCap:   DefaultSMSWeeklyCap,
			SendsPerSecond: 10,
			MaxParallel:    8,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
