// Package config provides YAML-based configuration loading for Visitline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Visitline configuration, loaded from visitline.yaml.
type Config struct {
	Timezone   string           `yaml:"timezone"`
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Geofence   GeofenceConfig   `yaml:"geofence"`
	Access     AccessConfig     `yaml:"access"`
	Compliance ComplianceConfig `yaml:"compliance"`
	Presence   PresenceConfig   `yaml:"presence"`
	Notify     NotifyConfig     `yaml:"notify"`
	Seed       string           `yaml:"seed"` // optional path to a master-data fixture

	location *time.Location
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite, mysql, postgres
	DSN      string `yaml:"dsn"`    // overrides the fields below when set
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// GeofenceConfig holds the check-in proximity policy.
type GeofenceConfig struct {
	RadiusMeters float64 `yaml:"radius_meters"`
}

// AccessConfig holds the device access window policy.
type AccessConfig struct {
	EarlyMarginMinutes int `yaml:"early_margin_minutes"`
}

// ComplianceConfig controls the punch compliance sweep.
type ComplianceConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Schedule            string `yaml:"schedule"`
	OnlineWindowMinutes int    `yaml:"online_window_minutes"`
	RealertMinutes      int    `yaml:"realert_minutes"`
}

// PresenceConfig selects where agent heartbeats are kept.
type PresenceConfig struct {
	Backend string      `yaml:"backend"` // db, redis
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NotifyConfig wires the alert channels.
type NotifyConfig struct {
	SMS              SMSConfig     `yaml:"sms"`
	Slack            SlackConfig   `yaml:"slack"`
	Discord          DiscordConfig `yaml:"discord"`
	SupervisorPhones []string      `yaml:"supervisor_phones"`
}

// SMSConfig points at the text-message gateway.
type SMSConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Sender  string `yaml:"sender"`
}

// SlackConfig holds the supervisor Slack channel.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds the supervisor Discord channel.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the config, if present, is loaded first so secrets can
// stay out of the YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, statErr := os.Stat(envPath); statErr == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", envPath, err)
		}
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location returns the wall-clock zone visits and schedules are expressed in.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// OnlineWindow is how recent a heartbeat must be for an agent to count as online.
func (c *Config) OnlineWindow() time.Duration {
	return time.Duration(c.Compliance.OnlineWindowMinutes) * time.Minute
}

// RealertAfter is the minimum spacing between repeated compliance alerts.
func (c *Config) RealertAfter() time.Duration {
	return time.Duration(c.Compliance.RealertMinutes) * time.Minute
}

// applyEnv overrides secrets from the environment.
func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"VL_JWT_SECRET", &c.Server.JWTSecret},
		{"VL_DB_PASSWORD", &c.Database.Password},
		{"VL_DB_DSN", &c.Database.DSN},
		{"VL_REDIS_PASSWORD", &c.Presence.Redis.Password},
		{"VL_SMS_TOKEN", &c.Notify.SMS.Token},
		{"VL_SLACK_BOT_TOKEN", &c.Notify.Slack.BotToken},
		{"VL_DISCORD_BOT_TOKEN", &c.Notify.Discord.BotToken},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.dst = v
		}
	}
	if v := os.Getenv("VL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "visitline.db"
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
	case "postgres":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
	}
	if c.Database.Name == "" {
		c.Database.Name = "visitline"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Geofence.RadiusMeters == 0 {
		c.Geofence.RadiusMeters = 300
	}
	if c.Access.EarlyMarginMinutes == 0 {
		c.Access.EarlyMarginMinutes = 30
	}
	if c.Compliance.Schedule == "" {
		c.Compliance.Schedule = "@every 1m"
	}
	if c.Compliance.OnlineWindowMinutes == 0 {
		c.Compliance.OnlineWindowMinutes = 15
	}
	if c.Presence.Backend == "" {
		c.Presence.Backend = "db"
	}
	if c.Presence.Backend == "redis" && c.Presence.Redis.Addr == "" {
		c.Presence.Redis.Addr = "127.0.0.1:6379"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q is invalid", c.Timezone))
	} else {
		c.location = loc
	}
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of sqlite, mysql, postgres", c.Database.Driver))
	}
	if c.Server.JWTSecret == "" {
		errs = append(errs, "server.jwt_secret is required (or set VL_JWT_SECRET)")
	}
	if c.Geofence.RadiusMeters < 0 {
		errs = append(errs, "geofence.radius_meters must be positive")
	}
	if c.Access.EarlyMarginMinutes < 0 {
		errs = append(errs, "access.early_margin_minutes must not be negative")
	}
	if c.Compliance.RealertMinutes < 0 {
		errs = append(errs, "compliance.realert_minutes must not be negative")
	}
	switch c.Presence.Backend {
	case "db", "redis":
	default:
		errs = append(errs, fmt.Sprintf("presence.backend %q is not one of db, redis", c.Presence.Backend))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of json, console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
