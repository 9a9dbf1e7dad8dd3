// Package config loads relaypush configuration from an optional YAML file
// overlaid with environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the YAML file path.
const EnvConfigPath = "RELAYPUSH_CONFIG"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// StoreKind selects the activation state store backend.
type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreFile     StoreKind = "file"
	StorePostgres StoreKind = "postgres"
	StoreRedis    StoreKind = "redis"
)

// GatewayConfig configures the registration REST client.
type GatewayConfig struct {
	BaseURL       string        `yaml:"base_url"`
	FallbackHosts []string      `yaml:"fallback_hosts"`
	APIKey        string        `yaml:"api_key"`
	Token         string        `yaml:"token"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    uint64        `yaml:"max_retries"`
}

// RedisConfig configures the redis state store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StoreConfig configures where activation state is persisted.
type StoreConfig struct {
	Kind  StoreKind   `yaml:"kind"`
	Path  string      `yaml:"path"`
	Slot  string      `yaml:"slot"`
	Redis RedisConfig `yaml:"redis"`
}

// DeviceConfig holds the static registration details of this device.
type DeviceConfig struct {
	ClientID   string            `yaml:"client_id"`
	Platform   string            `yaml:"platform"`
	FormFactor string            `yaml:"form_factor"`
	Transport  string            `yaml:"transport"`
	Metadata   map[string]string `yaml:"metadata"`
}

// TelemetryConfig configures OpenTelemetry and crash reporting.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Environment  string `yaml:"environment"`
	SentryDSN    string `yaml:"sentry_dsn"`

	// SampleRatio is the fraction of traces kept. Zero keeps all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ServerConfig configures the reference registration service.
type ServerConfig struct {
	Port          string        `yaml:"port"`
	SigningKey    string        `yaml:"signing_key"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	APIKeys       []string      `yaml:"api_keys"`
	PubsubProject string        `yaml:"pubsub_project"`
	PubsubTopic   string        `yaml:"pubsub_topic"`
	UseDatabase   bool          `yaml:"use_database"`
}

// Config is the complete configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Store     StoreConfig     `yaml:"store"`
	Device    DeviceConfig    `yaml:"device"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		LogLevel: "info",
		Gateway: GatewayConfig{
			BaseURL:    "https://rest.relaypush.io",
			Timeout:    10 * time.Second,
			MaxRetries: 2,
		},
		Store: StoreConfig{
			Kind: StoreFile,
			Path: "relaypush-state.bin",
			Slot: "default",
		},
		Device: DeviceConfig{
			Platform:   "ios",
			FormFactor: "phone",
			Transport:  "apns",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			Environment:  "development",
		},
		Server: ServerConfig{
			Port:     "8080",
			TokenTTL: 30 * 24 * time.Hour,
		},
	}
}

// FromEnv loads the file named by RELAYPUSH_CONFIG, if any, then applies
// environment overrides and validates the result.
func FromEnv() (Config, error) {
	return Load(os.Getenv(EnvConfigPath))
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.LogLevel, "LOG_LEVEL")

	setString(&c.Gateway.BaseURL, "RELAYPUSH_BASE_URL")
	if v := os.Getenv("RELAYPUSH_FALLBACK_HOSTS"); v != "" {
		c.Gateway.FallbackHosts = splitList(v)
	}
	setString(&c.Gateway.APIKey, "RELAYPUSH_API_KEY")
	setString(&c.Gateway.Token, "RELAYPUSH_TOKEN")
	if err := setDuration(&c.Gateway.Timeout, "RELAYPUSH_TIMEOUT"); err != nil {
		return err
	}
	if v := os.Getenv("RELAYPUSH_MAX_RETRIES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: RELAYPUSH_MAX_RETRIES: %w", ErrInvalid, err)
		}
		c.Gateway.MaxRetries = n
	}

	if v := os.Getenv("RELAYPUSH_STORE"); v != "" {
		c.Store.Kind = StoreKind(strings.ToLower(v))
	}
	setString(&c.Store.Path, "RELAYPUSH_STORE_PATH")
	setString(&c.Store.Slot, "RELAYPUSH_STORE_SLOT")
	setString(&c.Store.Redis.Addr, "REDIS_ADDR")
	setString(&c.Store.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: REDIS_DB: %w", ErrInvalid, err)
		}
		c.Store.Redis.DB = db
	}

	setString(&c.Device.ClientID, "RELAYPUSH_CLIENT_ID")
	setString(&c.Device.Platform, "RELAYPUSH_PLATFORM")
	setString(&c.Device.FormFactor, "RELAYPUSH_FORM_FACTOR")
	setString(&c.Device.Transport, "RELAYPUSH_TRANSPORT")

	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true"
	}
	setString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Telemetry.Environment, "APP_ENV")
	setString(&c.Telemetry.SentryDSN, "SENTRY_DSN")
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: OTEL_TRACES_SAMPLER_ARG: %w", ErrInvalid, err)
		}
		c.Telemetry.SampleRatio = ratio
	}

	setString(&c.Server.Port, "APP_PORT")
	setString(&c.Server.SigningKey, "JWT_SIGNING_KEY")
	if err := setDuration(&c.Server.TokenTTL, "TOKEN_TTL"); err != nil {
		return err
	}
	if v := os.Getenv("API_KEYS"); v != "" {
		c.Server.APIKeys = splitList(v)
	}
	setString(&c.Server.PubsubProject, "PUBSUB_PROJECT_ID")
	setString(&c.Server.PubsubTopic, "PUBSUB_TOPIC_ID")
	if v := os.Getenv("USE_DATABASE"); v != "" {
		c.Server.UseDatabase = v == "true"
	}
	return nil
}

// Validate checks the configuration for values the binaries cannot run with.
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}

	u, err := url.Parse(c.Gateway.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: gateway base url %q must be absolute", ErrInvalid, c.Gateway.BaseURL)
	}
	for _, h := range c.Gateway.FallbackHosts {
		if h == "" || strings.Contains(h, "/") {
			return fmt.Errorf("%w: fallback host %q must be host[:port]", ErrInvalid, h)
		}
	}
	if c.Gateway.APIKey != "" && c.Gateway.Token != "" {
		return fmt.Errorf("%w: set either api key or token, not both", ErrInvalid)
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("%w: gateway timeout must be positive", ErrInvalid)
	}

	switch c.Store.Kind {
	case StoreMemory, StorePostgres:
	case StoreFile:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: file store needs a path", ErrInvalid)
		}
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("%w: redis store needs an address", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown store kind %q", ErrInvalid, c.Store.Kind)
	}

	switch c.Device.Transport {
	case "apns", "fcm":
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Device.Transport)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: sample ratio %v outside [0, 1]", ErrInvalid, c.Telemetry.SampleRatio)
	}
	return nil
}

// Level returns the parsed log level, defaulting to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
