// Package config loads the service configuration from environment
// variables (QOREDB_ prefix) with an optional YAML file underneath.
// Environment always wins over the file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
	Payments PaymentsConfig `yaml:"payments" envconfig:"PAYMENTS"`
	Mailer   MailerConfig   `yaml:"mailer" envconfig:"MAILER"`
	Site     SiteConfig     `yaml:"site" envconfig:"SITE"`
	Releases ReleasesConfig `yaml:"releases" envconfig:"RELEASES"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// SecurityConfig contains CORS and rate limiting configuration.
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration. The resend
// endpoint triggers outbound email, so it gets its own tighter limit.
type RateLimitConfig struct {
	Enabled     bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS         float64 `yaml:"rps" envconfig:"RPS"`
	Burst       int     `yaml:"burst" envconfig:"BURST"`
	ResendRPS   float64 `yaml:"resend_rps" envconfig:"RESEND_RPS"`
	ResendBurst int     `yaml:"resend_burst" envconfig:"RESEND_BURST"`
}

// LoggingConfig contains logging configuration. Format is always JSON.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// LicenseConfig contains the license signing configuration. PrivateKey
// is the base64 Ed25519 key; it never appears in the YAML file.
type LicenseConfig struct {
	PrivateKey string `yaml:"-" envconfig:"PRIVATE_KEY"`
}

// PaymentsConfig contains the payment provider configuration.
type PaymentsConfig struct {
	SecretKey     string `yaml:"-" envconfig:"SECRET_KEY"`
	WebhookSecret string `yaml:"-" envconfig:"WEBHOOK_SECRET"`
	BaseURL       string `yaml:"base_url" envconfig:"BASE_URL"`
	PriceID       string `yaml:"price_id" envconfig:"PRICE_ID"`
}

// MailerConfig contains the transactional email configuration.
type MailerConfig struct {
	APIKey  string `yaml:"-" envconfig:"API_KEY"`
	From    string `yaml:"from" envconfig:"FROM"`
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`
}

// SiteConfig contains the public site URLs checkout redirects back to.
type SiteConfig struct {
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`
}

// ReleasesConfig points at the repository the latest-release endpoint
// proxies.
type ReleasesConfig struct {
	Repo     string        `yaml:"repo" envconfig:"REPO"`
	CacheTTL time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
}

// Load reads configuration from the environment and, if present, a
// config.yaml file. Environment values take precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := configFilePath(); path != "" {
		fileCfg, err := loadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
		*cfg = *fileCfg
	}

	if err := envconfig.Process("QOREDB", cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configFilePath() string {
	for _, location := range []string{"config.yaml", "configs/config.yaml"} {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	// An empty webhook secret would make the HMAC computable by anyone,
	// so a missing secret is fatal rather than degraded.
	if c.License.PrivateKey == "" {
		return fmt.Errorf("license signing private key is required (QOREDB_LICENSE_PRIVATE_KEY)")
	}
	if c.Payments.SecretKey == "" {
		return fmt.Errorf("payment provider secret key is required (QOREDB_PAYMENTS_SECRET_KEY)")
	}
	if c.Payments.WebhookSecret == "" {
		return fmt.Errorf("payment webhook signing secret is required (QOREDB_PAYMENTS_WEBHOOK_SECRET)")
	}

	// JSON logging only.
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"https://qoredb.com"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled:     true,
				RPS:         50,
				Burst:       25,
				ResendRPS:   1,
				ResendBurst: 3,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "logs/app.log",
		},
		Mailer: MailerConfig{
			From: "QoreDB <licenses@qoredb.com>",
		},
		Site: SiteConfig{
			BaseURL: "https://qoredb.com",
		},
		Releases: ReleasesConfig{
			Repo:     "qoredb/qoredb",
			CacheTTL: 5 * time.Minute,
		},
	}
}
