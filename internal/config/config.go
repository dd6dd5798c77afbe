package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	API        APIConfig        `yaml:"api"`
	Google     GoogleConfig     `yaml:"google"`
	Sync       SyncConfig       `yaml:"sync"`
	Security   SecurityConfig   `yaml:"security"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	FrontendURL string `yaml:"frontend_url"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type APIConfig struct {
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	HeaderToken string         `yaml:"header_token"`
	Tokens      []APIUserToken `yaml:"tokens"`
}

// APIUserToken maps a bearer token to a stable user identifier.
type APIUserToken struct {
	Token  string `yaml:"token"`
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type GoogleConfig struct {
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	RedirectURI    string `yaml:"redirect_uri"`
	WebhookBaseURL string `yaml:"webhook_base_url"`
	CalendarName   string `yaml:"calendar_name"`
}

type SyncConfig struct {
	Workers      int `yaml:"workers"`
	ClaimBatch   int `yaml:"claim_batch"`
	CronBatch    int `yaml:"cron_batch"`
	PollInterval int `yaml:"poll_interval_seconds"`
	MaxAttempts  int `yaml:"max_attempts"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
	StateSecret   string `yaml:"state_secret"`
	CronSecret    string `yaml:"cron_secret"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment may already be populated.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Expand ${VAR} references before parsing so secrets stay out of YAML.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
		return errors.New("google client credentials are required")
	}
	if c.Google.RedirectURI == "" {
		return errors.New("google redirect_uri is required")
	}
	if c.Security.EncryptionKey == "" {
		return errors.New("security encryption_key is required")
	}
	if c.Security.StateSecret == "" {
		return errors.New("security state_secret is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderToken == "" {
		c.API.Auth.HeaderToken = "authorization"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Google.CalendarName == "" {
		c.Google.CalendarName = "Tasks"
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 2
	}
	if c.Sync.ClaimBatch == 0 {
		c.Sync.ClaimBatch = 20
	}
	if c.Sync.CronBatch == 0 {
		c.Sync.CronBatch = 100
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 2
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 7
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
