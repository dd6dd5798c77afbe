package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
database:
  path: "test.db"
google:
  client_id: "client-id"
  client_secret: "${TEST_GOOGLE_SECRET}"
  redirect_uri: "https://example.com/api/v1/calendar/callback"
security:
  encryption_key: "0123456789abcdef0123456789abcdef"
  state_secret: "state-secret"
api:
  auth:
    tokens:
      - token: "tok-1"
        user_id: "u1"
        name: "alpha"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	// Mock .env file
	if err := os.WriteFile(".env", []byte(""), 0o644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	defer os.Remove(".env")

	t.Setenv("TEST_GOOGLE_SECRET", "expanded-secret")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Google.ClientSecret != "expanded-secret" {
		t.Errorf("expected env-expanded client secret, got %s", cfg.Google.ClientSecret)
	}
	if len(cfg.API.Auth.Tokens) != 1 || cfg.API.Auth.Tokens[0].UserID != "u1" {
		t.Errorf("expected 1 api token for u1")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		return Config{
			Database: DatabaseConfig{Path: "calsync.db"},
			Google: GoogleConfig{
				ClientID:     "id",
				ClientSecret: "secret",
				RedirectURI:  "https://example.com/cb",
			},
			Security: SecurityConfig{
				EncryptionKey: "key",
				StateSecret:   "state",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "missing google credentials", mutate: func(c *Config) { c.Google.ClientSecret = "" }, wantErr: true},
		{name: "missing redirect uri", mutate: func(c *Config) { c.Google.RedirectURI = "" }, wantErr: true},
		{name: "missing encryption key", mutate: func(c *Config) { c.Security.EncryptionKey = "" }, wantErr: true},
		{name: "missing state secret", mutate: func(c *Config) { c.Security.StateSecret = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.API.Port != 8080 {
		t.Errorf("expected default api port 8080, got %d", cfg.API.Port)
	}
	if cfg.API.Auth.HeaderToken != "authorization" {
		t.Errorf("expected default auth header, got %s", cfg.API.Auth.HeaderToken)
	}
	if cfg.Google.CalendarName != "Tasks" {
		t.Errorf("expected default calendar name Tasks, got %s", cfg.Google.CalendarName)
	}
	if cfg.Sync.Workers != 2 {
		t.Errorf("expected default workers 2, got %d", cfg.Sync.Workers)
	}
	if cfg.Sync.MaxAttempts != 7 {
		t.Errorf("expected default max attempts 7, got %d", cfg.Sync.MaxAttempts)
	}
	if cfg.Exports.Path != "exports" {
		t.Errorf("expected default exports path, got %s", cfg.Exports.Path)
	}
}
