package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("EXEF_SERVER_DEBUG", "true")

	cfg, err := LoadConfig("EXEF", "")
	require.NoError(t, err)
	assert.Equal(t, "exef", cfg.Service.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "exef.db", cfg.Database.MainPath)
	assert.False(t, cfg.Database.UseEntityDB)
	assert.Equal(t, "{nip}.db", cfg.Database.EntityPathTemplate)
	assert.Equal(t, "local_to_remote", cfg.Sync.Direction)
	assert.Equal(t, 100, cfg.Security.RateLimit)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("EXEF_SERVER_DEBUG", "true")
	t.Setenv("EXEF_SERVER_PORT", "9090")
	t.Setenv("EXEF_DATABASE_USE_ENTITY_DB", "true")
	t.Setenv("EXEF_DATABASE_ENTITY_DIR", "/tmp/exef-entities")

	cfg, err := LoadConfig("EXEF", "")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Database.UseEntityDB)
	assert.Equal(t, "/tmp/exef-entities", cfg.Database.EntityDir)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  debug: true
  port: 8095
database:
  main_path: /var/lib/exef/main.db
security:
  jwt_secret: test-secret
sync:
  direction: bidirectional
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig("EXEF", path)
	require.NoError(t, err)
	assert.Equal(t, 8095, cfg.Server.Port)
	assert.Equal(t, "/var/lib/exef/main.db", cfg.Database.MainPath)
	assert.Equal(t, "test-secret", cfg.Security.JWTSecret)
	assert.Equal(t, "bidirectional", cfg.Sync.Direction)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"missing main path", func(c *Config) { c.Database.MainPath = "" }, "main_path"},
		{"entity dir required", func(c *Config) { c.Database.UseEntityDB = true; c.Database.EntityDir = "" }, "entity_dir"},
		{"jwt secret required", func(c *Config) { c.Server.Debug = false; c.Security.JWTSecret = "" }, "jwt_secret"},
		{"bad sync direction", func(c *Config) { c.Sync.Direction = "sideways" }, "sync direction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:   ServerConfig{Port: 8080, Debug: true},
				Database: DatabaseConfig{MainPath: "exef.db"},
				Sync:     SyncConfig{Direction: "local_to_remote"},
			}
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEntityRemoteURL(t *testing.T) {
	s := SyncConfig{RemoteURL: "https://sync.example.pl/db/{nip}"}
	assert.Equal(t, "https://sync.example.pl/db/5213003700", s.EntityRemoteURL("5213003700"))
}
