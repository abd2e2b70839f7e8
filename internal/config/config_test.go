package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerDefaults(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "./data/cases.db", cfg.Store.SQLitePath)
	assert.False(t, cfg.LLM.Enabled)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, "---", cfg.Pipeline.Separator)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.NoError(t, m.Validate())
	assert.False(t, m.IsProduction())
}

func TestManagerEnvOverride(t *testing.T) {
	t.Setenv("HFREC_SERVER_PORT", "9090")
	t.Setenv("HFREC_STORE_BACKEND", "postgres")
	t.Setenv("HFREC_STORE_DATABASE_URL", "postgres://localhost/hfrec")
	t.Setenv("HFREC_ENVIRONMENT", "production")

	m, err := NewManager()
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.NoError(t, m.Validate())
	assert.True(t, m.IsProduction())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Store.Backend = "oracle" },
			wantErr: "unknown store backend",
		},
		{
			name: "postgres without URL",
			mutate: func(c *Config) {
				c.Store.Backend = "postgres"
				c.Store.DatabaseURL = ""
			},
			wantErr: "database URL is required",
		},
		{
			name: "llm enabled without URL",
			mutate: func(c *Config) {
				c.LLM.Enabled = true
				c.LLM.BaseURL = ""
			},
			wantErr: "llm base URL is required",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Pipeline.Workers = 0 },
			wantErr: "pipeline workers must be positive",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager()
			require.NoError(t, err)
			tt.mutate(m.GetConfig())

			err = m.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}
