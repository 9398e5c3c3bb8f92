// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "domscope", cfg.Logger().ServiceName)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 60*time.Second, cfg.Browser().NavigationTimeout)
	assert.Equal(t, 10*time.Second, cfg.Backend().RequestTimeout)
	assert.Equal(t, 50.0, cfg.Backend().RequestsPerSecond)
	assert.Equal(t, 256, cfg.Backend().EventBuffer)
	assert.True(t, cfg.Mirror().Strict)
	assert.Equal(t, 2, cfg.Mirror().DocumentDepth)
	assert.False(t, cfg.Replay().Follow)
	assert.Empty(t, cfg.Database().URL)
	assert.NoError(t, cfg.Validate(), "the defaults must be valid")
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetBrowserHeadless(false)
	cfg.SetMirrorStrict(false)
	cfg.SetReplayFollow(true)
	cfg.SetDatabaseURL("postgres://flag/db")

	assert.False(t, cfg.Browser().Headless)
	assert.False(t, cfg.Mirror().Strict)
	assert.True(t, cfg.Replay().Follow)
	assert.Equal(t, "postgres://flag/db", cfg.Database().URL)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad log format", func(c *Config) { c.LoggerCfg.Format = "xml" }, "logger.format must be"},
		{"zero navigation timeout", func(c *Config) { c.BrowserCfg.NavigationTimeout = 0 }, "browser.navigation_timeout must be a positive duration"},
		{"zero request timeout", func(c *Config) { c.BackendCfg.RequestTimeout = 0 }, "request_timeout must be a positive duration"},
		{"zero rate", func(c *Config) { c.BackendCfg.RequestsPerSecond = 0 }, "requests_per_second must be positive"},
		{"zero burst", func(c *Config) { c.BackendCfg.Burst = 0 }, "burst must be a positive integer"},
		{"negative buffer", func(c *Config) { c.BackendCfg.EventBuffer = -1 }, "event_buffer must not be negative"},
		{"zero depth", func(c *Config) { c.MirrorCfg.DocumentDepth = 0 }, "mirror.document_depth must be -1 or a positive integer"},
		{"depth below -1", func(c *Config) { c.MirrorCfg.DocumentDepth = -2 }, "mirror.document_depth must be -1 or a positive integer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("whole tree depth", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.MirrorCfg.DocumentDepth = -1
		assert.NoError(t, cfg.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  headless: false
  args: ["--no-sandbox", "--lang=en"]
backend:
  request_timeout: 3s
mirror:
  strict: false
  document_depth: -1
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.False(t, cfg.Browser().Headless)
		assert.Equal(t, []string{"--no-sandbox", "--lang=en"}, cfg.Browser().Args)
		assert.Equal(t, 3*time.Second, cfg.Backend().RequestTimeout)
		assert.False(t, cfg.Mirror().Strict)
		assert.Equal(t, -1, cfg.Mirror().DocumentDepth)
		// A default that the file did not override.
		assert.Equal(t, 256, cfg.Backend().EventBuffer)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("backend.requests_per_second", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "requests_per_second must be positive")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
database:
  url: "postgres://configfile/db"
`)))

		t.Setenv("DOMSCOPE_DATABASE_URL", "postgres://envvar/db")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "postgres://envvar/db", cfg.Database().URL)
	})

	t.Run("Home Directory Expansion", func(t *testing.T) {
		home, err := homedir.Dir()
		if err != nil {
			t.Skipf("no home directory: %v", err)
		}
		v := viper.New()
		SetDefaults(v)
		v.Set("browser.exec_path", "~/bin/chrome")
		v.Set("logger.log_file", "~/logs/domscope.log")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "bin/chrome"), cfg.Browser().ExecPath)
		assert.Equal(t, filepath.Join(home, "logs/domscope.log"), cfg.Logger().LogFile)
	})
}
