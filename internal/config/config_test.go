// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NotNil(t, cfg)

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1920, cfg.Browser.Window.Width)
	assert.Equal(t, 1080, cfg.Browser.Window.Height)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.ImplicitWait)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.PageLoad)
	assert.Equal(t, 3, cfg.Resolver.MaxAttempts)

	require.NoError(t, cfg.Validate(), "defaults must always validate")
}

// TestConfigClone verifies a clone is detached from the original, including
// the extra-arguments slice, so later caller mutations cannot leak in.
func TestConfigClone(t *testing.T) {
	orig := NewDefaultConfig()
	orig.Browser.ExtraArgs = []string{"--lang=en-US"}

	clone := orig.Clone()
	require.NotSame(t, orig, clone)
	assert.Equal(t, orig, clone)

	orig.Browser.Headless = false
	orig.Browser.ExtraArgs[0] = "--lang=de-DE"
	orig.Browser.ExtraArgs = append(orig.Browser.ExtraArgs, "--incognito")
	orig.Timeouts.PageLoad = time.Minute * 5

	assert.True(t, clone.Browser.Headless)
	assert.Equal(t, []string{"--lang=en-US"}, clone.Browser.ExtraArgs)
	assert.Equal(t, 60*time.Second, clone.Timeouts.PageLoad)
}

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero window width",
			mutate:  func(c *Config) { c.Browser.Window.Width = 0 },
			wantErr: "browser.window_size",
		},
		{
			name:    "negative window height",
			mutate:  func(c *Config) { c.Browser.Window.Height = -50 },
			wantErr: "browser.window_size",
		},
		{
			name:    "negative implicit wait",
			mutate:  func(c *Config) { c.Timeouts.ImplicitWait = -time.Second },
			wantErr: "implicit_wait",
		},
		{
			name:    "zero page load timeout",
			mutate:  func(c *Config) { c.Timeouts.PageLoad = 0 },
			wantErr: "page_load_timeout",
		},
		{
			name:    "zero start timeout",
			mutate:  func(c *Config) { c.Timeouts.Start = 0 },
			wantErr: "start",
		},
		{
			name:    "zero resolver attempts",
			mutate:  func(c *Config) { c.Resolver.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewConfigFromViper(t *testing.T) {
	t.Run("overrides applied", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("browser.headless", false)
		v.Set("browser.window_size.width", 1024)
		v.Set("browser.window_size.height", 768)
		v.Set("browser.extra_arguments", []string{"--lang=en-US"})

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.False(t, cfg.Browser.Headless)
		assert.Equal(t, 1024, cfg.Browser.Window.Width)
		assert.Equal(t, 768, cfg.Browser.Window.Height)
		assert.Equal(t, []string{"--lang=en-US"}, cfg.Browser.ExtraArgs)
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("browser.window_size.width", -1)

		cfg, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Nil(t, cfg, "no partially valid config is ever returned")
	})
}
