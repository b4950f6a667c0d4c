package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "expand single env var",
			input:    "api_key: ${TEST_UPBIT_API_KEY}",
			envVars:  map[string]string{"TEST_UPBIT_API_KEY": "key_123"},
			expected: "api_key: key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "api_key: ${API_KEY}\nsecret_key: ${SECRET_KEY}",
			envVars: map[string]string{
				"API_KEY":    "key_value",
				"SECRET_KEY": "secret_value",
			},
			expected: "api_key: key_value\nsecret_key: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "config-test-*.yaml")
	require.NoError(t, err)
	_, err = tmpFile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())
	return tmpFile.Name()
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	path := writeConfig(t, `
venues:
  binance:
    api_key: "${TEST_BINANCE_API_KEY}"
    secret_key: "${TEST_BINANCE_SECRET_KEY}"
    fee_rate: 0.001
  upbit:
    kind: upbit
    api_key: "${TEST_UPBIT_API_KEY}"
    secret_key: "${TEST_UPBIT_SECRET_KEY}"
    fee_rate: 0.0005
    timeout: 3s

spread:
  enabled: true
  reference_venue: binance
  venues: [upbit]

system:
  log_level: debug
  tick_interval: 30s
`)

	t.Setenv("TEST_BINANCE_API_KEY", "bin_key")
	t.Setenv("TEST_BINANCE_SECRET_KEY", "bin_secret")
	t.Setenv("TEST_UPBIT_API_KEY", "up_key")
	t.Setenv("TEST_UPBIT_SECRET_KEY", "up_secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	binance := cfg.Venues["binance"]
	assert.Equal(t, Secret("bin_key"), binance.APIKey)
	assert.Equal(t, "binance", binance.Kind, "kind is derived from the venue name")
	assert.Equal(t, "spot", binance.Market)
	assert.Equal(t, 10*time.Second, binance.Timeout)

	upbit := cfg.Venues["upbit"]
	assert.Equal(t, "up_secret", upbit.SecretKey.Reveal())
	assert.Equal(t, 3*time.Second, upbit.Timeout)

	// omitted sections keep their defaults
	assert.Equal(t, 30*time.Second, cfg.System.TickInterval)
	assert.Equal(t, 10*time.Second, cfg.System.ErrorBackoff)
	assert.Equal(t, 1350.0, cfg.Spread.FX.Fallback)
	assert.Equal(t, "unwind", cfg.Orchestrator.UnhedgedPolicy)
	assert.Equal(t, 0.03, cfg.Risk.DailyLossRatio)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
venues:
  upbit:
    kind: kraken
    fee_rate: 2
orchestrator:
  unhedged_policy: pray
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "venues.upbit.kind")
	assert.Contains(t, msg, "venues.upbit.fee_rate")
	assert.Contains(t, msg, "venues.upbit.api_key")
	assert.Contains(t, msg, "orchestrator.unhedged_policy")
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"binance", "binance_futures", "bithumb", "bybit_futures", "upbit"}, cfg.VenueNames())
	assert.Equal(t, 24*time.Hour, cfg.Funding.HoldDuration())
}

func TestValidateSections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"unknown spread venue", func(c *Config) { c.Spread.Venues = []string{"coinone"} }, "spread.venues"},
		{"cross needs two venues", func(c *Config) { c.Cross.Venues = []string{"upbit"} }, "cross.venues"},
		{"funding close above open", func(c *Config) { c.Funding.CloseThreshold = 0.01 }, "funding.close_threshold"},
		{"funding on spot venue", func(c *Config) {
			v := c.Venues["bybit_futures"]
			v.Kind = "bybit"
			v.Market = "spot"
			c.Venues["bybit_futures"] = v
		}, "funding.venues"},
		{"targets must sum to one", func(c *Config) { c.Rebalance.Targets = map[string]float64{"BTC": 0.7, "KRW": 0.7} }, "rebalance.targets"},
		{"full drift fraction", func(c *Config) { c.Rebalance.Fraction = 1 }, "rebalance.fraction"},
		{"loss ratio", func(c *Config) { c.Risk.DailyLossRatio = 0 }, "risk.daily_loss_ratio"},
		{"week start format", func(c *Config) { c.Risk.WeekStart = "01/02/2024" }, "risk.week_start"},
		{"threshold bounds", func(c *Config) { c.Tuner.ThresholdFloor = 5 }, "tuner.threshold_floor"},
		{"ratio bounds", func(c *Config) { c.Tuner.MaxRatio = 2 }, "tuner.min_ratio"},
		{"filter window", func(c *Config) { c.Filter.Window = 5 }, "filter.window"},
		{"no tiers", func(c *Config) { c.Orchestrator.Tiers = nil }, "orchestrator.tiers"},
		{"log level", func(c *Config) { c.System.LogLevel = "LOUD" }, "system.log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLiveVenuesNeedCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.DryRun = false
	cfg.Venues["okx_futures"] = VenueConfig{Kind: "okx", Market: "futures", APIKey: "k", SecretKey: "s"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venues.okx_futures.passphrase")
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Venues["upbit"] = VenueConfig{
		Kind:      "upbit",
		APIKey:    Secret("my_super_secret_api_key"),
		SecretKey: Secret("my_super_secret_secret_key"),
	}
	cfg.Alert.TelegramToken = Secret("my_super_secret_bot_token")
	output := cfg.String()

	assert.Contains(t, output, "[REDACTED]")
	assert.NotContains(t, output, "my_super_secret_api_key")
	assert.NotContains(t, output, "my_super_secret_secret_key")
	assert.NotContains(t, output, "my_super_secret_bot_token")
	assert.NotContains(t, output, "my_s")
}

func TestLayerDrawdownOverride(t *testing.T) {
	r := RiskConfig{LayerDrawdownKRW: 50_000, LayerDrawdownByName: map[string]float64{"funding": 80_000}}
	assert.Equal(t, 80_000.0, r.LayerDrawdown("funding"))
	assert.Equal(t, 50_000.0, r.LayerDrawdown("spread"))
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.App.DryRun)
	assert.Len(t, cfg.Orchestrator.Tiers, 3)
	assert.Equal(t, 5*time.Minute, cfg.Funding.StaleAfter)
	assert.Equal(t, 24*time.Hour, cfg.Funding.HoldDuration())
	assert.Equal(t, 100000.0, cfg.Risk.LayerDrawdown("funding"))
	assert.True(t, cfg.Venues["bybit_futures"].IsFutures())
}

func TestLoadConfigWithOverride(t *testing.T) {
	cfg, err := LoadConfigWith(filepath.Join("..", "..", "configs", "config.yaml"), func(c *Config) {
		c.System.TickInterval = 5 * time.Second
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.System.TickInterval)
}
