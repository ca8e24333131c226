package config

import (
	"os"
	"path/filepath"
	"testing"

	"crypto-portfolio-bot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func validConfig() *models.Config {
	cfg := &models.Config{}
	ApplyDefaults(cfg)
	return cfg
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `{"bot_id": "alpha", "initial_capital": "50000"}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "alpha", cfg.BotID)
	assert.True(t, cfg.InitialCapital.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, models.DefaultRiskConfig(), cfg.Risk)
	assert.Equal(t, "badger", cfg.Store.Type)
	assert.Equal(t, 60, cfg.Feed.IntervalSec)
	assert.Equal(t, "info", cfg.LogConfig.Level)
}

func TestLoadConfigRiskOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"initial_capital": 1000,
		"risk": {
			"stop_loss_fraction": 0.2,
			"take_profit_tiers": [
				{"target_roi": "0.25", "sell_fraction": "0.5"},
				{"target_roi": "1", "sell_fraction": "0.5"}
			]
		}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Risk.StopLossFraction.Equal(decimal.RequireFromString("0.2")))
	require.Len(t, cfg.Risk.TakeProfitTiers, 2)
	assert.Equal(t, "tier1", cfg.Risk.TakeProfitTiers[0].ID)
	assert.Equal(t, "tier2", cfg.Risk.TakeProfitTiers[1].ID)
	assert.True(t, cfg.Risk.MaxPositionFraction.Equal(decimal.RequireFromString("0.15")), "missing fields keep defaults")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfigMalformed(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"bot_id": `))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORTFOLIO_BOT_ID":     "from-env",
		"PORTFOLIO_STORE_TYPE": "sqlite",
		"BINANCE_API_KEY":      "key",
		"PORTFOLIO_STORE_PATH": "",
	}
	cfg := validConfig()
	ApplyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "from-env", cfg.BotID)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "key", cfg.BinanceAPIKey)
	assert.Equal(t, DefaultStorePath, cfg.Store.Path, "empty values do not override")
}

func TestValidate(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		name   string
		mutate func(cfg *models.Config)
	}{
		{"negative capital", func(c *models.Config) { c.InitialCapital = d("-1") }},
		{"fraction above one", func(c *models.Config) { c.Risk.ConvictionFractions = map[models.Conviction]decimal.Decimal{models.ConvictionMedium: d("1.5")} }},
		{"zero fraction", func(c *models.Config) {
			c.Risk.ConvictionFractions = map[models.Conviction]decimal.Decimal{models.ConvictionMedium: d("0.1"), models.ConvictionLow: d("0")}
		}},
		{"unknown conviction key", func(c *models.Config) {
			c.Risk.ConvictionFractions = map[models.Conviction]decimal.Decimal{models.ConvictionMedium: d("0.1"), "HUGE": d("0.1")}
		}},
		{"default conviction without fraction", func(c *models.Config) { c.Risk.DefaultConviction = "HUGE" }},
		{"stop loss of one", func(c *models.Config) { c.Risk.StopLossFraction = d("1") }},
		{"cap above one", func(c *models.Config) { c.Risk.MaxPositionFraction = d("1.01") }},
		{"unsorted tiers", func(c *models.Config) {
			c.Risk.TakeProfitTiers = []models.TakeProfitTier{
				{ID: "a", TargetROI: d("1"), SellFraction: d("0.2")},
				{ID: "b", TargetROI: d("0.5"), SellFraction: d("0.2")},
			}
		}},
		{"duplicate tiers", func(c *models.Config) {
			c.Risk.TakeProfitTiers = []models.TakeProfitTier{
				{ID: "a", TargetROI: d("0.5"), SellFraction: d("0.2")},
				{ID: "a", TargetROI: d("1"), SellFraction: d("0.2")},
			}
		}},
		{"tiers sell more than everything", func(c *models.Config) {
			c.Risk.TakeProfitTiers = []models.TakeProfitTier{
				{ID: "a", TargetROI: d("0.5"), SellFraction: d("0.6")},
				{ID: "b", TargetROI: d("1"), SellFraction: d("0.6")},
			}
		}},
		{"redis without address", func(c *models.Config) { c.Store.Type = "redis" }},
		{"unknown store", func(c *models.Config) { c.Store.Type = "etcd" }},
		{"unknown feed", func(c *models.Config) { c.Feed.Type = "carrier-pigeon" }},
	}

	require.NoError(t, Validate(validConfig()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, Validate(cfg), ErrInvalidConfig)
		})
	}
}

func TestLoadConfigExplicitZeroValues(t *testing.T) {
	path := writeConfig(t, `{
		"risk": {
			"take_profit_tiers": [],
			"extreme_conviction_min_score": 0
		}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NotNil(t, cfg.Risk.TakeProfitTiers)
	assert.Empty(t, cfg.Risk.TakeProfitTiers, "an explicit empty list disables take-profit")
	assert.Zero(t, cfg.Risk.ExtremeConvictionMinScore, "an explicit 0 is kept")
}

func TestLoadConfigOmittedRiskFieldsDefault(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{"risk": {}}`))
	require.NoError(t, err)
	assert.Len(t, cfg.Risk.TakeProfitTiers, 4)
	assert.Equal(t, 85.0, cfg.Risk.ExtremeConvictionMinScore)
}
