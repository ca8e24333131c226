package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"crypto-portfolio-bot/internal/models"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Defaults applied to fields missing from the config file.
var (
	DefaultInitialCapital = decimal.NewFromInt(100000)
	DefaultBotID          = "default"
	DefaultStoreType      = "badger"
	DefaultStorePath      = "data/portfolio"
	DefaultFeedType       = "binance"
	DefaultQuoteAsset     = "USDT"
	DefaultIntervalSec    = 60
)

// LoadConfig reads the JSON config at path, fills in defaults, applies
// environment overrides and validates the result. An empty path yields the
// defaults alone.
func LoadConfig(path string) (*models.Config, error) {
	cfg := &models.Config{}
	var explicit riskPresence
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &explicit); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	ApplyDefaults(cfg)
	if explicit.Risk.ExtremeConvictionMinScore != nil {
		cfg.Risk.ExtremeConvictionMinScore = *explicit.Risk.ExtremeConvictionMinScore
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// riskPresence records risk fields whose zero value is a valid setting, so an
// explicit 0 in the file is not mistaken for a missing field.
type riskPresence struct {
	Risk struct {
		ExtremeConvictionMinScore *float64 `json:"extreme_conviction_min_score"`
	} `json:"risk"`
}

// ApplyDefaults fills every zero field. Risk settings fall back piecewise to
// models.DefaultRiskConfig. TakeProfitTiers is only defaulted when absent
// (nil); an explicit empty list disables take-profit. A zero
// ExtremeConvictionMinScore is defaulted here; LoadConfig keeps an explicit 0
// from the config file.
func ApplyDefaults(cfg *models.Config) {
	if cfg.BotID == "" {
		cfg.BotID = DefaultBotID
	}
	if cfg.InitialCapital.IsZero() {
		cfg.InitialCapital = DefaultInitialCapital
	}

	def := models.DefaultRiskConfig()
	r := &cfg.Risk
	if len(r.ConvictionFractions) == 0 {
		r.ConvictionFractions = def.ConvictionFractions
	}
	if r.MaxPositionFraction.IsZero() {
		r.MaxPositionFraction = def.MaxPositionFraction
	}
	if r.StopLossFraction.IsZero() {
		r.StopLossFraction = def.StopLossFraction
	}
	if r.TakeProfitTiers == nil {
		r.TakeProfitTiers = def.TakeProfitTiers
	}
	for i := range r.TakeProfitTiers {
		if r.TakeProfitTiers[i].ID == "" {
			r.TakeProfitTiers[i].ID = fmt.Sprintf("tier%d", i+1)
		}
	}
	if r.ExtremeConvictionMinScore == 0 {
		r.ExtremeConvictionMinScore = def.ExtremeConvictionMinScore
	}
	if r.DefaultConviction == "" {
		r.DefaultConviction = def.DefaultConviction
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = DefaultStoreType
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}

	if cfg.Feed.Type == "" {
		cfg.Feed.Type = DefaultFeedType
	}
	if cfg.Feed.QuoteAsset == "" {
		cfg.Feed.QuoteAsset = DefaultQuoteAsset
	}
	if cfg.Feed.IntervalSec <= 0 {
		cfg.Feed.IntervalSec = DefaultIntervalSec
	}

	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
	if cfg.LogConfig.File == "" {
		cfg.LogConfig.File = "logs/bot.log"
	}
}

// ApplyEnv overrides config values from the environment. lookup is normally
// os.LookupEnv.
func ApplyEnv(cfg *models.Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("PORTFOLIO_BOT_ID", &cfg.BotID)
	set("PORTFOLIO_STORE_TYPE", &cfg.Store.Type)
	set("PORTFOLIO_STORE_PATH", &cfg.Store.Path)
	set("PORTFOLIO_REDIS_ADDR", &cfg.Store.RedisAddr)
	set("PORTFOLIO_REDIS_PASSWORD", &cfg.Store.RedisPassword)
	set("PORTFOLIO_METRICS_ADDR", &cfg.MetricsAddr)
	set("BINANCE_API_KEY", &cfg.BinanceAPIKey)
	set("BINANCE_SECRET_KEY", &cfg.BinanceSecretKey)
}

// Validate rejects configurations the engine cannot run with.
func Validate(cfg *models.Config) error {
	one := decimal.NewFromInt(1)

	if !cfg.InitialCapital.IsPositive() {
		return fmt.Errorf("%w: initial_capital must be positive, got %s", ErrInvalidConfig, cfg.InitialCapital)
	}
	if strings.TrimSpace(cfg.BotID) == "" {
		return fmt.Errorf("%w: bot_id is empty", ErrInvalidConfig)
	}

	r := cfg.Risk
	for c, f := range r.ConvictionFractions {
		if _, err := models.ParseConviction(string(c)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if !f.IsPositive() || f.GreaterThan(one) {
			return fmt.Errorf("%w: conviction fraction for %s must be in (0,1], got %s", ErrInvalidConfig, c, f)
		}
	}
	if _, ok := r.ConvictionFractions[r.DefaultConviction]; !ok {
		return fmt.Errorf("%w: default_conviction %q has no fraction", ErrInvalidConfig, r.DefaultConviction)
	}
	if !r.MaxPositionFraction.IsPositive() || r.MaxPositionFraction.GreaterThan(one) {
		return fmt.Errorf("%w: max_position_fraction must be in (0,1], got %s", ErrInvalidConfig, r.MaxPositionFraction)
	}
	if !r.StopLossFraction.IsPositive() || r.StopLossFraction.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: stop_loss_fraction must be in (0,1), got %s", ErrInvalidConfig, r.StopLossFraction)
	}

	seen := make(map[string]bool, len(r.TakeProfitTiers))
	sold := decimal.Zero
	for i, tier := range r.TakeProfitTiers {
		if seen[tier.ID] {
			return fmt.Errorf("%w: duplicate take-profit tier %q", ErrInvalidConfig, tier.ID)
		}
		seen[tier.ID] = true
		if !tier.TargetROI.IsPositive() {
			return fmt.Errorf("%w: tier %s target_roi must be positive", ErrInvalidConfig, tier.ID)
		}
		if i > 0 && !tier.TargetROI.GreaterThan(r.TakeProfitTiers[i-1].TargetROI) {
			return fmt.Errorf("%w: take-profit tiers must be strictly ascending by target_roi", ErrInvalidConfig)
		}
		if !tier.SellFraction.IsPositive() || tier.SellFraction.GreaterThan(one) {
			return fmt.Errorf("%w: tier %s sell_fraction must be in (0,1]", ErrInvalidConfig, tier.ID)
		}
		sold = sold.Add(tier.SellFraction)
	}
	if sold.GreaterThan(one) {
		return fmt.Errorf("%w: take-profit sell fractions sum to %s, above 1", ErrInvalidConfig, sold)
	}

	switch cfg.Store.Type {
	case "badger", "sqlite", "file":
	case "redis":
		if cfg.Store.RedisAddr == "" {
			return fmt.Errorf("%w: store.redis_addr is required for the redis store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store type %q", ErrInvalidConfig, cfg.Store.Type)
	}

	switch cfg.Feed.Type {
	case "binance", "stream":
	default:
		return fmt.Errorf("%w: unknown feed type %q", ErrInvalidConfig, cfg.Feed.Type)
	}
	return nil
}
