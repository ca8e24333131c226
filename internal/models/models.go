package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds every runtime parameter of the bot.
type Config struct {
	BotID          string          `json:"bot_id"`          // Identifies the portfolio; also the persistence key
	InitialCapital decimal.Decimal `json:"initial_capital"` // Starting cash of a fresh portfolio
	Risk           RiskConfig      `json:"risk"`            // Sizing and exit rules
	Store          StoreConfig     `json:"store"`           // Where snapshots are persisted
	Feed           FeedConfig      `json:"feed"`            // Price source used by run mode
	MetricsAddr    string          `json:"metrics_addr"`    // Prometheus listen address, empty disables it
	LogConfig      LogConfig       `json:"log"`

	BinanceAPIKey    string `json:"-"`
	BinanceSecretKey string `json:"-"`
}

// RiskConfig is the data that drives the engine. Tier count, stop-loss and the
// conviction table are all injected from here.
type RiskConfig struct {
	ConvictionFractions       map[Conviction]decimal.Decimal `json:"conviction_fractions"`         // Base fraction of initial capital per conviction
	MaxPositionFraction       decimal.Decimal                `json:"max_position_fraction"`        // Hard cap per position, fraction of initial capital
	StopLossFraction          decimal.Decimal                `json:"stop_loss_fraction"`           // Full close when roi <= -StopLossFraction
	TakeProfitTiers           []TakeProfitTier               `json:"take_profit_tiers"`            // Ascending by TargetROI
	ExtremeConvictionMinScore float64                        `json:"extreme_conviction_min_score"` // Score floor for EXTREMELY_HIGH
	DefaultConviction         Conviction                     `json:"default_conviction"`           // Used by sized opens without a conviction
}

// TakeProfitTier sells SellFraction of the original amount once roi reaches TargetROI.
type TakeProfitTier struct {
	ID           string          `json:"id"`
	TargetROI    decimal.Decimal `json:"target_roi"`
	SellFraction decimal.Decimal `json:"sell_fraction"`
}

// DefaultRiskConfig returns the reconciled production defaults.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		ConvictionFractions: map[Conviction]decimal.Decimal{
			ConvictionExtremelyHigh: decimal.RequireFromString("0.1125"),
			ConvictionHigh:          decimal.RequireFromString("0.075"),
			ConvictionMedium:        decimal.RequireFromString("0.0375"),
			ConvictionLow:           decimal.RequireFromString("0.025"),
		},
		MaxPositionFraction: decimal.RequireFromString("0.15"),
		StopLossFraction:    decimal.RequireFromString("0.30"),
		TakeProfitTiers: []TakeProfitTier{
			{ID: "tier1", TargetROI: decimal.RequireFromString("0.50"), SellFraction: decimal.RequireFromString("0.30")},
			{ID: "tier2", TargetROI: decimal.RequireFromString("1.00"), SellFraction: decimal.RequireFromString("0.30")},
			{ID: "tier3", TargetROI: decimal.RequireFromString("2.00"), SellFraction: decimal.RequireFromString("0.20")},
			{ID: "tier4", TargetROI: decimal.RequireFromString("5.00"), SellFraction: decimal.RequireFromString("0.20")},
		},
		ExtremeConvictionMinScore: 85,
		DefaultConviction:         ConvictionMedium,
	}
}

// StoreConfig selects a persistence backend.
type StoreConfig struct {
	Type          string `json:"type"`           // badger, sqlite, redis or file
	Path          string `json:"path"`           // Directory (badger) or file (sqlite, file)
	RedisAddr     string `json:"redis_addr"`     // Only used by redis
	RedisPassword string `json:"redis_password"` // Only used by redis
	RedisDB       int    `json:"redis_db"`
}

// FeedConfig selects the price source for run mode.
type FeedConfig struct {
	Type        string   `json:"type"`         // binance (REST polling) or stream (websocket)
	Symbols     []string `json:"symbols"`      // Exchange symbols, e.g. SOLUSDT
	QuoteAsset  string   `json:"quote_asset"`  // Stripped from exchange symbols to get portfolio symbols
	IntervalSec int      `json:"interval_sec"` // Tick interval of the scheduler
	RESTBaseURL string   `json:"rest_base_url,omitempty"`
	WSBaseURL   string   `json:"ws_base_url,omitempty"`
}

// LogConfig defines logging output.
type LogConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Output     string `json:"output"`      // console, file, both
	File       string `json:"file"`        // Log file path
	MaxSize    int    `json:"max_size"`    // Max size of a single log file (MB)
	MaxBackups int    `json:"max_backups"` // Old files kept
	MaxAge     int    `json:"max_age"`     // Days old files are kept
	Compress   bool   `json:"compress"`    // Gzip rotated files
}

// Conviction is the discrete confidence tier of a trade idea.
type Conviction string

const (
	ConvictionExtremelyHigh Conviction = "EXTREMELY_HIGH"
	ConvictionHigh          Conviction = "HIGH"
	ConvictionMedium        Conviction = "MEDIUM"
	ConvictionLow           Conviction = "LOW"
)

// ParseConviction accepts any casing and "-" or " " separators.
func ParseConviction(s string) (Conviction, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch c := Conviction(norm); c {
	case ConvictionExtremelyHigh, ConvictionHigh, ConvictionMedium, ConvictionLow:
		return c, nil
	}
	return "", fmt.Errorf("unknown conviction level %q", s)
}

// Close reasons recorded on ClosedTrade.
const (
	ReasonStopLoss   = "stop_loss"
	ReasonManual     = "manual"
	reasonTakeProfit = "take_profit"
)

// TakeProfitReason builds the close reason for a tier, e.g. "take_profit:tier1".
func TakeProfitReason(tierID string) string {
	return reasonTakeProfit + ":" + tierID
}

// Position is an open virtual holding. One per symbol.
type Position struct {
	Symbol         string          `json:"symbol"`
	Amount         decimal.Decimal `json:"amount"`          // Units still held
	OriginalAmount decimal.Decimal `json:"original_amount"` // Units held at open time
	EntryPrice     decimal.Decimal `json:"entry_price"`
	EntryTime      time.Time       `json:"entry_time"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	LastUpdateTime time.Time       `json:"last_update_time"`
	Score          *float64        `json:"score,omitempty"`
	Conviction     Conviction      `json:"conviction,omitempty"`
	TiersHit       []string        `json:"tiers_hit"` // Fired take-profit tier ids, in firing order
}

// HasTier reports whether the tier already fired.
func (p *Position) HasTier(id string) bool {
	for _, t := range p.TiersHit {
		if t == id {
			return true
		}
	}
	return false
}

// ROI at the current price.
func (p *Position) ROI() decimal.Decimal {
	if !p.EntryPrice.IsPositive() {
		return decimal.Zero
	}
	return p.CurrentPrice.Sub(p.EntryPrice).Div(p.EntryPrice)
}

// Value at the current price.
func (p *Position) Value() decimal.Decimal {
	return p.Amount.Mul(p.CurrentPrice)
}

// UnrealizedPnL of the remaining amount.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.Amount.Mul(p.CurrentPrice.Sub(p.EntryPrice))
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	c := *p
	if p.Score != nil {
		s := *p.Score
		c.Score = &s
	}
	c.TiersHit = append(make([]string, 0, len(p.TiersHit)), p.TiersHit...)
	return &c
}

// ClosedTrade is an immutable record of a full or partial close.
type ClosedTrade struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	AmountClosed decimal.Decimal `json:"amount_closed"`
	ROI          decimal.Decimal `json:"roi"`
	Profit       decimal.Decimal `json:"profit"`
	EntryTime    time.Time       `json:"entry_time"`
	ExitTime     time.Time       `json:"exit_time"`
	Reason       string          `json:"reason"`
	Score        *float64        `json:"score,omitempty"`
	Conviction   Conviction      `json:"conviction,omitempty"`
}

// PositionSnapshot is the caller-facing view of an open position.
type PositionSnapshot struct {
	Symbol         string
	Amount         decimal.Decimal
	OriginalAmount decimal.Decimal
	EntryPrice     decimal.Decimal
	CurrentPrice   decimal.Decimal
	Value          decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	ROI            decimal.Decimal
	EntryTime      time.Time
	LastUpdateTime time.Time
	Score          *float64
	Conviction     Conviction
	TiersHit       []string
}

// NewPositionSnapshot builds a snapshot that shares no memory with p.
func NewPositionSnapshot(p *Position) PositionSnapshot {
	c := p.Clone()
	return PositionSnapshot{
		Symbol:         c.Symbol,
		Amount:         c.Amount,
		OriginalAmount: c.OriginalAmount,
		EntryPrice:     c.EntryPrice,
		CurrentPrice:   c.CurrentPrice,
		Value:          c.Value(),
		UnrealizedPnL:  c.UnrealizedPnL(),
		ROI:            c.ROI(),
		EntryTime:      c.EntryTime,
		LastUpdateTime: c.LastUpdateTime,
		Score:          c.Score,
		Conviction:     c.Conviction,
		TiersHit:       c.TiersHit,
	}
}

// CloseInfo describes the result of a close_position call.
type CloseInfo struct {
	TradeID         string
	Symbol          string
	AmountClosed    decimal.Decimal
	ExitPrice       decimal.Decimal
	Value           decimal.Decimal
	Profit          decimal.Decimal
	ROI             decimal.Decimal
	Reason          string
	RemainingAmount decimal.Decimal
	FullyClosed     bool
}

// TriggerType is the kind of automatic exit.
type TriggerType string

const (
	TriggerStopLoss   TriggerType = "stop_loss"
	TriggerTakeProfit TriggerType = "take_profit"
)

// TriggerEvent is emitted by UpdatePositions for every automatic exit.
type TriggerEvent struct {
	Symbol string
	Type   TriggerType
	Tier   string // Empty for stop-loss
	ROI    decimal.Decimal
	Close  CloseInfo
}

// PortfolioStats is the aggregate view returned by get_portfolio_stats.
type PortfolioStats struct {
	InitialCapital decimal.Decimal
	AvailableCash  decimal.Decimal
	TotalValue     decimal.Decimal
	TotalROI       decimal.Decimal
	WinRate        decimal.Decimal
	RealizedProfit decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	OpenPositions  []PositionSnapshot
	ClosedTrades   []ClosedTrade
	ClosedCount    int
	OpenCount      int
	LastUpdateTime time.Time
}
