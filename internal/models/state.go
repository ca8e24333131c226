package models

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidState is returned by Validate for states that cannot be restored.
var ErrInvalidState = errors.New("invalid portfolio state")

// CurrentStateVersion is the schema version written by this build.
const CurrentStateVersion = 2

// PortfolioState is everything that must be persisted to rebuild a portfolio.
// It is saved and loaded as one unit.
type PortfolioState struct {
	BotID          string               `json:"bot_id"`           // Owner of this state; persistence key
	Version        int                  `json:"version"`          // Schema version, used for migrations on load
	InitialCapital decimal.Decimal      `json:"initial_capital"`  // Fixed at creation
	AvailableCash  decimal.Decimal      `json:"available_cash"`   // Spendable balance, never negative
	Positions      map[string]*Position `json:"positions"`        // Open positions keyed by symbol
	ClosedTrades   []ClosedTrade        `json:"closed_trades"`    // Append-only close history
	LastUpdateTime time.Time            `json:"last_update_time"` // Last mutation
}

// NewPortfolioState returns a first-run state seeded with initialCapital.
func NewPortfolioState(botID string, initialCapital decimal.Decimal) *PortfolioState {
	return &PortfolioState{
		BotID:          botID,
		Version:        CurrentStateVersion,
		InitialCapital: initialCapital,
		AvailableCash:  initialCapital,
		Positions:      make(map[string]*Position),
		ClosedTrades:   []ClosedTrade{},
	}
}

// Clone returns a deep copy of the state.
func (s *PortfolioState) Clone() *PortfolioState {
	if s == nil {
		return nil
	}
	c := *s
	c.Positions = make(map[string]*Position, len(s.Positions))
	for sym, p := range s.Positions {
		if p != nil {
			c.Positions[sym] = p.Clone()
		}
	}
	c.ClosedTrades = make([]ClosedTrade, len(s.ClosedTrades))
	for i, t := range s.ClosedTrades {
		if t.Score != nil {
			score := *t.Score
			t.Score = &score
		}
		c.ClosedTrades[i] = t
	}
	return &c
}

// Migrate upgrades an older state in place. It returns true when anything changed.
func (s *PortfolioState) Migrate() bool {
	updated := false

	// v1 had no original_amount; tiers were sized from the remaining amount.
	if s.Version < 2 {
		for _, p := range s.Positions {
			if p != nil && p.OriginalAmount.IsZero() {
				p.OriginalAmount = p.Amount
			}
		}
		s.Version = 2
		updated = true
	}

	if s.Positions == nil {
		s.Positions = make(map[string]*Position)
		updated = true
	}
	if s.ClosedTrades == nil {
		s.ClosedTrades = []ClosedTrade{}
		updated = true
	}
	return updated
}

// Validate checks the loaded state can be operated on: positive capital,
// non-negative cash, and open positions with a positive entry price and amount.
func (s *PortfolioState) Validate() error {
	if !s.InitialCapital.IsPositive() {
		return fmt.Errorf("%w: initial capital %s", ErrInvalidState, s.InitialCapital)
	}
	if s.AvailableCash.IsNegative() {
		return fmt.Errorf("%w: available cash %s", ErrInvalidState, s.AvailableCash)
	}

	symbols := make([]string, 0, len(s.Positions))
	for sym := range s.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		p := s.Positions[sym]
		switch {
		case p == nil:
			return fmt.Errorf("%w: position %s is empty", ErrInvalidState, sym)
		case p.Symbol != sym:
			return fmt.Errorf("%w: position stored under %s is for %q", ErrInvalidState, sym, p.Symbol)
		case !p.EntryPrice.IsPositive():
			return fmt.Errorf("%w: position %s entry price %s", ErrInvalidState, sym, p.EntryPrice)
		case !p.Amount.IsPositive():
			return fmt.Errorf("%w: position %s amount %s", ErrInvalidState, sym, p.Amount)
		case p.OriginalAmount.LessThan(p.Amount):
			return fmt.Errorf("%w: position %s amount %s above original %s", ErrInvalidState, sym, p.Amount, p.OriginalAmount)
		}
	}
	return nil
}
