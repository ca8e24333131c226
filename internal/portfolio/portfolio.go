// Package portfolio is the virtual portfolio and position-risk engine.
//
// A Portfolio sizes positions from conviction and score, opens them against
// simulated cash, applies stop-loss and tiered take-profit exits on every price
// tick and keeps a ledger of closed trades. All money math uses decimals so that
//
//	cash + Σ(amount × current) == initial + Σ(realized profit) + Σ(unrealized PnL)
//
// holds exactly after every operation.
//
// A Portfolio is not safe for concurrent use. Wrap it in a
// statemanager.StateManager when more than one goroutine needs it.
package portfolio

import (
	"fmt"
	"sort"
	"time"

	"crypto-portfolio-bot/internal/models"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Portfolio holds cash, open positions and closed trades of one bot instance.
type Portfolio struct {
	botID          string
	risk           models.RiskConfig
	initialCapital decimal.Decimal
	availableCash  decimal.Decimal
	positions      map[string]*models.Position
	closedTrades   []models.ClosedTrade
	lastUpdate     time.Time

	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

// Option customises a Portfolio.
type Option func(*Portfolio)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Portfolio) { p.now = now }
}

// WithIDGenerator overrides how closed trade ids are generated.
func WithIDGenerator(gen func() string) Option {
	return func(p *Portfolio) { p.newID = gen }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Portfolio) { p.logger = l }
}

// New creates a fresh portfolio with all of initialCapital available.
func New(botID string, initialCapital decimal.Decimal, risk models.RiskConfig, opts ...Option) *Portfolio {
	return Restore(models.NewPortfolioState(botID, initialCapital), risk, opts...)
}

// Restore rebuilds a portfolio from a persisted state. The state is copied.
func Restore(state *models.PortfolioState, risk models.RiskConfig, opts ...Option) *Portfolio {
	st := state.Clone()
	st.Migrate()

	p := &Portfolio{
		botID:          st.BotID,
		risk:           normalizeRisk(risk),
		initialCapital: st.InitialCapital,
		availableCash:  st.AvailableCash,
		positions:      st.Positions,
		closedTrades:   st.ClosedTrades,
		lastUpdate:     st.LastUpdateTime,
		now:            time.Now,
		newID:          newTradeID,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Snapshot returns a deep copy of the persistable state.
func (p *Portfolio) Snapshot() *models.PortfolioState {
	st := &models.PortfolioState{
		BotID:          p.botID,
		Version:        models.CurrentStateVersion,
		InitialCapital: p.initialCapital,
		AvailableCash:  p.availableCash,
		Positions:      p.positions,
		ClosedTrades:   p.closedTrades,
		LastUpdateTime: p.lastUpdate,
	}
	return st.Clone()
}

// BotID returns the owning bot id.
func (p *Portfolio) BotID() string { return p.botID }

// AvailableCash returns the spendable balance.
func (p *Portfolio) AvailableCash() decimal.Decimal { return p.availableCash }

// InitialCapital returns the capital the portfolio was created with.
func (p *Portfolio) InitialCapital() decimal.Decimal { return p.initialCapital }

// Position returns a snapshot of the open position for symbol.
func (p *Portfolio) Position(symbol string) (models.PositionSnapshot, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return models.PositionSnapshot{}, false
	}
	return models.NewPositionSnapshot(pos), true
}

// Symbols returns the open symbols in sorted order.
func (p *Portfolio) Symbols() []string {
	syms := make([]string, 0, len(p.positions))
	for s := range p.positions {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// normalizeRisk sorts tiers ascending by target so evaluation order never depends
// on how the config was written.
func normalizeRisk(r models.RiskConfig) models.RiskConfig {
	tiers := make([]models.TakeProfitTier, len(r.TakeProfitTiers))
	copy(tiers, r.TakeProfitTiers)
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].TargetROI.LessThan(tiers[j].TargetROI)
	})
	for i := range tiers {
		if tiers[i].ID == "" {
			tiers[i].ID = fmt.Sprintf("tier%d", i+1)
		}
	}
	r.TakeProfitTiers = tiers

	fractions := make(map[models.Conviction]decimal.Decimal, len(r.ConvictionFractions))
	for k, v := range r.ConvictionFractions {
		fractions[k] = v
	}
	r.ConvictionFractions = fractions
	return r
}

// newTradeID returns a short, url-safe unique id.
func newTradeID() string {
	id := uuid.New()
	return base62.EncodeToString(id[:])
}
