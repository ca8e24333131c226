package portfolio

import (
	"fmt"
	"math"

	"crypto-portfolio-bot/internal/models"

	"github.com/shopspring/decimal"
)

// amountPrecision is the number of decimal places kept on sized amounts.
const amountPrecision = 12

// OpenRequest is a trade idea to be sized and opened.
type OpenRequest struct {
	Symbol     string
	Price      decimal.Decimal
	Conviction models.Conviction // Falls back to RiskConfig.DefaultConviction
	Score      *float64
}

// OpenPosition sizes the idea with Size and opens it at req.Price. The amount is
// always derived from the sizing rule.
func (p *Portfolio) OpenPosition(req OpenRequest) (models.PositionSnapshot, error) {
	if !req.Price.IsPositive() {
		return models.PositionSnapshot{}, fmt.Errorf("%w: %s at %s", ErrInvalidPrice, req.Symbol, req.Price)
	}

	conviction := req.Conviction
	if conviction == "" {
		conviction = p.risk.DefaultConviction
	}
	if _, ok := p.risk.ConvictionFractions[conviction]; !ok {
		return models.PositionSnapshot{}, fmt.Errorf("%w: %q", ErrUnknownConviction, conviction)
	}

	// Same order as OpenPositionAmount: exists, funds, score floor. The cap
	// cannot be exceeded by a sized amount.
	if _, ok := p.positions[req.Symbol]; ok {
		return models.PositionSnapshot{}, fmt.Errorf("%w: %s", ErrPositionExists, req.Symbol)
	}
	if !p.availableCash.IsPositive() {
		return models.PositionSnapshot{}, fmt.Errorf("%w: %s needs cash, available %s",
			ErrInsufficientFunds, req.Symbol, p.availableCash.StringFixed(2))
	}
	if err := p.checkConviction(req.Symbol, conviction, req.Score); err != nil {
		return models.PositionSnapshot{}, err
	}

	dollars := p.Size(conviction, req.Score)
	if !dollars.IsPositive() {
		return models.PositionSnapshot{}, fmt.Errorf("%w: %s sizes to zero (conviction %s, score %s)",
			ErrInvalidAmount, req.Symbol, conviction, formatScore(req.Score))
	}
	// Truncating keeps amount × price <= dollars, so the cap and cash checks
	// below can never fail on a rounding residue.
	amount, _ := dollars.QuoRem(req.Price, amountPrecision)
	if !amount.IsPositive() {
		return models.PositionSnapshot{}, fmt.Errorf("%w: %s size %s buys nothing at %s", ErrInvalidAmount, req.Symbol, dollars, req.Price)
	}

	return p.OpenPositionAmount(req.Symbol, amount, req.Price, req.Score, conviction)
}

// OpenPositionAmount opens a position of an explicit amount. Validation order:
// existing symbol, per-position cap, available cash, EXTREMELY_HIGH score floor.
func (p *Portfolio) OpenPositionAmount(symbol string, amount, price decimal.Decimal, score *float64, conviction models.Conviction) (models.PositionSnapshot, error) {
	if !amount.IsPositive() {
		return models.PositionSnapshot{}, fmt.Errorf("%w: %s amount %s", ErrInvalidAmount, symbol, amount)
	}
	if !price.IsPositive() {
		return models.PositionSnapshot{}, fmt.Errorf("%w: %s at %s", ErrInvalidPrice, symbol, price)
	}

	if _, ok := p.positions[symbol]; ok {
		return models.PositionSnapshot{}, fmt.Errorf("%w: %s", ErrPositionExists, symbol)
	}

	value := amount.Mul(price)
	maxValue := p.risk.MaxPositionFraction.Mul(p.initialCapital)
	if value.GreaterThan(maxValue) {
		return models.PositionSnapshot{}, fmt.Errorf("%w: %s value %s exceeds cap %s",
			ErrPositionTooLarge, symbol, value.StringFixed(2), maxValue.StringFixed(2))
	}
	if value.GreaterThan(p.availableCash) {
		return models.PositionSnapshot{}, fmt.Errorf("%w: %s needs %s, available %s",
			ErrInsufficientFunds, symbol, value.StringFixed(2), p.availableCash.StringFixed(2))
	}
	if err := p.checkConviction(symbol, conviction, score); err != nil {
		return models.PositionSnapshot{}, err
	}

	now := p.now()
	pos := &models.Position{
		Symbol:         symbol,
		Amount:         amount,
		OriginalAmount: amount,
		EntryPrice:     price,
		EntryTime:      now,
		CurrentPrice:   price,
		LastUpdateTime: now,
		Conviction:     conviction,
		TiersHit:       []string{},
	}
	if score != nil {
		s := *score
		pos.Score = &s
	}

	p.availableCash = p.availableCash.Sub(value)
	p.positions[symbol] = pos
	p.lastUpdate = now

	p.logger.Sugar().Infof("Opened %s: %s units @ %s (value %s, conviction %s), cash left %s",
		symbol, amount, price, value.StringFixed(2), conviction, p.availableCash.StringFixed(2))

	return models.NewPositionSnapshot(pos), nil
}

func (p *Portfolio) checkConviction(symbol string, conviction models.Conviction, score *float64) error {
	if conviction != models.ConvictionExtremelyHigh {
		return nil
	}
	floor := p.risk.ExtremeConvictionMinScore
	if score == nil {
		return fmt.Errorf("%w: %s has no score, %s requires >= %.0f", ErrConvictionScoreTooLow, symbol, conviction, floor)
	}
	if math.IsNaN(*score) || *score < floor {
		return fmt.Errorf("%w: %s score %.1f below %.0f", ErrConvictionScoreTooLow, symbol, *score, floor)
	}
	return nil
}

func formatScore(score *float64) string {
	if score == nil {
		return "none"
	}
	return fmt.Sprintf("%.1f", *score)
}
