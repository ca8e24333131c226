package portfolio

import (
	"math"

	"crypto-portfolio-bot/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Size recommends a dollar allocation for a trade idea. It never mutates the
// portfolio and never exceeds MaxPositionFraction × initial capital.
//
// An unknown conviction sizes to zero.
func (p *Portfolio) Size(conviction models.Conviction, score *float64) decimal.Decimal {
	return SizePosition(p.risk, p.initialCapital, p.availableCash, conviction, score)
}

// SizePosition is the stateless sizing rule:
//
//	min(fraction(conviction) × clamp(score/100, 0, 1) × capital, cash, maxFraction × capital)
func SizePosition(risk models.RiskConfig, initialCapital, availableCash decimal.Decimal, conviction models.Conviction, score *float64) decimal.Decimal {
	fraction, ok := risk.ConvictionFractions[conviction]
	if !ok || !fraction.IsPositive() {
		return decimal.Zero
	}

	if score != nil {
		fraction = fraction.Mul(scoreMultiplier(*score))
	}

	dollars := decimal.Min(
		fraction.Mul(initialCapital),
		availableCash,
		risk.MaxPositionFraction.Mul(initialCapital),
	)
	if dollars.IsNegative() {
		return decimal.Zero
	}
	return dollars
}

func scoreMultiplier(score float64) decimal.Decimal {
	if math.IsNaN(score) || math.IsInf(score, -1) {
		return decimal.Zero
	}
	if math.IsInf(score, 1) {
		return decimal.NewFromInt(1)
	}
	m := decimal.NewFromFloat(score).Div(hundred)
	if m.IsNegative() {
		return decimal.Zero
	}
	if m.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return m
}
