package portfolio

import (
	"fmt"

	"crypto-portfolio-bot/internal/models"

	"github.com/shopspring/decimal"
)

// UpdatePositions refreshes every open position found in prices and fires exits.
//
// Stop-loss is checked first and ends processing of that symbol for the tick.
// Otherwise every unfired tier whose target is at or below the current roi fires,
// lowest target first, so a single large jump can fire several tiers at once.
// Symbols missing from prices, or with a non-positive price, are skipped.
func (p *Portfolio) UpdatePositions(prices map[string]decimal.Decimal) []models.TriggerEvent {
	var events []models.TriggerEvent

	for _, sym := range p.Symbols() {
		price, ok := prices[sym]
		if !ok {
			p.logger.Sugar().Debugf("No price for %s this tick, skipping.", sym)
			continue
		}
		if !price.IsPositive() {
			p.logger.Sugar().Warnf("Ignoring non-positive price %s for %s.", price, sym)
			continue
		}

		fired, err := p.evaluate(sym, price)
		events = append(events, fired...)
		if err != nil {
			p.logger.Sugar().Errorf("Risk evaluation of %s failed: %v", sym, err)
		}
	}
	return events
}

func (p *Portfolio) evaluate(sym string, price decimal.Decimal) (events []models.TriggerEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	pos := p.positions[sym]
	now := p.now()
	pos.CurrentPrice = price
	pos.LastUpdateTime = now
	p.lastUpdate = now

	roi := pos.ROI()

	if p.risk.StopLossFraction.IsPositive() && roi.LessThanOrEqual(p.risk.StopLossFraction.Neg()) {
		info, err := p.ClosePosition(sym, price, models.ReasonStopLoss, nil)
		if err != nil {
			return events, err
		}
		p.logger.Sugar().Warnf("Stop-loss hit on %s at %s (roi %s%%).", sym, price, roi.Mul(hundred).StringFixed(2))
		return append(events, models.TriggerEvent{
			Symbol: sym,
			Type:   models.TriggerStopLoss,
			ROI:    roi,
			Close:  info,
		}), nil
	}

	for _, tier := range p.risk.TakeProfitTiers {
		if pos.HasTier(tier.ID) || tier.TargetROI.GreaterThan(roi) {
			continue
		}

		sell := decimal.Min(tier.SellFraction.Mul(pos.OriginalAmount), pos.Amount)
		pos.TiersHit = append(pos.TiersHit, tier.ID)
		if !sell.IsPositive() {
			continue
		}

		info, err := p.ClosePosition(sym, price, models.TakeProfitReason(tier.ID), &sell)
		if err != nil {
			return events, err
		}
		p.logger.Sugar().Infof("Take-profit %s hit on %s at %s (roi %s%%).", tier.ID, sym, price, roi.Mul(hundred).StringFixed(2))
		events = append(events, models.TriggerEvent{
			Symbol: sym,
			Type:   models.TriggerTakeProfit,
			Tier:   tier.ID,
			ROI:    roi,
			Close:  info,
		})
		if info.FullyClosed {
			break
		}
	}
	return events, nil
}
