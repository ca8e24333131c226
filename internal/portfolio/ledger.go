package portfolio

import (
	"fmt"

	"crypto-portfolio-bot/internal/models"

	"github.com/shopspring/decimal"
)

// ClosePosition sells partial units of symbol at price, or the whole remaining
// amount when partial is nil. The proceeds are credited to cash and a ClosedTrade
// is appended. A position that reaches zero is removed.
func (p *Portfolio) ClosePosition(symbol string, price decimal.Decimal, reason string, partial *decimal.Decimal) (models.CloseInfo, error) {
	pos, ok := p.positions[symbol]
	if !ok {
		return models.CloseInfo{}, fmt.Errorf("%w: %s", ErrPositionNotFound, symbol)
	}

	amount := pos.Amount
	if partial != nil {
		if !partial.IsPositive() {
			return models.CloseInfo{}, fmt.Errorf("%w: %s partial amount %s", ErrInvalidAmount, symbol, partial)
		}
		if partial.GreaterThan(pos.Amount) {
			return models.CloseInfo{}, fmt.Errorf("%w: %s partial amount %s exceeds remaining %s",
				ErrInvalidAmount, symbol, partial, pos.Amount)
		}
		amount = *partial
	}
	if !price.IsPositive() {
		return models.CloseInfo{}, fmt.Errorf("%w: %s at %s", ErrInvalidPrice, symbol, price)
	}
	if reason == "" {
		reason = models.ReasonManual
	}

	now := p.now()
	value := amount.Mul(price)
	profit := value.Sub(amount.Mul(pos.EntryPrice))
	roi := decimal.Zero
	if pos.EntryPrice.IsPositive() {
		roi = price.Sub(pos.EntryPrice).Div(pos.EntryPrice)
	}

	trade := models.ClosedTrade{
		ID:           p.newID(),
		Symbol:       symbol,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    price,
		AmountClosed: amount,
		ROI:          roi,
		Profit:       profit,
		EntryTime:    pos.EntryTime,
		ExitTime:     now,
		Reason:       reason,
		Conviction:   pos.Conviction,
	}
	if pos.Score != nil {
		s := *pos.Score
		trade.Score = &s
	}

	p.availableCash = p.availableCash.Add(value)
	pos.Amount = pos.Amount.Sub(amount)
	pos.CurrentPrice = price
	pos.LastUpdateTime = now
	p.closedTrades = append(p.closedTrades, trade)
	p.lastUpdate = now

	fullyClosed := !pos.Amount.IsPositive()
	if fullyClosed {
		delete(p.positions, symbol)
	}

	p.logger.Sugar().Infof("Closed %s %s units of %s @ %s: profit %s (roi %s%%), cash %s",
		reason, amount, symbol, price, profit.StringFixed(2), roi.Mul(hundred).StringFixed(2), p.availableCash.StringFixed(2))

	return models.CloseInfo{
		TradeID:         trade.ID,
		Symbol:          symbol,
		AmountClosed:    amount,
		ExitPrice:       price,
		Value:           value,
		Profit:          profit,
		ROI:             roi,
		Reason:          reason,
		RemainingAmount: pos.Amount,
		FullyClosed:     fullyClosed,
	}, nil
}

// Stats derives the aggregate view of the portfolio.
func (p *Portfolio) Stats() models.PortfolioStats {
	stats := models.PortfolioStats{
		InitialCapital: p.initialCapital,
		AvailableCash:  p.availableCash,
		TotalROI:       decimal.Zero,
		WinRate:        decimal.Zero,
		RealizedProfit: decimal.Zero,
		UnrealizedPnL:  decimal.Zero,
		OpenPositions:  make([]models.PositionSnapshot, 0, len(p.positions)),
		ClosedTrades:   make([]models.ClosedTrade, len(p.closedTrades)),
		ClosedCount:    len(p.closedTrades),
		OpenCount:      len(p.positions),
		LastUpdateTime: p.lastUpdate,
	}

	total := p.availableCash
	for _, sym := range p.Symbols() {
		pos := p.positions[sym]
		total = total.Add(pos.Value())
		stats.UnrealizedPnL = stats.UnrealizedPnL.Add(pos.UnrealizedPnL())
		stats.OpenPositions = append(stats.OpenPositions, models.NewPositionSnapshot(pos))
	}
	stats.TotalValue = total
	if p.initialCapital.IsPositive() {
		stats.TotalROI = total.Sub(p.initialCapital).Div(p.initialCapital)
	}

	wins := 0
	for i, t := range p.closedTrades {
		stats.RealizedProfit = stats.RealizedProfit.Add(t.Profit)
		if t.ROI.IsPositive() {
			wins++
		}
		if t.Score != nil {
			s := *t.Score
			t.Score = &s
		}
		stats.ClosedTrades[i] = t
	}
	if len(p.closedTrades) > 0 {
		stats.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(p.closedTrades))))
	}
	return stats
}
