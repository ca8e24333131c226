package reporter

import (
	"fmt"
	"io"
	"time"

	"crypto-portfolio-bot/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"
)

// Metrics holds the performance figures derived from a stats snapshot.
type Metrics struct {
	InitialCapital decimal.Decimal
	TotalValue     decimal.Decimal
	TotalProfit    decimal.Decimal
	TotalROI       decimal.Decimal
	AvailableCash  decimal.Decimal
	RealizedProfit decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        decimal.Decimal
	AvgProfitLoss  decimal.Decimal // Average win / average loss, zero when either side is empty
	MaxDrawdown    decimal.Decimal // Fraction of peak realized equity
	BestTrade      *models.ClosedTrade
	WorstTrade     *models.ClosedTrade
	OpenPositions  int
}

// CalculateMetrics derives report figures from stats.
func CalculateMetrics(stats models.PortfolioStats) *Metrics {
	m := &Metrics{
		InitialCapital: stats.InitialCapital,
		TotalValue:     stats.TotalValue,
		TotalProfit:    stats.TotalValue.Sub(stats.InitialCapital),
		TotalROI:       stats.TotalROI,
		AvailableCash:  stats.AvailableCash,
		RealizedProfit: stats.RealizedProfit,
		UnrealizedPnL:  stats.UnrealizedPnL,
		TotalTrades:    len(stats.ClosedTrades),
		WinRate:        stats.WinRate,
		OpenPositions:  len(stats.OpenPositions),
	}

	totalWin, totalLoss := decimal.Zero, decimal.Zero
	for i := range stats.ClosedTrades {
		trade := &stats.ClosedTrades[i]
		if trade.Profit.IsPositive() {
			m.WinningTrades++
			totalWin = totalWin.Add(trade.Profit)
		} else {
			m.LosingTrades++
			totalLoss = totalLoss.Add(trade.Profit)
		}
		if m.BestTrade == nil || trade.Profit.GreaterThan(m.BestTrade.Profit) {
			m.BestTrade = trade
		}
		if m.WorstTrade == nil || trade.Profit.LessThan(m.WorstTrade.Profit) {
			m.WorstTrade = trade
		}
	}

	if m.WinningTrades > 0 && m.LosingTrades > 0 && !totalLoss.IsZero() {
		avgWin := totalWin.Div(decimal.NewFromInt(int64(m.WinningTrades)))
		avgLoss := totalLoss.Div(decimal.NewFromInt(int64(m.LosingTrades))).Abs()
		m.AvgProfitLoss = avgWin.Div(avgLoss)
	}

	m.MaxDrawdown = calculateMaxDrawdown(EquityCurve(stats.InitialCapital, stats.ClosedTrades))
	return m
}

// EquityCurve is initial capital plus cumulative realized profit after each
// closed trade, in close order.
func EquityCurve(initialCapital decimal.Decimal, trades []models.ClosedTrade) []decimal.Decimal {
	curve := make([]decimal.Decimal, 0, len(trades)+1)
	equity := initialCapital
	curve = append(curve, equity)
	for _, t := range trades {
		equity = equity.Add(t.Profit)
		curve = append(curve, equity)
	}
	return curve
}

func calculateMaxDrawdown(equityCurve []decimal.Decimal) decimal.Decimal {
	if len(equityCurve) < 2 {
		return decimal.Zero
	}
	peak := equityCurve[0]
	maxDrawdown := decimal.Zero

	for _, equity := range equityCurve {
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if !peak.IsPositive() {
			continue
		}
		drawdown := peak.Sub(equity).Div(peak)
		if drawdown.GreaterThan(maxDrawdown) {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// Render writes the summary, open positions and closed trades tables to w.
func Render(w io.Writer, botID string, stats models.PortfolioStats) {
	m := CalculateMetrics(stats)

	summary := newTable(w, fmt.Sprintf("Portfolio %s", botID))
	summary.AppendRows([]table.Row{
		{"Initial capital", money(m.InitialCapital)},
		{"Available cash", money(m.AvailableCash)},
		{"Total value", money(m.TotalValue)},
		{"Total profit", money(m.TotalProfit)},
		{"Total ROI", percent(m.TotalROI)},
		{"Realized profit", money(m.RealizedProfit)},
		{"Unrealized P&L", money(m.UnrealizedPnL)},
	})
	summary.AppendSeparator()
	summary.AppendRows([]table.Row{
		{"Closed trades", m.TotalTrades},
		{"Winning / losing", fmt.Sprintf("%d / %d", m.WinningTrades, m.LosingTrades)},
		{"Win rate", percent(m.WinRate)},
		{"Avg win / avg loss", m.AvgProfitLoss.StringFixed(2)},
		{"Max drawdown", percent(m.MaxDrawdown)},
		{"Best trade", tradeLabel(m.BestTrade)},
		{"Worst trade", tradeLabel(m.WorstTrade)},
	})
	summary.Render()

	if len(stats.OpenPositions) > 0 {
		fmt.Fprintln(w)
		positions := newTable(w, "Open positions")
		positions.AppendHeader(table.Row{"Symbol", "Amount", "Entry", "Current", "Value", "P&L", "ROI", "Conviction", "Tiers"})
		for _, p := range stats.OpenPositions {
			positions.AppendRow(table.Row{
				p.Symbol, p.Amount.StringFixed(6), p.EntryPrice.String(), p.CurrentPrice.String(),
				money(p.Value), money(p.UnrealizedPnL), percent(p.ROI), p.Conviction, fmt.Sprint(p.TiersHit),
			})
		}
		positions.Render()
	}

	if len(stats.ClosedTrades) > 0 {
		fmt.Fprintln(w)
		trades := newTable(w, "Closed trades")
		trades.AppendHeader(table.Row{"Exit time", "Symbol", "Reason", "Amount", "Entry", "Exit", "Profit", "ROI"})
		for _, t := range stats.ClosedTrades {
			trades.AppendRow(table.Row{
				t.ExitTime.Format(time.DateTime), t.Symbol, t.Reason, t.AmountClosed.StringFixed(6),
				t.EntryPrice.String(), t.ExitPrice.String(), money(t.Profit), percent(t.ROI),
			})
		}
		trades.Render()
	}
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	t.Style().Title.Align = text.AlignCenter
	return t
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func percent(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func tradeLabel(t *models.ClosedTrade) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s (%s)", t.Symbol, money(t.Profit), t.Reason)
}
