// Package feed provides the price sources that drive the portfolio: CSV
// replay files, Binance REST snapshots and the Binance miniTicker stream.
package feed

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Source returns the latest known price per portfolio symbol.
type Source interface {
	Prices(ctx context.Context) (map[string]decimal.Decimal, error)
}

// PortfolioSymbol strips the quote asset from an exchange symbol, so SOLUSDT
// with quote USDT becomes SOL. Symbols without the suffix are returned as is.
func PortfolioSymbol(exchangeSymbol, quoteAsset string) string {
	s := strings.ToUpper(exchangeSymbol)
	q := strings.ToUpper(quoteAsset)
	if q != "" && len(s) > len(q) && strings.HasSuffix(s, q) {
		return strings.TrimSuffix(s, q)
	}
	return s
}

// ExchangeSymbol is the inverse of PortfolioSymbol.
func ExchangeSymbol(symbol, quoteAsset string) string {
	s := strings.ToUpper(symbol)
	q := strings.ToUpper(quoteAsset)
	if q == "" || strings.HasSuffix(s, q) {
		return s
	}
	return s + q
}
