package feed

import (
	"context"
	"fmt"

	"crypto-portfolio-bot/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BinanceSource polls the public spot ticker endpoint.
type BinanceSource struct {
	client     *binance.Client
	symbols    map[string]bool // Exchange symbols to keep
	quoteAsset string
	logger     *zap.Logger
}

// NewBinanceSource creates a REST price source for cfg.Symbols. Public
// endpoints need no API key, so empty keys are fine.
func NewBinanceSource(cfg models.FeedConfig, apiKey, secretKey string, logger *zap.Logger) *BinanceSource {
	client := binance.NewClient(apiKey, secretKey)
	if cfg.RESTBaseURL != "" {
		client.BaseURL = cfg.RESTBaseURL
	}

	symbols := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[ExchangeSymbol(s, cfg.QuoteAsset)] = true
	}
	return &BinanceSource{
		client:     client,
		symbols:    symbols,
		quoteAsset: cfg.QuoteAsset,
		logger:     logger,
	}
}

// Prices fetches the current ticker prices keyed by portfolio symbol.
func (s *BinanceSource) Prices(ctx context.Context) (map[string]decimal.Decimal, error) {
	list, err := s.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch ticker prices: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(s.symbols))
	for _, p := range list {
		if len(s.symbols) > 0 && !s.symbols[p.Symbol] {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			s.logger.Sugar().Warnf("Bad price %q for %s: %v", p.Price, p.Symbol, err)
			continue
		}
		prices[PortfolioSymbol(p.Symbol, s.quoteAsset)] = price
	}
	return prices, nil
}
