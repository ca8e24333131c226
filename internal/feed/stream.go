package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"crypto-portfolio-bot/internal/models"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultStreamURL = "wss://stream.binance.com:9443"

// StreamSource keeps the latest price per symbol from the Binance combined
// miniTicker stream and reconnects when the connection drops.
type StreamSource struct {
	baseURL        string
	symbols        []string // Lower-case exchange symbols
	quoteAsset     string
	reconnectDelay time.Duration
	logger         *zap.Logger

	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStreamSource creates a stream source for cfg.Symbols. Call Run to start
// receiving prices.
func NewStreamSource(cfg models.FeedConfig, logger *zap.Logger) *StreamSource {
	base := cfg.WSBaseURL
	if base == "" {
		base = defaultStreamURL
	}
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, strings.ToLower(ExchangeSymbol(s, cfg.QuoteAsset)))
	}
	return &StreamSource{
		baseURL:        strings.TrimRight(base, "/"),
		symbols:        symbols,
		quoteAsset:     cfg.QuoteAsset,
		reconnectDelay: 5 * time.Second,
		logger:         logger,
		prices:         make(map[string]decimal.Decimal),
	}
}

// Prices returns a copy of the latest prices. It is empty until the first
// message arrives.
func (s *StreamSource) Prices(ctx context.Context) (map[string]decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(s.prices))
	for sym, p := range s.prices {
		out[sym] = p
	}
	return out, nil
}

func (s *StreamSource) streamURL() string {
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = sym + "@miniTicker"
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.baseURL, strings.Join(streams, "/"))
}

// Run keeps the stream connected until ctx is cancelled.
func (s *StreamSource) Run(ctx context.Context) {
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.streamURL(), nil)
		if err != nil {
			s.logger.Sugar().Warnf("Price stream connect failed: %v. Retrying in %s...", err, s.reconnectDelay)
		} else {
			s.logger.Sugar().Info("Price stream connected.")
			if err := s.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
				s.logger.Sugar().Warnf("Price stream error: %v", err)
			}
			conn.Close()
		}

		select {
		case <-ctx.Done():
			s.logger.Sugar().Info("Price stream stopped.")
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

type miniTickerMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Close  string `json:"c"`
	} `json:"data"`
}

func (s *StreamSource) readLoop(ctx context.Context, conn *websocket.Conn) error {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10
	)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		pingTicker := time.NewTicker(pingPeriod)
		defer pingTicker.Stop()
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		// Data frames count as liveness too.
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg miniTickerMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Sugar().Debugf("Unparseable stream message: %v", err)
			continue
		}
		price, err := decimal.NewFromString(msg.Data.Close)
		if err != nil || msg.Data.Symbol == "" {
			continue
		}

		s.mu.Lock()
		s.prices[PortfolioSymbol(msg.Data.Symbol, s.quoteAsset)] = price
		s.mu.Unlock()
	}
}
