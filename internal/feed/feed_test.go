package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"crypto-portfolio-bot/internal/models"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPortfolioSymbol(t *testing.T) {
	assert.Equal(t, "SOL", PortfolioSymbol("SOLUSDT", "USDT"))
	assert.Equal(t, "SOL", PortfolioSymbol("solusdt", "usdt"))
	assert.Equal(t, "USDT", PortfolioSymbol("USDT", "USDT"))
	assert.Equal(t, "ETHBTC", PortfolioSymbol("ETHBTC", "USDT"))
	assert.Equal(t, "SOLUSDT", ExchangeSymbol("sol", "USDT"))
	assert.Equal(t, "SOLUSDT", ExchangeSymbol("SOLUSDT", "USDT"))
}

func TestReadTicks(t *testing.T) {
	input := strings.Join([]string{
		"timestamp_ms,symbol,price",
		"2000,SOL,90",
		"1000,SOL,87.5",
		"1000,btc,60000",
		"garbage",
		"3000,SOL,not-a-price",
		"3000,,1",
		"2000,BTC,61000",
	}, "\n")

	ticks, err := ReadTicks(strings.NewReader(input), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	assert.Equal(t, int64(1000), ticks[0].Time.UnixMilli())
	assert.True(t, ticks[0].Prices["SOL"].Equal(d("87.5")))
	assert.True(t, ticks[0].Prices["BTC"].Equal(d("60000")))
	assert.True(t, ticks[1].Prices["SOL"].Equal(d("90")))
	assert.True(t, ticks[1].Prices["BTC"].Equal(d("61000")))
}

func TestReplaySource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,SOL,1\n2,SOL,2\n"), 0o644))
	ticks, err := LoadTicks(path, zap.NewNop())
	require.NoError(t, err)

	src := NewReplaySource(ticks)
	ctx := context.Background()
	p, err := src.Prices(ctx)
	require.NoError(t, err)
	assert.True(t, p["SOL"].Equal(d("1")))
	assert.Equal(t, 1, src.Remaining())

	_, err = src.Prices(ctx)
	require.NoError(t, err)
	_, err = src.Prices(ctx)
	assert.ErrorIs(t, err, ErrReplayFinished)
}

func TestBinanceSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"symbol":"SOLUSDT","price":"87.50"},{"symbol":"BTCUSDT","price":"60000.00"},{"symbol":"ETHUSDT","price":"3000"}]`)
	}))
	defer server.Close()

	src := NewBinanceSource(models.FeedConfig{
		Symbols:     []string{"SOLUSDT", "BTC"},
		QuoteAsset:  "USDT",
		RESTBaseURL: server.URL,
	}, "", "", zap.NewNop())

	prices, err := src.Prices(context.Background())
	require.NoError(t, err)
	assert.Len(t, prices, 2)
	assert.True(t, prices["SOL"].Equal(d("87.5")))
	assert.True(t, prices["BTC"].Equal(d("60000")))
}

func TestBinanceSourceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":-1000,"msg":"boom"}`)
	}))
	defer server.Close()

	src := NewBinanceSource(models.FeedConfig{RESTBaseURL: server.URL}, "", "", zap.NewNop())
	_, err := src.Prices(context.Background())
	assert.Error(t, err)
}

func TestKlineDownloader(t *testing.T) {
	const minute = int64(60000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		start, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		symbol := r.URL.Query().Get("symbol")

		klines := [][]interface{}{}
		if start < 2*minute {
			for i := int64(0); i < 2; i++ {
				open := i * minute
				price := fmt.Sprintf("%d", 100+i)
				if symbol == "BTCUSDT" {
					price = fmt.Sprintf("%d", 60000+i)
				}
				klines = append(klines, []interface{}{
					open, price, price, price, price, "1", open + minute - 1, "1", 1, "1", "1", "0",
				})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(klines))
	}))
	defer server.Close()

	dl := NewKlineDownloader(server.URL, zap.NewNop())
	dl.pause = 0
	path := filepath.Join(t.TempDir(), "data", "ticks.csv")

	err := dl.DownloadTicks(context.Background(), []string{"SOL", "BTCUSDT"}, "USDT", path, time.UnixMilli(0), time.UnixMilli(10*minute))
	require.NoError(t, err)

	ticks, err := LoadTicks(path, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.True(t, ticks[0].Prices["SOL"].Equal(d("100")))
	assert.True(t, ticks[0].Prices["BTC"].Equal(d("60000")))
	assert.True(t, ticks[1].Prices["SOL"].Equal(d("101")))

	// A second call reuses the cached file.
	server.Close()
	require.NoError(t, dl.DownloadTicks(context.Background(), []string{"SOL"}, "USDT", path, time.UnixMilli(0), time.UnixMilli(10*minute)))
}

func TestStreamSource(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stream", r.URL.Path)
		assert.Equal(t, "solusdt@miniTicker/btcusdt@miniTicker", r.URL.Query().Get("streams"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range []string{
			`{"stream":"solusdt@miniTicker","data":{"e":"24hrMiniTicker","s":"SOLUSDT","c":"87.50"}}`,
			`not json`,
			`{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","s":"BTCUSDT","c":"60000"}}`,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	src := NewStreamSource(models.FeedConfig{
		Symbols:    []string{"SOL", "BTCUSDT"},
		QuoteAsset: "USDT",
		WSBaseURL:  "ws" + strings.TrimPrefix(server.URL, "http"),
	}, zap.NewNop())
	src.reconnectDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		src.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		p, err := src.Prices(context.Background())
		return err == nil && len(p) == 2
	}, 2*time.Second, 10*time.Millisecond)

	prices, err := src.Prices(context.Background())
	require.NoError(t, err)
	assert.True(t, prices["SOL"].Equal(d("87.5")))
	assert.True(t, prices["BTC"].Equal(d("60000")))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}
