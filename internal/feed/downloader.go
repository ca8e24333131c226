package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// KlineDownloader fetches historical klines from Binance and writes them as a
// replay file.
type KlineDownloader struct {
	client   *binance.Client
	interval string
	pause    time.Duration // Delay between paged requests
	logger   *zap.Logger
}

// NewKlineDownloader creates a downloader. baseURL may be empty for the
// production endpoint.
func NewKlineDownloader(baseURL string, logger *zap.Logger) *KlineDownloader {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &KlineDownloader{
		client:   client,
		interval: "1m",
		pause:    200 * time.Millisecond,
		logger:   logger,
	}
}

type tickRow struct {
	openTime int64
	symbol   string
	close    string
}

// DownloadTicks downloads klines for every exchange symbol between start and
// end and writes "timestamp_ms,symbol,price" rows using the close price. An
// existing file is treated as a cache and left untouched.
func (d *KlineDownloader) DownloadTicks(ctx context.Context, symbols []string, quoteAsset, filePath string, start, end time.Time) error {
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		d.logger.Sugar().Infof("Using cached replay data: %s", filePath)
		return nil
	}

	var rows []tickRow
	for _, symbol := range symbols {
		exchangeSymbol := ExchangeSymbol(symbol, quoteAsset)
		d.logger.Sugar().Infof("Downloading %s klines from %s to %s...", exchangeSymbol, start.Format(time.DateOnly), end.Format(time.DateOnly))
		got, err := d.download(ctx, exchangeSymbol, PortfolioSymbol(exchangeSymbol, quoteAsset), start, end)
		if err != nil {
			return err
		}
		rows = append(rows, got...)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].openTime != rows[j].openTime {
			return rows[i].openTime < rows[j].openTime
		}
		return rows[i].symbol < rows[j].symbol
	})

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create file %s: %w", filePath, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"timestamp_ms", "symbol", "price"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		if err := writer.Write([]string{strconv.FormatInt(r.openTime, 10), r.symbol, r.close}); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", filePath, err)
	}

	d.logger.Sugar().Infof("Wrote %d ticks to %s", len(rows), filePath)
	return nil
}

func (d *KlineDownloader) download(ctx context.Context, exchangeSymbol, symbol string, start, end time.Time) ([]tickRow, error) {
	var rows []tickRow
	for t := start; t.Before(end); {
		klines, err := d.client.NewKlinesService().
			Symbol(exchangeSymbol).
			Interval(d.interval).
			StartTime(t.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(1000).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("download %s klines: %w", exchangeSymbol, err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			if k.OpenTime >= end.UnixMilli() {
				break
			}
			rows = append(rows, tickRow{openTime: k.OpenTime, symbol: symbol, close: k.Close})
		}

		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		if d.pause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.pause):
			}
		}
	}
	return rows, nil
}
