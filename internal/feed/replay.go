package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrReplayFinished is returned by ReplaySource once every tick was served.
var ErrReplayFinished = errors.New("replay finished")

// Tick is one timestamp's worth of prices.
type Tick struct {
	Time   time.Time
	Prices map[string]decimal.Decimal
}

// ReadTicks parses "timestamp_ms,symbol,price" rows into ticks ordered by
// time. Rows sharing a timestamp form one tick. A header row and malformed
// rows are skipped.
func ReadTicks(r io.Reader, logger *zap.Logger) ([]Tick, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	byTime := make(map[int64]map[string]decimal.Decimal)
	line, skipped := 0, 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				continue
			}
			return nil, fmt.Errorf("read ticks: %w", err)
		}

		ts, symbol, price, ok := parseTickRow(record)
		if !ok {
			if line > 1 {
				skipped++
			}
			continue
		}
		prices, exists := byTime[ts]
		if !exists {
			prices = make(map[string]decimal.Decimal)
			byTime[ts] = prices
		}
		prices[symbol] = price
	}

	if skipped > 0 {
		logger.Sugar().Warnf("Skipped %d malformed replay rows.", skipped)
	}

	stamps := make([]int64, 0, len(byTime))
	for ts := range byTime {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	ticks := make([]Tick, 0, len(stamps))
	for _, ts := range stamps {
		ticks = append(ticks, Tick{Time: time.UnixMilli(ts).UTC(), Prices: byTime[ts]})
	}
	return ticks, nil
}

func parseTickRow(record []string) (int64, string, decimal.Decimal, bool) {
	if len(record) < 3 {
		return 0, "", decimal.Zero, false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
	if err != nil {
		return 0, "", decimal.Zero, false
	}
	symbol := strings.ToUpper(strings.TrimSpace(record[1]))
	if symbol == "" {
		return 0, "", decimal.Zero, false
	}
	price, err := decimal.NewFromString(strings.TrimSpace(record[2]))
	if err != nil {
		return 0, "", decimal.Zero, false
	}
	return ts, symbol, price, true
}

// LoadTicks reads a replay file from disk.
func LoadTicks(path string, logger *zap.Logger) ([]Tick, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadTicks(file, logger)
}

// ReplaySource serves recorded ticks one per Prices call.
type ReplaySource struct {
	ticks []Tick
	next  int
}

// NewReplaySource wraps ticks as a Source.
func NewReplaySource(ticks []Tick) *ReplaySource {
	return &ReplaySource{ticks: ticks}
}

// Prices returns the next tick, or ErrReplayFinished.
func (s *ReplaySource) Prices(ctx context.Context) (map[string]decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.ticks) {
		return nil, ErrReplayFinished
	}
	tick := s.ticks[s.next]
	s.next++
	return tick.Prices, nil
}

// Remaining reports how many ticks are left.
func (s *ReplaySource) Remaining() int {
	return len(s.ticks) - s.next
}
