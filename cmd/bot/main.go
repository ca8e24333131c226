package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"crypto-portfolio-bot/internal/config"
	"crypto-portfolio-bot/internal/feed"
	"crypto-portfolio-bot/internal/logger"
	"crypto-portfolio-bot/internal/metrics"
	"crypto-portfolio-bot/internal/models"
	"crypto-portfolio-bot/internal/persistence"
	"crypto-portfolio-bot/internal/portfolio"
	"crypto-portfolio-bot/internal/reporter"
	"crypto-portfolio-bot/internal/scheduler"
	"crypto-portfolio-bot/internal/statemanager"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type cliFlags struct {
	configPath string
	mode       string
	dataPath   string
	symbols    string
	startDate  string
	endDate    string
	symbol     string
	price      string
	conviction string
	score      float64
	amount     string
}

func main() {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "config.json", "path to the config file")
	flag.StringVar(&f.mode, "mode", "run", "running mode: run, replay, open, close or stats")
	flag.StringVar(&f.dataPath, "data", "", "replay file (timestamp_ms,symbol,price)")
	flag.StringVar(&f.symbols, "symbols", "", "comma separated symbols to download for replay (e.g. SOLUSDT,BTCUSDT)")
	flag.StringVar(&f.startDate, "start", "", "replay download start date (YYYY-MM-DD)")
	flag.StringVar(&f.endDate, "end", "", "replay download end date (YYYY-MM-DD)")
	flag.StringVar(&f.symbol, "symbol", "", "symbol for open/close")
	flag.StringVar(&f.price, "price", "", "price for open/close")
	flag.StringVar(&f.conviction, "conviction", "", "conviction for open: EXTREMELY_HIGH, HIGH, MEDIUM or LOW")
	flag.Float64Var(&f.score, "score", -1, "conviction score 0-100 for open, negative means none")
	flag.StringVar(&f.amount, "amount", "", "explicit units for open, or partial units for close")
	flag.Parse()

	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("No .env file found, reading the system environment.")
	} else {
		logger.S().Info("Loaded .env file.")
	}

	configPath := f.configPath
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		logger.S().Warnf("Config file %s not found, using defaults.", configPath)
		configPath = ""
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.S().Fatalf("Failed to load config: %v", err)
	}

	log := logger.InitLogger(cfg.LogConfig)
	defer log.Sync()

	repo, err := persistence.Open(cfg.Store)
	if err != nil {
		log.Sugar().Fatalf("Failed to open %s store: %v", cfg.Store.Type, err)
	}
	defer repo.Close()

	p, err := statemanager.LoadPortfolio(repo, cfg, log)
	if err != nil {
		log.Sugar().Fatalf("Failed to load portfolio: %v", err)
	}

	switch f.mode {
	case "run":
		err = runMode(cfg, p, repo, log)
	case "replay":
		err = replayMode(cfg, p, f, log)
	case "open":
		err = openMode(cfg, p, repo, f, log)
	case "close":
		err = closeMode(cfg, p, repo, f, log)
	case "stats":
		reporter.Render(os.Stdout, cfg.BotID, p.Stats())
	default:
		err = fmt.Errorf("unknown mode %q, expected run, replay, open, close or stats", f.mode)
	}
	if err != nil {
		log.Sugar().Error(err)
		repo.Close()
		log.Sync()
		os.Exit(1)
	}
}

// runMode drives the stored portfolio from the configured live feed until
// SIGINT or SIGTERM.
func runMode(cfg *models.Config, p *portfolio.Portfolio, repo persistence.StateRepository, log *zap.Logger) error {
	log.Sugar().Infof("--- Starting %s on the %s feed ---", cfg.BotID, cfg.Feed.Type)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Sugar().Errorf("Metrics server failed: %v", err)
			}
		}()
		defer server.Shutdown(context.Background())
		log.Sugar().Infof("Serving metrics on %s/metrics", cfg.MetricsAddr)
	}

	sm := statemanager.NewStateManager(p, repo, m, log)
	sm.Start()
	defer sm.Stop()

	var source feed.Source
	switch cfg.Feed.Type {
	case "stream":
		stream := feed.NewStreamSource(cfg.Feed, log)
		go stream.Run(ctx)
		source = stream
	default:
		source = feed.NewBinanceSource(cfg.Feed, cfg.BinanceAPIKey, cfg.BinanceSecretKey, log)
	}

	sched := scheduler.New(source, sm, time.Duration(cfg.Feed.IntervalSec)*time.Second, nil, log)
	if err := sched.Run(ctx); err != nil {
		return err
	}

	if err := sm.Flush(); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	log.Sugar().Info("Bot stopped, state saved.")
	return nil
}

// replayMode runs recorded prices against a copy of the stored portfolio.
// Nothing is written back to the store.
func replayMode(cfg *models.Config, p *portfolio.Portfolio, f cliFlags, log *zap.Logger) error {
	dataPath, err := prepareReplayData(cfg, f, log)
	if err != nil {
		return err
	}
	ticks, err := feed.LoadTicks(dataPath, log)
	if err != nil {
		return fmt.Errorf("load replay data: %w", err)
	}
	if len(ticks) == 0 {
		return fmt.Errorf("replay file %s has no ticks", dataPath)
	}
	log.Sugar().Infof("--- Replaying %d ticks from %s (%s to %s) ---", len(ticks), dataPath,
		ticks[0].Time.Format(time.DateTime), ticks[len(ticks)-1].Time.Format(time.DateTime))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sm := statemanager.NewStateManager(p, nil, nil, log)
	sm.Start()
	defer sm.Stop()

	if err := scheduler.Replay(ctx, ticks, sm, nil, log); err != nil {
		return err
	}
	stats, err := sm.Stats()
	if err != nil {
		return err
	}
	reporter.Render(os.Stdout, cfg.BotID+" (replay)", stats)
	return nil
}

// prepareReplayData returns -data, or downloads -symbols between -start and
// -end into data/ and returns that file.
func prepareReplayData(cfg *models.Config, f cliFlags, log *zap.Logger) (string, error) {
	if f.symbols == "" || f.startDate == "" || f.endDate == "" {
		if f.dataPath == "" {
			return "", errors.New("replay mode needs -data or -symbols/-start/-end")
		}
		return f.dataPath, nil
	}

	startTime, err1 := time.Parse(time.DateOnly, f.startDate)
	endTime, err2 := time.Parse(time.DateOnly, f.endDate)
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("dates must be YYYY-MM-DD. start: %v, end: %v", err1, err2)
	}

	symbols := strings.Split(f.symbols, ",")
	for i := range symbols {
		symbols[i] = strings.TrimSpace(symbols[i])
	}
	fileName := filepath.Join("data", fmt.Sprintf("%s-%s-%s.csv", strings.Join(symbols, "_"), f.startDate, f.endDate))

	dl := feed.NewKlineDownloader(cfg.Feed.RESTBaseURL, log)
	if err := dl.DownloadTicks(context.Background(), symbols, cfg.Feed.QuoteAsset, fileName, startTime, endTime); err != nil {
		return "", fmt.Errorf("download replay data: %w", err)
	}
	return fileName, nil
}

func openMode(cfg *models.Config, p *portfolio.Portfolio, repo persistence.StateRepository, f cliFlags, log *zap.Logger) error {
	if f.symbol == "" {
		return errors.New("open needs -symbol")
	}
	price, err := decimal.NewFromString(f.price)
	if err != nil {
		return fmt.Errorf("invalid -price %q: %w", f.price, err)
	}

	conviction := cfg.Risk.DefaultConviction
	if f.conviction != "" {
		if conviction, err = models.ParseConviction(f.conviction); err != nil {
			return err
		}
	}
	var score *float64
	if f.score >= 0 {
		score = &f.score
	}

	sm := statemanager.NewStateManager(p, repo, nil, log)
	sm.Start()
	defer sm.Stop()

	symbol := strings.ToUpper(f.symbol)
	var snap models.PositionSnapshot
	if f.amount != "" {
		amount, err := decimal.NewFromString(f.amount)
		if err != nil {
			return fmt.Errorf("invalid -amount %q: %w", f.amount, err)
		}
		snap, err = sm.OpenPositionAmount(symbol, amount, price, score, conviction)
		if err != nil {
			return err
		}
	} else {
		snap, err = sm.OpenPosition(portfolio.OpenRequest{Symbol: symbol, Price: price, Conviction: conviction, Score: score})
		if err != nil {
			return err
		}
	}

	log.Sugar().Infof("Opened %s: %s units @ %s (%s), value %s",
		snap.Symbol, snap.Amount, snap.EntryPrice, snap.Conviction, snap.Value.StringFixed(2))
	return nil
}

func closeMode(cfg *models.Config, p *portfolio.Portfolio, repo persistence.StateRepository, f cliFlags, log *zap.Logger) error {
	if f.symbol == "" {
		return errors.New("close needs -symbol")
	}
	price, err := decimal.NewFromString(f.price)
	if err != nil {
		return fmt.Errorf("invalid -price %q: %w", f.price, err)
	}
	var partial *decimal.Decimal
	if f.amount != "" {
		amount, err := decimal.NewFromString(f.amount)
		if err != nil {
			return fmt.Errorf("invalid -amount %q: %w", f.amount, err)
		}
		partial = &amount
	}

	sm := statemanager.NewStateManager(p, repo, nil, log)
	sm.Start()
	defer sm.Stop()

	info, err := sm.ClosePosition(strings.ToUpper(f.symbol), price, models.ReasonManual, partial)
	if err != nil {
		return err
	}
	log.Sugar().Infof("Closed %s %s @ %s: profit %s (roi %s), %s left",
		info.AmountClosed, info.Symbol, info.ExitPrice, info.Profit.StringFixed(2), info.ROI.StringFixed(4), info.RemainingAmount)
	return nil
}
