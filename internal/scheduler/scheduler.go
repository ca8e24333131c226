// Package scheduler drives the portfolio from a price source on a fixed
// interval.
package scheduler

import (
	"context"
	"errors"
	"time"

	"crypto-portfolio-bot/internal/feed"
	"crypto-portfolio-bot/internal/models"
	"crypto-portfolio-bot/internal/persistence"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Updater applies a price tick. statemanager.StateManager satisfies it.
type Updater interface {
	UpdatePositions(prices map[string]decimal.Decimal) ([]models.TriggerEvent, error)
}

// TriggerHandler receives every automatic exit.
type TriggerHandler func(models.TriggerEvent)

// Scheduler polls a feed.Source every interval and applies the prices.
type Scheduler struct {
	source    feed.Source
	updater   Updater
	interval  time.Duration
	onTrigger TriggerHandler
	logger    *zap.Logger
}

// New creates a scheduler. onTrigger may be nil.
func New(source feed.Source, updater Updater, interval time.Duration, onTrigger TriggerHandler, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		source:    source,
		updater:   updater,
		interval:  interval,
		onTrigger: onTrigger,
		logger:    logger,
	}
}

// Run ticks immediately and then every interval until ctx is cancelled or the
// source is exhausted. Feed and persistence errors are logged and the loop
// keeps going.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil {
			if errors.Is(err, feed.ErrReplayFinished) {
				s.logger.Sugar().Info("Price source exhausted, scheduler stopping.")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, persistence.ErrPersistenceFailure) {
				s.logger.Sugar().Warnf("Tick failed: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			s.logger.Sugar().Info("Scheduler stopped.")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick fetches prices once and applies them.
func (s *Scheduler) Tick(ctx context.Context) error {
	prices, err := s.source.Prices(ctx)
	if err != nil {
		return err
	}
	if len(prices) == 0 {
		s.logger.Sugar().Debug("No prices yet, skipping tick.")
		return nil
	}
	return Apply(prices, s.updater, s.onTrigger, s.logger)
}

// Apply runs one tick through updater and reports its triggers. A persistence
// failure is returned after the triggers were reported, since they already
// happened in memory.
func Apply(prices map[string]decimal.Decimal, updater Updater, onTrigger TriggerHandler, logger *zap.Logger) error {
	events, err := updater.UpdatePositions(prices)
	for _, ev := range events {
		logTrigger(logger, ev)
		if onTrigger != nil {
			onTrigger(ev)
		}
	}
	if err != nil {
		logger.Sugar().Errorf("Tick applied but not saved: %v", err)
	}
	return err
}

// Replay applies recorded ticks in order, stopping early only when ctx is
// cancelled.
func Replay(ctx context.Context, ticks []feed.Tick, updater Updater, onTrigger TriggerHandler, logger *zap.Logger) error {
	for i, tick := range ticks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := Apply(tick.Prices, updater, onTrigger, logger); err != nil && !errors.Is(err, persistence.ErrPersistenceFailure) {
			return err
		}
		if (i+1)%10000 == 0 {
			logger.Sugar().Infof("Replayed %d/%d ticks", i+1, len(ticks))
		}
	}
	return nil
}

func logTrigger(logger *zap.Logger, ev models.TriggerEvent) {
	switch ev.Type {
	case models.TriggerStopLoss:
		logger.Sugar().Warnf("STOP-LOSS %s: roi %s, sold %s @ %s, loss %s",
			ev.Symbol, ev.ROI.StringFixed(4), ev.Close.AmountClosed, ev.Close.ExitPrice, ev.Close.Profit.StringFixed(2))
	default:
		logger.Sugar().Infof("TAKE-PROFIT %s %s: roi %s, sold %s @ %s, profit %s, %s left",
			ev.Symbol, ev.Tier, ev.ROI.StringFixed(4), ev.Close.AmountClosed, ev.Close.ExitPrice,
			ev.Close.Profit.StringFixed(2), ev.Close.RemainingAmount)
	}
}
