package statemanager

import (
	"errors"
	"fmt"
	"sync"

	"crypto-portfolio-bot/internal/metrics"
	"crypto-portfolio-bot/internal/models"
	"crypto-portfolio-bot/internal/persistence"
	"crypto-portfolio-bot/internal/portfolio"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrStopped is returned by calls made after Stop.
	ErrStopped = errors.New("state manager stopped")
	// ErrCommandFailed is returned when a command panicked. The loop keeps running.
	ErrCommandFailed = errors.New("state manager command failed")
)

// command is one unit of work executed on the event loop. apply reports whether
// it changed the portfolio and therefore needs to be persisted.
type command struct {
	apply func(p *portfolio.Portfolio) (mutated bool)
	err   error // Persistence error, set by the loop before done is closed
	done  chan struct{}
}

// StateManager is responsible for all portfolio mutations and persistence.
// It ensures that all state changes are processed serially by a single goroutine,
// so any number of goroutines (scheduler, CLI, handlers) may call it.
//
// Every mutation is saved before the call returns. When the save fails the
// mutation still stands in memory: the call returns its normal result together
// with an error wrapping persistence.ErrPersistenceFailure, and the next
// successful save catches up.
type StateManager struct {
	portfolio    *portfolio.Portfolio
	repo         persistence.StateRepository
	metrics      *metrics.Metrics
	eventChannel chan *command
	stopChan     chan struct{}
	loopDone     chan struct{}
	stopOnce     sync.Once
	dirty        bool // In-memory state not yet durable
	logger       *zap.Logger
}

// NewStateManager creates a new StateManager. repo and m may be nil.
func NewStateManager(p *portfolio.Portfolio, repo persistence.StateRepository, m *metrics.Metrics, logger *zap.Logger) *StateManager {
	return &StateManager{
		portfolio:    p,
		repo:         repo,
		metrics:      m,
		eventChannel: make(chan *command, 64),
		stopChan:     make(chan struct{}),
		loopDone:     make(chan struct{}),
		logger:       logger,
	}
}

// Start begins the event processing loop.
func (sm *StateManager) Start() {
	sm.metrics.ObserveStats(sm.portfolio.Stats())
	go sm.eventLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop gracefully shuts down the StateManager. Commands already accepted by the
// loop finish first.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
		<-sm.loopDone
		sm.logger.Sugar().Info("StateManager stopped.")
	})
}

// eventLoop is the core processing loop that handles all commands serially.
func (sm *StateManager) eventLoop() {
	defer close(sm.loopDone)
	for {
		select {
		case cmd := <-sm.eventChannel:
			sm.process(cmd)
		case <-sm.stopChan:
			return
		}
	}
}

func (sm *StateManager) process(cmd *command) {
	defer close(cmd.done)
	defer func() {
		if r := recover(); r != nil {
			sm.logger.Sugar().Errorf("CRITICAL: command panicked: %v", r)
			cmd.err = fmt.Errorf("%w: %v", ErrCommandFailed, r)
		}
	}()

	if cmd.apply(sm.portfolio) {
		sm.dirty = true
	}
	if sm.dirty {
		cmd.err = sm.persist()
	}
	sm.metrics.ObserveStats(sm.portfolio.Stats())
}

// persist saves a snapshot. It must only be called from the event loop.
func (sm *StateManager) persist() error {
	if sm.repo == nil {
		sm.dirty = false
		return nil
	}
	if err := sm.repo.SaveState(sm.portfolio.Snapshot()); err != nil {
		sm.metrics.RecordPersistenceFailure()
		sm.logger.Sugar().Errorf("CRITICAL: Failed to save state: %v", err)
		return fmt.Errorf("%w: %w", persistence.ErrPersistenceFailure, err)
	}
	sm.dirty = false
	return nil
}

// dispatch runs apply on the event loop and waits for it.
func (sm *StateManager) dispatch(apply func(p *portfolio.Portfolio) bool) error {
	cmd := &command{apply: apply, done: make(chan struct{})}

	select {
	case sm.eventChannel <- cmd:
	case <-sm.stopChan:
		return ErrStopped
	}

	select {
	case <-cmd.done:
		return cmd.err
	case <-sm.loopDone:
		// The loop may have finished this command just before exiting.
		select {
		case <-cmd.done:
			return cmd.err
		default:
			return ErrStopped
		}
	}
}

// OpenPosition sizes and opens a position.
func (sm *StateManager) OpenPosition(req portfolio.OpenRequest) (models.PositionSnapshot, error) {
	var snap models.PositionSnapshot
	var openErr error
	err := sm.dispatch(func(p *portfolio.Portfolio) bool {
		snap, openErr = p.OpenPosition(req)
		return openErr == nil
	})
	return snap, sm.openResult(openErr, err)
}

// OpenPositionAmount opens a position of an explicit amount.
func (sm *StateManager) OpenPositionAmount(symbol string, amount, price decimal.Decimal, score *float64, conviction models.Conviction) (models.PositionSnapshot, error) {
	var snap models.PositionSnapshot
	var openErr error
	err := sm.dispatch(func(p *portfolio.Portfolio) bool {
		snap, openErr = p.OpenPositionAmount(symbol, amount, price, score, conviction)
		return openErr == nil
	})
	return snap, sm.openResult(openErr, err)
}

func (sm *StateManager) openResult(openErr, dispatchErr error) error {
	if openErr != nil {
		sm.metrics.RecordRejection(RejectionReason(openErr))
		sm.logger.Sugar().Infof("Open rejected: %v", openErr)
		return openErr
	}
	return dispatchErr
}

// UpdatePositions applies a price tick. The returned error is only ever a
// persistence failure or ErrStopped; skipped symbols are not errors.
func (sm *StateManager) UpdatePositions(prices map[string]decimal.Decimal) ([]models.TriggerEvent, error) {
	var events []models.TriggerEvent
	err := sm.dispatch(func(p *portfolio.Portfolio) bool {
		touched := false
		for _, sym := range p.Symbols() {
			if _, ok := prices[sym]; ok {
				touched = true
				break
			}
		}
		events = p.UpdatePositions(prices)
		sm.metrics.RecordTick(events)
		return touched
	})
	return events, err
}

// ClosePosition closes all of symbol, or partial units of it.
func (sm *StateManager) ClosePosition(symbol string, price decimal.Decimal, reason string, partial *decimal.Decimal) (models.CloseInfo, error) {
	var info models.CloseInfo
	var closeErr error
	err := sm.dispatch(func(p *portfolio.Portfolio) bool {
		info, closeErr = p.ClosePosition(symbol, price, reason, partial)
		return closeErr == nil
	})
	if closeErr != nil {
		return info, closeErr
	}
	return info, err
}

// Size returns the sizing recommendation for a trade idea.
func (sm *StateManager) Size(conviction models.Conviction, score *float64) (decimal.Decimal, error) {
	var dollars decimal.Decimal
	err := sm.dispatch(func(p *portfolio.Portfolio) bool {
		dollars = p.Size(conviction, score)
		return false
	})
	return dollars, err
}

// Stats returns the aggregate portfolio view.
func (sm *StateManager) Stats() (models.PortfolioStats, error) {
	var stats models.PortfolioStats
	err := sm.dispatch(func(p *portfolio.Portfolio) bool {
		stats = p.Stats()
		return false
	})
	return stats, err
}

// GetStateSnapshot returns a deep copy of the current state for safe, concurrent reading.
func (sm *StateManager) GetStateSnapshot() (*models.PortfolioState, error) {
	var snap *models.PortfolioState
	err := sm.dispatch(func(p *portfolio.Portfolio) bool {
		snap = p.Snapshot()
		return false
	})
	return snap, err
}

// Flush retries a pending save, if any.
func (sm *StateManager) Flush() error {
	return sm.dispatch(func(*portfolio.Portfolio) bool { return false })
}

// RejectionReason maps an open error to a short metrics label.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, portfolio.ErrPositionExists):
		return "position_exists"
	case errors.Is(err, portfolio.ErrPositionTooLarge):
		return "position_too_large"
	case errors.Is(err, portfolio.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, portfolio.ErrConvictionScoreTooLow):
		return "conviction_score_too_low"
	case errors.Is(err, portfolio.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, portfolio.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, portfolio.ErrUnknownConviction):
		return "unknown_conviction"
	default:
		return "other"
	}
}
