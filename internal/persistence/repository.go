package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"crypto-portfolio-bot/internal/models"

	"github.com/shopspring/decimal"
)

// ErrPersistenceFailure marks any failure to durably save or load portfolio state.
// The in-memory portfolio stays authoritative when a save fails.
var ErrPersistenceFailure = errors.New("persistence failure")

// StateRepository defines the interface for state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, SQLite, Redis, plain files)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically saves the entire portfolio state under state.BotID.
	// A crash during SaveState must leave either the previous or the new state.
	SaveState(state *models.PortfolioState) error

	// LoadState loads the state saved for botID.
	// If no state is found, it should return (nil, nil).
	LoadState(botID string) (*models.PortfolioState, error)

	// Close gracefully closes the connection to the store.
	Close() error
}

// LoadOrInit loads the state of botID, or returns a fresh state seeded with
// initialCapital on first run. fresh reports which one happened. Older schema
// versions are migrated in memory.
func LoadOrInit(repo StateRepository, botID string, initialCapital decimal.Decimal) (state *models.PortfolioState, fresh bool, err error) {
	state, err = repo.LoadState(botID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: load %s: %w", ErrPersistenceFailure, botID, err)
	}
	if state == nil {
		return models.NewPortfolioState(botID, initialCapital), true, nil
	}
	if state.BotID == "" {
		state.BotID = botID
	}
	state.Migrate()
	if err := state.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: load %s: %w", ErrPersistenceFailure, botID, err)
	}
	return state, false, nil
}

// Open creates the repository selected by cfg.
func Open(cfg models.StoreConfig) (StateRepository, error) {
	switch cfg.Type {
	case "", "badger":
		return NewBadgerRepository(cfg.Path)
	case "sqlite":
		if dir := filepath.Dir(cfg.Path); !strings.HasPrefix(cfg.Path, ":memory:") && !strings.HasPrefix(cfg.Path, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
		repo, err := NewSQLiteRepository(cfg.Path)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "redis":
		repo, err := NewRedisRepository(RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "file":
		repo, err := NewFileRepository(cfg.Path)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
