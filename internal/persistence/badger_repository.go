package persistence

import (
	"encoding/json"
	"errors"

	"crypto-portfolio-bot/internal/models"

	"github.com/dgraph-io/badger/v3"
)

const badgerKeyPrefix = "portfolio_state/"

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is noisy; errors are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{db: db}, nil
}

func badgerKey(botID string) []byte {
	return []byte(badgerKeyPrefix + botID)
}

// SaveState saves the entire portfolio state in a single transaction.
func (r *badgerRepository) SaveState(state *models.PortfolioState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(state.BotID), data)
	})
}

// LoadState loads the state of botID.
// If the key is not found, it returns (nil, nil) to indicate no state is present.
func (r *badgerRepository) LoadState(botID string) (*models.PortfolioState, error) {
	var state models.PortfolioState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(botID))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
