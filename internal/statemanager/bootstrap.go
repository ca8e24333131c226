package statemanager

import (
	"crypto-portfolio-bot/internal/models"
	"crypto-portfolio-bot/internal/persistence"
	"crypto-portfolio-bot/internal/portfolio"

	"go.uber.org/zap"
)

// LoadPortfolio restores the bot's portfolio from repo, or creates a fresh one
// seeded with cfg.InitialCapital on first run. A fresh portfolio is saved
// immediately so that the next start finds it.
func LoadPortfolio(repo persistence.StateRepository, cfg *models.Config, logger *zap.Logger) (*portfolio.Portfolio, error) {
	state, fresh, err := persistence.LoadOrInit(repo, cfg.BotID, cfg.InitialCapital)
	if err != nil {
		return nil, err
	}

	p := portfolio.Restore(state, cfg.Risk, portfolio.WithLogger(logger))
	if fresh {
		logger.Sugar().Infof("No saved state for %s, starting with %s of virtual capital.", cfg.BotID, cfg.InitialCapital)
		if err := repo.SaveState(p.Snapshot()); err != nil {
			logger.Sugar().Warnf("Could not save initial state: %v", err)
		}
	} else {
		logger.Sugar().Infof("Restored %s: cash %s, %d open positions, %d closed trades.",
			cfg.BotID, state.AvailableCash.StringFixed(2), len(state.Positions), len(state.ClosedTrades))
	}
	return p, nil
}
