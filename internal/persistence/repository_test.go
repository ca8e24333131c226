package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"crypto-portfolio-bot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState(botID string) *models.PortfolioState {
	entry := time.Date(2025, 3, 1, 9, 30, 15, 123456789, time.UTC)
	exit := entry.Add(36 * time.Hour)
	score := 90.0

	st := models.NewPortfolioState(botID, decimal.RequireFromString("100000"))
	st.AvailableCash = decimal.RequireFromString("96287.5000000000000012")
	st.Positions["SOL"] = &models.Position{
		Symbol:         "SOL",
		Amount:         decimal.RequireFromString("54.0000000000001"),
		OriginalAmount: decimal.RequireFromString("77.142857142857"),
		EntryPrice:     decimal.RequireFromString("87.50"),
		EntryTime:      entry,
		CurrentPrice:   decimal.RequireFromString("131.25"),
		LastUpdateTime: exit,
		Score:          &score,
		Conviction:     models.ConvictionHigh,
		TiersHit:       []string{"tier1"},
	}
	st.ClosedTrades = append(st.ClosedTrades, models.ClosedTrade{
		ID:           "abc123",
		Symbol:       "SOL",
		EntryPrice:   decimal.RequireFromString("87.50"),
		ExitPrice:    decimal.RequireFromString("131.25"),
		AmountClosed: decimal.RequireFromString("23.1428571428571"),
		ROI:          decimal.RequireFromString("0.5"),
		Profit:       decimal.RequireFromString("1012.4999999999996"),
		EntryTime:    entry,
		ExitTime:     exit,
		Reason:       models.TakeProfitReason("tier1"),
		Score:        &score,
		Conviction:   models.ConvictionHigh,
	})
	st.LastUpdateTime = exit
	return st
}

// assertSameState compares decimals and times by value, not representation.
func assertSameState(t *testing.T, want, got *models.PortfolioState) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.BotID, got.BotID)
	assert.Equal(t, want.Version, got.Version)
	assert.True(t, want.InitialCapital.Equal(got.InitialCapital))
	assert.True(t, want.AvailableCash.Equal(got.AvailableCash), "cash %s != %s", want.AvailableCash, got.AvailableCash)
	assert.True(t, want.LastUpdateTime.Equal(got.LastUpdateTime))

	require.Len(t, got.Positions, len(want.Positions))
	for sym, wp := range want.Positions {
		gp, ok := got.Positions[sym]
		require.True(t, ok, "missing position %s", sym)
		assert.True(t, wp.Amount.Equal(gp.Amount))
		assert.True(t, wp.OriginalAmount.Equal(gp.OriginalAmount))
		assert.True(t, wp.EntryPrice.Equal(gp.EntryPrice))
		assert.True(t, wp.CurrentPrice.Equal(gp.CurrentPrice))
		assert.True(t, wp.EntryTime.Equal(gp.EntryTime))
		assert.True(t, wp.LastUpdateTime.Equal(gp.LastUpdateTime))
		assert.Equal(t, wp.TiersHit, gp.TiersHit)
		assert.Equal(t, wp.Conviction, gp.Conviction)
		require.NotNil(t, gp.Score)
		assert.Equal(t, *wp.Score, *gp.Score)
	}

	require.Len(t, got.ClosedTrades, len(want.ClosedTrades))
	for i, wt := range want.ClosedTrades {
		gt := got.ClosedTrades[i]
		assert.Equal(t, wt.ID, gt.ID)
		assert.True(t, wt.Profit.Equal(gt.Profit))
		assert.True(t, wt.AmountClosed.Equal(gt.AmountClosed))
		assert.True(t, wt.ExitTime.Equal(gt.ExitTime))
		assert.Equal(t, wt.Reason, gt.Reason)
	}
}

func testRepositoryRoundTrip(t *testing.T, repo StateRepository) {
	t.Helper()

	missing, err := repo.LoadState("nobody")
	require.NoError(t, err)
	assert.Nil(t, missing, "missing state must load as nil")

	want := sampleState("bot-a")
	require.NoError(t, repo.SaveState(want))
	got, err := repo.LoadState("bot-a")
	require.NoError(t, err)
	assertSameState(t, want, got)

	// Overwrite with a newer state.
	want.AvailableCash = want.AvailableCash.Add(decimal.RequireFromString("1.5"))
	delete(want.Positions, "SOL")
	require.NoError(t, repo.SaveState(want))
	got, err = repo.LoadState("bot-a")
	require.NoError(t, err)
	assertSameState(t, want, got)

	// Instances are isolated by bot id.
	other, err := repo.LoadState("bot-b")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestBadgerRepository(t *testing.T) {
	repo, err := NewBadgerRepository(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	defer repo.Close()
	testRepositoryRoundTrip(t, repo)
}

func TestSQLiteRepository(t *testing.T) {
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "portfolio.db"))
	require.NoError(t, err)
	defer repo.Close()
	testRepositoryRoundTrip(t, repo)

	trades, err := repo.ClosedTrades("bot-a")
	require.NoError(t, err)
	require.Len(t, trades, 1, "journal keeps each trade once across saves")
	assert.Equal(t, "abc123", trades[0].ID)
	assert.True(t, trades[0].Profit.Equal(decimal.RequireFromString("1012.4999999999996")))
	assert.Equal(t, models.ConvictionHigh, trades[0].Conviction)
}

func TestFileRepository(t *testing.T) {
	repo, err := NewFileRepository(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()
	testRepositoryRoundTrip(t, repo)
}

func TestFileRepositoryDiscardsInterruptedSave(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	require.NoError(t, err)

	want := sampleState("bot-a")
	require.NoError(t, repo.SaveState(want))

	// Simulate a crash after the temp file was written but before rename.
	torn := filepath.Join(dir, "bot-a.json.tmp-12345")
	require.NoError(t, os.WriteFile(torn, []byte(`{"bot_id": "bot-a", "available_cash": "1`), 0o644))

	got, err := repo.LoadState("bot-a")
	require.NoError(t, err)
	assertSameState(t, want, got)

	_, err = os.Stat(torn)
	assert.True(t, os.IsNotExist(err), "stale temp file should be removed on load")
}

func TestRedisRepository(t *testing.T) {
	addr := os.Getenv("PORTFOLIO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PORTFOLIO_TEST_REDIS_ADDR not set")
	}
	repo, err := NewRedisRepository(RedisConfig{Addr: addr, DB: 15})
	require.NoError(t, err)
	defer repo.Close()
	testRepositoryRoundTrip(t, repo)
}

func TestLoadOrInit(t *testing.T) {
	repo, err := NewFileRepository(t.TempDir())
	require.NoError(t, err)

	st, fresh, err := LoadOrInit(repo, "bot-a", decimal.NewFromInt(50000))
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.True(t, st.AvailableCash.Equal(decimal.NewFromInt(50000)))
	assert.Empty(t, st.Positions)
	assert.Equal(t, models.CurrentStateVersion, st.Version)

	require.NoError(t, repo.SaveState(sampleState("bot-a")))
	st, fresh, err = LoadOrInit(repo, "bot-a", decimal.NewFromInt(50000))
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.True(t, st.InitialCapital.Equal(decimal.NewFromInt(100000)), "stored capital wins over config")
}

func TestLoadOrInitMigratesV1(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	require.NoError(t, err)

	legacy := `{
		"bot_id": "bot-a",
		"version": 1,
		"initial_capital": "1000",
		"available_cash": "500",
		"positions": {"SOL": {"symbol": "SOL", "amount": "5", "entry_price": "100", "current_price": "100"}}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot-a.json"), []byte(legacy), 0o644))

	st, fresh, err := LoadOrInit(repo, "bot-a", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, models.CurrentStateVersion, st.Version)
	assert.True(t, st.Positions["SOL"].OriginalAmount.Equal(decimal.NewFromInt(5)))
	assert.NotNil(t, st.ClosedTrades)
}

func TestLoadOrInitWrapsFailure(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot-a.json"), []byte("not json"), 0o644))

	_, _, err = LoadOrInit(repo, "bot-a", decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, ErrPersistenceFailure)
}

func TestOpenUnknownStore(t *testing.T) {
	_, err := Open(models.StoreConfig{Type: "etcd"})
	assert.Error(t, err)

	repo, err := Open(models.StoreConfig{Type: "file", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileRepository{}, repo)
}

func TestLoadOrInitRejectsCorruptPosition(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	require.NoError(t, err)

	corrupt := `{
		"bot_id": "bot-a",
		"version": 2,
		"initial_capital": "1000",
		"available_cash": "900",
		"positions": {"SOL": {"symbol": "SOL", "amount": "1", "original_amount": "1", "current_price": "1"}}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot-a.json"), []byte(corrupt), 0o644))

	_, _, err = LoadOrInit(repo, "bot-a", decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestFileRepositorySaveLeavesOnlyCommittedFile(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	require.NoError(t, err)

	require.NoError(t, repo.SaveState(sampleState("bot-a")))
	require.NoError(t, repo.SaveState(sampleState("bot-a")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bot-a.json", entries[0].Name())

	assert.NoError(t, syncDir(dir))
	assert.Error(t, syncDir(filepath.Join(dir, "missing")))
}
