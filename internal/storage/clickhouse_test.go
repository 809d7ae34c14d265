package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swap-cycler/internal/config"
	"github.com/swap-cycler/internal/models"
)

func TestSplitSQLStatements(t *testing.T) {
	sql := `-- header
CREATE TABLE a (
    x UInt8
) ENGINE = Memory;

-- second
CREATE TABLE b (y String) ENGINE = Memory;
SELECT 1`

	stmts := splitSQLStatements(sql)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE a (\n    x UInt8\n) ENGINE = Memory", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y String) ENGINE = Memory", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := postgresMigrations.ReadDir("migrations/postgres")
	require.NoError(t, err)
	assert.Len(t, pg, 4)

	ch, err := clickhouseMigrations.ReadFile("migrations/clickhouse/001_create_swap_trades.sql")
	require.NoError(t, err)
	stmts := splitSQLStatements(string(ch))
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS swap_trades")
}

func TestTradeRepositoryRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := testContext(t)
	db, err := NewClickHouseDB(ctx, &config.ClickHouseConfig{
		Host:     "localhost",
		Port:     "9000",
		Database: "default",
		User:     "default",
	})
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()
	require.NoError(t, RunClickHouseMigrations(ctx, db))

	repo := NewTradeRepository(db)
	jobID := "job-" + uuid.NewString()
	rec := &models.TradeRecord{
		TradeID:    uuid.NewString(),
		JobID:      jobID,
		TaskID:     jobID + "-1",
		Side:       "buy",
		DexID:      "bonding_curve",
		InAmount:   10_000,
		OutAmount:  19_550,
		Status:     models.TradeConfirmed,
		ExecutedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, repo.RecordTrade(ctx, rec))

	trades, err := repo.TradesByJob(ctx, jobID, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(19_550), trades[0].OutAmount)
}
