package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swap-cycler/internal/config"
	"github.com/swap-cycler/internal/models"
	"github.com/swap-cycler/internal/types"
)

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "swap_cycler_test",
		User:           "cycler",
		Password:       "cycler_dev_password",
		MaxConnections: 4,
	}
}

// testJobRepository returns a migrated repository or skips
func testJobRepository(t *testing.T) *JobRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(testContext(t), cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, RunMigrations(cfg.URL()))
	_, err = db.Pool().Exec(testContext(t), `TRUNCATE trading_jobs`)
	require.NoError(t, err)
	return NewJobRepository(db)
}

func insertJob(t *testing.T, repo *JobRepository, id string, status types.JobStatus) {
	t.Helper()
	_, err := repo.db.Pool().Exec(testContext(t), `
		INSERT INTO trading_jobs (id, user_id, dex_id, base_mint, base_decimals, quote_mint, quote_decimals,
			amount, token_amount, loop_time, buy_target, sell_target, mode, status)
		VALUES ($1, 'user-1', 'bonding_curve', 'BaseMint', 6, 'So11111111111111111111111111111111111111112', 9,
			1000000, 2000, 5, 3, 2, 'one-way', $2)`, id, status)
	require.NoError(t, err)
}

func TestJobRepositoryRoundTrip(t *testing.T) {
	repo := testJobRepository(t)
	ctx := testContext(t)

	insertJob(t, repo, "job-a", types.JobStatusActive)
	insertJob(t, repo, "job-b", types.JobStatusInactive)

	active, err := repo.ListActiveJobs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "job-a", active[0].ID)
	assert.Equal(t, uint64(1_000_000), active[0].Amount)
	assert.Equal(t, types.ModeOneWay, active[0].Mode)
	assert.True(t, active[0].IsBuy)

	progress, state := 1, types.StateBuying
	sig := "5ig"
	require.NoError(t, repo.UpdateJob(ctx, "job-a", models.JobUpdate{
		BuyProgress:   &progress,
		State:         &state,
		LastSignature: &sig,
	}))

	job, err := repo.FindJob(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, 1, job.BuyProgress)
	require.NotNil(t, job.LastSignature)
	assert.Equal(t, "5ig", *job.LastSignature)

	_, err = repo.FindJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, repo.UpdateJob(ctx, "missing", models.JobUpdate{BuyProgress: &progress}), ErrJobNotFound)
}

func TestJobRepositoryRejectsProgressAboveTarget(t *testing.T) {
	repo := testJobRepository(t)
	insertJob(t, repo, "job-a", types.JobStatusActive)

	progress := 9
	err := repo.UpdateJob(testContext(t), "job-a", models.JobUpdate{BuyProgress: &progress})
	assert.Error(t, err)
}
