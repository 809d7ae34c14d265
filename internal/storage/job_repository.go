package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/models"
	"github.com/swap-cycler/internal/types"
)

// ErrJobNotFound is returned when a job id has no record
var ErrJobNotFound = errors.New("trading job not found")

// JobStore is the persistence contract for trading jobs
type JobStore interface {
	FindJob(ctx context.Context, id string) (*models.TradingJob, error)
	UpdateJob(ctx context.Context, id string, update models.JobUpdate) error
	ListActiveJobs(ctx context.Context) ([]models.TradingJob, error)
}

// JobRepository stores trading jobs in Postgres
type JobRepository struct {
	db *PostgresDB
}

var _ JobStore = (*JobRepository)(nil)

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id, user_id, funding_wallet,
	dex_id, pool_address, base_mint, base_symbol, base_decimals, quote_mint, quote_symbol, quote_decimals,
	amount, token_amount, loop_time,
	buy_target, sell_target, buy_progress, sell_progress,
	mode, is_buy, is_balance, is_waiting_for_quote, is_waiting_for_base, state,
	fee_bps, referrer_id, referral_bps, referral_wallet, slippage_bps,
	status, last_error, last_signature, pending_signature, failure_count, created_at, updated_at`

func scanJob(row pgx.Row) (*models.TradingJob, error) {
	var j models.TradingJob
	err := row.Scan(
		&j.ID, &j.UserID, &j.FundingWallet,
		&j.DexID, &j.PoolAddress, &j.BaseMint, &j.BaseSymbol, &j.BaseDecimals, &j.QuoteMint, &j.QuoteSymbol, &j.QuoteDecimals,
		&j.Amount, &j.TokenAmount, &j.LoopTime,
		&j.BuyTarget, &j.SellTarget, &j.BuyProgress, &j.SellProgress,
		&j.Mode, &j.IsBuy, &j.IsBalance, &j.IsWaitingForQuote, &j.IsWaitingForBase, &j.State,
		&j.FeeBps, &j.ReferrerID, &j.ReferralBps, &j.ReferralWallet, &j.SlippageBps,
		&j.Status, &j.LastError, &j.LastSignature, &j.PendingSignature, &j.FailureCount, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// FindJob loads one job by id
func (r *JobRepository) FindJob(ctx context.Context, id string) (*models.TradingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM trading_jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, apperrors.NewDatabaseError("find_job", err)
	}
	return job, nil
}

// ListActiveJobs returns every job with status active
func (r *JobRepository) ListActiveJobs(ctx context.Context) ([]models.TradingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM trading_jobs WHERE status = $1 ORDER BY created_at, id`

	rows, err := r.db.Pool().Query(ctx, query, types.JobStatusActive)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_active_jobs", err)
	}
	defer rows.Close()

	var jobs []models.TradingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("list_active_jobs", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list_active_jobs", err)
	}
	return jobs, nil
}

// UpdateJob writes the non-nil fields of update in one statement
func (r *JobRepository) UpdateJob(ctx context.Context, id string, update models.JobUpdate) error {
	if update.Empty() {
		return nil
	}
	query, args := buildJobUpdate(id, update)

	result, err := r.db.Pool().Exec(ctx, query, args)
	if err != nil {
		return apperrors.NewDatabaseError("update_job", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

func buildJobUpdate(id string, u models.JobUpdate) (string, pgx.NamedArgs) {
	args := pgx.NamedArgs{"id": id}
	var sets []string
	set := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = @%s", column, column))
		args[column] = value
	}

	if u.State != nil {
		set("state", *u.State)
	}
	if u.Status != nil {
		set("status", *u.Status)
	}
	if u.IsBuy != nil {
		set("is_buy", *u.IsBuy)
	}
	if u.IsBalance != nil {
		set("is_balance", *u.IsBalance)
	}
	if u.IsWaitingForQuote != nil {
		set("is_waiting_for_quote", *u.IsWaitingForQuote)
	}
	if u.IsWaitingForBase != nil {
		set("is_waiting_for_base", *u.IsWaitingForBase)
	}
	if u.BuyTarget != nil {
		set("buy_target", *u.BuyTarget)
	}
	if u.SellTarget != nil {
		set("sell_target", *u.SellTarget)
	}
	if u.BuyProgress != nil {
		set("buy_progress", *u.BuyProgress)
	}
	if u.SellProgress != nil {
		set("sell_progress", *u.SellProgress)
	}
	if u.LastError != nil {
		set("last_error", *u.LastError)
	}
	if u.LastSignature != nil {
		set("last_signature", *u.LastSignature)
	}
	if u.PendingSignature != nil {
		set("pending_signature", *u.PendingSignature)
	}
	if u.FailureCount != nil {
		set("failure_count", *u.FailureCount)
	}
	sets = append(sets, "updated_at = NOW()")

	return fmt.Sprintf("UPDATE trading_jobs SET %s WHERE id = @id", strings.Join(sets, ", ")), args
}
