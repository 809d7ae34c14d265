package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/swap-cycler/internal/logging"
	"github.com/swap-cycler/internal/models"
)

// TradeLedger records submitted trades
type TradeLedger interface {
	RecordTrade(ctx context.Context, rec *models.TradeRecord) error
}

// TradeRepository appends trades to the ClickHouse swap_trades table
type TradeRepository struct {
	db *ClickHouseDB
}

var _ TradeLedger = (*TradeRepository)(nil)

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *ClickHouseDB) *TradeRepository {
	return &TradeRepository{db: db}
}

// RecordTrade inserts one trade row
func (r *TradeRepository) RecordTrade(ctx context.Context, rec *models.TradeRecord) error {
	return r.BatchInsert(ctx, []*models.TradeRecord{rec})
}

// BatchInsert inserts trade rows in one batch
func (r *TradeRepository) BatchInsert(ctx context.Context, records []*models.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `INSERT INTO swap_trades`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, rec := range records {
		if rec.ExecutedAt.IsZero() {
			rec.ExecutedAt = time.Now().UTC()
		}
		if err := batch.AppendStruct(rec); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append trade %s: %w", rec.TradeID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// TradesByJob returns the most recent trades of a job, newest first
func (r *TradeRepository) TradesByJob(ctx context.Context, jobID string, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var out []models.TradeRecord
	err := r.db.Conn().Select(ctx, &out, `
		SELECT trade_id, job_id, task_id, side, dex_id, input_mint, output_mint,
			in_amount, out_amount, min_out, admin_fee, referral_fee,
			signer, signature, status, chain_error, executed_at
		FROM swap_trades
		WHERE job_id = ?
		ORDER BY executed_at DESC
		LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	return out, nil
}

// LogLedger is used when ClickHouse is disabled; trades are only logged
type LogLedger struct{}

// RecordTrade implements TradeLedger
func (LogLedger) RecordTrade(ctx context.Context, rec *models.TradeRecord) error {
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"trade_id":  rec.TradeID,
		"job_id":    rec.JobID,
		"side":      rec.Side,
		"in":        rec.InAmount,
		"out":       rec.OutAmount,
		"signature": rec.Signature,
		"status":    rec.Status,
	}).Info("Trade recorded")
	return nil
}
