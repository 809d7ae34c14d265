// Package worker consumes swap tasks: it decides the next step of a job,
// executes trades and writes the results back.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/swap-cycler/internal/adapter"
	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/fees"
	"github.com/swap-cycler/internal/health"
	"github.com/swap-cycler/internal/logging"
	"github.com/swap-cycler/internal/metrics"
	"github.com/swap-cycler/internal/models"
	"github.com/swap-cycler/internal/pricing"
	"github.com/swap-cycler/internal/queue"
	"github.com/swap-cycler/internal/statemachine"
	"github.com/swap-cycler/internal/storage"
	"github.com/swap-cycler/internal/txbuilder"
	"github.com/swap-cycler/internal/types"
	"github.com/swap-cycler/internal/wallet"
)

// Health registry keys
const (
	ComponentWorker  = "worker"
	ComponentFunding = "funding"
	ComponentQueue   = "queue"
)

// Quoter prices one leg of a job
type Quoter interface {
	Quote(ctx context.Context, job *models.TradingJob, side types.Side) (*pricing.TradeQuote, error)
}

// Builder assembles a signed swap transaction
type Builder interface {
	Build(ctx context.Context, req txbuilder.Request) (*solana.Transaction, error)
}

// Submitter sends trades and settles ones an earlier attempt already sent
type Submitter interface {
	wallet.Submitter
	WaitForConfirmation(ctx context.Context, sig solana.Signature) error
}

// Funder tops up worker wallets from the owner
type Funder interface {
	Fund(ctx context.Context, owner solana.PrivateKey, workers []solana.PublicKey) (*wallet.FundingResult, error)
}

// Wallets resolves owners and leases worker signers
type Wallets interface {
	wallet.KeyProvider
	Acquire(ctx context.Context) (solana.PrivateKey, func(), error)
	WorkerPublicKeys() []solana.PublicKey
}

// TaskQueue is the broker side the consumer runs against
type TaskQueue interface {
	Consume(ctx context.Context, h queue.Handler) error
	Depth(ctx context.Context) (ready, delayed, processing int64, err error)
}

// Config holds consumer dependencies
type Config struct {
	Jobs      storage.JobStore
	Ledger    storage.TradeLedger
	Oracle    adapter.BalanceOracle
	Quoter    Quoter
	Builder   Builder
	Submitter Submitter
	Funder    Funder
	Wallets   Wallets
	Health    *health.Registry
	Metrics   *metrics.Metrics

	PriorityFee   uint64        // lamports reserved per transaction in balance checks
	MonitorPeriod time.Duration // queue depth sampling interval
}

// Status is a snapshot of consumer activity
type Status struct {
	Running   bool      `json:"running"`
	Handled   int64     `json:"handled"`
	Trades    int64     `json:"trades"`
	Failures  int64     `json:"failures"`
	LastTrade time.Time `json:"lastTrade"`
}

// Consumer handles swap tasks
type Consumer struct {
	jobs      storage.JobStore
	ledger    storage.TradeLedger
	oracle    adapter.BalanceOracle
	quoter    Quoter
	builder   Builder
	submitter Submitter
	funder    Funder
	wallets   Wallets
	registry  *health.Registry
	metrics   *metrics.Metrics

	priorityFee   uint64
	monitorPeriod time.Duration
	now           func() time.Time

	mu     sync.RWMutex
	status Status
}

var _ queue.Handler = (*Consumer)(nil)

// NewConsumer creates a consumer
func NewConsumer(cfg *Config) (*Consumer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job store cannot be nil")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("balance oracle cannot be nil")
	}
	if cfg.Quoter == nil {
		return nil, fmt.Errorf("quoter cannot be nil")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("transaction builder cannot be nil")
	}
	if cfg.Submitter == nil {
		return nil, fmt.Errorf("submitter cannot be nil")
	}
	if cfg.Funder == nil {
		return nil, fmt.Errorf("funder cannot be nil")
	}
	if cfg.Wallets == nil {
		return nil, fmt.Errorf("wallet pool cannot be nil")
	}

	ledger := cfg.Ledger
	if ledger == nil {
		ledger = storage.LogLedger{}
	}
	period := cfg.MonitorPeriod
	if period <= 0 {
		period = 15 * time.Second
	}

	return &Consumer{
		jobs:          cfg.Jobs,
		ledger:        ledger,
		oracle:        cfg.Oracle,
		quoter:        cfg.Quoter,
		builder:       cfg.Builder,
		submitter:     cfg.Submitter,
		funder:        cfg.Funder,
		wallets:       cfg.Wallets,
		registry:      cfg.Health,
		metrics:       cfg.Metrics,
		priorityFee:   cfg.PriorityFee,
		monitorPeriod: period,
		now:           time.Now,
	}, nil
}

// Run consumes q until ctx is cancelled. Tasks already dequeued finish
// before Run returns.
func (c *Consumer) Run(ctx context.Context, q TaskQueue) error {
	if q == nil {
		return fmt.Errorf("queue cannot be nil")
	}
	c.setRunning(true)
	defer c.setRunning(false)

	logging.Infof("Starting consumer")
	go c.monitorLoop(ctx, q)
	err := q.Consume(ctx, c)
	logging.Infof("Consumer stopped")
	return err
}

// monitorLoop samples queue depth for metrics and health
func (c *Consumer) monitorLoop(ctx context.Context, q TaskQueue) {
	ticker := time.NewTicker(c.monitorPeriod)
	defer ticker.Stop()

	for {
		c.sampleQueue(ctx, q)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Consumer) sampleQueue(ctx context.Context, q TaskQueue) {
	ready, delayed, processing, err := q.Depth(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.report(ComponentQueue, types.StatusDown, err.Error())
		}
		return
	}
	c.report(ComponentQueue, types.StatusUp,
		fmt.Sprintf("ready=%d delayed=%d processing=%d", ready, delayed, processing))
}

// Handle processes one task against the job's current record
func (c *Consumer) Handle(ctx context.Context, task models.SwapTask, meta queue.Meta) queue.Outcome {
	defer c.metrics.TaskStarted(string(task.Type))()
	c.count(func(s *Status) { s.Handled++ })

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"task_id":     task.ID,
		"job_id":      task.Data.ID,
		"type":        task.Type,
		"retry_count": meta.RetryCount,
	})
	ctx = logging.WithLogger(ctx, log)

	job, err := c.jobs.FindJob(ctx, task.Data.ID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			log.Warn("Job no longer exists, dropping task")
			return queue.PermanentFailure{Reason: err}
		}
		return c.failure(ctx, meta, nil, err)
	}
	if !job.Active() {
		log.WithField("status", job.Status).Debug("Job inactive, skipping task")
		return queue.Success{}
	}
	if job.PendingSignature != "" {
		if out := c.resolvePending(ctx, meta, task, job); out != nil {
			return out
		}
	}

	owner, err := c.wallets.OwnerKey(job.FundingWallet)
	if err != nil {
		return c.failure(ctx, meta, job, err)
	}
	balances, err := statemachine.ReadBalances(ctx, c.oracle, owner.PublicKey(), job)
	if err != nil {
		return c.failure(ctx, meta, job, err)
	}

	dec, err := statemachine.Decide(*job, balances, c.priorityFee)
	if err != nil {
		return c.failure(ctx, meta, job, err)
	}
	if err := c.persist(ctx, job.ID, dec.Update); err != nil {
		return c.failure(ctx, meta, job, err)
	}
	if dec.Reversed {
		c.metrics.Reversal()
		log.WithFields(map[string]interface{}{
			"buy_target":  dec.Job.BuyTarget,
			"sell_target": dec.Job.SellTarget,
		}).Info("Job reversed direction")
	}

	var side types.Side
	switch dec.Action {
	case statemachine.ActionSkip:
		return queue.Success{}
	case statemachine.ActionComplete:
		log.Info("Cycle complete")
		return queue.Success{}
	case statemachine.ActionWait:
		c.metrics.Waiting(string(dec.Job.State))
		log.WithError(dec.Shortfall).WithField("state", dec.Job.State).Info("Job waiting for funds")
		return queue.Success{}
	case statemachine.ActionBuy:
		side = types.SideBuy
	case statemachine.ActionSell:
		side = types.SideSell
	default:
		return queue.PermanentFailure{Reason: fmt.Errorf("unknown action %q", dec.Action)}
	}

	// a cleared balance check hands the trade to a follow-up task
	if task.Type == types.TaskCheckBalance {
		next := task.Continuation(dec.Job, c.now())
		log.WithField("continuation", next.ID).Info("Funds available, resuming")
		return queue.Success{Continuation: &next}
	}

	rec, err := c.trade(ctx, task, &dec.Job, owner, side)
	if err != nil {
		return c.failure(ctx, meta, &dec.Job, err)
	}

	update, after := statemachine.AfterTrade(dec.Job, side)
	update.LastSignature = &rec.Signature
	update.PendingSignature = &noSignature
	if err := c.persist(ctx, job.ID, update); err != nil {
		// the trade is on chain, a retry would trade twice
		log.WithError(err).WithField("signature", rec.Signature).Error("Failed to record trade progress")
		return queue.PermanentFailure{Reason: err}
	}
	if after.Status == types.JobStatusCompleted {
		log.Info("Cycle complete")
	}
	return queue.Success{}
}

var noSignature = ""

// resolvePending settles a trade an earlier attempt submitted but never saw
// confirmed. It returns nil when that transaction expired unseen and the
// task may trade again.
func (c *Consumer) resolvePending(ctx context.Context, meta queue.Meta, task models.SwapTask, job *models.TradingJob) queue.Outcome {
	log := logging.FromContext(ctx).WithField("signature", job.PendingSignature)

	sig, err := solana.SignatureFromBase58(job.PendingSignature)
	if err != nil {
		log.WithError(err).Warn("Discarding unreadable pending signature")
		return c.clearPending(ctx, meta, job)
	}

	side := types.SideSell
	if job.IsBuy {
		side = types.SideBuy
	}
	rec := &models.TradeRecord{
		TradeID:   uuid.New().String(),
		JobID:     job.ID,
		TaskID:    task.ID,
		Side:      string(side),
		DexID:     string(job.DexID),
		Signature: job.PendingSignature,
	}

	err = c.submitter.WaitForConfirmation(ctx, sig)
	rec.ExecutedAt = c.now().UTC()
	switch {
	case err == nil:
		update, after := statemachine.AfterTrade(*job, side)
		update.LastSignature = &rec.Signature
		update.PendingSignature = &noSignature
		if err := c.persist(ctx, job.ID, update); err != nil {
			return queue.RetryableFailure{Reason: err, Attempt: meta.RetryCount + 1}
		}
		rec.Status = models.TradeConfirmed
		c.record(ctx, rec)
		c.metrics.Trade(string(side), models.TradeConfirmed, 0)
		c.count(func(s *Status) {
			s.Trades++
			s.LastTrade = rec.ExecutedAt
		})
		log.WithField("side", side).Info("Earlier trade landed, progress recorded")
		if after.Status == types.JobStatusCompleted {
			log.Info("Cycle complete")
		}
		return queue.Success{}

	case apperrors.IsConfirmationTimeout(err):
		log.Warn("Earlier trade expired unconfirmed, trading again")
		return c.clearPending(ctx, meta, job)

	case apperrors.IsCategory(err, apperrors.CategoryOnChain):
		rec.Status = models.TradeFailed
		rec.ChainError = err.Error()
		c.record(ctx, rec)
		c.metrics.Trade(string(side), models.TradeFailed, 0)
	}
	return c.failure(ctx, meta, job, err)
}

func (c *Consumer) clearPending(ctx context.Context, meta queue.Meta, job *models.TradingJob) queue.Outcome {
	if err := c.persist(ctx, job.ID, models.JobUpdate{PendingSignature: &noSignature}); err != nil {
		return c.failure(ctx, meta, job, err)
	}
	job.PendingSignature = ""
	return nil
}

// trade quotes, funds signers, builds, submits and records one swap
func (c *Consumer) trade(ctx context.Context, task models.SwapTask, job *models.TradingJob, owner solana.PrivateKey, side types.Side) (*models.TradeRecord, error) {
	log := logging.FromContext(ctx).WithField("side", side)

	quote, err := c.quoter.Quote(ctx, job, side)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", side, err)
	}
	if err := c.fund(ctx, owner); err != nil {
		return nil, err
	}

	terms := fees.Terms{FeeBps: job.FeeBps, ReferralBps: job.ReferralBps}
	if job.HasReferrer() {
		ref, err := solana.PublicKeyFromBase58(*job.ReferralWallet)
		if err != nil {
			return nil, apperrors.NewConfigurationError("BAD_REFERRAL_WALLET",
				fmt.Sprintf("job %s referral wallet %q: %v", job.ID, *job.ReferralWallet, err))
		}
		terms.ReferralWallet = &ref
	}
	split, err := fees.Compute(quote.FeeNotional(), terms)
	if err != nil {
		return nil, apperrors.NewConfigurationError("BAD_FEES", err.Error())
	}

	payer, release, err := c.wallets.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire worker wallet: %w", err)
	}
	defer release()

	tx, err := c.builder.Build(ctx, txbuilder.Request{
		Quote:          quote,
		Owner:          owner,
		Payer:          payer,
		Fees:           split,
		ReferralWallet: terms.ReferralWallet,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", side, err)
	}
	if len(tx.Signatures) == 0 {
		return nil, fmt.Errorf("build %s: transaction is unsigned", side)
	}

	// recorded before sending so a retry checks this transaction first
	pending := tx.Signatures[0].String()
	if err := c.persist(ctx, job.ID, models.JobUpdate{PendingSignature: &pending}); err != nil {
		return nil, err
	}
	job.PendingSignature = pending

	rec := &models.TradeRecord{
		TradeID:     uuid.New().String(),
		JobID:       job.ID,
		TaskID:      task.ID,
		Side:        string(side),
		DexID:       string(job.DexID),
		InputMint:   quote.InputMint.String(),
		OutputMint:  quote.OutputMint.String(),
		InAmount:    quote.InAmount,
		OutAmount:   quote.OutAmount,
		MinOut:      quote.MinOut,
		AdminFee:    split.Admin,
		ReferralFee: split.Referral,
		Signer:      payer.PublicKey().String(),
	}

	start := c.now()
	sig, err := c.submitter.SubmitAndConfirm(ctx, tx)
	if sig != (solana.Signature{}) {
		rec.Signature = sig.String()
	}
	rec.ExecutedAt = c.now().UTC()
	if err != nil {
		// only a landed transaction belongs in the ledger
		if apperrors.IsCategory(err, apperrors.CategoryOnChain) {
			rec.Status = models.TradeFailed
			rec.ChainError = err.Error()
			c.record(ctx, rec)
			c.metrics.Trade(string(side), models.TradeFailed, 0)
		}
		return nil, fmt.Errorf("submit %s: %w", side, err)
	}

	rec.Status = models.TradeConfirmed
	c.record(ctx, rec)
	c.metrics.Trade(string(side), models.TradeConfirmed, c.now().Sub(start))
	c.count(func(s *Status) {
		s.Trades++
		s.LastTrade = rec.ExecutedAt
	})
	c.report(ComponentWorker, types.StatusUp, fmt.Sprintf("last trade %s", rec.Signature))

	log.WithFields(map[string]interface{}{
		"signature":  rec.Signature,
		"in_amount":  types.FormatAmount(quote.InAmount, inputDecimals(job, side)),
		"out_amount": types.FormatAmount(quote.OutAmount, outputDecimals(job, side)),
		"admin_fee":  split.Admin,
		"referral":   split.Referral,
	}).Info("Trade confirmed")
	return rec, nil
}

func (c *Consumer) fund(ctx context.Context, owner solana.PrivateKey) error {
	res, err := c.funder.Fund(ctx, owner, c.wallets.WorkerPublicKeys())
	switch {
	case errors.Is(err, wallet.ErrOwnerInsufficient):
		c.metrics.Funding("aborted", 0)
		c.report(ComponentFunding, types.StatusDegraded, err.Error())
		return err
	case err != nil:
		c.metrics.Funding("error", 0)
		return fmt.Errorf("fund worker wallets: %w", err)
	case res.Total > 0:
		c.metrics.Funding("funded", res.Total)
	default:
		c.metrics.Funding("skipped", 0)
	}
	c.report(ComponentFunding, types.StatusUp, "")
	return nil
}

// failure maps an error to a queue outcome and records it on the job
func (c *Consumer) failure(ctx context.Context, meta queue.Meta, job *models.TradingJob, err error) queue.Outcome {
	log := logging.FromContext(ctx).WithError(err)
	cat := apperrors.Categorize(err)
	c.count(func(s *Status) { s.Failures++ })

	switch cat.Category {
	case apperrors.CategoryInsufficientFunds:
		if job != nil {
			update, waiting := statemachine.Suspend(*job)
			if perr := c.persist(ctx, job.ID, update); perr != nil {
				return queue.RetryableFailure{Reason: perr, Attempt: meta.RetryCount + 1}
			}
			c.metrics.Waiting(string(waiting.State))
		}
		log.Warn("Signer funding short, job waiting")
		return queue.Success{}

	case apperrors.CategoryOnChain:
		if job != nil {
			msg := err.Error()
			count := job.FailureCount + 1
			update := models.JobUpdate{LastError: &msg, FailureCount: &count}
			if job.PendingSignature != "" {
				update.PendingSignature = &noSignature
			}
			if perr := c.persist(ctx, job.ID, update); perr != nil {
				log.WithField("persist_error", perr.Error()).Error("Failed to record trade failure")
			}
		}
		log.WithField("code", cat.Code).Warn("Trade failed on chain")
		return queue.PermanentFailure{Reason: err}

	case apperrors.CategoryConfiguration:
		if job != nil {
			c.markFailed(ctx, job.ID, err)
		}
		c.report(ComponentWorker, types.StatusDegraded, err.Error())
		log.WithField("code", cat.Code).Error("Job misconfigured, marked failed")
		return queue.PermanentFailure{Reason: err}
	}

	return queue.RetryableFailure{Reason: err, Attempt: meta.RetryCount + 1}
}

// MarkFailed is the queue drop callback: a task that exhausted its retries
// fails its job
func (c *Consumer) MarkFailed(ctx context.Context, task models.SwapTask, reason error) {
	c.markFailed(ctx, task.Data.ID, reason)
}

func (c *Consumer) markFailed(ctx context.Context, jobID string, reason error) {
	status := types.JobStatusFailed
	update := models.JobUpdate{Status: &status}
	if reason != nil {
		msg := reason.Error()
		update.LastError = &msg
	}
	if err := c.persist(ctx, jobID, update); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("job_id", jobID).Error("Failed to mark job failed")
	}
}

func (c *Consumer) persist(ctx context.Context, jobID string, update models.JobUpdate) error {
	if update.Empty() {
		return nil
	}
	if err := c.jobs.UpdateJob(ctx, jobID, update); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	return nil
}

func (c *Consumer) record(ctx context.Context, rec *models.TradeRecord) {
	if err := c.ledger.RecordTrade(ctx, rec); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("trade_id", rec.TradeID).Warn("Failed to write trade ledger")
	}
}

func (c *Consumer) report(name string, status types.ComponentStatus, detail string) {
	if c.registry != nil {
		c.registry.Report(name, status, detail)
	}
}

func (c *Consumer) count(fn func(s *Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.status)
}

func (c *Consumer) setRunning(v bool) {
	c.count(func(s *Status) { s.Running = v })
}

// GetStatus returns the current consumer status
func (c *Consumer) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func inputDecimals(job *models.TradingJob, side types.Side) uint8 {
	if side == types.SideBuy {
		return job.QuoteDecimals
	}
	return job.BaseDecimals
}

func outputDecimals(job *models.TradingJob, side types.Side) uint8 {
	if side == types.SideBuy {
		return job.BaseDecimals
	}
	return job.QuoteDecimals
}
