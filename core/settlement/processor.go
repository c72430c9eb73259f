// Package settlement moves confirmed transactions through the fiat side of the pipeline: it waits
// out the confirmation delay, registers payout recipients, initiates the payout and verifies it
// with the gateway.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	gocron "github.com/go-co-op/gocron/v2"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/gateway"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/txstore"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/metrics"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/keylock"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
)

const (
	DefaultSweepInterval   = 10 * time.Second
	DefaultMaxRetries      = 3
	DefaultConcurrency     = 4
	DefaultCleanupInterval = time.Hour
	DefaultRetentionAge    = 30 * 24 * time.Hour
)

// errRetryLater stops a record for this sweep after a failed step was counted.
var errRetryLater = errors.New("retry on next sweep")

// activeStatuses are the settlement statuses a sweep picks up.
var activeStatuses = []model.SettlementStatus{
	model.SettlementScheduled,
	model.SettlementPending,
	model.SettlementCryptoReceived,
	model.SettlementFiatProcessing,
	model.SettlementFiatSent,
}

type Processor struct {
	store   txstore.Store
	gateway gateway.Gateway

	sweepInterval     time.Duration
	confirmationDelay time.Duration
	maxRetries        int
	concurrency       int
	cleanupInterval   time.Duration
	retentionAge      time.Duration

	locks     *keylock.KeyedMutex
	scheduler gocron.Scheduler
	compact   func() error
	funder    Funder

	metrics *metrics.Metrics
	logger  logger.Logger
	now     func() time.Time
}

type Option func(*Processor)

func WithLogger(l logger.Logger) Option {
	return func(p *Processor) { p.logger = logger.EnsureLogger(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithCompaction runs fn after a cleanup removed records, e.g. the badger value log GC.
func WithCompaction(fn func() error) Option {
	return func(p *Processor) { p.compact = fn }
}

// WithFunder sets who signs and submits the on-chain debit of a scheduled occurrence when it is due.
func WithFunder(f Funder) Option {
	return func(p *Processor) { p.funder = f }
}

func NewProcessor(cfg *config.SettlementConfig, store txstore.Store, gw gateway.Gateway, opts ...Option) (*Processor, error) {
	if store == nil || gw == nil {
		return nil, fmt.Errorf("settlement processor needs a store and a gateway")
	}
	if cfg == nil {
		cfg = &config.SettlementConfig{}
	}

	p := &Processor{
		store:             store,
		gateway:           gw,
		sweepInterval:     orDuration(cfg.SweepInterval, DefaultSweepInterval),
		confirmationDelay: cfg.ConfirmationDelay,
		maxRetries:        cfg.MaxRetries,
		concurrency:       cfg.Concurrency,
		cleanupInterval:   orDuration(cfg.CleanupInterval, DefaultCleanupInterval),
		retentionAge:      orDuration(cfg.RetentionAge, DefaultRetentionAge),
		locks:             keylock.New(),
		logger:            logger.NewNoOpLogger(),
		now:               time.Now,
	}
	if p.confirmationDelay < 0 {
		p.confirmationDelay = 0
	}
	if p.maxRetries <= 0 {
		p.maxRetries = DefaultMaxRetries
	}
	if p.concurrency <= 0 {
		p.concurrency = DefaultConcurrency
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Start schedules the sweep and the cleanup job. A sweep that is still running when the next one
// is due is skipped rather than stacked.
func (p *Processor) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(p.sweepInterval),
		gocron.NewTask(func() {
			if _, err := p.Sweep(ctx); err != nil {
				p.logger.Error("settlement sweep failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create sweep job: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(p.cleanupInterval),
		gocron.NewTask(func() {
			if _, err := p.Cleanup(ctx); err != nil {
				p.logger.Error("settlement cleanup failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		p.logger.Error("Failed to create cleanup job", "error", err)
	}

	p.scheduler = scheduler
	scheduler.Start()
	p.logger.Info("settlement processor started", "sweep_interval", p.sweepInterval, "concurrency", p.concurrency)
	return nil
}

func (p *Processor) Stop() error {
	if p.scheduler == nil {
		return nil
	}
	err := p.scheduler.Shutdown()
	p.scheduler = nil
	return err
}

// SweepResult summarises one pass over the active records.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Advanced int `json:"advanced"`
	// Skipped records were locked by another flow.
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Sweep moves every active record by at most one phase. Records are handled in parallel up to the
// configured concurrency, and a record that is locked elsewhere is left for the next sweep.
func (p *Processor) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() { p.metrics.ObserveSweepDuration(time.Since(start)) }()
	p.metrics.IncSettlementSweep()

	records, err := p.store.ListByStatus(ctx, activeStatuses...)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list active settlements: %w", err)
	}

	var advanced, skipped, failed atomic.Int64
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.concurrency)

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		unlock, ok := p.locks.TryLock(rec.ID)
		if !ok {
			skipped.Add(1)
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(id string) {
			defer func() {
				if r := recover(); r != nil {
					sentry.CurrentHub().Recover(r)
					p.logger.Error("panic while settling transaction", "id", id, "panic", r)
					failed.Add(1)
				}
				unlock()
				<-sem
				wg.Done()
			}()

			moved, err := p.settle(ctx, id)
			if err != nil {
				failed.Add(1)
				p.logger.Warn("cannot settle transaction", "id", id, "error", err)
			}
			if moved {
				advanced.Add(1)
			}
		}(rec.ID)
	}
	wg.Wait()

	res := SweepResult{
		Scanned:  len(records),
		Advanced: int(advanced.Load()),
		Skipped:  int(skipped.Load()),
		Errors:   int(failed.Load()),
	}
	if res.Scanned > 0 {
		p.logger.Debug("settlement sweep done", "scanned", res.Scanned, "advanced", res.Advanced, "skipped", res.Skipped, "errors", res.Errors)
	}
	return res, nil
}

// settle reloads the record under its lock and runs one phase of it. It reports whether the record
// changed.
func (p *Processor) settle(ctx context.Context, id string) (bool, error) {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if rec.IsTerminal() || !isActive(rec.Settlement) {
		return false, nil
	}
	if rec.Settlement == model.SettlementScheduled && rec.Stage.Order() < model.StageSwapConfirmed.Order() {
		return p.fund(ctx, rec)
	}

	moved, err := p.step(ctx, rec)
	if moved {
		if serr := p.commit(ctx, rec); serr != nil {
			return moved, serr
		}
	}
	if errors.Is(err, errRetryLater) {
		return moved, nil
	}
	return moved, err
}

// commit persists a stepped record. A completed occurrence of a schedule is written together with
// the record of the next occurrence.
func (p *Processor) commit(ctx context.Context, rec *model.TransactionRecord) error {
	if rec.Stage == model.StageCompleted && rec.Detail.Kind == model.KindScheduled {
		return p.reschedule(ctx, rec)
	}
	return p.save(ctx, rec)
}

func isActive(s model.SettlementStatus) bool {
	for _, a := range activeStatuses {
		if a == s {
			return true
		}
	}
	return false
}

func (p *Processor) save(ctx context.Context, rec *model.TransactionRecord) error {
	if err := p.store.Put(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("persist %s: %w", rec.ID, err)
	}
	return nil
}

// step performs one phase of the settlement pipeline.
func (p *Processor) step(ctx context.Context, rec *model.TransactionRecord) (bool, error) {
	now := p.now()

	switch rec.Settlement {
	case model.SettlementScheduled:
		return p.trigger(rec, now), nil
	case model.SettlementPending:
		return p.receive(rec, now)
	}

	if rec.Detail.Kind == model.KindBatch {
		return p.stepBatch(ctx, rec)
	}

	switch rec.Settlement {
	case model.SettlementCryptoReceived:
		return p.prepare(ctx, rec)
	case model.SettlementFiatProcessing:
		return p.payout(ctx, rec)
	case model.SettlementFiatSent:
		return p.verify(ctx, rec)
	}
	return false, nil
}

// receive moves a pending record on once the confirmation delay has passed since it was admitted.
func (p *Processor) receive(rec *model.TransactionRecord, now time.Time) (bool, error) {
	since := rec.UpdatedAt
	if rec.PhaseStartedAt != nil {
		since = *rec.PhaseStartedAt
	}
	if now.Sub(since) < p.confirmationDelay {
		return false, nil
	}

	if err := p.append(rec, model.StageSettlementProcessing, model.PercentCryptoReceived, "Crypto received, preparing payout", nil, now); err != nil {
		return false, err
	}
	if b := rec.Detail.Batch; b != nil {
		for i := range b.Recipients {
			if b.Recipients[i].Status == "" {
				b.Recipients[i].Status = model.SettlementCryptoReceived
			}
		}
		b.Tally()
	}
	rec.SetSettlement(model.SettlementCryptoReceived, now)
	return true, nil
}

// prepare registers the payee with the gateway. Bill payments have no recipient to register.
func (p *Processor) prepare(ctx context.Context, rec *model.TransactionRecord) (bool, error) {
	now := p.now()
	detail := &model.ProgressDetail{}

	if payee, ok := rec.Detail.Payee(); ok && payee.RecipientCode == "" {
		code, err := p.gateway.CreateRecipient(ctx, *payee)
		if err != nil {
			return p.retry(rec, "cannot create payout recipient", err)
		}
		payee.RecipientCode = code
		detail.RecipientCode = code
	}

	if err := p.append(rec, model.StageSettlementProcessing, model.PercentRecipientPrepared, "Payout recipient prepared", detail, now); err != nil {
		return false, err
	}
	rec.SettlementRetries = 0
	rec.SetSettlement(model.SettlementFiatProcessing, now)
	return true, nil
}

// payout initiates the bank transfer or bill purchase. A repeated attempt uses a RETRY reference so
// the gateway never sees the same reference twice.
func (p *Processor) payout(ctx context.Context, rec *model.TransactionRecord) (bool, error) {
	now := p.now()
	if err := p.converted(rec, now); err != nil {
		return false, err
	}

	reference := gateway.RetryReference(gateway.NewReference(rec.ID, -1), rec.SettlementRetries)

	var res *gateway.PayoutResult
	var err error
	if bill := rec.Detail.BillPayment; bill != nil {
		res, err = p.gateway.PayBill(ctx, gateway.BillRequest{Bill: *bill, Amount: rec.FiatAmount, Reference: reference})
	} else {
		payee, ok := rec.Detail.Payee()
		if !ok {
			return false, fmt.Errorf("transaction %s has no payee", rec.ID)
		}
		res, err = p.gateway.InitiateTransfer(ctx, gateway.TransferRequest{
			RecipientCode: payee.RecipientCode,
			Amount:        rec.FiatAmount,
			Reference:     reference,
			Reason:        payee.Narration,
		})
	}
	if err != nil {
		p.metrics.IncSettlementPayout("error")
		return p.retry(rec, "payout failed", err)
	}
	if res.Status == gateway.StatusFailed {
		p.metrics.IncSettlementPayout(string(gateway.StatusFailed))
		return p.retry(rec, "payout failed", fmt.Errorf("gateway returned %s: %s", res.RawStatus, res.Reason))
	}

	rec.PayoutReference = res.Reference
	msg := "Payout initiated " + res.Reference
	if err := p.append(rec, model.StageBankTransferStarted, model.PercentPayoutInitiated, msg, &model.ProgressDetail{Reference: res.Reference}, now); err != nil {
		return false, err
	}
	p.metrics.IncSettlementPayout("initiated")
	rec.SetSettlement(model.SettlementFiatSent, now)
	return true, nil
}

// converted appends the awaiting and converted checkpoints once, before the first payout attempt.
func (p *Processor) converted(rec *model.TransactionRecord, now time.Time) error {
	if rec.Percent() >= model.PercentFiatConverted {
		return nil
	}
	if err := p.append(rec, model.StageSettlementPending, model.PercentAwaitingPayout, "Awaiting payout", nil, now); err != nil {
		return err
	}
	msg := fmt.Sprintf("Fiat converted: %s %s", rec.FiatAmount.StringFixed(2), rec.FiatCurrency)
	return p.append(rec, model.StageSettlementPending, model.PercentFiatConverted, msg, nil, now)
}

// verify checks the payout with the gateway. Pending payouts are looked at again on the next sweep;
// a failed payout goes back to be initiated again under a new reference.
func (p *Processor) verify(ctx context.Context, rec *model.TransactionRecord) (bool, error) {
	now := p.now()

	var res *gateway.PayoutResult
	var err error
	if rec.Detail.BillPayment != nil {
		res, err = p.gateway.BillStatus(ctx, rec.PayoutReference)
	} else {
		res, err = p.gateway.TransferStatus(ctx, rec.PayoutReference)
	}
	if err != nil {
		return p.retry(rec, "cannot verify payout", err)
	}

	switch res.Status {
	case gateway.StatusSuccess:
		if bill := rec.Detail.BillPayment; bill != nil && res.Token != "" {
			bill.Token = res.Token
		}
		detail := &model.ProgressDetail{Reference: rec.PayoutReference}
		if err := p.append(rec, model.StageBankTransferStarted, model.PercentPayoutConfirmed, "Payout confirmed", detail, now); err != nil {
			return false, err
		}
		if err := p.append(rec, model.StageCompleted, model.PercentCompleted, "Transaction completed", nil, now); err != nil {
			return false, err
		}
		rec.SetSettlement(model.SettlementCompleted, now)
		p.metrics.IncSettlementPayout(string(gateway.StatusSuccess))
		p.logger.Info("transaction settled", "id", rec.ID, "reference", rec.PayoutReference)
		return true, nil
	case gateway.StatusFailed:
		p.metrics.IncSettlementPayout(string(gateway.StatusFailed))
		moved, err := p.retry(rec, "payout failed", fmt.Errorf("gateway returned %s: %s", res.RawStatus, trimReason(res.Reason)))
		if !rec.IsTerminal() {
			rec.SetSettlement(model.SettlementFiatProcessing, now)
		}
		return moved, err
	default:
		return false, nil
	}
}

// retry counts a failed step. The record stays where it is until the retries run out, then it
// fails with the cause.
func (p *Processor) retry(rec *model.TransactionRecord, what string, cause error) (bool, error) {
	rec.SettlementRetries++
	if rec.SettlementRetries < p.maxRetries {
		p.logger.Warn("settlement step failed, will retry", "id", rec.ID, "step", rec.Settlement, "attempt", rec.SettlementRetries, "error", cause)
		rec.UpdatedAt = p.now()
		return true, errRetryLater
	}

	msg := fmt.Sprintf("%s: %v", what, cause)
	if err := rec.Fail(msg, p.now()); err != nil {
		return false, errors.Join(cause, err)
	}
	p.metrics.IncStageTransition(string(model.StageFailed))
	p.logger.Error("settlement failed", "id", rec.ID, "retries", rec.SettlementRetries, "error", cause)
	return true, nil
}

func (p *Processor) append(rec *model.TransactionRecord, stage model.Stage, percent int, message string, detail *model.ProgressDetail, now time.Time) error {
	if err := rec.Append(stage, percent, message, detail, now); err != nil {
		return err
	}
	p.metrics.IncStageTransition(string(stage))
	return nil
}

func trimReason(reason string) string {
	if reason == "" {
		return "no reason given"
	}
	return reason
}
