package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

// Funder debits a priced scheduled occurrence on chain. Fund signs and submits the record; once the
// operation is confirmed the record is admitted back as scheduled.
type Funder interface {
	Fund(ctx context.Context, id string) error
}

func dueAt(s *model.ScheduledDetail) time.Time {
	if s.NextExecution.IsZero() {
		return s.ExecuteAt
	}
	return s.NextExecution
}

// fund hands a due occurrence that has not been debited yet to the funder. Occurrences that are
// already being signed or confirmed are left alone.
func (p *Processor) fund(ctx context.Context, rec *model.TransactionRecord) (bool, error) {
	s := rec.Detail.Scheduled
	if s == nil || rec.Stage != model.StageCryptoCalculated {
		return false, nil
	}
	now := p.now()
	if now.Before(dueAt(s)) {
		return false, nil
	}

	if p.funder == nil {
		if err := rec.Fail("scheduled occurrence cannot be funded: no signer configured", now); err != nil {
			return false, err
		}
		p.metrics.IncStageTransition(string(model.StageFailed))
		p.logger.Error("scheduled occurrence not funded", "id", rec.ID, "occurrence", occurrence(s))
		return true, p.save(ctx, rec)
	}

	p.logger.Info("funding scheduled occurrence", "id", rec.ID, "occurrence", occurrence(s), "due", dueAt(s))
	// the funder owns the record from here, rec is stale once it returns
	if err := p.funder.Fund(ctx, rec.ID); err != nil {
		return true, fmt.Errorf("fund scheduled occurrence %s: %w", rec.ID, err)
	}
	return true, nil
}

// trigger releases a funded scheduled record into the pipeline once its execution time has come.
func (p *Processor) trigger(rec *model.TransactionRecord, now time.Time) bool {
	s := rec.Detail.Scheduled
	if s == nil {
		rec.SetSettlement(model.SettlementPending, now)
		return true
	}
	if now.Before(dueAt(s)) {
		return false
	}

	if rec.OperationHash == "" {
		if err := rec.Fail("scheduled payout has no on-chain debit", now); err != nil {
			p.logger.Warn("cannot fail scheduled payout", "id", rec.ID, "error", err)
			return false
		}
		p.metrics.IncStageTransition(string(model.StageFailed))
		return true
	}

	p.logger.Info("scheduled payout due", "id", rec.ID, "occurrence", occurrence(s), "due", dueAt(s))
	rec.SetSettlement(model.SettlementPending, now)
	return true
}

func occurrence(s *model.ScheduledDetail) int {
	if s.Occurrence <= 0 {
		return 1
	}
	return s.Occurrence
}

// reschedule closes a completed occurrence. While the recurrence is active and its end has not
// passed, the record of the next occurrence is written in the same store operation, so the schedule
// either moves on or the completed record is verified again on the next sweep.
func (p *Processor) reschedule(ctx context.Context, rec *model.TransactionRecord) error {
	s := rec.Detail.Scheduled
	if s == nil || s.Closed {
		return p.save(ctx, rec)
	}

	next, repeats := s.Recurrence.Next(dueAt(s))
	if !repeats || (s.RecurrenceEnd != nil && next.After(*s.RecurrenceEnd)) {
		s.Closed = true
		p.logger.Info("schedule closed", "id", rec.ID, "occurrences", occurrence(s))
		return p.save(ctx, rec)
	}

	derived, err := p.nextOccurrence(rec, next)
	if err != nil {
		return err
	}
	s.Closed = true
	if err := p.store.PutAll(context.WithoutCancel(ctx), rec, derived); err != nil {
		s.Closed = false
		return fmt.Errorf("persist %s with next occurrence: %w", rec.ID, err)
	}
	p.logger.Info("scheduled next occurrence", "id", derived.ID, "parent", derived.Detail.Scheduled.ParentID, "at", next)
	return nil
}

// nextOccurrence prices the next occurrence with the amounts of rec. It waits at CRYPTO_CALCULATED
// until it is due and funded on chain.
func (p *Processor) nextOccurrence(rec *model.TransactionRecord, at time.Time) (*model.TransactionRecord, error) {
	now := p.now()
	detail := rec.Detail.Clone()
	s := detail.Scheduled
	s.NextExecution = at
	s.Occurrence = occurrence(rec.Detail.Scheduled) + 1
	s.Closed = false
	if s.ParentID == "" {
		s.ParentID = rec.ID
	}

	next := model.NewTransactionRecord(rec.Owner, rec.ChainID, detail, now)
	next.Sender = rec.Sender
	next.SourceToken = rec.SourceToken
	next.SourceAmount = rec.SourceAmount
	next.FiatAmount = rec.FiatAmount
	next.FiatCurrency = rec.FiatCurrency
	next.ExchangeRate = rec.ExchangeRate
	next.CryptoAmount = rec.CryptoAmount
	next.GasFee = rec.GasFee
	next.TotalRequired = rec.TotalRequired
	next.MaxRetries = rec.MaxRetries
	next.Progress[0].Message = fmt.Sprintf("Scheduled occurrence #%d created", s.Occurrence)

	msg := fmt.Sprintf("Occurrence #%d: %s %s, debited when due", s.Occurrence, next.TotalRequired.String(), next.SourceToken)
	if err := next.Append(model.StageCryptoCalculated, model.PercentCryptoCalculated, msg, nil, now); err != nil {
		return nil, err
	}
	next.SetSettlement(model.SettlementScheduled, now)
	return next, nil
}
