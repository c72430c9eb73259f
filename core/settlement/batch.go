package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/gateway"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

var recipientOrder = map[model.SettlementStatus]int{
	model.SettlementCryptoReceived: 1,
	model.SettlementFiatProcessing: 2,
	model.SettlementFiatSent:       3,
	model.SettlementCompleted:      4,
}

// stepBatch moves every open recipient one step. Recipients fail and retry on their own; the record
// completes once none is left open, as long as at least one of them was paid.
func (p *Processor) stepBatch(ctx context.Context, rec *model.TransactionRecord) (bool, error) {
	b := rec.Detail.Batch
	now := p.now()

	moved, retryLater := false, false
	for i := range b.Recipients {
		r := &b.Recipients[i]
		if r.Status.IsTerminal() {
			continue
		}
		m, err := p.stepRecipient(ctx, rec, i, r)
		if err != nil {
			retryLater = true
		}
		moved = moved || m
	}
	b.Tally()

	if err := p.batchCheckpoints(rec, now); err != nil {
		return moved, err
	}

	if b.Completed+b.Failed == b.Total {
		return true, p.finishBatch(rec, now)
	}

	if lowest := lowestOpenStatus(b); lowest != "" && lowest != rec.Settlement {
		rec.SetSettlement(lowest, now)
		moved = true
	}
	if retryLater {
		return moved, errRetryLater
	}
	return moved, nil
}

func (p *Processor) stepRecipient(ctx context.Context, rec *model.TransactionRecord, index int, r *model.BatchRecipient) (bool, error) {
	switch r.Status {
	case "", model.SettlementPending, model.SettlementCryptoReceived:
		code, err := p.gateway.CreateRecipient(ctx, r.Payee)
		if err != nil {
			return p.retryRecipient(rec, index, r, "cannot create payout recipient", err)
		}
		r.Payee.RecipientCode = code
		r.Status = model.SettlementFiatProcessing
		return true, nil

	case model.SettlementFiatProcessing:
		r.Reference = gateway.RetryReference(gateway.NewReference(rec.ID, index), r.RetryCount)
		res, err := p.gateway.InitiateTransfer(ctx, gateway.TransferRequest{
			RecipientCode: r.Payee.RecipientCode,
			Amount:        r.Amount,
			Reference:     r.Reference,
			Reason:        r.Payee.Narration,
		})
		if err == nil && res.Status == gateway.StatusFailed {
			err = fmt.Errorf("gateway returned %s: %s", res.RawStatus, trimReason(res.Reason))
		}
		if err != nil {
			p.metrics.IncSettlementPayout("error")
			return p.retryRecipient(rec, index, r, "payout failed", err)
		}
		r.Reference = res.Reference
		r.Status = model.SettlementFiatSent
		p.metrics.IncSettlementPayout("initiated")
		return true, nil

	case model.SettlementFiatSent:
		res, err := p.gateway.TransferStatus(ctx, r.Reference)
		if err != nil {
			return p.retryRecipient(rec, index, r, "cannot verify payout", err)
		}
		switch res.Status {
		case gateway.StatusSuccess:
			r.Status = model.SettlementCompleted
			p.metrics.IncSettlementPayout(string(gateway.StatusSuccess))
			return true, nil
		case gateway.StatusFailed:
			p.metrics.IncSettlementPayout(string(gateway.StatusFailed))
			moved, err := p.retryRecipient(rec, index, r, "payout failed", fmt.Errorf("gateway returned %s: %s", res.RawStatus, trimReason(res.Reason)))
			if !r.Status.IsTerminal() {
				r.Status = model.SettlementFiatProcessing
			}
			return moved, err
		}
	}
	return false, nil
}

func (p *Processor) retryRecipient(rec *model.TransactionRecord, index int, r *model.BatchRecipient, what string, cause error) (bool, error) {
	r.RetryCount++
	r.Error = fmt.Sprintf("%s: %v", what, cause)
	if r.RetryCount < p.maxRetries {
		p.logger.Warn("batch payout step failed, will retry", "id", rec.ID, "recipient", index, "attempt", r.RetryCount, "error", cause)
		return true, errRetryLater
	}
	r.Status = model.SettlementFailed
	p.logger.Error("batch recipient failed", "id", rec.ID, "recipient", index, "retries", r.RetryCount, "error", cause)
	return true, nil
}

// batchCheckpoints appends the record level checkpoints reached by the furthest recipient.
func (p *Processor) batchCheckpoints(rec *model.TransactionRecord, now time.Time) error {
	furthest := 0
	for _, r := range rec.Detail.Batch.Recipients {
		if o := recipientOrder[r.Status]; o > furthest {
			furthest = o
		}
	}

	type checkpoint struct {
		reached int
		stage   model.Stage
		percent int
		message string
	}
	b := rec.Detail.Batch
	checkpoints := []checkpoint{
		{2, model.StageSettlementProcessing, model.PercentRecipientPrepared, "Payout recipients prepared"},
		{3, model.StageSettlementPending, model.PercentAwaitingPayout, "Awaiting payout"},
		{3, model.StageSettlementPending, model.PercentFiatConverted, fmt.Sprintf("Fiat converted: %s %s", rec.FiatAmount.StringFixed(2), rec.FiatCurrency)},
		{3, model.StageBankTransferStarted, model.PercentPayoutInitiated, fmt.Sprintf("Payouts initiated for %d recipients", b.Total)},
		{4, model.StageBankTransferStarted, model.PercentPayoutConfirmed, "Payouts confirmed"},
	}
	for _, c := range checkpoints {
		if furthest < c.reached || rec.Percent() >= c.percent {
			continue
		}
		if err := p.append(rec, c.stage, c.percent, c.message, nil, now); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) finishBatch(rec *model.TransactionRecord, now time.Time) error {
	b := rec.Detail.Batch
	if b.Completed == 0 {
		return p.failBatch(rec, now)
	}
	msg := fmt.Sprintf("Batch completed: %d of %d recipients paid", b.Completed, b.Total)
	if err := p.append(rec, model.StageCompleted, model.PercentCompleted, msg, nil, now); err != nil {
		return err
	}
	rec.SetSettlement(model.SettlementCompleted, now)
	p.logger.Info("batch settled", "id", rec.ID, "completed", b.Completed, "failed", b.Failed)
	return nil
}

func (p *Processor) failBatch(rec *model.TransactionRecord, now time.Time) error {
	if err := rec.Fail("batch failed: no recipient was paid", now); err != nil {
		return err
	}
	p.metrics.IncStageTransition(string(model.StageFailed))
	p.logger.Error("batch failed", "id", rec.ID, "failed", rec.Detail.Batch.Failed)
	return nil
}

func lowestOpenStatus(b *model.BatchDetail) model.SettlementStatus {
	var lowest model.SettlementStatus
	for _, r := range b.Recipients {
		if r.Status.IsTerminal() {
			continue
		}
		status := r.Status
		if status == "" || status == model.SettlementPending {
			status = model.SettlementCryptoReceived
		}
		if lowest == "" || recipientOrder[status] < recipientOrder[lowest] {
			lowest = status
		}
	}
	return lowest
}
