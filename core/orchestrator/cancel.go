package orchestrator

import (
	"context"
	"fmt"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

// Cancel stops a transaction before anything reached the chain. From SWAP_INITIATED on the request
// is rejected with a ValidationError and the record is left as it was.
func (o *Orchestrator) Cancel(ctx context.Context, id, reason string) (*model.TransactionRecord, error) {
	unlock, err := o.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := rec.Cancel(reason, o.now()); err != nil {
		return rec, err
	}
	o.metrics.IncStageTransition(string(model.StageCancelled))
	o.logger.Info("transaction cancelled", "id", rec.ID, "reason", rec.Progress[len(rec.Progress)-1].Message)

	if err := o.save(ctx, rec); err != nil {
		return rec, err
	}
	return rec.Clone(), nil
}

// retryable reports whether a failed record can be re-run: it was priced and its funds never left
// the account.
func retryable(rec *model.TransactionRecord) error {
	if rec.Stage != model.StageFailed {
		return model.NewValidationError("stage", "only failed transactions can be retried, %s is %s", rec.ID, rec.Stage)
	}
	if rec.RetriedBy != "" {
		return model.NewValidationError("retriedBy", "transaction %s was already retried as %s", rec.ID, rec.RetriedBy)
	}
	if rec.OperationHash != "" {
		return model.NewValidationError("operationHash", "transaction %s was submitted on chain and cannot be retried", rec.ID)
	}
	if rec.TotalRequired.IsZero() {
		return model.NewValidationError("stage", "transaction %s failed before it was priced and cannot be retried", rec.ID)
	}
	if rec.MaxRetries > 0 && rec.RetryCount >= rec.MaxRetries {
		return model.NewValidationError("retryCount", "transaction %s reached the retry limit of %d", rec.ID, rec.MaxRetries)
	}
	return nil
}

// Retry re-runs a failed transaction on a new record that starts again from signing with the same
// amounts. The failed record keeps its progress log and points at the new record.
func (o *Orchestrator) Retry(ctx context.Context, id string, s Signer) (*model.TransactionRecord, error) {
	rec, err := o.PrepareRetry(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.Process(ctx, rec.ID, s)
}

// PrepareRetry creates the retry record of a failed transaction at CRYPTO_CALCULATED without
// submitting it. A failed record is retried at most once; further attempts go through the retry.
func (o *Orchestrator) PrepareRetry(ctx context.Context, id string) (*model.TransactionRecord, error) {
	unlock, err := o.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	failed, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := retryable(failed); err != nil {
		return nil, err
	}

	now := o.now()
	rec := model.NewTransactionRecord(failed.Owner, failed.ChainID, failed.Detail.Clone(), now)
	rec.Sender = failed.Sender
	rec.SourceToken = failed.SourceToken
	rec.SourceAmount = failed.SourceAmount
	rec.FiatAmount = failed.FiatAmount
	rec.FiatCurrency = failed.FiatCurrency
	rec.ExchangeRate = failed.ExchangeRate
	rec.CryptoAmount = failed.CryptoAmount
	rec.GasFee = failed.GasFee
	rec.TotalRequired = failed.TotalRequired
	rec.MaxRetries = failed.MaxRetries
	rec.RetryCount = failed.RetryCount + 1
	rec.RetriedFrom = failed.ID

	msg := fmt.Sprintf("Retry %d of %s: %s %s", rec.RetryCount, failed.ID, rec.TotalRequired.String(), rec.SourceToken)
	if err := rec.Append(model.StageCryptoCalculated, model.PercentCryptoCalculated, msg, nil, now); err != nil {
		return nil, err
	}
	failed.RetriedBy = rec.ID
	failed.UpdatedAt = now
	if err := o.saveAll(ctx, rec, failed); err != nil {
		return nil, err
	}
	o.logger.Info("retrying transaction", "id", rec.ID, "retried_from", failed.ID, "attempt", rec.RetryCount)

	return rec, nil
}
