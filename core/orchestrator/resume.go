package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

// FundScheduled signs and submits a priced scheduled occurrence. Without a signer for the owner the
// occurrence fails, since nothing else can debit it.
func (o *Orchestrator) FundScheduled(ctx context.Context, id string, s Signer) (*model.TransactionRecord, error) {
	if s != nil {
		return o.SignAndSubmit(ctx, id, s)
	}

	unlock, err := o.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.IsTerminal() {
		return rec, fmt.Errorf("%w: %s is %s", model.ErrTerminal, rec.ID, rec.Stage)
	}
	msg := "no signer available for " + rec.Owner.Hex()
	return rec, o.fail(ctx, rec, msg, model.NewValidationError("signer", "%s", msg))
}

// Resume waits again for every operation that was submitted but never confirmed, e.g. because the
// process stopped while waiting. It returns how many waits were resumed and blocks until they end.
// Records stopped while signing have no operation hash and are left alone.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	records, err := o.store.ListByStatus(ctx, model.SettlementAwaitingChain, model.SettlementScheduled)
	if err != nil {
		return 0, fmt.Errorf("list submitted transactions: %w", err)
	}

	var wg sync.WaitGroup
	resumed := 0
	for _, rec := range records {
		if rec.Stage != model.StageSwapInitiated || rec.OperationHash == "" {
			continue
		}
		resumed++
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := o.AwaitConfirmation(ctx, id); err != nil {
				o.logger.Warn("resumed transaction not confirmed", "id", id, "error", err)
			}
		}(rec.ID)
	}
	if resumed > 0 {
		o.logger.Info("resuming confirmation waits", "count", resumed)
	}
	wg.Wait()
	return resumed, nil
}
