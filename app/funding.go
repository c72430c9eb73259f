package app

import (
	"context"
	"sync"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/orchestrator"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
)

// fundingService is satisfied by *orchestrator.Orchestrator.
type fundingService interface {
	GetTransaction(ctx context.Context, id string) (*model.TransactionRecord, error)
	FundScheduled(ctx context.Context, id string, s orchestrator.Signer) (*model.TransactionRecord, error)
	AwaitConfirmation(ctx context.Context, id string) (*model.TransactionRecord, error)
	Resume(ctx context.Context) (int, error)
}

// confirmer owns the confirmation waits started outside of a request: scheduled occurrences funded
// by the settlement processor and the submissions resumed at start. Waits run on the app's
// lifetime context.
type confirmer struct {
	txs    fundingService
	keys   *keyring
	logger logger.Logger

	ctx context.Context
	wg  sync.WaitGroup
}

func newConfirmer(ctx context.Context, txs fundingService, keys *keyring, l logger.Logger) *confirmer {
	return &confirmer{txs: txs, keys: keys, logger: logger.EnsureLogger(l), ctx: ctx}
}

// Fund debits a due scheduled occurrence with the server-side signer of its owner, then waits for
// inclusion in the background.
func (c *confirmer) Fund(ctx context.Context, id string) error {
	rec, err := c.txs.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	s, _ := c.keys.signerFor(rec.Owner)
	if _, err := c.txs.FundScheduled(ctx, id, s); err != nil {
		return err
	}
	c.await(id)
	return nil
}

func (c *confirmer) await(id string) {
	c.wg.Add(1)
	goSafe(func() {
		defer c.wg.Done()
		if _, err := c.txs.AwaitConfirmation(c.ctx, id); err != nil {
			c.logger.Warn("transaction not confirmed", "id", id, "error", err)
		}
	})
}

// resume picks up the waits interrupted by the last shutdown.
func (c *confirmer) resume() {
	c.wg.Add(1)
	goSafe(func() {
		defer c.wg.Done()
		if _, err := c.txs.Resume(c.ctx); err != nil {
			c.logger.Error("cannot resume confirmation waits", "error", err)
		}
	})
}

func (c *confirmer) wait() {
	c.wg.Wait()
}
