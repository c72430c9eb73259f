package bundler

import (
	"context"
	"math/big"
	"time"
)

type OperationStatus string

const (
	StatusPending  OperationStatus = "pending"
	StatusIncluded OperationStatus = "included"
	StatusFailed   OperationStatus = "failed"

	ReasonTimeout = "timeout"

	DefaultPollInterval = 10 * time.Second
	DefaultWaitTimeout  = 5 * time.Minute
)

type StatusResult struct {
	Status          OperationStatus
	TransactionHash string
	ActualGasCost   *big.Int
	Reason          string
}

// ReceiptFetcher is implemented by BundlerClient and by test doubles.
type ReceiptFetcher interface {
	GetUserOperationReceipt(ctx context.Context, hash string) (*UserOperationReceipt, error)
}

// PollStatus maps one receipt lookup to a status. Lookup errors are returned alongside a pending
// status; the caller decides whether to keep waiting.
func PollStatus(ctx context.Context, fetcher ReceiptFetcher, hash string) (StatusResult, error) {
	receipt, err := fetcher.GetUserOperationReceipt(ctx, hash)
	if err != nil {
		return StatusResult{Status: StatusPending, Reason: err.Error()}, err
	}
	if receipt == nil {
		return StatusResult{Status: StatusPending}, nil
	}

	res := StatusResult{
		TransactionHash: receipt.Receipt.TransactionHash.Hex(),
		ActualGasCost:   receipt.ActualGasCost.Big(),
	}
	if receipt.Success {
		res.Status = StatusIncluded
		return res, nil
	}

	res.Status = StatusFailed
	res.Reason = receipt.Reason
	if res.Reason == "" {
		res.Reason = "operation reverted"
	}
	return res, nil
}

// AwaitInclusion polls immediately and then every interval. It returns as soon as the status is no
// longer pending, or a failed result with ReasonTimeout once timeout has elapsed. Poll errors are
// treated as pending.
func AwaitInclusion(ctx context.Context, fetcher ReceiptFetcher, hash string, timeout, interval time.Duration) StatusResult {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if res, err := PollStatus(waitCtx, fetcher, hash); err == nil && res.Status != StatusPending {
			return res
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return StatusResult{Status: StatusFailed, Reason: err.Error()}
			}
			return StatusResult{Status: StatusFailed, Reason: ReasonTimeout}
		case <-ticker.C:
		}
	}
}
