package bundler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeFetcher struct {
	calls     atomic.Int32
	resolveAt int32
	receipt   *UserOperationReceipt
	err       error
}

func (f *fakeFetcher) GetUserOperationReceipt(ctx context.Context, hash string) (*UserOperationReceipt, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.resolveAt > 0 && n >= f.resolveAt {
		return f.receipt, nil
	}
	return nil, nil
}

func TestAwaitInclusionReturnsAsSoonAsIncluded(t *testing.T) {
	f := &fakeFetcher{resolveAt: 1, receipt: &UserOperationReceipt{Success: true}}

	started := time.Now()
	res := AwaitInclusion(context.Background(), f, "0x1", time.Second, 50*time.Millisecond)
	assert.Equal(t, StatusIncluded, res.Status)
	assert.Less(t, time.Since(started), 500*time.Millisecond)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestAwaitInclusionPollsUntilIncluded(t *testing.T) {
	f := &fakeFetcher{resolveAt: 3, receipt: &UserOperationReceipt{Success: true}}

	res := AwaitInclusion(context.Background(), f, "0x1", time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusIncluded, res.Status)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestAwaitInclusionReportsRevert(t *testing.T) {
	f := &fakeFetcher{resolveAt: 1, receipt: &UserOperationReceipt{Success: false, Reason: "AA21 didn't pay prefund"}}

	res := AwaitInclusion(context.Background(), f, "0x1", time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "AA21 didn't pay prefund", res.Reason)
}

func TestAwaitInclusionTimesOutWithinOneInterval(t *testing.T) {
	timeout := 120 * time.Millisecond
	interval := 30 * time.Millisecond

	for name, f := range map[string]*fakeFetcher{
		"never resolves": {},
		"always errors":  {err: errors.New("connection refused")},
	} {
		t.Run(name, func(t *testing.T) {
			started := time.Now()
			res := AwaitInclusion(context.Background(), f, "0x1", timeout, interval)
			elapsed := time.Since(started)

			assert.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, ReasonTimeout, res.Reason)
			assert.GreaterOrEqual(t, elapsed, timeout)
			// scheduling slack on top of timeout + one interval
			assert.Less(t, elapsed, timeout+interval+100*time.Millisecond)
		})
	}
}

func TestAwaitInclusionHonoursCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := AwaitInclusion(ctx, &fakeFetcher{}, "0x1", time.Minute, 5*time.Millisecond)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, context.Canceled.Error(), res.Reason)
}
