package sponsorship

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/chainio/aa/paymaster"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/testutil"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/userop"
)

const chainID int64 = 4202

var (
	sponsorAddress = common.HexToAddress("0x9748fE3c0Bf3626e5453aE698B87876AC37FF1d9")
	user           = common.HexToAddress("0xD7050816337a3f8f690F8083B5Ff8019D50c0E50")
	ether          = big.NewInt(1_000_000_000_000_000_000)
)

func eth(n float64) *big.Int {
	v, _ := new(big.Float).Mul(big.NewFloat(n), new(big.Float).SetInt(ether)).Int(nil)
	return v
}

type fakeReader struct {
	state *paymaster.State
	err   error
	panic bool
	reads atomic.Int32
}

func (f *fakeReader) Address() common.Address { return sponsorAddress }

func (f *fakeReader) ReadState(ctx context.Context, user common.Address) (*paymaster.State, error) {
	f.reads.Add(1)
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func (f *fakeReader) SponsorDeposit(ctx context.Context) (*big.Int, error) {
	return f.state.Deposit, f.err
}

func healthyState(now time.Time) *paymaster.State {
	return &paymaster.State{
		Remaining: eth(0.5),
		Record: paymaster.GasRecord{
			UsedToday: eth(0.5),
			LastReset: big.NewInt(now.Add(-time.Hour).Unix()),
		},
		DailyLimit:         eth(1),
		VerifiedMultiplier: big.NewInt(0),
		Active:             true,
		Deposit:            eth(10),
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newEvaluator(t *testing.T, reader *fakeReader, cfg Config, c *clock) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(
		map[int64]StateReader{chainID: reader},
		testutil.GetDefaultCache(),
		cfg,
		WithClock(c.now),
		WithLogger(testutil.GetLogger()),
	)
	require.NoError(t, err)
	return e
}

func TestGetAllowance(t *testing.T) {
	c := &clock{t: time.Now()}
	reader := &fakeReader{state: healthyState(c.t)}
	e := newEvaluator(t, reader, Config{}, c)

	status, err := e.GetAllowance(context.Background(), user, chainID)
	require.NoError(t, err)

	assert.Equal(t, eth(1), status.DailyLimit)
	assert.Equal(t, eth(0.5), status.Remaining)
	assert.Equal(t, eth(0.5), status.UsedToday)
	assert.Equal(t, 50.0, status.PercentUsed)
	assert.Equal(t, int64(1), status.Multiplier)
	assert.False(t, status.ResetPending)
	assert.Equal(t, 0, new(big.Int).Add(status.Remaining, status.UsedToday).Cmp(status.DailyLimit))
}

func TestGetAllowanceVerifiedUserGetsMultiplier(t *testing.T) {
	c := &clock{t: time.Now()}
	state := healthyState(c.t)
	state.Record.Verified = true
	state.Remaining = eth(1.5)
	reader := &fakeReader{state: state}
	e := newEvaluator(t, reader, Config{}, c)

	status, err := e.GetAllowance(context.Background(), user, chainID)
	require.NoError(t, err)

	// contract reports 0, the default doubling applies
	assert.Equal(t, int64(2), status.Multiplier)
	assert.Equal(t, eth(2), status.DailyLimit)
	assert.Equal(t, eth(0.5), status.UsedToday)
	assert.Equal(t, 25.0, status.PercentUsed)

	state.VerifiedMultiplier = big.NewInt(3)
	e.Invalidate(user, chainID)
	status, err = e.GetAllowance(context.Background(), user, chainID)
	require.NoError(t, err)
	assert.Equal(t, eth(3), status.DailyLimit)
}

func TestGetAllowanceResetPending(t *testing.T) {
	c := &clock{t: time.Now()}
	state := healthyState(c.t)
	state.Remaining = big.NewInt(0)
	state.Record.LastReset = big.NewInt(c.t.Add(-25 * time.Hour).Unix())
	e := newEvaluator(t, &fakeReader{state: state}, Config{}, c)

	status, err := e.GetAllowance(context.Background(), user, chainID)
	require.NoError(t, err)
	assert.True(t, status.ResetPending)
	assert.Equal(t, eth(1), status.Remaining)
	assert.Equal(t, 0, status.UsedToday.Sign())
}

func TestAllowanceInvariantHolds(t *testing.T) {
	now := time.Now()
	for _, remaining := range []*big.Int{big.NewInt(-5), big.NewInt(0), eth(0.3), eth(1), eth(7)} {
		state := healthyState(now)
		state.Remaining = remaining

		status := newAllowanceStatus(user, chainID, state, now)
		sum := new(big.Int).Add(status.Remaining, status.UsedToday)
		assert.Equal(t, 0, sum.Cmp(status.DailyLimit), "remaining %s", remaining)
		assert.GreaterOrEqual(t, status.Remaining.Sign(), 0)
	}
}

func TestGetAllowanceCache(t *testing.T) {
	c := &clock{t: time.Now()}
	reader := &fakeReader{state: healthyState(c.t)}
	e := newEvaluator(t, reader, Config{}, c)
	ctx := context.Background()

	_, err := e.GetAllowance(ctx, user, chainID)
	require.NoError(t, err)
	_, err = e.GetAllowance(ctx, user, chainID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), reader.reads.Load())

	c.t = c.t.Add(31 * time.Second)
	_, err = e.GetAllowance(ctx, user, chainID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), reader.reads.Load())

	e.Invalidate(user, chainID)
	_, err = e.GetAllowance(ctx, user, chainID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), reader.reads.Load())

	// unknown entries are not an error
	e.Invalidate(common.HexToAddress("0x1"), chainID)
}

func TestCheckSponsorship(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		mutate  func(r *fakeReader)
		chain   int64
		cost    *big.Int
		policy  string
		allowed bool
		reason  string
	}{
		{name: "eligible", cost: eth(0.01), allowed: true, reason: ReasonEligible},
		{name: "unsupported network", chain: 1, cost: eth(0.01), reason: "Sponsorship not available on network 1"},
		{name: "read error", mutate: func(r *fakeReader) { r.err = errors.New("rpc down") }, cost: eth(0.01), reason: "Error: rpc down"},
		{name: "panic", mutate: func(r *fakeReader) { r.panic = true }, cost: eth(0.01), reason: "Error: boom"},
		{name: "inactive", mutate: func(r *fakeReader) { r.state.Active = false }, cost: eth(0.01), reason: ReasonInactive},
		{name: "cost above remaining", cost: eth(0.6), reason: "Daily limit exceeded. Remaining: 0.5 ETH"},
		{name: "nothing remaining", mutate: func(r *fakeReader) { r.state.Remaining = big.NewInt(0) }, cost: big.NewInt(0), reason: "Daily limit exceeded. Remaining: 0 ETH"},
		{name: "deposit too low", mutate: func(r *fakeReader) { r.state.Deposit = eth(0.001) }, cost: eth(0.01), reason: ReasonLowDeposit},
		{name: "missing cost", reason: "Error: missing gas cost estimate"},
		{name: "policy rejects", cost: eth(0.01), policy: "verified", reason: ReasonPolicyRejected},
		{name: "policy allows", cost: eth(0.01), policy: "cost < 0.05 && percentUsed < 80", allowed: true, reason: ReasonEligible},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reader := &fakeReader{state: healthyState(now)}
			if tc.mutate != nil {
				tc.mutate(reader)
			}
			chain := tc.chain
			if chain == 0 {
				chain = chainID
			}

			e := newEvaluator(t, reader, Config{Policy: tc.policy}, &clock{t: now})
			var d Decision
			assert.NotPanics(t, func() {
				d = e.CheckSponsorship(context.Background(), user, tc.cost, chain)
			})
			assert.Equal(t, tc.allowed, d.CanSponsor)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestNewEvaluatorRejectsBadPolicy(t *testing.T) {
	_, err := NewEvaluator(map[int64]StateReader{}, testutil.GetDefaultCache(), Config{Policy: "cost +"})
	assert.Error(t, err)

	_, err = NewEvaluator(map[int64]StateReader{}, nil, Config{})
	assert.Error(t, err)
}

func unsignedOp() *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               user,
		Nonce:                big.NewInt(0),
		CallGasLimit:         big.NewInt(200_000),
		VerificationGasLimit: big.NewInt(1_000_000),
		PreVerificationGas:   big.NewInt(50_000),
		MaxFeePerGas:         big.NewInt(20_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
	}
}

func TestAttachSponsorship(t *testing.T) {
	now := time.Now()
	ctx := context.Background()

	t.Run("eligible sets paymaster", func(t *testing.T) {
		e := newEvaluator(t, &fakeReader{state: healthyState(now)}, Config{}, &clock{t: now})
		op := unsignedOp()

		d := e.AttachSponsorship(ctx, op, user, chainID)
		assert.True(t, d.CanSponsor)
		assert.Equal(t, sponsorAddress, op.PaymasterAddress())
	})

	t.Run("denied leaves user paying", func(t *testing.T) {
		reader := &fakeReader{state: healthyState(now)}
		reader.state.Active = false
		e := newEvaluator(t, reader, Config{}, &clock{t: now})
		op := unsignedOp()
		op.PaymasterAndData = sponsorAddress.Bytes()

		d := e.AttachSponsorship(ctx, op, user, chainID)
		assert.False(t, d.CanSponsor)
		assert.False(t, op.HasPaymaster())
	})

	t.Run("sealed op degrades", func(t *testing.T) {
		e := newEvaluator(t, &fakeReader{state: healthyState(now)}, Config{}, &clock{t: now})
		op := unsignedOp()
		op.Signature = make([]byte, 65)

		d := e.AttachSponsorship(ctx, op, user, chainID)
		assert.False(t, d.CanSponsor)
		assert.Contains(t, d.Reason, userop.ErrSealed.Error())
		assert.False(t, op.HasPaymaster())
	})

	t.Run("read failure degrades", func(t *testing.T) {
		e := newEvaluator(t, &fakeReader{err: errors.New("rpc down")}, Config{}, &clock{t: now})
		op := unsignedOp()

		d := e.AttachSponsorship(ctx, op, user, chainID)
		assert.False(t, d.CanSponsor)
		assert.False(t, op.HasPaymaster())
	})

	t.Run("nil op", func(t *testing.T) {
		e := newEvaluator(t, &fakeReader{state: healthyState(now)}, Config{}, &clock{t: now})
		assert.False(t, e.AttachSponsorship(ctx, nil, user, chainID).CanSponsor)
	})
}

func TestCanSponsor(t *testing.T) {
	s := &GasAllowanceStatus{Remaining: eth(1), SponsorActive: true, SponsorDeposit: eth(2)}
	assert.True(t, s.CanSponsor(eth(1)))
	assert.False(t, s.CanSponsor(eth(1.1)))
	assert.False(t, s.CanSponsor(nil))

	s.SponsorDeposit = eth(0.5)
	assert.False(t, s.CanSponsor(eth(1)))

	var nilStatus *GasAllowanceStatus
	assert.False(t, nilStatus.CanSponsor(eth(1)))
}
