package builder

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/chainio/aa"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/chainio/signer"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/testutil"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/bundler"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/userop"
)

var (
	sender    = common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6")
	owner     = common.HexToAddress("0xD7050816337a3f8f690F8083B5Ff8019D50c0E50")
	recipient = common.HexToAddress("0x1111111111111111111111111111111111111111")
	token     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	router    = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

type fakeEstimator struct {
	seen []*userop.UserOperation
}

func (f *fakeEstimator) EstimateOrDefault(ctx context.Context, op *userop.UserOperation) *bundler.GasEstimation {
	f.seen = append(f.seen, op.Copy())
	return &bundler.GasEstimation{
		CallGasLimit:         big.NewInt(100_000),
		VerificationGasLimit: big.NewInt(150_000),
		PreVerificationGas:   big.NewInt(45_000),
	}
}

func newChain(nonce int64) *testutil.FakeChain {
	chain := testutil.NewFakeChain()
	chain.SetCode(sender, []byte{0x60, 0x80})
	chain.Returns(aa.EntrypointAddress, aa.EntrypointABI, "getNonce", big.NewInt(nonce))
	return chain
}

func newBuilder(chain ChainReader) (*Builder, *fakeEstimator) {
	est := &fakeEstimator{}
	return New(chain, est, aa.EntrypointAddress, WithLogger(testutil.GetLogger())), est
}

func TestBuildNativeTransfer(t *testing.T) {
	b, est := newBuilder(newChain(7))

	op, err := b.BuildTransfer(context.Background(), TransferRequest{
		Sender:    sender,
		Kind:      TransferNative,
		Recipient: recipient,
		Amount:    big.NewInt(1000),
	})
	require.NoError(t, err)

	want, _ := aa.PackExecute(recipient, big.NewInt(1000), nil)
	assert.Equal(t, want, op.CallData)
	assert.Empty(t, op.InitCode)
	assert.Equal(t, int64(7), op.Nonce.Int64())
	assert.Equal(t, gwei(20), op.MaxFeePerGas)
	assert.Equal(t, gwei(2), op.MaxPriorityFeePerGas)
	assert.Equal(t, int64(100_000), op.CallGasLimit.Int64())
	assert.Equal(t, int64(150_000), op.VerificationGasLimit.Int64())
	assert.Equal(t, int64(45_000), op.PreVerificationGas.Int64())
	assert.False(t, op.IsSigned())
	require.Len(t, est.seen, 1)
}

func TestBuildTokenTransfer(t *testing.T) {
	b, _ := newBuilder(newChain(0))

	op, err := b.BuildTransfer(context.Background(), TransferRequest{
		Sender:    sender,
		Kind:      TransferToken,
		Token:     token,
		Recipient: recipient,
		Amount:    big.NewInt(2_510_000_000),
	})
	require.NoError(t, err)

	transfer, _ := aa.PackERC20Transfer(recipient, big.NewInt(2_510_000_000))
	want, _ := aa.PackExecute(token, big.NewInt(0), transfer)
	assert.Equal(t, want, op.CallData)
}

func TestBuildTransferRejectsBadInput(t *testing.T) {
	b, _ := newBuilder(newChain(0))
	ctx := context.Background()

	cases := map[string]TransferRequest{
		"missing sender": {Kind: TransferNative, Recipient: recipient, Amount: big.NewInt(1)},
		"zero amount":    {Sender: sender, Kind: TransferNative, Recipient: recipient, Amount: big.NewInt(0)},
		"nil amount":     {Sender: sender, Kind: TransferNative, Recipient: recipient},
		"missing token":  {Sender: sender, Kind: TransferToken, Recipient: recipient, Amount: big.NewInt(1)},
		"unknown kind":   {Sender: sender, Kind: "nft", Recipient: recipient, Amount: big.NewInt(1)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := b.BuildTransfer(ctx, req)
			assert.True(t, model.IsValidationError(err), err)
		})
	}
}

func TestBuildDeploysUndeployedAccount(t *testing.T) {
	chain := newChain(0)
	chain.SetCode(sender, nil)
	b, _ := newBuilder(chain)

	op, err := b.BuildTransfer(context.Background(), TransferRequest{
		Sender: sender, Owner: owner, Kind: TransferNative, Recipient: recipient, Amount: big.NewInt(1),
	})
	require.NoError(t, err)

	want, _ := aa.GetInitCodeForFactory(owner, aa.FactoryAddress(), nil)
	assert.Equal(t, want, op.InitCode)
}

func TestBuildAssumesDeployedWhenCodeReadFails(t *testing.T) {
	chain := newChain(0)
	chain.SetCode(sender, nil)
	chain.CodeErr = errors.New("node down")
	b, _ := newBuilder(chain)

	op, err := b.BuildTransfer(context.Background(), TransferRequest{
		Sender: sender, Owner: owner, Kind: TransferNative, Recipient: recipient, Amount: big.NewInt(1),
	})
	require.NoError(t, err)
	assert.Empty(t, op.InitCode)
}

func TestBuildFallsBackOnFeeFailure(t *testing.T) {
	chain := newChain(0)
	chain.FeeErr = errors.New("rate limited")
	b, _ := newBuilder(chain)

	op, err := b.BuildTransfer(context.Background(), TransferRequest{
		Sender: sender, Kind: TransferNative, Recipient: recipient, Amount: big.NewInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, DEFAULT_MAX_FEE_PER_GAS, op.MaxFeePerGas)
	assert.Equal(t, DEFAULT_MAX_PRIORITY_FEE, op.MaxPriorityFeePerGas)
}

func TestBuildKeepsFeeHeadroom(t *testing.T) {
	chain := newChain(0)
	chain.BaseFee = nil
	b, _ := newBuilder(chain)

	op, err := b.BuildTransfer(context.Background(), TransferRequest{
		Sender: sender, Kind: TransferNative, Recipient: recipient, Amount: big.NewInt(1),
	})
	require.NoError(t, err)
	floor := new(big.Int).Add(op.MaxPriorityFeePerGas, MIN_FEE_HEADROOM)
	assert.True(t, op.MaxFeePerGas.Cmp(floor) >= 0)
	assert.Equal(t, gwei(3), op.MaxFeePerGas)
}

func TestBuildNonceFallbacks(t *testing.T) {
	chain := newChain(3)
	b, _ := newBuilder(chain)
	ctx := context.Background()
	req := TransferRequest{Sender: sender, Kind: TransferNative, Recipient: recipient, Amount: big.NewInt(1)}

	op, err := b.BuildTransfer(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(3), op.Nonce.Int64())

	// the bundler still holds nonce 3, so the next operation must use 4
	b.Accepted(op)
	op, err = b.BuildTransfer(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(4), op.Nonce.Int64())

	chain.Fails(aa.EntrypointAddress, aa.EntrypointABI, "getNonce", errors.New("execution reverted"))
	op, err = b.BuildTransfer(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(4), op.Nonce.Int64())

	b.Rejected(op, &bundler.RelayError{Method: "eth_sendUserOperation", Code: -32500, Message: "AA25 invalid account nonce"})
	op, err = b.BuildTransfer(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(0), op.Nonce.Int64())
}

func TestBuildSwapWithApproval(t *testing.T) {
	b, _ := newBuilder(newChain(0))
	routerCall := []byte{0xde, 0xad, 0xbe, 0xef}

	op, err := b.BuildSwap(context.Background(), SwapRequest{
		Sender:         sender,
		TokenIn:        token,
		AmountIn:       big.NewInt(5000),
		Router:         router,
		RouterCallData: routerCall,
		NeedsApproval:  true,
	})
	require.NoError(t, err)

	approve, _ := aa.PackERC20Approve(router, big.NewInt(5000))
	want, _ := aa.PackExecuteBatch([]aa.Call{
		{Target: token, Data: approve},
		{Target: router, Data: routerCall},
	})
	assert.Equal(t, want, op.CallData)
}

func TestBuildSwapNative(t *testing.T) {
	b, _ := newBuilder(newChain(0))
	routerCall := []byte{0x01, 0x02, 0x03, 0x04}

	op, err := b.BuildSwap(context.Background(), SwapRequest{
		Sender:         sender,
		Router:         router,
		RouterCallData: routerCall,
		Value:          big.NewInt(1e15),
	})
	require.NoError(t, err)

	want, _ := aa.PackExecute(router, big.NewInt(1e15), routerCall)
	assert.Equal(t, want, op.CallData)
}

func TestBuildSwapRejectsBadInput(t *testing.T) {
	b, _ := newBuilder(newChain(0))
	ctx := context.Background()

	_, err := b.BuildSwap(ctx, SwapRequest{Sender: sender, Router: router, AmountIn: big.NewInt(1)})
	assert.True(t, model.IsValidationError(err))

	_, err = b.BuildSwap(ctx, SwapRequest{
		Sender: sender, TokenIn: token, AmountIn: big.NewInt(1), Router: router,
		RouterCallData: []byte{1}, NeedsApproval: true, Value: big.NewInt(1),
	})
	assert.True(t, model.IsValidationError(err))

	_, err = b.BuildSwap(ctx, SwapRequest{Sender: sender, Router: router, RouterCallData: []byte{1}})
	assert.True(t, model.IsValidationError(err))
}

func TestSignReturnsSealedCopy(t *testing.T) {
	b, _ := newBuilder(newChain(0))
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := signer.NewKeySigner(key)

	op, err := b.BuildTransfer(context.Background(), TransferRequest{
		Sender: sender, Kind: TransferNative, Recipient: recipient, Amount: big.NewInt(1),
	})
	require.NoError(t, err)

	signed, err := b.Sign(context.Background(), op, s, 4202)
	require.NoError(t, err)
	assert.True(t, signed.IsSigned())
	assert.False(t, op.IsSigned())

	recovered, err := signed.RecoverSigner(aa.EntrypointAddress, big.NewInt(4202))
	require.NoError(t, err)
	assert.Equal(t, s.Address(), recovered)

	_, err = b.Sign(context.Background(), signed, s, 4202)
	assert.ErrorIs(t, err, userop.ErrSealed)
	assert.ErrorIs(t, signed.SetPaymasterAndData(router.Bytes()), userop.ErrSealed)
}

func TestSlippagePolicy(t *testing.T) {
	assert.Equal(t, big.NewInt(9900), SlippagePolicy{Bps: 100}.MinOut(big.NewInt(10_000)))
	assert.Equal(t, big.NewInt(10_000), SlippagePolicy{Bps: 0}.MinOut(big.NewInt(10_000)))
	assert.Equal(t, big.NewInt(0), SlippagePolicy{Bps: 100}.MinOut(nil))
	assert.Equal(t, big.NewInt(0), SlippagePolicy{Bps: 20_000}.MinOut(big.NewInt(10)))

	b, _ := newBuilder(newChain(0))
	assert.Equal(t, big.NewInt(990), b.MinOut(big.NewInt(1000)))
}
