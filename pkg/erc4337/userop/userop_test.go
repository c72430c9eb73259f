package userop

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/chainio/signer"
)

var (
	testEntrypoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	testChainID    = big.NewInt(8453)
)

func sampleOp() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6"),
		Nonce:                big.NewInt(3),
		InitCode:             nil,
		CallData:             common.FromHex("0xb61d27f6"),
		CallGasLimit:         big.NewInt(200000),
		VerificationGasLimit: big.NewInt(1000000),
		PreVerificationGas:   big.NewInt(50000),
		MaxFeePerGas:         big.NewInt(20_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
	}
}

func testSigner(t *testing.T) *signer.KeySigner {
	s, err := signer.FromHex("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	return s
}

func TestHashCoversEveryField(t *testing.T) {
	base, err := sampleOp().GetUserOpHash(testEntrypoint, testChainID)
	require.NoError(t, err)

	mutations := map[string]func(op *UserOperation){
		"sender":               func(op *UserOperation) { op.Sender = common.HexToAddress("0x01") },
		"nonce":                func(op *UserOperation) { op.Nonce = big.NewInt(4) },
		"initCode":             func(op *UserOperation) { op.InitCode = []byte{1} },
		"callData":             func(op *UserOperation) { op.CallData = []byte{1} },
		"callGasLimit":         func(op *UserOperation) { op.CallGasLimit = big.NewInt(1) },
		"verificationGasLimit": func(op *UserOperation) { op.VerificationGasLimit = big.NewInt(1) },
		"preVerificationGas":   func(op *UserOperation) { op.PreVerificationGas = big.NewInt(1) },
		"maxFeePerGas":         func(op *UserOperation) { op.MaxFeePerGas = big.NewInt(1) },
		"maxPriorityFeePerGas": func(op *UserOperation) { op.MaxPriorityFeePerGas = big.NewInt(1) },
		"paymasterAndData":     func(op *UserOperation) { op.PaymasterAndData = common.HexToAddress("0x02").Bytes() },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			op := sampleOp()
			mutate(op)
			h, err := op.GetUserOpHash(testEntrypoint, testChainID)
			require.NoError(t, err)
			assert.NotEqual(t, base, h)
		})
	}

	other, err := sampleOp().GetUserOpHash(testEntrypoint, big.NewInt(1))
	require.NoError(t, err)
	assert.NotEqual(t, base, other, "chain id must be part of the hash")
}

func TestSignDoesNotMutateAndSeals(t *testing.T) {
	op := sampleOp()
	s := testSigner(t)

	signed, err := op.Sign(context.Background(), s, testEntrypoint, testChainID)
	require.NoError(t, err)
	assert.False(t, op.IsSigned())
	assert.True(t, signed.IsSigned())

	who, err := signed.RecoverSigner(testEntrypoint, testChainID)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), who)

	assert.ErrorIs(t, signed.SetPaymasterAndData([]byte{1}), ErrSealed)
	assert.ErrorIs(t, signed.SetGas(big.NewInt(1), big.NewInt(1), big.NewInt(1)), ErrSealed)
	assert.ErrorIs(t, signed.SetFees(big.NewInt(1), big.NewInt(1)), ErrSealed)

	_, err = signed.Sign(context.Background(), s, testEntrypoint, testChainID)
	assert.ErrorIs(t, err, ErrSealed)
}

func TestTamperedOperationRecoversDifferentSigner(t *testing.T) {
	s := testSigner(t)
	signed, err := sampleOp().Sign(context.Background(), s, testEntrypoint, testChainID)
	require.NoError(t, err)

	tampered := signed.Copy()
	tampered.CallGasLimit = big.NewInt(999)
	who, err := tampered.RecoverSigner(testEntrypoint, testChainID)
	if err == nil {
		assert.NotEqual(t, s.Address(), who)
	}
}

func TestGasHelpers(t *testing.T) {
	op := sampleOp()
	assert.Equal(t, big.NewInt(1_250_000), op.TotalGasLimit())
	assert.Equal(t, new(big.Int).Mul(big.NewInt(1_250_000), big.NewInt(20_000_000_000)), op.MaxGasCost())

	assert.False(t, op.HasPaymaster())
	pm := common.HexToAddress("0x2b9a465680814037c6ab39C0CD4E62bA6e3f3FcE")
	require.NoError(t, op.SetPaymasterAndData(pm.Bytes()))
	assert.True(t, op.HasPaymaster())
	assert.Equal(t, pm, op.PaymasterAddress())
}

func TestRecoverUnsigned(t *testing.T) {
	_, err := sampleOp().RecoverSigner(testEntrypoint, testChainID)
	assert.ErrorIs(t, err, ErrUnsigned)
}
