package aa

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/testutil"
)

var (
	owner    = common.HexToAddress("0x804e49e8C4eDb560AE7c48B554f6d2e27Bb81557")
	usdc     = common.HexToAddress("0x2e4DAF4B8A3DC4A0bF3F6C7b1b4D6a9A1D0D6E11")
	treasury = common.HexToAddress("0x0000000000000000000000000000000000000bEE")
)

func TestGetInitCode(t *testing.T) {
	factory := common.HexToAddress("0xB99BC2E399e06CddCF5E725c0ea341E8f0322834")

	initCode, err := GetInitCodeForFactory(owner, factory, big.NewInt(7))
	require.NoError(t, err)

	assert.Equal(t, factory.Bytes(), initCode[:20])
	assert.Equal(t, simpleFactoryABI.Methods["createAccount"].ID, initCode[20:24])

	args, err := simpleFactoryABI.Methods["createAccount"].Inputs.Unpack(initCode[24:])
	require.NoError(t, err)
	assert.Equal(t, owner, args[0])
	assert.Equal(t, big.NewInt(7), args[1])
}

func TestGetInitCodeDefaultsSaltAndFactory(t *testing.T) {
	initCode, err := GetInitCode(owner, nil)
	require.NoError(t, err)
	assert.Equal(t, FactoryAddress().Bytes(), initCode[:20])

	args, err := simpleFactoryABI.Methods["createAccount"].Inputs.Unpack(initCode[24:])
	require.NoError(t, err)
	assert.Equal(t, 0, args[1].(*big.Int).Sign())
}

func TestPackExecute(t *testing.T) {
	transfer, err := PackERC20Transfer(treasury, big.NewInt(2_510))
	require.NoError(t, err)
	assert.Equal(t, "0xa9059cbb", hexutil.Encode(transfer[:4]))

	calldata, err := PackExecute(usdc, nil, transfer)
	require.NoError(t, err)
	assert.Equal(t, "0xb61d27f6", hexutil.Encode(calldata[:4]))

	args, err := simpleAccountABI.Methods["execute"].Inputs.Unpack(calldata[4:])
	require.NoError(t, err)
	assert.Equal(t, usdc, args[0])
	assert.Equal(t, 0, args[1].(*big.Int).Sign())
	assert.Equal(t, transfer, args[2])
}

func TestPackExecuteBatch(t *testing.T) {
	approve, err := PackERC20Approve(treasury, big.NewInt(100))
	require.NoError(t, err)

	calldata, err := PackCalls([]Call{
		{Target: usdc, Data: approve},
		{Target: treasury, Data: []byte{0x01, 0x02}},
	})
	require.NoError(t, err)
	assert.Equal(t, simpleAccountABI.Methods["executeBatch"].ID, calldata[:4])

	args, err := simpleAccountABI.Methods["executeBatch"].Inputs.Unpack(calldata[4:])
	require.NoError(t, err)
	assert.Equal(t, []common.Address{usdc, treasury}, args[0])
	assert.Equal(t, [][]byte{approve, {0x01, 0x02}}, args[1])
}

func TestPackExecuteBatchRejections(t *testing.T) {
	_, err := PackExecuteBatch(nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = PackExecuteBatch([]Call{{Target: usdc, Value: big.NewInt(1)}, {Target: treasury}})
	assert.Error(t, err)
}

func TestPackCallsSingleUsesExecute(t *testing.T) {
	calldata, err := PackCalls([]Call{{Target: treasury, Value: big.NewInt(10)}})
	require.NoError(t, err)
	assert.Equal(t, "0xb61d27f6", hexutil.Encode(calldata[:4]))
}

func TestContractReads(t *testing.T) {
	chain := testutil.NewFakeChain()
	account := common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6")

	chain.Returns(FactoryAddress(), simpleFactoryABI, "getAddress", account)
	chain.Handle(EntrypointAddress, EntrypointABI, "getNonce", func(args []interface{}) ([]interface{}, error) {
		if args[0].(common.Address) != account {
			return nil, errors.New("unexpected sender")
		}
		return []interface{}{big.NewInt(42)}, nil
	})

	ctx := context.Background()
	sender, err := GetSenderAddress(ctx, chain, owner, nil)
	require.NoError(t, err)
	assert.Equal(t, account, sender)

	nonce, err := GetNonce(ctx, chain, sender, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), nonce)

	deployed, err := IsDeployed(ctx, chain, sender)
	require.NoError(t, err)
	assert.False(t, deployed)

	chain.SetCode(sender, []byte{0x60, 0x80})
	deployed, err = IsDeployed(ctx, chain, sender)
	require.NoError(t, err)
	assert.True(t, deployed)
}

func TestContractReadErrorsAreWrapped(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.Fails(EntrypointAddress, EntrypointABI, "getNonce", errors.New("execution reverted"))

	_, err := GetNonce(context.Background(), chain, owner, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getNonce")
}

func TestConfigureKeepsCurrentOnZero(t *testing.T) {
	factory, entrypoint := FactoryAddress(), EntrypointAddress
	defer Configure(factory, entrypoint)

	other := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	Configure(other, common.Address{})
	assert.Equal(t, other, FactoryAddress())
	assert.Equal(t, entrypoint, EntrypointAddress)
}
