package signer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hardhatMnemonic = "test test test test test test test test test test test junk"

func TestFromMnemonicDerivesBIP44Account(t *testing.T) {
	s, err := FromMnemonic(hardhatMnemonic, 0)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Address())

	s1, err := FromMnemonic(hardhatMnemonic, 1)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), s1.Address())
}

func TestFromMnemonicRejectsGarbage(t *testing.T) {
	_, err := FromMnemonic("not a real mnemonic", 0)
	assert.Error(t, err)
}

func TestSignMessageIsPersonalSign(t *testing.T) {
	s, err := FromHex("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)

	data := crypto.Keccak256([]byte("cppay"))
	sig, err := s.SignMessage(context.Background(), data)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.True(t, sig[64] == 27 || sig[64] == 28)

	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(data), sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), crypto.PubkeyToAddress(*pub))
}

func TestSignMessageHonoursCancelledContext(t *testing.T) {
	s, err := FromHex("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.SignMessage(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
