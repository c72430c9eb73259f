// Package userop holds the ERC-4337 (EntryPoint v0.6) user operation and its hashing rules.
package userop

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrSealed   = errors.New("user operation is signed and can no longer be modified")
	ErrUnsigned = errors.New("user operation has no signature")
)

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	bytes32T, _ = abi.NewType("bytes32", "", nil)

	packArgs = abi.Arguments{
		{Type: addressT}, // sender
		{Type: uint256T}, // nonce
		{Type: bytes32T}, // keccak(initCode)
		{Type: bytes32T}, // keccak(callData)
		{Type: uint256T}, // callGasLimit
		{Type: uint256T}, // verificationGasLimit
		{Type: uint256T}, // preVerificationGas
		{Type: uint256T}, // maxFeePerGas
		{Type: uint256T}, // maxPriorityFeePerGas
		{Type: bytes32T}, // keccak(paymasterAndData)
	}

	hashArgs = abi.Arguments{
		{Type: bytes32T},
		{Type: addressT},
		{Type: uint256T},
	}
)

// MessageSigner produces an EIP-191 personal signature over data.
type MessageSigner interface {
	SignMessage(ctx context.Context, data []byte) ([]byte, error)
}

// UserOperation is the v0.6 user operation. The zero value of every big.Int field is treated as 0.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *big.Int       `json:"nonce"`
	InitCode             []byte         `json:"initCode"`
	CallData             []byte         `json:"callData"`
	CallGasLimit         *big.Int       `json:"callGasLimit"`
	VerificationGasLimit *big.Int       `json:"verificationGasLimit"`
	PreVerificationGas   *big.Int       `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	PaymasterAndData     []byte         `json:"paymasterAndData"`
	Signature            []byte         `json:"signature"`
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// IsSigned reports whether the operation carries a signature.
func (op *UserOperation) IsSigned() bool {
	return len(op.Signature) > 0
}

// Copy returns a deep copy of the operation.
func (op *UserOperation) Copy() *UserOperation {
	return &UserOperation{
		Sender:               op.Sender,
		Nonce:                copyBig(op.Nonce),
		InitCode:             copyBytes(op.InitCode),
		CallData:             copyBytes(op.CallData),
		CallGasLimit:         copyBig(op.CallGasLimit),
		VerificationGasLimit: copyBig(op.VerificationGasLimit),
		PreVerificationGas:   copyBig(op.PreVerificationGas),
		MaxFeePerGas:         copyBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: copyBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     copyBytes(op.PaymasterAndData),
		Signature:            copyBytes(op.Signature),
	}
}

// SetPaymasterAndData replaces the paymaster payload of an unsigned operation.
func (op *UserOperation) SetPaymasterAndData(data []byte) error {
	if op.IsSigned() {
		return ErrSealed
	}
	op.PaymasterAndData = copyBytes(data)
	return nil
}

// SetGas replaces the three gas limits of an unsigned operation.
func (op *UserOperation) SetGas(callGas, verificationGas, preVerificationGas *big.Int) error {
	if op.IsSigned() {
		return ErrSealed
	}
	op.CallGasLimit = copyBig(callGas)
	op.VerificationGasLimit = copyBig(verificationGas)
	op.PreVerificationGas = copyBig(preVerificationGas)
	return nil
}

// SetFees replaces the EIP-1559 fee fields of an unsigned operation.
func (op *UserOperation) SetFees(maxFee, maxPriorityFee *big.Int) error {
	if op.IsSigned() {
		return ErrSealed
	}
	op.MaxFeePerGas = copyBig(maxFee)
	op.MaxPriorityFeePerGas = copyBig(maxPriorityFee)
	return nil
}

// HasPaymaster reports whether a sponsor pays for gas.
func (op *UserOperation) HasPaymaster() bool {
	return len(op.PaymasterAndData) >= common.AddressLength && op.PaymasterAddress() != (common.Address{})
}

// PaymasterAddress returns the first 20 bytes of PaymasterAndData, or the zero address.
func (op *UserOperation) PaymasterAddress() common.Address {
	if len(op.PaymasterAndData) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:common.AddressLength])
}

// TotalGasLimit is call + verification + pre-verification gas.
func (op *UserOperation) TotalGasLimit() *big.Int {
	total := new(big.Int).Add(orZero(op.CallGasLimit), orZero(op.VerificationGasLimit))
	return total.Add(total, orZero(op.PreVerificationGas))
}

// MaxGasCost is the worst case gas payment in wei: TotalGasLimit * MaxFeePerGas.
func (op *UserOperation) MaxGasCost() *big.Int {
	return new(big.Int).Mul(op.TotalGasLimit(), orZero(op.MaxFeePerGas))
}

// Pack abi-encodes every field except the signature, hashing the dynamic byte fields.
func (op *UserOperation) Pack() ([]byte, error) {
	return packArgs.Pack(
		op.Sender,
		orZero(op.Nonce),
		[32]byte(crypto.Keccak256Hash(op.InitCode)),
		[32]byte(crypto.Keccak256Hash(op.CallData)),
		orZero(op.CallGasLimit),
		orZero(op.VerificationGasLimit),
		orZero(op.PreVerificationGas),
		orZero(op.MaxFeePerGas),
		orZero(op.MaxPriorityFeePerGas),
		[32]byte(crypto.Keccak256Hash(op.PaymasterAndData)),
	)
}

// GetUserOpHash returns the hash the EntryPoint expects the account to sign.
func (op *UserOperation) GetUserOpHash(entrypoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed, err := op.Pack()
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack user operation: %w", err)
	}

	encoded, err := hashArgs.Pack([32]byte(crypto.Keccak256Hash(packed)), entrypoint, orZero(chainID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode user operation hash: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Sign returns a sealed copy of op carrying signer's EIP-191 signature over the op hash.
// The receiver is left untouched.
func (op *UserOperation) Sign(ctx context.Context, signer MessageSigner, entrypoint common.Address, chainID *big.Int) (*UserOperation, error) {
	if op.IsSigned() {
		return nil, ErrSealed
	}
	hash, err := op.GetUserOpHash(entrypoint, chainID)
	if err != nil {
		return nil, err
	}

	sig, err := signer.SignMessage(ctx, hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign user operation: %w", err)
	}
	if len(sig) == 0 {
		return nil, fmt.Errorf("sign user operation: signer returned an empty signature")
	}

	signed := op.Copy()
	signed.Signature = copyBytes(sig)
	return signed, nil
}

// RecoverSigner returns the address whose key produced the signature.
func (op *UserOperation) RecoverSigner(entrypoint common.Address, chainID *big.Int) (common.Address, error) {
	if !op.IsSigned() {
		return common.Address{}, ErrUnsigned
	}
	if len(op.Signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(op.Signature))
	}

	hash, err := op.GetUserOpHash(entrypoint, chainID)
	if err != nil {
		return common.Address{}, err
	}

	sig := copyBytes(op.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
