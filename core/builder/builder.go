// Package builder assembles unsigned ERC-4337 user operations for the smart account of a user:
// calldata, init code, nonce, fees and gas limits. Reads that fail fall back to safe defaults so a
// flaky node never blocks a payment; only bad input is an error.
package builder

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/chainio/aa"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/eip1559"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/bundler"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/userop"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
)

var (
	DEFAULT_MAX_FEE_PER_GAS  = big.NewInt(20_000_000_000) // 20 gwei
	DEFAULT_MAX_PRIORITY_FEE = big.NewInt(2_000_000_000)  // 2 gwei
	MIN_FEE_HEADROOM         = big.NewInt(1_000_000_000)  // maxFee >= tip + 1 gwei
)

// ChainReader is the node access the builder needs. *ethclient.Client satisfies it.
type ChainReader interface {
	bind.ContractCaller
	eip1559.FeeSource
}

// GasEstimator is satisfied by *bundler.BundlerClient.
type GasEstimator interface {
	EstimateOrDefault(ctx context.Context, op *userop.UserOperation) *bundler.GasEstimation
}

type TransferKind string

const (
	TransferNative TransferKind = "native"
	TransferToken  TransferKind = "token"
)

type TransferRequest struct {
	Sender common.Address
	// Owner is the EOA controlling Sender. It is only needed to deploy an undeployed account.
	Owner     common.Address
	Kind      TransferKind
	Token     common.Address
	Recipient common.Address
	Amount    *big.Int
}

type SwapRequest struct {
	Sender  common.Address
	Owner   common.Address
	TokenIn common.Address
	// AmountIn is the token amount the router may pull when an approval is needed.
	AmountIn       *big.Int
	Router         common.Address
	RouterCallData []byte
	// Value is the native amount sent along with the router call.
	Value         *big.Int
	NeedsApproval bool
}

type Builder struct {
	chain      ChainReader
	estimator  GasEstimator
	nonces     *bundler.NonceManager
	entrypoint common.Address
	factory    common.Address
	minOut     MinOutPolicy
	logger     logger.Logger
}

type Option func(*Builder)

func WithLogger(l logger.Logger) Option {
	return func(b *Builder) { b.logger = logger.EnsureLogger(l) }
}

func WithNonceManager(nm *bundler.NonceManager) Option {
	return func(b *Builder) { b.nonces = nm }
}

func WithFactory(factory common.Address) Option {
	return func(b *Builder) { b.factory = factory }
}

func WithMinOutPolicy(p MinOutPolicy) Option {
	return func(b *Builder) { b.minOut = p }
}

func New(chain ChainReader, estimator GasEstimator, entrypoint common.Address, opts ...Option) *Builder {
	b := &Builder{
		chain:      chain,
		estimator:  estimator,
		entrypoint: entrypoint,
		factory:    aa.FactoryAddress(),
		minOut:     SlippagePolicy{Bps: DefaultSlippageBps},
		logger:     logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.nonces == nil {
		b.nonces = bundler.NewNonceManager(b.logger)
	}
	return b
}

func (b *Builder) EntryPoint() common.Address {
	return b.entrypoint
}

// MinOut applies the configured minimum-out policy to an expected swap output.
func (b *Builder) MinOut(expected *big.Int) *big.Int {
	return b.minOut.MinOut(expected)
}

// BuildTransfer builds an operation moving native coin or an ERC20 token to the recipient.
func (b *Builder) BuildTransfer(ctx context.Context, req TransferRequest) (*userop.UserOperation, error) {
	if req.Sender == (common.Address{}) {
		return nil, model.NewValidationError("sender", "is required")
	}
	if req.Recipient == (common.Address{}) {
		return nil, model.NewValidationError("recipient", "is required")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, model.NewValidationError("amount", "must be positive")
	}

	var callData []byte
	var err error
	switch req.Kind {
	case TransferNative:
		callData, err = aa.PackExecute(req.Recipient, req.Amount, nil)
	case TransferToken:
		if req.Token == (common.Address{}) {
			return nil, model.NewValidationError("token", "is required for a token transfer")
		}
		var transfer []byte
		transfer, err = aa.PackERC20Transfer(req.Recipient, req.Amount)
		if err == nil {
			callData, err = aa.PackExecute(req.Token, big.NewInt(0), transfer)
		}
	default:
		return nil, model.NewValidationError("kind", "unknown transfer kind %q", req.Kind)
	}
	if err != nil {
		return nil, err
	}

	return b.build(ctx, req.Sender, req.Owner, callData)
}

// BuildSwap wraps router calldata. When the router needs an allowance the approval and the swap
// go out together through executeBatch.
func (b *Builder) BuildSwap(ctx context.Context, req SwapRequest) (*userop.UserOperation, error) {
	if req.Sender == (common.Address{}) {
		return nil, model.NewValidationError("sender", "is required")
	}
	if req.Router == (common.Address{}) || len(req.RouterCallData) == 0 {
		return nil, model.NewValidationError("router", "router and calldata are required")
	}

	var calls []aa.Call
	if req.NeedsApproval {
		if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
			return nil, model.NewValidationError("amountIn", "must be positive")
		}
		if req.TokenIn == (common.Address{}) {
			return nil, model.NewValidationError("tokenIn", "is required for an approval")
		}
		if req.Value != nil && req.Value.Sign() != 0 {
			return nil, model.NewValidationError("value", "a swap needing approval cannot carry value")
		}
		approve, err := aa.PackERC20Approve(req.Router, req.AmountIn)
		if err != nil {
			return nil, err
		}
		calls = append(calls, aa.Call{Target: req.TokenIn, Data: approve})
	} else if (req.Value == nil || req.Value.Sign() == 0) && (req.AmountIn == nil || req.AmountIn.Sign() <= 0) {
		return nil, model.NewValidationError("amountIn", "must be positive")
	}
	calls = append(calls, aa.Call{Target: req.Router, Value: req.Value, Data: req.RouterCallData})

	callData, err := aa.PackCalls(calls)
	if err != nil {
		return nil, err
	}
	return b.build(ctx, req.Sender, req.Owner, callData)
}

func (b *Builder) build(ctx context.Context, sender, owner common.Address, callData []byte) (*userop.UserOperation, error) {
	op := &userop.UserOperation{
		Sender:   sender,
		CallData: callData,
	}

	op.InitCode = b.initCode(ctx, sender, owner)
	op.Nonce = b.nonce(ctx, sender)

	maxFee, tip := b.fees(ctx)
	if err := op.SetFees(maxFee, tip); err != nil {
		return nil, err
	}

	estimate := b.estimator.EstimateOrDefault(ctx, op)
	if err := op.SetGas(estimate.CallGasLimit, estimate.VerificationGasLimit, estimate.PreVerificationGas); err != nil {
		return nil, err
	}

	b.logger.Debug("user operation built",
		"sender", sender.Hex(),
		"nonce", op.Nonce.String(),
		"deploying", len(op.InitCode) > 0,
		"max_fee", op.MaxFeePerGas.String(),
		"gas_defaulted", estimate.Defaulted)
	return op, nil
}

func (b *Builder) initCode(ctx context.Context, sender, owner common.Address) []byte {
	deployed, err := aa.IsDeployed(ctx, b.chain, sender)
	if err != nil {
		b.logger.Warn("cannot read account code, assuming deployed", "sender", sender.Hex(), "error", err)
		return nil
	}
	if deployed || owner == (common.Address{}) {
		return nil
	}

	initCode, err := aa.GetInitCodeForFactory(owner, b.factory, nil)
	if err != nil {
		b.logger.Warn("cannot pack init code", "owner", owner.Hex(), "error", err)
		return nil
	}
	return initCode
}

func (b *Builder) nonce(ctx context.Context, sender common.Address) *big.Int {
	nonce, err := b.nonces.GetNextNonce(ctx, sender, func(ctx context.Context) (*big.Int, error) {
		return aa.GetNonceFrom(ctx, b.chain, b.entrypoint, sender, nil)
	})
	if err == nil {
		return nonce
	}

	if cached, ok := b.nonces.GetCachedNonce(sender); ok {
		b.logger.Warn("cannot read nonce, using cached value", "sender", sender.Hex(), "nonce", cached.String(), "error", err)
		return cached
	}
	b.logger.Warn("cannot read nonce, using 0", "sender", sender.Hex(), "error", err)
	return big.NewInt(0)
}

func (b *Builder) fees(ctx context.Context) (*big.Int, *big.Int) {
	maxFee, tip, err := eip1559.SuggestFee(ctx, b.chain)
	if err != nil {
		b.logger.Warn("cannot read fees, using defaults", "error", err)
		maxFee = new(big.Int).Set(DEFAULT_MAX_FEE_PER_GAS)
		tip = new(big.Int).Set(DEFAULT_MAX_PRIORITY_FEE)
	}

	floor := new(big.Int).Add(tip, MIN_FEE_HEADROOM)
	if maxFee.Cmp(floor) < 0 {
		maxFee = floor
	}
	return maxFee, tip
}

// Reestimate refreshes the gas limits of an unsigned op, e.g. once a paymaster is attached and
// verification runs through it.
func (b *Builder) Reestimate(ctx context.Context, op *userop.UserOperation) error {
	estimate := b.estimator.EstimateOrDefault(ctx, op)
	return op.SetGas(estimate.CallGasLimit, estimate.VerificationGasLimit, estimate.PreVerificationGas)
}

// Sign returns a sealed copy of op. It is the only place operations get signed.
func (b *Builder) Sign(ctx context.Context, op *userop.UserOperation, signer userop.MessageSigner, chainID int64) (*userop.UserOperation, error) {
	return op.Sign(ctx, signer, b.entrypoint, big.NewInt(chainID))
}

// Accepted records that the bundler took op, so the next operation of the sender uses the
// following nonce.
func (b *Builder) Accepted(op *userop.UserOperation) {
	b.nonces.IncrementNonce(op.Sender, op.Nonce)
}

// Rejected drops the cached nonce when the bundler refused op because of it.
func (b *Builder) Rejected(op *userop.UserOperation, err error) {
	if bundler.IsNonceError(err) {
		b.nonces.ResetNonce(op.Sender)
	}
}
