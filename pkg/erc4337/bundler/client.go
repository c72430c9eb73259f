// Provide primitive to work with a bundler RPC
// Bundler RPC is stateless
package bundler

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/userop"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
)

const (
	DefaultRequestTimeout = 30 * time.Second
)

// dummySignature has the right length for SimpleAccount signature checks during estimation.
var dummySignature = common.FromHex("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// BundlerClient defines a client for interacting with an EIP-4337 bundler RPC endpoint.
type BundlerClient struct {
	client     *rpc.Client
	url        string
	entrypoint common.Address
	timeout    time.Duration
	logger     logger.Logger
}

type Option func(*BundlerClient)

func WithLogger(l logger.Logger) Option {
	return func(bc *BundlerClient) { bc.logger = logger.EnsureLogger(l) }
}

// WithRequestTimeout bounds every single RPC call.
func WithRequestTimeout(d time.Duration) Option {
	return func(bc *BundlerClient) {
		if d > 0 {
			bc.timeout = d
		}
	}
}

// NewBundlerClient creates a new BundlerClient that connects to the given URL.
func NewBundlerClient(url string, entrypoint common.Address, opts ...Option) (*BundlerClient, error) {
	// DialHTTP works with the plain HTTP endpoints most hosted bundlers expose
	c, err := rpc.DialHTTP(url)
	if err != nil {
		return nil, fmt.Errorf("error creating bundler client: %w", err)
	}

	bc := &BundlerClient{
		client:     c,
		url:        url,
		entrypoint: entrypoint,
		timeout:    DefaultRequestTimeout,
		logger:     logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc, nil
}

// Close closes the underlying RPC client connection.
func (bc *BundlerClient) Close() {
	bc.client.Close()
}

func (bc *BundlerClient) EntryPoint() common.Address {
	return bc.entrypoint
}

func (bc *BundlerClient) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, bc.timeout)
	defer cancel()

	return wrapRelayError(method, bc.client.CallContext(callCtx, result, method, args...))
}

// SendUserOperation submits a signed operation and returns its hash.
func (bc *BundlerClient) SendUserOperation(ctx context.Context, op *userop.UserOperation) (string, error) {
	if op == nil || !op.IsSigned() {
		return "", &RelayError{Method: "eth_sendUserOperation", Message: userop.ErrUnsigned.Error(), err: userop.ErrUnsigned}
	}

	var hash string
	if err := bc.call(ctx, &hash, "eth_sendUserOperation", toWire(op), bc.entrypoint.Hex()); err != nil {
		bc.logger.Error("bundler rejected user operation", "sender", op.Sender.Hex(), "nonce", op.Nonce, "error", err)
		return "", err
	}

	bc.logger.Info("user operation submitted", "sender", op.Sender.Hex(), "hash", hash)
	return hash, nil
}

// EstimateUserOperationGas estimates the gas required for a UserOperation.
// https://eips.ethereum.org/EIPS/eip-4337#rpc-methods-eth-namespace
// The signature is ignored by the bundler but has to have the right length, so an unsigned
// operation is estimated with a dummy one.
func (bc *BundlerClient) EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation) (*GasEstimation, error) {
	uo := toWire(op)
	if len(uo.Signature) == 0 {
		uo.Signature = dummySignature
	}

	var result struct {
		PreVerificationGas   Quantity `json:"preVerificationGas"`
		VerificationGasLimit Quantity `json:"verificationGasLimit"`
		CallGasLimit         Quantity `json:"callGasLimit"`
	}
	if err := bc.call(ctx, &result, "eth_estimateUserOperationGas", uo, bc.entrypoint.Hex()); err != nil {
		return nil, err
	}

	return &GasEstimation{
		PreVerificationGas:   result.PreVerificationGas.Big(),
		VerificationGasLimit: result.VerificationGasLimit.Big(),
		CallGasLimit:         result.CallGasLimit.Big(),
	}, nil
}

// EstimateOrDefault never fails: when the bundler cannot estimate, the fallback limits are returned
// and missing fields of a partial answer are filled in.
func (bc *BundlerClient) EstimateOrDefault(ctx context.Context, op *userop.UserOperation) *GasEstimation {
	deploying := len(op.InitCode) > 0

	estimate, err := bc.EstimateUserOperationGas(ctx, op)
	if err != nil {
		bc.logger.Warn("gas estimation failed, using default limits", "sender", op.Sender.Hex(), "error", err)
		return DefaultGasEstimation(deploying)
	}
	return estimate.complete(deploying)
}

// UserOperationReceipt is the result of eth_getUserOperationReceipt.
type UserOperationReceipt struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Sender        common.Address `json:"sender"`
	Nonce         Quantity       `json:"nonce"`
	Success       bool           `json:"success"`
	Reason        string         `json:"reason"`
	ActualGasCost Quantity       `json:"actualGasCost"`
	ActualGasUsed Quantity       `json:"actualGasUsed"`
	Receipt       struct {
		TransactionHash common.Hash `json:"transactionHash"`
		BlockNumber     Quantity    `json:"blockNumber"`
	} `json:"receipt"`
}

// GetUserOperationReceipt fetches the receipt of a UserOperation. A nil receipt with a nil error
// means the operation is not included yet.
func (bc *BundlerClient) GetUserOperationReceipt(ctx context.Context, hash string) (*UserOperationReceipt, error) {
	var receipt *UserOperationReceipt
	if err := bc.call(ctx, &receipt, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, err
	}
	return receipt, nil
}

// PollStatus performs one non-blocking status check.
func (bc *BundlerClient) PollStatus(ctx context.Context, hash string) (StatusResult, error) {
	return PollStatus(ctx, bc, hash)
}

// AwaitInclusion polls on a fixed interval until the operation leaves pending or timeout elapses.
func (bc *BundlerClient) AwaitInclusion(ctx context.Context, hash string, timeout, interval time.Duration) StatusResult {
	started := time.Now()
	res := AwaitInclusion(ctx, bc, hash, timeout, interval)
	bc.logger.Info("user operation wait finished",
		"hash", hash,
		"status", res.Status,
		"reason", res.Reason,
		"elapsed", time.Since(started).String())
	return res
}
