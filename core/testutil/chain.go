package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrNoHandler = errors.New("no contract handler registered")

type contractHandler struct {
	method abi.Method
	fn     func(args []interface{}) ([]interface{}, error)
}

// FakeChain answers eth_call, eth_getCode and fee queries from registered handlers. It satisfies
// bind.ContractCaller and eip1559.FeeSource so contract readers can be tested without a node.
type FakeChain struct {
	mu       sync.Mutex
	code     map[common.Address][]byte
	handlers map[string]contractHandler
	calls    map[string]int

	Tip     *big.Int
	BaseFee *big.Int

	CodeErr error
	FeeErr  error
}

func NewFakeChain() *FakeChain {
	return &FakeChain{
		code:     map[common.Address][]byte{},
		handlers: map[string]contractHandler{},
		calls:    map[string]int{},
		Tip:      big.NewInt(1_000_000_000),
		BaseFee:  big.NewInt(5_000_000_000),
	}
}

func handlerKey(address common.Address, selector []byte) string {
	return address.Hex() + ":" + hexutil.Encode(selector)
}

// Handle registers fn for calls to method on address. fn receives the decoded arguments and returns
// the outputs to ABI-encode.
func (f *FakeChain) Handle(address common.Address, parsed abi.ABI, method string, fn func(args []interface{}) ([]interface{}, error)) {
	m, ok := parsed.Methods[method]
	if !ok {
		panic(fmt.Sprintf("unknown method %s", method))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[handlerKey(address, m.ID)] = contractHandler{method: m, fn: fn}
}

// Returns registers fixed outputs for method on address.
func (f *FakeChain) Returns(address common.Address, parsed abi.ABI, method string, outputs ...interface{}) {
	f.Handle(address, parsed, method, func([]interface{}) ([]interface{}, error) {
		return outputs, nil
	})
}

// Fails makes every call to method on address return err.
func (f *FakeChain) Fails(address common.Address, parsed abi.ABI, method string, err error) {
	f.Handle(address, parsed, method, func([]interface{}) ([]interface{}, error) {
		return nil, err
	})
}

func (f *FakeChain) SetCode(address common.Address, code []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code[address] = code
}

// Calls returns how many times method was called on address.
func (f *FakeChain) Calls(address common.Address, parsed abi.ABI, method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[handlerKey(address, parsed.Methods[method].ID)]
}

func (f *FakeChain) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CodeErr != nil {
		return nil, f.CodeErr
	}
	return f.code[contract], nil
}

func (f *FakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if call.To == nil || len(call.Data) < 4 {
		return nil, errors.New("malformed call")
	}

	key := handlerKey(*call.To, call.Data[:4])
	f.mu.Lock()
	h, ok := f.handlers[key]
	f.calls[key]++
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, key)
	}

	args, err := h.method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	out, err := h.fn(args)
	if err != nil {
		return nil, err
	}
	return h.method.Outputs.Pack(out...)
}

func (f *FakeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if f.FeeErr != nil {
		return nil, f.FeeErr
	}
	return new(big.Int).Set(f.Tip), nil
}

func (f *FakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if f.FeeErr != nil {
		return nil, f.FeeErr
	}
	header := &types.Header{Number: big.NewInt(1)}
	if f.BaseFee != nil {
		header.BaseFee = new(big.Int).Set(f.BaseFee)
	}
	return header, nil
}
