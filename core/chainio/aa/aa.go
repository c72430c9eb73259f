package aa

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

var (
	defaultSalt = big.NewInt(0)

	ErrEmptyBatch = errors.New("batch needs at least one call")
)

// Call is one inner call of a smart account execution.
type Call struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// GetInitCode returns the factory address followed by the createAccount calldata. It deploys the
// owner's account on the first operation.
func GetInitCode(owner common.Address, salt *big.Int) ([]byte, error) {
	return GetInitCodeForFactory(owner, factoryAddress, salt)
}

func GetInitCodeForFactory(owner, factory common.Address, salt *big.Int) ([]byte, error) {
	if salt == nil {
		salt = defaultSalt
	}

	calldata, err := simpleFactoryABI.Pack("createAccount", owner, salt)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, common.AddressLength+len(calldata))
	data = append(data, factory.Bytes()...)
	return append(data, calldata...), nil
}

func call(ctx context.Context, caller bind.ContractCaller, address common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	contract := bind.NewBoundContract(address, parsed, caller, nil, nil)

	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

// GetSenderAddress asks the factory for the counterfactual account address of owner.
func GetSenderAddress(ctx context.Context, caller bind.ContractCaller, owner common.Address, salt *big.Int) (common.Address, error) {
	if salt == nil {
		salt = defaultSalt
	}

	out, err := call(ctx, caller, factoryAddress, simpleFactoryABI, "getAddress", owner, salt)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// GetNonce reads the entrypoint nonce of sender for the given key.
func GetNonce(ctx context.Context, caller bind.ContractCaller, sender common.Address, key *big.Int) (*big.Int, error) {
	return GetNonceFrom(ctx, caller, EntrypointAddress, sender, key)
}

func GetNonceFrom(ctx context.Context, caller bind.ContractCaller, entrypoint, sender common.Address, key *big.Int) (*big.Int, error) {
	if key == nil {
		key = defaultSalt
	}

	out, err := call(ctx, caller, entrypoint, EntrypointABI, "getNonce", sender, key)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// IsDeployed reports whether code exists at the account address.
func IsDeployed(ctx context.Context, caller bind.ContractCaller, account common.Address) (bool, error) {
	code, err := caller.CodeAt(ctx, account, nil)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// PackExecute generates calldata for a single call from the smart account.
func PackExecute(target common.Address, ethValue *big.Int, calldata []byte) ([]byte, error) {
	if ethValue == nil {
		ethValue = new(big.Int)
	}
	if calldata == nil {
		calldata = []byte{}
	}
	return simpleAccountABI.Pack("execute", target, ethValue, calldata)
}

// PackExecuteBatch generates calldata for executeBatch. SimpleAccount's batch entry point
// carries no value, so every call must be value-less.
func PackExecuteBatch(calls []Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, ErrEmptyBatch
	}

	targets := make([]common.Address, len(calls))
	datas := make([][]byte, len(calls))
	for i, c := range calls {
		if c.Value != nil && c.Value.Sign() != 0 {
			return nil, fmt.Errorf("batch call %d carries value, use execute instead", i)
		}
		targets[i] = c.Target
		datas[i] = c.Data
		if datas[i] == nil {
			datas[i] = []byte{}
		}
	}
	return simpleAccountABI.Pack("executeBatch", targets, datas)
}

// PackCalls chooses execute for a single call and executeBatch otherwise.
func PackCalls(calls []Call) ([]byte, error) {
	if len(calls) == 1 {
		return PackExecute(calls[0].Target, calls[0].Value, calls[0].Data)
	}
	return PackExecuteBatch(calls)
}

func PackERC20Transfer(to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("transfer", to, amount)
}

func PackERC20Approve(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("approve", spender, amount)
}
