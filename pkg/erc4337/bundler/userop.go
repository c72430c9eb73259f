package bundler

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/userop"
)

// UserOperation is the JSON-RPC wire form: quantities and bytes as 0x-prefixed hex.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

func hexBig(v *big.Int) *hexutil.Big {
	if v == nil {
		return (*hexutil.Big)(new(big.Int))
	}
	return (*hexutil.Big)(new(big.Int).Set(v))
}

func nonNil(b []byte) hexutil.Bytes {
	if b == nil {
		return hexutil.Bytes{}
	}
	return hexutil.Bytes(b)
}

func toWire(op *userop.UserOperation) UserOperation {
	return UserOperation{
		Sender:               op.Sender,
		Nonce:                hexBig(op.Nonce),
		InitCode:             nonNil(op.InitCode),
		CallData:             nonNil(op.CallData),
		CallGasLimit:         hexBig(op.CallGasLimit),
		VerificationGasLimit: hexBig(op.VerificationGasLimit),
		PreVerificationGas:   hexBig(op.PreVerificationGas),
		MaxFeePerGas:         hexBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: hexBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     nonNil(op.PaymasterAndData),
		Signature:            nonNil(op.Signature),
	}
}

// Quantity decodes a numeric field sent either as a hex string or as a plain JSON number.
// Bundlers disagree on which one to use.
type Quantity struct {
	v *big.Int
}

func NewQuantity(v *big.Int) Quantity {
	if v == nil {
		return Quantity{}
	}
	return Quantity{v: new(big.Int).Set(v)}
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		q.v = nil
		return nil
	}

	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	if s == "" {
		q.v = new(big.Int)
		return nil
	}

	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return fmt.Errorf("invalid quantity %q", string(b))
	}
	q.v = v
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	if q.v == nil {
		return []byte("null"), nil
	}
	return []byte(`"` + hexutil.EncodeBig(q.v) + `"`), nil
}

// Big returns a copy of the value, or nil when absent.
func (q Quantity) Big() *big.Int {
	if q.v == nil {
		return nil
	}
	return new(big.Int).Set(q.v)
}
