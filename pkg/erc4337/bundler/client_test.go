package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/userop"
)

var entrypoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newRPCServer answers each JSON-RPC method with the handler registered for it. A handler returns
// either a result or an error object.
func newRPCServer(t *testing.T, handlers map[string]func(params []json.RawMessage) (interface{}, map[string]interface{})) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		handler, ok := handlers[req.Method]
		if !ok {
			resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
		} else {
			result, rpcErr := handler(req.Params)
			if rpcErr != nil {
				resp["error"] = rpcErr
			} else {
				resp["result"] = result
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func signedOp() *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6"),
		Nonce:                big.NewInt(1),
		CallData:             []byte{0xb6, 0x1d, 0x27, 0xf6},
		CallGasLimit:         big.NewInt(1),
		VerificationGasLimit: big.NewInt(1),
		PreVerificationGas:   big.NewInt(1),
		MaxFeePerGas:         big.NewInt(1),
		MaxPriorityFeePerGas: big.NewInt(1),
		Signature:            make([]byte, 65),
	}
}

func TestSendUserOperation(t *testing.T) {
	var gotEntrypoint string
	var gotOp UserOperation
	srv := newRPCServer(t, map[string]func([]json.RawMessage) (interface{}, map[string]interface{}){
		"eth_sendUserOperation": func(params []json.RawMessage) (interface{}, map[string]interface{}) {
			require.Len(t, params, 2)
			require.NoError(t, json.Unmarshal(params[0], &gotOp))
			require.NoError(t, json.Unmarshal(params[1], &gotEntrypoint))
			return "0xabc123", nil
		},
	})
	defer srv.Close()

	bc, err := NewBundlerClient(srv.URL, entrypoint)
	require.NoError(t, err)
	defer bc.Close()

	hash, err := bc.SendUserOperation(context.Background(), signedOp())
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", hash)
	assert.Equal(t, entrypoint.Hex(), gotEntrypoint)
	assert.Equal(t, signedOp().Sender, gotOp.Sender)
	assert.Equal(t, "0x1", gotOp.Nonce.String())
}

func TestSendUserOperationRejectsUnsigned(t *testing.T) {
	bc, err := NewBundlerClient("http://127.0.0.1:1", entrypoint)
	require.NoError(t, err)

	op := signedOp()
	op.Signature = nil
	_, err = bc.SendUserOperation(context.Background(), op)

	var relayErr *RelayError
	require.True(t, errors.As(err, &relayErr))
	assert.ErrorIs(t, err, userop.ErrUnsigned)
}

func TestSendUserOperationTranslatesBundlerError(t *testing.T) {
	srv := newRPCServer(t, map[string]func([]json.RawMessage) (interface{}, map[string]interface{}){
		"eth_sendUserOperation": func(params []json.RawMessage) (interface{}, map[string]interface{}) {
			return nil, map[string]interface{}{"code": -32500, "message": "AA25 invalid account nonce"}
		},
	})
	defer srv.Close()

	bc, err := NewBundlerClient(srv.URL, entrypoint)
	require.NoError(t, err)

	_, err = bc.SendUserOperation(context.Background(), signedOp())
	var relayErr *RelayError
	require.True(t, errors.As(err, &relayErr))
	assert.Equal(t, -32500, relayErr.Code)
	assert.Contains(t, relayErr.Message, "AA25 invalid account nonce")
	assert.False(t, relayErr.Transport)
	assert.True(t, IsNonceError(err))
}

func TestEstimateUserOperationGas(t *testing.T) {
	var gotSig string
	srv := newRPCServer(t, map[string]func([]json.RawMessage) (interface{}, map[string]interface{}){
		"eth_estimateUserOperationGas": func(params []json.RawMessage) (interface{}, map[string]interface{}) {
			var op map[string]interface{}
			require.NoError(t, json.Unmarshal(params[0], &op))
			gotSig = op["signature"].(string)
			// one bundler answers with hex, another with a plain number
			return map[string]interface{}{
				"preVerificationGas":   "0xc350",
				"verificationGasLimit": 150000,
				"callGasLimit":         "0x11170",
			}, nil
		},
	})
	defer srv.Close()

	bc, err := NewBundlerClient(srv.URL, entrypoint)
	require.NoError(t, err)

	op := signedOp()
	op.Signature = nil
	est, err := bc.EstimateUserOperationGas(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(50000), est.PreVerificationGas)
	assert.Equal(t, big.NewInt(150000), est.VerificationGasLimit)
	assert.Equal(t, big.NewInt(70000), est.CallGasLimit)
	assert.NotEqual(t, "0x", gotSig, "estimation must carry a dummy signature")
}

func TestEstimateOrDefaultFallsBack(t *testing.T) {
	srv := newRPCServer(t, map[string]func([]json.RawMessage) (interface{}, map[string]interface{}){
		"eth_estimateUserOperationGas": func(params []json.RawMessage) (interface{}, map[string]interface{}) {
			return nil, map[string]interface{}{"code": -32602, "message": "AA23 reverted"}
		},
	})
	defer srv.Close()

	bc, err := NewBundlerClient(srv.URL, entrypoint)
	require.NoError(t, err)

	op := signedOp()
	est := bc.EstimateOrDefault(context.Background(), op)
	assert.True(t, est.Defaulted)
	assert.Equal(t, DEFAULT_VERIFICATION_GAS_LIMIT, est.VerificationGasLimit)

	op.InitCode = []byte{1}
	est = bc.EstimateOrDefault(context.Background(), op)
	assert.Equal(t, DEPLOYMENT_VERIFICATION_GAS_LIMIT, est.VerificationGasLimit)
}

func TestEstimateOrDefaultUnreachableBundler(t *testing.T) {
	bc, err := NewBundlerClient("http://127.0.0.1:1", entrypoint)
	require.NoError(t, err)

	est := bc.EstimateOrDefault(context.Background(), signedOp())
	require.NotNil(t, est)
	assert.Equal(t, DEFAULT_CALL_GAS_LIMIT, est.CallGasLimit)
	assert.Equal(t, DEFAULT_PREVERIFICATION_GAS, est.PreVerificationGas)
}

func TestGetUserOperationReceipt(t *testing.T) {
	srv := newRPCServer(t, map[string]func([]json.RawMessage) (interface{}, map[string]interface{}){
		"eth_getUserOperationReceipt": func(params []json.RawMessage) (interface{}, map[string]interface{}) {
			var hash string
			require.NoError(t, json.Unmarshal(params[0], &hash))
			if hash == "0xpending" {
				return nil, nil
			}
			return map[string]interface{}{
				"userOpHash":    "0x0000000000000000000000000000000000000000000000000000000000000001",
				"success":       true,
				"actualGasCost": "0x10",
				"receipt": map[string]interface{}{
					"transactionHash": "0x00000000000000000000000000000000000000000000000000000000000000ff",
					"blockNumber":     "0x1",
				},
			}, nil
		},
	})
	defer srv.Close()

	bc, err := NewBundlerClient(srv.URL, entrypoint)
	require.NoError(t, err)

	res, err := bc.PollStatus(context.Background(), "0xpending")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)

	res, err = bc.PollStatus(context.Background(), "0xdone")
	require.NoError(t, err)
	assert.Equal(t, StatusIncluded, res.Status)
	assert.Equal(t, common.HexToHash("0xff").Hex(), res.TransactionHash)
	assert.Equal(t, big.NewInt(16), res.ActualGasCost)
}
