package bundler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// RelayError is the single error type surfaced for bundler failures. Message carries the upstream
// text verbatim so it can be shown on the transaction record.
type RelayError struct {
	Method  string
	Code    int
	Message string
	// Transport is true when the bundler could not be reached or answered with a non JSON-RPC error.
	Transport bool
	err       error
}

func (e *RelayError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("bundler %s failed (code %d): %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("bundler %s failed: %s", e.Method, e.Message)
}

func (e *RelayError) Unwrap() error {
	return e.err
}

func wrapRelayError(method string, err error) error {
	if err == nil {
		return nil
	}

	var existing *RelayError
	if errors.As(err, &existing) {
		return existing
	}

	relayErr := &RelayError{Method: method, Message: err.Error(), err: err}

	var rpcErr rpc.Error
	var httpErr rpc.HTTPError
	switch {
	case errors.As(err, &rpcErr):
		relayErr.Code = rpcErr.ErrorCode()
	case errors.As(err, &httpErr):
		relayErr.Code = httpErr.StatusCode
		relayErr.Transport = true
		if len(httpErr.Body) > 0 {
			relayErr.Message = string(httpErr.Body)
		}
	default:
		relayErr.Transport = true
	}
	return relayErr
}

// IsNonceError reports whether the bundler rejected the operation for an invalid nonce (AA25).
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "aa25") || strings.Contains(msg, "invalid account nonce")
}
