package schema

import (
	"fmt"
	"strings"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

// SettlementStatusToStorageKey converts a settlement status to its storage key prefix
// w: awaiting_chain - funds not confirmed on chain yet
// s: scheduled - waiting for the next execution time
// p: pending - confirmed on chain, waiting for the confirmation delay
// r: crypto_received
// f: fiat_processing - payout recipient prepared
// t: fiat_sent - payout initiated with the gateway
// c: completed
// x: failed
// n: cancelled
func SettlementStatusToStorageKey(v model.SettlementStatus) string {
	switch v {
	case model.SettlementScheduled:
		return "s"
	case model.SettlementPending:
		return "p"
	case model.SettlementCryptoReceived:
		return "r"
	case model.SettlementFiatProcessing:
		return "f"
	case model.SettlementFiatSent:
		return "t"
	case model.SettlementCompleted:
		return "c"
	case model.SettlementFailed:
		return "x"
	case model.SettlementCancelled:
		return "n"
	default:
		return "w"
	}
}

// TransactionStorageKey is tx:<status>:<id>. The status in the key lets the processor scan one
// phase without decoding records.
func TransactionStorageKey(id string, status model.SettlementStatus) []byte {
	return []byte(fmt.Sprintf("tx:%s:%s", SettlementStatusToStorageKey(status), id))
}

// TransactionByStatusStoragePrefix returns the storage prefix for all records with the given status
func TransactionByStatusStoragePrefix(status model.SettlementStatus) []byte {
	return []byte(fmt.Sprintf("tx:%s:", SettlementStatusToStorageKey(status)))
}

// TransactionIndexKey maps an id to its current record key.
func TransactionIndexKey(id string) []byte {
	return []byte(fmt.Sprintf("txi:%s", id))
}

// TransactionIDFromStorageKey extracts the id from a tx:<status>:<id> key.
func TransactionIDFromStorageKey(key []byte) string {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}
