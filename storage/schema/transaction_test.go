package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

func TestStatusPrefixesAreDistinct(t *testing.T) {
	seen := map[string]model.SettlementStatus{}
	for _, s := range model.SettlementStatuses {
		p := string(TransactionByStatusStoragePrefix(s))
		_, dup := seen[p]
		assert.False(t, dup, "prefix %s reused by %s", p, s)
		seen[p] = s
	}
}

func TestTransactionStorageKey(t *testing.T) {
	key := TransactionStorageKey("TXN-1-ABCDEFGHJ", model.SettlementFiatSent)
	assert.Equal(t, "tx:t:TXN-1-ABCDEFGHJ", string(key))
	assert.Equal(t, "TXN-1-ABCDEFGHJ", TransactionIDFromStorageKey(key))
	assert.Empty(t, TransactionIDFromStorageKey([]byte("bogus")))
}
