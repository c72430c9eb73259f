package migrations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/testutil"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/txstore"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/storage/schema"
)

func TestRebuildTransactionIndex(t *testing.T) {
	db := testutil.TestMustDB()
	defer db.Close()

	now := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

	// an interrupted move left the record under both the pending and the completed prefix
	stale := testutil.TestRecord(now)
	stale.Settlement = model.SettlementPending
	latest := stale.Clone()
	latest.Settlement = model.SettlementCompleted
	latest.UpdatedAt = now.Add(time.Minute)

	staleData, err := stale.ToJSON()
	require.NoError(t, err)
	latestData, err := latest.ToJSON()
	require.NoError(t, err)
	require.NoError(t, db.Set(schema.TransactionStorageKey(stale.ID, stale.Settlement), staleData))
	require.NoError(t, db.Set(schema.TransactionStorageKey(latest.ID, latest.Settlement), latestData))

	// a record written before the index existed
	unindexed := testutil.TestRecord(now)
	unindexed.Settlement = model.SettlementScheduled
	data, err := unindexed.ToJSON()
	require.NoError(t, err)
	require.NoError(t, db.Set(schema.TransactionStorageKey(unindexed.ID, unindexed.Settlement), data))

	// a healthy record written through the store
	store := txstore.NewBadgerStore(db)
	healthy := testutil.TestRecord(now)
	require.NoError(t, store.Put(context.Background(), healthy))

	// an index entry whose record is gone
	require.NoError(t, db.Set(schema.TransactionIndexKey("TXN-GONE"), []byte("tx:p:TXN-GONE")))

	updated, err := RebuildTransactionIndex(db)
	require.NoError(t, err)
	assert.Equal(t, 3, updated)

	got, err := store.Get(context.Background(), latest.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementCompleted, got.Settlement)
	exists, err := db.Exist(schema.TransactionStorageKey(stale.ID, model.SettlementPending))
	require.NoError(t, err)
	assert.False(t, exists)

	got, err = store.Get(context.Background(), unindexed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementScheduled, got.Settlement)

	_, err = store.Get(context.Background(), healthy.ID)
	require.NoError(t, err)

	exists, err = db.Exist(schema.TransactionIndexKey("TXN-GONE"))
	require.NoError(t, err)
	assert.False(t, exists)

	// running again finds nothing to do
	updated, err = RebuildTransactionIndex(db)
	require.NoError(t, err)
	assert.Zero(t, updated)
}
