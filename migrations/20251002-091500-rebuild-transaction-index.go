package migrations

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/storage"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/storage/schema"
)

type storedRecord struct {
	key    string
	record *model.TransactionRecord
}

// RebuildTransactionIndex makes every record live under exactly one tx:<status>:<id> key that matches
// its settlement status, with txi:<id> pointing at it. Records written before the index existed, or
// left behind by an interrupted status move, are collapsed onto the most recently updated copy.
func RebuildTransactionIndex(db storage.Storage) (int, error) {
	items, err := db.GetByPrefix([]byte("tx:"))
	if err != nil {
		return 0, fmt.Errorf("failed to list transaction records: %w", err)
	}

	byID := make(map[string][]storedRecord)
	for _, item := range items {
		id := schema.TransactionIDFromStorageKey(item.Key)
		if id == "" {
			continue
		}
		rec := &model.TransactionRecord{}
		if err := rec.FromStorageData(item.Value); err != nil {
			return 0, fmt.Errorf("corrupted record at %s: %w", item.Key, err)
		}
		byID[id] = append(byID[id], storedRecord{key: string(item.Key), record: rec})
	}

	updated := 0
	for id, copies := range byID {
		latest := copies[0]
		for _, c := range copies[1:] {
			if c.record.UpdatedAt.After(latest.record.UpdatedAt) {
				latest = c
			}
		}

		wantKey := string(schema.TransactionStorageKey(id, latest.record.Settlement))
		indexed, err := db.GetKey(schema.TransactionIndexKey(id))
		if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
			return updated, err
		}
		if len(copies) == 1 && latest.key == wantKey && string(indexed) == wantKey {
			continue
		}

		data, err := latest.record.ToJSON()
		if err != nil {
			return updated, err
		}
		var deletes [][]byte
		for _, c := range copies {
			if c.key != wantKey {
				deletes = append(deletes, []byte(c.key))
			}
		}
		if err := db.Update(map[string][]byte{
			wantKey:                                data,
			string(schema.TransactionIndexKey(id)): []byte(wantKey),
		}, deletes); err != nil {
			return updated, fmt.Errorf("failed to rewrite record %s: %w", id, err)
		}
		updated++
	}

	// drop index entries whose record no longer exists
	indexKeys, err := db.GetKeyHasPrefix([]byte("txi:"))
	if err != nil {
		return updated, err
	}
	for _, key := range indexKeys {
		id := strings.TrimPrefix(string(key), "txi:")
		if _, ok := byID[id]; ok {
			continue
		}
		if err := db.Delete(key); err != nil {
			return updated, err
		}
		updated++
	}

	return updated, nil
}
