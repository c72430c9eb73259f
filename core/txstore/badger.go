package txstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/storage"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/storage/schema"
)

// BadgerStore keeps each record under tx:<status>:<id> plus an id index, so a status change moves
// the record to another prefix in the same transaction.
type BadgerStore struct {
	db storage.Storage
	// guards the index read-modify-write in Put and Delete
	mu sync.Mutex
}

func NewBadgerStore(db storage.Storage) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) currentKey(id string) ([]byte, error) {
	key, err := s.db.GetKey(schema.TransactionIndexKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return key, err
}

func (s *BadgerStore) Get(ctx context.Context, id string) (*model.TransactionRecord, error) {
	key, err := s.currentKey(id)
	if err != nil {
		return nil, err
	}

	data, err := s.db.GetKey(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rec := &model.TransactionRecord{}
	if err := rec.FromStorageData(data); err != nil {
		return nil, fmt.Errorf("corrupted record %s: %w", id, err)
	}
	return rec, nil
}

func (s *BadgerStore) Put(ctx context.Context, rec *model.TransactionRecord) error {
	return s.PutAll(ctx, rec)
}

// PutAll moves every record to the key of its status in a single badger transaction.
func (s *BadgerStore) PutAll(ctx context.Context, recs ...*model.TransactionRecord) error {
	if err := checkRecords(recs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sets := make(map[string][]byte, 2*len(recs))
	var deletes [][]byte
	for _, rec := range recs {
		data, err := rec.ToJSON()
		if err != nil {
			return err
		}

		newKey := schema.TransactionStorageKey(rec.ID, rec.Settlement)
		oldKey, err := s.currentKey(rec.ID)
		switch {
		case err == nil:
			if !bytes.Equal(oldKey, newKey) {
				deletes = append(deletes, oldKey)
			}
		case errors.Is(err, ErrNotFound):
		default:
			return err
		}

		sets[string(newKey)] = data
		sets[string(schema.TransactionIndexKey(rec.ID))] = newKey
	}
	return s.db.Update(sets, deletes)
}

func (s *BadgerStore) ListByStatus(ctx context.Context, statuses ...model.SettlementStatus) ([]*model.TransactionRecord, error) {
	out := make([]*model.TransactionRecord, 0)
	for _, status := range statusesOrAll(statuses) {
		items, err := s.db.GetByPrefix(schema.TransactionByStatusStoragePrefix(status))
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			rec := &model.TransactionRecord{}
			if err := rec.FromStorageData(item.Value); err != nil {
				return nil, fmt.Errorf("corrupted record at %s: %w", item.Key, err)
			}
			out = append(out, rec)
		}
	}

	sortByCreation(out)
	return out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.currentKey(id)
	if err != nil {
		return err
	}
	return s.db.Update(nil, [][]byte{key, schema.TransactionIndexKey(id)})
}

// CountByStatus counts records without decoding them.
func (s *BadgerStore) CountByStatus(statuses ...model.SettlementStatus) (int64, error) {
	prefixes := make([][]byte, 0, len(statuses))
	for _, status := range statusesOrAll(statuses) {
		prefixes = append(prefixes, schema.TransactionByStatusStoragePrefix(status))
	}
	return s.db.CountKeysByPrefixes(prefixes)
}
