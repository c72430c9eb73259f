package txstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

// MemoryStore keeps records in a map. Records are cloned on the way in and out so callers never
// share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*model.TransactionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*model.TransactionRecord{}}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, rec *model.TransactionRecord) error {
	return s.PutAll(ctx, rec)
}

func (s *MemoryStore) PutAll(ctx context.Context, recs ...*model.TransactionRecord) error {
	if err := checkRecords(recs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.records[rec.ID] = rec.Clone()
	}
	return nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, statuses ...model.SettlementStatus) ([]*model.TransactionRecord, error) {
	wanted := statusesOrAll(statuses)

	s.mu.RLock()
	out := make([]*model.TransactionRecord, 0)
	for _, rec := range s.records {
		if lo.Contains(wanted, rec.Settlement) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sortByCreation(out)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.records, id)
	return nil
}
