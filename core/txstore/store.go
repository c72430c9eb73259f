// Package txstore persists transaction records. The engine only depends on Store, so records can
// live in the embedded badger database, in memory for tests, or in a SQL database.
package txstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

var ErrNotFound = errors.New("transaction record not found")

type Store interface {
	Get(ctx context.Context, id string) (*model.TransactionRecord, error)
	// Put inserts or replaces a record.
	Put(ctx context.Context, rec *model.TransactionRecord) error
	// PutAll writes every record or none of them.
	PutAll(ctx context.Context, recs ...*model.TransactionRecord) error
	// ListByStatus returns records in any of the settlement statuses, oldest first. No status
	// means every record.
	ListByStatus(ctx context.Context, statuses ...model.SettlementStatus) ([]*model.TransactionRecord, error)
	Delete(ctx context.Context, id string) error
}

func statusesOrAll(statuses []model.SettlementStatus) []model.SettlementStatus {
	if len(statuses) == 0 {
		return model.SettlementStatuses
	}
	return statuses
}

func sortByCreation(recs []*model.TransactionRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}

func checkRecords(recs []*model.TransactionRecord) error {
	for _, rec := range recs {
		if rec == nil || rec.ID == "" {
			return fmt.Errorf("cannot store a record without id")
		}
	}
	return nil
}
