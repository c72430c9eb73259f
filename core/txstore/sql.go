package txstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

// transactionRow is the relational shape of a record. Only the columns the engine filters on are
// broken out; the rest of the record lives in Payload.
type transactionRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	Owner      string `gorm:"size:42;index"`
	Settlement string `gorm:"size:32;index"`
	Stage      string `gorm:"size:32"`
	Payload    []byte `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (transactionRow) TableName() string {
	return "transaction_records"
}

type SQLStore struct {
	db *gorm.DB
}

// OpenSQL connects to postgres, mysql or sqlite and migrates the records table.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	return NewSQLStore(db)
}

func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&transactionRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate transaction_records: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*model.TransactionRecord, error) {
	var row transactionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRow(&row)
}

func (s *SQLStore) Put(ctx context.Context, rec *model.TransactionRecord) error {
	return s.PutAll(ctx, rec)
}

// PutAll upserts the records inside one SQL transaction.
func (s *SQLStore) PutAll(ctx context.Context, recs ...*model.TransactionRecord) error {
	if err := checkRecords(recs); err != nil {
		return err
	}

	rows := make([]transactionRow, 0, len(recs))
	for _, rec := range recs {
		payload, err := rec.ToJSON()
		if err != nil {
			return err
		}
		rows = append(rows, transactionRow{
			ID:         rec.ID,
			Owner:      rec.Owner.Hex(),
			Settlement: string(rec.Settlement),
			Stage:      string(rec.Stage),
			Payload:    payload,
			CreatedAt:  rec.CreatedAt,
			UpdatedAt:  rec.UpdatedAt,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) ListByStatus(ctx context.Context, statuses ...model.SettlementStatus) ([]*model.TransactionRecord, error) {
	wanted := make([]string, 0, len(statuses))
	for _, status := range statusesOrAll(statuses) {
		wanted = append(wanted, string(status))
	}

	var rows []transactionRow
	err := s.db.WithContext(ctx).
		Where("settlement IN ?", wanted).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]*model.TransactionRecord, 0, len(rows))
	for i := range rows {
		rec, err := decodeRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortByCreation(out)
	return out, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&transactionRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func decodeRow(row *transactionRow) (*model.TransactionRecord, error) {
	rec := &model.TransactionRecord{}
	if err := rec.FromStorageData(row.Payload); err != nil {
		return nil, fmt.Errorf("corrupted record %s: %w", row.ID, err)
	}
	return rec, nil
}
