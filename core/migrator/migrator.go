package migrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/backup"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/storage"
)

// MigrationFunc performs one migration and returns the number of records it touched.
type MigrationFunc func(db storage.Storage) (int, error)

type Migration struct {
	Name     string
	Function MigrationFunc
}

// Migrator applies each migration at most once and records it under migration:<name>.
type Migrator struct {
	db         storage.Storage
	migrations []Migration
	backup     *backup.Service
	logger     logger.Logger
	mu         sync.Mutex
}

// NewMigrator creates a migrator. backup may be nil, in which case no snapshot is taken before running.
func NewMigrator(db storage.Storage, backup *backup.Service, migrations []Migration, l logger.Logger) *Migrator {
	return &Migrator{
		db:         db,
		migrations: append([]Migration(nil), migrations...),
		backup:     backup,
		logger:     logger.EnsureLogger(l),
	}
}

func (m *Migrator) Register(name string, fn MigrationFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.migrations = append(m.migrations, Migration{
		Name:     name,
		Function: fn,
	})
}

func migrationKey(name string) []byte {
	return []byte(fmt.Sprintf("migration:%s", name))
}

func (m *Migrator) applied(name string) bool {
	exists, err := m.db.Exist(migrationKey(name))
	return err == nil && exists
}

// Pending returns the names of migrations that have not been applied yet, in registration order.
func (m *Migrator) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []string
	for _, migration := range m.migrations {
		if !m.applied(migration.Name) {
			pending = append(pending, migration.Name)
		}
	}
	return pending
}

// Run executes every migration that hasn't run yet. A backup is taken first when anything is pending.
func (m *Migrator) Run(ctx context.Context) error {
	pending := m.Pending()
	if len(pending) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backup != nil {
		m.logger.Info("pending migrations found, creating database backup", "count", len(pending))
		backupFile, err := m.backup.PerformBackup(ctx)
		if err != nil {
			return fmt.Errorf("failed to create backup before migrations: %w", err)
		}
		m.logger.Info("database backup created", "file", backupFile)
	}

	for _, migration := range m.migrations {
		if m.applied(migration.Name) {
			m.logger.Debug("migration already applied, skipping", "migration", migration.Name)
			continue
		}

		m.logger.Info("running migration", "migration", migration.Name)
		recordsUpdated, err := migration.Function(m.db)
		if err != nil {
			return fmt.Errorf("migration %s failed: %w", migration.Name, err)
		}
		m.logger.Info("migration completed", "migration", migration.Name, "records", recordsUpdated)

		marker := fmt.Sprintf("records=%d,ts=%d", recordsUpdated, time.Now().UnixMilli())
		if err := m.db.Set(migrationKey(migration.Name), []byte(marker)); err != nil {
			return fmt.Errorf("failed to mark migration as complete in database: %w", err)
		}
	}

	return nil
}
