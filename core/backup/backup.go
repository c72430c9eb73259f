// Package backup snapshots the badger store to timestamped files and restores them.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/storage"
)

const backupFileName = "cppay-backup.db"

type Service struct {
	logger    logger.Logger
	db        storage.Storage
	backupDir string

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewService(l logger.Logger, db storage.Storage, backupDir string) *Service {
	return &Service{
		logger:    logger.EnsureLogger(l),
		db:        db,
		backupDir: backupDir,
	}
}

// StartPeriodicBackup writes a full backup every interval until StopPeriodicBackup is called.
func (s *Service) StartPeriodicBackup(interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("backup service already running")
	}
	if interval <= 0 {
		return fmt.Errorf("backup interval must be positive, got %v", interval)
	}
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.backupLoop(interval, s.stop, s.done)

	s.logger.Info("started periodic backup", "interval", interval, "dir", s.backupDir)
	return nil
}

func (s *Service) StopPeriodicBackup() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("stopped periodic backup")
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) backupLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if backupFile, err := s.PerformBackup(context.Background()); err != nil {
				s.logger.Error("periodic backup failed", "error", err)
			} else {
				s.logger.Info("periodic backup completed", "file", backupFile)
			}
		case <-stop:
			return
		}
	}
}

// PerformBackup writes a full backup to <dir>/<yy-mm-dd-hh-mm-ss>/cppay-backup.db and returns its path.
func (s *Service) PerformBackup(ctx context.Context) (string, error) {
	timestamp := time.Now().Format("06-01-02-15-04-05")
	backupPath := filepath.Join(s.backupDir, timestamp)

	if err := os.MkdirAll(backupPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup timestamp directory: %w", err)
	}

	backupFile := filepath.Join(backupPath, backupFileName)
	f, err := os.Create(backupFile)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	if _, err := s.db.Backup(ctx, f, 0); err != nil {
		return "", fmt.Errorf("backup operation failed: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("flush backup file: %w", err)
	}

	s.logger.Info("backup completed", "file", backupFile)
	return backupFile, nil
}

// Restore loads a backup file written by PerformBackup into the store.
func (s *Service) Restore(ctx context.Context, backupFile string) error {
	f, err := os.Open(backupFile)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	if err := s.db.Load(ctx, f); err != nil {
		return fmt.Errorf("restore operation failed: %w", err)
	}
	s.logger.Info("restore completed", "file", backupFile)
	return nil
}
