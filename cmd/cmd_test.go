package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/auth"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/testutil"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/txstore"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/storage"
)

// seedDB writes a config naming a fresh badger directory and stores recs in it.
func seedDB(t *testing.T, recs ...*model.TransactionRecord) string {
	dir := t.TempDir()
	dbDir := filepath.Join(dir, "db")

	db, err := storage.NewWithPath(dbDir)
	require.NoError(t, err)
	store := txstore.NewBadgerStore(db)
	for _, r := range recs {
		require.NoError(t, store.Put(context.Background(), r))
	}
	require.NoError(t, db.Close())

	path := filepath.Join(dir, "cppay.yaml")
	body := "db_path: " + dbDir + "\njwt_secret: test-secret\nsettlement:\n  retention_age: 24h\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func capture(cmd *cobra.Command) *bytes.Buffer {
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	return &buf
}

func TestStatusCommand(t *testing.T) {
	now := time.Now()
	pending := testutil.TestRecord(now)
	pending.Settlement = model.SettlementPending
	done := testutil.TestRecord(now)
	done.Settlement = model.SettlementCompleted

	c, err := loadOfflineConfig(seedDB(t, pending, done))
	require.NoError(t, err)

	cmd := &cobra.Command{}
	buf := capture(cmd)
	require.NoError(t, runStatus(cmd, c))

	out := buf.String()
	for _, want := range []string{
		"Settlement Status Report",
		"pending          1",
		"completed        1",
		"total            2",
		pending.ID,
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, done.ID, "settled records are not listed as open")
}

func TestInspectCommand(t *testing.T) {
	rec := testutil.TestRecord(time.Now())
	c, err := loadOfflineConfig(seedDB(t, rec))
	require.NoError(t, err)

	cmd := &cobra.Command{}
	buf := capture(cmd)
	require.NoError(t, runInspect(cmd, c, rec.ID, false))

	out := buf.String()
	assert.Contains(t, out, rec.ID)
	assert.Contains(t, out, "Progress:")
	assert.Contains(t, out, string(model.StageInitiated))

	assert.ErrorIs(t, runInspect(cmd, c, "TXN-missing", false), txstore.ErrNotFound)
}

func TestCleanupCommand(t *testing.T) {
	then := time.Now().Add(-72 * time.Hour)
	old := testutil.TestRecord(then)
	require.NoError(t, old.Fail("payout rejected", then))
	fresh := testutil.TestRecord(time.Now())
	require.NoError(t, fresh.Fail("payout rejected", time.Now()))

	c, err := loadOfflineConfig(seedDB(t, old, fresh))
	require.NoError(t, err)

	cmd := &cobra.Command{}
	buf := capture(cmd)
	require.NoError(t, runCleanup(cmd, c))
	assert.Contains(t, buf.String(), "removed 1")

	_, store, closeAll, err := openStore(c)
	require.NoError(t, err)
	defer closeAll()
	_, err = store.Get(context.Background(), old.ID)
	assert.ErrorIs(t, err, txstore.ErrNotFound)
	_, err = store.Get(context.Background(), fresh.ID)
	assert.NoError(t, err)
}

func TestBackupAndRestoreCommands(t *testing.T) {
	rec := testutil.TestRecord(time.Now())
	c, err := loadOfflineConfig(seedDB(t, rec))
	require.NoError(t, err)

	backupTo := t.TempDir()
	cmd := &cobra.Command{}
	buf := capture(cmd)
	require.NoError(t, runBackup(cmd, c.DbPath, backupTo, 0))
	assert.Contains(t, buf.String(), "Backup completed successfully")

	files, err := filepath.Glob(filepath.Join(backupTo, "*", "cppay-backup.db"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	restoreTo := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, runRestore(cmd, restoreTo, files[0]))

	db, err := storage.NewWithPath(restoreTo)
	require.NoError(t, err)
	defer db.Close()
	got, err := txstore.NewBadgerStore(db).Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestCreateApiKey(t *testing.T) {
	config = seedDB(t)
	t.Cleanup(func() { config = "./config/cppay.yaml" })

	apiKeyOption = apiKeyOptions{
		Subject: testutil.TestOwner1.Hex(),
		Roles:   []string{string(auth.AdminRole)},
		TTL:     time.Hour,
	}
	buf := capture(createApiKey)
	require.NoError(t, createApiKey.RunE(createApiKey, nil))

	identity, err := auth.ParseToken([]byte("test-secret"), strings.TrimSpace(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, testutil.TestOwner1, identity.Owner)
	assert.True(t, identity.HasRole(auth.AdminRole))

	apiKeyOption.Subject = "admin"
	assert.Error(t, createApiKey.RunE(createApiKey, nil))
}
