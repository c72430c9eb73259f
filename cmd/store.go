package cmd

import (
	"context"
	"fmt"
	"io"

	cfgpkg "github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/txstore"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/storage"
	"github.com/spf13/cobra"
)

// loadOfflineConfig reads the config without the checks that only matter for a running engine, so
// maintenance commands work with a file that only names the database.
func loadOfflineConfig(path string) (*cfgpkg.Config, error) {
	var raw cfgpkg.ConfigRaw
	if path != "" {
		if err := cfgpkg.ReadYamlConfig(path, &raw); err != nil {
			return nil, err
		}
	}
	return cfgpkg.FromRaw(raw)
}

// openStore opens the badger database and the transaction store it is configured with. The
// returned func closes both.
func openStore(c *cfgpkg.Config) (storage.Storage, txstore.Store, func(), error) {
	db, err := storage.NewWithPath(c.DbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database at %s: %w", c.DbPath, err)
	}

	store, err := txstore.Open(c.Storage, db)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	closeAll := func() {
		if closer, ok := store.(io.Closer); ok {
			closer.Close()
		}
		db.Close()
	}
	return db, store, closeAll, nil
}

// commandContext is cmd's context, or a background context when the command is run directly.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
