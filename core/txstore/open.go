package txstore

import (
	"fmt"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/storage"
)

// Open returns the store selected by the storage config. The badger driver shares kv with the
// rest of the node.
func Open(cfg config.StorageConfig, kv storage.Storage) (Store, error) {
	switch cfg.Driver {
	case config.StorageDriverBadger, "":
		if kv == nil {
			return nil, fmt.Errorf("badger store requires an open database")
		}
		return NewBadgerStore(kv), nil
	case config.StorageDriverPostgres, config.StorageDriverMySQL, config.StorageDriverSQLite:
		return OpenSQL(cfg.Driver, cfg.Dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
