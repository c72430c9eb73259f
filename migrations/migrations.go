package migrations

import (
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/migrator"
)

// Migrations are applied in order on startup. Names are recorded in the key-value store, so prefix
// them with a YYYYMMDD-HHMMSS timestamp and never rename one that has shipped.
var Migrations = []migrator.Migration{
	{
		Name:     "20251002-091500-rebuild-transaction-index",
		Function: RebuildTransactionIndex,
	},
}
