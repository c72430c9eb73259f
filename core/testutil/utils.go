package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/storage"
)

var (
	TestOwner1 = common.HexToAddress("0xD7050816337a3f8f690F8083B5Ff8019D50c0E50")
	TestOwner2 = common.HexToAddress("0xd8da6bf26964af9d7eed9e03e53415d37aa96045")

	TestTreasury  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	TestPaymaster = common.HexToAddress("0x9748fE3c0Bf3626e5453aE698B87876AC37FF1d9")
	TestUSDT      = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// Shortcut to initialize a storage at the given path, panic if we cannot create db
func TestMustDB() storage.Storage {
	dir, err := os.MkdirTemp("", "cppaytest")
	if err != nil {
		panic(err)
	}

	db, err := storage.NewWithPath(dir)
	if err != nil {
		panic(err)
	}
	return db
}

func GetLogger() sdklogging.Logger {
	logger, err := sdklogging.NewZapLogger("development")
	if err != nil {
		panic(err)
	}
	return logger
}

// GetDefaultCache returns a small cache suitable for tests.
func GetDefaultCache() *bigcache.BigCache {
	config := bigcache.Config{
		// number of shards (must be a power of 2)
		Shards: 16,

		LifeWindow:  10 * time.Minute,
		CleanWindow: 5 * time.Minute,

		// used only in initial memory allocation
		MaxEntriesInWindow: 1000,
		MaxEntrySize:       512,

		HardMaxCacheSize: 64,
	}
	cache, err := bigcache.New(context.Background(), config)
	if err != nil {
		panic(fmt.Errorf("error get default cache for test: %w", err))
	}
	return cache
}

// GetTestConfig returns a config for the Lisk Sepolia testnet with local service urls.
func GetTestConfig() *config.Config {
	return &config.Config{
		Environment: sdklogging.Development,
		Logger:      GetLogger(),
		ServerName:  "cppay-test",
		JwtSecret:   []byte("test-secret"),
		Storage:     config.StorageConfig{Driver: config.StorageDriverBadger},
		SmartWallet: &config.SmartWalletConfig{
			EthRpcUrl:         "http://localhost:8545",
			BundlerUrl:        "http://localhost:4337",
			EntrypointAddress: config.DefaultEntrypointAddress,
			FactoryAddress:    config.DefaultFactoryAddress,
			ChainID:           config.LiskSepoliaChainID,
			TreasuryAddress:   TestTreasury,
		},
		Sponsorship: &config.SponsorshipConfig{
			Paymasters: map[int64]common.Address{config.LiskSepoliaChainID: TestPaymaster},
			CacheTTL:   30 * time.Second,
		},
		Gateway: &config.HTTPServiceConfig{BaseURL: "http://localhost:9001", Secret: "sk_test", Timeout: 5 * time.Second},
		Backend: &config.HTTPServiceConfig{BaseURL: "http://localhost:9002", Timeout: 5 * time.Second},
		Orchestrator: &config.OrchestratorConfig{
			ConfirmationTimeout: 2 * time.Second,
			PollInterval:        10 * time.Millisecond,
			DefaultGasFee:       decimal.RequireFromString("0.0001"),
			FiatCurrency:        "NGN",
			SlippageBps:         100,
			MaxRetries:          3,
			Tokens: []config.TokenConfig{
				{Symbol: "ETH", Decimals: 18},
				{Symbol: "USDT", Address: TestUSDT, Decimals: 6, Stable: true},
			},
		},
		Settlement: &config.SettlementConfig{
			SweepInterval:     time.Second,
			ConfirmationDelay: 30 * time.Second,
			MaxRetries:        3,
			RetentionAge:      720 * time.Hour,
			CleanupInterval:   time.Hour,
			Concurrency:       4,
		},
	}
}

func TestBankTransfer() model.Detail {
	return model.Detail{
		Kind: model.KindBankTransfer,
		BankTransfer: &model.BankTransferDetail{
			AccountNumber: "0123456789",
			BankCode:      "058",
			AccountName:   "Ada Obi",
			Narration:     "rent",
		},
	}
}

// TestRecord returns a bank transfer record that has been funded on chain.
func TestRecord(now time.Time) *model.TransactionRecord {
	rec := model.NewTransactionRecord(TestOwner1, config.LiskSepoliaChainID, TestBankTransfer(), now)
	rec.SourceToken = "USDT"
	rec.FiatAmount = decimal.NewFromInt(2500)
	rec.FiatCurrency = "NGN"
	rec.ExchangeRate = decimal.NewFromInt(1500)
	rec.CryptoAmount = decimal.RequireFromString("1.666667")
	rec.TotalRequired = rec.CryptoAmount
	rec.SourceAmount = decimal.NewFromInt(1666667)
	return rec
}
