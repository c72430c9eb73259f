package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

const (
	StorageDriverBadger   = "badger"
	StorageDriverPostgres = "postgres"
	StorageDriverMySQL    = "mysql"
	StorageDriverSQLite   = "sqlite"
)

// Config contains all of the configuration of the cppay engine, resolved from the YAML file with
// defaults applied.
type Config struct {
	Environment sdklogging.LogLevel
	Logger      sdklogging.Logger

	DbPath         string
	BackupDir      string
	BackupInterval time.Duration
	Storage        StorageConfig

	HttpBindAddress string
	JwtSecret       []byte
	SentryDsn       string
	ServerName      string

	SmartWallet  *SmartWalletConfig
	Sponsorship  *SponsorshipConfig
	Gateway      *HTTPServiceConfig
	Backend      *HTTPServiceConfig
	Orchestrator *OrchestratorConfig
	Settlement   *SettlementConfig
}

type StorageConfig struct {
	Driver string
	Dsn    string
}

type SmartWalletConfig struct {
	EthRpcUrl         string
	BundlerUrl        string
	EntrypointAddress common.Address
	FactoryAddress    common.Address
	ChainID           int64
	TreasuryAddress   common.Address
	SignerMnemonic    string
}

type SponsorshipConfig struct {
	// Paymasters maps chain id to the sponsor contract. Chains missing from the map are never
	// sponsored.
	Paymasters          map[int64]common.Address
	CacheTTL            time.Duration
	LowBalanceThreshold *big.Int
	Policy              string
}

type HTTPServiceConfig struct {
	BaseURL string
	Secret  string
	Timeout time.Duration
}

type TokenConfig struct {
	Symbol   string
	Address  common.Address
	Decimals int32
	Stable   bool
}

type OrchestratorConfig struct {
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	DefaultGasFee       decimal.Decimal
	FiatCurrency        string
	SlippageBps         int64
	MaxRetries          int
	Tokens              []TokenConfig
}

// Token looks a token up by symbol, case insensitive.
func (c *OrchestratorConfig) Token(symbol string) (TokenConfig, bool) {
	for _, t := range c.Tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return TokenConfig{}, false
}

type SettlementConfig struct {
	SweepInterval     time.Duration
	ConfirmationDelay time.Duration
	MaxRetries        int
	RetentionAge      time.Duration
	CleanupInterval   time.Duration
	Concurrency       int
}

// These are read from configPath
type ConfigRaw struct {
	Environment     sdklogging.LogLevel `yaml:"environment"`
	DbPath          string              `yaml:"db_path"`
	BackupDir       string              `yaml:"backup_dir"`
	BackupInterval  time.Duration       `yaml:"backup_interval"`
	Storage         StorageRaw          `yaml:"storage"`
	HttpBindAddress string              `yaml:"http_bind_address"`
	JwtSecret       string              `yaml:"jwt_secret"`
	SentryDsn       string              `yaml:"sentry_dsn"`
	ServerName      string              `yaml:"server_name"`

	SmartWallet  SmartWalletRaw  `yaml:"smart_wallet"`
	Sponsorship  SponsorshipRaw  `yaml:"sponsorship"`
	Gateway      HTTPServiceRaw  `yaml:"gateway"`
	Backend      HTTPServiceRaw  `yaml:"backend"`
	Orchestrator OrchestratorRaw `yaml:"orchestrator"`
	Settlement   SettlementRaw   `yaml:"settlement"`
}

type StorageRaw struct {
	Driver string `yaml:"driver"`
	Dsn    string `yaml:"dsn"`
}

type SmartWalletRaw struct {
	EthRpcUrl         string `yaml:"eth_rpc_url"`
	BundlerUrl        string `yaml:"bundler_url"`
	EntrypointAddress string `yaml:"entrypoint_address"`
	FactoryAddress    string `yaml:"factory_address"`
	ChainID           int64  `yaml:"chain_id"`
	TreasuryAddress   string `yaml:"treasury_address"`
	SignerMnemonic    string `yaml:"signer_mnemonic"`
}

type SponsorshipRaw struct {
	Paymasters             map[int64]string `yaml:"paymasters"`
	CacheTTL               time.Duration    `yaml:"cache_ttl"`
	LowBalanceThresholdWei string           `yaml:"low_balance_threshold_wei"`
	Policy                 string           `yaml:"policy"`
}

type HTTPServiceRaw struct {
	BaseURL   string        `yaml:"base_url"`
	SecretKey string        `yaml:"secret_key"`
	ApiKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
}

type TokenRaw struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
	Stable   bool   `yaml:"stable"`
}

type OrchestratorRaw struct {
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	DefaultGasFee       string        `yaml:"default_gas_fee"`
	FiatCurrency        string        `yaml:"fiat_currency"`
	SlippageBps         int64         `yaml:"slippage_bps"`
	MaxRetries          int           `yaml:"max_retries"`
	Tokens              []TokenRaw    `yaml:"tokens"`
}

type SettlementRaw struct {
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	ConfirmationDelay time.Duration `yaml:"confirmation_delay"`
	MaxRetries        int           `yaml:"max_retries"`
	RetentionAge      time.Duration `yaml:"retention_age"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	Concurrency       int           `yaml:"concurrency"`
}

// ReadYamlConfig loads path into o.
func ReadYamlConfig(path string, o interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, o); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// NewConfig parses the config file and applies defaults. An empty path yields the defaults, which
// is only useful in tests.
func NewConfig(configFilePath string) (*Config, error) {
	var configRaw ConfigRaw
	if configFilePath != "" {
		if err := ReadYamlConfig(configFilePath, &configRaw); err != nil {
			return nil, err
		}
	}

	if configRaw.Environment == "" {
		configRaw.Environment = sdklogging.Development
	}
	logger, err := sdklogging.NewZapLogger(configRaw.Environment)
	if err != nil {
		return nil, err
	}

	config, err := FromRaw(configRaw)
	if err != nil {
		logger.Error("invalid config", "path", configFilePath, "error", err)
		return nil, err
	}
	config.Logger = logger

	if err := config.validate(); err != nil {
		logger.Error("invalid config", "path", configFilePath, "error", err)
		return nil, err
	}
	return config, nil
}

// FromRaw converts the file representation and fills in defaults. It does not validate.
func FromRaw(raw ConfigRaw) (*Config, error) {
	c := &Config{
		Environment:     raw.Environment,
		DbPath:          withDefault(raw.DbPath, "/tmp/cppay/db"),
		BackupDir:       raw.BackupDir,
		BackupInterval:  raw.BackupInterval,
		HttpBindAddress: withDefault(raw.HttpBindAddress, ":8080"),
		JwtSecret:       []byte(raw.JwtSecret),
		SentryDsn:       raw.SentryDsn,
		ServerName:      withDefault(raw.ServerName, "cppay"),
		Storage: StorageConfig{
			Driver: withDefault(strings.ToLower(raw.Storage.Driver), StorageDriverBadger),
			Dsn:    raw.Storage.Dsn,
		},
	}

	chainID := raw.SmartWallet.ChainID
	if chainID == 0 {
		chainID = LiskSepoliaChainID
	}
	c.SmartWallet = &SmartWalletConfig{
		EthRpcUrl:         raw.SmartWallet.EthRpcUrl,
		BundlerUrl:        raw.SmartWallet.BundlerUrl,
		EntrypointAddress: addressOr(raw.SmartWallet.EntrypointAddress, DefaultEntrypointAddress),
		FactoryAddress:    addressOr(raw.SmartWallet.FactoryAddress, DefaultFactoryAddress),
		ChainID:           chainID,
		TreasuryAddress:   common.HexToAddress(raw.SmartWallet.TreasuryAddress),
		SignerMnemonic:    raw.SmartWallet.SignerMnemonic,
	}

	paymasters := DefaultPaymasters()
	for id, addr := range raw.Sponsorship.Paymasters {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("sponsorship.paymasters[%d]: invalid address %q", id, addr)
		}
		paymasters[id] = common.HexToAddress(addr)
	}
	threshold := new(big.Int).Set(DefaultLowBalanceThreshold)
	if raw.Sponsorship.LowBalanceThresholdWei != "" {
		v, ok := new(big.Int).SetString(raw.Sponsorship.LowBalanceThresholdWei, 10)
		if !ok {
			return nil, fmt.Errorf("sponsorship.low_balance_threshold_wei: invalid amount %q", raw.Sponsorship.LowBalanceThresholdWei)
		}
		threshold = v
	}
	c.Sponsorship = &SponsorshipConfig{
		Paymasters:          paymasters,
		CacheTTL:            durationOr(raw.Sponsorship.CacheTTL, 30*time.Second),
		LowBalanceThreshold: threshold,
		Policy:              raw.Sponsorship.Policy,
	}

	c.Gateway = &HTTPServiceConfig{
		BaseURL: withDefault(raw.Gateway.BaseURL, "https://api.paystack.co"),
		Secret:  raw.Gateway.SecretKey,
		Timeout: durationOr(raw.Gateway.Timeout, 30*time.Second),
	}
	c.Backend = &HTTPServiceConfig{
		BaseURL: raw.Backend.BaseURL,
		Secret:  raw.Backend.ApiKey,
		Timeout: durationOr(raw.Backend.Timeout, 15*time.Second),
	}

	gasFee := decimal.Zero
	if raw.Orchestrator.DefaultGasFee != "" {
		v, err := decimal.NewFromString(raw.Orchestrator.DefaultGasFee)
		if err != nil {
			return nil, fmt.Errorf("orchestrator.default_gas_fee: %w", err)
		}
		gasFee = v
	}
	tokens := make([]TokenConfig, 0, len(raw.Orchestrator.Tokens))
	for _, t := range raw.Orchestrator.Tokens {
		tokens = append(tokens, TokenConfig{
			Symbol:   strings.ToUpper(t.Symbol),
			Address:  common.HexToAddress(t.Address),
			Decimals: t.Decimals,
			Stable:   t.Stable,
		})
	}
	if len(tokens) == 0 {
		tokens = DefaultTokens(chainID)
	}
	c.Orchestrator = &OrchestratorConfig{
		ConfirmationTimeout: durationOr(raw.Orchestrator.ConfirmationTimeout, 5*time.Minute),
		PollInterval:        durationOr(raw.Orchestrator.PollInterval, 10*time.Second),
		DefaultGasFee:       gasFee,
		FiatCurrency:        withDefault(strings.ToUpper(raw.Orchestrator.FiatCurrency), "NGN"),
		SlippageBps:         intOr(raw.Orchestrator.SlippageBps, 100),
		MaxRetries:          int(intOr(int64(raw.Orchestrator.MaxRetries), 3)),
		Tokens:              tokens,
	}

	c.Settlement = &SettlementConfig{
		SweepInterval:     durationOr(raw.Settlement.SweepInterval, 10*time.Second),
		ConfirmationDelay: durationOr(raw.Settlement.ConfirmationDelay, 30*time.Second),
		MaxRetries:        int(intOr(int64(raw.Settlement.MaxRetries), 3)),
		RetentionAge:      durationOr(raw.Settlement.RetentionAge, 30*24*time.Hour),
		CleanupInterval:   durationOr(raw.Settlement.CleanupInterval, time.Hour),
		Concurrency:       int(intOr(int64(raw.Settlement.Concurrency), 4)),
	}

	return c, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.SmartWallet.EthRpcUrl == "" {
		errs = append(errs, errors.New("smart_wallet.eth_rpc_url is required"))
	}
	if c.SmartWallet.BundlerUrl == "" {
		errs = append(errs, errors.New("smart_wallet.bundler_url is required"))
	}
	if c.SmartWallet.TreasuryAddress == (common.Address{}) {
		errs = append(errs, errors.New("smart_wallet.treasury_address is required"))
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if c.Gateway.Secret == "" {
		errs = append(errs, errors.New("gateway.secret_key is required"))
	}
	if len(c.JwtSecret) == 0 {
		errs = append(errs, errors.New("jwt_secret is required"))
	}

	switch c.Storage.Driver {
	case StorageDriverBadger:
		if c.DbPath == "" {
			errs = append(errs, errors.New("db_path is required for the badger driver"))
		}
	case StorageDriverPostgres, StorageDriverMySQL, StorageDriverSQLite:
		if c.Storage.Dsn == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for the %s driver", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	return errors.Join(errs...)
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func intOr(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}

func addressOr(v string, def common.Address) common.Address {
	if v == "" {
		return def
	}
	return common.HexToAddress(v)
}
