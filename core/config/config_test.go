package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
environment: development
db_path: /tmp/cppay-test/db
http_bind_address: ":9090"
jwt_secret: s3cret
storage:
  driver: postgres
  dsn: "host=localhost user=cppay dbname=cppay"
smart_wallet:
  eth_rpc_url: https://rpc.sepolia-api.lisk.com
  bundler_url: https://bundler.example/rpc
  chain_id: 4202
  treasury_address: "0x0000000000000000000000000000000000000bEE"
sponsorship:
  cache_ttl: 45s
  low_balance_threshold_wei: "1000"
  paymasters:
    84532: "0x00000000000000000000000000000000000000AA"
gateway:
  secret_key: sk_test
  timeout: 5s
backend:
  base_url: https://api.cppay.example
orchestrator:
  default_gas_fee: "10"
  tokens:
    - symbol: usdc
      address: "0x0000000000000000000000000000000000000C0C"
      decimals: 6
      stable: true
settlement:
  sweep_interval: 2s
  concurrency: 8
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewConfig(t *testing.T) {
	c, err := NewConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NotNil(t, c.Logger)

	assert.Equal(t, ":9090", c.HttpBindAddress)
	assert.Equal(t, StorageDriverPostgres, c.Storage.Driver)
	assert.Equal(t, LiskSepoliaChainID, c.SmartWallet.ChainID)
	assert.Equal(t, DefaultEntrypointAddress, c.SmartWallet.EntrypointAddress)
	assert.Equal(t, common.HexToAddress("0xbee"), c.SmartWallet.TreasuryAddress)

	assert.Equal(t, 45*time.Second, c.Sponsorship.CacheTTL)
	assert.Equal(t, big.NewInt(1000), c.Sponsorship.LowBalanceThreshold)
	assert.Equal(t, common.HexToAddress("0xaa"), c.Sponsorship.Paymasters[BaseSepoliaChainID])
	assert.Equal(t, DefaultPaymasters()[LiskChainID], c.Sponsorship.Paymasters[LiskChainID])

	assert.Equal(t, 5*time.Second, c.Gateway.Timeout)
	assert.Equal(t, "10", c.Orchestrator.DefaultGasFee.String())
	assert.Equal(t, "NGN", c.Orchestrator.FiatCurrency)
	assert.Equal(t, int64(100), c.Orchestrator.SlippageBps)
	assert.Equal(t, 5*time.Minute, c.Orchestrator.ConfirmationTimeout)

	token, ok := c.Orchestrator.Token("USDC")
	require.True(t, ok)
	assert.True(t, token.Stable)
	assert.Equal(t, int32(6), token.Decimals)

	assert.Equal(t, 2*time.Second, c.Settlement.SweepInterval)
	assert.Equal(t, 8, c.Settlement.Concurrency)
	assert.Equal(t, 3, c.Settlement.MaxRetries)
	assert.Equal(t, time.Hour, c.Settlement.CleanupInterval)
}

func TestNewConfigRejectsMissingFields(t *testing.T) {
	_, err := NewConfig(writeConfig(t, "environment: development\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smart_wallet.eth_rpc_url is required")
	assert.Contains(t, err.Error(), "jwt_secret is required")
}

func TestNewConfigRejectsBadValues(t *testing.T) {
	for name, body := range map[string]string{
		"paymaster address": "sponsorship:\n  paymasters:\n    1: nope\n",
		"gas fee":           "orchestrator:\n  default_gas_fee: ten\n",
		"threshold":         "sponsorship:\n  low_balance_threshold_wei: 1e18\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestFromRawDefaults(t *testing.T) {
	c, err := FromRaw(ConfigRaw{})
	require.NoError(t, err)

	assert.Equal(t, StorageDriverBadger, c.Storage.Driver)
	assert.Equal(t, 30*time.Second, c.Sponsorship.CacheTTL)
	assert.Equal(t, DefaultLowBalanceThreshold, c.Sponsorship.LowBalanceThreshold)
	assert.Equal(t, DefaultTokens(LiskSepoliaChainID), c.Orchestrator.Tokens)
	assert.Equal(t, 10*time.Second, c.Settlement.SweepInterval)
}

func TestExplorerTxURL(t *testing.T) {
	assert.Equal(t, "https://blockscout.lisk.com/tx/0xabc", ExplorerTxURL(LiskChainID, "0xabc"))
	assert.Empty(t, ExplorerTxURL(1, "0xabc"))
}
