package config

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	LiskChainID        int64 = 1135
	LiskSepoliaChainID int64 = 4202
	BaseChainID        int64 = 8453
	BaseSepoliaChainID int64 = 84532
)

var (
	DefaultEntrypointAddress = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	DefaultFactoryAddress    = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")

	// 5 ETH
	DefaultLowBalanceThreshold = new(big.Int).Mul(big.NewInt(5), big.NewInt(1_000_000_000_000_000_000))
)

var explorers = map[int64]string{
	LiskChainID:        "https://blockscout.lisk.com",
	LiskSepoliaChainID: "https://sepolia-blockscout.lisk.com",
	BaseChainID:        "https://basescan.org",
	BaseSepoliaChainID: "https://sepolia.basescan.org",
}

// DefaultPaymasters returns a fresh copy of the known sponsor deployments.
func DefaultPaymasters() map[int64]common.Address {
	return map[int64]common.Address{
		LiskChainID:        common.HexToAddress("0x2b9a465680814037c6ab39C0CD4E62bA6e3f3FcE"),
		LiskSepoliaChainID: common.HexToAddress("0x9748fE3c0Bf3626e5453aE698B87876AC37FF1d9"),
	}
}

// DefaultTokens lists the tokens accepted when the config file declares none.
func DefaultTokens(chainID int64) []TokenConfig {
	native := TokenConfig{Symbol: "ETH", Decimals: 18}
	switch chainID {
	case LiskChainID:
		return []TokenConfig{
			native,
			{Symbol: "USDT", Address: common.HexToAddress("0x05D032ac25d322df992303dCa074EE7392C117b9"), Decimals: 6, Stable: true},
			{Symbol: "LSK", Address: common.HexToAddress("0xac485391EB2d7D88253a7F1eF18C37f4242D1A24"), Decimals: 18},
		}
	default:
		return []TokenConfig{native}
	}
}

func ExplorerTxURL(chainID int64, txHash string) string {
	base, ok := explorers[chainID]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", base, txHash)
}

func IsMainnet(chainID int64) bool {
	return chainID == LiskChainID || chainID == BaseChainID
}
