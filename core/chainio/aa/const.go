package aa

import (
	"github.com/ethereum/go-ethereum/common"
)

// v0.6 EntryPoint and the SimpleAccountFactory every payer wallet is deployed from.
var (
	EntrypointAddress = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	factoryAddress    = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
)

// Configure points the package at a deployment. A zero address leaves the current value.
func Configure(factory, entrypoint common.Address) {
	if factory != (common.Address{}) {
		factoryAddress = factory
	}
	if entrypoint != (common.Address{}) {
		EntrypointAddress = entrypoint
	}
}

func FactoryAddress() common.Address {
	return factoryAddress
}
