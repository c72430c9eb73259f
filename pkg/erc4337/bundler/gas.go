package bundler

import "math/big"

// Conservative limits used whenever the bundler cannot estimate an operation. They are sized for a
// smart wallet execute() wrapping a token transfer or a router call.
var (
	DEFAULT_CALL_GAS_LIMIT            = big.NewInt(200000)
	DEFAULT_VERIFICATION_GAS_LIMIT    = big.NewInt(1000000)
	DEFAULT_PREVERIFICATION_GAS       = big.NewInt(50000)
	DEPLOYMENT_VERIFICATION_GAS_LIMIT = big.NewInt(3000000)
)

type GasEstimation struct {
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int
	// Defaulted is set when the values come from the fallback constants.
	Defaulted bool
}

// DefaultGasEstimation returns the fallback limits. Deploying accounts need the larger
// verification budget.
func DefaultGasEstimation(deploying bool) *GasEstimation {
	verification := DEFAULT_VERIFICATION_GAS_LIMIT
	if deploying {
		verification = DEPLOYMENT_VERIFICATION_GAS_LIMIT
	}
	return &GasEstimation{
		PreVerificationGas:   new(big.Int).Set(DEFAULT_PREVERIFICATION_GAS),
		VerificationGasLimit: new(big.Int).Set(verification),
		CallGasLimit:         new(big.Int).Set(DEFAULT_CALL_GAS_LIMIT),
		Defaulted:            true,
	}
}

// complete fills any missing or zero field from the defaults.
func (g *GasEstimation) complete(deploying bool) *GasEstimation {
	d := DefaultGasEstimation(deploying)
	if g.PreVerificationGas == nil || g.PreVerificationGas.Sign() <= 0 {
		g.PreVerificationGas = d.PreVerificationGas
	}
	if g.VerificationGasLimit == nil || g.VerificationGasLimit.Sign() <= 0 {
		g.VerificationGasLimit = d.VerificationGasLimit
	}
	if g.CallGasLimit == nil || g.CallGasLimit.Sign() <= 0 {
		g.CallGasLimit = d.CallGasLimit
	}
	return g
}
