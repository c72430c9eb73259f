package builder

import "math/big"

const DefaultSlippageBps = 100

// MinOutPolicy decides the least a swap may return before it reverts.
type MinOutPolicy interface {
	MinOut(expected *big.Int) *big.Int
}

// SlippagePolicy accepts up to Bps basis points less than expected.
type SlippagePolicy struct {
	Bps int64
}

func (p SlippagePolicy) MinOut(expected *big.Int) *big.Int {
	if expected == nil || expected.Sign() <= 0 {
		return new(big.Int)
	}
	bps := p.Bps
	if bps < 0 {
		bps = 0
	}
	if bps > 10_000 {
		bps = 10_000
	}
	out := new(big.Int).Mul(expected, big.NewInt(10_000-bps))
	return out.Div(out, big.NewInt(10_000))
}
