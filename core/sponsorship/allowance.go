package sponsorship

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/chainio/aa/paymaster"
)

const (
	resetWindow = 24 * time.Hour

	defaultVerifiedMultiplier = 2
)

// GasAllowanceStatus is the sponsor's view of one user on one chain. Amounts are in wei.
type GasAllowanceStatus struct {
	User    common.Address `json:"user"`
	ChainID int64          `json:"chainId"`

	Remaining  *big.Int `json:"remaining"`
	DailyLimit *big.Int `json:"dailyLimit"`
	UsedToday  *big.Int `json:"usedToday"`

	Verified   bool  `json:"verified"`
	Multiplier int64 `json:"multiplier"`

	ResetAt time.Time `json:"resetAt"`
	// ResetPending is set when the 24h window has elapsed but the contract has not rolled the
	// record over yet. Remaining+UsedToday==DailyLimit only holds when it is false.
	ResetPending bool `json:"resetPending"`

	SponsorActive  bool     `json:"sponsorActive"`
	SponsorDeposit *big.Int `json:"sponsorDeposit"`

	PercentUsed float64   `json:"percentUsed"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

// CanSponsor reports whether a cost in wei fits the allowance and the sponsor's deposit.
func (s *GasAllowanceStatus) CanSponsor(cost *big.Int) bool {
	if s == nil || cost == nil || cost.Sign() < 0 {
		return false
	}
	if s.Remaining == nil || s.Remaining.Sign() <= 0 || !s.SponsorActive {
		return false
	}
	if s.SponsorDeposit == nil || s.SponsorDeposit.Cmp(cost) < 0 {
		return false
	}
	return cost.Cmp(s.Remaining) <= 0
}

// newAllowanceStatus derives the user's allowance from a contract read. Verified users get the
// daily limit multiplied, and a stale record is treated as already reset.
func newAllowanceStatus(user common.Address, chainID int64, state *paymaster.State, now time.Time) *GasAllowanceStatus {
	multiplier := int64(1)
	if state.Record.Verified {
		multiplier = defaultVerifiedMultiplier
		if state.VerifiedMultiplier != nil && state.VerifiedMultiplier.Sign() > 0 && state.VerifiedMultiplier.IsInt64() {
			multiplier = state.VerifiedMultiplier.Int64()
		}
	}

	limit := new(big.Int).Mul(bigOrZero(state.DailyLimit), big.NewInt(multiplier))

	remaining := bigOrZero(state.Remaining)
	if remaining.Sign() < 0 {
		remaining = new(big.Int)
	}
	if remaining.Cmp(limit) > 0 {
		remaining = new(big.Int).Set(limit)
	}
	used := new(big.Int).Sub(limit, remaining)

	lastReset := time.Unix(bigOrZero(state.Record.LastReset).Int64(), 0).UTC()
	resetAt := lastReset.Add(resetWindow)
	resetPending := state.Record.LastReset != nil && state.Record.LastReset.Sign() > 0 && !now.Before(resetAt)
	if resetPending {
		// the next sponsored operation rolls the window over on chain
		used = new(big.Int)
		remaining = new(big.Int).Set(limit)
	}

	return &GasAllowanceStatus{
		User:           user,
		ChainID:        chainID,
		Remaining:      remaining,
		DailyLimit:     limit,
		UsedToday:      used,
		Verified:       state.Record.Verified,
		Multiplier:     multiplier,
		ResetAt:        resetAt,
		ResetPending:   resetPending,
		SponsorActive:  state.Active,
		SponsorDeposit: bigOrZero(state.Deposit),
		PercentUsed:    percent(used, limit),
		FetchedAt:      now,
	}
}

func percent(used, limit *big.Int) float64 {
	if limit.Sign() == 0 {
		return 0
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(used), new(big.Float).SetInt(limit))
	f, _ := ratio.Mul(ratio, big.NewFloat(100)).Float64()
	return f
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// FormatEther renders wei as a decimal ETH amount.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}
