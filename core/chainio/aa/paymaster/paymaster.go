// Package paymaster reads the sponsor contract that pays gas for eligible users.
package paymaster

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

const sponsorABIJSON = `[
	{"inputs":[{"name":"user","type":"address"}],"name":"remainingDailyGas","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"user","type":"address"}],"name":"userGasRecord","outputs":[{"name":"usedToday","type":"uint256"},{"name":"lastReset","type":"uint256"},{"name":"verified","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"dailyLimit","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"verifiedMultiplier","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"sponsorActive","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"sponsorDeposit","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// SponsorABI is exported so tests can encode contract answers.
var SponsorABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(sponsorABIJSON))
	if err != nil {
		panic(fmt.Errorf("invalid sponsor ABI: %w", err))
	}
	return parsed
}()

// GasRecord is the per user bookkeeping kept by the sponsor contract.
type GasRecord struct {
	UsedToday *big.Int
	LastReset *big.Int
	Verified  bool
}

// State is one consistent read of everything needed to decide on sponsorship.
type State struct {
	Remaining          *big.Int
	Record             GasRecord
	DailyLimit         *big.Int
	VerifiedMultiplier *big.Int
	Active             bool
	Deposit            *big.Int
}

// Reader is a read-only binding to the sponsor contract.
type Reader struct {
	address  common.Address
	contract *bind.BoundContract
}

func NewReader(address common.Address, caller bind.ContractCaller) *Reader {
	return &Reader{
		address:  address,
		contract: bind.NewBoundContract(address, SponsorABI, caller, nil, nil),
	}
}

func (r *Reader) Address() common.Address {
	return r.address
}

func (r *Reader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("sponsor %s: %w", method, err)
	}
	return out, nil
}

func (r *Reader) bigCall(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := r.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (r *Reader) RemainingDailyGas(ctx context.Context, user common.Address) (*big.Int, error) {
	return r.bigCall(ctx, "remainingDailyGas", user)
}

func (r *Reader) UserGasRecord(ctx context.Context, user common.Address) (GasRecord, error) {
	out, err := r.call(ctx, "userGasRecord", user)
	if err != nil {
		return GasRecord{}, err
	}
	return GasRecord{
		UsedToday: *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		LastReset: *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		Verified:  *abi.ConvertType(out[2], new(bool)).(*bool),
	}, nil
}

func (r *Reader) DailyLimit(ctx context.Context) (*big.Int, error) {
	return r.bigCall(ctx, "dailyLimit")
}

func (r *Reader) VerifiedMultiplier(ctx context.Context) (*big.Int, error) {
	return r.bigCall(ctx, "verifiedMultiplier")
}

func (r *Reader) SponsorActive(ctx context.Context) (bool, error) {
	out, err := r.call(ctx, "sponsorActive")
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (r *Reader) SponsorDeposit(ctx context.Context) (*big.Int, error) {
	return r.bigCall(ctx, "sponsorDeposit")
}

// ReadState performs every read for user and stops at the first failure.
func (r *Reader) ReadState(ctx context.Context, user common.Address) (*State, error) {
	var (
		s   State
		err error
	)
	if s.Remaining, err = r.RemainingDailyGas(ctx, user); err != nil {
		return nil, err
	}
	if s.Record, err = r.UserGasRecord(ctx, user); err != nil {
		return nil, err
	}
	if s.DailyLimit, err = r.DailyLimit(ctx); err != nil {
		return nil, err
	}
	if s.VerifiedMultiplier, err = r.VerifiedMultiplier(ctx); err != nil {
		return nil, err
	}
	if s.Active, err = r.SponsorActive(ctx); err != nil {
		return nil, err
	}
	if s.Deposit, err = r.SponsorDeposit(ctx); err != nil {
		return nil, err
	}
	return &s, nil
}
