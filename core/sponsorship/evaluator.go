// Package sponsorship decides whether the sponsor contract pays gas for a user operation.
package sponsorship

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/chainio/aa/paymaster"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/metrics"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/userop"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
)

const (
	DefaultCacheTTL = 30 * time.Second

	ReasonEligible       = "Eligible for gas sponsorship"
	ReasonInactive       = "Paymaster is currently inactive"
	ReasonLowDeposit     = "Paymaster balance too low"
	ReasonPolicyRejected = "Sponsorship policy rejected the operation"
)

var ErrUnsupportedNetwork = errors.New("sponsorship not available on network")

// StateReader is implemented by paymaster.Reader.
type StateReader interface {
	Address() common.Address
	ReadState(ctx context.Context, user common.Address) (*paymaster.State, error)
	SponsorDeposit(ctx context.Context) (*big.Int, error)
}

// Decision is the outcome of a sponsorship check. Denials are decisions, never errors.
type Decision struct {
	CanSponsor bool   `json:"canSponsor"`
	Reason     string `json:"reason"`
}

type Config struct {
	CacheTTL            time.Duration
	LowBalanceThreshold *big.Int
	// Policy is an optional boolean expression over cost, remaining, limit, verified, percentUsed
	// and chainId. Amounts are in ETH.
	Policy string
}

type Evaluator struct {
	readers    map[int64]StateReader
	cache      *bigcache.BigCache
	ttl        time.Duration
	lowBalance *big.Int
	policy     *vm.Program

	now     func() time.Time
	logger  logger.Logger
	metrics *metrics.Metrics
}

type Option func(*Evaluator)

func WithLogger(l logger.Logger) Option {
	return func(e *Evaluator) { e.logger = logger.EnsureLogger(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewReaders binds a sponsor reader for every chain that has both a paymaster and a caller.
func NewReaders(paymasters map[int64]common.Address, callers map[int64]bind.ContractCaller) map[int64]StateReader {
	readers := make(map[int64]StateReader, len(paymasters))
	for chainID, address := range paymasters {
		if caller, ok := callers[chainID]; ok && caller != nil {
			readers[chainID] = paymaster.NewReader(address, caller)
		}
	}
	return readers
}

func NewEvaluator(readers map[int64]StateReader, cache *bigcache.BigCache, cfg Config, opts ...Option) (*Evaluator, error) {
	if cache == nil {
		return nil, errors.New("sponsorship: cache is required")
	}

	e := &Evaluator{
		readers:    readers,
		cache:      cache,
		ttl:        cfg.CacheTTL,
		lowBalance: cfg.LowBalanceThreshold,
		now:        time.Now,
		logger:     logger.NewNoOpLogger(),
	}
	if e.ttl <= 0 {
		e.ttl = DefaultCacheTTL
	}
	if cfg.Policy != "" {
		program, err := expr.Compile(cfg.Policy, expr.Env(policyEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("sponsorship policy: %w", err)
		}
		e.policy = program
	}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Supports reports whether a sponsor is configured for chainID.
func (e *Evaluator) Supports(chainID int64) bool {
	_, ok := e.readers[chainID]
	return ok
}

func cacheKey(user common.Address, chainID int64) string {
	return fmt.Sprintf("gas_remaining:%d:%s", chainID, user.Hex())
}

// GetAllowance returns the user's allowance, from cache when it is younger than the cache TTL.
func (e *Evaluator) GetAllowance(ctx context.Context, user common.Address, chainID int64) (*GasAllowanceStatus, error) {
	reader, ok := e.readers[chainID]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnsupportedNetwork, chainID)
	}

	key := cacheKey(user, chainID)
	if cached, err := e.cache.Get(key); err == nil {
		var status GasAllowanceStatus
		if err := json.Unmarshal(cached, &status); err == nil && e.now().Sub(status.FetchedAt) < e.ttl {
			return &status, nil
		}
	}

	state, err := reader.ReadState(ctx, user)
	if err != nil {
		e.logger.Error("cannot read sponsor state", "user", user.Hex(), "chain", chainID, "error", err)
		return nil, err
	}

	status := newAllowanceStatus(user, chainID, state, e.now())
	if data, err := json.Marshal(status); err == nil {
		if err := e.cache.Set(key, data); err != nil {
			e.logger.Warn("cannot cache gas allowance", "key", key, "error", err)
		}
	}

	if e.lowBalance != nil && status.SponsorDeposit.Cmp(e.lowBalance) < 0 {
		e.logger.Warn("sponsor deposit is low",
			"chain", chainID,
			"paymaster", reader.Address().Hex(),
			"deposit", FormatEther(status.SponsorDeposit))
	}

	return status, nil
}

// Invalidate drops the cached allowance so the next read goes to the contract.
func (e *Evaluator) Invalidate(user common.Address, chainID int64) {
	if err := e.cache.Delete(cacheKey(user, chainID)); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		e.logger.Warn("cannot invalidate gas allowance", "user", user.Hex(), "chain", chainID, "error", err)
	}
}

// CheckSponsorship never fails: read errors, unsupported networks and panics all become a denial
// with a readable reason.
func (e *Evaluator) CheckSponsorship(ctx context.Context, user common.Address, cost *big.Int, chainID int64) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while checking sponsorship", "user", user.Hex(), "chain", chainID, "panic", r)
			d = Decision{Reason: fmt.Sprintf("Error: %v", r)}
		}
		e.metrics.IncSponsorshipDecision(strconv.FormatInt(chainID, 10), d.CanSponsor)
	}()

	if !e.Supports(chainID) {
		return Decision{Reason: fmt.Sprintf("Sponsorship not available on network %d", chainID)}
	}
	if cost == nil || cost.Sign() < 0 {
		return Decision{Reason: "Error: missing gas cost estimate"}
	}

	status, err := e.GetAllowance(ctx, user, chainID)
	if err != nil {
		return Decision{Reason: fmt.Sprintf("Error: %v", err)}
	}

	if !status.SponsorActive {
		return Decision{Reason: ReasonInactive}
	}
	if status.Remaining.Sign() <= 0 || status.Remaining.Cmp(cost) < 0 {
		return Decision{Reason: fmt.Sprintf("Daily limit exceeded. Remaining: %s ETH", FormatEther(status.Remaining))}
	}
	if status.SponsorDeposit.Cmp(cost) < 0 {
		e.logger.Error("sponsor deposit below operation cost",
			"chain", chainID,
			"deposit", FormatEther(status.SponsorDeposit),
			"cost", FormatEther(cost))
		return Decision{Reason: ReasonLowDeposit}
	}
	if e.policy != nil && !e.policyAllows(status, cost) {
		return Decision{Reason: ReasonPolicyRejected}
	}
	if !status.CanSponsor(cost) {
		return Decision{Reason: fmt.Sprintf("Daily limit exceeded. Remaining: %s ETH", FormatEther(status.Remaining))}
	}

	return Decision{CanSponsor: true, Reason: ReasonEligible}
}

// AttachSponsorship sets the paymaster payload on op when the user is eligible and clears it
// otherwise. Any failure, including a sealed op, leaves the user paying for gas.
func (e *Evaluator) AttachSponsorship(ctx context.Context, op *userop.UserOperation, user common.Address, chainID int64) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while attaching sponsorship", "user", user.Hex(), "chain", chainID, "panic", r)
			d = Decision{Reason: fmt.Sprintf("Error: %v", r)}
		}
	}()

	if op == nil {
		return Decision{Reason: "Error: missing operation"}
	}

	d = e.CheckSponsorship(ctx, user, op.MaxGasCost(), chainID)
	if !d.CanSponsor {
		if op.HasPaymaster() {
			_ = op.SetPaymasterAndData(nil)
		}
		e.logger.Info("gas not sponsored", "user", user.Hex(), "chain", chainID, "reason", d.Reason)
		return d
	}

	if err := op.SetPaymasterAndData(e.readers[chainID].Address().Bytes()); err != nil {
		e.logger.Warn("cannot attach paymaster, user pays gas", "user", user.Hex(), "error", err)
		return Decision{Reason: fmt.Sprintf("Error: %v", err)}
	}

	e.logger.Info("gas sponsored", "user", user.Hex(), "chain", chainID, "paymaster", e.readers[chainID].Address().Hex())
	return d
}

type policyEnv struct {
	Cost        float64 `expr:"cost"`
	Remaining   float64 `expr:"remaining"`
	Limit       float64 `expr:"limit"`
	Verified    bool    `expr:"verified"`
	PercentUsed float64 `expr:"percentUsed"`
	ChainID     int64   `expr:"chainId"`
}

func (e *Evaluator) policyAllows(status *GasAllowanceStatus, cost *big.Int) bool {
	env := policyEnv{
		Cost:        weiToEth(cost),
		Remaining:   weiToEth(status.Remaining),
		Limit:       weiToEth(status.DailyLimit),
		Verified:    status.Verified,
		PercentUsed: status.PercentUsed,
		ChainID:     status.ChainID,
	}

	out, err := expr.Run(e.policy, env)
	if err != nil {
		e.logger.Warn("sponsorship policy failed, denying", "error", err)
		return false
	}
	allowed, ok := out.(bool)
	return ok && allowed
}

func weiToEth(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f
}
