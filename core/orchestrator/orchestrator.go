// Package orchestrator drives a payment from the user's request to on-chain confirmation: it prices
// the payment, builds and signs the user operation, submits it to the bundler and waits for it to be
// included before handing the record to the settlement processor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/backend"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/builder"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/gateway"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/sponsorship"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/txstore"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/metrics"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/bundler"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/userop"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/keylock"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
)

var (
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrReverted            = errors.New("operation reverted")
)

// Relay is satisfied by *bundler.BundlerClient.
type Relay interface {
	SendUserOperation(ctx context.Context, op *userop.UserOperation) (string, error)
	AwaitInclusion(ctx context.Context, hash string, timeout, interval time.Duration) bundler.StatusResult
}

// Sponsor is satisfied by *sponsorship.Evaluator.
type Sponsor interface {
	AttachSponsorship(ctx context.Context, op *userop.UserOperation, user common.Address, chainID int64) sponsorship.Decision
	CheckSponsorship(ctx context.Context, user common.Address, cost *big.Int, chainID int64) sponsorship.Decision
	Invalidate(user common.Address, chainID int64)
}

type RecipientVerifier interface {
	VerifyRecipient(ctx context.Context, payee model.BankTransferDetail) (*gateway.Account, error)
}

type Signer interface {
	userop.MessageSigner
	Address() common.Address
}

type Deps struct {
	Store   txstore.Store
	Builder *builder.Builder
	Sponsor Sponsor
	Relay   Relay
	Gateway RecipientVerifier
	Backend backend.API
}

type Orchestrator struct {
	store   txstore.Store
	builder *builder.Builder
	sponsor Sponsor
	relay   Relay
	gateway RecipientVerifier
	backend backend.API

	cfg      *config.OrchestratorConfig
	chainID  int64
	treasury common.Address

	locks   *keylock.KeyedMutex
	metrics *metrics.Metrics
	logger  logger.Logger
	now     func() time.Time

	resolveSender func(ctx context.Context, owner common.Address) (common.Address, error)
}

type Option func(*Orchestrator)

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger.EnsureLogger(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSenderResolver derives the smart account of an owner when a request does not name one.
func WithSenderResolver(fn func(ctx context.Context, owner common.Address) (common.Address, error)) Option {
	return func(o *Orchestrator) { o.resolveSender = fn }
}

func New(cfg *config.OrchestratorConfig, chainID int64, treasury common.Address, deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Store == nil || deps.Builder == nil || deps.Relay == nil || deps.Backend == nil {
		return nil, fmt.Errorf("orchestrator needs a store, builder, relay and backend")
	}
	if cfg == nil {
		return nil, fmt.Errorf("orchestrator config is required")
	}
	if treasury == (common.Address{}) {
		return nil, fmt.Errorf("treasury address is required")
	}

	o := &Orchestrator{
		store:    deps.Store,
		builder:  deps.Builder,
		sponsor:  deps.Sponsor,
		relay:    deps.Relay,
		gateway:  deps.Gateway,
		backend:  deps.Backend,
		cfg:      cfg,
		chainID:  chainID,
		treasury: treasury,
		locks:    keylock.New(),
		logger:   logger.NewNoOpLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// lock serialises flows on one record.
func (o *Orchestrator) lock(ctx context.Context, id string) (func(), error) {
	return o.locks.Lock(ctx, id)
}

func (o *Orchestrator) load(ctx context.Context, id string) (*model.TransactionRecord, error) {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// save persists rec even when the caller's context is already cancelled, so progress made on chain
// is never lost to a dropped client.
func (o *Orchestrator) save(ctx context.Context, rec *model.TransactionRecord) error {
	if err := o.store.Put(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Error("cannot persist transaction", "id", rec.ID, "stage", rec.Stage, "error", err)
		return fmt.Errorf("persist %s: %w", rec.ID, err)
	}
	return nil
}

func (o *Orchestrator) saveAll(ctx context.Context, recs ...*model.TransactionRecord) error {
	if err := o.store.PutAll(context.WithoutCancel(ctx), recs...); err != nil {
		o.logger.Error("cannot persist transactions", "count", len(recs), "error", err)
		return fmt.Errorf("persist %d records: %w", len(recs), err)
	}
	return nil
}

func (o *Orchestrator) advance(ctx context.Context, rec *model.TransactionRecord, stage model.Stage, percent int, message string, detail *model.ProgressDetail) error {
	if err := rec.Append(stage, percent, message, detail, o.now()); err != nil {
		return err
	}
	o.metrics.IncStageTransition(string(stage))
	o.logger.Info("transaction progressed", "id", rec.ID, "stage", stage, "percent", percent, "message", message)
	return o.save(ctx, rec)
}

// fail marks rec FAILED with message. cause is returned to the caller, or a plain error built from
// message when there is none.
func (o *Orchestrator) fail(ctx context.Context, rec *model.TransactionRecord, message string, cause error) error {
	if err := rec.Fail(message, o.now()); err != nil {
		o.logger.Warn("cannot mark transaction failed", "id", rec.ID, "error", err)
	} else {
		o.metrics.IncStageTransition(string(model.StageFailed))
		o.logger.Warn("transaction failed", "id", rec.ID, "reason", message)
		if err := o.save(ctx, rec); err != nil {
			return errors.Join(cause, err)
		}
	}
	if cause == nil {
		return errors.New(message)
	}
	return cause
}

func (o *Orchestrator) token(symbol string) (config.TokenConfig, error) {
	token, ok := o.cfg.Token(symbol)
	if !ok {
		return config.TokenConfig{}, model.NewValidationError("sourceToken", "token %q is not supported", symbol)
	}
	return token, nil
}

func (o *Orchestrator) stableToken() (config.TokenConfig, bool) {
	for _, t := range o.cfg.Tokens {
		if t.Stable {
			return t, true
		}
	}
	return config.TokenConfig{}, false
}

// toBaseUnits converts a token amount to its smallest unit, rounding up so the treasury is never
// short.
func toBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Ceil().BigInt()
}

func (o *Orchestrator) GetTransaction(ctx context.Context, id string) (*model.TransactionRecord, error) {
	return o.load(ctx, id)
}

func (o *Orchestrator) GetCurrentStage(ctx context.Context, id string) (model.Stage, error) {
	rec, err := o.load(ctx, id)
	if err != nil {
		return "", err
	}
	return rec.Stage, nil
}

func (o *Orchestrator) GetProgress(ctx context.Context, id string) (int, error) {
	rec, err := o.load(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.Percent(), nil
}

func (o *Orchestrator) GetProgressLog(ctx context.Context, id string) ([]model.ProgressEntry, error) {
	rec, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Progress, nil
}

func isInvalidRecipient(err error) bool {
	return errors.Is(err, gateway.ErrInvalidRecipient)
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:6] + "..." + h[len(h)-4:]
}

func trimReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "no reason given"
	}
	return reason
}
