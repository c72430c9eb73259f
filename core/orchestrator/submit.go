package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/backend"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/builder"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/settlement"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/bundler"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/userop"
)

// SignAndSubmit builds the user operation paying the treasury, attaches sponsorship when the user
// is eligible, signs it and hands it to the bundler. The record ends at SWAP_INITIATED, or FAILED
// when any step fails.
func (o *Orchestrator) SignAndSubmit(ctx context.Context, id string, s Signer) (*model.TransactionRecord, error) {
	unlock, err := o.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.IsTerminal() {
		return rec, fmt.Errorf("%w: %s is %s", model.ErrTerminal, rec.ID, rec.Stage)
	}
	if rec.Stage != model.StageCryptoCalculated {
		return rec, model.NewValidationError("stage", "transaction %s cannot be signed at %s", rec.ID, rec.Stage)
	}
	if s == nil || s.Address() != rec.Owner {
		return rec, model.NewValidationError("signer", "signer does not control %s", rec.Owner.Hex())
	}

	if err := o.advance(ctx, rec, model.StageSigning, model.PercentBuilding, "Building user operation", nil); err != nil {
		return rec, err
	}

	op, err := o.buildOperation(ctx, rec)
	if err != nil {
		return rec, o.fail(ctx, rec, fmt.Sprintf("cannot build user operation: %v", err), err)
	}

	if o.sponsor != nil {
		sponsored, err := o.attachSponsorship(ctx, rec, op)
		if err != nil {
			return rec, o.fail(ctx, rec, fmt.Sprintf("cannot estimate sponsored gas: %v", err), err)
		}
		rec.Sponsored = sponsored
		o.metrics.IncSponsorshipDecision(fmt.Sprint(rec.ChainID), sponsored)
	}

	signed, err := o.builder.Sign(ctx, op, s, rec.ChainID)
	if err != nil {
		return rec, o.fail(ctx, rec, fmt.Sprintf("cannot sign user operation: %v", err), err)
	}

	msg := "User operation signed, user pays gas"
	if rec.Sponsored {
		msg = "User operation signed, gas sponsored"
	}
	if err := o.advance(ctx, rec, model.StageSigning, model.PercentSigned, msg, &model.ProgressDetail{Sponsored: model.Bool(rec.Sponsored)}); err != nil {
		return rec, err
	}

	hash, err := o.relay.SendUserOperation(ctx, signed)
	if err != nil {
		o.builder.Rejected(signed, err)
		o.metrics.IncRelaySubmission("rejected")
		return rec, o.fail(ctx, rec, fmt.Sprintf("submission failed: %v", err), err)
	}
	o.builder.Accepted(signed)
	o.metrics.IncRelaySubmission("accepted")

	rec.OperationHash = hash
	detail := &model.ProgressDetail{OperationHash: hash, Sponsored: model.Bool(rec.Sponsored)}
	if err := o.advance(ctx, rec, model.StageSwapInitiated, model.PercentSwapInitiated, "User operation submitted "+shortHash(hash), detail); err != nil {
		return rec, err
	}
	return rec.Clone(), nil
}

// attachSponsorship sets the paymaster when the user is eligible. The paymaster takes part in
// verification, so gas is estimated again with it attached and the sponsorship is dropped when the
// new cost is no longer covered.
func (o *Orchestrator) attachSponsorship(ctx context.Context, rec *model.TransactionRecord, op *userop.UserOperation) (bool, error) {
	decision := o.sponsor.AttachSponsorship(ctx, op, rec.Owner, rec.ChainID)
	if !decision.CanSponsor {
		return false, nil
	}
	if err := o.builder.Reestimate(ctx, op); err != nil {
		return false, err
	}

	recheck := o.sponsor.CheckSponsorship(ctx, rec.Owner, op.MaxGasCost(), rec.ChainID)
	if recheck.CanSponsor {
		return true, nil
	}
	o.logger.Info("sponsorship dropped after gas re-estimate", "id", rec.ID, "cost", op.MaxGasCost().String(), "reason", recheck.Reason)
	if err := op.SetPaymasterAndData(nil); err != nil {
		return false, err
	}
	return false, o.builder.Reestimate(ctx, op)
}

func (o *Orchestrator) buildOperation(ctx context.Context, rec *model.TransactionRecord) (*userop.UserOperation, error) {
	token, err := o.token(rec.SourceToken)
	if err != nil {
		return nil, err
	}
	amount := rec.SourceAmount.BigInt()

	if token.Stable {
		return o.builder.BuildTransfer(ctx, builder.TransferRequest{
			Sender:    rec.Sender,
			Owner:     rec.Owner,
			Kind:      builder.TransferToken,
			Token:     token.Address,
			Recipient: o.treasury,
			Amount:    amount,
		})
	}
	return o.buildSwap(ctx, rec, token, amount)
}

// buildSwap routes a volatile token into the settlement stablecoin, paid to the treasury.
func (o *Orchestrator) buildSwap(ctx context.Context, rec *model.TransactionRecord, token config.TokenConfig, amount *big.Int) (*userop.UserOperation, error) {
	stable, ok := o.stableToken()
	if !ok {
		return nil, fmt.Errorf("no stable token configured to swap %s into", token.Symbol)
	}

	stableRate, err := o.backend.ExchangeRate(ctx, stable.Symbol, rec.FiatCurrency)
	if err != nil {
		return nil, fmt.Errorf("cannot price %s: %w", stable.Symbol, err)
	}
	expected := toBaseUnits(rec.FiatAmount.Mul(stableRate.Rate), stable.Decimals)

	quote, err := o.backend.SwapCallData(ctx, backend.SwapQuoteRequest{
		ChainID:      rec.ChainID,
		Sender:       rec.Sender,
		TokenIn:      token.Address,
		TokenOut:     stable.Address,
		Recipient:    o.treasury,
		AmountIn:     (*hexutil.Big)(amount),
		MinAmountOut: (*hexutil.Big)(o.builder.MinOut(expected)),
		SlippageBps:  o.cfg.SlippageBps,
	})
	if err != nil {
		return nil, err
	}

	req := builder.SwapRequest{
		Sender:         rec.Sender,
		Owner:          rec.Owner,
		TokenIn:        token.Address,
		AmountIn:       amount,
		Router:         quote.Router,
		RouterCallData: quote.CallData,
		NeedsApproval:  quote.NeedsApproval,
	}
	if token.Address == (common.Address{}) {
		req.Value = amount
		req.NeedsApproval = false
	}
	return o.builder.BuildSwap(ctx, req)
}

// AwaitConfirmation waits for the bundler to include the submitted operation. On inclusion the
// record moves to SWAP_CONFIRMED and is admitted to settlement. A timeout or a revert fails it.
// If ctx ends first the record is left at SWAP_INITIATED so the wait can be resumed. The timeout
// counts from the submission recorded in the progress log.
func (o *Orchestrator) AwaitConfirmation(ctx context.Context, id string) (*model.TransactionRecord, error) {
	unlock, err := o.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.IsTerminal() {
		return rec, fmt.Errorf("%w: %s is %s", model.ErrTerminal, rec.ID, rec.Stage)
	}
	if rec.Stage != model.StageSwapInitiated || rec.OperationHash == "" {
		return rec, model.NewValidationError("stage", "transaction %s has nothing to confirm at %s", rec.ID, rec.Stage)
	}

	timeout := o.cfg.ConfirmationTimeout
	if timeout <= 0 {
		timeout = bundler.DefaultWaitTimeout
	}
	interval := o.cfg.PollInterval
	if interval <= 0 {
		interval = bundler.DefaultPollInterval
	}

	// the deadline runs from submission, so a resumed wait does not start over
	remaining := timeout - o.now().Sub(submittedAt(rec))
	if remaining < interval {
		remaining = interval
	}

	res := o.relay.AwaitInclusion(ctx, rec.OperationHash, remaining, interval)
	if ctx.Err() != nil && res.Status != bundler.StatusIncluded {
		return rec, ctx.Err()
	}

	switch res.Status {
	case bundler.StatusIncluded:
		now := o.now()
		rec.TransactionHash = res.TransactionHash
		rec.ConfirmedAt = &now
		detail := &model.ProgressDetail{OperationHash: rec.OperationHash, TransactionHash: res.TransactionHash}
		if err := rec.Append(model.StageSwapConfirmed, model.PercentSwapConfirmed, "Transaction confirmed on chain", detail, now); err != nil {
			return rec, err
		}
		settlement.Admit(rec, now)
		o.metrics.IncStageTransition(string(model.StageSwapConfirmed))
		if err := o.save(ctx, rec); err != nil {
			return rec, err
		}
		if rec.Sponsored && o.sponsor != nil {
			o.sponsor.Invalidate(rec.Owner, rec.ChainID)
		}
		o.logger.Info("transaction confirmed", "id", rec.ID, "tx", res.TransactionHash, "settlement", rec.Settlement)
		return rec.Clone(), nil
	case bundler.StatusFailed:
		if res.Reason == bundler.ReasonTimeout {
			return rec, o.fail(ctx, rec, ErrConfirmationTimeout.Error(), ErrConfirmationTimeout)
		}
		msg := fmt.Sprintf("%s: %s", ErrReverted.Error(), trimReason(res.Reason))
		return rec, o.fail(ctx, rec, msg, fmt.Errorf("%w: %s", ErrReverted, trimReason(res.Reason)))
	default:
		return rec, fmt.Errorf("unexpected status %q for %s", res.Status, rec.OperationHash)
	}
}

func submittedAt(rec *model.TransactionRecord) time.Time {
	for i := len(rec.Progress) - 1; i >= 0; i-- {
		if rec.Progress[i].Stage == model.StageSwapInitiated {
			return rec.Progress[i].Timestamp
		}
	}
	return rec.UpdatedAt
}

// Process signs, submits and waits for confirmation in one call.
func (o *Orchestrator) Process(ctx context.Context, id string, s Signer) (*model.TransactionRecord, error) {
	if _, err := o.SignAndSubmit(ctx, id, s); err != nil {
		return o.reload(ctx, id, err)
	}
	return o.AwaitConfirmation(ctx, id)
}

func (o *Orchestrator) reload(ctx context.Context, id string, cause error) (*model.TransactionRecord, error) {
	rec, err := o.store.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, cause
	}
	return rec, cause
}
