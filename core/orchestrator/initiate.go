package orchestrator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/backend"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

type InitiateRequest struct {
	Owner common.Address `json:"owner" validate:"-"`
	// Sender is the owner's smart account. When empty it is resolved from the owner.
	Sender       common.Address  `json:"sender" validate:"-"`
	SourceToken  string          `json:"sourceToken" validate:"required,max=16"`
	FiatAmount   decimal.Decimal `json:"fiatAmount" validate:"-"`
	FiatCurrency string          `json:"fiatCurrency" validate:"omitempty,len=3"`
	Detail       model.Detail    `json:"detail" validate:"-"`
}

func (o *Orchestrator) validate(req *InitiateRequest) error {
	if err := model.Validator().Struct(req); err != nil {
		return model.ToValidationError(err)
	}
	if req.Owner == (common.Address{}) {
		return model.NewValidationError("owner", "is required")
	}
	if err := req.Detail.Validate(); err != nil {
		return err
	}

	if b := req.Detail.Batch; b != nil {
		sum := b.Sum()
		if req.FiatAmount.IsZero() {
			req.FiatAmount = sum
		} else if !req.FiatAmount.Equal(sum) {
			return model.NewValidationError("fiatAmount", "%s does not match the recipient total %s", req.FiatAmount, sum)
		}
	}
	if !req.FiatAmount.IsPositive() {
		return model.NewValidationError("fiatAmount", "must be positive")
	}
	if _, err := o.token(req.SourceToken); err != nil {
		return err
	}
	return nil
}

// Initiate validates and prices a payment. The returned record is at CRYPTO_CALCULATED with the
// exchange rate snapshot and the total the user has to pay. Requests failing validation create no
// record; failures after that leave a FAILED record behind.
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (*model.TransactionRecord, error) {
	if err := o.validate(&req); err != nil {
		return nil, err
	}

	if req.Sender == (common.Address{}) {
		if o.resolveSender == nil {
			return nil, model.NewValidationError("sender", "is required")
		}
		sender, err := o.resolveSender(ctx, req.Owner)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve smart account of %s: %w", req.Owner.Hex(), err)
		}
		req.Sender = sender
	}

	token, _ := o.token(req.SourceToken)
	currency := req.FiatCurrency
	if currency == "" {
		currency = o.cfg.FiatCurrency
	}

	rec := model.NewTransactionRecord(req.Owner, o.chainID, req.Detail.Clone(), o.now())
	rec.Sender = req.Sender
	rec.SourceToken = token.Symbol
	rec.FiatAmount = req.FiatAmount
	rec.FiatCurrency = currency
	rec.MaxRetries = o.cfg.MaxRetries

	unlock, err := o.lock(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := o.save(ctx, rec); err != nil {
		return nil, err
	}
	o.metrics.IncTransactionsInitiated(string(rec.Detail.Kind))
	o.logger.Info("transaction initiated", "id", rec.ID, "owner", rec.Owner.Hex(), "kind", rec.Detail.Kind, "fiat", rec.FiatAmount.String(), "currency", currency)

	limits, err := o.backend.Limits(ctx, rec.Owner)
	if err != nil {
		return rec, o.fail(ctx, rec, fmt.Sprintf("cannot read limits: %v", err), err)
	}
	if err := limits.Allows(rec.FiatAmount); err != nil {
		return rec, o.fail(ctx, rec, err.Error(), err)
	}

	if err := o.verifyRecipients(ctx, rec); err != nil {
		if isInvalidRecipient(err) {
			return rec, o.fail(ctx, rec, fmt.Sprintf("invalid recipient: %v", err), model.WrapValidationError("recipient", err))
		}
		return rec, o.fail(ctx, rec, fmt.Sprintf("cannot verify recipient: %v", err), err)
	}

	rate, err := o.backend.ExchangeRate(ctx, token.Symbol, currency)
	if err != nil {
		return rec, o.fail(ctx, rec, fmt.Sprintf("cannot fetch exchange rate: %v", err), err)
	}

	rec.ExchangeRate = rate.Rate
	rec.CryptoAmount = rec.FiatAmount.Mul(rate.Rate)
	rec.GasFee = o.cfg.DefaultGasFee
	rec.TotalRequired = rec.CryptoAmount.Add(rec.GasFee)
	rec.SourceAmount = decimal.NewFromBigInt(toBaseUnits(rec.TotalRequired, token.Decimals), 0)

	msg := fmt.Sprintf("Crypto amount calculated: %s %s", rec.TotalRequired.String(), token.Symbol)
	if err := o.advance(ctx, rec, model.StageCryptoCalculated, model.PercentCryptoCalculated, msg, nil); err != nil {
		return rec, err
	}

	if err := o.backend.CreateTransaction(ctx, backend.FromRecord(rec)); err != nil {
		o.logger.Warn("cannot register transaction with backend", "id", rec.ID, "error", err)
	}
	return rec.Clone(), nil
}

// verifyRecipients resolves every bank account the payment pays into. Bill payments have no bank
// account and are checked by the provider at purchase time.
func (o *Orchestrator) verifyRecipients(ctx context.Context, rec *model.TransactionRecord) error {
	if o.gateway == nil {
		return nil
	}

	var payees []*model.BankTransferDetail
	if p, ok := rec.Detail.Payee(); ok {
		payees = append(payees, p)
	}
	if b := rec.Detail.Batch; b != nil {
		for i := range b.Recipients {
			payees = append(payees, &b.Recipients[i].Payee)
		}
	}

	for _, p := range payees {
		account, err := o.gateway.VerifyRecipient(ctx, *p)
		if err != nil {
			return err
		}
		if p.AccountName == "" {
			p.AccountName = account.AccountName
		}
	}
	return nil
}
