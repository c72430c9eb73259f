package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// ProgressDetail carries the identifiers produced by the step that appended an entry.
type ProgressDetail struct {
	OperationHash   string `json:"operationHash,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Reference       string `json:"reference,omitempty"`
	Sponsored       *bool  `json:"sponsored,omitempty"`
	RecipientCode   string `json:"recipientCode,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type ProgressEntry struct {
	Stage     Stage           `json:"stage"`
	Percent   int             `json:"percent"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Detail    *ProgressDetail `json:"detail,omitempty"`
}

type TransactionRecord struct {
	ID      string         `json:"id"`
	Owner   common.Address `json:"owner"`
	Sender  common.Address `json:"sender"`
	ChainID int64          `json:"chainId"`

	Stage    Stage           `json:"stage"`
	Progress []ProgressEntry `json:"progress"`

	SourceToken string `json:"sourceToken"`
	// SourceAmount is TotalRequired in the token's base units.
	SourceAmount  decimal.Decimal `json:"sourceAmount"`
	FiatAmount    decimal.Decimal `json:"fiatAmount"`
	FiatCurrency  string          `json:"fiatCurrency"`
	ExchangeRate  decimal.Decimal `json:"exchangeRate"`
	CryptoAmount  decimal.Decimal `json:"cryptoAmount"`
	GasFee        decimal.Decimal `json:"gasFee"`
	TotalRequired decimal.Decimal `json:"totalRequired"`

	Sponsored       bool   `json:"sponsored"`
	OperationHash   string `json:"operationHash,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
	PayoutReference string `json:"payoutReference,omitempty"`

	Settlement SettlementStatus `json:"settlement"`
	RetryCount int              `json:"retryCount"`
	MaxRetries int              `json:"maxRetries"`
	// SettlementRetries counts failed payout steps, separate from RetryCount which counts
	// re-submissions of the on-chain operation.
	SettlementRetries int    `json:"settlementRetries"`
	Error             string `json:"error,omitempty"`

	Detail      Detail `json:"detail"`
	RetriedFrom string `json:"retriedFrom,omitempty"`
	// RetriedBy is the record created by the one retry a failed record allows.
	RetriedBy string `json:"retriedBy,omitempty"`

	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	ConfirmedAt    *time.Time `json:"confirmedAt,omitempty"`
	PhaseStartedAt *time.Time `json:"phaseStartedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// NewID returns TXN-<unix ms>-<9 random characters>.
func NewID(now time.Time) string {
	return fmt.Sprintf("TXN-%d-%s", now.UnixMilli(), ulid.Make().String()[17:])
}

// NewTransactionRecord creates a record at INITIATED.
func NewTransactionRecord(owner common.Address, chainID int64, detail Detail, now time.Time) *TransactionRecord {
	r := &TransactionRecord{
		ID:            NewID(now),
		Owner:         owner,
		ChainID:       chainID,
		Stage:         StageInitiated,
		SourceAmount:  decimal.Zero,
		FiatAmount:    decimal.Zero,
		ExchangeRate:  decimal.Zero,
		CryptoAmount:  decimal.Zero,
		GasFee:        decimal.Zero,
		TotalRequired: decimal.Zero,
		Settlement:    SettlementAwaitingChain,
		Detail:        detail,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.Progress = []ProgressEntry{{
		Stage:     StageInitiated,
		Percent:   PercentInitiated,
		Message:   "Transaction initiated",
		Timestamp: now,
	}}
	return r
}

func (r *TransactionRecord) IsTerminal() bool {
	return r.Stage.IsTerminal()
}

// Percent is the percent of the latest progress entry.
func (r *TransactionRecord) Percent() int {
	if len(r.Progress) == 0 {
		return 0
	}
	return r.Progress[len(r.Progress)-1].Percent
}

func (r *TransactionRecord) LastEntry() (ProgressEntry, bool) {
	if len(r.Progress) == 0 {
		return ProgressEntry{}, false
	}
	return r.Progress[len(r.Progress)-1], true
}

// Append adds a progress entry. The stage may skip forward but never move back, the percent never
// decreases, and nothing is accepted after a terminal stage. FAILED and CANCELLED are always
// recorded at 100.
func (r *TransactionRecord) Append(stage Stage, percent int, message string, detail *ProgressDetail, now time.Time) error {
	if r.Stage.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, r.ID, r.Stage)
	}
	if !stage.Valid() {
		return NewValidationError("stage", "unknown stage %q", stage)
	}
	if stage == StageFailed || stage == StageCancelled {
		percent = PercentCompleted
	}
	if percent < 0 || percent > PercentCompleted {
		return NewValidationError("percent", "%d is out of range", percent)
	}
	if stage.Order() < r.Stage.Order() {
		return fmt.Errorf("%w: %s to %s", ErrStageRegression, r.Stage, stage)
	}
	if percent < r.Percent() {
		return fmt.Errorf("%w: %d to %d", ErrPercentRegression, r.Percent(), percent)
	}

	r.Progress = append(r.Progress, ProgressEntry{
		Stage:     stage,
		Percent:   percent,
		Message:   message,
		Timestamp: now,
		Detail:    detail,
	})
	r.Stage = stage
	r.UpdatedAt = now

	if stage == StageCompleted {
		r.CompletedAt = &now
	}
	return nil
}

// Fail appends FAILED with message and records it as the error.
func (r *TransactionRecord) Fail(message string, now time.Time) error {
	if err := r.Append(StageFailed, PercentCompleted, message, &ProgressDetail{Reason: message}, now); err != nil {
		return err
	}
	r.Error = message
	if !r.Settlement.IsTerminal() {
		r.Settlement = SettlementFailed
	}
	return nil
}

// Cancel appends CANCELLED. It is only legal before anything was submitted on chain.
func (r *TransactionRecord) Cancel(reason string, now time.Time) error {
	if !r.Stage.Cancellable() {
		return NewValidationError("stage", "transaction %s cannot be cancelled at %s", r.ID, r.Stage)
	}
	if reason == "" {
		reason = "Cancelled by user"
	}
	if err := r.Append(StageCancelled, PercentCompleted, reason, &ProgressDetail{Reason: reason}, now); err != nil {
		return err
	}
	r.Settlement = SettlementCancelled
	return nil
}

// SetSettlement moves the settlement status and stamps the start of the new phase.
func (r *TransactionRecord) SetSettlement(status SettlementStatus, now time.Time) {
	r.Settlement = status
	r.PhaseStartedAt = &now
	r.UpdatedAt = now
}

// Clone returns a deep copy, so stored records are never shared with callers.
func (r *TransactionRecord) Clone() *TransactionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Progress = make([]ProgressEntry, len(r.Progress))
	for i, e := range r.Progress {
		out.Progress[i] = e
		if e.Detail != nil {
			d := *e.Detail
			if e.Detail.Sponsored != nil {
				s := *e.Detail.Sponsored
				d.Sponsored = &s
			}
			out.Progress[i].Detail = &d
		}
	}
	out.Detail = r.Detail.Clone()
	out.ConfirmedAt = cloneTime(r.ConfirmedAt)
	out.PhaseStartedAt = cloneTime(r.PhaseStartedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Return a compact json ready to persist to storage
func (r *TransactionRecord) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

func (r *TransactionRecord) FromStorageData(body []byte) error {
	return json.Unmarshal(body, r)
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}
