// Package gateway talks to the fiat payout provider: it resolves bank accounts, registers transfer
// recipients, sends bank transfers and buys bills.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
)

var ErrInvalidRecipient = errors.New("invalid recipient")

// PayoutStatus is the provider status folded into three outcomes.
type PayoutStatus string

const (
	StatusPending PayoutStatus = "pending"
	StatusSuccess PayoutStatus = "success"
	StatusFailed  PayoutStatus = "failed"
)

var (
	successStatuses = map[string]bool{"success": true, "successful": true, "completed": true, "paid": true}
	failureStatuses = map[string]bool{"failed": true, "cancelled": true, "reversed": true, "declined": true, "error": true}
)

// MapStatus folds a provider status string. Anything not known to be final is pending.
func MapStatus(raw string) PayoutStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case successStatuses[s]:
		return StatusSuccess
	case failureStatuses[s]:
		return StatusFailed
	default:
		return StatusPending
	}
}

// APIError is a request the provider answered with an error, either by HTTP status or with
// status=false in the envelope.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Account struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankID        int    `json:"bank_id"`
}

type TransferRequest struct {
	RecipientCode string
	// Amount is in major units of the configured currency.
	Amount    decimal.Decimal
	Reference string
	Reason    string
}

type BillRequest struct {
	Bill      model.BillPaymentDetail
	Amount    decimal.Decimal
	Reference string
	Email     string
}

// PayoutResult is the provider's view of a transfer or bill purchase.
type PayoutResult struct {
	Reference    string       `json:"reference"`
	TransferCode string       `json:"transfer_code,omitempty"`
	RawStatus    string       `json:"status"`
	Status       PayoutStatus `json:"-"`
	// Token is the prepaid electricity token, when the provider returns one.
	Token  string `json:"token,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Gateway is the payout surface the settlement processor and orchestrator depend on.
type Gateway interface {
	VerifyRecipient(ctx context.Context, payee model.BankTransferDetail) (*Account, error)
	CreateRecipient(ctx context.Context, payee model.BankTransferDetail) (string, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (*PayoutResult, error)
	TransferStatus(ctx context.Context, reference string) (*PayoutResult, error)
	PayBill(ctx context.Context, req BillRequest) (*PayoutResult, error)
	BillStatus(ctx context.Context, reference string) (*PayoutResult, error)
}

type Client struct {
	http     *resty.Client
	currency string
	logger   logger.Logger
}

func NewClient(cfg *config.HTTPServiceConfig, currency string, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeaders(map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		})
	if cfg.Secret != "" {
		client.SetAuthToken(cfg.Secret)
	}

	if currency == "" {
		currency = "NGN"
	}

	return &Client{
		http:     client,
		currency: currency,
		logger:   logger.EnsureLogger(log),
	}
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body interface{}, out interface{}) error {
	env := &envelope{}
	req := c.http.R().
		SetContext(ctx).
		SetResult(env).
		SetError(env)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}

	if resp.IsError() || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		c.logger.Warn("payout gateway rejected request", "method", method, "path", path, "status", resp.StatusCode(), "message", msg)
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode(), Message: msg}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("gateway %s %s: cannot decode data: %w", method, path, err)
		}
	}
	return nil
}

// VerifyRecipient resolves the account with the provider. A 4xx answer or a negative envelope
// means the account does not exist and is reported as ErrInvalidRecipient.
func (c *Client) VerifyRecipient(ctx context.Context, payee model.BankTransferDetail) (*Account, error) {
	account := &Account{}
	err := c.do(ctx, http.MethodGet, "/bank/resolve", map[string]string{
		"account_number": payee.AccountNumber,
		"bank_code":      payee.BankCode,
	}, nil, account)

	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Temporary() && apiErr.StatusCode != 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecipient, apiErr.Message)
	}
	if err != nil {
		return nil, err
	}
	if account.AccountName == "" {
		return nil, fmt.Errorf("%w: account %s could not be resolved", ErrInvalidRecipient, payee.AccountNumber)
	}
	return account, nil
}

// CreateRecipient registers a bank account and returns its recipient code.
func (c *Client) CreateRecipient(ctx context.Context, payee model.BankTransferDetail) (string, error) {
	name := payee.AccountName
	if name == "" {
		name = "CPPay Recipient"
	}

	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	err := c.do(ctx, http.MethodPost, "/transferrecipient", nil, map[string]interface{}{
		"type":           "nuban",
		"name":           name,
		"account_number": payee.AccountNumber,
		"bank_code":      payee.BankCode,
		"currency":       c.currency,
	}, &data)
	if err != nil {
		return "", err
	}
	if data.RecipientCode == "" {
		return "", fmt.Errorf("gateway returned no recipient code for %s", payee.AccountNumber)
	}
	return data.RecipientCode, nil
}

func (c *Client) InitiateTransfer(ctx context.Context, req TransferRequest) (*PayoutResult, error) {
	if req.RecipientCode == "" {
		return nil, model.NewValidationError("recipientCode", "is required")
	}

	result := &PayoutResult{}
	err := c.do(ctx, http.MethodPost, "/transfer", nil, map[string]interface{}{
		"source":    "balance",
		"amount":    ToMinorUnits(req.Amount),
		"reference": req.Reference,
		"reason":    req.Reason,
		"currency":  c.currency,
		"recipient": req.RecipientCode,
	}, result)
	if err != nil {
		return nil, err
	}
	return finish(result, req.Reference), nil
}

func (c *Client) TransferStatus(ctx context.Context, reference string) (*PayoutResult, error) {
	result := &PayoutResult{}
	if err := c.do(ctx, http.MethodGet, "/transfer/verify/"+reference, nil, nil, result); err != nil {
		return nil, err
	}
	return finish(result, reference), nil
}

func (c *Client) PayBill(ctx context.Context, req BillRequest) (*PayoutResult, error) {
	body := map[string]interface{}{
		"code":      req.Bill.Provider,
		"customer":  req.Bill.CustomerID,
		"email":     req.Email,
		"amount":    ToMinorUnits(req.Amount),
		"currency":  c.currency,
		"reference": req.Reference,
		"metadata": map[string]string{
			"category": string(req.Bill.Category),
		},
	}
	if req.Bill.PlanCode != "" {
		body["item_code"] = req.Bill.PlanCode
	}

	result := &PayoutResult{}
	if err := c.do(ctx, http.MethodPost, "/billers/purchase", nil, body, result); err != nil {
		return nil, err
	}
	return finish(result, req.Reference), nil
}

func (c *Client) BillStatus(ctx context.Context, reference string) (*PayoutResult, error) {
	result := &PayoutResult{}
	if err := c.do(ctx, http.MethodGet, "/billers/status/"+reference, nil, nil, result); err != nil {
		return nil, err
	}
	return finish(result, reference), nil
}

func finish(r *PayoutResult, reference string) *PayoutResult {
	if r.Reference == "" {
		r.Reference = reference
	}
	r.Status = MapStatus(r.RawStatus)
	return r
}

// ToMinorUnits converts a major unit amount to the integer minor units the provider expects.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
