// Package backend is the client for the coordination API that owns users, tier limits, exchange
// rates and DEX quotes.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("backend %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Rate is the amount of token paid per unit of fiat.
type Rate struct {
	Token     string          `json:"token"`
	Currency  string          `json:"currency"`
	Rate      decimal.Decimal `json:"rate"`
	Source    string          `json:"source,omitempty"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Limits are the per tier fiat limits of a user.
type Limits struct {
	Tier           int             `json:"tier"`
	PerTransaction decimal.Decimal `json:"perTransaction"`
	Daily          decimal.Decimal `json:"daily"`
	UsedToday      decimal.Decimal `json:"usedToday"`
}

// Allows reports whether amount fits both the per transaction and the remaining daily limit. A
// zero limit means unlimited.
func (l *Limits) Allows(amount decimal.Decimal) error {
	if !l.PerTransaction.IsZero() && amount.GreaterThan(l.PerTransaction) {
		return model.NewValidationError("fiatAmount", "%s exceeds the tier %d per transaction limit of %s", amount, l.Tier, l.PerTransaction)
	}
	if !l.Daily.IsZero() && l.UsedToday.Add(amount).GreaterThan(l.Daily) {
		return model.NewValidationError("fiatAmount", "%s exceeds the remaining tier %d daily limit of %s", amount, l.Tier, l.Daily.Sub(l.UsedToday))
	}
	return nil
}

type SwapQuoteRequest struct {
	ChainID      int64          `json:"chainId"`
	Sender       common.Address `json:"sender"`
	TokenIn      common.Address `json:"tokenIn"`
	TokenOut     common.Address `json:"tokenOut"`
	Recipient    common.Address `json:"recipient"`
	AmountIn     *hexutil.Big   `json:"amountIn"`
	MinAmountOut *hexutil.Big   `json:"minAmountOut"`
	SlippageBps  int64          `json:"slippageBps"`
}

type SwapQuote struct {
	Router        common.Address `json:"router"`
	CallData      hexutil.Bytes  `json:"callData"`
	Value         *hexutil.Big   `json:"value"`
	ExpectedOut   *hexutil.Big   `json:"expectedOut"`
	NeedsApproval bool           `json:"needsApproval"`
}

// RemoteTransaction is the backend's copy of a transaction.
type RemoteTransaction struct {
	ID              string          `json:"id"`
	Owner           string          `json:"owner"`
	Kind            string          `json:"kind"`
	Stage           string          `json:"stage"`
	Settlement      string          `json:"settlement"`
	FiatAmount      decimal.Decimal `json:"fiatAmount"`
	FiatCurrency    string          `json:"fiatCurrency"`
	CryptoAmount    decimal.Decimal `json:"cryptoAmount"`
	SourceToken     string          `json:"sourceToken"`
	ChainID         int64           `json:"chainId"`
	OperationHash   string          `json:"operationHash,omitempty"`
	TransactionHash string          `json:"transactionHash,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func FromRecord(rec *model.TransactionRecord) *RemoteTransaction {
	return &RemoteTransaction{
		ID:              rec.ID,
		Owner:           rec.Owner.Hex(),
		Kind:            string(rec.Detail.Kind),
		Stage:           string(rec.Stage),
		Settlement:      string(rec.Settlement),
		FiatAmount:      rec.FiatAmount,
		FiatCurrency:    rec.FiatCurrency,
		CryptoAmount:    rec.CryptoAmount,
		SourceToken:     rec.SourceToken,
		ChainID:         rec.ChainID,
		OperationHash:   rec.OperationHash,
		TransactionHash: rec.TransactionHash,
		CreatedAt:       rec.CreatedAt,
	}
}

// API is the part of the backend the engine uses.
type API interface {
	CreateTransaction(ctx context.Context, tx *RemoteTransaction) error
	GetTransaction(ctx context.Context, id string) (*RemoteTransaction, error)
	ExchangeRate(ctx context.Context, token, currency string) (*Rate, error)
	SwapCallData(ctx context.Context, req SwapQuoteRequest) (*SwapQuote, error)
	Limits(ctx context.Context, user common.Address) (*Limits, error)
}

type Client struct {
	http   *resty.Client
	logger logger.Logger
}

func NewClient(cfg *config.HTTPServiceConfig, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeaders(map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
			"User-Agent":   "cppay-engine/1.0",
		})
	if cfg.Secret != "" {
		client.SetHeader("X-API-Key", cfg.Secret)
	}

	return &Client{http: client, logger: logger.EnsureLogger(log)}
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body interface{}, out interface{}) error {
	env := &envelope{}
	req := c.http.R().SetContext(ctx).SetResult(env).SetError(env)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	if resp.IsError() || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return &RequestError{Method: method, Path: path, StatusCode: resp.StatusCode(), Message: msg}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("backend %s %s: cannot decode data: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) CreateTransaction(ctx context.Context, tx *RemoteTransaction) error {
	return c.do(ctx, http.MethodPost, "/api/v1/transactions", nil, tx, nil)
}

func (c *Client) GetTransaction(ctx context.Context, id string) (*RemoteTransaction, error) {
	tx := &RemoteTransaction{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/"+id, nil, nil, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *Client) ExchangeRate(ctx context.Context, token, currency string) (*Rate, error) {
	rate := &Rate{}
	err := c.do(ctx, http.MethodGet, "/api/v1/rates", map[string]string{
		"token":    token,
		"currency": currency,
	}, nil, rate)
	if err != nil {
		return nil, err
	}
	if !rate.Rate.IsPositive() {
		return nil, fmt.Errorf("backend returned a non positive rate %s for %s/%s", rate.Rate, token, currency)
	}
	if rate.Token == "" {
		rate.Token = token
	}
	if rate.Currency == "" {
		rate.Currency = currency
	}
	return rate, nil
}

func (c *Client) SwapCallData(ctx context.Context, req SwapQuoteRequest) (*SwapQuote, error) {
	quote := &SwapQuote{}
	if err := c.do(ctx, http.MethodPost, "/api/v1/swaps/calldata", nil, req, quote); err != nil {
		return nil, err
	}
	if quote.Router == (common.Address{}) || len(quote.CallData) == 0 {
		return nil, fmt.Errorf("backend returned an empty swap route")
	}
	if quote.Value == nil {
		quote.Value = (*hexutil.Big)(new(big.Int))
	}
	return quote, nil
}

func (c *Client) Limits(ctx context.Context, user common.Address) (*Limits, error) {
	limits := &Limits{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/limits/"+user.Hex(), nil, nil, limits); err != nil {
		return nil, err
	}
	return limits, nil
}
