package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.HTTPServiceConfig{BaseURL: srv.URL, Secret: "sk_test", Timeout: 2 * time.Second}, "NGN", nil)
}

var payee = model.BankTransferDetail{AccountNumber: "0123456789", BankCode: "058", AccountName: "Ada Obi"}

func TestMapStatus(t *testing.T) {
	cases := map[string]PayoutStatus{
		"success":    StatusSuccess,
		"Successful": StatusSuccess,
		"completed":  StatusSuccess,
		"paid":       StatusSuccess,
		"failed":     StatusFailed,
		"reversed":   StatusFailed,
		"declined":   StatusFailed,
		"cancelled":  StatusFailed,
		"error":      StatusFailed,
		"otp":        StatusPending,
		"processing": StatusPending,
		"":           StatusPending,
	}
	for raw, want := range cases {
		assert.Equal(t, want, MapStatus(raw), raw)
	}
}

func TestVerifyRecipient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bank/resolve", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		if r.URL.Query().Get("account_number") == "0123456789" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status":  true,
				"message": "Account number resolved",
				"data":    map[string]interface{}{"account_number": "0123456789", "account_name": "ADA OBI", "bank_id": 9},
			})
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"status":  false,
			"message": "Could not resolve account name",
		})
	})

	account, err := client.VerifyRecipient(context.Background(), payee)
	require.NoError(t, err)
	assert.Equal(t, "ADA OBI", account.AccountName)

	bad := payee
	bad.AccountNumber = "9999999999"
	_, err = client.VerifyRecipient(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidRecipient)
	assert.ErrorContains(t, err, "Could not resolve account name")
}

func TestVerifyRecipientServerErrorIsNotInvalid(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{"status": false, "message": "upstream down"})
	})

	_, err := client.VerifyRecipient(context.Background(), payee)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidRecipient)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Temporary())
}

func TestCreateRecipientAndTransfer(t *testing.T) {
	var transferBody map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transferrecipient":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "nuban", body["type"])
			assert.Equal(t, "NGN", body["currency"])
			writeJSON(w, http.StatusCreated, map[string]interface{}{
				"status": true,
				"data":   map[string]interface{}{"recipient_code": "RCP_abc"},
			})
		case "/transfer":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&transferBody))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": true,
				"data": map[string]interface{}{
					"reference":     transferBody["reference"],
					"transfer_code": "TRF_1",
					"status":        "pending",
				},
			})
		case "/transfer/verify/TXN-1":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": true,
				"data":   map[string]interface{}{"reference": "TXN-1", "status": "success"},
			})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	code, err := client.CreateRecipient(ctx, payee)
	require.NoError(t, err)
	assert.Equal(t, "RCP_abc", code)

	res, err := client.InitiateTransfer(ctx, TransferRequest{
		RecipientCode: code,
		Amount:        decimal.RequireFromString("2500.50"),
		Reference:     "TXN-1",
		Reason:        "rent",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, "TRF_1", res.TransferCode)
	assert.Equal(t, float64(250050), transferBody["amount"])
	assert.Equal(t, "RCP_abc", transferBody["recipient"])

	status, err := client.TransferStatus(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status.Status)
}

func TestInitiateTransferRequiresRecipient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := client.InitiateTransfer(context.Background(), TransferRequest{Amount: decimal.NewFromInt(10)})
	assert.True(t, model.IsValidationError(err))
}

func TestPayBill(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/billers/purchase":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "ikeja-electric", body["code"])
			assert.Equal(t, "45012345678", body["customer"])
			assert.Equal(t, "prepaid", body["item_code"])
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": true,
				"data":   map[string]interface{}{"reference": "TXN-2", "status": "successful", "token": "1234-5678"},
			})
		case "/billers/status/TXN-2":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": true,
				"data":   map[string]interface{}{"status": "reversed"},
			})
		}
	})
	ctx := context.Background()

	res, err := client.PayBill(ctx, BillRequest{
		Bill: model.BillPaymentDetail{
			Category:   model.BillElectricity,
			Provider:   "ikeja-electric",
			CustomerID: "45012345678",
			PlanCode:   "prepaid",
		},
		Amount:    decimal.NewFromInt(5000),
		Reference: "TXN-2",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "1234-5678", res.Token)

	status, err := client.BillStatus(ctx, "TXN-2")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status.Status)
	assert.Equal(t, "TXN-2", status.Reference)
}

func TestNegativeEnvelopeIsAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": false, "message": "Insufficient balance"})
	})

	_, err := client.InitiateTransfer(context.Background(), TransferRequest{
		RecipientCode: "RCP_abc",
		Amount:        decimal.NewFromInt(10),
		Reference:     "TXN-3",
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Insufficient balance", apiErr.Message)
	assert.False(t, apiErr.Temporary())
}

func TestReferences(t *testing.T) {
	assert.Equal(t, "TXN-1", NewReference("TXN-1", -1))
	assert.Equal(t, "TXN-1-2", NewReference("TXN-1", 2))
	assert.Equal(t, "TXN-1-RETRY1", RetryReference("TXN-1", 1))
	assert.Equal(t, "TXN-1-RETRY2", RetryReference("TXN-1-RETRY1", 2))
	assert.Equal(t, "TXN-1", RetryReference("TXN-1-RETRY1", 0))
	assert.Equal(t, "TXN-1-2", BaseReference("TXN-1-2-RETRY3"))
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(250000), ToMinorUnits(decimal.NewFromInt(2500)))
	assert.Equal(t, int64(1), ToMinorUnits(decimal.RequireFromString("0.005")))
}
