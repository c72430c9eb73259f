package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
)

type DetailKind string

const (
	KindBankTransfer DetailKind = "bank_transfer"
	KindBillPayment  DetailKind = "bill_payment"
	KindBatch        DetailKind = "batch"
	KindScheduled    DetailKind = "scheduled"
)

type BillCategory string

const (
	BillAirtime     BillCategory = "airtime"
	BillData        BillCategory = "data"
	BillElectricity BillCategory = "electricity"
	BillCableTV     BillCategory = "cable_tv"
)

type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// Next returns the trigger time following t, or false when the recurrence does not repeat.
func (r Recurrence) Next(t time.Time) (time.Time, bool) {
	switch r {
	case RecurrenceDaily:
		return t.AddDate(0, 0, 1), true
	case RecurrenceWeekly:
		return t.AddDate(0, 0, 7), true
	case RecurrenceMonthly:
		return t.AddDate(0, 1, 0), true
	default:
		return time.Time{}, false
	}
}

type BankTransferDetail struct {
	AccountNumber string `json:"accountNumber" validate:"required,numeric,len=10"`
	BankCode      string `json:"bankCode" validate:"required,numeric"`
	AccountName   string `json:"accountName,omitempty"`
	Narration     string `json:"narration,omitempty" validate:"max=100"`
	// RecipientCode is assigned by the payout gateway once the recipient is registered.
	RecipientCode string `json:"recipientCode,omitempty"`
}

type BillPaymentDetail struct {
	Category   BillCategory `json:"category" validate:"required,oneof=airtime data electricity cable_tv"`
	Provider   string       `json:"provider" validate:"required"`
	CustomerID string       `json:"customerId" validate:"required"`
	PlanCode   string       `json:"planCode,omitempty"`
	// Token is returned by electricity providers once the purchase succeeds.
	Token string `json:"token,omitempty"`
}

type BatchRecipient struct {
	Payee      BankTransferDetail `json:"payee"`
	Amount     decimal.Decimal    `json:"amount"`
	Status     SettlementStatus   `json:"status"`
	RetryCount int                `json:"retryCount"`
	Reference  string             `json:"reference,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type BatchDetail struct {
	Recipients []BatchRecipient `json:"recipients" validate:"required,min=1,max=100,dive"`
	Completed  int              `json:"completed"`
	Failed     int              `json:"failed"`
	Total      int              `json:"total"`
}

// Tally recounts Completed, Failed and Total from the recipients.
func (b *BatchDetail) Tally() {
	b.Completed, b.Failed = 0, 0
	for _, r := range b.Recipients {
		switch r.Status {
		case SettlementCompleted:
			b.Completed++
		case SettlementFailed, SettlementCancelled:
			b.Failed++
		}
	}
	b.Total = len(b.Recipients)
}

// Sum is the total fiat amount across recipients.
func (b *BatchDetail) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, r := range b.Recipients {
		total = total.Add(r.Amount)
	}
	return total
}

type ScheduledDetail struct {
	Payee         BankTransferDetail `json:"payee"`
	ExecuteAt     time.Time          `json:"executeAt" validate:"required"`
	Recurrence    Recurrence         `json:"recurrence" validate:"omitempty,oneof=none daily weekly monthly"`
	RecurrenceEnd *time.Time         `json:"recurrenceEnd,omitempty"`
	NextExecution time.Time          `json:"nextExecution"`
	Occurrence    int                `json:"occurrence"`
	// ParentID links a derived occurrence to the record that funded the schedule.
	ParentID string `json:"parentId,omitempty"`
	Closed   bool   `json:"closed"`
}

// Detail is the kind specific part of a transaction. Exactly one payload is set and it matches Kind.
type Detail struct {
	Kind         DetailKind          `json:"kind"`
	BankTransfer *BankTransferDetail `json:"bankTransfer,omitempty"`
	BillPayment  *BillPaymentDetail  `json:"billPayment,omitempty"`
	Batch        *BatchDetail        `json:"batch,omitempty"`
	Scheduled    *ScheduledDetail    `json:"scheduled,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validator exposes the shared instance so request types elsewhere use the same field naming.
func Validator() *validator.Validate {
	return validate
}

// ToValidationError converts validator output into a ValidationError naming the first bad field.
func ToValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return NewValidationError(fe.Namespace(), "failed %s validation", fe.Tag())
	}
	return NewValidationError("", "%v", err)
}

func (d Detail) payloads() int {
	n := 0
	for _, set := range []bool{d.BankTransfer != nil, d.BillPayment != nil, d.Batch != nil, d.Scheduled != nil} {
		if set {
			n++
		}
	}
	return n
}

// Validate enforces the discriminator and the payload's own rules.
func (d Detail) Validate() error {
	if d.payloads() != 1 {
		return NewValidationError("detail", "exactly one payload must be set, got %d", d.payloads())
	}

	var payload interface{}
	switch d.Kind {
	case KindBankTransfer:
		payload = d.BankTransfer
	case KindBillPayment:
		payload = d.BillPayment
	case KindBatch:
		payload = d.Batch
	case KindScheduled:
		payload = d.Scheduled
	default:
		return NewValidationError("detail.kind", "unknown kind %q", d.Kind)
	}
	if reflect.ValueOf(payload).IsNil() {
		return NewValidationError("detail", "payload does not match kind %q", d.Kind)
	}

	if err := validate.Struct(payload); err != nil {
		return ToValidationError(err)
	}

	switch d.Kind {
	case KindBatch:
		for i, r := range d.Batch.Recipients {
			if !r.Amount.IsPositive() {
				return NewValidationError(fmt.Sprintf("recipients[%d].amount", i), "must be positive")
			}
		}
	case KindScheduled:
		if end := d.Scheduled.RecurrenceEnd; end != nil && end.Before(d.Scheduled.ExecuteAt) {
			return NewValidationError("recurrenceEnd", "must not be before executeAt")
		}
	}
	return nil
}

// Clone returns a deep copy.
func (d Detail) Clone() Detail {
	out := Detail{Kind: d.Kind}
	if d.BankTransfer != nil {
		v := *d.BankTransfer
		out.BankTransfer = &v
	}
	if d.BillPayment != nil {
		v := *d.BillPayment
		out.BillPayment = &v
	}
	if d.Batch != nil {
		v := *d.Batch
		v.Recipients = append([]BatchRecipient(nil), d.Batch.Recipients...)
		out.Batch = &v
	}
	if d.Scheduled != nil {
		v := *d.Scheduled
		if d.Scheduled.RecurrenceEnd != nil {
			end := *d.Scheduled.RecurrenceEnd
			v.RecurrenceEnd = &end
		}
		out.Scheduled = &v
	}
	return out
}

// Payee returns the bank account money is paid to, if the kind pays a single account.
func (d Detail) Payee() (*BankTransferDetail, bool) {
	switch {
	case d.BankTransfer != nil:
		return d.BankTransfer, true
	case d.Scheduled != nil:
		return &d.Scheduled.Payee, true
	}
	return nil, false
}

func decimalHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(decimal.Decimal{}) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(v)
	case json.Number:
		return decimal.NewFromString(v.String())
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	}
	return data, nil
}

// DecodeDetail builds a typed Detail from a loosely typed API payload, such as the body of a JSON
// request decoded into a map. The result is validated.
func DecodeDetail(kind DetailKind, raw map[string]interface{}) (Detail, error) {
	d := Detail{Kind: kind}

	var target interface{}
	switch kind {
	case KindBankTransfer:
		d.BankTransfer = &BankTransferDetail{}
		target = d.BankTransfer
	case KindBillPayment:
		d.BillPayment = &BillPaymentDetail{}
		target = d.BillPayment
	case KindBatch:
		d.Batch = &BatchDetail{}
		target = d.Batch
	case KindScheduled:
		d.Scheduled = &ScheduledDetail{}
		target = d.Scheduled
	default:
		return Detail{}, NewValidationError("kind", "unknown kind %q", kind)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           target,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			decimalHook,
		),
	})
	if err != nil {
		return Detail{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Detail{}, NewValidationError(string(kind), "%v", err)
	}

	normalize(&d)
	if err := d.Validate(); err != nil {
		return Detail{}, err
	}
	return d, nil
}

func normalize(d *Detail) {
	switch {
	case d.Batch != nil:
		for i := range d.Batch.Recipients {
			if d.Batch.Recipients[i].Status == "" {
				d.Batch.Recipients[i].Status = SettlementPending
			}
		}
		d.Batch.Tally()
	case d.Scheduled != nil:
		if d.Scheduled.Recurrence == "" {
			d.Scheduled.Recurrence = RecurrenceNone
		}
		if d.Scheduled.NextExecution.IsZero() {
			d.Scheduled.NextExecution = d.Scheduled.ExecuteAt
		}
		if d.Scheduled.Occurrence == 0 {
			d.Scheduled.Occurrence = 1
		}
	case d.BillPayment != nil:
		d.BillPayment.Category = BillCategory(strings.ToLower(string(d.BillPayment.Category)))
	}
}
