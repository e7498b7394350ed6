package handler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"splitpay/internal/splitpayment/allocation"
	"splitpay/internal/splitpayment/models"
	"splitpay/internal/splitpayment/service"
	dErrors "splitpay/pkg/domain-errors"
)

type recipientRequest struct {
	WalletURL  string           `json:"walletUrl"`
	Percentage *decimal.Decimal `json:"percentage"`
}

type totalAmountRequest struct {
	Value     *int64 `json:"value"`
	AssetCode string `json:"assetCode"`
}

// CheckoutRequest is the body of POST /api/split-payments/checkout.
type CheckoutRequest struct {
	SenderWalletURL string              `json:"senderWalletUrl"`
	Recipients      []recipientRequest  `json:"recipients"`
	TotalAmount     *totalAmountRequest `json:"totalAmount"`
}

// Validate rejects malformed checkouts before any network call.
func (r *CheckoutRequest) Validate() error {
	if strings.TrimSpace(r.SenderWalletURL) == "" {
		return dErrors.New(dErrors.CodeValidation, "senderWalletUrl is required")
	}
	if len(r.Recipients) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one recipient is required")
	}
	if r.TotalAmount == nil || r.TotalAmount.Value == nil || strings.TrimSpace(r.TotalAmount.AssetCode) == "" {
		return dErrors.New(dErrors.CodeValidation, "totalAmount.value and totalAmount.assetCode are required")
	}
	if *r.TotalAmount.Value <= 0 {
		return dErrors.New(dErrors.CodeValidation, "totalAmount.value must be a positive integer in minor units")
	}
	weights := make([]decimal.Decimal, len(r.Recipients))
	for i, rec := range r.Recipients {
		if strings.TrimSpace(rec.WalletURL) == "" {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("recipients[%d].walletUrl is required", i))
		}
		if rec.Percentage == nil {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("recipients[%d].percentage is required", i))
		}
		weights[i] = *rec.Percentage
	}
	return allocation.ValidatePercentages(weights)
}

func (r *CheckoutRequest) toInitiate() service.InitiateRequest {
	recipients := make([]models.Recipient, len(r.Recipients))
	for i, rec := range r.Recipients {
		recipients[i] = models.Recipient{
			WalletRef:  strings.TrimSpace(rec.WalletURL),
			Percentage: *rec.Percentage,
		}
	}
	return service.InitiateRequest{
		SenderWallet: strings.TrimSpace(r.SenderWalletURL),
		Recipients:   recipients,
		TotalAmount: models.TotalAmount{
			Value:     *r.TotalAmount.Value,
			AssetCode: strings.TrimSpace(r.TotalAmount.AssetCode),
		},
	}
}

// CompleteRequest is the optional body of POST /api/split-payments/{id}/complete.
type CompleteRequest struct {
	InteractRef string `json:"interactRef"`
}

func (r *CompleteRequest) Validate() error { return nil }

// parseListFilter reads the listing query. Dates accept RFC 3339 or YYYY-MM-DD;
// a bare end date covers the whole day.
func parseListFilter(q url.Values) (models.ListFilter, error) {
	f := models.ListFilter{Page: 1, Limit: models.DefaultPageLimit}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, dErrors.New(dErrors.CodeValidation, "page must be a positive integer")
		}
		f.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > models.MaxPageLimit {
			return f, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("limit must be between 1 and %d", models.MaxPageLimit))
		}
		f.Limit = n
	}
	if v := q.Get("status"); v != "" {
		st := models.Status(strings.ToUpper(v))
		if !st.IsValid() {
			return f, dErrors.New(dErrors.CodeValidation, "unknown status "+v)
		}
		f.Status = st
	}
	var err error
	if f.StartDate, err = parseDate(q.Get("startDate"), false); err != nil {
		return f, err
	}
	if f.EndDate, err = parseDate(q.Get("endDate"), true); err != nil {
		return f, err
	}
	f.WalletRef = strings.TrimSpace(q.Get("walletUrl"))
	return f, nil
}

func parseDate(v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "dates must be RFC 3339 or YYYY-MM-DD")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
