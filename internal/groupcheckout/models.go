// Package groupcheckout implements the per-payer checkout: a merchant total
// is split evenly across payers and each payer authorizes their own share
// through a separate interactive grant. The redirect back is correlated to
// the pending flow by a single-use nonce.
package groupcheckout

import (
	"splitpay/internal/splitpayment/models"
)

// Entry is the pending-flow context stored under a correlation nonce until
// the payer's authorization redirect comes back.
type Entry struct {
	PayerWallet         string              `json:"payerWallet"`
	PayerResourceServer string              `json:"payerResourceServer"`
	MerchantWallet      string              `json:"merchantWallet"`
	QuoteID             string              `json:"quoteId"`
	DebitAmount         models.Money        `json:"debitAmount"`
	Continuation        models.Continuation `json:"continuation"`
}

// CheckoutRequest starts a group checkout.
type CheckoutRequest struct {
	MerchantWallet string
	TotalMinor     int64
	Payers         []string
}

// PayerResult is what one payer needs to authorize their share.
type PayerResult struct {
	Payer       string `json:"payer"`
	ShareMinor  int64  `json:"shareMinor"`
	RedirectURL string `json:"redirectUrl"`
	Nonce       string `json:"nonce"`
}

// CheckoutResult is returned once every payer has a pending grant.
type CheckoutResult struct {
	Merchant   string        `json:"merchant"`
	TotalMinor int64         `json:"totalMinor"`
	Count      int           `json:"count"`
	Results    []PayerResult `json:"results"`
}

// CallbackResult is the outcome of one payer's completed authorization.
type CallbackResult struct {
	Status            string `json:"status"`
	Payer             string `json:"payer"`
	OutgoingPaymentID string `json:"outgoingPaymentId"`
	Failed            bool   `json:"failed"`
}
