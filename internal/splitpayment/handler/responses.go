package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"splitpay/internal/splitpayment/models"
)

type recipientError struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

type reservationView struct {
	Recipient       string          `json:"recipient"`
	Percentage      decimal.Decimal `json:"percentage"`
	AllocatedAmount int64           `json:"allocatedAmount"`
	Status          string          `json:"status"`
	AssetCode       string          `json:"assetCode,omitempty"`
	ReservationID   string          `json:"reservationId,omitempty"`
	Error           string          `json:"error,omitempty"`
}

type executionView struct {
	Recipient   string          `json:"recipient"`
	Percentage  decimal.Decimal `json:"percentage"`
	QuoteID     string          `json:"quoteId"`
	Status      string          `json:"status"`
	ExecutionID string          `json:"outgoingPaymentId,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type checkoutSummary struct {
	TotalRecipients      int           `json:"totalRecipients"`
	SuccessfulRecipients int           `json:"successfulRecipients"`
	FailedRecipients     int           `json:"failedRecipients"`
	TotalDebitAmount     *models.Money `json:"totalDebitAmount,omitempty"`
}

type checkoutResponse struct {
	SplitPaymentID string            `json:"splitPaymentId"`
	RedirectURL    string            `json:"redirectUrl"`
	Status         models.Status     `json:"status"`
	Summary        checkoutSummary   `json:"summary"`
	Recipients     []reservationView `json:"recipients"`
	Errors         []recipientError  `json:"errors"`
}

type completeSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Errors     int `json:"errors"`
}

type completeResponse struct {
	SplitPaymentID string           `json:"splitPaymentId"`
	Status         models.Status    `json:"status"`
	Executions     []executionView  `json:"executions"`
	Errors         []recipientError `json:"errors"`
	Summary        completeSummary  `json:"summary"`
}

// paymentView is the public snapshot. The grant continuation is never exposed.
type paymentView struct {
	SplitPaymentID   string               `json:"splitPaymentId"`
	SenderWalletURL  string               `json:"senderWalletUrl"`
	Recipients       []models.Recipient   `json:"recipients"`
	TotalAmount      models.TotalAmount   `json:"totalAmount"`
	Status           models.Status        `json:"status"`
	Reservations     []reservationView    `json:"reservations"`
	Quotes           []models.QuoteRecord `json:"quotes"`
	Executions       []executionView      `json:"executions"`
	RedirectURL      string               `json:"redirectUrl,omitempty"`
	TotalDebitAmount *models.Money        `json:"totalDebitAmount,omitempty"`
	InteractRef      string               `json:"interactRef,omitempty"`
	Error            string               `json:"error,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
	CompletedAt      *time.Time           `json:"completedAt,omitempty"`
	FailedAt         *time.Time           `json:"failedAt,omitempty"`
}

type listResponse struct {
	Payments   []paymentView `json:"payments"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"totalPages"`
}

func reservationViews(outcomes []models.ReservationOutcome) []reservationView {
	views := make([]reservationView, 0, len(outcomes))
	for _, o := range outcomes {
		a := models.AllocationOf(o)
		v := reservationView{Recipient: a.WalletRef, Percentage: a.Percentage, AllocatedAmount: a.Amount}
		switch r := o.(type) {
		case models.ReservationSucceeded:
			v.Status = "reserved"
			v.AssetCode = r.AssetCode
			v.ReservationID = r.ReservationID
		case models.ReservationFailed:
			v.Status = "failed"
			v.AssetCode = r.AssetCode
			v.Error = r.Error
		}
		views = append(views, v)
	}
	return views
}

func executionViews(outcomes []models.ExecutionOutcome) []executionView {
	views := make([]executionView, 0, len(outcomes))
	for _, o := range outcomes {
		t := models.TargetOf(o)
		v := executionView{Recipient: t.WalletRef, Percentage: t.Percentage, QuoteID: t.QuoteID}
		switch e := o.(type) {
		case models.ExecutionCreated:
			v.Status = "created"
			if e.Failed {
				v.Status = "failed"
			}
			v.ExecutionID = e.ExecutionID
		case models.ExecutionErrored:
			v.Status = "errored"
			v.Error = e.Error
		}
		views = append(views, v)
	}
	return views
}

func reservationErrors(sp *models.SplitPayment) []recipientError {
	errs := []recipientError{}
	for _, f := range sp.FailedReservations() {
		errs = append(errs, recipientError{Recipient: f.WalletRef, Error: f.Error})
	}
	return errs
}

func executionErrors(sp *models.SplitPayment) []recipientError {
	errs := []recipientError{}
	for _, e := range sp.ExecutionErrors() {
		errs = append(errs, recipientError{Recipient: e.WalletRef, Error: e.Error})
	}
	return errs
}

func toCheckoutResponse(sp *models.SplitPayment) checkoutResponse {
	return checkoutResponse{
		SplitPaymentID: sp.ID.String(),
		RedirectURL:    sp.RedirectURL,
		Status:         sp.Status,
		Summary: checkoutSummary{
			TotalRecipients:      len(sp.Recipients),
			SuccessfulRecipients: len(sp.SuccessfulReservations()),
			FailedRecipients:     len(sp.FailedReservations()),
			TotalDebitAmount:     sp.TotalDebitAmount,
		},
		Recipients: reservationViews(sp.Reservations),
		Errors:     reservationErrors(sp),
	}
}

func toCompleteResponse(sp *models.SplitPayment) completeResponse {
	created := sp.CreatedExecutions()
	successful := 0
	for _, c := range created {
		if !c.Failed {
			successful++
		}
	}
	errored := len(sp.ExecutionErrors())
	return completeResponse{
		SplitPaymentID: sp.ID.String(),
		Status:         sp.Status,
		Executions:     executionViews(sp.Executions),
		Errors:         executionErrors(sp),
		Summary: completeSummary{
			Total:      len(sp.Executions),
			Successful: successful,
			Failed:     len(created) - successful,
			Errors:     errored,
		},
	}
}

func toPaymentView(sp *models.SplitPayment) paymentView {
	quotes := sp.Quotes
	if quotes == nil {
		quotes = []models.QuoteRecord{}
	}
	return paymentView{
		SplitPaymentID:   sp.ID.String(),
		SenderWalletURL:  sp.SenderWallet,
		Recipients:       sp.Recipients,
		TotalAmount:      sp.TotalAmount,
		Status:           sp.Status,
		Reservations:     reservationViews(sp.Reservations),
		Quotes:           quotes,
		Executions:       executionViews(sp.Executions),
		RedirectURL:      sp.RedirectURL,
		TotalDebitAmount: sp.TotalDebitAmount,
		InteractRef:      sp.InteractRef,
		Error:            sp.FailureReason,
		CreatedAt:        sp.CreatedAt,
		UpdatedAt:        sp.UpdatedAt,
		CompletedAt:      sp.CompletedAt,
		FailedAt:         sp.FailedAt,
	}
}

func toListResponse(page models.Page) listResponse {
	views := make([]paymentView, 0, len(page.Items))
	for _, sp := range page.Items {
		views = append(views, toPaymentView(sp))
	}
	return listResponse{
		Payments:   views,
		Total:      page.Total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: page.TotalPages(),
	}
}
