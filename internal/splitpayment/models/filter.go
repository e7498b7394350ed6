package models

import "time"

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ListFilter selects split payments for listing. Zero fields do not filter.
// WalletRef matches the sender or any recipient.
type ListFilter struct {
	Status    Status
	StartDate *time.Time
	EndDate   *time.Time
	WalletRef string
	Page      int
	Limit     int
}

// Offset is the number of rows to skip for the requested page.
func (f ListFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// Matches reports whether sp passes every set filter.
func (f ListFilter) Matches(sp *SplitPayment) bool {
	if f.Status != "" && sp.Status != f.Status {
		return false
	}
	if f.StartDate != nil && sp.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && sp.CreatedAt.After(*f.EndDate) {
		return false
	}
	if f.WalletRef == "" || sp.SenderWallet == f.WalletRef {
		return true
	}
	for _, r := range sp.Recipients {
		if r.WalletRef == f.WalletRef {
			return true
		}
	}
	return false
}

// Page is one page of a listing.
type Page struct {
	Items []*SplitPayment
	Total int
	Page  int
	Limit int
}

// TotalPages is the number of pages at the page's limit.
func (p Page) TotalPages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}
