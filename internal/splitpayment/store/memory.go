// Package store persists split payments in memory or in PostgreSQL.
package store

import (
	"context"
	"sort"
	"sync"

	"splitpay/internal/splitpayment/models"
	id "splitpay/pkg/domain"
	"splitpay/pkg/platform/sentinel"
)

// InMemory keeps split payments in a map. Reads and writes copy the
// aggregate so callers never share state with the store.
type InMemory struct {
	mu       sync.RWMutex
	payments map[id.SplitPaymentID]*models.SplitPayment
}

func NewInMemory() *InMemory {
	return &InMemory{payments: make(map[id.SplitPaymentID]*models.SplitPayment)}
}

// Create inserts sp. An existing id is a conflict.
func (s *InMemory) Create(_ context.Context, sp *models.SplitPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[sp.ID]; ok {
		return sentinel.ErrConflict
	}
	s.payments[sp.ID] = sp.Clone()
	return nil
}

// FindByID returns a copy of the payment.
func (s *InMemory) FindByID(_ context.Context, paymentID id.SplitPaymentID) (*models.SplitPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.payments[paymentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return sp.Clone(), nil
}

// Update replaces the stored payment only if its status is still expected.
func (s *InMemory) Update(_ context.Context, sp *models.SplitPayment, expected models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.payments[sp.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Status != expected {
		return sentinel.ErrConflict
	}
	s.payments[sp.ID] = sp.Clone()
	return nil
}

// List returns matching payments, newest first.
func (s *InMemory) List(_ context.Context, filter models.ListFilter) ([]*models.SplitPayment, int, error) {
	s.mu.RLock()
	var matched []*models.SplitPayment
	for _, sp := range s.payments {
		if filter.Matches(sp) {
			matched = append(matched, sp.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := min(filter.Offset(), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total, nil
}
