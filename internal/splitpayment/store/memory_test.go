package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"splitpay/internal/splitpayment/models"
	"splitpay/pkg/platform/sentinel"
)

// Justification: the in-memory store backs the default deployment; the
// conditional update is what keeps concurrent completions from both winning.
type InMemorySuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func payment(sender string, createdAt time.Time, recipients ...string) *models.SplitPayment {
	var rs []models.Recipient
	for _, r := range recipients {
		rs = append(rs, models.Recipient{WalletRef: r, Percentage: decimal.NewFromInt(100).Div(decimal.NewFromInt(int64(len(recipients))))})
	}
	sp := models.New(sender, rs, models.TotalAmount{Value: 1000, AssetCode: "USD"}, createdAt)
	sp.Status = models.StatusPendingAuthorization
	return sp
}

func (s *InMemorySuite) TestCreateAndFind() {
	sp := payment("https://ilp.test/payer", time.Now(), "https://ilp.test/w1")
	s.Require().NoError(s.store.Create(s.ctx, sp))

	s.Run("duplicate create conflicts", func() {
		s.ErrorIs(s.store.Create(s.ctx, sp), sentinel.ErrConflict)
	})

	s.Run("returns a copy", func() {
		got, err := s.store.FindByID(s.ctx, sp.ID)
		s.Require().NoError(err)
		got.Recipients[0].WalletRef = "mutated"

		again, err := s.store.FindByID(s.ctx, sp.ID)
		s.Require().NoError(err)
		s.Equal("https://ilp.test/w1", again.Recipients[0].WalletRef)
	})

	s.Run("unknown id", func() {
		_, err := s.store.FindByID(s.ctx, models.New("x", nil, models.TotalAmount{}, time.Now()).ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemorySuite) TestUpdateIsConditional() {
	sp := payment("https://ilp.test/payer", time.Now(), "https://ilp.test/w1")
	s.Require().NoError(s.store.Create(s.ctx, sp))

	done := sp.Clone()
	s.Require().NoError(done.Finish(models.StatusCompleted, nil, time.Now()))

	s.Require().NoError(s.store.Update(s.ctx, done, models.StatusPendingAuthorization))
	s.ErrorIs(s.store.Update(s.ctx, done, models.StatusPendingAuthorization), sentinel.ErrConflict)

	got, err := s.store.FindByID(s.ctx, sp.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, got.Status)
}

func (s *InMemorySuite) TestConcurrentUpdatesHaveOneWinner() {
	sp := payment("https://ilp.test/payer", time.Now(), "https://ilp.test/w1")
	s.Require().NoError(s.store.Create(s.ctx, sp))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := sp.Clone()
			_ = next.Finish(models.StatusCompleted, nil, time.Now())
			if s.store.Update(s.ctx, next, models.StatusPendingAuthorization) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func (s *InMemorySuite) TestList() {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	a := payment("https://ilp.test/alice", base, "https://ilp.test/w1")
	b := payment("https://ilp.test/bob", base.Add(time.Hour), "https://ilp.test/w2", "https://ilp.test/alice")
	c := payment("https://ilp.test/carol", base.Add(2*time.Hour), "https://ilp.test/w1")
	c.Status = models.StatusFailed
	for _, sp := range []*models.SplitPayment{a, b, c} {
		s.Require().NoError(s.store.Create(s.ctx, sp))
	}

	s.Run("newest first with paging", func() {
		items, total, err := s.store.List(s.ctx, models.ListFilter{Page: 1, Limit: 2})
		s.Require().NoError(err)
		s.Equal(3, total)
		s.Require().Len(items, 2)
		s.Equal(c.ID, items[0].ID)
		s.Equal(b.ID, items[1].ID)

		items, _, err = s.store.List(s.ctx, models.ListFilter{Page: 2, Limit: 2})
		s.Require().NoError(err)
		s.Require().Len(items, 1)
		s.Equal(a.ID, items[0].ID)

		items, total, err = s.store.List(s.ctx, models.ListFilter{Page: 5, Limit: 2})
		s.Require().NoError(err)
		s.Empty(items)
		s.Equal(3, total)
	})

	s.Run("wallet matches sender or recipient", func() {
		items, total, err := s.store.List(s.ctx, models.ListFilter{WalletRef: "https://ilp.test/alice", Page: 1, Limit: 10})
		s.Require().NoError(err)
		s.Equal(2, total)
		s.Equal(b.ID, items[0].ID)
		s.Equal(a.ID, items[1].ID)
	})

	s.Run("status and date range", func() {
		_, total, err := s.store.List(s.ctx, models.ListFilter{Status: models.StatusFailed, Page: 1, Limit: 10})
		s.Require().NoError(err)
		s.Equal(1, total)

		start, end := base.Add(30*time.Minute), base.Add(90*time.Minute)
		items, total, err := s.store.List(s.ctx, models.ListFilter{StartDate: &start, EndDate: &end, Page: 1, Limit: 10})
		s.Require().NoError(err)
		s.Equal(1, total)
		s.Equal(b.ID, items[0].ID)
	})
}
