package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"splitpay/internal/openpayments/optest"
	dErrors "splitpay/pkg/domain-errors"
)

type WalletSuite struct {
	suite.Suite
	mr  *miniredis.Miniredis
	net *optest.Fake
	svc *Service
}

func TestWalletSuite(t *testing.T) {
	suite.Run(t, new(WalletSuite))
}

func (s *WalletSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.T().Cleanup(func() { _ = client.Close() })

	s.net = optest.New()
	s.net.AddWallet("https://ilp.test/alice", "USD", 2)
	s.svc = NewService(s.net, NewRedisCache(client, time.Minute), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Justification: repeated lookups must not hit the wallet server until the
// cached entry expires.
func (s *WalletSuite) TestInfoIsCached() {
	ctx := context.Background()

	s.Run("first lookup resolves", func() {
		info, err := s.svc.Info(ctx, "https://ilp.test/alice")
		s.Require().NoError(err)
		s.False(info.Cached)
		s.Equal("USD", info.AssetCode)
		s.Equal(int64(1), s.net.Calls())
	})

	s.Run("second lookup is served from redis", func() {
		info, err := s.svc.Info(ctx, " https://ilp.test/alice ")
		s.Require().NoError(err)
		s.True(info.Cached)
		s.Equal(int64(1), s.net.Calls())
		s.True(s.mr.Exists("wallet_info:https://ilp.test/alice"))
	})

	s.Run("expired entry resolves again", func() {
		s.mr.FastForward(2 * time.Minute)
		info, err := s.svc.Info(ctx, "https://ilp.test/alice")
		s.Require().NoError(err)
		s.False(info.Cached)
		s.Equal(int64(2), s.net.Calls())
	})
}

func (s *WalletSuite) TestInfoErrors() {
	ctx := context.Background()

	s.Run("empty reference", func() {
		_, err := s.svc.Info(ctx, "  ")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unresolvable wallet", func() {
		s.net.FailResolve("https://ilp.test/bob", errors.New("no such host"))
		_, err := s.svc.Info(ctx, "https://ilp.test/bob")
		s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	})

	s.Run("redis outage falls back to a live lookup", func() {
		s.mr.Close()
		info, err := s.svc.Info(ctx, "https://ilp.test/alice")
		s.Require().NoError(err)
		s.False(info.Cached)
	})
}

func (s *WalletSuite) TestHandler() {
	r := chi.NewRouter()
	NewHandler(s.svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	s.Run("found", func() {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/payments/wallet?walletUrl=https://ilp.test/alice", nil))
		s.Require().Equal(http.StatusOK, w.Code)
		var body struct {
			Data map[string]any `json:"data"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
		s.Equal("https://ilp.test/alice", body.Data["id"])
		s.Equal(false, body.Data["cached"])
	})

	s.Run("missing query", func() {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/payments/wallet", nil))
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }
	net := optest.New()
	net.AddWallet("https://ilp.test/alice", "EUR", 2)
	svc := NewService(net, c, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx := context.Background()
	if _, err := svc.Info(ctx, "https://ilp.test/alice"); err != nil {
		t.Fatal(err)
	}
	info, err := svc.Info(ctx, "https://ilp.test/alice")
	if err != nil || !info.Cached {
		t.Fatalf("expected cached hit, got %+v %v", info, err)
	}
	now = now.Add(time.Minute)
	info, err = svc.Info(ctx, "https://ilp.test/alice")
	if err != nil || info.Cached {
		t.Fatalf("expected expired entry, got %+v %v", info, err)
	}
}
