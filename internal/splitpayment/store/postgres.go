package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"splitpay/internal/splitpayment/models"
	id "splitpay/pkg/domain"
	"splitpay/pkg/platform/sentinel"
	"splitpay/pkg/platform/tx"
)

const uniqueViolation = "23505"

// querier is what both the pool and a transaction offer.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores each split payment as a JSONB document with the columns
// listing filters on.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) q(ctx context.Context) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.pool
}

// Create inserts sp.
func (s *Postgres) Create(ctx context.Context, sp *models.SplitPayment) error {
	doc, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("encode split payment: %w", err)
	}
	_, err = s.q(ctx).Exec(ctx, `
		INSERT INTO split_payments (id, sender_wallet, recipient_wallets, status, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(sp.ID), sp.SenderWallet, sp.RecipientWallets(), string(sp.Status), doc, sp.CreatedAt, sp.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert split payment: %w", err)
	}
	return nil
}

// FindByID loads one payment.
func (s *Postgres) FindByID(ctx context.Context, paymentID id.SplitPaymentID) (*models.SplitPayment, error) {
	var doc []byte
	err := s.q(ctx).QueryRow(ctx, `SELECT document FROM split_payments WHERE id = $1`, uuid.UUID(paymentID)).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find split payment: %w", err)
	}
	return decode(doc)
}

// Update replaces the payment when its stored status is still expected. The
// row is locked for the duration so concurrent completions serialize.
func (s *Postgres) Update(ctx context.Context, sp *models.SplitPayment, expected models.Status) error {
	doc, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("encode split payment: %w", err)
	}
	return tx.Run(ctx, s.pool, func(ctx context.Context) error {
		var current string
		err := s.q(ctx).QueryRow(ctx, `SELECT status FROM split_payments WHERE id = $1 FOR UPDATE`, uuid.UUID(sp.ID)).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock split payment: %w", err)
		}
		if models.Status(current) != expected {
			return sentinel.ErrConflict
		}
		_, err = s.q(ctx).Exec(ctx, `
			UPDATE split_payments SET status = $2, document = $3, updated_at = $4 WHERE id = $1`,
			uuid.UUID(sp.ID), string(sp.Status), doc, sp.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update split payment: %w", err)
		}
		return nil
	})
}

// List returns matching payments, newest first, and the total match count.
func (s *Postgres) List(ctx context.Context, filter models.ListFilter) ([]*models.SplitPayment, int, error) {
	where, args := listWhere(filter)

	var total int
	if err := s.q(ctx).QueryRow(ctx, `SELECT count(*) FROM split_payments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count split payments: %w", err)
	}

	query := `SELECT document FROM split_payments` + where + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list split payments: %w", err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, 0, fmt.Errorf("scan split payments: %w", err)
	}

	out := make([]*models.SplitPayment, 0, len(docs))
	for _, doc := range docs {
		sp, err := decode(doc)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sp)
	}
	return out, total, nil
}

func listWhere(f models.ListFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.StartDate != nil {
		add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= $%d", *f.EndDate)
	}
	if f.WalletRef != "" {
		args = append(args, f.WalletRef)
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(sender_wallet = $%d OR $%d = ANY(recipient_wallets))", n, n))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func decode(doc []byte) (*models.SplitPayment, error) {
	var sp models.SplitPayment
	if err := json.Unmarshal(doc, &sp); err != nil {
		return nil, fmt.Errorf("decode split payment: %w", err)
	}
	return &sp, nil
}
