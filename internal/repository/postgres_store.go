package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Cheertaboi/discount-code-service/internal/models"
)

const uniqueViolation = "23505"

const discountCodeColumns = `code, discount_amount, expiration_date, is_active, is_used,
		       created_at, updated_at, deleted_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	query := `
		SELECT ` + discountCodeColumns + `
		FROM discount_codes
		WHERE code = $1;
	`

	dc, err := scanDiscountCode(s.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistenceErr("find discount code", err)
	}
	return dc, nil
}

// InsertMany writes the batch with COPY inside one transaction, so either
// every row lands or none does.
func (s *PostgresStore) InsertMany(ctx context.Context, codes []*models.DiscountCode) error {
	if len(codes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceErr("begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("discount_codes",
		"code", "discount_amount", "expiration_date", "is_active", "is_used",
		"created_at", "updated_at", "deleted_at",
	))
	if err != nil {
		return persistenceErr("prepare copy", err)
	}

	for _, c := range codes {
		if _, err := stmt.ExecContext(ctx,
			c.Code,
			c.DiscountAmount.StringFixed(2),
			c.ExpirationDate,
			c.IsActive,
			c.IsUsed,
			c.CreatedAt,
			nullTime(c.UpdatedAt),
			nullTime(c.DeletedAt),
		); err != nil {
			_ = stmt.Close()
			return persistenceErr("copy row", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return persistenceErr("flush copy", err)
	}
	if err := stmt.Close(); err != nil {
		return persistenceErr("close copy", err)
	}

	if err := tx.Commit(); err != nil {
		return persistenceErr("tx commit", err)
	}
	committed = true
	return nil
}

// Update persists the full record. is_used only ever moves from false to
// true, whatever the caller sends.
func (s *PostgresStore) Update(ctx context.Context, c *models.DiscountCode) error {
	query := `
		UPDATE discount_codes
		SET discount_amount = $2,
		    expiration_date = $3,
		    is_active = $4,
		    is_used = discount_codes.is_used OR $5,
		    updated_at = $6,
		    deleted_at = $7
		WHERE code = $1
	`

	res, err := s.db.ExecContext(ctx, query,
		c.Code,
		c.DiscountAmount.StringFixed(2),
		c.ExpirationDate,
		c.IsActive,
		c.IsUsed,
		nullTime(c.UpdatedAt),
		nullTime(c.DeletedAt),
	)
	if err != nil {
		return persistenceErr("update discount code", err)
	}
	return expectOneRow(res, c.Code)
}

func (s *PostgresStore) MarkUsed(ctx context.Context, code string, at time.Time) error {
	query := `
		UPDATE discount_codes
		SET is_used = TRUE,
		    updated_at = $2
		WHERE code = $1 AND NOT is_used
	`

	res, err := s.db.ExecContext(ctx, query, code, at)
	if err != nil {
		return persistenceErr("mark discount code used", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceErr("rows affected", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM discount_codes WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return persistenceErr("check discount code", err)
	}
	if !exists {
		return fmt.Errorf("%w: %q", models.ErrNotFound, code)
	}
	return fmt.Errorf("%w: %q", models.ErrAlreadyUsed, code)
}

func (s *PostgresStore) Delete(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM discount_codes WHERE code = $1`, code)
	if err != nil {
		return persistenceErr("delete discount code", err)
	}
	return expectOneRow(res, code)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*models.DiscountCode, error) {
	query := `
		SELECT ` + discountCodeColumns + `
		FROM discount_codes
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, persistenceErr("list recent codes", err)
	}
	defer rows.Close()

	out := make([]*models.DiscountCode, 0, limit)
	for rows.Next() {
		dc, err := scanDiscountCode(rows)
		if err != nil {
			return nil, persistenceErr("scan recent code", err)
		}
		out = append(out, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("list recent codes", err)
	}
	return out, nil
}

func (s *PostgresStore) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM discount_codes`)
	if err != nil {
		return nil, persistenceErr("list codes", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, persistenceErr("scan code", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("list codes", err)
	}
	return codes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiscountCode(row rowScanner) (*models.DiscountCode, error) {
	var (
		c         models.DiscountCode
		amount    string
		updatedAt sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&c.Code,
		&amount,
		&c.ExpirationDate,
		&c.IsActive,
		&c.IsUsed,
		&c.CreatedAt,
		&updatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := c.DiscountAmount.Scan(amount); err != nil {
		return nil, fmt.Errorf("discount_amount: %w", err)
	}
	if updatedAt.Valid {
		c.UpdatedAt = &updatedAt.Time
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	return &c, nil
}

func expectOneRow(res sql.Result, code string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceErr("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", models.ErrNotFound, code)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func persistenceErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w: %v", op, models.ErrDuplicateCode, err)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrPersistence, err)
}
