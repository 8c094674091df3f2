package db

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS discount_codes (
	code            VARCHAR(50)    PRIMARY KEY,
	discount_amount NUMERIC(18,2)  NOT NULL DEFAULT 10.00,
	expiration_date TIMESTAMPTZ    NOT NULL,
	is_active       BOOLEAN        NOT NULL DEFAULT TRUE,
	is_used         BOOLEAN        NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ    NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ,
	deleted_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_discount_codes_created_at
	ON discount_codes (created_at DESC);
`

// EnsureSchema creates the discount_codes table and its recency index if
// they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
