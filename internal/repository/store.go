package repository

import (
	"context"
	"time"

	"github.com/Cheertaboi/discount-code-service/internal/models"
)

// Store is the authoritative discount code store. Implementations enforce
// uniqueness of code and report violations as models.ErrDuplicateCode.
type Store interface {
	FindByCode(ctx context.Context, code string) (*models.DiscountCode, error)
	InsertMany(ctx context.Context, codes []*models.DiscountCode) error
	Update(ctx context.Context, code *models.DiscountCode) error
	// MarkUsed flips is_used only if it is still false. A row that is
	// already used reports models.ErrAlreadyUsed.
	MarkUsed(ctx context.Context, code string, at time.Time) error
	Delete(ctx context.Context, code string) error
	ListRecent(ctx context.Context, limit int) ([]*models.DiscountCode, error)
	ListCodes(ctx context.Context) ([]string, error)
}
