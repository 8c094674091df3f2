package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MaxCodeLength = 50

	defaultValidity = 30 * 24 * time.Hour
)

var defaultDiscountAmount = decimal.NewFromFloat(10.0)

type DiscountCode struct {
	Code           string          `json:"code"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	ExpirationDate time.Time       `json:"expirationDate"`
	IsActive       bool            `json:"isActive"`
	IsUsed         bool            `json:"isUsed"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      *time.Time      `json:"updatedAt,omitempty"`
	DeletedAt      *time.Time      `json:"deletedAt,omitempty"`
}

// NewDiscountCode returns an active, unused code worth the default amount
// that expires thirty days after now.
func NewDiscountCode(code string, now time.Time) *DiscountCode {
	return &DiscountCode{
		Code:           code,
		DiscountAmount: defaultDiscountAmount,
		ExpirationDate: now.Add(defaultValidity),
		IsActive:       true,
		CreatedAt:      now,
	}
}

func (d *DiscountCode) IsDeleted() bool {
	return d.DeletedAt != nil
}

// IsExpired reports whether the code can no longer be used at now.
func (d *DiscountCode) IsExpired(now time.Time) bool {
	return !now.Before(d.ExpirationDate)
}

// MarkDeleted soft-deletes the code. A deleted code is never active.
func (d *DiscountCode) MarkDeleted(now time.Time) {
	t := now
	d.DeletedAt = &t
	d.IsActive = false
}

// Clone returns a deep copy so cached snapshots are never shared with callers.
func (d *DiscountCode) Clone() *DiscountCode {
	c := *d
	if d.UpdatedAt != nil {
		t := *d.UpdatedAt
		c.UpdatedAt = &t
	}
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}
