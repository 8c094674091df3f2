package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("discount code not found")
	ErrAlreadyUsed         = errors.New("discount code already used")
	ErrGenerationExhausted = errors.New("could not generate enough unique codes within attempt limit")
	ErrPersistence         = errors.New("persistence failure")
	ErrCache               = errors.New("cache failure")

	// ErrDuplicateCode is a persistence failure caused by the unique constraint on code.
	ErrDuplicateCode = fmt.Errorf("%w: duplicate discount code", ErrPersistence)
)

// ValidateCode checks the shape of a code value supplied by a caller.
func ValidateCode(code string, maxLen int) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: code is required", ErrValidation)
	}
	if len(code) > maxLen {
		return fmt.Errorf("%w: code must be %d characters or fewer", ErrValidation, maxLen)
	}
	return nil
}
