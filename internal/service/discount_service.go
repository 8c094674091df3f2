package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Cheertaboi/discount-code-service/internal/concurrency"
	"github.com/Cheertaboi/discount-code-service/internal/models"
)

// Repository is the cache-aside store the service works against (interface
// so tests can swap in a fake).
type Repository interface {
	GetByCode(ctx context.Context, code string) (*models.DiscountCode, error)
	AddRange(ctx context.Context, codes []*models.DiscountCode) error
	Update(ctx context.Context, code *models.DiscountCode) error
	MarkUsed(ctx context.Context, code *models.DiscountCode) error
	Delete(ctx context.Context, code string) error
	GetAllCodes(ctx context.Context) ([]string, error)
	GetMostRecent(ctx context.Context, n int) ([]string, error)
}

// Generator produces codes that are not in excluding.
type Generator interface {
	Generate(count, length int, excluding []string) ([]string, error)
}

// DiscountService coordinates redemption and generation. Redemptions of the
// same code run one at a time; generation runs one batch at a time across
// the whole process. Create one and share it.
type DiscountService struct {
	repo      Repository
	generator Generator
	logger    *slog.Logger
	now       func() time.Time

	codeLocks *concurrency.KeyedMutex
	genLock   *semaphore.Weighted

	mu         sync.Mutex
	lastGenErr error
}

func NewDiscountService(repo Repository, gen Generator, logger *slog.Logger) *DiscountService {
	if gen == nil {
		gen = NewCodeGenerator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscountService{
		repo:      repo,
		generator: gen,
		logger:    logger.With(slog.String("component", "discount_service")),
		now:       time.Now,
		codeLocks: concurrency.NewKeyedMutex(),
		genLock:   semaphore.NewWeighted(1),
	}
}

// UseCode redeems code and reports what happened. It never returns an error:
// anything unexpected is logged and reported as Exception.
func (s *DiscountService) UseCode(ctx context.Context, code string) Outcome {
	if err := models.ValidateCode(code, models.MaxCodeLength); err != nil {
		s.logger.Info("rejected redemption", slog.String("code", code), slog.Any("error", err))
		return Failure
	}

	unlock, err := s.codeLocks.Lock(ctx, code)
	if err != nil {
		s.logger.Error("acquire code lock", slog.String("code", code), slog.Any("error", err))
		return Exception
	}
	defer unlock()

	dc, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return Failure
		}
		s.logger.Error("load code for redemption", slog.String("code", code), slog.Any("error", err))
		return Exception
	}

	now := s.now().UTC()
	switch {
	case dc.IsDeleted():
		return Deleted
	case !dc.IsActive:
		return Inactive
	case dc.IsUsed:
		return AlreadyUsed
	case dc.IsExpired(now):
		return Expired
	}

	if err := s.repo.MarkUsed(ctx, dc); err != nil {
		switch {
		case errors.Is(err, models.ErrAlreadyUsed):
			return AlreadyUsed
		case errors.Is(err, models.ErrNotFound):
			return Failure
		}
		s.logger.Error("persist redemption", slog.String("code", code), slog.Any("error", err))
		return Exception
	}
	s.logger.Info("code redeemed", slog.String("code", code))
	return Success
}

// GenerateAndAdd creates count new codes of the given length and stores
// them. Only one call runs at a time. It reports false on any failure; the
// cause is logged and kept for LastGenerateError.
func (s *DiscountService) GenerateAndAdd(ctx context.Context, count, length int) bool {
	err := s.generateAndAdd(ctx, count, length)

	s.mu.Lock()
	s.lastGenErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("generate codes",
			slog.Int("count", count), slog.Int("length", length), slog.Any("error", err))
		return false
	}
	s.logger.Info("codes generated", slog.Int("count", count), slog.Int("length", length))
	return true
}

func (s *DiscountService) generateAndAdd(ctx context.Context, count, length int) error {
	if err := s.genLock.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire generation lock: %w", err)
	}
	defer s.genLock.Release(1)

	existing, err := s.repo.GetAllCodes(ctx)
	if err != nil {
		return fmt.Errorf("snapshot existing codes: %w", err)
	}

	codes, err := s.generator.Generate(count, length, existing)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	batch := make([]*models.DiscountCode, 0, len(codes))
	for _, c := range codes {
		batch = append(batch, models.NewDiscountCode(c, now))
	}
	if err := s.repo.AddRange(ctx, batch); err != nil {
		return fmt.Errorf("store generated codes: %w", err)
	}
	return nil
}

// LastGenerateError is the cause of the most recent GenerateAndAdd failure,
// or nil if the most recent call succeeded. It is one value for the whole
// service: with overlapping callers it may belong to another caller's call.
// Callers that need their own cause should read the log.
func (s *DiscountService) LastGenerateError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGenErr
}

func (s *DiscountService) GetAllCodes(ctx context.Context) ([]string, error) {
	return s.repo.GetAllCodes(ctx)
}

func (s *DiscountService) GetMostRecent(ctx context.Context, n int) ([]string, error) {
	return s.repo.GetMostRecent(ctx, n)
}

// GetCode returns the current record for code. It takes the code's lock
// because a cache miss refills the per-code entry.
func (s *DiscountService) GetCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	if err := models.ValidateCode(code, models.MaxCodeLength); err != nil {
		return nil, err
	}
	unlock, err := s.codeLocks.Lock(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.repo.GetByCode(ctx, code)
}

// DeactivateCode turns code off without deleting it.
func (s *DiscountService) DeactivateCode(ctx context.Context, code string) error {
	return s.modify(ctx, code, func(dc *models.DiscountCode, _ time.Time) {
		dc.IsActive = false
	})
}

// SoftDeleteCode marks code deleted and inactive; the row stays.
func (s *DiscountService) SoftDeleteCode(ctx context.Context, code string) error {
	return s.modify(ctx, code, func(dc *models.DiscountCode, now time.Time) {
		dc.MarkDeleted(now)
	})
}

// DeleteCode removes code from the store.
func (s *DiscountService) DeleteCode(ctx context.Context, code string) error {
	if err := models.ValidateCode(code, models.MaxCodeLength); err != nil {
		return err
	}
	unlock, err := s.codeLocks.Lock(ctx, code)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repo.Delete(ctx, code); err != nil {
		return err
	}
	s.logger.Info("code deleted", slog.String("code", code))
	return nil
}

func (s *DiscountService) modify(ctx context.Context, code string, apply func(*models.DiscountCode, time.Time)) error {
	if err := models.ValidateCode(code, models.MaxCodeLength); err != nil {
		return err
	}
	unlock, err := s.codeLocks.Lock(ctx, code)
	if err != nil {
		return err
	}
	defer unlock()

	dc, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	apply(dc, s.now().UTC())
	if err := s.repo.Update(ctx, dc); err != nil {
		return err
	}
	s.logger.Info("code modified", slog.String("code", code),
		slog.Bool("active", dc.IsActive), slog.Bool("deleted", dc.IsDeleted()))
	return nil
}
