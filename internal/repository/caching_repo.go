package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Cheertaboi/discount-code-service/internal/cache"
	"github.com/Cheertaboi/discount-code-service/internal/models"
)

const (
	RecentCodesLimit = 1000

	RecentCodesKey = "recent_discount_codes"
	AllCodesKey    = "all_discount_codes"

	keyPrefix = "discountcode"

	DefaultCodeTTL       = 5 * time.Minute
	DefaultProjectionTTL = 10 * time.Minute
)

// CodeKey is the primary-key spelling of a per-code cache entry.
func CodeKey(code string) string { return keyPrefix + ":" + code }

// LookupKey is the lookup spelling of a per-code cache entry; GetByCode
// reads and fills this one.
func LookupKey(code string) string { return keyPrefix + ":code:" + code }

type TTLConfig struct {
	Code       time.Duration
	Projection time.Duration
}

type PreloadResult struct {
	Recent int
	All    int
}

// CachingRepository keeps the read cache in step with the store. Reads go
// to the cache first; writes go to the store and then invalidate or refresh
// the affected cache entries. The two steps are not transactional: if the
// cache step fails the stale entry lives until its TTL.
type CachingRepository struct {
	store  Store
	cache  cache.Store
	ttl    TTLConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewCachingRepository(store Store, c cache.Store, ttl TTLConfig, logger *slog.Logger) *CachingRepository {
	if ttl.Code <= 0 {
		ttl.Code = DefaultCodeTTL
	}
	if ttl.Projection <= 0 {
		ttl.Projection = DefaultProjectionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingRepository{
		store:  store,
		cache:  c,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "caching_repository")),
		now:    time.Now,
	}
}

func (r *CachingRepository) GetByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	key := LookupKey(code)

	var cached models.DiscountCode
	hit, err := r.getJSON(ctx, key, &cached)
	if err != nil {
		return nil, err
	}
	if hit {
		r.logger.Debug("cache hit", slog.String("code", code))
		return &cached, nil
	}

	r.logger.Debug("cache miss", slog.String("code", code))
	dc, err := r.store.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, fmt.Errorf("%w: %q", models.ErrNotFound, code)
	}
	if err := r.setJSON(ctx, key, dc, r.ttl.Code); err != nil {
		return nil, err
	}
	return dc, nil
}

// AddRange stamps CreatedAt on every record and persists the batch
// atomically. Duplicate codes fail the whole batch with
// models.ErrDuplicateCode.
func (r *CachingRepository) AddRange(ctx context.Context, codes []*models.DiscountCode) error {
	if len(codes) == 0 {
		return nil
	}
	now := r.now().UTC()
	for _, c := range codes {
		c.CreatedAt = now
	}

	if err := r.store.InsertMany(ctx, codes); err != nil {
		return err
	}
	r.logger.Info("discount codes added", slog.Int("count", len(codes)))

	if err := r.removeKey(ctx, AllCodesKey); err != nil {
		return err
	}
	return r.refreshRecent(ctx, nil)
}

func (r *CachingRepository) Update(ctx context.Context, code *models.DiscountCode) error {
	now := r.now().UTC()
	code.UpdatedAt = &now

	if err := r.store.Update(ctx, code); err != nil {
		return err
	}
	r.logger.Info("discount code updated", slog.String("code", code.Code))

	if err := r.invalidateCode(ctx, code.Code); err != nil {
		return err
	}
	return r.refreshRecent(ctx, code)
}

// MarkUsed redeems code in the store with a conditional write. On success
// code is updated in place. When the store row was already used the cached
// copy is dropped and models.ErrAlreadyUsed is returned.
func (r *CachingRepository) MarkUsed(ctx context.Context, code *models.DiscountCode) error {
	now := r.now().UTC()

	if err := r.store.MarkUsed(ctx, code.Code, now); err != nil {
		if errors.Is(err, models.ErrAlreadyUsed) || errors.Is(err, models.ErrNotFound) {
			r.logger.Warn("stale code snapshot", slog.String("code", code.Code), slog.Any("error", err))
			if cerr := r.invalidateCode(ctx, code.Code); cerr != nil {
				return errors.Join(err, cerr)
			}
		}
		return err
	}
	code.IsUsed = true
	code.UpdatedAt = &now
	r.logger.Info("discount code used", slog.String("code", code.Code))

	if err := r.invalidateCode(ctx, code.Code); err != nil {
		return err
	}
	return r.refreshRecent(ctx, code)
}

func (r *CachingRepository) Delete(ctx context.Context, code string) error {
	if err := r.store.Delete(ctx, code); err != nil {
		return err
	}
	r.logger.Info("discount code deleted", slog.String("code", code))

	if err := r.invalidateCode(ctx, code); err != nil {
		return err
	}
	if err := r.removeKey(ctx, AllCodesKey); err != nil {
		return err
	}
	return r.refreshRecent(ctx, nil)
}

// GetRecent returns at most RecentCodesLimit codes, newest first.
func (r *CachingRepository) GetRecent(ctx context.Context) ([]*models.DiscountCode, error) {
	var recent []*models.DiscountCode
	hit, err := r.getJSON(ctx, RecentCodesKey, &recent)
	if err != nil {
		return nil, err
	}
	if hit {
		r.logger.Debug("cache hit", slog.String("key", RecentCodesKey))
		return sortRecent(recent), nil
	}

	r.logger.Debug("cache miss", slog.String("key", RecentCodesKey))
	recent, err = r.store.ListRecent(ctx, RecentCodesLimit)
	if err != nil {
		return nil, err
	}
	recent = sortRecent(recent)
	if err := r.setJSON(ctx, RecentCodesKey, recent, r.ttl.Projection); err != nil {
		return nil, err
	}
	return recent, nil
}

// GetAllCodes returns every code value in the store, unordered.
func (r *CachingRepository) GetAllCodes(ctx context.Context) ([]string, error) {
	var codes []string
	hit, err := r.getJSON(ctx, AllCodesKey, &codes)
	if err != nil {
		return nil, err
	}
	if hit {
		r.logger.Debug("cache hit", slog.String("key", AllCodesKey))
		return nonNil(codes), nil
	}

	r.logger.Debug("cache miss", slog.String("key", AllCodesKey))
	codes, err = r.store.ListCodes(ctx)
	if err != nil {
		return nil, err
	}
	codes = nonNil(codes)
	if err := r.setJSON(ctx, AllCodesKey, codes, r.ttl.Projection); err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *CachingRepository) GetMostRecent(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: count must be greater than zero", models.ErrValidation)
	}
	recent, err := r.GetRecent(ctx)
	if err != nil {
		return nil, err
	}

	if n > len(recent) {
		n = len(recent)
	}
	out := make([]string, 0, n)
	for _, c := range recent[:n] {
		out = append(out, c.Code)
	}
	return out, nil
}

// Preload re-derives both projections from the store and overwrites the
// cached copies without reading them.
func (r *CachingRepository) Preload(ctx context.Context) (PreloadResult, error) {
	var (
		recent []*models.DiscountCode
		all    []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recent, err = r.store.ListRecent(gctx, RecentCodesLimit)
		return err
	})
	g.Go(func() error {
		var err error
		all, err = r.store.ListCodes(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return PreloadResult{}, err
	}

	recent = sortRecent(recent)
	all = nonNil(all)
	if err := r.setJSON(ctx, RecentCodesKey, recent, r.ttl.Projection); err != nil {
		return PreloadResult{}, err
	}
	if err := r.setJSON(ctx, AllCodesKey, all, r.ttl.Projection); err != nil {
		return PreloadResult{}, err
	}
	return PreloadResult{Recent: len(recent), All: len(all)}, nil
}

// refreshRecent splices changed into the cached projection when there is
// one, and otherwise rebuilds it from the store. A nil changed always
// rebuilds.
func (r *CachingRepository) refreshRecent(ctx context.Context, changed *models.DiscountCode) error {
	var recent []*models.DiscountCode
	hit, err := r.getJSON(ctx, RecentCodesKey, &recent)
	if err != nil {
		return err
	}

	if hit && changed != nil {
		recent = spliceRecent(recent, changed.Clone())
	} else {
		recent, err = r.store.ListRecent(ctx, RecentCodesLimit)
		if err != nil {
			return err
		}
		recent = sortRecent(recent)
	}
	return r.setJSON(ctx, RecentCodesKey, recent, r.ttl.Projection)
}

func (r *CachingRepository) invalidateCode(ctx context.Context, code string) error {
	if err := r.removeKey(ctx, CodeKey(code)); err != nil {
		return err
	}
	return r.removeKey(ctx, LookupKey(code))
}

func (r *CachingRepository) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache get %q: %w: %v", key, models.ErrCache, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.logger.Warn("cache payload undecodable, treating as miss",
			slog.String("key", key), slog.Any("error", err))
		return false, nil
	}
	return true, nil
}

func (r *CachingRepository) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w: %v", key, models.ErrCache, err)
	}
	if err := r.cache.Set(ctx, key, payload, ttl); err != nil {
		return fmt.Errorf("cache set %q: %w: %v", key, models.ErrCache, err)
	}
	return nil
}

func (r *CachingRepository) removeKey(ctx context.Context, key string) error {
	removed, err := r.cache.Remove(ctx, key)
	if err != nil {
		return fmt.Errorf("cache remove %q: %w: %v", key, models.ErrCache, err)
	}
	if removed {
		r.logger.Debug("cache entry removed", slog.String("key", key))
	}
	return nil
}

func sortRecent(recent []*models.DiscountCode) []*models.DiscountCode {
	out := make([]*models.DiscountCode, 0, len(recent))
	for _, c := range recent {
		if c != nil {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > RecentCodesLimit {
		out = out[:RecentCodesLimit]
	}
	return out
}

// spliceRecent drops any stale snapshot of changed and inserts the new one
// at its createdAt position, trimming the tail to RecentCodesLimit.
func spliceRecent(recent []*models.DiscountCode, changed *models.DiscountCode) []*models.DiscountCode {
	recent = sortRecent(recent)

	kept := recent[:0]
	for _, c := range recent {
		if c.Code != changed.Code {
			kept = append(kept, c)
		}
	}

	i := sort.Search(len(kept), func(i int) bool {
		return !kept[i].CreatedAt.After(changed.CreatedAt)
	})
	kept = append(kept, nil)
	copy(kept[i+1:], kept[i:])
	kept[i] = changed

	if len(kept) > RecentCodesLimit {
		kept = kept[:RecentCodesLimit]
	}
	return kept
}

func nonNil(codes []string) []string {
	if codes == nil {
		return []string{}
	}
	return codes
}
