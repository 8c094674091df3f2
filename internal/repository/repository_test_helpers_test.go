package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Cheertaboi/discount-code-service/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]*models.DiscountCode
	finds   int
	lists   int
	failAll error
}

func newFakeStore(rows ...*models.DiscountCode) *fakeStore {
	s := &fakeStore{rows: map[string]*models.DiscountCode{}}
	for _, r := range rows {
		s.rows[r.Code] = r.Clone()
	}
	return s
}

func (s *fakeStore) FindByCode(_ context.Context, code string) (*models.DiscountCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.failAll != nil {
		return nil, s.failAll
	}
	row, ok := s.rows[code]
	if !ok {
		return nil, nil
	}
	return row.Clone(), nil
}

func (s *fakeStore) InsertMany(_ context.Context, codes []*models.DiscountCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return s.failAll
	}
	seen := map[string]bool{}
	for _, c := range codes {
		if _, exists := s.rows[c.Code]; exists || seen[c.Code] {
			return fmt.Errorf("insert %q: %w", c.Code, models.ErrDuplicateCode)
		}
		seen[c.Code] = true
	}
	for _, c := range codes {
		s.rows[c.Code] = c.Clone()
	}
	return nil
}

func (s *fakeStore) Update(_ context.Context, c *models.DiscountCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return s.failAll
	}
	row, ok := s.rows[c.Code]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrNotFound, c.Code)
	}
	next := c.Clone()
	next.IsUsed = row.IsUsed || c.IsUsed
	next.CreatedAt = row.CreatedAt
	s.rows[c.Code] = next
	return nil
}

func (s *fakeStore) MarkUsed(_ context.Context, code string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return s.failAll
	}
	row, ok := s.rows[code]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrNotFound, code)
	}
	if row.IsUsed {
		return fmt.Errorf("%w: %q", models.ErrAlreadyUsed, code)
	}
	row.IsUsed = true
	row.UpdatedAt = &at
	return nil
}

func (s *fakeStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return s.failAll
	}
	if _, ok := s.rows[code]; !ok {
		return fmt.Errorf("%w: %q", models.ErrNotFound, code)
	}
	delete(s.rows, code)
	return nil
}

func (s *fakeStore) ListRecent(_ context.Context, limit int) ([]*models.DiscountCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.failAll != nil {
		return nil, s.failAll
	}
	out := make([]*models.DiscountCode, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) ListCodes(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.failAll != nil {
		return nil, s.failAll
	}
	out := make([]string, 0, len(s.rows))
	for code := range s.rows {
		out = append(out, code)
	}
	return out, nil
}

func (s *fakeStore) findCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds
}

type recordingCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    []string
	sets    []string
	removes []string
	getErr  error
	setErr  error
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: map[string][]byte{}}
}

func (c *recordingCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets = append(c.gets, key)
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *recordingCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = append(c.sets, key)
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = append([]byte(nil), value...)
	return nil
}

func (c *recordingCache) Remove(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removes = append(c.removes, key)
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok, nil
}

func (c *recordingCache) count(ops []string, key string) int {
	n := 0
	for _, k := range ops {
		if k == key {
			n++
		}
	}
	return n
}

func (c *recordingCache) setCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count(c.sets, key)
}

func (c *recordingCache) removeCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count(c.removes, key)
}

func (c *recordingCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func (c *recordingCache) put(key string, raw string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = []byte(raw)
}

var testEpoch = time.Date(2025, 6, 26, 16, 19, 12, 0, time.UTC)

func codeAt(code string, age time.Duration) *models.DiscountCode {
	dc := models.NewDiscountCode(code, testEpoch.Add(-age))
	return dc
}
