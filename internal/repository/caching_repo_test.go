package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Cheertaboi/discount-code-service/internal/models"
)

func newCachingRepoForTest(t *testing.T, store *fakeStore) (*CachingRepository, *recordingCache) {
	t.Helper()
	c := newRecordingCache()
	repo := NewCachingRepository(store, c, TTLConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	repo.now = func() time.Time { return testEpoch }
	return repo, c
}

func TestGetByCodeCacheMissThenHit(t *testing.T) {
	store := newFakeStore(codeAt("C1", time.Hour))
	repo, c := newCachingRepoForTest(t, store)
	ctx := context.Background()

	got, err := repo.GetByCode(ctx, "C1")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if got.Code != "C1" {
		t.Fatalf("expected C1, got %q", got.Code)
	}
	if store.findCount() != 1 {
		t.Fatalf("expected one store read, got %d", store.findCount())
	}
	if n := c.setCount(LookupKey("C1")); n != 1 {
		t.Fatalf("expected one cache write, got %d", n)
	}

	if _, err := repo.GetByCode(ctx, "C1"); err != nil {
		t.Fatalf("second get by code: %v", err)
	}
	if store.findCount() != 1 {
		t.Fatalf("expected cached read to skip store, got %d store reads", store.findCount())
	}
}

func TestGetByCodeNotFound(t *testing.T) {
	repo, c := newCachingRepoForTest(t, newFakeStore())

	_, err := repo.GetByCode(context.Background(), "NOTFOUND")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if c.setCount(LookupKey("NOTFOUND")) != 0 {
		t.Fatal("expected nothing cached for a missing code")
	}
}

func TestGetByCodeUndecodableEntryFallsThroughToStore(t *testing.T) {
	store := newFakeStore(codeAt("C2", time.Hour))
	repo, c := newCachingRepoForTest(t, store)
	c.put(LookupKey("C2"), "{not json")

	got, err := repo.GetByCode(context.Background(), "C2")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if got.Code != "C2" || store.findCount() != 1 {
		t.Fatalf("expected store fallback, code=%q finds=%d", got.Code, store.findCount())
	}
}

func TestGetByCodePropagatesCacheAndStoreErrors(t *testing.T) {
	repo, c := newCachingRepoForTest(t, newFakeStore())
	c.getErr = errors.New("connection refused")
	if _, err := repo.GetByCode(context.Background(), "X"); !errors.Is(err, models.ErrCache) {
		t.Fatalf("expected cache error, got %v", err)
	}

	store := newFakeStore()
	store.failAll = fmt.Errorf("%w: boom", models.ErrPersistence)
	repo, _ = newCachingRepoForTest(t, store)
	if _, err := repo.GetByCode(context.Background(), "X"); !errors.Is(err, models.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestAddRangeStampsCreatedAtAndRefreshesRecent(t *testing.T) {
	store := newFakeStore()
	repo, c := newCachingRepoForTest(t, store)
	c.put(AllCodesKey, `["OLD"]`)

	codes := []*models.DiscountCode{
		models.NewDiscountCode("ADD1", time.Time{}),
		models.NewDiscountCode("ADD2", time.Time{}),
	}
	if err := repo.AddRange(context.Background(), codes); err != nil {
		t.Fatalf("add range: %v", err)
	}

	for _, code := range codes {
		if !code.CreatedAt.Equal(testEpoch) {
			t.Fatalf("expected CreatedAt stamped to now, got %v", code.CreatedAt)
		}
	}
	if len(store.rows) != 2 {
		t.Fatalf("expected 2 rows persisted, got %d", len(store.rows))
	}
	if c.setCount(RecentCodesKey) != 1 {
		t.Fatalf("expected recent projection written once, got %d", c.setCount(RecentCodesKey))
	}
	if c.has(AllCodesKey) {
		t.Fatal("expected all-codes projection dropped after insert")
	}
}

func TestAddRangeRejectsDuplicatesWithoutPartialWrite(t *testing.T) {
	store := newFakeStore(codeAt("DUP", time.Hour))
	repo, c := newCachingRepoForTest(t, store)

	err := repo.AddRange(context.Background(), []*models.DiscountCode{
		models.NewDiscountCode("NEW1", testEpoch),
		models.NewDiscountCode("DUP", testEpoch),
	})
	if !errors.Is(err, models.ErrDuplicateCode) || !errors.Is(err, models.ErrPersistence) {
		t.Fatalf("expected duplicate persistence error, got %v", err)
	}
	if _, ok := store.rows["NEW1"]; ok {
		t.Fatal("expected batch to be rejected as a whole")
	}
	if c.setCount(RecentCodesKey) != 0 {
		t.Fatal("expected no projection refresh after failed insert")
	}

	err = repo.AddRange(context.Background(), []*models.DiscountCode{
		models.NewDiscountCode("SAME", testEpoch),
		models.NewDiscountCode("SAME", testEpoch),
	})
	if !errors.Is(err, models.ErrDuplicateCode) {
		t.Fatalf("expected in-batch duplicate to be rejected, got %v", err)
	}
}

func TestUpdateInvalidatesBothKeysAndSplicesRecent(t *testing.T) {
	store := newFakeStore(codeAt("UPD", 2*time.Hour), codeAt("NEWER", time.Hour), codeAt("OLDER", 3*time.Hour))
	repo, c := newCachingRepoForTest(t, store)
	ctx := context.Background()

	if _, err := repo.GetRecent(ctx); err != nil {
		t.Fatalf("prime recent: %v", err)
	}
	if _, err := repo.GetByCode(ctx, "UPD"); err != nil {
		t.Fatalf("prime code: %v", err)
	}
	listsBefore := store.lists

	code, _ := store.FindByCode(ctx, "UPD")
	code.IsActive = false
	if err := repo.Update(ctx, code); err != nil {
		t.Fatalf("update: %v", err)
	}

	if store.rows["UPD"].IsActive {
		t.Fatal("expected store row updated")
	}
	if store.rows["UPD"].UpdatedAt == nil {
		t.Fatal("expected UpdatedAt stamped")
	}
	if c.removeCount(CodeKey("UPD")) != 1 || c.removeCount(LookupKey("UPD")) != 1 {
		t.Fatalf("expected both per-code keys invalidated, removes=%v", c.removes)
	}
	if c.has(LookupKey("UPD")) {
		t.Fatal("expected lookup entry gone")
	}
	if store.lists != listsBefore {
		t.Fatal("expected incremental splice, not a store re-derivation")
	}

	recent, err := repo.GetRecent(ctx)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	want := []string{"NEWER", "UPD", "OLDER"}
	if len(recent) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(recent))
	}
	for i, code := range want {
		if recent[i].Code != code {
			t.Fatalf("position %d: want %s got %s", i, code, recent[i].Code)
		}
	}
	if recent[1].IsActive {
		t.Fatal("expected spliced snapshot to carry the update")
	}
}

func TestUpdateWithoutCachedRecentRederives(t *testing.T) {
	store := newFakeStore(codeAt("U1", time.Hour))
	repo, c := newCachingRepoForTest(t, store)

	code, _ := store.FindByCode(context.Background(), "U1")
	code.IsUsed = true
	if err := repo.Update(context.Background(), code); err != nil {
		t.Fatalf("update: %v", err)
	}
	if store.lists != 1 {
		t.Fatalf("expected a full re-derivation, got %d list calls", store.lists)
	}
	if c.setCount(RecentCodesKey) != 1 {
		t.Fatal("expected recent projection written")
	}
}

func TestMarkUsedInvalidatesAndSplicesRecent(t *testing.T) {
	store := newFakeStore(codeAt("REDEEM1", time.Hour))
	repo, c := newCachingRepoForTest(t, store)
	ctx := context.Background()

	if _, err := repo.GetRecent(ctx); err != nil {
		t.Fatalf("prime recent: %v", err)
	}
	code, err := repo.GetByCode(ctx, "REDEEM1")
	if err != nil {
		t.Fatalf("prime code: %v", err)
	}

	if err := repo.MarkUsed(ctx, code); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if !code.IsUsed || code.UpdatedAt == nil || !store.rows["REDEEM1"].IsUsed {
		t.Fatalf("expected record and row used, got %+v", code)
	}
	if c.has(LookupKey("REDEEM1")) || c.removeCount(CodeKey("REDEEM1")) != 1 {
		t.Fatalf("expected both per-code keys invalidated, removes=%v", c.removes)
	}
	recent, err := repo.GetRecent(ctx)
	if err != nil || len(recent) != 1 || !recent[0].IsUsed {
		t.Fatalf("expected spliced used snapshot, got %+v err=%v", recent, err)
	}
}

func TestMarkUsedDropsStaleEntryWhenAlreadyUsed(t *testing.T) {
	used := codeAt("SPENT01", time.Hour)
	used.IsUsed = true
	store := newFakeStore(used)
	repo, c := newCachingRepoForTest(t, store)
	ctx := context.Background()

	c.put(LookupKey("SPENT01"), `{"code":"SPENT01","isActive":true,"isUsed":false}`)
	stale, err := repo.GetByCode(ctx, "SPENT01")
	if err != nil || stale.IsUsed {
		t.Fatalf("expected stale cached copy, got %+v err=%v", stale, err)
	}

	if err := repo.MarkUsed(ctx, stale); !errors.Is(err, models.ErrAlreadyUsed) {
		t.Fatalf("expected already used, got %v", err)
	}
	if stale.IsUsed {
		t.Fatal("expected caller copy untouched on failure")
	}
	if c.has(LookupKey("SPENT01")) {
		t.Fatal("expected stale entry removed")
	}

	fresh, err := repo.GetByCode(ctx, "SPENT01")
	if err != nil || !fresh.IsUsed {
		t.Fatalf("expected refill from store, got %+v err=%v", fresh, err)
	}
}

func TestDeleteInvalidatesBothKeysAndRederives(t *testing.T) {
	store := newFakeStore(codeAt("DEL", time.Hour), codeAt("KEEP", 2*time.Hour))
	repo, c := newCachingRepoForTest(t, store)
	ctx := context.Background()
	if _, err := repo.GetRecent(ctx); err != nil {
		t.Fatalf("prime recent: %v", err)
	}
	c.put(AllCodesKey, `["DEL","KEEP"]`)

	if err := repo.Delete(ctx, "DEL"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.rows["DEL"]; ok {
		t.Fatal("expected row removed")
	}
	if c.removeCount(CodeKey("DEL")) != 1 || c.removeCount(LookupKey("DEL")) != 1 {
		t.Fatalf("expected both per-code keys invalidated, removes=%v", c.removes)
	}
	if c.has(AllCodesKey) {
		t.Fatal("expected all-codes projection dropped")
	}

	recent, err := repo.GetRecent(ctx)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Code != "KEEP" {
		t.Fatalf("expected re-derived projection without deleted code, got %d entries", len(recent))
	}

	if err := repo.Delete(ctx, "DEL"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestGetRecentIsBoundedAndSorted(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < RecentCodesLimit+5; i++ {
		dc := codeAt(fmt.Sprintf("R%04d", i), time.Duration(i)*time.Second)
		store.rows[dc.Code] = dc
	}
	repo, c := newCachingRepoForTest(t, store)

	recent, err := repo.GetRecent(context.Background())
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	assertRecentShape(t, recent)
	if recent[0].Code != "R0000" {
		t.Fatalf("expected newest first, got %s", recent[0].Code)
	}

	unsorted := []*models.DiscountCode{codeAt("B", 2*time.Hour), codeAt("A", time.Hour), codeAt("C", 3*time.Hour)}
	raw, _ := json.Marshal(unsorted)
	c.put(RecentCodesKey, string(raw))
	recent, err = repo.GetRecent(context.Background())
	if err != nil {
		t.Fatalf("get recent from cache: %v", err)
	}
	assertRecentShape(t, recent)
	if recent[0].Code != "A" || recent[2].Code != "C" {
		t.Fatalf("expected cached projection returned newest first, got %s..%s", recent[0].Code, recent[2].Code)
	}
}

func assertRecentShape(t *testing.T, recent []*models.DiscountCode) {
	t.Helper()
	if len(recent) > RecentCodesLimit {
		t.Fatalf("expected at most %d entries, got %d", RecentCodesLimit, len(recent))
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].CreatedAt.After(recent[i-1].CreatedAt) {
			t.Fatalf("entries %d and %d out of order", i-1, i)
		}
	}
}

func TestGetAllCodesCachesStoreResult(t *testing.T) {
	store := newFakeStore(codeAt("A1", time.Hour), codeAt("A2", 2*time.Hour))
	repo, c := newCachingRepoForTest(t, store)
	ctx := context.Background()

	codes, err := repo.GetAllCodes(ctx)
	if err != nil {
		t.Fatalf("get all codes: %v", err)
	}
	if len(codes) != 2 || c.setCount(AllCodesKey) != 1 {
		t.Fatalf("expected 2 codes cached once, got %d codes %d sets", len(codes), c.setCount(AllCodesKey))
	}

	c.put(AllCodesKey, `["A","B"]`)
	codes, err = repo.GetAllCodes(ctx)
	if err != nil {
		t.Fatalf("get all codes from cache: %v", err)
	}
	if len(codes) != 2 || codes[0] != "A" || codes[1] != "B" {
		t.Fatalf("expected cached list, got %v", codes)
	}

	empty, _ := newCachingRepoForTest(t, newFakeStore())
	codes, err = empty.GetAllCodes(ctx)
	if err != nil || codes == nil || len(codes) != 0 {
		t.Fatalf("expected empty non-nil list, got %v err=%v", codes, err)
	}
}

func TestGetMostRecent(t *testing.T) {
	store := newFakeStore(codeAt("OLD", 3*time.Hour), codeAt("MID", 2*time.Hour), codeAt("NEW", time.Hour))
	repo, _ := newCachingRepoForTest(t, store)
	ctx := context.Background()

	for _, n := range []int{0, -1} {
		if _, err := repo.GetMostRecent(ctx, n); !errors.Is(err, models.ErrValidation) {
			t.Fatalf("GetMostRecent(%d): expected validation error, got %v", n, err)
		}
	}

	got, err := repo.GetMostRecent(ctx, 2)
	if err != nil {
		t.Fatalf("get most recent: %v", err)
	}
	if len(got) != 2 || got[0] != "NEW" || got[1] != "MID" {
		t.Fatalf("unexpected most recent codes %v", got)
	}

	got, err = repo.GetMostRecent(ctx, 10)
	if err != nil || len(got) != 3 {
		t.Fatalf("expected all 3 codes when n exceeds population, got %v err=%v", got, err)
	}
}

func TestPreloadPopulatesBothProjections(t *testing.T) {
	store := newFakeStore(codeAt("ONLY", time.Hour))
	repo, c := newCachingRepoForTest(t, store)
	c.put(RecentCodesKey, `[]`)

	res, err := repo.Preload(context.Background())
	if err != nil {
		t.Fatalf("preload: %v", err)
	}
	if res.Recent != 1 || res.All != 1 {
		t.Fatalf("unexpected preload result %+v", res)
	}
	if len(c.gets) != 0 {
		t.Fatalf("expected preload to bypass cache reads, got %v", c.gets)
	}

	var recent []*models.DiscountCode
	if err := json.Unmarshal(c.entries[RecentCodesKey], &recent); err != nil {
		t.Fatalf("decode recent: %v", err)
	}
	var all []string
	if err := json.Unmarshal(c.entries[AllCodesKey], &all); err != nil {
		t.Fatalf("decode all: %v", err)
	}
	if len(recent) != 1 || recent[0].Code != "ONLY" || len(all) != 1 || all[0] != "ONLY" {
		t.Fatalf("expected one entry in each projection, recent=%d all=%v", len(recent), all)
	}
}

func TestPreloadFailsOnStoreError(t *testing.T) {
	store := newFakeStore()
	store.failAll = fmt.Errorf("%w: down", models.ErrPersistence)
	repo, c := newCachingRepoForTest(t, store)

	if _, err := repo.Preload(context.Background()); !errors.Is(err, models.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if len(c.sets) != 0 {
		t.Fatal("expected nothing written on failure")
	}
}

func TestCacheWriteFailurePropagates(t *testing.T) {
	store := newFakeStore(codeAt("W", time.Hour))
	repo, c := newCachingRepoForTest(t, store)
	c.setErr = errors.New("readonly replica")

	if _, err := repo.GetByCode(context.Background(), "W"); !errors.Is(err, models.ErrCache) {
		t.Fatalf("expected cache error, got %v", err)
	}
}

func TestCodeJSONDecodingIsCaseInsensitive(t *testing.T) {
	repo, c := newCachingRepoForTest(t, newFakeStore())
	c.put(LookupKey("MIXED"), `{"Code":"MIXED","ISUSED":true,"isactive":true}`)

	got, err := repo.GetByCode(context.Background(), "MIXED")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if !got.IsUsed || !got.IsActive {
		t.Fatalf("expected case-insensitive decode, got %+v", got)
	}
}
