package repository

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shorturl-go/internal/model"
	"shorturl-go/internal/shortener"
)

var testDBSeq atomic.Int64

// newTestDB 每个测试一个独立的内存库
// cache=shared 让 gorm 连接池里的多个连接看到同一份数据
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:repo_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(&model.ShortURL{}, &model.DailyStat{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return db
}

func newTestRepo(t *testing.T) *ShortURLRepository {
	t.Helper()
	return NewShortURLRepository(newTestDB(t), shortener.NewGenerator(6))
}

// drainEvent 读一个事件，超时视为没发
func drainEvent(t *testing.T, repo *ShortURLRepository) (Event, bool) {
	t.Helper()
	select {
	case e := <-repo.Events():
		return e, true
	case <-time.After(100 * time.Millisecond):
		return Event{}, false
	}
}

func TestAddCreatesRecordAndEmitsEvent(t *testing.T) {
	repo := newTestRepo(t)

	m, err := repo.Add("https://example.com/a")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if m.ID == 0 {
		t.Error("expected assigned id")
	}
	if len(m.Alias) != 6 {
		t.Errorf("alias = %q, want 6 chars", m.Alias)
	}
	if m.Hits != 0 {
		t.Errorf("hits = %d, want 0", m.Hits)
	}

	e, ok := drainEvent(t, repo)
	if !ok {
		t.Fatal("no event emitted")
	}
	if e.Type != EventAdded {
		t.Errorf("event type = %q, want %q", e.Type, EventAdded)
	}
	if e.New == nil || e.New.ID != m.ID {
		t.Error("event must carry the created record")
	}
	if e.Old != nil {
		t.Error("added event must not carry an old snapshot")
	}
}

func TestAddIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)

	first, err := repo.Add("https://example.com/same")
	if err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if _, ok := drainEvent(t, repo); !ok {
		t.Fatal("first Add must emit")
	}

	second, err := repo.Add("https://example.com/same")
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if second.ID != first.ID || second.Alias != first.Alias {
		t.Errorf("second Add returned a different record: %+v vs %+v", second, first)
	}

	if e, ok := drainEvent(t, repo); ok {
		t.Errorf("second Add must not emit, got %q", e.Type)
	}
}

func TestInsertDuplicateAlias(t *testing.T) {
	repo := newTestRepo(t)

	m := &model.ShortURL{LongURL: "https://example.com/one", Alias: "taken1"}
	if err := repo.Insert(m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	drainEvent(t, repo)

	dup := &model.ShortURL{LongURL: "https://example.com/two", Alias: "taken1"}
	err := repo.Insert(dup)
	if err == nil {
		t.Fatal("expected unique index violation")
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Errorf("error must unwrap to gorm.ErrDuplicatedKey, got %v", err)
	}
	if e, ok := drainEvent(t, repo); ok {
		t.Errorf("failed insert must not emit, got %q", e.Type)
	}
}

func TestInsertGeneratesMissingAlias(t *testing.T) {
	repo := newTestRepo(t)

	m := &model.ShortURL{LongURL: "https://example.com/no-alias"}
	if err := repo.Insert(m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(m.Alias) != 6 {
		t.Errorf("alias = %q, want generated 6 chars", m.Alias)
	}
}

func TestUpdatePreservesIdentityAndEmitsSnapshots(t *testing.T) {
	repo := newTestRepo(t)

	m, err := repo.Add("https://example.com/before")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	drainEvent(t, repo)

	originalID := m.ID
	originalCreated := m.CreatedAt
	originalURL := m.LongURL

	m.LongURL = "https://example.com/after"
	updated, err := repo.Update(m)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if updated.ID != originalID {
		t.Errorf("id changed: %d -> %d", originalID, updated.ID)
	}
	if !updated.CreatedAt.Equal(originalCreated) {
		t.Errorf("createdAt changed: %v -> %v", originalCreated, updated.CreatedAt)
	}

	e, ok := drainEvent(t, repo)
	if !ok {
		t.Fatal("no event emitted")
	}
	if e.Type != EventUpdated {
		t.Errorf("event type = %q, want %q", e.Type, EventUpdated)
	}
	if e.Old == nil || e.Old.LongURL != originalURL {
		t.Errorf("old snapshot must carry pre-update state, got %+v", e.Old)
	}
	if e.New == nil || e.New.LongURL != "https://example.com/after" {
		t.Errorf("new snapshot must carry post-update state, got %+v", e.New)
	}

	// 快照按值捕获，后续修改不可见
	m.LongURL = "https://example.com/mutated-later"
	if e.New.LongURL != "https://example.com/after" {
		t.Error("event snapshot shares state with the live record")
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	repo := newTestRepo(t)

	m := &model.ShortURL{LongURL: "https://example.com/x", Alias: "ghost1"}
	m.ID = 9999

	if _, err := repo.Update(m); err == nil {
		t.Fatal("expected not-found error")
	}
	if e, ok := drainEvent(t, repo); ok {
		t.Errorf("failed update must not emit, got %q", e.Type)
	}
}

func TestIncrementHits(t *testing.T) {
	repo := newTestRepo(t)

	m, err := repo.Add("https://example.com/hit")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	drainEvent(t, repo)

	for i := 1; i <= 3; i++ {
		updated, err := repo.IncrementHits(m.ID)
		if err != nil {
			t.Fatalf("IncrementHits #%d: %v", i, err)
		}
		if updated.Hits != int64(i) {
			t.Errorf("hits = %d, want %d", updated.Hits, i)
		}

		e, ok := drainEvent(t, repo)
		if !ok {
			t.Fatalf("increment #%d emitted no event", i)
		}
		if e.Type != EventUpdated {
			t.Errorf("event type = %q, want %q", e.Type, EventUpdated)
		}
		if e.Old.Hits != int64(i-1) || e.New.Hits != int64(i) {
			t.Errorf("event hits = %d -> %d, want %d -> %d", e.Old.Hits, e.New.Hits, i-1, i)
		}
	}
}

func TestGetters(t *testing.T) {
	repo := newTestRepo(t)

	m, err := repo.Add("https://example.com/find-me")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	drainEvent(t, repo)

	byID, err := repo.GetByID(m.ID)
	if err != nil || byID == nil || byID.Alias != m.Alias {
		t.Errorf("GetByID = (%+v, %v)", byID, err)
	}

	byAlias, err := repo.GetByAlias(m.Alias)
	if err != nil || byAlias == nil || byAlias.ID != m.ID {
		t.Errorf("GetByAlias = (%+v, %v)", byAlias, err)
	}

	byURL, err := repo.GetByLongURL("https://example.com/find-me")
	if err != nil || byURL == nil || byURL.ID != m.ID {
		t.Errorf("GetByLongURL = (%+v, %v)", byURL, err)
	}

	// 未命中统一返回 (nil, nil)
	if got, err := repo.GetByID(12345); got != nil || err != nil {
		t.Errorf("GetByID miss = (%+v, %v), want (nil, nil)", got, err)
	}
	if got, err := repo.GetByAlias("nope99"); got != nil || err != nil {
		t.Errorf("GetByAlias miss = (%+v, %v), want (nil, nil)", got, err)
	}
	if got, err := repo.GetByLongURL("https://example.com/absent"); got != nil || err != nil {
		t.Errorf("GetByLongURL miss = (%+v, %v), want (nil, nil)", got, err)
	}
}

func TestDeleteEmitsEvent(t *testing.T) {
	repo := newTestRepo(t)

	m, err := repo.Add("https://example.com/bye")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	drainEvent(t, repo)

	if err := repo.Delete(m); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if got, _ := repo.GetByID(m.ID); got != nil {
		t.Error("record still present after delete")
	}

	e, ok := drainEvent(t, repo)
	if !ok {
		t.Fatal("no event emitted")
	}
	if e.Type != EventDeleted {
		t.Errorf("event type = %q, want %q", e.Type, EventDeleted)
	}
	if e.Old == nil || e.Old.ID != m.ID {
		t.Error("deleted event must carry the removed record")
	}
	if e.New != nil {
		t.Error("deleted event must not carry a new snapshot")
	}
}

func TestDeleteNilIsNoop(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.Delete(nil); err != nil {
		t.Fatalf("Delete(nil): %v", err)
	}
	if e, ok := drainEvent(t, repo); ok {
		t.Errorf("nil delete must not emit, got %q", e.Type)
	}
}

func TestDeleteByIDMissingIsNoop(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.DeleteByID(8888); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if e, ok := drainEvent(t, repo); ok {
		t.Errorf("missing delete must not emit, got %q", e.Type)
	}
}

func TestDeleteAll(t *testing.T) {
	repo := newTestRepo(t)

	for i := 0; i < 3; i++ {
		if _, err := repo.Add(fmt.Sprintf("https://example.com/bulk/%d", i)); err != nil {
			t.Fatalf("Add #%d: %v", i, err)
		}
		drainEvent(t, repo)
	}

	if err := repo.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}

	list, err := repo.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("len = %d, want 0", len(list))
	}

	// 批量清空不逐条发事件
	if e, ok := drainEvent(t, repo); ok {
		t.Errorf("DeleteAll must not emit, got %q", e.Type)
	}
}

func TestFreshAliasAvoidsCollision(t *testing.T) {
	db := newTestDB(t)
	repo := NewShortURLRepository(db, shortener.NewGenerator(1))

	// 单字符别名，连续建多条必然撞上已占用的值
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		m, err := repo.Add(fmt.Sprintf("https://example.com/c/%d", i))
		if err != nil {
			t.Fatalf("Add #%d: %v", i, err)
		}
		if seen[m.Alias] {
			t.Fatalf("alias %q handed out twice", m.Alias)
		}
		seen[m.Alias] = true
		drainEvent(t, repo)
	}
}
