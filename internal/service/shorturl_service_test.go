package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shorturl-go/internal/apperrors"
	"shorturl-go/internal/dto"
	"shorturl-go/internal/model"
	"shorturl-go/internal/repository"
	"shorturl-go/internal/shortener"
)

var testDBSeq atomic.Int64

func newTestService(t *testing.T, cfg Config) (*ShortURLService, *repository.ShortURLRepository) {
	t.Helper()

	dsn := fmt.Sprintf("file:svc_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
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

	repo := repository.NewShortURLRepository(db, shortener.NewGenerator(6))
	// 测试不连 Redis，传 nil 池跳过缓存与访问统计
	svc := NewShortURLService(repo, nil, cfg, zap.NewNop())
	return svc, repo
}

func drain(repo *repository.ShortURLRepository) {
	for {
		select {
		case <-repo.Events():
		default:
			return
		}
	}
}

func isNotFound(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) && appErr.Code == http.StatusNotFound
}

func TestAddRejectsInvalidURL(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	for _, bad := range []string{"", "not a url"} {
		if _, err := svc.Add(context.Background(), bad); err == nil {
			t.Errorf("Add(%q) accepted", bad)
		}
	}
}

func TestAddReturnsExistingRecord(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	first, err := svc.Add(ctx, "https://example.com/once")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	second, err := svc.Add(ctx, "https://example.com/once")
	if err != nil {
		t.Fatalf("Add again: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same record, got %d and %d", first.ID, second.ID)
	}
}

func TestRedirectIncrementsHits(t *testing.T) {
	svc, repo := newTestService(t, Config{})
	ctx := context.Background()

	m, err := svc.Add(ctx, "https://example.com/target")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	drain(repo)

	target, err := svc.Redirect(ctx, m.Alias, "10.0.0.1")
	if err != nil {
		t.Fatalf("Redirect: %v", err)
	}
	if target != "https://example.com/target" {
		t.Errorf("target = %q", target)
	}

	stored, err := repo.GetByID(m.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetByID: (%+v, %v)", stored, err)
	}
	if stored.Hits != 1 {
		t.Errorf("hits = %d, want 1", stored.Hits)
	}
}

func TestRedirectSanitizesAlias(t *testing.T) {
	svc, repo := newTestService(t, Config{})
	ctx := context.Background()

	m, err := svc.Add(ctx, "https://example.com/deep")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	drain(repo)

	// 带前缀路径与 URL 编码的输入都归一化到裸别名
	for _, raw := range []string{"s/" + m.Alias, "/" + m.Alias, "%2e%2e%2f" + m.Alias} {
		target, err := svc.Redirect(ctx, raw, "10.0.0.1")
		if err != nil {
			t.Errorf("Redirect(%q): %v", raw, err)
			continue
		}
		if target != "https://example.com/deep" {
			t.Errorf("Redirect(%q) = %q", raw, target)
		}
	}
}

func TestRedirectMissWithoutFallback(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	_, err := svc.Redirect(context.Background(), "nosuch", "10.0.0.1")
	if !isNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestRedirectMissWithFallback(t *testing.T) {
	svc, _ := newTestService(t, Config{Fallback: "https://example.com/404"})

	target, err := svc.Redirect(context.Background(), "nosuch", "10.0.0.1")
	if err != nil {
		t.Fatalf("Redirect: %v", err)
	}
	if target != "https://example.com/404" {
		t.Errorf("target = %q, want fallback page", target)
	}
}

func TestUpdateByAlias(t *testing.T) {
	svc, repo := newTestService(t, Config{})
	ctx := context.Background()

	m, err := svc.Add(ctx, "https://example.com/old")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	drain(repo)

	updated, err := svc.Update(ctx, dto.ShortURLDTO{
		Alias: m.Alias,
		URL:   "https://example.com/new",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.ID != m.ID {
		t.Errorf("id changed: %d -> %d", m.ID, updated.ID)
	}
	if updated.LongURL != "https://example.com/new" {
		t.Errorf("long url = %q", updated.LongURL)
	}
	if updated.Alias != m.Alias {
		t.Errorf("alias changed: %q -> %q", m.Alias, updated.Alias)
	}
}

func TestUpdateByIDRebindsAlias(t *testing.T) {
	svc, repo := newTestService(t, Config{})
	ctx := context.Background()

	m, err := svc.Add(ctx, "https://example.com/rebind")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	drain(repo)

	updated, err := svc.Update(ctx, dto.ShortURLDTO{
		ID:    strconv.FormatUint(uint64(m.ID), 10),
		Alias: "custom-name",
		URL:   "https://example.com/rebind",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Alias != "custom-name" {
		t.Errorf("alias = %q, want \"custom-name\"", updated.Alias)
	}

	if got, _ := repo.GetByAlias("custom-name"); got == nil || got.ID != m.ID {
		t.Error("record not reachable under the new alias")
	}
	if got, _ := repo.GetByAlias(m.Alias); got != nil {
		t.Error("record still reachable under the old alias")
	}
}

func TestUpdateUnknown(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	_, err := svc.Update(context.Background(), dto.ShortURLDTO{
		ID:    "4242",
		Alias: "ghost9",
		URL:   "https://example.com/x",
	})
	if !isNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestUpdateBadID(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	_, err := svc.Update(context.Background(), dto.ShortURLDTO{
		ID:    "abc",
		Alias: "ghost9",
		URL:   "https://example.com/x",
	})
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != http.StatusBadRequest {
		t.Errorf("expected bad-request, got %v", err)
	}
}

func TestDeleteByAlias(t *testing.T) {
	svc, repo := newTestService(t, Config{})
	ctx := context.Background()

	m, err := svc.Add(ctx, "https://example.com/gone")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	drain(repo)

	if err := svc.DeleteByAlias(ctx, "s/"+m.Alias); err != nil {
		t.Fatalf("DeleteByAlias: %v", err)
	}
	if got, _ := repo.GetByID(m.ID); got != nil {
		t.Error("record still present after delete")
	}

	if err := svc.DeleteByAlias(ctx, m.Alias); !isNotFound(err) {
		t.Errorf("second delete: expected not-found, got %v", err)
	}
}

func TestGetByIDUnknown(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	_, err := svc.GetByID(context.Background(), 777)
	if !isNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestValidatePropagatesUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer upstream.Close()

	svc, repo := newTestService(t, Config{})
	ctx := context.Background()

	m, err := svc.Add(ctx, upstream.URL)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	drain(repo)

	code, err := svc.Validate(ctx, m.Alias)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if code != http.StatusTeapot {
		t.Errorf("code = %d, want %d", code, http.StatusTeapot)
	}
}

func TestValidateUnknownAlias(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	_, err := svc.Validate(context.Background(), "nosuch")
	if !isNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestValidateUnreachableTarget(t *testing.T) {
	svc, repo := newTestService(t, Config{})
	ctx := context.Background()

	// 关掉的端口，拨号必然失败
	m, err := svc.Add(ctx, "http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	drain(repo)

	_, err = svc.Validate(ctx, m.Alias)
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != http.StatusBadGateway {
		t.Errorf("expected bad-gateway, got %v", err)
	}
}
