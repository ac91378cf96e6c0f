package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/ident/internal/metrics"
	"github.com/hitoshi/ident/internal/model"
)

// --- モック定義 ---

type mockFetcher struct {
	mu           sync.Mutex
	findByIDFn   func(ctx context.Context, id string) (*model.User, error)
	findByNameFn func(ctx context.Context, userName string) (*model.User, error)
	calls        int32
}

func (m *mockFetcher) FindByID(ctx context.Context, id string) (*model.User, error) {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	fn := m.findByIDFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, id)
	}
	return nil, nil
}

func (m *mockFetcher) FindByUserName(ctx context.Context, userName string) (*model.User, error) {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	fn := m.findByNameFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, userName)
	}
	return nil, nil
}

var _ Fetcher = (*mockFetcher)(nil)

func testUser() *model.User {
	hash := "secret-hash"
	token := "secret-token"
	now := time.Now()
	u := &model.User{
		ID:           "user-1",
		UserName:     "alice",
		Email:        "alice@example.com",
		PasswordHash: &hash,
		Enabled:      true,
		Roles:        []model.Role{{ID: "role-1", Name: "Administrator"}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	u.SetConfirmationToken(token, now)
	return u
}

// --- テスト ---

func TestGetByID_MissFetchesAndPopulatesBothKeys(t *testing.T) {
	fetcher := &mockFetcher{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return testUser(), nil
		},
	}
	c := NewUserCache(fetcher, time.Minute, metrics.Noop{})
	defer c.Stop()

	got, err := c.GetByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got == nil || got.ID != "user-1" {
		t.Fatalf("got = %+v, want user-1", got)
	}

	// ユーザー名キーもヒットし、バックエンドへは行かない
	before := atomic.LoadInt32(&fetcher.calls)
	byName, err := c.GetByUserName(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetByUserName returned error: %v", err)
	}
	if byName == nil || byName.ID != "user-1" {
		t.Fatalf("byName = %+v, want user-1", byName)
	}
	if atomic.LoadInt32(&fetcher.calls) != before {
		t.Error("expected username lookup to be served from cache")
	}
}

func TestGetByID_ProjectionStripsSecretsAndKeepsRoles(t *testing.T) {
	fetcher := &mockFetcher{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return testUser(), nil
		},
	}
	c := NewUserCache(fetcher, time.Minute, metrics.Noop{})
	defer c.Stop()

	got, err := c.GetByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}

	if !got.InRole("Administrator") {
		t.Error("expected InRole(\"Administrator\") to be true")
	}
	if got.InRole("Moderator") {
		t.Error("expected InRole(\"Moderator\") to be false")
	}
}

func TestGetByID_NotFoundIsNotCached(t *testing.T) {
	fetcher := &mockFetcher{}
	c := NewUserCache(fetcher, time.Minute, metrics.Noop{})
	defer c.Stop()

	got, err := c.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got != nil {
		t.Fatalf("got = %+v, want nil", got)
	}

	// 2回目も再度バックエンドに問い合わせる
	if _, err := c.GetByID(context.Background(), "missing"); err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if calls := atomic.LoadInt32(&fetcher.calls); calls != 2 {
		t.Errorf("fetcher calls = %d, want 2", calls)
	}
}

func TestGetByID_ExpiredEntryRefetches(t *testing.T) {
	fetcher := &mockFetcher{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return testUser(), nil
		},
	}
	c := NewUserCache(fetcher, time.Millisecond, metrics.Noop{})
	defer c.Stop()

	if _, err := c.GetByID(context.Background(), "user-1"); err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.GetByID(context.Background(), "user-1"); err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}

	if calls := atomic.LoadInt32(&fetcher.calls); calls != 2 {
		t.Errorf("fetcher calls = %d, want 2", calls)
	}
}

func TestInvalidate_DropsBothKeys(t *testing.T) {
	updated := false
	fetcher := &mockFetcher{}
	fetcher.findByIDFn = func(ctx context.Context, id string) (*model.User, error) {
		u := testUser()
		if updated {
			u.Enabled = false
		}
		return u, nil
	}
	fetcher.findByNameFn = func(ctx context.Context, userName string) (*model.User, error) {
		return fetcher.findByIDFn(ctx, "user-1")
	}

	c := NewUserCache(fetcher, time.Minute, metrics.Noop{})
	defer c.Stop()

	got, err := c.GetByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if !got.Enabled {
		t.Fatal("precondition: user should be enabled")
	}

	// 変更をシミュレートし、無効化後の読み取りが新しい状態を反映すること
	updated = true
	c.Invalidate("user-1", "alice")

	got, err = c.GetByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got.Enabled {
		t.Error("expected post-invalidation read to reflect the mutation")
	}

	byName, err := c.GetByUserName(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetByUserName returned error: %v", err)
	}
	if byName.Enabled {
		t.Error("expected username key to be invalidated as well")
	}
}

func TestGetByID_ConcurrentMissesCoalesce(t *testing.T) {
	release := make(chan struct{})
	fetcher := &mockFetcher{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			<-release
			return testUser(), nil
		},
	}
	c := NewUserCache(fetcher, time.Minute, metrics.Noop{})
	defer c.Stop()

	const n = 8
	var wg sync.WaitGroup
	results := make([]*model.PublicUser, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetByID(context.Background(), "user-1")
		}(i)
	}

	// 全goroutineがフェッチ待ちに入るまで少し待ってから解放する
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d returned error: %v", i, errs[i])
		}
		if results[i] == nil || results[i].ID != "user-1" {
			t.Fatalf("goroutine %d got %+v", i, results[i])
		}
	}

	if calls := atomic.LoadInt32(&fetcher.calls); calls != 1 {
		t.Errorf("fetcher calls = %d, want 1 (coalesced)", calls)
	}
}
