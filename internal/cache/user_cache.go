// Package cache はユーザー情報のTTL付きリードスルーキャッシュを提供する。
// IDとユーザー名の両方をキーとし、変更系の操作から同期的に無効化される。
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/ident/internal/metrics"
	"github.com/hitoshi/ident/internal/model"
)

// Fetcher はキャッシュミス時にバックエンドからユーザーを取得するインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type Fetcher interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByUserName(ctx context.Context, userName string) (*model.User, error)
}

// entry はキャッシュされた公開プロジェクションと有効期限を保持する。
// userがnilのエントリは「存在しない」ことのキャッシュではなく、格納しない。
type entry struct {
	user      *model.PublicUser
	expiresAt time.Time
}

// flight は同一キーに対する進行中のフェッチを表す。
// 同時ミスはひとつのフェッチに合流し、バックエンドへの重複問い合わせを避ける。
type flight struct {
	done chan struct{}
	user *model.PublicUser
	err  error
}

// UserCache はIDとユーザー名で引けるTTL付きユーザーキャッシュ。
// どちらのキーで読んでも両方のキーが埋まる。
type UserCache struct {
	fetcher Fetcher
	ttl     time.Duration
	metrics metrics.Recorder

	mu       sync.RWMutex
	byID     map[string]*entry
	byName   map[string]*entry
	inflight map[string]*flight

	stopCh   chan struct{}
	stopOnce sync.Once
}

// DefaultTTL はキャッシュエントリのデフォルト有効期間。
const DefaultTTL = 5 * time.Minute

// sweepInterval は期限切れエントリの回収間隔。
// 正しさは読み取り時の期限判定で担保されるため、回収はメモリ解放のみを担う。
const sweepInterval = time.Minute

// NewUserCache はUserCacheを生成し、バックグラウンドで期限切れエントリの
// 回収を開始する。ttlが0以下の場合はDefaultTTLを使用する。
func NewUserCache(fetcher Fetcher, ttl time.Duration, rec metrics.Recorder) *UserCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &UserCache{
		fetcher:  fetcher,
		ttl:      ttl,
		metrics:  rec,
		byID:     make(map[string]*entry),
		byName:   make(map[string]*entry),
		inflight: make(map[string]*flight),
		stopCh:   make(chan struct{}),
	}

	go c.sweepLoop()

	return c
}

// Stop はバックグラウンドの回収ゴルーチンを停止する。
func (c *UserCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// GetByID は指定IDのユーザーの公開プロジェクションを返す。
// ミス時はバックエンドから取得し、ID・ユーザー名両方のキーを埋める。
// 見つからない場合は(nil, nil)を返す。
func (c *UserCache) GetByID(ctx context.Context, id string) (*model.PublicUser, error) {
	return c.get(ctx, "id:"+id, func() (*entry, bool) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		e, ok := c.byID[id]
		return e, ok
	}, func(ctx context.Context) (*model.User, error) {
		return c.fetcher.FindByID(ctx, id)
	})
}

// GetByUserName は指定ユーザー名のユーザーの公開プロジェクションを返す。
func (c *UserCache) GetByUserName(ctx context.Context, userName string) (*model.PublicUser, error) {
	return c.get(ctx, "name:"+userName, func() (*entry, bool) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		e, ok := c.byName[userName]
		return e, ok
	}, func(ctx context.Context) (*model.User, error) {
		return c.fetcher.FindByUserName(ctx, userName)
	})
}

// Invalidate は指定ユーザーの両方のキャッシュキーを即時に破棄する。
// repository.CacheInvalidatorを実装し、全ての変更経路から呼び出される。
func (c *UserCache) Invalidate(id, userName string) {
	c.mu.Lock()
	delete(c.byID, id)
	delete(c.byName, userName)
	c.mu.Unlock()
}

// get は共通のリードスルーロジック。
// flightKeyごとに進行中フェッチをひとつに抑える。重複フェッチが発生しても
// 後勝ちの格納のみでありキャッシュ状態は壊れない。
func (c *UserCache) get(
	ctx context.Context,
	flightKey string,
	lookup func() (*entry, bool),
	fetch func(ctx context.Context) (*model.User, error),
) (*model.PublicUser, error) {
	if e, ok := lookup(); ok && time.Now().Before(e.expiresAt) {
		c.metrics.RecordCacheLookup(true)
		return e.user, nil
	}
	c.metrics.RecordCacheLookup(false)

	c.mu.Lock()
	if f, ok := c.inflight[flightKey]; ok {
		c.mu.Unlock()
		select {
		case <-f.done:
			return f.user, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	c.inflight[flightKey] = f
	c.mu.Unlock()

	user, err := fetch(ctx)

	var pub *model.PublicUser
	if err == nil && user != nil {
		pub = user.Public()
	}

	c.mu.Lock()
	delete(c.inflight, flightKey)
	if pub != nil {
		e := &entry{user: pub, expiresAt: time.Now().Add(c.ttl)}
		c.byID[pub.ID] = e
		c.byName[pub.UserName] = e
	}
	c.mu.Unlock()

	f.user = pub
	f.err = err
	close(f.done)

	return pub, err
}

// sweepLoop はバックグラウンドで期限切れエントリを定期的に回収する。
func (c *UserCache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep は有効期限を過ぎたエントリを両方のキーから削除する。
func (c *UserCache) sweep() {
	now := time.Now()

	c.mu.Lock()
	for id, e := range c.byID {
		if now.After(e.expiresAt) {
			delete(c.byID, id)
		}
	}
	for name, e := range c.byName {
		if now.After(e.expiresAt) {
			delete(c.byName, name)
		}
	}
	c.mu.Unlock()
}
