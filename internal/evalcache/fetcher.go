package evalcache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key はFetcherのキー。singleflightの重複排除に文字列表現を使う。
type Key interface {
	comparable
	String() string
}

// Fetcher はリモート取得の結果をCacheに保持し、同一キーの同時取得を1回にまとめる。
// 取得に成功した値のみキャッシュする。
type Fetcher[K Key, V any] struct {
	cache *Cache[K, V]
	group singleflight.Group
}

// NewFetcher はFetcherを生成する。
func NewFetcher[K Key, V any](size int, ttl time.Duration) *Fetcher[K, V] {
	return &Fetcher[K, V]{cache: NewCache[K, V](size, ttl)}
}

// Cached はキーがキャッシュ済みかを返す。統計は更新しない。
func (f *Fetcher[K, V]) Cached(key K) bool {
	return f.cache.Contains(key)
}

// Get はキャッシュから値を返し、なければfetchで取得してキャッシュする。
func (f *Fetcher[K, V]) Get(ctx context.Context, key K, fetch func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := f.cache.Get(key); ok {
		return v, nil
	}

	// 共有の取得は呼び出し元のキャンセルで他の待機者を巻き込まないよう切り離す。
	// 期限は最初の呼び出し元のものを引き継ぐ。
	shared := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key.String(), func() (any, error) {
		fctx := shared
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			fctx, cancel = context.WithDeadline(shared, deadline)
			defer cancel()
		}
		v, err := fetch(fctx)
		if err != nil {
			return v, err
		}
		f.cache.Add(key, v)
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Stats はキャッシュの統計情報を返す。
func (f *Fetcher[K, V]) Stats() Stats {
	return f.cache.Stats()
}
