// Package evalcache はゲート評価時のリモート取得を抑制するキャッシュとレートリミッタを提供する。
package evalcache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Stats はキャッシュの統計情報。
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Cache は有効期限付きのキャッシュ。
// ヒット時にエントリを再登録し、有効期限をTTLだけ延長する（スライディング方式）。
type Cache[K comparable, V any] struct {
	lru    *expirable.LRU[K, V]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache はCacheを生成する。sizeが0以下の場合は容量無制限となる。
func NewCache[K comparable, V any](size int, ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		lru: expirable.NewLRU[K, V](size, nil, ttl),
	}
}

// Get はキーに対応する値を返す。ヒットした場合は有効期限を延長する。
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return v, false
	}
	c.hits.Add(1)
	c.lru.Add(key, v)
	return v, true
}

// Contains は統計と有効期限を変えずに、期限内のエントリが存在するかを確認する。
// expirableのContainsは期限切れでも掃除前のエントリを返すため、期限を確認するPeekを使う。
func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.lru.Peek(key)
	return ok
}

// Add は値を登録する。
func (c *Cache[K, V]) Add(key K, v V) {
	c.lru.Add(key, v)
}

// Stats は現在の統計情報を返す。
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.lru.Len(),
	}
}
