package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// LocalCache 本地内存缓存（L1 缓存）
//
// 特点：
// - 使用 sync.Map 实现无锁读取
// - 支持 TTL 过期
// - 后台定期清理，Stop 后停止
// - 超出容量时拒绝写入新键
type LocalCache struct {
	data    sync.Map
	size    atomic.Int64
	maxSize int
	ttl     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数，0 表示不限制
//   - ttl: 默认过期时间
func NewLocalCache(maxSize int, ttl time.Duration) *LocalCache {
	return newLocalCache(maxSize, ttl, time.Minute)
}

func newLocalCache(maxSize int, ttl, cleanupInterval time.Duration) *LocalCache {
	cache := &LocalCache{
		maxSize: maxSize,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}

	go cache.cleanupLoop(cleanupInterval)

	return cache
}

// Get 获取缓存值
func (c *LocalCache) Get(key string) (any, bool) {
	val, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}

	entry := val.(*cacheEntry)

	// 检查是否过期
	if time.Now().After(entry.expiresAt) {
		c.Delete(key)
		return nil, false
	}

	return entry.value, true
}

// Set 设置缓存值，ttl 为 0 时使用默认值
func (c *LocalCache) Set(key string, value any, ttl time.Duration) bool {
	if ttl == 0 {
		ttl = c.ttl
	}

	entry := &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}

	if _, loaded := c.data.Swap(key, entry); !loaded {
		if c.maxSize > 0 && c.size.Load() >= int64(c.maxSize) {
			c.data.Delete(key)
			return false
		}
		c.size.Add(1)
	}
	return true
}

// Delete 删除缓存值
func (c *LocalCache) Delete(key string) {
	if _, loaded := c.data.LoadAndDelete(key); loaded {
		c.size.Add(-1)
	}
}

// Len 返回当前条目数
func (c *LocalCache) Len() int {
	return int(c.size.Load())
}

// Clear 清空所有缓存
func (c *LocalCache) Clear() {
	c.data.Range(func(key, _ any) bool {
		c.Delete(key.(string))
		return true
	})
}

// Stop 停止后台清理，可重复调用
func (c *LocalCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanupLoop 定期清理过期条目
func (c *LocalCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired(time.Now())
		}
	}
}

func (c *LocalCache) evictExpired(now time.Time) {
	c.data.Range(func(key, value any) bool {
		if now.After(value.(*cacheEntry).expiresAt) {
			c.Delete(key.(string))
		}
		return true
	})
}
