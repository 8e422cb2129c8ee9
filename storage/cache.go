package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"setlist-sync/domain"
	"setlist-sync/internal/consts"
)

type backend interface {
	FetchDocument(ctx context.Context, id string) (domain.Document, error)
	SaveDocument(ctx context.Context, doc domain.Document, expectedUpdatedAt int64, editor string) (domain.SaveResult, error)
}

// Cache wraps a document store with a Redis read cache. Saves go straight to
// the backend and evict the cached snapshot so the next read sees the fresh
// updatedAt.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchDocument(ctx context.Context, id string) (domain.Document, error) {
	if doc, ok := c.loadFromCache(ctx, id); ok {
		return doc, nil
	}
	doc, err := c.base.FetchDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	c.store(ctx, id, doc)
	return doc, nil
}

func (c *Cache) SaveDocument(ctx context.Context, doc domain.Document, expectedUpdatedAt int64, editor string) (domain.SaveResult, error) {
	res, err := c.base.SaveDocument(ctx, doc, expectedUpdatedAt, editor)
	if err != nil {
		return domain.SaveResult{}, err
	}
	c.evict(ctx, doc.ID)
	return res, nil
}

func (c *Cache) loadFromCache(ctx context.Context, id string) (domain.Document, bool) {
	if c.redis == nil {
		return domain.Document{}, false
	}
	data, err := c.redis.Get(ctx, documentCacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, documentCacheKey(id)).Err()
		}
		return domain.Document{}, false
	}
	doc, err := domain.DecodeDocument(data)
	if err != nil {
		_ = c.redis.Del(ctx, documentCacheKey(id)).Err()
		return domain.Document{}, false
	}
	return doc, true
}

func (c *Cache) store(ctx context.Context, id string, doc domain.Document) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(doc)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, documentCacheKey(id), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, id string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, documentCacheKey(id)).Result()
}

func documentCacheKey(id string) string {
	return consts.DocumentCacheKeyPrefix + id
}
