package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const chapterCachePrefix = "dramabox:chapters:"

// ChapterCache stores completed batch fetches. Only non-empty results are
// stored, so a miss never hides a fetch failure.
type ChapterCache interface {
	Get(ctx context.Context, lang, bookID string) ([]Chapter, bool, error)
	Set(ctx context.Context, lang, bookID string, chapters []Chapter) error
}

func chapterCacheKey(lang, bookID string) string {
	return chapterCachePrefix + lang + ":" + bookID
}

// RedisChapterCache keeps chapter lists as JSON strings with a TTL.
type RedisChapterCache struct {
	c   *redis.Client
	ttl time.Duration
}

// NewRedisChapterCache connects using a redis:// URL.
func NewRedisChapterCache(redisURL string, ttl time.Duration) (*RedisChapterCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return NewRedisChapterCacheFromClient(redis.NewClient(opts), ttl), nil
}

// NewRedisChapterCacheFromClient wraps an existing client.
func NewRedisChapterCacheFromClient(c *redis.Client, ttl time.Duration) *RedisChapterCache {
	return &RedisChapterCache{c: c, ttl: ttl}
}

func (r *RedisChapterCache) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *RedisChapterCache) Close() error {
	return r.c.Close()
}

func (r *RedisChapterCache) Get(ctx context.Context, lang, bookID string) ([]Chapter, bool, error) {
	raw, err := r.c.Get(ctx, chapterCacheKey(lang, bookID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var chapters []Chapter
	if err := json.Unmarshal(raw, &chapters); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry for %s: %w", bookID, err)
	}
	return chapters, len(chapters) > 0, nil
}

func (r *RedisChapterCache) Set(ctx context.Context, lang, bookID string, chapters []Chapter) error {
	if len(chapters) == 0 {
		return nil
	}
	raw, err := json.Marshal(chapters)
	if err != nil {
		return err
	}
	return r.c.Set(ctx, chapterCacheKey(lang, bookID), raw, r.ttl).Err()
}

// noopChapterCache is used when REDIS_URL is not set.
type noopChapterCache struct{}

func (noopChapterCache) Get(context.Context, string, string) ([]Chapter, bool, error) {
	return nil, false, nil
}

func (noopChapterCache) Set(context.Context, string, string, []Chapter) error {
	return nil
}

// fetchChaptersCached serves a batch fetch from cache when possible and
// stores fresh results. Cache errors are logged and never fail the fetch.
func fetchChaptersCached(ctx context.Context, cache ChapterCache, client *DramaboxClient, bookID string, logger *logrus.Entry) ([]Chapter, bool, error) {
	if cache == nil {
		cache = noopChapterCache{}
	}
	log := logger.WithField("book_id", bookID)

	chapters, ok, err := cache.Get(ctx, client.Lang(), bookID)
	if err != nil {
		log.WithError(err).Warn("Chapter cache read failed")
	}
	if ok {
		return chapters, true, nil
	}

	chapters, err = client.BatchDownload(ctx, bookID)
	if err != nil {
		return nil, false, err
	}
	if err := cache.Set(ctx, client.Lang(), bookID, chapters); err != nil {
		log.WithError(err).Warn("Chapter cache write failed")
	}
	return chapters, false, nil
}
