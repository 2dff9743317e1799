package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memoryCache is an in-process ChapterCache for tests.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]Chapter
	failGet bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]Chapter)}
}

func (m *memoryCache) Get(_ context.Context, lang, bookID string) ([]Chapter, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, false, errors.New("cache unavailable")
	}
	chapters, ok := m.entries[chapterCacheKey(lang, bookID)]
	return chapters, ok, nil
}

func (m *memoryCache) Set(_ context.Context, lang, bookID string, chapters []Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(chapters) > 0 {
		m.entries[chapterCacheKey(lang, bookID)] = chapters
	}
	return nil
}

func TestChapterCacheKey(t *testing.T) {
	if got := chapterCacheKey("en", "41000100001"); got != "dramabox:chapters:en:41000100001" {
		t.Errorf("key = %q", got)
	}
}

func TestFetchChaptersCached(t *testing.T) {
	u := newFakeUpstream()
	u.handle(batchLoadEndpoint, func(upstreamCall) (int, any) {
		return 200, pageDoc(5, 0, chapterRange(1, 5)...)
	})
	c := newTestClient(t, u)
	cache := newMemoryCache()
	ctx := context.Background()

	chapters, cached, err := fetchChaptersCached(ctx, cache, c, "41000100001", discardLogger())
	if err != nil || cached || len(chapters) != 5 {
		t.Fatalf("first fetch = %d chapters, cached=%v, err=%v", len(chapters), cached, err)
	}

	chapters, cached, err = fetchChaptersCached(ctx, cache, c, "41000100001", discardLogger())
	if err != nil || !cached || len(chapters) != 5 {
		t.Fatalf("second fetch = %d chapters, cached=%v, err=%v", len(chapters), cached, err)
	}
	if n := len(u.callsTo(batchLoadEndpoint)); n != 1 {
		t.Errorf("backend pages = %d, want 1", n)
	}
}

func TestFetchChaptersCachedIgnoresCacheErrors(t *testing.T) {
	u := newFakeUpstream()
	u.handle(batchLoadEndpoint, func(upstreamCall) (int, any) {
		return 200, pageDoc(5, 0, chapterRange(1, 5)...)
	})
	c := newTestClient(t, u)
	cache := newMemoryCache()
	cache.failGet = true

	chapters, cached, err := fetchChaptersCached(context.Background(), cache, c, "41000100001", discardLogger())
	if err != nil || cached || len(chapters) != 5 {
		t.Errorf("fetch = %d chapters, cached=%v, err=%v", len(chapters), cached, err)
	}
}

func TestFetchChaptersCachedDoesNotStoreFailures(t *testing.T) {
	u := newFakeUpstream()
	u.handle(batchLoadEndpoint, func(upstreamCall) (int, any) {
		return 500, map[string]any{}
	})
	c := newTestClient(t, u)
	cache := newMemoryCache()

	if _, _, err := fetchChaptersCached(context.Background(), cache, c, "x", discardLogger()); err == nil {
		t.Fatal("expected an error")
	}
	if len(cache.entries) != 0 {
		t.Errorf("cache entries = %v, want none", cache.entries)
	}
}

func TestNoopChapterCache(t *testing.T) {
	var cache ChapterCache = noopChapterCache{}
	if err := cache.Set(context.Background(), "in", "1", []Chapter{{ChapterID: "1"}}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := cache.Get(context.Background(), "in", "1"); ok {
		t.Error("noop cache reported a hit")
	}
}

func TestRedisChapterCacheUnreachable(t *testing.T) {
	cache, err := NewRedisChapterCache("redis://127.0.0.1:1/0?dial_timeout=200ms&max_retries=-1", time.Hour)
	if err != nil {
		t.Fatalf("NewRedisChapterCache: %v", err)
	}
	defer cache.Close()

	if err := cache.Set(context.Background(), "in", "1", nil); err != nil {
		t.Errorf("empty Set touched the server: %v", err)
	}
	if _, _, err := cache.Get(context.Background(), "in", "1"); err == nil {
		t.Fatal("Get against a closed port succeeded")
	}

	u := newFakeUpstream()
	u.handle(batchLoadEndpoint, func(upstreamCall) (int, any) {
		return 200, pageDoc(5, 0, chapterRange(1, 5)...)
	})
	chapters, cached, err := fetchChaptersCached(context.Background(), cache, newTestClient(t, u), "1", discardLogger())
	if err != nil || cached || len(chapters) != 5 {
		t.Errorf("fetch = %d chapters, cached=%v, err=%v", len(chapters), cached, err)
	}
}

func TestNewRedisChapterCacheRejectsBadURL(t *testing.T) {
	if _, err := NewRedisChapterCache("not-a-url", time.Hour); err == nil {
		t.Error("expected an error for a malformed REDIS_URL")
	}
}
