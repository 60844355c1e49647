package debrid

import (
	"testing"
	"time"
)

func TestMemoryCacheExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(time.Hour).WithClock(func() time.Time { return now })

	cache.Put("abc", "https://cdn.example/a")
	if url, ok := cache.Get("abc"); !ok || url != "https://cdn.example/a" {
		t.Fatalf("expected fresh entry, got %q ok=%v", url, ok)
	}

	now = now.Add(59 * time.Minute)
	if _, ok := cache.Get("abc"); !ok {
		t.Fatalf("entry should still be valid before the ttl")
	}

	now = now.Add(time.Minute)
	if _, ok := cache.Get("abc"); ok {
		t.Fatalf("entry should expire once the ttl has elapsed")
	}
	if cache.Len() != 0 {
		t.Fatalf("expired entry should be evicted, len=%d", cache.Len())
	}
}

func TestMemoryCacheClearAndEmptyValues(t *testing.T) {
	cache := NewMemoryCache(0)
	cache.Put("", "https://cdn.example/a")
	cache.Put("abc", "")
	if cache.Len() != 0 {
		t.Fatalf("empty identity or url must not be stored")
	}

	cache.Put("a", "1")
	cache.Put("b", "2")
	cache.Clear()
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache after Clear, len=%d", cache.Len())
	}
}
