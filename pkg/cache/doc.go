// Package cache stores fetched source pages in Redis so repeated runs over
// the same identifiers do not hit the source again.
//
// Entries are keyed by record category and canonical page URL. Each entry
// carries its own expiry, taken from the response's Cache-Control max-age
// or Expires header, or from the fetcher's configured TTL. Redis removes
// the key when the entry expires.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.PageKey{Category: "book", URL: "https://books.example/book/show/7144"}
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from source, then:
//		entry, err = cache.ResponseToEntry(resp, 24*time.Hour)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Metrics
//
//   - bulkfetch_cache_hits_total{layer="redis"}
//   - bulkfetch_cache_misses_total
//   - bulkfetch_cache_size_bytes{layer="redis"}
//   - bulkfetch_cache_errors_total{operation}
package cache
