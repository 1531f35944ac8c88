package cache

import (
	"time"
)

// Entry is a cached source page.
type Entry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// URL is the page the body was fetched from
	URL string `json:"url"`

	// ContentType is the response Content-Type
	ContentType string `json:"content_type,omitempty"`

	// ETag as sent by the source, kept for diagnostics
	ETag string `json:"etag,omitempty"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Age returns how long ago the entry was cached.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CachedAt)
}
