package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix starts every page cache key.
const KeyPrefix = "bulkfetch:page"

// PageKey identifies one cached source page.
type PageKey struct {
	// Category is the record category (e.g. "book")
	Category string

	// URL is the canonical page URL
	URL string
}

// String generates a deterministic cache key string.
// Format: bulkfetch:page:category:host/path?sorted-query
//
// Example:
//
//	bulkfetch:page:book:books.example/book/show/7144
func (k PageKey) String() string {
	parts := []string{KeyPrefix}
	if k.Category != "" {
		parts = append(parts, k.Category)
	}
	parts = append(parts, normalizeURL(k.URL))
	return strings.Join(parts, ":")
}

// normalizeURL drops scheme, fragment and trailing slash, lowercases the
// host and sorts the query so equivalent URLs share a key.
func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	var b strings.Builder
	b.WriteString(strings.ToLower(u.Host))
	b.WriteString(strings.TrimRight(u.EscapedPath(), "/"))

	if q := u.Query(); len(q) > 0 {
		keys := make([]string, 0, len(q))
		for key := range q {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		b.WriteByte('?')
		for i, key := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(q.Get(key))
		}
	}
	return b.String()
}
