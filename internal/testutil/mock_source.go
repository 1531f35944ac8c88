// Package testutil provides testing utilities for the bulk fetch pipeline:
// a mock HTML source server and scripted fetchers.
package testutil

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock page response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Book is the data behind a rendered mock book page.
type Book struct {
	Title   string
	Author  string
	Rating  string
	Ratings string
	Genres  []string
	Private bool
}

// MockSource is a configurable mock HTML source for testing.
type MockSource struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	books    map[string]Book

	// Tracking
	RequestCount      int
	PathCounts        map[string]int
	LastRequestHeader http.Header
}

// NewMockSource creates a new mock source server.
func NewMockSource() *MockSource {
	mock := &MockSource{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		books:      make(map[string]Book),
		PathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.PathCounts[r.URL.Path]++
		mock.LastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSource) URL() string {
	return m.server.URL
}

// Host returns the host:port of the mock server.
func (m *MockSource) Host() string {
	return strings.TrimPrefix(m.server.URL, "http://")
}

// Close shuts down the mock server.
func (m *MockSource) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockSource) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PathCounts = make(map[string]int)
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSource) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockSource) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetSequence answers a path with resps in order, repeating the last one.
func (m *MockSource) SetSequence(path string, resps ...MockResponse) {
	var mu sync.Mutex
	calls := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := resps[min(calls, len(resps)-1)]
		calls++
		mu.Unlock()

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		w.Write([]byte(resp.Body))
	})
}

// AddBook registers a book page served at /book/show/{id}.
func (m *MockSource) AddBook(id string, b Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[id] = b
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSource) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests made to path.
func (m *MockSource) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PathCounts[path]
}

// defaultHandler renders registered books and answers 404 otherwise.
func (m *MockSource) defaultHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/book/show/")
	if id == r.URL.Path {
		http.NotFound(w, r)
		return
	}

	m.mu.RLock()
	book, ok := m.books[id]
	m.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(RenderBook(book)))
}

// RenderBook renders a minimal book page matching BookProfileYAML.
func RenderBook(b Book) string {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	if b.Private {
		sb.WriteString(`<div class="privateNotice">This page is private</div>`)
	}
	fmt.Fprintf(&sb, `<h1 id="bookTitle">%s</h1>`, html.EscapeString(b.Title))
	fmt.Fprintf(&sb, `<a class="authorName" href="/author/1"><span>%s</span></a>`, html.EscapeString(b.Author))
	if b.Rating != "" {
		fmt.Fprintf(&sb, `<span itemprop="ratingValue">%s</span>`, b.Rating)
	}
	if b.Ratings != "" {
		fmt.Fprintf(&sb, `<meta itemprop="ratingCount" content="%s">`, b.Ratings)
	}
	for _, g := range b.Genres {
		fmt.Fprintf(&sb, `<a class="genre">%s</a>`, html.EscapeString(g))
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

// BookProfileYAML returns a profile for pages rendered by RenderBook,
// served under baseURL.
func BookProfileYAML(baseURL string) string {
	return fmt.Sprintf(`category: book
url_template: %[1]s/book/show/{id}
url_pattern: ^%[1]s/book/show/
id_extract: /show/(\d+)
forbidden_selector: .privateNotice
fields:
  - name: title
    selector: "#bookTitle"
    required: true
  - name: author
    selector: .authorName span
  - name: rating
    selector: '[itemprop="ratingValue"]'
    type: float
  - name: rating_count
    selector: '[itemprop="ratingCount"]'
    attr: content
    type: int
  - name: genres
    selector: .genre
    type: list
`, baseURL)
}
