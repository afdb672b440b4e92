package offlinecache

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/offline-cache/offline-cache/cache"
)

func startOriginWorker(t *testing.T, handler http.Handler) (*Worker, *httptest.Server) {
	t.Helper()
	origin := httptest.NewServer(handler)
	t.Cleanup(origin.Close)
	originURL, err := url.Parse(origin.URL)
	if err != nil {
		t.Fatal(err)
	}
	w := NewWorker(Config{
		Storage:   cache.NewMemStorage(),
		OriginURL: *originURL,
		Logger:    &log.Logger,
	})
	return w, origin
}

func TestWorkerServesSecondRequestFromCache(t *testing.T) {
	var handleCount int
	w, _ := startOriginWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		handleCount++
		rw.Write([]byte(fmt.Sprintf("Called %d times", handleCount)))
	}))

	rr := httptest.NewRecorder()
	w.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	w.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	// the second response comes from the cache even though a background
	// refresh may hit the origin again
	if body, err := io.ReadAll(rr.Result().Body); err != nil || string(body) != "Called 1 times" {
		t.Fatalf("Body is %s (%v)", body, err)
	}
	if cs := rr.Result().Header.Get("Cache-Status"); cs != "Offline-Cache; hit" {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestWorkerPassesThroughNonGET(t *testing.T) {
	var postCount int
	w, _ := startOriginWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			postCount++
		}
		rw.Write([]byte("done"))
	}))

	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("POST", "/api/submit", nil))

	if postCount != 1 {
		t.Fatalf("Origin handled %d posts", postCount)
	}
	if cs := rr.Result().Header.Get("Cache-Status"); cs != "Offline-Cache; fwd=bypass" {
		t.Fatalf("Cache-Status is %s", cs)
	}
	if _, ok := cachedBody(t, w.storage, "/api/submit"); ok {
		t.Fatal("Non-GET response was cached")
	}
}

func TestWorkerServesOfflinePageWhenUncached(t *testing.T) {
	fetcher := &fakeFetcher{err: errOffline}
	w := newTestWorker(fetcher)

	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("GET", "/index.html", nil))

	res := rr.Result()
	if ct := res.Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if body, _ := io.ReadAll(res.Body); string(body) != offlinePage {
		t.Fatalf("Body is %s", body)
	}
}

func TestWorkerRoundTripPreservesBodyAndHeaders(t *testing.T) {
	w, _ := startOriginWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/javascript")
		rw.Header().Set("X-Asset-Tag", "abc123")
		rw.Write([]byte("console.log('hi')"))
	}))

	first := httptest.NewRecorder()
	w.ServeHTTP(first, httptest.NewRequest("GET", "/app.js", nil))
	second := httptest.NewRecorder()
	w.ServeHTTP(second, httptest.NewRequest("GET", "/app.js", nil))

	firstBody, _ := io.ReadAll(first.Result().Body)
	secondBody, _ := io.ReadAll(second.Result().Body)
	if string(firstBody) != string(secondBody) {
		t.Fatalf("Bodies differ: %q vs %q", firstBody, secondBody)
	}
	if ct := second.Result().Header.Get("Content-Type"); ct != "application/javascript" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if tag := second.Result().Header.Get("X-Asset-Tag"); tag != "abc123" {
		t.Fatalf("X-Asset-Tag is %s", tag)
	}
}

func TestWorkerDispatchesFontHostToFontCache(t *testing.T) {
	fetcher := &fakeFetcher{handler: func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte("woff2 bytes"))
	}}
	w := newTestWorker(fetcher)

	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("GET", "https://fonts.gstatic.com/font.woff2", nil))
	if body, _ := io.ReadAll(rr.Result().Body); string(body) != "woff2 bytes" {
		t.Fatalf("Body is %s", body)
	}

	// the entry must land in the font cache, not the application cache
	c, err := w.storage.Open(DefaultFontCacheName)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Match(httptest.NewRequest("GET", "https://fonts.gstatic.com/font.woff2", nil)); !ok {
		t.Fatal("Font entry missing from font cache")
	}
}
