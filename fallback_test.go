package offlinecache

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/offline-cache/offline-cache/cache"
)

func TestFallbackSynthesizesOfflinePage(t *testing.T) {
	f := NewFallback(cache.NewMemStorage(), "/")

	res := f.Response(httptest.NewRequest("GET", "/index.html", nil))
	if ct := res.Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if body, err := io.ReadAll(res.Body); err != nil || string(body) != offlinePage {
		t.Fatalf("Body is %s (%v)", body, err)
	}
}

func TestFallbackPrefersCachedRootDocument(t *testing.T) {
	storage := cache.NewMemStorage()
	seedCache(t, storage, DefaultAppCacheName, "/", "<html>entry point</html>")
	f := NewFallback(storage, "/")

	res := f.Response(httptest.NewRequest("GET", "/deep/link", nil))
	if body, _ := io.ReadAll(res.Body); string(body) != "<html>entry point</html>" {
		t.Fatalf("Body is %s", body)
	}
}
