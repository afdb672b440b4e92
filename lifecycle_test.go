package offlinecache

import (
	"context"
	"net/http"
	"reflect"
	"testing"
)

func TestInstallPrecachesManifest(t *testing.T) {
	fetcher := &fakeFetcher{handler: func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte("asset " + r.URL.Path))
	}}
	w := newTestWorker(fetcher, func(c *Config) {
		c.Precache = []string{"/", "/index.html", "/app.js"}
	})

	if err := w.Lifecycle().Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	if state := w.Lifecycle().State(); state != StateInstalled {
		t.Fatalf("State is %s", state)
	}
	for _, path := range []string{"/", "/index.html", "/app.js"} {
		if body, ok := cachedBody(t, w.storage, path); !ok || body != "asset "+path {
			t.Fatalf("Cached body for %s is %q (ok=%v)", path, body, ok)
		}
	}
}

func TestInstallIsAllOrNothing(t *testing.T) {
	fetcher := &fakeFetcher{handler: func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/app.js" {
			rw.WriteHeader(http.StatusNotFound)
			return
		}
		rw.Write([]byte("asset"))
	}}
	w := newTestWorker(fetcher, func(c *Config) {
		c.Precache = []string{"/", "/index.html", "/app.js"}
	})

	if err := w.Lifecycle().Install(context.Background()); err == nil {
		t.Fatal("Expected install to fail")
	}
	// not a single manifest entry may be persisted
	for _, path := range []string{"/", "/index.html", "/app.js"} {
		if _, ok := cachedBody(t, w.storage, path); ok {
			t.Fatalf("Partial install: %s was persisted", path)
		}
	}
	if state := w.Lifecycle().State(); state != StateNew {
		t.Fatalf("State is %s", state)
	}
}

func TestActivatePrunesStaleCaches(t *testing.T) {
	w := newTestWorker(&fakeFetcher{})
	for _, name := range []string{"app-assets-v0", DefaultAppCacheName, DefaultFontCacheName} {
		if _, err := w.storage.Open(name); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.Lifecycle().Activate(); err != nil {
		t.Fatal(err)
	}

	names, err := w.storage.Names()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{DefaultAppCacheName, DefaultFontCacheName}) {
		t.Fatalf("Names are %v", names)
	}
	if state := w.Lifecycle().State(); state != StateActivated {
		t.Fatalf("State is %s", state)
	}
}

func TestActivateKeepsCustomCacheNames(t *testing.T) {
	w := newTestWorker(&fakeFetcher{}, func(c *Config) {
		c.AppCacheName = "app-assets-v2"
		c.FontCacheName = "font-assets-v2"
	})
	for _, name := range []string{DefaultAppCacheName, "app-assets-v2", "font-assets-v2"} {
		if _, err := w.storage.Open(name); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.Lifecycle().Activate(); err != nil {
		t.Fatal(err)
	}

	names, _ := w.storage.Names()
	if !reflect.DeepEqual(names, []string{"app-assets-v2", "font-assets-v2"}) {
		t.Fatalf("Names are %v", names)
	}
}

func TestHandleMessage(t *testing.T) {
	w := newTestWorker(&fakeFetcher{})
	lc := w.Lifecycle()

	if reply := lc.HandleMessage(Message{Type: MessageGetVersion}); reply == nil {
		t.Fatal("Expected a version reply")
	} else if reply.Type != "VERSION" || reply.Version != Version {
		t.Fatalf("Reply is %+v", reply)
	}

	if lc.SkipsWaiting() {
		t.Fatal("Skip waiting set too early")
	}
	if reply := lc.HandleMessage(Message{Type: MessageSkipWaiting}); reply != nil {
		t.Fatalf("Reply is %+v", reply)
	}
	if !lc.SkipsWaiting() {
		t.Fatal("Skip waiting not set")
	}

	if reply := lc.HandleMessage(Message{Type: "UNKNOWN"}); reply != nil {
		t.Fatalf("Reply is %+v", reply)
	}
}

func TestVersionIsNotPartOfCacheNames(t *testing.T) {
	// bumping Version must not invalidate caches; only the name constants do
	for _, name := range []string{DefaultAppCacheName, DefaultFontCacheName} {
		if name == Version {
			t.Fatalf("Cache name %q equals version marker", name)
		}
	}
}
