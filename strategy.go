package offlinecache

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/offline-cache/offline-cache/cache"
	snapshot "github.com/offline-cache/offline-cache/pkg/response-snapshot"
)

// Executor implements the three fetch strategies against a cache.Storage.
// Each strategy returns the response to send to the client plus a flag
// telling whether it came from the cache.
type Executor struct {
	storage        cache.Storage
	fetcher        Fetcher
	fallback       *Fallback
	appCache       string
	fallbackOnMiss bool
	tasks          *TaskSet
	refresh        singleflight.Group
	log            zerolog.Logger
}

// CacheFirst serves from any open cache when possible, refreshing the entry
// in the background. A miss goes to the network; a network failure on a miss
// yields the offline fallback.
func (e *Executor) CacheFirst(r *http.Request) (*http.Response, bool) {
	if snap, ok, err := e.storage.Match(r); err != nil {
		e.log.Error().Err(err).Msg("Could not read from cache")
	} else if ok {
		if res, err := snapshot.Response(snap, r); err != nil {
			e.log.Error().Err(err).Msg("Could not decode cached response")
		} else {
			e.revalidate(r, e.appCache)
			return res, true
		}
	}
	res, err := e.fetchAndStore(r, e.appCache)
	if err != nil {
		e.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Network failed on cache miss")
		return e.fallback.Response(r), false
	}
	return res, false
}

// NetworkFirst prefers a live network result and stores successful ones in
// the application cache. On network failure it falls back to the application
// cache, then to the offline fallback.
func (e *Executor) NetworkFirst(r *http.Request) (*http.Response, bool) {
	res, err := e.fetchAndStore(r, e.appCache)
	if err == nil {
		return res, false
	}
	e.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Network failed, trying cache")
	if c, cerr := e.storage.Open(e.appCache); cerr == nil {
		if snap, ok, _ := c.Match(r); ok {
			if cached, rerr := snapshot.Response(snap, r); rerr == nil {
				return cached, true
			}
		}
	}
	return e.fallback.Response(r), false
}

// StaleWhileRevalidate serves the current entry of the named cache
// immediately, however old, while refreshing it in the background for the
// next request. On a miss the caller gets the network result directly; a
// miss combined with a network failure historically produced a bare 502,
// unless the executor is configured to serve the offline fallback instead.
func (e *Executor) StaleWhileRevalidate(r *http.Request, cacheName string) (*http.Response, bool) {
	c, err := e.storage.Open(cacheName)
	if err != nil {
		e.log.Error().Err(err).Str("cache", cacheName).Msg("Could not open cache")
	} else if snap, ok, merr := c.Match(r); merr != nil {
		e.log.Error().Err(merr).Msg("Could not read from cache")
	} else if ok {
		if res, rerr := snapshot.Response(snap, r); rerr == nil {
			e.revalidate(r, cacheName)
			return res, true
		}
	}
	res, err := e.fetchAndStore(r, cacheName)
	if err != nil {
		e.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Network failed on revalidation miss")
		if e.fallbackOnMiss {
			return e.fallback.Response(r), false
		}
		return errorResponse(r, http.StatusBadGateway), false
	}
	return res, false
}

// fetchAndStore fetches from the network and stores a snapshot in the named
// cache when the response is a success. Non-2xx responses are returned
// verbatim but never persisted.
func (e *Executor) fetchAndStore(r *http.Request, cacheName string) (*http.Response, error) {
	res, err := e.fetcher.Do(r)
	if err != nil {
		return nil, err
	}
	if !isSuccess(res.StatusCode) {
		return res, nil
	}
	snap, err := snapshot.Capture(res)
	if err != nil {
		e.log.Error().Err(err).Msg("Could not capture response")
		return res, nil
	}
	e.store(r, cacheName, snap)
	return res, nil
}

func (e *Executor) store(r *http.Request, cacheName string, snap []byte) {
	c, err := e.storage.Open(cacheName)
	if err != nil {
		e.log.Error().Err(err).Str("cache", cacheName).Msg("Could not open cache")
		return
	}
	if err := c.Put(r, snap); err != nil {
		e.log.Error().Err(err).Str("cache", cacheName).Msg("Could not write to cache")
		return
	}
	e.log.Trace().Str("cache", cacheName).Str("key", cache.Key(r)).Msg("Cache write")
}

// revalidate refreshes the cache entry for r in the background. The caller
// does not wait for it; failures are swallowed after a single attempt.
// Concurrent refreshes of the same key collapse into one network fetch.
func (e *Executor) revalidate(r *http.Request, cacheName string) {
	key := cache.Key(r)
	req := r.Clone(context.Background())
	e.tasks.Go(func() {
		_, err, _ := e.refresh.Do(key, func() (interface{}, error) {
			res, err := e.fetcher.Do(req)
			if err != nil {
				return nil, err
			}
			defer res.Body.Close()
			if !isSuccess(res.StatusCode) {
				return nil, nil
			}
			snap, err := snapshot.Capture(res)
			if err != nil {
				return nil, err
			}
			e.store(req, cacheName, snap)
			return nil, nil
		})
		if err != nil {
			e.log.Debug().Err(err).Str("key", key).Msg("Background refresh failed")
		}
	})
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// errorResponse synthesizes a minimal response with the given status.
func errorResponse(r *http.Request, statusCode int) *http.Response {
	return &http.Response{
		Status:     http.StatusText(statusCode),
		StatusCode: statusCode,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    r,
	}
}
