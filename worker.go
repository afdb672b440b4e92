package offlinecache

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/offline-cache/offline-cache/cache"
)

const cacheStatusName = "Offline-Cache"

type Config struct {
	// Storage for the named caches.
	Storage cache.Storage
	// OriginURL is the application's own origin server.
	OriginURL url.URL
	// Fetcher overrides the default network fetcher. Mainly for tests.
	Fetcher Fetcher
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// AppCacheName and FontCacheName partition stored responses. Defaults
	// are used when empty.
	AppCacheName  string
	FontCacheName string
	// FontHosts lists the remote font-serving hostnames handled with
	// stale-while-revalidate. Defaults to the Google Fonts hosts.
	FontHosts []string
	// Precache is the core asset manifest fetched at install time.
	Precache []string
	// RootDocument is the entry-point path tried as a cached fallback
	// before the built-in offline page. Defaults to "/".
	RootDocument string
	// FallbackOnRevalidateMiss serves the offline page when a
	// stale-while-revalidate lookup misses and the network fails too.
	// The historic behavior, kept as the default, is a bare 502.
	FallbackOnRevalidateMiss bool
}

// Worker intercepts requests and serves them according to per-destination
// caching strategies. It implements http.Handler.
type Worker struct {
	storage   cache.Storage
	fetcher   Fetcher
	executor  *Executor
	lifecycle *Lifecycle
	origin    url.URL
	fontHosts []string
	fontCache string
	tasks     *TaskSet
	log       zerolog.Logger
}

// NewWorker wires the router, strategies, and lifecycle together.
func NewWorker(config Config) *Worker {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Logger()

	if config.AppCacheName == "" {
		config.AppCacheName = DefaultAppCacheName
	}
	if config.FontCacheName == "" {
		config.FontCacheName = DefaultFontCacheName
	}
	if len(config.FontHosts) == 0 {
		config.FontHosts = DefaultFontHosts()
	}
	if config.RootDocument == "" {
		config.RootDocument = "/"
	}

	fetcher := config.Fetcher
	if fetcher == nil {
		fetcher = NewOriginFetcher(&config.OriginURL)
	}

	tasks := &TaskSet{}
	fallback := NewFallback(config.Storage, config.RootDocument)

	return &Worker{
		storage: config.Storage,
		fetcher: fetcher,
		executor: &Executor{
			storage:        config.Storage,
			fetcher:        fetcher,
			fallback:       fallback,
			appCache:       config.AppCacheName,
			fallbackOnMiss: config.FallbackOnRevalidateMiss,
			tasks:          tasks,
			log:            logger,
		},
		lifecycle: &Lifecycle{
			storage:   config.Storage,
			fetcher:   fetcher,
			manifest:  config.Precache,
			appCache:  config.AppCacheName,
			fontCache: config.FontCacheName,
			log:       logger,
		},
		origin:    config.OriginURL,
		fontHosts: config.FontHosts,
		fontCache: config.FontCacheName,
		tasks:     tasks,
		log:       logger,
	}
}

// Lifecycle returns the worker's lifecycle manager.
func (w *Worker) Lifecycle() *Lifecycle {
	return w.lifecycle
}

// ServeHTTP implements the http.Handler interface. It is the interception
// point for every request.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var res *http.Response
	var hit bool

	switch dest := Classify(r, &w.origin, w.fontHosts); dest {
	case DestBypass:
		w.bypass(rw, r)
		return
	case DestFontHost:
		res, hit = w.executor.StaleWhileRevalidate(r, w.fontCache)
	case DestOwnOrigin:
		res, hit = w.executor.CacheFirst(r)
	default:
		res, hit = w.executor.NetworkFirst(r)
	}

	w.send(rw, r, res, hit)
}

// Shutdown waits for in-flight background refreshes to settle.
func (w *Worker) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) send(rw http.ResponseWriter, r *http.Request, res *http.Response, hit bool) {
	defer res.Body.Close()
	copyHeader(rw.Header(), res.Header)
	if hit {
		rw.Header().Set("Cache-Status", cacheStatusName+"; hit")
	} else {
		rw.Header().Set("Cache-Status", cacheStatusName+"; fwd=miss")
	}
	rw.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(rw, res.Body)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not write response body to client")
	}
	w.logRequest(r, res.StatusCode, hit)
	w.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

// bypass pipes the request through to the network untouched.
func (w *Worker) bypass(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Cache-Status", cacheStatusName+"; fwd=bypass")
	res, err := w.fetcher.Do(r)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not get response")
		http.Error(rw, "Could not get response", http.StatusBadGateway)
		return
	}
	defer res.Body.Close()
	copyHeader(rw.Header(), res.Header)
	rw.WriteHeader(res.StatusCode)
	if _, err := io.Copy(rw, res.Body); err != nil {
		w.log.Error().Err(err).Msg("Could not write response body to client")
	}
}

func (w *Worker) logRequest(r *http.Request, statusCode int, hit bool) {
	isHit := 0
	if hit {
		isHit = 1
	}
	w.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Int("status", statusCode).
		Int("hit", isHit).
		Msg("Sending response to client")
}
