package offlinecache

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/offline-cache/offline-cache/cache"
	snapshot "github.com/offline-cache/offline-cache/pkg/response-snapshot"
)

// Version identifies the worker build. It is reported over the message
// channel only: cache invalidation is driven by the cache name constants,
// never by this value.
const Version = "1.2.0"

// Default cache names. Bumping a name orphans the previous cache, which the
// next activation prunes.
const (
	DefaultAppCacheName  = "app-assets-v1"
	DefaultFontCacheName = "font-assets-v1"
)

// State is the lifecycle state of a worker.
type State int

const (
	StateNew State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	}
	return "unknown"
}

// Control message types accepted from client contexts.
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"
)

// Message is a control message sent by a client context.
type Message struct {
	Type string `json:"type"`
}

// Reply is the structured answer to a control message, if any.
type Reply struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
}

// Lifecycle drives the install/activate state machine: install precaches the
// core assets, activate prunes caches left behind by previous versions.
type Lifecycle struct {
	storage   cache.Storage
	fetcher   Fetcher
	manifest  []string
	appCache  string
	fontCache string
	log       zerolog.Logger

	mutex       sync.Mutex
	state       State
	skipWaiting bool
}

// Install precaches the core asset manifest into the application cache. The
// batch is all-or-nothing: every asset is fetched before anything is stored,
// and any single failure aborts the whole install.
func (l *Lifecycle) Install(ctx context.Context) error {
	l.setState(StateInstalling)

	requests := make([]*http.Request, len(l.manifest))
	snapshots := make([][]byte, len(l.manifest))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range l.manifest {
		i, path := i, path
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
			if err != nil {
				return fmt.Errorf("precache %s: %w", path, err)
			}
			res, err := l.fetcher.Do(req)
			if err != nil {
				return fmt.Errorf("precache %s: %w", path, err)
			}
			defer res.Body.Close()
			if !isSuccess(res.StatusCode) {
				return fmt.Errorf("precache %s: unexpected status %d", path, res.StatusCode)
			}
			snap, err := snapshot.Capture(res)
			if err != nil {
				return fmt.Errorf("precache %s: %w", path, err)
			}
			requests[i] = req
			snapshots[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.setState(StateNew)
		return err
	}

	c, err := l.storage.Open(l.appCache)
	if err != nil {
		l.setState(StateNew)
		return fmt.Errorf("open cache %q: %w", l.appCache, err)
	}
	for i, req := range requests {
		if err := c.Put(req, snapshots[i]); err != nil {
			l.setState(StateNew)
			return fmt.Errorf("precache %s: %w", l.manifest[i], err)
		}
	}

	l.setState(StateInstalled)
	l.log.Info().Int("assets", len(l.manifest)).Str("cache", l.appCache).Msg("Install complete")
	return nil
}

// Activate prunes every cache whose name is outside the current known set
// and marks the worker active so requests are handled with the new logic
// immediately. A deletion failure is logged and pruning continues; a partial
// prune must not block activation.
func (l *Lifecycle) Activate() error {
	l.setState(StateActivating)

	names, err := l.storage.Names()
	if err != nil {
		l.setState(StateInstalled)
		return fmt.Errorf("list caches: %w", err)
	}
	for _, name := range names {
		if name == l.appCache || name == l.fontCache {
			continue
		}
		if _, err := l.storage.Delete(name); err != nil {
			l.log.Error().Err(err).Str("cache", name).Msg("Could not delete stale cache")
			continue
		}
		l.log.Debug().Str("cache", name).Msg("Deleted stale cache")
	}

	l.setState(StateActivated)
	l.log.Info().Str("version", Version).Msg("Activated")
	return nil
}

// HandleMessage processes a control message from a client context. The
// returned reply is nil when the message warrants none.
func (l *Lifecycle) HandleMessage(msg Message) *Reply {
	switch msg.Type {
	case MessageSkipWaiting:
		l.SkipWaiting()
		return nil
	case MessageGetVersion:
		return &Reply{Type: "VERSION", Version: Version}
	default:
		l.log.Debug().Str("type", msg.Type).Msg("Ignoring unknown message")
		return nil
	}
}

// SkipWaiting requests activation as soon as install completes, bypassing
// the waiting period.
func (l *Lifecycle) SkipWaiting() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.skipWaiting = true
}

// SkipsWaiting reports whether skip-waiting has been requested.
func (l *Lifecycle) SkipsWaiting() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.skipWaiting
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.state
}

func (l *Lifecycle) setState(state State) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.state = state
}
