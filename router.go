package offlinecache

import (
	"net/http"
	"net/url"
)

// Destination classifies where an intercepted request is headed, which in
// turn decides the caching strategy and cache name used for it.
type Destination int

const (
	// DestBypass requests are not intercepted at all.
	DestBypass Destination = iota
	// DestOwnOrigin requests target the application's own origin.
	DestOwnOrigin
	// DestFontHost requests target a recognized remote font host.
	DestFontHost
	// DestOther is any other third-party origin.
	DestOther
)

func (d Destination) String() string {
	switch d {
	case DestBypass:
		return "bypass"
	case DestOwnOrigin:
		return "own-origin"
	case DestFontHost:
		return "font-host"
	case DestOther:
		return "other"
	}
	return "unknown"
}

// DefaultFontHosts are the two Google Fonts hostnames: the stylesheet server
// and the static font file server.
func DefaultFontHosts() []string {
	return []string{"fonts.googleapis.com", "fonts.gstatic.com"}
}

// Classify decides the destination of a request. Only GET requests are ever
// intercepted; extension-internal schemes pass through untouched. Relative
// URLs count as own-origin.
func Classify(r *http.Request, origin *url.URL, fontHosts []string) Destination {
	if r.Method != http.MethodGet {
		return DestBypass
	}
	if r.URL.Scheme == "chrome-extension" {
		return DestBypass
	}
	host := r.URL.Hostname()
	for _, fontHost := range fontHosts {
		if host == fontHost {
			return DestFontHost
		}
	}
	if !r.URL.IsAbs() || sameOrigin(r.URL, origin) {
		return DestOwnOrigin
	}
	return DestOther
}

func sameOrigin(u, origin *url.URL) bool {
	return u.Scheme == origin.Scheme && u.Host == origin.Host
}
