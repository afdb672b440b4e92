package offlinecache

import (
	"io"
	"net/http"
	"strings"

	"github.com/offline-cache/offline-cache/cache"
	snapshot "github.com/offline-cache/offline-cache/pkg/response-snapshot"
)

const offlineContentType = "text/html; charset=utf-8"

// offlinePage is the constant last-resort document. It has no parameters and
// no failure path.
const offlinePage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Offline</title>
</head>
<body>
<h1>You are offline</h1>
<p>This page could not be loaded. Check your connection and try again.</p>
</body>
</html>
`

// Fallback produces a best-effort response when both the network and the
// cache fail for a request expecting an HTML document.
type Fallback struct {
	storage cache.Storage
	root    string
}

func NewFallback(storage cache.Storage, rootDocument string) *Fallback {
	return &Fallback{storage: storage, root: rootDocument}
}

// Response returns the cached entry-point document when present, and the
// built-in offline page otherwise. It always produces a usable response.
func (f *Fallback) Response(r *http.Request) *http.Response {
	if rootReq, err := http.NewRequest(http.MethodGet, f.root, nil); err == nil {
		if snap, ok, _ := f.storage.Match(rootReq); ok {
			if res, err := snapshot.Response(snap, rootReq); err == nil {
				return res
			}
		}
	}
	header := http.Header{}
	header.Set("Content-Type", offlineContentType)
	return &http.Response{
		Status:        http.StatusText(http.StatusOK),
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(offlinePage)),
		ContentLength: int64(len(offlinePage)),
		Request:       r,
	}
}
