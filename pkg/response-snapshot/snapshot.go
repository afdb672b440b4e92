// Package snapshot serializes HTTP responses to and from their raw HTTP/1.1
// wire representation. Snapshots are what the cache stores.
package snapshot

import (
	"bufio"
	"bytes"
	"net/http"
)

// Capture serializes res into a snapshot. Writing a response consumes its
// body, so Capture replaces res.Body with an equivalent readable copy: the
// caller can still send the response to a client after capturing it.
func Capture(res *http.Response) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	bts := buf.Bytes()
	restored, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = restored.Body
	return bts, nil
}

// Response rebuilds an http.Response from a snapshot. The request may be nil.
func Response(b []byte, req *http.Request) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
}
