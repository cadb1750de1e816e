// Package transport plugs a gate into net/http.
//
// Transport is an http.RoundTripper that waits for admission before each
// request and reports the size of each response body back to the gate once
// it has been consumed:
//
//	g, _ := gate.New(cfg)
//	client := transport.NewClient(g, nil)
//	resp, err := client.Get("https://example.com/")
//
// The reported size is the number of body bytes the caller actually read.
// If the body is closed before anything was read, the Content-Length header
// is reported instead when present.
package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// Admitter is the part of *gate.Gate the transport needs.
type Admitter interface {
	Admit(ctx context.Context) error
	RecordResponse(size int64)
}

// Transport throttles requests through an Admitter.
type Transport struct {
	// Gate admits requests and receives response sizes.
	Gate Admitter

	// Base performs the requests. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	// Logger receives per-request debug output. If nil, logs are discarded.
	Logger *slog.Logger
}

// New returns a Transport using base, or http.DefaultTransport if base is nil.
func New(g Admitter, base http.RoundTripper) *Transport {
	return &Transport{Gate: g, Base: base}
}

// NewClient returns an http.Client whose requests go through g.
func NewClient(g Admitter, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: New(g, base)}
}

// RoundTrip implements http.RoundTripper. Errors from Admit are returned
// unchanged and the request is not sent, but its body is still closed.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Gate.Admit(req.Context()); err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.Body == nil {
		t.Gate.RecordResponse(max(resp.ContentLength, 0))
		return resp, nil
	}

	logger := t.Logger
	if logger == nil {
		logger = discard
	}
	url := req.URL.String()
	resp.Body = &countingBody{
		rc:     resp.Body,
		length: resp.ContentLength,
		report: func(n int64) {
			logger.Debug("response recorded", "url", url, "status", resp.StatusCode, "bytes", n)
			t.Gate.RecordResponse(n)
		},
	}
	return resp, nil
}

// Unwrap returns the underlying transport.
func (t *Transport) Unwrap() http.RoundTripper {
	return t.base()
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

var discard = slog.New(slog.DiscardHandler)

// countingBody reports the number of bytes read exactly once, on EOF or
// Close, whichever comes first.
type countingBody struct {
	rc     io.ReadCloser
	length int64
	report func(int64)

	mu   sync.Mutex
	read int64
	once sync.Once
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)

	b.mu.Lock()
	b.read += int64(n)
	total := b.read
	b.mu.Unlock()

	if err == io.EOF {
		b.once.Do(func() { b.report(total) })
	}
	return n, err
}

func (b *countingBody) Close() error {
	b.mu.Lock()
	size := b.read
	b.mu.Unlock()

	if size == 0 && b.length > 0 {
		size = b.length
	}
	b.once.Do(func() { b.report(size) })
	return b.rc.Close()
}
