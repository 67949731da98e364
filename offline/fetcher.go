package offline

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/oshimpathan/sharesathi/cache"
)

// Fetcher performs live network requests on behalf of the controller.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// TransportFetcher fetches through an http.RoundTripper. Timeouts are
// whatever the transport imposes.
type TransportFetcher struct {
	Transport http.RoundTripper
}

// Fetch implements Fetcher.
func (t TransportFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	rt := t.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return rt.RoundTrip(req.Clone(ctx))
}

// fetchEntry runs one live fetch and captures the whole response. Transport
// errors and body read errors are wrapped in ErrNetwork.
func fetchEntry(ctx context.Context, f Fetcher, req *http.Request) (*cache.Entry, error) {
	resp, err := f.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, req.Method, req.URL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body of %s: %w", ErrNetwork, req.URL, err)
	}
	return cache.NewEntry(resp, body), nil
}
