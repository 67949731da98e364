package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/oshimpathan/sharesathi/cache"
)

var errOffline = errors.New("dial tcp: network is unreachable")

// fakeOrigin is a scripted Fetcher keyed by URL path.
type fakeOrigin struct {
	mu      sync.Mutex
	bodies  map[string]string
	status  map[string]int
	failing map[string]bool
	offline bool
	calls   map[string]int
	headers map[string]http.Header
	// gate, when set, blocks every fetch until it is closed.
	gate chan struct{}
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{
		bodies:  map[string]string{},
		status:  map[string]int{},
		failing: map[string]bool{},
		calls:   map[string]int{},
		headers: map[string]http.Header{},
	}
}

func (f *fakeOrigin) serve(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[path] = body
	f.status[path] = http.StatusOK
}

func (f *fakeOrigin) serveStatus(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[path] = body
	f.status[path] = status
}

func (f *fakeOrigin) fail(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[path] = true
}

func (f *fakeOrigin) setOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

func (f *fakeOrigin) callsTo(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

// lastHeader returns the headers of the most recent fetch of path.
func (f *fakeOrigin) lastHeader(path string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[path]
}

func (f *fakeOrigin) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	path := req.URL.Path
	f.calls[path]++
	f.headers[path] = req.Header.Clone()
	if f.offline || f.failing[path] {
		return nil, errOffline
	}
	status, ok := f.status[path]
	if !ok {
		status = http.StatusNotFound
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(f.bodies[path])),
		Request:    req,
	}, nil
}

// spyStorage counts cache reads and writes and can inject failures.
type spyStorage struct {
	cache.Storage
	matches  atomic.Int64
	puts     atomic.Int64
	matchErr error
	putErr   error
	openErr  error
}

func newSpyStorage() *spyStorage {
	return &spyStorage{Storage: cache.NewMemoryStorage()}
}

func (s *spyStorage) Open(ctx context.Context, name string) (cache.Cache, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	c, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &spyCache{Cache: c, spy: s}, nil
}

type spyCache struct {
	cache.Cache
	spy *spyStorage
}

func (c *spyCache) Match(ctx context.Context, key string) (*cache.Entry, error) {
	c.spy.matches.Add(1)
	if c.spy.matchErr != nil {
		return nil, c.spy.matchErr
	}
	return c.Cache.Match(ctx, key)
}

func (c *spyCache) Put(ctx context.Context, key string, e *cache.Entry) error {
	c.spy.puts.Add(1)
	if c.spy.putErr != nil {
		return c.spy.putErr
	}
	return c.Cache.Put(ctx, key, e)
}

const testOrigin = "http://localhost:5173"

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return u
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

// storedBody returns the body stored for path on testOrigin in the named
// cache, or "" if absent.
func storedBody(t *testing.T, s cache.Storage, version, path string) (string, bool) {
	t.Helper()
	return storedBodyAt(t, s, testOrigin, version, path)
}

func storedBodyAt(t *testing.T, s cache.Storage, origin, version, path string) (string, bool) {
	t.Helper()
	ctx := context.Background()
	names, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("list caches: %v", err)
	}
	found := false
	for _, n := range names {
		if n == version {
			found = true
		}
	}
	if !found {
		return "", false
	}
	c, err := s.Open(ctx, version)
	if err != nil {
		t.Fatalf("open %s: %v", version, err)
	}
	e, err := c.Match(ctx, cache.RequestKey(http.MethodGet, mustURL(t, origin+path)))
	if errors.Is(err, cache.ErrNotFound) {
		return "", false
	}
	if err != nil {
		t.Fatalf("match %s: %v", path, err)
	}
	return string(e.Body), true
}
