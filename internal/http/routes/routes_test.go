package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oshimpathan/sharesathi/cache"
	"github.com/oshimpathan/sharesathi/internal/jobs"
	"github.com/oshimpathan/sharesathi/offline"
)

const adminToken = "s3cret"

type fakeEnqueuer struct {
	got []jobs.DeployVersionPayload
	err error
}

func (f *fakeEnqueuer) EnqueueDeploy(ctx context.Context, p jobs.DeployVersionPayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.got = append(f.got, p)
	return "task-1", nil
}

type fixture struct {
	origin  *httptest.Server
	hits    atomic.Int64
	down    atomic.Bool
	host    *offline.Host
	storage *cache.MemoryStorage
	edge    *httptest.Server
}

func newFixture(t *testing.T, deploys DeployEnqueuer) *fixture {
	t.Helper()
	f := &fixture{storage: cache.NewMemoryStorage()}
	f.origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		switch r.URL.Path {
		case "/", "/logo.png", "/manifest.json":
			_, _ = io.WriteString(w, "asset "+r.URL.Path)
		case "/api/prices/NEPSE":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"index":2100.5}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.origin.Close)

	originURL, err := url.Parse(f.origin.URL)
	require.NoError(t, err)

	network := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if f.down.Load() {
			return nil, io.ErrUnexpectedEOF
		}
		return f.origin.Client().Transport.RoundTrip(req)
	})
	f.host, err = offline.NewHost(offline.HostOptions{
		Origin:  originURL,
		Rules:   offline.DefaultRules(),
		Storage: f.storage,
		Network: network,
	})
	require.NoError(t, err)
	t.Cleanup(f.host.Wait)

	s := New(ServerOptions{
		Host:          f.host,
		Origin:        originURL,
		AdminToken:    adminToken,
		Deploys:       deploys,
		DefaultAssets: offline.DefaultManifest(),
		Gatherer:      prometheus.NewRegistry(),
		Logger:        zerolog.Nop(),
	})
	f.edge = httptest.NewServer(s.Router)
	t.Cleanup(f.edge.Close)
	return f
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func (f *fixture) do(t *testing.T, method, path, body string, admin bool) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.edge.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	resp, err := f.edge.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	status, body := f.do(t, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	status, _ := f.do(t, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, status)
}

func TestAdminRequiresToken(t *testing.T) {
	f := newFixture(t, nil)
	status, _ := f.do(t, http.MethodGet, "/admin/status", "", false)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestInlineDeployThenOfflineServe(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodGet, "/admin/status", "", true)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"state":"none"`)

	status, body = f.do(t, http.MethodPost, "/admin/deploy", `{"version":"sharesathi-v1"}`, true)
	require.Equal(t, http.StatusOK, status, body)
	var st offline.Status
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, "sharesathi-v1", st.Version)
	assert.Equal(t, "active", st.State)

	status, body = f.do(t, http.MethodGet, "/admin/caches", "", true)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"caches":["sharesathi-v1"]}`, body)

	status, _ = f.do(t, http.MethodPost, "/admin/deploy", `{"version":"sharesathi-v1"}`, true)
	assert.Equal(t, http.StatusConflict, status)

	// Origin goes away: the shell is still served, the API is not.
	f.down.Store(true)
	status, body = f.do(t, http.MethodGet, "/logo.png", "", false)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "asset /logo.png", body)

	status, _ = f.do(t, http.MethodGet, "/api/prices/NEPSE", "", false)
	assert.Equal(t, http.StatusBadGateway, status)
}

func TestProxyPassesAPIThrough(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.host.Deploy(context.Background(), offline.DefaultVersion, offline.DefaultManifest())
	require.NoError(t, err)

	before := f.hits.Load()
	status, body := f.do(t, http.MethodGet, "/api/prices/NEPSE", "", false)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"index":2100.5}`, body)
	assert.Equal(t, before+1, f.hits.Load())
}

func TestDeployValidation(t *testing.T) {
	f := newFixture(t, nil)

	status, _ := f.do(t, http.MethodPost, "/admin/deploy", `{not json`, true)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/admin/deploy", `{"version":"../etc"}`, true)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/admin/deploy", `{"version":"sharesathi-v9","assets":["/missing.css"]}`, true)
	assert.Equal(t, http.StatusBadGateway, status)
}

func TestQueuedDeploy(t *testing.T) {
	q := &fakeEnqueuer{}
	f := newFixture(t, q)

	status, body := f.do(t, http.MethodPost, "/admin/deploy", `{"version":"sharesathi-v2"}`, true)
	require.Equal(t, http.StatusAccepted, status)
	assert.JSONEq(t, `{"task_id":"task-1","version":"sharesathi-v2"}`, body)
	require.Len(t, q.got, 1)
	assert.Equal(t, offline.DefaultManifest(), q.got[0].Assets)
	assert.Nil(t, f.host.Active(), "queued deploys do not run inline")

	q.err = jobs.ErrAlreadyQueued
	status, _ = f.do(t, http.MethodPost, "/admin/deploy", `{"version":"sharesathi-v2"}`, true)
	assert.Equal(t, http.StatusConflict, status)
}
