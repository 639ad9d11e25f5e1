package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio1/treestore_sdk_go/internal/httpx"
	"github.com/Ratio1/treestore_sdk_go/internal/logging"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore/mock"
)

func startSandbox(t *testing.T, store *mock.Mock, cfg serverConfig) *httptest.Server {
	t.Helper()
	if cfg.logger == nil {
		cfg.logger = logging.Discard()
	}
	srv := httptest.NewServer(newRouter(store, prometheus.NewRegistry(), cfg))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseFailConfig(t *testing.T) {
	cfg, err := parseFailConfig("")
	require.NoError(t, err)
	assert.Zero(t, cfg)

	cfg, err = parseFailConfig("rate=0.25")
	require.NoError(t, err)
	assert.Equal(t, failConfig{rate: 0.25, code: http.StatusInternalServerError}, cfg)

	cfg, err = parseFailConfig(" rate=1 , code=503 ")
	require.NoError(t, err)
	assert.Equal(t, failConfig{rate: 1, code: 503}, cfg)

	for _, raw := range []string{"rate", "rate=x", "rate=2", "code=abc", "color=red"} {
		_, err := parseFailConfig(raw)
		assert.Error(t, err, raw)
	}
}

func TestClientRoundTripThroughSandbox(t *testing.T) {
	srv := startSandbox(t, mock.New(), serverConfig{})
	client, err := treestore.New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, client.Put(ctx, "users/alice", map[string]int{"age": 30}))
	node, err := client.Get(ctx, "users/alice")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.JSONEq(t, `{"age":30}`, string(node.Value))

	key, err := client.Post(ctx, "potholes", map[string]float64{"latitude": 1.5, "longitude": -2})
	require.NoError(t, err)
	require.NotEmpty(t, key)

	node, err = client.Get(ctx, "potholes/"+key)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.JSONEq(t, `{"latitude":1.5,"longitude":-2}`, string(node.Value))

	require.NoError(t, client.Delete(ctx, "users/alice"))
	node, err = client.Get(ctx, "users/alice")
	require.NoError(t, err)
	assert.Nil(t, node)

	root, err := client.Get(ctx, "/")
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Contains(t, string(root.Value), key)
}

func TestInvalidBodyAndPath(t *testing.T) {
	srv := startSandbox(t, mock.New(), serverConfig{})

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/a.json", strings.NewReader("{nope"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), `"error"`)

	resp, err = http.Get(srv.URL + "/a")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	srv := startSandbox(t, mock.New(), serverConfig{auth: "s3cret"})
	ctx := context.Background()

	anon, err := treestore.New(srv.URL)
	require.NoError(t, err)
	_, err = anon.Get(ctx, "a")
	assert.Equal(t, treestore.KindStoreUnavailable, treestore.KindOf(err))

	authed, err := treestore.New(srv.URL, httpx.WithQuery(url.Values{"auth": {"s3cret"}}))
	require.NoError(t, err)
	require.NoError(t, authed.Put(ctx, "a", 1))
}

func TestFailureInjection(t *testing.T) {
	m := mock.New()
	srv := startSandbox(t, m, serverConfig{
		fail:   failConfig{rate: 1, code: http.StatusServiceUnavailable},
		random: func() float64 { return 0 },
	})

	resp, err := http.Get(srv.URL + "/a.json")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	client, err := treestore.New(srv.URL)
	require.NoError(t, err)
	err = client.Put(context.Background(), "a", 1)
	assert.Equal(t, treestore.KindStoreUnavailable, treestore.KindOf(err))
	assert.Zero(t, m.Len())

	// /metrics is outside the injected group.
	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLatencyHitsClientTimeout(t *testing.T) {
	srv := startSandbox(t, mock.New(), serverConfig{latency: 200 * time.Millisecond})
	hc, err := httpx.NewClient(srv.URL)
	require.NoError(t, err)
	client := treestore.NewWithHTTPClient(hc, treestore.WithTimeout(20*time.Millisecond))

	_, err = client.Get(context.Background(), "a")
	assert.Equal(t, treestore.KindTimeout, treestore.KindOf(err))
}

func TestMetricsExposeBackendAndRequests(t *testing.T) {
	srv := startSandbox(t, mock.New(), serverConfig{})
	client, err := treestore.New(srv.URL)
	require.NoError(t, err)
	require.NoError(t, client.Put(context.Background(), "a", 1))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Contains(t, string(body), `treestore_backend_calls_total{op="put",outcome="ok"} 1`)
	assert.Contains(t, string(body), `treestore_sandbox_requests_total{code="200",method="PUT"} 1`)
}

func TestBaseURL(t *testing.T) {
	ln := httptest.NewUnstartedServer(http.NotFoundHandler()).Listener
	defer ln.Close()
	assert.True(t, strings.HasPrefix(baseURL(ln.Addr()), "http://127.0.0.1:"))
}
