package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/52poke/engquiz/internal/cache"
	"github.com/52poke/engquiz/internal/offline"
	"github.com/52poke/engquiz/internal/origin"
)

type testOrigin struct {
	srv   *httptest.Server
	hits  atomic.Int32
	posts atomic.Int32
	bank  atomic.Value
}

func newTestOrigin(t *testing.T) *testOrigin {
	t.Helper()
	o := &testOrigin{}
	o.bank.Store(`[{"question":"live"}]`)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		if r.Method == http.MethodPost {
			o.posts.Add(1)
			w.WriteHeader(http.StatusCreated)
			return
		}
		switch r.URL.Path {
		case "/", "/index.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html>shell</html>")
		case "/style.css":
			w.Header().Set("Content-Type", "text/css")
			_, _ = io.WriteString(w, "body{}")
		case "/questions.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, o.bank.Load().(string))
		default:
			http.NotFound(w, r)
		}
	})
	o.srv = httptest.NewServer(mux)
	t.Cleanup(o.srv.Close)
	return o
}

func newTestHandler(t *testing.T, o *testOrigin) (*Handler, cache.Store) {
	t.Helper()
	store := cache.NewMemoryStore()
	mgr, err := offline.New(offline.Options{
		Version:  "v1",
		Manifest: []string{"/", "/index.html", "/style.css"},
		Store:    store,
		Network:  origin.NewClient(o.srv.URL, time.Second),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Install(context.Background()))
	require.NoError(t, mgr.Activate(context.Background()))

	h, err := NewHandler(o.srv.URL, mgr, nil)
	require.NoError(t, err)
	return h, store
}

func TestHandlerServesStaticFromCache(t *testing.T) {
	o := newTestOrigin(t)
	h, _ := newTestHandler(t, o)
	before := o.hits.Load()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/style.css", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{}", rec.Body.String())
	assert.Equal(t, "HIT", rec.Header().Get(cacheStatusHeader))
	assert.Equal(t, "text/css", rec.Header().Get("Content-Type"))
	assert.Equal(t, before, o.hits.Load())
}

func TestHandlerNetworkFirstForQuestionBank(t *testing.T) {
	o := newTestOrigin(t)
	h, store := newTestHandler(t, o)
	require.NoError(t, store.Put(context.Background(), "v1", "/questions.json", cache.Object{Body: []byte(`[{"question":"old"}]`)}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/questions.json", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `[{"question":"live"}]`, rec.Body.String())
	assert.Equal(t, "NETWORK", rec.Header().Get(cacheStatusHeader))
}

func TestHandlerOffline(t *testing.T) {
	o := newTestOrigin(t)
	h, store := newTestHandler(t, o)
	require.NoError(t, store.Put(context.Background(), "v1", "/questions.json", cache.Object{
		Body:        []byte(`[{"question":"cached"}]`),
		ContentType: "application/json",
	}))
	o.srv.Close()

	nav := httptest.NewRequest(http.MethodGet, "/?utm_source=line", nil)
	nav.Header.Set("Sec-Fetch-Mode", "navigate")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, nav)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>shell</html>", rec.Body.String())
	assert.Equal(t, "HIT", rec.Header().Get(cacheStatusHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/questions.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `[{"question":"cached"}]`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/g9_unknown.json", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestHandlerPassesNonGetThrough(t *testing.T) {
	o := newTestOrigin(t)
	h, _ := newTestHandler(t, o)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/feedback", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int32(1), o.posts.Load())
}

func TestHandlerReady(t *testing.T) {
	o := newTestOrigin(t)
	store := cache.NewMemoryStore()
	mgr, err := offline.New(offline.Options{
		Version:  "v1",
		Manifest: []string{"/index.html"},
		Store:    store,
		Network:  origin.NewClient(o.srv.URL, time.Second),
	})
	require.NoError(t, err)
	h, err := NewHandler(o.srv.URL, mgr, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, mgr.Activate(context.Background()))
	rec = httptest.NewRecorder()
	h.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestToRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/g1_be_verb.json?utm_medium=social&v=2", nil)
	r.Header.Set("Sec-Fetch-Mode", "cors")
	req := ToRequest(r)
	assert.Equal(t, "/g1_be_verb.json", req.Path)
	assert.Equal(t, "v=2", req.RawQuery)
	assert.False(t, req.Navigate)
	assert.Equal(t, "/g1_be_verb.json?v=2", req.Key())

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept", "text/html,application/xhtml+xml")
	assert.True(t, ToRequest(r).Navigate)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Sec-Fetch-Dest", "image")
	r.Header.Set("Accept", "text/html")
	assert.False(t, ToRequest(r).Navigate)
}

func TestToRequestKeepsQueryWithoutUTM(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/script.js?z=1&a=2&v", nil)
	req := ToRequest(r)
	assert.Equal(t, "z=1&a=2&v", req.RawQuery)
	assert.Equal(t, "/script.js?z=1&a=2&v", req.Key())
}
