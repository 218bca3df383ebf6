package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmtokens/internal/logger"
)

type fakeHub struct {
	hits     atomic.Int32
	notModif atomic.Int32
	auth     atomic.Value
}

func (f *fakeHub) handler(files map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		f.auth.Store(r.Header.Get("Authorization"))
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			f.notModif.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(body))
	})
}

func newTestClient(t *testing.T, endpoint string, offline bool) *Client {
	t.Helper()
	c := New(Options{
		Endpoint: endpoint,
		CacheDir: filepath.Join(t.TempDir(), "cache"),
		Token:    "secret",
		Offline:  offline,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFetchDownloadsAndCaches(t *testing.T) {
	hub := &fakeHub{}
	srv := httptest.NewServer(hub.handler(map[string]string{
		"/org/model/resolve/main/tokenizer.json": `{"version":"1.0"}`,
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, false)
	ctx, logs := logger.TestContext()

	path, err := c.Fetch(ctx, "org/model", "tokenizer.json")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"version":"1.0"}`, string(data))
	assert.Contains(t, path, filepath.Join("hub", "models--org--model", "main", "tokenizer.json"))
	assert.Equal(t, "Bearer secret", hub.auth.Load())
	assert.Equal(t, 1, logs.FilterMessage("cached").Len())

	again, err := c.Fetch(ctx, "org/model", "tokenizer.json")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.EqualValues(t, 2, hub.hits.Load())
	assert.EqualValues(t, 1, hub.notModif.Load())
}

func TestFetchNotFound(t *testing.T) {
	hub := &fakeHub{}
	srv := httptest.NewServer(hub.handler(nil))
	defer srv.Close()

	c := newTestClient(t, srv.URL, false)
	_, err := c.Fetch(context.Background(), "nonexistent-model-12345", "tokenizer.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, false)
	_, err := c.Fetch(context.Background(), "org/model", "tokenizer.json")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "boom")
}

func TestFetchOffline(t *testing.T) {
	hub := &fakeHub{}
	srv := httptest.NewServer(hub.handler(map[string]string{
		"/org/model/resolve/main/tokenizer_config.json": `{}`,
	}))
	defer srv.Close()

	cacheDir := filepath.Join(t.TempDir(), "cache")
	online := New(Options{Endpoint: srv.URL, CacheDir: cacheDir})
	path, err := online.Fetch(context.Background(), "org/model", "tokenizer_config.json")
	require.NoError(t, err)
	require.NoError(t, online.Close())

	offline := New(Options{Endpoint: srv.URL, CacheDir: cacheDir, Offline: true})
	defer offline.Close()

	got, err := offline.Fetch(context.Background(), "org/model", "tokenizer_config.json")
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = offline.Fetch(context.Background(), "org/other", "tokenizer_config.json")
	assert.ErrorIs(t, err, ErrOffline)
	assert.EqualValues(t, 1, hub.hits.Load())
}

func TestValidateRepoID(t *testing.T) {
	for _, ok := range []string{"gpt2", "Qwen/Qwen2.5-0.5B", "meta-llama/Llama-3.1-8B"} {
		assert.NoError(t, ValidateRepoID(ok), ok)
	}
	for _, bad := range []string{"", "a/b/c", "../etc", "org/..", "has space", "/leading", "a--b", "org/a--b"} {
		assert.ErrorIs(t, ValidateRepoID(bad), ErrInvalidRepo, bad)
	}
}

func TestCachePathsAreDistinct(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0", true)

	tests := []struct {
		repo string
		want string
	}{
		{repo: "gpt2", want: filepath.Join("hub", "models--gpt2", "main", "tokenizer.json")},
		{repo: "a/b", want: filepath.Join("hub", "models--a--b", "main", "tokenizer.json")},
		{repo: "a-b", want: filepath.Join("hub", "models--a-b", "main", "tokenizer.json")},
	}

	seen := map[string]string{}
	for _, tt := range tests {
		require.NoError(t, ValidateRepoID(tt.repo))
		path := c.cachePath(tt.repo, "tokenizer.json")
		assert.True(t, strings.HasSuffix(path, tt.want), path)
		if prev, dup := seen[path]; dup {
			t.Fatalf("%s and %s share cache path %s", prev, tt.repo, path)
		}
		seen[path] = tt.repo
	}
	assert.ErrorIs(t, ValidateRepoID("a--b"), ErrInvalidRepo)
}

func TestFetchInvalidRepoSkipsNetwork(t *testing.T) {
	hub := &fakeHub{}
	srv := httptest.NewServer(hub.handler(nil))
	defer srv.Close()

	c := newTestClient(t, srv.URL, false)
	_, err := c.Fetch(context.Background(), "not a repo", "tokenizer.json")
	assert.ErrorIs(t, err, ErrInvalidRepo)
	assert.EqualValues(t, 0, hub.hits.Load())
}
