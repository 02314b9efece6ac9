package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func releaseServer(t *testing.T, calls *atomic.Int32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/repos/qoredb/qoredb/releases/latest", r.URL.Path)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(Release{
			TagName: "v1.4.2",
			Name:    "QoreDB 1.4.2",
			Assets: []ReleaseAsset{
				{Name: "qoredb-1.4.2-darwin-arm64.dmg", DownloadURL: "https://dl.example/mac", Size: 1024},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLatestReleaseProxied(t *testing.T) {
	var calls atomic.Int32
	srv := releaseServer(t, &calls, http.StatusOK)

	h := NewReleaseHandler(ReleaseConfig{
		Repo:    "qoredb/qoredb",
		BaseURL: srv.URL,
	}, slog.Default())

	w := httptest.NewRecorder()
	h.Latest(w, httptest.NewRequest(http.MethodGet, "/api/latest-release", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var release Release
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &release))
	assert.Equal(t, "v1.4.2", release.TagName)
	require.Len(t, release.Assets, 1)
	assert.Equal(t, "qoredb-1.4.2-darwin-arm64.dmg", release.Assets[0].Name)
}

func TestLatestReleaseCached(t *testing.T) {
	var calls atomic.Int32
	srv := releaseServer(t, &calls, http.StatusOK)

	h := NewReleaseHandler(ReleaseConfig{
		Repo:     "qoredb/qoredb",
		BaseURL:  srv.URL,
		CacheTTL: time.Minute,
	}, slog.Default())

	for range 3 {
		w := httptest.NewRecorder()
		h.Latest(w, httptest.NewRequest(http.MethodGet, "/api/latest-release", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, int32(1), calls.Load())
}

func TestLatestReleaseUpstreamFailure(t *testing.T) {
	var calls atomic.Int32
	srv := releaseServer(t, &calls, http.StatusForbidden)

	h := NewReleaseHandler(ReleaseConfig{
		Repo:    "qoredb/qoredb",
		BaseURL: srv.URL,
	}, slog.Default())

	w := httptest.NewRecorder()
	h.Latest(w, httptest.NewRequest(http.MethodGet, "/api/latest-release", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
