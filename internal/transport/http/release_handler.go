package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"

	apierrors "qoredb/internal/errors"
)

// ReleaseAsset is a downloadable artifact of a release.
type ReleaseAsset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
}

// Release is the published release the download page links to.
type Release struct {
	TagName     string         `json:"tag_name"`
	Name        string         `json:"name"`
	PublishedAt string         `json:"published_at"`
	Assets      []ReleaseAsset `json:"assets"`
}

// ReleaseConfig holds the release proxy configuration.
type ReleaseConfig struct {
	// Repo is the owner/name of the repository whose latest release
	// is served.
	Repo     string
	CacheTTL time.Duration
	// BaseURL overrides the GitHub API endpoint in tests.
	BaseURL    string
	HTTPClient *http.Client
}

// ReleaseHandler proxies the latest desktop release so the download
// page never hits the upstream API rate limit directly.
type ReleaseHandler struct {
	cfg    ReleaseConfig
	logger *slog.Logger

	mu       sync.Mutex
	cached   *Release
	cachedAt time.Time
}

// NewReleaseHandler creates the release proxy.
func NewReleaseHandler(cfg ReleaseConfig, logger *slog.Logger) *ReleaseHandler {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ReleaseHandler{
		cfg:    cfg,
		logger: logger.With(slog.String("handler", "release")),
	}
}

// Latest handles GET /api/latest-release.
func (h *ReleaseHandler) Latest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	release, err := h.latest(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "latest release fetch failed",
			slog.String("repo", h.cfg.Repo),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.UpstreamError("latest release", err)))
		return
	}

	render.JSON(w, r, release)
}

func (h *ReleaseHandler) latest(ctx context.Context) (*Release, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cached != nil && time.Since(h.cachedAt) < h.cfg.CacheTTL {
		return h.cached, nil
	}

	url := fmt.Sprintf("%s/repos/%s/releases/latest", h.cfg.BaseURL, h.cfg.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := h.cfg.HTTPClient.Do(req)
	if err != nil {
		if h.cached != nil {
			return h.cached, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if h.cached != nil {
			return h.cached, nil
		}
		return nil, fmt.Errorf("release api returned %d: %s", resp.StatusCode, string(body))
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, err
	}

	h.cached = &release
	h.cachedAt = time.Now()
	return &release, nil
}
