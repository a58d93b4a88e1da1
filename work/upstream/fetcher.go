package upstream

import (
	"context"
	"io"
	"net/http"
	"sync"

	"go.uber.org/ratelimit"

	"kptv-panel/work/client"
	"kptv-panel/work/config"
	"kptv-panel/work/logger"
	"kptv-panel/work/metrics"
	"kptv-panel/work/types"
	"kptv-panel/work/utils"
)

// fetchesPerSecond bounds how hard any single upstream is hit. Playlist
// providers rate-limit aggressively; staying under their radar matters more
// than import speed.
const fetchesPerSecond = 5

// Fetcher retrieves raw playlist text from upstream URLs, direct or through a
// selected proxy. One GET per call, bounded by the configured timeout; any
// failure reports ("", false) and never propagates as an error. Retry and
// proxy-fallback policy belongs to the caller.
type Fetcher struct {
	client   *client.HeaderSettingClient
	config   *config.Config
	limiters map[string]ratelimit.Limiter
	mu       sync.Mutex
}

// NewFetcher creates a Fetcher using the shared header-setting client.
func NewFetcher(cfg *config.Config, httpClient *client.HeaderSettingClient) *Fetcher {
	return &Fetcher{
		client:   httpClient,
		config:   cfg,
		limiters: make(map[string]ratelimit.Limiter),
	}
}

// Fetch issues a single GET for the URL and returns the body text. The proxy
// may be nil for a direct fetch. Non-2xx status, timeout and transport errors
// all report ok=false.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, proxy *types.ProxyEndpoint) (string, bool) {
	f.limiterFor(rawURL).Take()

	ctx, cancel := context.WithTimeout(ctx, f.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		logger.Error("{upstream - Fetch} bad request for %s: %v", utils.LogURL(f.config.ObfuscateUrls, rawURL), err)
		metrics.UpstreamErrors.WithLabelValues("request").Inc()
		return "", false
	}

	resp, err := f.client.DoVia(req, proxy)
	if err != nil {
		logger.Warn("{upstream - Fetch} fetch failed for %s: %v", utils.LogURL(f.config.ObfuscateUrls, rawURL), err)
		metrics.UpstreamErrors.WithLabelValues("transport").Inc()
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn("{upstream - Fetch} HTTP %d from %s", resp.StatusCode, utils.LogURL(f.config.ObfuscateUrls, rawURL))
		metrics.UpstreamErrors.WithLabelValues("status").Inc()
		return "", false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warn("{upstream - Fetch} body read failed for %s: %v", utils.LogURL(f.config.ObfuscateUrls, rawURL), err)
		metrics.UpstreamErrors.WithLabelValues("body").Inc()
		return "", false
	}

	return string(body), true
}

// limiterFor returns the per-URL rate limiter, creating it on first use for
// sources added at runtime through the admin API.
func (f *Fetcher) limiterFor(rawURL string) ratelimit.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, exists := f.limiters[rawURL]; exists {
		return l
	}
	l := ratelimit.New(fetchesPerSecond)
	f.limiters[rawURL] = l
	return l
}
