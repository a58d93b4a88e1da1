package relay

import (
	"net/http"
	"strings"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/singleflight"

	"kptv-panel/work/auth"
	"kptv-panel/work/cache"
	"kptv-panel/work/client"
	"kptv-panel/work/config"
	"kptv-panel/work/database"
	"kptv-panel/work/filter"
	"kptv-panel/work/proxypool"
	"kptv-panel/work/rewrite"
	"kptv-panel/work/upstream"
)

// StreamRelay is the core orchestrator behind the playlist, relay and browse
// endpoints. It wires the credential verifier, proxy selector, upstream
// fetcher, merger, cache and rewriter into the per-request pipeline; all of
// its failures stay scoped to the request that hit them.
type StreamRelay struct {
	Config     *config.Config
	DB         *database.DB
	Cache      *cache.Cache
	HttpClient *client.HeaderSettingClient
	Fetcher    *upstream.Fetcher
	Selector   *proxypool.Selector
	Verifier   *auth.Verifier
	Filters    *filter.Manager
	WorkerPool *ants.Pool

	// flight collapses concurrent cache misses for the same subscriber into
	// a single fetch-and-merge pass.
	flight singleflight.Group
}

// New creates a fully wired StreamRelay.
func New(cfg *config.Config, db *database.DB, cacheInstance *cache.Cache,
	httpClient *client.HeaderSettingClient, workerPool *ants.Pool) *StreamRelay {

	return &StreamRelay{
		Config:     cfg,
		DB:         db,
		Cache:      cacheInstance,
		HttpClient: httpClient,
		Fetcher:    upstream.NewFetcher(cfg, httpClient),
		Selector:   proxypool.NewSelector(db),
		Verifier:   auth.NewVerifier(db),
		Filters:    filter.NewManager(),
		WorkerPool: workerPool,
	}
}

// baseURL returns the public base for rewritten stream links: the configured
// one when set, otherwise reconstructed from the inbound request.
func (sr *StreamRelay) baseURL(r *http.Request) string {
	if sr.Config.BaseURL != "" {
		return sr.Config.BaseURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// relayURL turns an absolute upstream media URL into the local relay form.
func (sr *StreamRelay) relayURL(base, upstreamURL string) string {
	return strings.TrimRight(base, "/") + "/stream/" + rewrite.Encode(upstreamURL)
}
