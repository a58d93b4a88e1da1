package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PlaylistRequests counts playlist endpoint hits by outcome
// (ok, unauthorized, unavailable).
var PlaylistRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_panel_playlist_requests",
	Help: "Number of playlist requests by outcome",
}, []string{"outcome"})

// RelayRequests counts media relay hits by outcome (ok, bad_token, upstream_error).
var RelayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_panel_relay_requests",
	Help: "Number of relay requests by outcome",
}, []string{"outcome"})

// RelayBytes totals the media bytes streamed to clients through the relay.
var RelayBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kptv_panel_relay_bytes",
	Help: "Total bytes relayed to clients",
})

// UpstreamErrors counts failed upstream fetches by failure class
// (request, transport, status, body).
var UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_panel_upstream_errors",
	Help: "Number of failed upstream fetches by class",
}, []string{"class"})

// CacheHits and CacheMisses track merged-playlist cache effectiveness.
var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kptv_panel_cache_hits",
		Help: "Merged playlist cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kptv_panel_cache_misses",
		Help: "Merged playlist cache misses",
	})
)

// ProxyPoolSize reports the number of active endpoints after the last sync.
var ProxyPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "kptv_panel_proxy_pool_size",
	Help: "Active proxy endpoints in the pool",
})
