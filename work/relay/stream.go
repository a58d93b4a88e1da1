package relay

import (
	"io"
	"net/http"
	"net/url"

	"kptv-panel/work/logger"
	"kptv-panel/work/metrics"
	"kptv-panel/work/parser"
	"kptv-panel/work/rewrite"
	"kptv-panel/work/utils"
)

// playlist bodies are rewritten in memory; anything larger than this is not
// a playlist, whatever the Content-Type claims
const maxPlaylistBody = 10 << 20

// RelayStream decodes an opaque stream token and re-serves the upstream
// media through this process, re-applying proxy selection per media request.
// HLS playlist bodies are rewritten so segment requests flow back through
// the relay; everything else is streamed chunked without buffering, aborting
// promptly when the client goes away.
func (sr *StreamRelay) RelayStream(w http.ResponseWriter, r *http.Request, token string) {
	target, err := rewrite.Decode(token)
	if err != nil {
		metrics.RelayRequests.WithLabelValues("bad_token").Inc()
		http.Error(w, "Invalid stream token", http.StatusBadRequest)
		return
	}

	targetURL, err := url.Parse(target)
	if err != nil || (targetURL.Scheme != "http" && targetURL.Scheme != "https") {
		metrics.RelayRequests.WithLabelValues("bad_token").Inc()
		http.Error(w, "Invalid stream token", http.StatusBadRequest)
		return
	}

	proxy := sr.Selector.Select(sr.Config.PreferredCountry)

	// the request context ties the upstream connection to the client: a
	// disconnect mid-stream cancels the fetch and releases the transport
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		metrics.RelayRequests.WithLabelValues("upstream_error").Inc()
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
		return
	}

	resp, err := sr.HttpClient.DoVia(req, proxy)
	if err != nil {
		logger.Warn("{relay - RelayStream} upstream fetch failed for %s: %v",
			utils.LogURL(sr.Config.ObfuscateUrls, target), err)
		metrics.RelayRequests.WithLabelValues("upstream_error").Inc()
		http.Error(w, "Upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn("{relay - RelayStream} upstream HTTP %d for %s",
			resp.StatusCode, utils.LogURL(sr.Config.ObfuscateUrls, target))
		metrics.RelayRequests.WithLabelValues("upstream_error").Inc()
		http.Error(w, "Upstream fetch failed", http.StatusBadGateway)
		return
	}

	contentType := resp.Header.Get("Content-Type")

	if parser.IsHLSPlaylist(contentType, "") {
		sr.relayPlaylistBody(w, r, resp, targetURL, contentType)
		return
	}

	sr.relayMediaBody(w, resp, contentType)
}

// relayPlaylistBody buffers an HLS playlist response and rewrites its URIs
// through relay tokens before serving it.
func (sr *StreamRelay) relayPlaylistBody(w http.ResponseWriter, r *http.Request, resp *http.Response, targetURL *url.URL, contentType string) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBody))
	if err != nil {
		metrics.RelayRequests.WithLabelValues("upstream_error").Inc()
		http.Error(w, "Upstream read failed", http.StatusBadGateway)
		return
	}

	base := sr.baseURL(r)
	rewritten := parser.RewriteHLS(string(body), targetURL, func(abs string) string {
		return sr.relayURL(base, abs)
	})

	metrics.RelayRequests.WithLabelValues("ok").Inc()
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(rewritten))
}

// relayMediaBody streams the upstream body to the client chunk by chunk,
// flushing as it goes. No overall duration bound applies; only the
// connect/header timeout on the transport is bounded.
func (sr *StreamRelay) relayMediaBody(w http.ResponseWriter, resp *http.Response, contentType string) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	metrics.RelayRequests.WithLabelValues("ok").Inc()

	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// client hung up; the deferred body close releases upstream
				return
			}
			metrics.RelayBytes.Add(float64(n))
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				logger.Debug("{relay - relayMediaBody} upstream read ended: %v", err)
			}
			return
		}
	}
}
