package relay

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"kptv-panel/work/logger"
	"kptv-panel/work/merge"
	"kptv-panel/work/metrics"
	"kptv-panel/work/utils"
)

// errNoContent marks the case where every source failed or none are
// configured. The handler degrades to an empty-but-valid playlist body.
var errNoContent = errors.New("no playlist content available")

const playlistContentType = "audio/x-mpegurl"

// GeneratePlaylist serves the merged playlist for an authenticated
// subscriber, with every stream URL rewritten through the relay endpoint.
func (sr *StreamRelay) GeneratePlaylist(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	password := r.URL.Query().Get("password")

	if !sr.Verifier.Verify(username, password) {
		metrics.PlaylistRequests.WithLabelValues("unauthorized").Inc()
		http.Error(w, "Auth Failed", http.StatusUnauthorized)
		return
	}

	merged, err := sr.mergedPlaylist(username)
	if err != nil {
		// graceful degradation: an empty but well-formed playlist
		metrics.PlaylistRequests.WithLabelValues("unavailable").Inc()
		w.Header().Set("Content-Type", playlistContentType)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(merge.Header + "\n"))
		return
	}

	metrics.PlaylistRequests.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(sr.rewriteStreamURLs(merged, sr.baseURL(r))))
}

// mergedPlaylist returns the merged upstream playlist for a subscriber,
// serving from cache when fresh. Concurrent misses for the same key share
// one fetch-and-merge pass through the singleflight group.
func (sr *StreamRelay) mergedPlaylist(key string) (string, error) {
	if sr.Config.CacheEnabled {
		if text, ok := sr.Cache.Get(key); ok {
			metrics.CacheHits.Inc()
			return text, nil
		}
		metrics.CacheMisses.Inc()
	}

	v, err, _ := sr.flight.Do(key, func() (interface{}, error) {
		// a concurrent caller may have filled the cache while we queued
		if sr.Config.CacheEnabled {
			if text, ok := sr.Cache.Get(key); ok {
				return text, nil
			}
		}

		text, ok := sr.buildMergedPlaylist()
		if !ok {
			return "", errNoContent
		}
		if sr.Config.CacheEnabled {
			sr.Cache.Put(key, text)
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// buildMergedPlaylist fetches every active source and merges the results.
// Fetches fan out on the worker pool bounded by its size; the results slice
// is indexed by source position so merge precedence stays deterministic
// regardless of completion order. Partial success is the common case: failed
// sources are logged and contribute nothing.
func (sr *StreamRelay) buildMergedPlaylist() (string, bool) {
	sources, err := sr.DB.LoadActivePlaylists()
	if err != nil {
		logger.Error("{relay - buildMergedPlaylist} failed to load sources: %v", err)
		return "", false
	}
	if len(sources) == 0 {
		logger.Warn("{relay - buildMergedPlaylist} no active playlist sources configured")
		return "", false
	}

	// detached from any single request: the result is shared via
	// singleflight and cached, so one impatient client must not cancel it
	ctx := context.Background()

	results := make([]merge.SourceResult, len(sources))
	var wg sync.WaitGroup

	for i := range sources {
		i := i
		src := sources[i]
		wg.Add(1)

		task := func() {
			defer wg.Done()

			proxy := sr.Selector.Select(sr.Config.PreferredCountry)
			if proxy != nil {
				logger.Debug("{relay - buildMergedPlaylist} fetching %s via %s (%s)",
					src.Name, proxy.Host, proxy.CountryCode)
			}

			body, ok := sr.Fetcher.Fetch(ctx, src.URL, proxy)
			if !ok {
				logger.Warn("{relay - buildMergedPlaylist} source %s unavailable, omitting: %s",
					src.Name, utils.LogURL(sr.Config.ObfuscateUrls, src.URL))
				return
			}

			results[i] = merge.SourceResult{
				Name: src.Name,
				Body: sr.Filters.GetOrCompile(&src).Apply(body),
			}
		}

		if err := sr.WorkerPool.Submit(task); err != nil {
			// pool saturated or released, run inline rather than drop
			task()
		}
	}
	wg.Wait()

	anyContent := false
	for i := range results {
		if results[i].Body != "" {
			anyContent = true
			break
		}
	}
	if !anyContent {
		return "", false
	}

	return merge.Merge(results), true
}

// rewriteStreamURLs routes every stream URL of a merged playlist through the
// relay endpoint. Metadata lines pass through untouched.
func (sr *StreamRelay) rewriteStreamURLs(merged, base string) string {
	var sb strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(merged))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			sb.WriteString(line)
		} else {
			sb.WriteString(sr.relayURL(base, line))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
