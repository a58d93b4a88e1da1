package parser

import (
	"bufio"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"

	"kptv-panel/work/logger"
)

// IsHLSPlaylist reports whether an upstream response body looks like an HLS
// playlist the relay should rewrite rather than stream through verbatim.
// Content type is the primary signal; the tag scan catches servers that lie
// about types on small playlist bodies.
func IsHLSPlaylist(contentType, body string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") || strings.Contains(ct, "m3u8") {
		return true
	}
	return strings.HasPrefix(body, "#EXTM3U") &&
		(strings.Contains(body, "#EXT-X-STREAM-INF") || strings.Contains(body, "#EXT-X-TARGETDURATION"))
}

// RewriteHLS rewrites every variant, key and segment URI of an HLS playlist
// so playback keeps flowing through the relay endpoint. proxied must turn an
// absolute upstream URL into a local relay URL. Relative URIs are resolved
// against the playlist's own URL first.
//
// Decoding goes through grafov first; bodies it rejects fall back to a plain
// line rewrite so a sloppy upstream still plays.
func RewriteHLS(body string, upstreamURL *url.URL, proxied func(string) string) string {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(body), true)
	if err != nil {
		logger.Debug("{parser - RewriteHLS} grafov decode failed, using line rewrite: %v", err)
		return rewriteLines(body, upstreamURL, proxied)
	}

	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		for _, variant := range master.Variants {
			if variant == nil {
				continue
			}
			variant.URI = proxied(resolveRef(upstreamURL, variant.URI))
			for _, alt := range variant.Alternatives {
				if alt != nil && alt.URI != "" {
					alt.URI = proxied(resolveRef(upstreamURL, alt.URI))
				}
			}
		}
		return master.Encode().String()

	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		for _, seg := range media.Segments {
			if seg == nil {
				continue
			}
			seg.URI = proxied(resolveRef(upstreamURL, seg.URI))
			if seg.Key != nil && seg.Key.URI != "" {
				seg.Key.URI = proxied(resolveRef(upstreamURL, seg.Key.URI))
			}
		}
		if media.Key != nil && media.Key.URI != "" {
			media.Key.URI = proxied(resolveRef(upstreamURL, media.Key.URI))
		}
		return media.Encode().String()
	}

	return rewriteLines(body, upstreamURL, proxied)
}

// rewriteLines is the fallback: every non-comment, non-blank line is treated
// as a URI and routed through the relay.
func rewriteLines(body string, upstreamURL *url.URL, proxied func(string) string) string {
	var sb strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			sb.WriteString(line)
			sb.WriteByte('\n')
			continue
		}
		sb.WriteString(proxied(resolveRef(upstreamURL, line)))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func resolveRef(base *url.URL, uri string) string {
	if base == nil {
		return uri
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return base.ResolveReference(ref).String()
}
