package merge

import (
	"bufio"
	"strings"
)

// Header is the literal first line of every generated playlist.
const Header = "#EXTM3U"

// SourceResult pairs a playlist source name with the raw text fetched from
// it. Sources that yielded nothing carry an empty Body and contribute no
// lines; that is the normal partial-success case, not an error.
type SourceResult struct {
	Name string
	Body string
}

// Merge combines raw playlists into one document. Output starts with the
// header line, then preserves source order and within-source line order.
// Stream URLs are deduplicated by exact string match across all sources:
// the first occurrence wins and keeps its own metadata; later duplicates are
// dropped silently together with their pending metadata lines.
func Merge(results []SourceResult) string {
	var sb strings.Builder
	sb.WriteString(Header)
	sb.WriteByte('\n')

	seen := make(map[string]bool)

	for i := range results {
		scanner := bufio.NewScanner(strings.NewReader(results[i].Body))
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		// metadata lines are held until their URL line survives dedup,
		// so a dropped duplicate never leaves orphaned metadata behind
		var pending []string

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || line == Header {
				continue
			}

			if strings.HasPrefix(line, "#") {
				pending = append(pending, line)
				continue
			}

			if seen[line] {
				pending = pending[:0]
				continue
			}
			seen[line] = true

			for _, meta := range pending {
				sb.WriteString(meta)
				sb.WriteByte('\n')
			}
			pending = pending[:0]
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}
