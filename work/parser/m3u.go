package parser

import (
	"bufio"
	"strings"
)

// DefaultCategory is assigned when a metadata line carries no group-title.
const DefaultCategory = "Uncategorized"

// Channel is one parsed playlist entry. Derived data only; never persisted.
type Channel struct {
	Name     string `json:"name"`
	TvgID    string `json:"tvgId,omitempty"`
	Logo     string `json:"logo,omitempty"`
	Category string `json:"category"`
	Metadata string `json:"-"` // raw EXTINF line, kept for playlist re-emission
	URL      string `json:"url"`
}

// ChannelList groups parsed channels for the browsing API. Categories map to
// channels in encounter order; CategoryOrder preserves the order categories
// first appeared, since map iteration order is useless to clients.
type ChannelList struct {
	Channels      []Channel
	Categories    map[string][]Channel
	CategoryOrder []string
}

// Total returns the number of complete channel entries parsed.
func (cl *ChannelList) Total() int {
	return len(cl.Channels)
}

// Parse turns raw M3U text into structured channel records grouped by
// category. A metadata line with no following URL line before the next
// metadata line is an incomplete entry and is discarded. Categories are
// determined structurally from group-title attributes, not pre-declared.
func Parse(text string) *ChannelList {
	list := &ChannelList{
		Categories: make(map[string][]Channel),
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var pending string
	havePending := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXTINF") {
			// a previous EXTINF without a URL is dropped here
			pending = line
			havePending = true
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		if !havePending {
			continue
		}

		ch := channelFromMetadata(pending)
		ch.URL = line
		list.add(ch)

		havePending = false
	}

	return list
}

func (cl *ChannelList) add(ch Channel) {
	cl.Channels = append(cl.Channels, ch)
	if _, exists := cl.Categories[ch.Category]; !exists {
		cl.CategoryOrder = append(cl.CategoryOrder, ch.Category)
	}
	cl.Categories[ch.Category] = append(cl.Categories[ch.Category], ch)
}

func channelFromMetadata(meta string) Channel {
	ch := Channel{
		TvgID:    extractAttr(meta, `tvg-id="`),
		Logo:     extractAttr(meta, `tvg-logo="`),
		Category: extractAttr(meta, `group-title="`),
		Metadata: meta,
	}
	if ch.Category == "" {
		ch.Category = DefaultCategory
	}

	if idx := strings.LastIndex(meta, ","); idx != -1 {
		ch.Name = strings.TrimSpace(meta[idx+1:])
	} else {
		ch.Name = "Unknown"
	}
	return ch
}

// extractAttr scans for a literal key marker and returns the substring up to
// the next quote, or "" when the marker is absent or unterminated.
func extractAttr(line, marker string) string {
	start := strings.Index(line, marker)
	if start == -1 {
		return ""
	}
	rest := line[start+len(marker):]
	end := strings.Index(rest, `"`)
	if end == -1 {
		return ""
	}
	return rest[:end]
}
