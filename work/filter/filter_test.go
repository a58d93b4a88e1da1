package filter

import (
	"strings"
	"testing"

	"kptv-panel/work/types"
)

const samplePlaylist = `#EXTM3U
#EXTINF:-1 group-title="Sports",ESPN HD
http://x/espn
#EXTINF:-1 group-title="News",BBC News
http://x/bbc
#EXTINF:-1 group-title="Sports",Sky Sports [VIP]
http://x/sky
`

func TestApplyIncludePattern(t *testing.T) {
	m := NewManager()
	f := m.GetOrCompile(&types.PlaylistSource{
		Name:          "src",
		URL:           "http://src/a",
		FilterInclude: `group-title="Sports"`,
	})

	out := f.Apply(samplePlaylist)
	if !strings.Contains(out, "http://x/espn") || !strings.Contains(out, "http://x/sky") {
		t.Errorf("sports entries should survive:\n%s", out)
	}
	if strings.Contains(out, "http://x/bbc") {
		t.Errorf("news entry should be dropped:\n%s", out)
	}
	if !strings.Contains(out, "#EXTM3U") {
		t.Errorf("header should pass through:\n%s", out)
	}
}

func TestApplyExcludePattern(t *testing.T) {
	m := NewManager()
	f := m.GetOrCompile(&types.PlaylistSource{
		Name:          "src",
		URL:           "http://src/b",
		FilterExclude: `\[VIP\]`,
	})

	out := f.Apply(samplePlaylist)
	if strings.Contains(out, "http://x/sky") {
		t.Errorf("VIP entry should be dropped:\n%s", out)
	}
	if !strings.Contains(out, "http://x/espn") || !strings.Contains(out, "http://x/bbc") {
		t.Errorf("other entries should survive:\n%s", out)
	}
}

func TestApplyNoPatternsPassesThrough(t *testing.T) {
	m := NewManager()
	f := m.GetOrCompile(&types.PlaylistSource{Name: "src", URL: "http://src/c"})

	if out := f.Apply(samplePlaylist); out != samplePlaylist {
		t.Errorf("no patterns should return body unchanged:\n%s", out)
	}
}

func TestInvalidPatternTreatedAsAbsent(t *testing.T) {
	m := NewManager()
	f := m.GetOrCompile(&types.PlaylistSource{
		Name:          "src",
		URL:           "http://src/d",
		FilterInclude: `([unclosed`,
	})

	if f.Include != nil {
		t.Error("invalid include pattern should compile to nil")
	}
	if out := f.Apply(samplePlaylist); out != samplePlaylist {
		t.Errorf("invalid pattern should not filter anything:\n%s", out)
	}
}

func TestManagerCachesAndClears(t *testing.T) {
	m := NewManager()
	src := &types.PlaylistSource{Name: "src", URL: "http://src/e", FilterInclude: "News"}

	first := m.GetOrCompile(src)
	if second := m.GetOrCompile(src); second != first {
		t.Error("same source should return the cached filter")
	}

	m.Clear()
	if third := m.GetOrCompile(src); third == first {
		t.Error("Clear should force recompilation")
	}
}
