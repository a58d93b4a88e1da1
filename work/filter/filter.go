package filter

import (
	"bufio"
	"strings"
	"sync"

	"github.com/grafana/regexp"

	"kptv-panel/work/logger"
	"kptv-panel/work/types"
)

// CompiledFilter holds the compiled include/exclude patterns for one source.
type CompiledFilter struct {
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

// Manager caches compiled filters per source URL so patterns are compiled
// once, not on every playlist request.
type Manager struct {
	filters map[string]*CompiledFilter
	mu      sync.RWMutex
}

// NewManager creates an empty filter manager.
func NewManager() *Manager {
	return &Manager{
		filters: make(map[string]*CompiledFilter),
	}
}

// GetOrCompile returns the compiled filter for a source, compiling on first
// use. Invalid patterns are logged and treated as absent.
func (m *Manager) GetOrCompile(src *types.PlaylistSource) *CompiledFilter {
	m.mu.RLock()
	f, exists := m.filters[src.URL]
	m.mu.RUnlock()
	if exists {
		return f
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if f, exists := m.filters[src.URL]; exists {
		return f
	}

	f = &CompiledFilter{}
	if src.FilterInclude != "" {
		compiled, err := regexp.Compile(src.FilterInclude)
		if err != nil {
			logger.Error("{filter - GetOrCompile} invalid include pattern %q for %s: %v", src.FilterInclude, src.Name, err)
		} else {
			f.Include = compiled
		}
	}
	if src.FilterExclude != "" {
		compiled, err := regexp.Compile(src.FilterExclude)
		if err != nil {
			logger.Error("{filter - GetOrCompile} invalid exclude pattern %q for %s: %v", src.FilterExclude, src.Name, err)
		} else {
			f.Exclude = compiled
		}
	}

	m.filters[src.URL] = f
	return f
}

// Clear drops all compiled filters, forcing recompilation after source edits.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = make(map[string]*CompiledFilter)
}

// Apply filters a raw playlist, dropping metadata/URL pairs whose metadata
// line fails the include pattern or matches the exclude pattern. Lines other
// than metadata/URL pairs pass through untouched.
func (f *CompiledFilter) Apply(body string) string {
	if f == nil || (f.Include == nil && f.Exclude == nil) {
		return body
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var pendingMeta string
	dropNext := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "#EXTINF") {
			pendingMeta = line
			dropNext = !f.matches(line)
			continue
		}

		if pendingMeta != "" && line != "" && !strings.HasPrefix(line, "#") {
			if !dropNext {
				sb.WriteString(pendingMeta)
				sb.WriteByte('\n')
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
			pendingMeta = ""
			dropNext = false
			continue
		}

		if pendingMeta == "" && line != "" {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}

func (f *CompiledFilter) matches(meta string) bool {
	if f.Include != nil && !f.Include.MatchString(meta) {
		return false
	}
	if f.Exclude != nil && f.Exclude.MatchString(meta) {
		return false
	}
	return true
}
