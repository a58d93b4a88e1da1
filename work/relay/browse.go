package relay

import (
	"encoding/json"
	"net/http"

	"kptv-panel/work/parser"
)

// BrowseResponse is the structured channel listing served to UI clients.
type BrowseResponse struct {
	Total         int                         `json:"total"`
	Categories    map[string][]parser.Channel `json:"categories"`
	AllCategories []string                    `json:"all_categories"`
}

type browseError struct {
	Error string `json:"error"`
}

// Browse serves the parsed channel listing for an authenticated subscriber,
// optionally filtered to a single category. It reuses the same cached merged
// playlist as the M3U endpoint, parsed on demand.
func (sr *StreamRelay) Browse(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	password := r.URL.Query().Get("password")

	if !sr.Verifier.Verify(username, password) {
		writeJSON(w, http.StatusUnauthorized, browseError{Error: "Invalid credentials"})
		return
	}

	merged, err := sr.mergedPlaylist(username)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, browseError{Error: "No playlists available"})
		return
	}

	list := parser.Parse(merged)
	resp := BrowseResponse{
		Total:         list.Total(),
		Categories:    list.Categories,
		AllCategories: list.CategoryOrder,
	}

	if category := r.URL.Query().Get("category"); category != "" {
		channels := list.Categories[category]
		resp.Total = len(channels)
		resp.Categories = map[string][]parser.Channel{category: channels}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
