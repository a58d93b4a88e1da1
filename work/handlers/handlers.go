package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"kptv-panel/work/relay"
)

// HandlePlaylist serves the merged, rewritten playlist at /get.php.
func HandlePlaylist(sr *relay.StreamRelay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sr.GeneratePlaylist(w, r)
	}
}

// HandleStream relays media for an encoded upstream URL token.
func HandleStream(sr *relay.StreamRelay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		sr.RelayStream(w, r, vars["token"])
	}
}

// HandleBrowse serves the JSON channel listing.
func HandleBrowse(sr *relay.StreamRelay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sr.Browse(w, r)
	}
}
