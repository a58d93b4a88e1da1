package main

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"kptv-panel/work/auth"
	"kptv-panel/work/database"
	"kptv-panel/work/logger"
	"kptv-panel/work/middleware"
	"kptv-panel/work/relay"
	"kptv-panel/work/types"
	"kptv-panel/work/utils"
	"kptv-panel/work/webshare"
)

// StatsResponse carries the operational snapshot shown on the admin
// dashboard.
type StatsResponse struct {
	Subscribers   int    `json:"subscribers"`
	Playlists     int    `json:"playlists"`
	ActiveProxies int    `json:"activeProxies"`
	CacheEntries  int    `json:"cacheEntries"`
	CacheEnabled  bool   `json:"cacheEnabled"`
	Uptime        string `json:"uptime"`
	MemoryUsage   string `json:"memoryUsage"`
	LogLevel      string `json:"logLevel"`
}

// subscriberRequest is the admin-side create/update payload. Password is
// plaintext here and hashed before it touches storage; ExpiresAt is RFC 3339
// or empty.
type subscriberRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Status    string `json:"status"`
	Notes     string `json:"notes"`
	ExpiresAt string `json:"expiresAt"`
}

var (
	adminStartTime = time.Now()

	// restartChan signals the config-reload loop in main.
	restartChan = make(chan bool, 1)
)

// setupAdminRoutes registers the JSON admin API. Session handling and HTML
// live in the fronting panel; this surface is plain JSON behind the reverse
// proxy's admin auth.
func setupAdminRoutes(router *mux.Router, sr *relay.StreamRelay, db *database.DB) {
	router.HandleFunc("/api/stats", corsMiddleware(middleware.GzipMiddleware(handleGetStats(sr, db)))).Methods("GET", "OPTIONS")

	router.HandleFunc("/api/subscribers", corsMiddleware(middleware.GzipMiddleware(handleListSubscribers(db)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/subscribers", corsMiddleware(handleSaveSubscriber(sr, db))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/subscribers/{id}", corsMiddleware(handleDeleteSubscriber(sr, db))).Methods("DELETE", "OPTIONS")

	router.HandleFunc("/api/playlists", corsMiddleware(middleware.GzipMiddleware(handleListPlaylists(db)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/playlists", corsMiddleware(handleSavePlaylist(sr, db))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/playlists/{id}", corsMiddleware(handleDeletePlaylist(sr, db))).Methods("DELETE", "OPTIONS")

	router.HandleFunc("/api/proxies", corsMiddleware(middleware.GzipMiddleware(handleListProxies(db)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/proxies/sync", corsMiddleware(handleSyncProxies(db))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/proxies/keys", corsMiddleware(handleSetProxyKeys(db))).Methods("POST", "OPTIONS")

	router.HandleFunc("/api/cache", corsMiddleware(handleFlushCache(sr))).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/restart", corsMiddleware(handleRestart)).Methods("POST", "OPTIONS")
}

func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func handleGetStats(sr *relay.StreamRelay, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subs, _ := db.ListSubscribers()
		playlists, _ := db.ListPlaylists()
		activeProxies, _ := db.CountActiveProxies()

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		writeJSON(w, http.StatusOK, StatsResponse{
			Subscribers:   len(subs),
			Playlists:     len(playlists),
			ActiveProxies: activeProxies,
			CacheEntries:  sr.Cache.Len(),
			CacheEnabled:  sr.Config.CacheEnabled,
			Uptime:        formatDuration(time.Since(adminStartTime)),
			MemoryUsage:   utils.FormatBytes(mem.Alloc),
			LogLevel:      logger.GetLogLevel(),
		})
	}
}

func handleListSubscribers(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subs, err := db.ListSubscribers()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to list subscribers")
			return
		}
		writeJSON(w, http.StatusOK, subs)
	}
}

func handleSaveSubscriber(sr *relay.StreamRelay, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req subscriberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Username == "" {
			httpError(w, http.StatusBadRequest, "username is required")
			return
		}

		sub := types.Subscriber{
			Username: req.Username,
			Status:   req.Status,
			Notes:    req.Notes,
		}
		if sub.Status == "" {
			sub.Status = types.StatusActive
		}

		if req.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, req.ExpiresAt)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid expiresAt, want RFC 3339")
				return
			}
			sub.ExpiresAt = &t
		}

		if req.Password != "" {
			hash, err := auth.HashPassword(req.Password)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "failed to hash password")
				return
			}
			sub.PasswordHash = hash
		} else {
			// updates may omit the password to keep the current hash
			existing, err := db.GetSubscriberByUsername(req.Username)
			if err != nil || existing == nil {
				httpError(w, http.StatusBadRequest, "password is required for new subscribers")
				return
			}
			sub.PasswordHash = existing.PasswordHash
		}

		id, err := db.SaveSubscriber(&sub)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to save subscriber")
			return
		}
		sub.ID = id

		regenerateHtpasswd(sr, db)
		writeJSON(w, http.StatusOK, sub)
	}
}

func handleDeleteSubscriber(sr *relay.StreamRelay, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid subscriber id")
			return
		}
		if err := db.DeleteSubscriber(id); err != nil {
			httpError(w, http.StatusInternalServerError, "failed to delete subscriber")
			return
		}

		regenerateHtpasswd(sr, db)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListPlaylists(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playlists, err := db.ListPlaylists()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to list playlists")
			return
		}
		writeJSON(w, http.StatusOK, playlists)
	}
}

func handleSavePlaylist(sr *relay.StreamRelay, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var src types.PlaylistSource
		if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if src.Name == "" || src.URL == "" {
			httpError(w, http.StatusBadRequest, "name and url are required")
			return
		}
		if src.Status == "" {
			src.Status = types.StatusActive
		}

		id, err := db.SavePlaylist(&src)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to save playlist")
			return
		}
		src.ID = id

		// cached merges and compiled filters are stale once sources change
		sr.Cache.Flush()
		sr.Filters.Clear()

		writeJSON(w, http.StatusOK, src)
	}
}

func handleDeletePlaylist(sr *relay.StreamRelay, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid playlist id")
			return
		}
		if err := db.DeletePlaylist(id); err != nil {
			httpError(w, http.StatusInternalServerError, "failed to delete playlist")
			return
		}

		sr.Cache.Flush()
		sr.Filters.Clear()
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListProxies(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proxies, err := db.ListProxies()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to list proxies")
			return
		}
		writeJSON(w, http.StatusOK, proxies)
	}
}

func handleSyncProxies(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := webshare.NewClient().SyncPool(r.Context(), db)
		if err != nil {
			logger.Error("Proxy pool sync failed: %v", err)
			httpError(w, http.StatusBadGateway, "proxy pool sync failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"synced": count})
	}
}

func handleSetProxyKeys(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var keys []string
		if err := json.NewDecoder(r.Body).Decode(&keys); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := webshare.SaveAPIKeys(db, keys); err != nil {
			httpError(w, http.StatusInternalServerError, "failed to store keys")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"stored": len(keys)})
	}
}

func handleFlushCache(sr *relay.StreamRelay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sr.Cache.Flush()
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleRestart(w http.ResponseWriter, r *http.Request) {
	select {
	case restartChan <- true:
		writeJSON(w, http.StatusOK, map[string]string{"status": "restarting"})
	default:
		httpError(w, http.StatusConflict, "restart already in progress")
	}
}

// regenerateHtpasswd rewrites the basic-auth handoff file after any
// subscriber mutation. Failure is logged, not surfaced: the API write
// already succeeded and the next mutation retries the file.
func regenerateHtpasswd(sr *relay.StreamRelay, db *database.DB) {
	if err := auth.WriteHtpasswd(db, sr.Config.HtpasswdPath); err != nil {
		logger.Error("Failed to regenerate htpasswd: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute

	if days > 0 {
		return strconv.FormatInt(int64(days), 10) + "d " +
			strconv.FormatInt(int64(hours), 10) + "h " +
			strconv.FormatInt(int64(minutes), 10) + "m"
	}
	if hours > 0 {
		return strconv.FormatInt(int64(hours), 10) + "h " +
			strconv.FormatInt(int64(minutes), 10) + "m"
	}
	return strconv.FormatInt(int64(minutes), 10) + "m"
}
