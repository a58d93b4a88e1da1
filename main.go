package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kptv-panel/work/auth"
	"kptv-panel/work/cache"
	"kptv-panel/work/client"
	"kptv-panel/work/config"
	"kptv-panel/work/database"
	"kptv-panel/work/handlers"
	"kptv-panel/work/logger"
	"kptv-panel/work/relay"
)

var (
	Version = "v0.1.0" // default version
)

func main() {

	// load our config
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)

	// open the database, running migrations
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// make sure the basic-auth handoff file matches current subscribers
	if err := auth.WriteHtpasswd(db, cfg.HtpasswdPath); err != nil {
		logger.Warn("Initial htpasswd generation failed: %v", err)
	}

	// shared HTTP client with the browser-like header policy
	httpClient := client.NewHeaderSettingClient(cfg)

	// bounded fan-out pool for upstream source fetches
	workerPool, err := ants.NewPool(cfg.FetchWorkers, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// merged playlist cache
	cacheInstance := cache.New(cfg.CacheDuration)

	// core orchestrator
	streamRelay := relay.New(cfg, db, cacheInstance, httpClient, workerPool)

	// Setup HTTP routes
	router := mux.NewRouter()

	// subscriber playlist route
	router.HandleFunc("/get.php", handlers.HandlePlaylist(streamRelay)).Methods("GET")

	// media relay route
	router.HandleFunc("/stream/{token}", handlers.HandleStream(streamRelay)).Methods("GET")

	// JSON channel browser
	router.HandleFunc("/channels", handlers.HandleBrowse(streamRelay)).Methods("GET")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, streamRelay, db)

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("Starting KPTV Panel %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen Addr: %s", addr)
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Database: %s", cfg.DatabasePath)
	logger.Info("  - Htpasswd: %s", cfg.HtpasswdPath)
	logger.Info("  - Cache Enabled: %v", cfg.CacheEnabled)
	logger.Info("  - Cache Duration: %s", cfg.CacheDuration)
	logger.Info("  - Fetch Timeout: %s", cfg.FetchTimeout)
	logger.Info("  - Fetch Workers: %d", cfg.FetchWorkers)
	logger.Info("  - Preferred Country: %s", cfg.PreferredCountry)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// gracefully reload when the admin API asks for it
	go func() {
		for {
			<-restartChan

			logger.Info("Graceful reload requested...")

			config.ClearConfigCache()
			newConfig := config.LoadConfig()
			logger.SetLogLevel(newConfig.LogLevel)

			streamRelay.Config = newConfig
			streamRelay.Cache.Flush()
			streamRelay.Filters.Clear()

			logger.Info("Graceful reload completed")
		}
	}()

	// fire us up
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}
