package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	offlinecache "github.com/offline-cache/offline-cache"
	"github.com/offline-cache/offline-cache/cache"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	providerFlag       string
	dbFilenameFlag     string
	redisURLFlag       string
	verbosityTraceFlag bool
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to intercept requests for (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&providerFlag, "provider", "sqlite", "Storage provider to use (memory, sqlite, redis)")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for an in-memory db)")
	flag.StringVar(&redisURLFlag, "redis-url", "", "Redis URL for the redis provider")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Str("version", offlinecache.Version).Logger()

	var fileCfg fileConfig
	if configFilenameFlag != "" {
		var err error
		fileCfg, err = getConfig(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not read config file")
		}
	}
	envCfg, err := getEnvConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not read environment")
	}

	// precedence: flags, then environment, then config file
	origin := fileCfg.Origin
	if envCfg.Origin != "" {
		origin = envCfg.Origin
	}
	if originFlag != "" {
		origin = originFlag
	}
	if origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}

	port := portFlag
	if envCfg.Port != 0 {
		port = envCfg.Port
	}
	provider := providerFlag
	if envCfg.Provider != "" {
		provider = envCfg.Provider
	}
	dbFilename := dbFilenameFlag
	if envCfg.DBFile != "" {
		dbFilename = envCfg.DBFile
	}
	if dbFilename == "memory" {
		dbFilename = ""
	}
	redisURL := redisURLFlag
	if envCfg.RedisURL != "" {
		redisURL = envCfg.RedisURL
	}

	var storage cache.Storage
	switch provider {
	case "memory":
		storage = cache.NewMemStorage()
	case "sqlite":
		sqliteStorage, err := cache.NewSQLiteStorage(dbFilename)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open sqlite storage")
		}
		defer sqliteStorage.Close()
		storage = sqliteStorage
	case "redis":
		redisStorage, err := cache.NewRedisStorage(redisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not connect to redis")
		}
		defer redisStorage.Close()
		storage = redisStorage
	default:
		log.Fatal().Msgf("Unsupported storage provider: %s", provider)
	}

	worker := offlinecache.NewWorker(offlinecache.Config{
		Storage:                  storage,
		OriginURL:                *originURL,
		Logger:                   &log.Logger,
		AppCacheName:             fileCfg.AppCacheName,
		FontCacheName:            fileCfg.FontCacheName,
		FontHosts:                fileCfg.FontHosts,
		Precache:                 fileCfg.Precache,
		RootDocument:             fileCfg.RootDocument,
		FallbackOnRevalidateMiss: fileCfg.FallbackOnRevalidateMiss,
	})

	// install must succeed before any request handling; a standalone
	// binary has no previous version to wait behind, so activate directly
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Lifecycle().Install(ctx); err != nil {
		log.Fatal().Err(err).Msg("Install failed")
	}
	worker.Lifecycle().SkipWaiting()
	if err := worker.Lifecycle().Activate(); err != nil {
		log.Fatal().Err(err).Msg("Activation failed")
	}

	r := chi.NewRouter()
	r.Post("/worker/message", messageHandler(worker))
	r.Get("/worker/version", versionHandler)
	r.Handle("/*", worker)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	go func() {
		log.Info().Msgf("Intercepting port %v for %s", port, originURL.String())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	// background refreshes must settle before the process exits
	if err := worker.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Background tasks did not settle")
	}
}

func messageHandler(worker *offlinecache.Worker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg offlinecache.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "Bad message", http.StatusBadRequest)
			return
		}
		reply := worker.Lifecycle().HandleMessage(msg)
		if reply == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply)
	}
}

func versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(offlinecache.Reply{Type: "VERSION", Version: offlinecache.Version})
}
