package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"soniqfm/cache"
	"soniqfm/config"
	"soniqfm/core/pipeline"
	"soniqfm/core/publish"
	"soniqfm/core/transcode"
	"soniqfm/db"
	"soniqfm/logger"
	"soniqfm/model"
	"soniqfm/queue"
	"soniqfm/repository"

	"github.com/gorilla/mux"
)

// Start boots the full service: database, Redis, dispatcher with embedded
// workers, and the HTTP API. Blocks until SIGINT/SIGTERM.
func Start() {
	cfg := config.Load()
	initLogging(cfg)

	dispatcher, cleanup := bootstrap(cfg)
	defer cleanup()

	dispatcher.Start()
	defer dispatcher.Stop()

	handler := NewAPIHandler(cfg, repository.NewGormTrackRepository(db.GormDB), dispatcher, cache.NewStatusCache(db.RedisClient))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      newRouter(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("http server listening", logger.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", logger.ErrorField(err))
		}
	}()

	waitForShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", logger.ErrorField(err))
	}
}

// StartWorker boots only the ingestion workers, for running the pipeline in
// a separate process from the API.
func StartWorker() {
	cfg := config.Load()
	initLogging(cfg)

	dispatcher, cleanup := bootstrap(cfg)
	defer cleanup()

	dispatcher.Start()
	defer dispatcher.Stop()

	logger.Info("worker running")
	waitForShutdown()
}

// bootstrap wires the shared collaborators: storage connections, publisher,
// pipeline, dispatcher. The returned cleanup closes the connections.
func bootstrap(cfg *config.Config) (*queue.Dispatcher, func()) {
	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	if err := db.AutoMigrateModels(&model.Track{}); err != nil {
		logger.Fatal("failed to migrate database", logger.ErrorField(err))
	}
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("failed to connect to Redis", logger.ErrorField(err))
	}

	ensureDirExists(cfg.UploadTempDir)
	ensureDirExists(cfg.OutputDir)

	publisher, err := publish.New(cfg)
	if err != nil {
		logger.Fatal("failed to initialize publisher", logger.ErrorField(err))
	}

	trackRepo := repository.NewGormTrackRepository(db.GormDB)
	transcoder := transcode.NewFFmpegTranscoder(cfg.FFmpegPath, cfg.FFprobePath)
	statusCache := cache.NewStatusCache(db.RedisClient)

	pipe := pipeline.New(cfg, trackRepo, transcoder, publisher, statusCache)
	dispatcher := queue.NewDispatcher(db.RedisClient, cfg, pipe)

	cleanup := func() {
		if err := db.CloseRedis(); err != nil {
			logger.Error("failed to close Redis", logger.ErrorField(err))
		}
		if err := db.CloseGormDB(); err != nil {
			logger.Error("failed to close database", logger.ErrorField(err))
		}
	}
	return dispatcher, cleanup
}

func newRouter(handler *APIHandler) *mux.Router {
	router := mux.NewRouter()

	router.Use(corsMiddleware)

	router.HandleFunc("/api/tracks", handler.ListTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/upload", handler.UploadTrackHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/url", handler.AddTrackByURLHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{id:[0-9]+}", handler.GetTrackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id:[0-9]+}", handler.DeleteTrackHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/tracks/{id:[0-9]+}/status", handler.TrackStatusHandler).Methods(http.MethodGet)

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, Range")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func initLogging(cfg *config.Config) {
	logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogPath,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	})
}

func ensureDirExists(path string) {
	if err := os.MkdirAll(path, 0755); err != nil {
		logger.Fatal("failed to create directory",
			logger.String("path", path),
			logger.ErrorField(err))
	}
}

func waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
}
