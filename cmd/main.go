package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lifelogd/lifelog-backend/internal/chat"
	"github.com/lifelogd/lifelog-backend/internal/db"
	"github.com/lifelogd/lifelog-backend/internal/handlers"
	"github.com/lifelogd/lifelog-backend/internal/identity"
	"github.com/lifelogd/lifelog-backend/internal/middleware"
	"github.com/lifelogd/lifelog-backend/internal/platform/envutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/openai"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/platform/redisx"
	"github.com/lifelogd/lifelog-backend/internal/platform/transcribe"
	"github.com/lifelogd/lifelog-backend/internal/plugins"
	"github.com/lifelogd/lifelog-backend/internal/plugins/builtin"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/scheduler"
	"github.com/lifelogd/lifelog-backend/internal/server"
	"github.com/lifelogd/lifelog-backend/internal/settings"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// SQLite
	sqliteService, err := db.NewSQLiteService(log)
	if err != nil {
		log.Error("SQLite init failed", "error", err)
		os.Exit(1)
	}
	if err = sqliteService.AutoMigrateAll(); err != nil {
		log.Error("SQLite auto migration failed", "error", err)
		os.Exit(1)
	}
	theDB := sqliteService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	personRepo := repos.NewPersonRepo(theDB, log)
	graphRepo := repos.NewGraphRepo(theDB, log)
	conversationRepo := repos.NewConversationRepo(theDB, log)
	settingRepo := repos.NewSettingRepo(theDB, log)
	taskRepo := repos.NewTaskRepo(theDB, log)
	recordingRepo := repos.NewRecordingRepo(theDB, log)

	// Platform clients
	log.Info("Setting up platform clients from main...")
	qdrantCfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		log.Error("Qdrant config invalid", "error", err)
		os.Exit(1)
	}
	store, err := qdrant.NewStore(log, qdrantCfg)
	if err != nil {
		log.Error("Could not init Qdrant store", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureCollection(context.Background()); err != nil {
		log.Warn("Qdrant collection bootstrap failed", "error", err)
	}
	aiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}
	redisClient, err := redisx.NewClient(log)
	if err != nil {
		log.Warn("Redis unavailable, using in-process fallbacks", "error", err)
		redisClient = nil
	}
	transcriber, err := transcribe.NewGCP(log)
	if err != nil {
		log.Warn("GCP transcriber unavailable, recordings stay untranscribed", "error", err)
		transcriber = nil
	}

	// Services
	log.Info("Setting up services from main...")
	settingsService := settings.NewService(settingRepo, log)
	identityService := identity.NewService(theDB, personRepo, graphRepo, log)
	labelCache := redisx.NewLabelCache(log, redisClient, 10*time.Minute)
	retrievalEngine := retrieval.NewEngine(store, aiClient, labelCache, log)
	ingestor := retrieval.NewIngestor(store, aiClient, identityService, log)
	chatStore := chat.NewStore(conversationRepo, log)
	chatEngine := chat.NewEngine(retrievalEngine, chatStore, func() (openai.Client, error) {
		return aiClient, nil
	}, log)
	schedulerService := scheduler.NewService(taskRepo, chatEngine, log)

	// Plugins
	log.Info("Setting up plugin registry from main...")
	registry := plugins.NewRegistry(settingsService, log)
	registry.Load(context.Background(), builtin.All(builtin.Deps{
		Store:       store,
		Ingestor:    ingestor,
		Identity:    identityService,
		Settings:    settingsService,
		Recordings:  recordingRepo,
		Transcriber: transcriber,
		Log:         log,
	}))

	// Handlers
	log.Info("Setting up handlers from main...")
	healthHandler := handlers.NewHealthHandler(theDB, store, redisClient, registry, log)
	ragHandler := handlers.NewRAGHandler(chatEngine, retrievalEngine, log)
	conversationHandler := handlers.NewConversationHandler(chatStore, log)
	entityHandler := handlers.NewEntityHandler(identityService, log)
	scheduledHandler := handlers.NewScheduledHandler(schedulerService, log)
	pluginAdminHandler := handlers.NewPluginAdminHandler(registry, store, retrievalEngine, settingsService, log)

	// Middleware
	limit := envutil.GetEnvAsInt("RATE_LIMIT_PER_MINUTE", 30, log)
	rateLimiter := redisx.NewRateLimiter(log, redisClient, limit, time.Minute)
	rateLimit := middleware.NewRateLimitMiddleware(rateLimiter, log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		HealthHandler:       healthHandler,
		RAGHandler:          ragHandler,
		ConversationHandler: conversationHandler,
		EntityHandler:       entityHandler,
		ScheduledHandler:    scheduledHandler,
		PluginAdminHandler:  pluginAdminHandler,
		RateLimit:           rateLimit,
		Registry:            registry,
	})

	// Background loops
	schedulerService.Start()
	sweepStop := startConversationSweep(chatStore, log)

	port := envutil.GetEnv("PORT", "8080", log)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}
	go func() {
		log.Info("server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Drain on SIGINT/SIGTERM: stop accepting requests, then stop the
	// scheduler and flush every plugin's buffers.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server shutdown", "error", err)
	}
	schedulerService.Stop()
	close(sweepStop)
	registry.Shutdown(ctx)
	if transcriber != nil {
		_ = transcriber.Close()
	}
	log.Info("bye")
}

// startConversationSweep deletes expired sessions on an hourly timer.
func startConversationSweep(store *chat.Store, log *logger.Logger) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if n, err := store.Sweep(context.Background()); err != nil {
					log.Warn("conversation sweep failed", "error", err)
				} else if n > 0 {
					log.Info("conversation sweep", "deleted", n)
				}
			}
		}
	}()
	return stop
}
