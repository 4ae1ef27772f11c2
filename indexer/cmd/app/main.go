package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"template-hub-indexer/indexer/database"
	"template-hub-indexer/indexer/internal/handlers"
	"template-hub-indexer/indexer/internal/services"
	"template-hub-indexer/shared/config"
	"template-hub-indexer/shared/env"
	"template-hub-indexer/shared/logger"
	"template-hub-indexer/shared/notifications"
)

func main() {
	if err := env.LoadEnv(); err != nil {
		log.Fatalf("FATAL: Failed to load environment variables: %v", err)
	}

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	config.SetGlobalConfig(cfg)

	enableTelegram := env.TelegramBotToken != "" && env.TelegramGroupID != 0
	if enableTelegram {
		if err := notifications.InitTelegramBot(); err != nil {
			log.Printf("WARN: Telegram bot initialization failed, ops channel disabled: %v", err)
			enableTelegram = false
		}
	}

	appLogger, err := logger.NewLogger(logger.Config{
		Level:          cfg.Logging.Level,
		Environment:    cfg.App.Environment,
		EnableTelegram: enableTelegram,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}

	db, err := database.ConnectToDatabase(env.DatabaseURL)
	if err != nil {
		appLogger.Fatal("Database connection failed", "error", err)
	}
	if err := database.MigrateDatabase(env.DatabaseURL); err != nil {
		appLogger.Fatal("Database migration failed", "error", err)
	}
	store := database.NewStore(db)

	catalog, err := services.LoadCatalog(cfg.Indexer.CatalogPath)
	if err != nil {
		appLogger.Warn("Template catalog unavailable, deployments will be recorded unverified", "error", err)
	}
	verifier := services.NewVerificationService(catalog)

	hub := services.NewHub(appLogger)
	emailClient := notifications.NewEmailClient(env.ResendAPIKey, env.EmailFrom)
	notifier := services.NewNotifier(store, hub, emailClient, appLogger)
	leaderboard := services.NewLeaderboardService(store, hub, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go leaderboard.Run(ctx, time.Duration(cfg.Ranking.IntervalMinutes)*time.Minute)

	if env.HiroAPIKey != "" && env.WebhookBaseURL != "" {
		chainhooks := services.NewChainhookClient(env.HiroAPIKey, env.WebhookBaseURL, env.ChainhookSecret, cfg.Indexer.ContractID, cfg.Indexer.Network, appLogger)
		go func() {
			regCtx, regCancel := context.WithTimeout(ctx, time.Minute)
			defer regCancel()
			if err := chainhooks.RegisterPredicates(regCtx); err != nil {
				appLogger.Error("Chainhook predicate registration failed", "error", err)
			}
		}()
	} else {
		appLogger.Info("Chainhook registration skipped, HIRO_API_KEY or WEBHOOK_BASE_URL not set")
	}

	handler := handlers.NewHandler(store, verifier, hub, notifier, appLogger, cfg.Indexer.MintPriceUSTX)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.SetupRoutes(router, cfg, env.ChainhookSecret)

	port := cfg.App.Port
	if env.Port != "" {
		port = env.Port
	}
	appLogger.Info("Starting indexer", "port", port, "network", cfg.Indexer.Network)
	if err := router.Run(":" + port); err != nil {
		appLogger.Fatal("Server terminated", "error", err)
	}
}
