package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/apperr"
	"github.com/xaenox/sendplan/internal/classifier"
	"github.com/xaenox/sendplan/internal/clients"
	"github.com/xaenox/sendplan/internal/engine"
	"github.com/xaenox/sendplan/internal/inflight"
	"github.com/xaenox/sendplan/internal/notify"
	"github.com/xaenox/sendplan/internal/storage"
	"github.com/xaenox/sendplan/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	path := "config.yaml"
	if p := os.Getenv("SENDPLAN_CONFIG"); p != "" {
		path = p
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", path))
	}

	week, err := cfg.Run.Week()
	if err != nil {
		logger.Fatal("Invalid run.week_start", zap.Error(err), zap.String("week_start", cfg.Run.WeekStart))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}
		store, err = storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	reg := prometheus.DefaultRegisterer
	provider := clients.NewResilientProvider(store, cfg.Clients, clients.NewMetrics(reg), logger.Named("clients"))

	// In-flight guard
	var guard inflight.Guard
	if cfg.Redis.URL != "" {
		opts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to parse REDIS_URL", zap.Error(err))
		}
		rdb := goredis.NewClient(opts)
		defer rdb.Close()
		guard = inflight.NewRedisGuard(rdb, cfg.Redis.KeyPrefix, cfg.Redis.LockTTL, logger.Named("inflight"))
	} else {
		guard = inflight.NewMemoryGuard(cfg.Redis.LockTTL)
	}

	// Persona-fit classifier
	var clf classifier.Classifier = classifier.NewKeywordClassifier()
	if cfg.Classifier.UseGPT && cfg.OpenAI.APIKey != "" {
		clf = classifier.NewGPTClassifier(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens, logger.Named("classifier"))
	}

	// Operator notifications
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tn, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, logger.Named("notify"))
		if err != nil {
			logger.Error("Failed to create notifier, continuing without", zap.Error(err))
		} else {
			notifier = tn
		}
	}

	eng := engine.New(cfg.Engine, engine.Deps{
		Provider:   provider,
		Sink:       store,
		Guard:      guard,
		Notifier:   notifier,
		Classifier: clf,
		Metrics:    engine.NewMetrics(reg),
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := eng.Generate(ctx, engine.Request{
		CreatorID: cfg.Run.CreatorID,
		WeekStart: week,
		Seed:      cfg.Run.Seed,
		Overwrite: cfg.Run.Overwrite,
		InFlight:  cfg.Run.InFlight,
	})
	if res != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			logger.Error("Failed to write result", zap.Error(encErr))
		}
	}
	if err != nil {
		logger.Error("Schedule generation failed",
			zap.Error(err),
			zap.String("code", apperr.CodeOf(err)),
			zap.String("severity", string(apperr.SeverityOf(err))))
		logger.Sync()
		os.Exit(1)
	}
}
