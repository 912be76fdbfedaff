package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"edupredict/config"
	"edupredict/db"
	ehttp "edupredict/http"
	"edupredict/logger"
	"edupredict/ml"
	"edupredict/monitoring"
	"edupredict/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// 2. Initialize database
	if err := db.InitDB(cfg.Database.Path); err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()
	log.Info("database initialized", zap.String("path", cfg.Database.Path))

	if cfg.Database.SeedUsers {
		created, err := db.SeedDefaultUsers()
		if err != nil {
			return fmt.Errorf("seed users: %w", err)
		}
		if len(created) > 0 {
			log.Info("default accounts created", zap.Strings("emails", created))
		}
	}

	// 3. Pipeline and model services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := ml.NewModelStore(cfg.Model.Dir, cfg.Model.CacheSize, log.Named("models"))
	if err != nil {
		return err
	}
	if cfg.Model.Watch {
		go func() {
			if err := store.Watch(ctx); err != nil {
				log.Warn("model watcher stopped", zap.Error(err))
			}
		}()
	}

	hub := monitoring.NewHub(cfg.HTTP.AllowedOrigins, log.Named("events"))
	go hub.Run()
	defer hub.Stop()

	cleaner := pipeline.NewDataCleaner()
	staging := pipeline.NewStagingStore(pipeline.StagingConfig{
		MaxEntries: cfg.Session.MaxSessions,
		TTL:        cfg.Session.TTL,
	})
	sessions := ehttp.NewSessionStore(ehttp.SessionConfig{
		CookieName:  cfg.Session.CookieName,
		MaxSessions: cfg.Session.MaxSessions,
		TTL:         cfg.Session.TTL,
	}, staging.Drop)

	api := ehttp.NewAPI(ehttp.Services{
		Logger: log,
		Ingester: pipeline.NewDataIngester(pipeline.IngestionConfig{
			MaxRows: cfg.Upload.MaxRows,
			Sheet:   cfg.Upload.Sheet,
		}),
		Cleaner:   cleaner,
		Staging:   staging,
		Trainer:   ml.NewTrainer(cfg.Model.ID, cleaner, log.Named("trainer")),
		Store:     store,
		Predictor: ml.NewPredictor(store, cfg.Model.ID, log.Named("predictor")),
		Sessions:  sessions,
		Hub:       hub,
		Metrics:   monitoring.NewMetricsCollector(),
	})

	// 4. Start HTTP server
	server := ehttp.NewServer(ehttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		MaxUploadBytes: cfg.HTTP.MaxUploadMB << 20,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, api)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if err := server.Stop(); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("exiting")
	return nil
}
