// cmd/wizard-server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"letter-wizard/internal/api"
	"letter-wizard/internal/audit"
	"letter-wizard/internal/clients/deliverability"
	"letter-wizard/internal/clients/lookup"
	"letter-wizard/internal/clients/submission"
	"letter-wizard/internal/common/aws"
	"letter-wizard/internal/common/config"
	"letter-wizard/internal/common/database"
	"letter-wizard/internal/common/logger"
	"letter-wizard/internal/common/observability"
	"letter-wizard/internal/letter"
	"letter-wizard/internal/notify"
	"letter-wizard/internal/wizard/controller"
	"letter-wizard/internal/wizard/session"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting wizard server...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("wizard-server")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init External Service Clients ---
	verifier, err := deliverability.New(cfg, log)
	if err != nil {
		zapLog.Fatal("deliverability client failed", zap.Error(err))
	}

	lookupClient := lookup.New(cfg, redis.Client, log)
	submitter := submission.New(cfg, log)

	renderer, err := letter.NewRenderer()
	if err != nil {
		zapLog.Fatal("letter renderer failed", zap.Error(err))
	}

	zapLog.Info("All external service clients initialized")

	// --- Init Notification Senders (optional) ---
	var notifier *notify.Service
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		var emailSender notify.EmailSender
		var smsSender notify.SMSSender

		if cfg.Notifications.Email.Enabled {
			sesClient, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region)
			if err != nil {
				zapLog.Fatal("ses client failed", zap.Error(err))
			}
			emailSender = sesClient
		}
		if cfg.Notifications.SMS.Enabled {
			snsClient, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
			if err != nil {
				zapLog.Fatal("sns client failed", zap.Error(err))
			}
			smsSender = snsClient
		}
		notifier = notify.NewService(emailSender, smsSender, cfg.Notifications, log)
		zapLog.Info("Notification senders initialized")
	}

	// --- Assemble Wizard ---
	sessions := session.NewStore(
		redis.Client,
		time.Duration(cfg.Wizard.SessionTTL)*time.Second,
		log,
	)

	deps := controller.Dependencies{
		Verifier:          verifier,
		Submitter:         submitter,
		Renderer:          renderer,
		Logger:            log,
		Locale:            cfg.Letter.DefaultLocale,
		VerifyTimeout:     time.Duration(cfg.Wizard.VerifyTimeout) * time.Millisecond,
		SubmissionTimeout: time.Duration(cfg.Wizard.SubmissionTimeout) * time.Millisecond,
	}

	auditStore := audit.NewStore(pg.DB, log)
	indexer := audit.NewIndexer(esClient.Client, "", log)

	handler := api.NewHandler(sessions, deps, lookupClient, notifier, auditStore, indexer, log, obs)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Millisecond,
	}

	go func() {
		zapLog.Info("Wizard server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping server...")
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Millisecond,
	)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down server", zap.Error(err))
	}

	zapLog.Info("Wizard server stopped")
}
