package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	fcm "google.golang.org/api/fcm/v1"

	"github.com/hogarcril/wa-crm/cmd/mainconfig"
	"github.com/hogarcril/wa-crm/internal/agents"
	"github.com/hogarcril/wa-crm/internal/api/router"
	appconfig "github.com/hogarcril/wa-crm/internal/config"
	"github.com/hogarcril/wa-crm/internal/conversation"
	"github.com/hogarcril/wa-crm/internal/dispatch"
	"github.com/hogarcril/wa-crm/internal/http/handlers"
	"github.com/hogarcril/wa-crm/internal/media"
	"github.com/hogarcril/wa-crm/internal/notify"
	observemetrics "github.com/hogarcril/wa-crm/internal/observability/metrics"
	"github.com/hogarcril/wa-crm/internal/phone"
	"github.com/hogarcril/wa-crm/internal/routing"
	"github.com/hogarcril/wa-crm/internal/wagraph"
	"github.com/hogarcril/wa-crm/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting wa-crm API server", "env", cfg.Env, "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	store := conversation.NewStore(pool)
	directory := agents.NewDirectory(pool)
	phones := phone.New(cfg.CountryCode, cfg.PreferTrunkSend)
	metrics := observemetrics.NewPipelineMetrics(nil)

	graphClient, err := wagraph.New(wagraph.Config{
		BaseURL: cfg.WAGraphBaseURL,
		Token:   cfg.WAToken,
		Timeout: cfg.WASendTimeout,
		Logger:  logger.Logger,
	})
	if err != nil {
		logger.Error("failed to build graph client", "error", err)
		os.Exit(1)
	}

	// Without a bucket inbound attachments keep only their provider
	// reference, which Meta expires after a few days.
	var archiver conversation.MediaArchiver
	if cfg.MediaBucket != "" {
		s3Client := s3.NewFromConfig(awsCfg)
		mediaStore := media.NewStore(s3Client, s3.NewPresignClient(s3Client), cfg.MediaBucket, cfg.MediaURLExpiry, logger)
		archiver = media.NewService(graphClient, mediaStore, media.Config{
			ExtraRetries: cfg.MediaFetchRetries,
			RetryDelay:   cfg.MediaFetchDelay,
			CallTimeout:  cfg.MediaFetchTimeout,
		}, logger)
	} else {
		logger.Warn("MEDIA_BUCKET not set, media archiving disabled")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	}

	table, err := routing.ParseTable(cfg.RoutingTableJSON)
	if err != nil {
		logger.Error("invalid ROUTING_TABLE_JSON", "error", err)
		os.Exit(1)
	}
	agentRouter := routing.NewRouter(table, routing.NewRoundRobin(cfg.Agents(), redisClient))

	notifyService := buildNotifyService(ctx, cfg, awsCfg, directory, logger)

	synchronizer := conversation.NewSynchronizer(store, phones, archiver, agentRouter, directory, notifyService, logger)
	resolver := dispatch.NewResolver(graphClient, store, phones, cfg.ChannelMap(), cfg.WADefaultChannelID, logger)

	r := router.New(&router.Config{
		Logger: logger,
		Webhook: handlers.NewWebhookHandler(handlers.WebhookConfig{
			Synchronizer: synchronizer,
			VerifyToken:  cfg.WAVerifyToken,
			Logger:       logger,
			Metrics:      metrics,
		}),
		Send:               handlers.NewSendHandler(resolver, logger, metrics),
		DB:                 pool,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSOrigins(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	cancel()
	logger.Info("server stopped")
}

// buildNotifyService assembles the push + email fan-out. Every piece is
// optional; unconfigured senders just drop out of the delivery.
func buildNotifyService(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, directory *agents.Directory, logger *logging.Logger) *notify.Service {
	var push notify.PushSender
	if cfg.FCMProjectID != "" {
		fcmService, err := fcm.NewService(ctx)
		if err != nil {
			logger.Error("failed to build FCM client, push disabled", "error", err)
		} else {
			push = notify.NewFCMSender(fcmService, cfg.FCMProjectID, logger)
		}
	}

	var email notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		email = sg
	} else if cfg.SESFromEmail != "" {
		email = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
	} else {
		email = notify.NewStubEmailSender(logger)
	}

	var queue notify.Queue
	switch {
	case cfg.UseMemoryQueue:
		queue = notify.NewMemoryQueue(64)
	case cfg.NotifyQueueURL != "":
		queue = notify.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotifyQueueURL)
	}

	service := notify.NewService(directory, push, email, queue, cfg.ConsoleURL, logger)
	if queue != nil {
		go notify.NewConsumer(queue, service, logger).Run(ctx)
	}
	return service
}
