/**
 * @description
 * This is the main entry point for the payment-service. It initializes
 * configuration, the database connection pool, the rail client, RabbitMQ
 * producer/consumer, the repository, the payment state machine, the outbox
 * dispatcher, the cron scheduler, and the HTTP server, then wires everything
 * together and runs until interrupted.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/tripstack/booking-platform/internal/payment/api"
	"github.com/tripstack/booking-platform/internal/payment/app"
	"github.com/tripstack/booking-platform/internal/payment/config"
	"github.com/tripstack/booking-platform/internal/payment/store"
	"github.com/tripstack/booking-platform/internal/platform/events"
	"github.com/tripstack/booking-platform/pkg/rabbitmq"
	"github.com/tripstack/booking-platform/pkg/railclient"
)

func main() {
	// Load a local .env in development; ignore if absent.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payment-service\" port=%s", cfg.ServerPort)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	railClient := railclient.NewClient(cfg.RailAPIBaseURL, cfg.RailAPIKey)
	verifier := railclient.NewSignatureVerifier(cfg.RailWebhookSecret)

	repository := store.NewPostgresRepository(dbpool)
	paymentService := app.NewService(repository, railClient, cfg.CheckoutReturnURL)

	handlers := api.NewPaymentHandlers(paymentService)

	if cfg.CheckoutRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; checkout rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; checkout rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				handlers.SetRateLimiter(
					app.NewRedisCheckoutRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
					cfg.CheckoutRateLimitPerMinute,
				)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	webhookHandler := api.NewWebhookHandler(paymentService, verifier)

	router := chi.NewRouter()
	router.Mount("/payments", api.PaymentRoutes(handlers, webhookHandler, cfg.JWKSURL, cfg.InternalAPIKey))

	// Outbox dispatcher publishes recorded facts until the bus accepts them.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	dispatcher := app.NewOutboxDispatcher(repository, cfg.RabbitMQURL)
	go dispatcher.Run(dispatcherCtx)

	// Account-deletion cascade consumer.
	cascade := app.NewCascadeConsumer(repository)
	rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	bindings := map[string]func([]byte) bool{
		events.RoutingKeyAccountDeleted: cascade.HandleAccountDeleted,
	}
	if err := rabbitConsumer.ConsumeWithBindings(events.Exchange, cfg.CascadeQueue, bindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"cascade consumer start failed\" err=%v", err)
	}

	// Cron scheduler: reconciliation sweep and retention cleanup.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	jobs := app.NewJobs(
		paymentService,
		logger,
		time.Duration(cfg.StalePendingMinutes)*time.Minute,
		time.Duration(cfg.WebhookRetentionHours)*time.Hour,
		time.Duration(cfg.OutboxRetentionHours)*time.Hour,
	)
	scheduler := app.NewScheduler(jobs, logger, cfg.ReconcileSchedule, cfg.CleanupSchedule)
	scheduler.Start()
	defer scheduler.Stop()

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	cancelDispatcher()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
