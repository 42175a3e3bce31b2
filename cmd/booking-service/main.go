/**
 * @description
 * This is the main entry point for the booking-service. It initializes
 * configuration, the database connection pool, the RabbitMQ saga consumers,
 * the cron scheduler, and the HTTP server, then runs until interrupted.
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
	"github.com/tripstack/booking-platform/internal/booking/api"
	"github.com/tripstack/booking-platform/internal/booking/app"
	"github.com/tripstack/booking-platform/internal/booking/config"
	"github.com/tripstack/booking-platform/internal/booking/store"
	"github.com/tripstack/booking-platform/internal/platform/events"
	"github.com/tripstack/booking-platform/pkg/rabbitmq"
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

	log.Printf("level=info component=bootstrap msg=\"starting booking-service\" port=%s", cfg.ServerPort)

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

	repository := store.NewPostgresRepository(dbpool)

	var paymentClient *app.PaymentClient
	if strings.TrimSpace(cfg.PaymentServiceURL) != "" {
		paymentClient = app.NewPaymentClient(cfg.PaymentServiceURL, cfg.InternalAPIKey)
	} else {
		log.Println("level=warn component=bootstrap msg=\"payment service url not configured; cancellations will not trigger refunds\"")
	}

	var refunder app.PaymentRefunder
	if paymentClient != nil {
		refunder = paymentClient
	}
	bookingService := app.NewService(repository, refunder)
	handlers := api.NewBookingHandlers(bookingService)

	router := chi.NewRouter()
	router.Mount("/bookings", api.BookingRoutes(handlers, cfg.JWKSURL, cfg.InternalAPIKey))

	// Saga consumers: payment facts on one queue, account deletions on
	// another so a wedged fact cannot starve the cascade.
	saga := app.NewSagaConsumer(repository, cfg.MaxConsumerAttempts)
	if paymentClient != nil {
		saga.SetBookingReporter(paymentClient)
	}
	rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	factBindings := map[string]func([]byte) bool{
		events.RoutingKeyPaymentCompleted: saga.HandlePaymentCompleted,
		events.RoutingKeyPaymentRefunded:  saga.HandlePaymentRefunded,
	}
	if err := rabbitConsumer.ConsumeWithBindings(events.Exchange, cfg.FactsQueue, factBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"fact consumer start failed\" err=%v", err)
	}

	cascadeBindings := map[string]func([]byte) bool{
		events.RoutingKeyAccountDeleted: saga.HandleAccountDeleted,
	}
	if err := rabbitConsumer.ConsumeWithBindings(events.Exchange, cfg.CascadeQueue, cascadeBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"cascade consumer start failed\" err=%v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	jobs := app.NewJobs(repository, logger, time.Duration(cfg.DeadLetterRetentionHours)*time.Hour)
	scheduler := app.NewScheduler(jobs, logger, cfg.CleanupSchedule)
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
