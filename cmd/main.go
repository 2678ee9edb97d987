/**
 * @description
 * This is the main entry point for the payment-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * the processor API client, message brokers, the idempotency store, repositories, the
 * lifecycle engine, the background schedules, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Shared idempotency store.
 * - github.com/robfig/cron/v3: Background schedules.
 * - internal/api, internal/app, internal/config, internal/idempotency, internal/store.
 * - pkg/breaker, pkg/processorclient, pkg/rabbitmq: Call plumbing and messaging.
 */

package main

import (
	"context"
	"fmt"
	"log"
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
	"github.com/robfig/cron/v3"
	"github.com/transfa/payment-service/internal/api"
	"github.com/transfa/payment-service/internal/app"
	"github.com/transfa/payment-service/internal/config"
	"github.com/transfa/payment-service/internal/idempotency"
	"github.com/transfa/payment-service/internal/store"
	"github.com/transfa/payment-service/pkg/breaker"
	"github.com/transfa/payment-service/pkg/processorclient"
	rmrabbit "github.com/transfa/payment-service/pkg/rabbitmq"
)

func main() {
	// Load the optional .env file before viper reads the environment.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if strings.TrimSpace(cfg.ProcessorWebhookSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"processor webhook secret must be configured\" env=PROCESSOR_WEBHOOK_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payment-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish domain and audit events.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// The idempotency store prefers Redis so replay detection is shared
	// across instances; a missing or unreachable Redis degrades to the
	// in-process store with a warning.
	idempotencyTTL := time.Duration(cfg.IdempotencyTTLMinutes) * time.Minute
	var idemStore idempotency.Store
	memStore := idempotency.NewMemoryStore(idempotencyTTL)
	idemStore = memStore
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; idempotency store is in-process only\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; idempotency store is in-process only\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; idempotency store is in-process only\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				idemStore = idempotency.NewRedisStore(redisClient, cfg.RedisIdempotencyPrefix, idempotencyTTL)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the processor API client and circuit breakers.
	processorTimeout := time.Duration(cfg.ProcessorTimeoutSecs) * time.Second
	processorClient := processorclient.NewClient(cfg.ProcessorAPIBaseURL, cfg.ProcessorAPIKey, processorTimeout)
	breakers := breaker.NewRegistry(breaker.DefaultSettings())

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Seed the subscriber registry from configuration.
	for _, endpoint := range cfg.Endpoints() {
		if err := repository.EnsureSubscriber(context.Background(), endpoint, cfg.SubscriberSigningSecret); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"subscriber seed failed\" endpoint=%s err=%v", endpoint, err)
		}
	}

	auditLog := app.NewAuditLog(repository, producer)

	// Initialize the lifecycle engine with its dependencies.
	paymentService := app.NewService(
		repository,
		processorClient,
		idemStore,
		breakers,
		producer,
		auditLog,
		cfg.Currencies(),
		cfg.DeliveryMaxAttempts,
	)

	ingestor := app.NewIngestor(paymentService, repository, cfg.ProcessorWebhookSecret, auditLog)
	reconciler := app.NewReconciler(paymentService, repository)

	deliveryTimeout := time.Duration(cfg.DeliveryTimeoutSecs) * time.Second
	dispatcher := app.NewDispatcher(repository, breakers, auditLog, cfg.DeliveryWorkers, deliveryTimeout, cfg.BackoffSchedule())
	if err := dispatcher.RefreshSubscribers(context.Background()); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"subscriber refresh failed\" err=%v", err)
	}

	// Background schedules: delivery sweep, reconciliation sweep, subscriber
	// refresh, and in-process idempotency GC.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1m", func() { dispatcher.Sweep(context.Background()) }); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"delivery schedule failed\" err=%v", err)
	}
	if _, err := scheduler.AddFunc("@every 2m", func() { reconciler.Sweep(context.Background()) }); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"reconciliation schedule failed\" err=%v", err)
	}
	if _, err := scheduler.AddFunc("@every 5m", func() {
		if err := dispatcher.RefreshSubscribers(context.Background()); err != nil {
			log.Printf("level=warn component=dispatcher msg=\"subscriber refresh failed\" err=%v", err)
		}
	}); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"subscriber refresh schedule failed\" err=%v", err)
	}
	if _, err := scheduler.AddFunc("@every 10m", func() { memStore.Sweep() }); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"idempotency gc schedule failed\" err=%v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize the API handlers and routes.
	paymentHandlers := api.NewPaymentHandlers(paymentService, ingestor, dispatcher, repository, breakers)
	router := chi.NewRouter()
	router.Mount("/", api.PaymentRoutes(paymentHandlers, cfg.ClerkJWKSURL, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the relay consumer: processor events received at the edge are
	// republished to the broker and drained here.
	relay := app.NewRelayConsumer(ingestor)
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; relayed events disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		relayBindings := map[string]func([]byte) bool{
			"processor.event.#": relay.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.PaymentEventsExchange, cfg.ProcessorEventQueue, relayBindings); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"relay consumer start failed\" err=%v", err)
		}
	}

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
