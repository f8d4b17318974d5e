/**
 * @description
 * This is the main entry point for the settlement-service. It is responsible for
 * initializing all components of the service: configuration, the PostgreSQL connection
 * pool, the Redis rate limiter, the RabbitMQ producer and consumer, the repositories,
 * the core application services, and the HTTP server. It wires everything together,
 * starts the service, and shuts it down gracefully on SIGINT/SIGTERM.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for distributed rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/rabbitmq: Client for RabbitMQ.
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/agentmesh/settlement-service/internal/api"
	"github.com/agentmesh/settlement-service/internal/app"
	"github.com/agentmesh/settlement-service/internal/config"
	"github.com/agentmesh/settlement-service/internal/store"
	"github.com/agentmesh/settlement-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting settlement-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Ledger operations are short transactions; size the pool for bursty settlement
	// traffic rather than long-lived sessions.
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for settlement events. Broker trouble degrades
	// event delivery, not the ledger, so fall back to a no-op publisher.
	var producer rabbitmq.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; events disabled\" env=RABBITMQ_URL")
		producer = &rabbitmq.EventProducerFallback{}
	} else if eventProducer, prodErr := rabbitmq.NewEventProducer(cfg.RabbitMQURL); prodErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", prodErr)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the Redis client for webhook/funding rate limiting. Missing Redis
	// disables limiting; it must not prevent the service from booting.
	var limiter *app.RedisRateLimiter
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application services with their dependencies.
	walletService := app.NewWalletService(repository, producer, cfg.EventsExchange)
	ap2Service := app.NewAP2Service(repository, walletService, producer, cfg.EventsExchange)
	outcomeService := app.NewOutcomeService(repository, ap2Service)
	railService := app.NewRailService(repository, producer, cfg.EventsExchange)

	// Initialize the API handlers.
	handlers := api.NewSettlementHandlers(walletService, ap2Service, outcomeService, railService, limiter, api.WebhookConfig{
		X402Secret:             cfg.X402WebhookSecret,
		StripeSecret:           cfg.StripeWebhookSecret,
		StrictAuth:             cfg.StrictWebhookAuth,
		StripeToleranceSeconds: cfg.StripeSignatureTolerance,
		RateLimitPerMinute:     cfg.WebhookRateLimitPerMinute,
		FundRateLimitPerMinute: cfg.FundRateLimitPerMinute,
	})

	// Set up the HTTP router.
	router := api.SettlementRoutes(handlers, cfg.JWKSURL, cfg.InternalAPIKey, cfg.AllowedOrigins)

	// Wire up the outcome report consumer: reviewers and automated evaluators publish
	// verdicts on the events exchange and this service applies them to escrows.
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		rabbitConsumer, consErr := rabbitmq.NewConsumer(cfg.RabbitMQURL)
		if consErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; outcome reports must arrive over HTTP\" err=%v", consErr)
		} else {
			defer rabbitConsumer.Close()
			outcomeConsumer := app.NewOutcomeReportConsumer(outcomeService)
			bindings := map[string]func([]byte) bool{
				"quality.outcome.reported": outcomeConsumer.HandleMessage,
			}
			if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.OutcomeReportQueue, bindings); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"outcome consumer start failed\" err=%v", err)
			}
			log.Printf("level=info component=bootstrap msg=\"outcome consumer started\" queue=%s", cfg.OutcomeReportQueue)
		}
	}

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server failed\" err=%v", err)
		}
	}()

	// Graceful shutdown logic.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("level=info component=bootstrap msg=\"shutting down\"")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"server shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=bootstrap msg=\"server stopped\"")
}
