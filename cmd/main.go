/**
 * @description
 * This is the main entry point for the ledger-service. It is responsible for
 * initializing all components of the service, including configuration, the
 * ledger storage backend, the one-time-passcode store, message broker
 * producers and consumers, the core application service, and the HTTP server.
 * It wires everything together and starts the service.
 *
 * Storage and broker dependencies degrade gracefully: without DATABASE_URL
 * the ledger runs in memory, without REDIS_URL challenges live in memory with
 * a scheduled sweep, and without RABBITMQ_URL events fall back to log lines.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client backing the OTP store.
 * - github.com/robfig/cron/v3: Scheduling for the in-memory challenge sweep.
 * - internal/api, internal/app, internal/config, internal/notify, internal/otp,
 *   internal/store: Internal packages for the service.
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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/vaultbank/ledger-service/internal/api"
	"github.com/vaultbank/ledger-service/internal/app"
	"github.com/vaultbank/ledger-service/internal/config"
	"github.com/vaultbank/ledger-service/internal/notify"
	"github.com/vaultbank/ledger-service/internal/otp"
	"github.com/vaultbank/ledger-service/internal/store"
	"github.com/vaultbank/ledger-service/pkg/rabbitmq"
)

func main() {
	// Load a local .env file if present; real deployments rely on the
	// environment alone.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s", cfg.ServerPort)

	// Ledger storage: PostgreSQL when configured, in-memory otherwise.
	var repository store.Repository
	if cfg.DatabaseURL != "" {
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}
		poolConfig.MaxConns = 50
		poolConfig.MinConns = 5
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute

		// Disable prepared statement caching to prevent conflicts
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		defer dbpool.Close()

		pgRepo := store.NewPostgresRepository(dbpool)
		if err := pgRepo.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
		}
		repository = pgRepo
		log.Println("level=info component=bootstrap msg=\"database connected\"")
	} else {
		repository = store.NewMemoryRepository()
		log.Println("level=warn component=bootstrap msg=\"no database configured; ledger is in-memory and volatile\" env=DATABASE_URL")
	}

	// Event publishing is best-effort: a missing broker degrades to log lines.
	var producer rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
			producer = &rabbitmq.EventProducerFallback{}
		} else {
			defer eventProducer.Close()
			producer = eventProducer
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	} else {
		producer = &rabbitmq.EventProducerFallback{}
	}

	// Passcode delivery rides the notification exchange when the broker is up.
	var notifier notify.Notifier = notify.NopNotifier{}
	if _, ok := producer.(*rabbitmq.EventProducer); ok {
		notifier = notify.NewAMQPNotifier(producer, cfg.NotificationExchange)
	}

	// Challenge storage: Redis when configured, in-memory with a scheduled
	// sweep otherwise.
	var otpStore otp.Store
	if cfg.RedisURL != "" {
		redisOptions, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"redis url parse failed\" err=%v", err)
		}
		redisClient := redis.NewClient(redisOptions)
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelPing()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"redis ping failed\" err=%v", err)
		}
		defer redisClient.Close()
		otpStore = otp.NewRedisStore(redisClient, notifier, cfg.OTPCodeLength)
		log.Println("level=info component=bootstrap msg=\"redis connected\"")
	} else {
		memoryStore := otp.NewMemoryStore(notifier, cfg.OTPCodeLength)
		otpStore = memoryStore

		sweeper := cron.New()
		_, err := sweeper.AddFunc(cfg.OTPSweepSchedule, func() {
			if removed := memoryStore.Sweep(context.Background()); removed > 0 {
				log.Printf("level=info component=otp_sweep msg=\"removed expired challenges\" count=%d", removed)
			}
		})
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"otp sweep schedule invalid\" schedule=%q err=%v", cfg.OTPSweepSchedule, err)
		}
		sweeper.Start()
		defer sweeper.Stop()
		log.Printf("level=info component=bootstrap msg=\"in-memory otp store with scheduled sweep\" schedule=%q", cfg.OTPSweepSchedule)
	}

	// Initialize the core application service with its dependencies.
	ledgerService := app.NewService(repository, otpStore, producer, cfg)

	// Wire up the settlement consumer: international transfers stay pending
	// until the settlement network reports an outcome on the event exchange.
	if cfg.RabbitMQURL != "" {
		settlementConsumer := app.NewSettlementConsumer(repository)
		rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; settlements will not be applied\" err=%v", err)
		} else {
			defer rabbitConsumer.Close()
			settlementBindings := map[string]func([]byte) bool{
				app.RoutingKeySettlementCompleted: settlementConsumer.HandleMessage,
				app.RoutingKeySettlementFailed:    settlementConsumer.HandleMessage,
			}
			if err := rabbitConsumer.ConsumeWithBindings(cfg.EventExchange, cfg.SettlementEventQueue, settlementBindings); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"settlement consumer start failed\" err=%v", err)
			}
			log.Printf("level=info component=bootstrap msg=\"settlement consumer started\" queue=%s", cfg.SettlementEventQueue)
		}
	}

	// Set up the HTTP router and start the server.
	ledgerHandlers := api.NewLedgerHandlers(ledgerService)
	router := api.LedgerRoutes(ledgerHandlers, cfg.JWTSecret)

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
