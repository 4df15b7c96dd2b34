package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salesbot/config"
	"salesbot/internal/ai"
	"salesbot/internal/api"
	"salesbot/internal/bot"
	"salesbot/internal/broker"
	"salesbot/internal/channels"
	"salesbot/internal/contacts"
	"salesbot/internal/notify"
	"salesbot/internal/payments"
	"salesbot/internal/ratelimit"
	"salesbot/internal/redisclient"
	"salesbot/internal/store"
	"salesbot/internal/transcribe"
	"salesbot/internal/util"
	"salesbot/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting sales bot service")

	tp, err := util.InitTracer("salesbot", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSettlement)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	mailer := notify.NewMailer(cfg.Mail)
	aiClient := ai.NewClient(cfg.AI)
	providerClient := payments.NewProviderClient(cfg.Payment)
	toolClient := bot.NewExternalToolClient()
	transcriber := transcribe.NewService(cfg.AI, cfg.Channels)

	limiter := ratelimit.NewLimiter(redisClient, cfg.Limits.MessagesPerWindow, cfg.Limits.WindowSeconds)
	contactRegistry := contacts.NewRegistry(db, mailer)
	orchestrator := bot.NewOrchestrator(db, redisClient, aiClient, providerClient, toolClient, cfg.AI, cfg.Limits)
	processor := payments.NewProcessor(db, providerClient, mailer, eventPublisher,
		cfg.Payment.WebhookSecret, func() string { return uuid.New().String() })

	adapters := channels.NewRegistry()
	adapters.Register(channels.NewWhatsAppAdapter(cfg.Channels.GraphBaseURL))
	adapters.Register(channels.NewMessengerAdapter(cfg.Channels.GraphBaseURL))
	adapters.Register(channels.NewInstagramAdapter(cfg.Channels.GraphBaseURL))
	adapters.Register(channels.NewTikTokAdapter())

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	automationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSettlement, cfg.Kafka.ConsumerGroup)
	automationWorker := worker.NewAutomationWorker(automationConsumer, db)
	go func() {
		if err := automationWorker.Start(workerCtx); err != nil {
			log.Printf("Automation worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(db, orchestrator, limiter, adapters, processor,
		contactRegistry, transcriber, cfg.Channels.MetaVerifyToken)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	automationWorker.Stop()

	log.Println("Server exited")
}
