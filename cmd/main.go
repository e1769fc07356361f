package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/soulmatch/realtime-service/internal/api"
	"github.com/soulmatch/realtime-service/internal/auth"
	"github.com/soulmatch/realtime-service/internal/chat"
	"github.com/soulmatch/realtime-service/internal/config"
	"github.com/soulmatch/realtime-service/internal/events"
	"github.com/soulmatch/realtime-service/internal/hub"
	"github.com/soulmatch/realtime-service/internal/match"
	"github.com/soulmatch/realtime-service/internal/presence"
	"github.com/soulmatch/realtime-service/internal/redis"
	"github.com/soulmatch/realtime-service/internal/repository"
	"github.com/soulmatch/realtime-service/internal/utils"
	"github.com/soulmatch/realtime-service/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.App.Env == "development")
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	mongoClient, err := repository.NewMongoClient(cfg)
	if err != nil {
		logger.Fatalw("mongo connect failed", "err", err)
	}
	db := mongoClient.Database(cfg.Mongo.Database)
	convRepo := repository.NewConversationRepository(db.Collection("conversations"))
	userRepo := repository.NewUserRepository(db.Collection("users"))

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Pass,
		DB:       cfg.Redis.DB,
	})
	instanceID := uuid.NewString()
	rstore := redis.NewStore(redisClient, cfg.Redis.Prefix, instanceID, logger)

	publisher := events.NewPublisher(cfg.Kafka, logger)

	tracker := presence.NewTracker(userRepo, rstore, logger)
	engine := match.NewEngine(convRepo, tracker.Count, logger)
	h := hub.NewHub(rstore.Publish)
	notifier := ws.NewHubNotifier(h, logger)
	router := chat.NewRouter(convRepo, engine, notifier, publisher, cfg.Chat.MaxContentChars, logger)

	validator := auth.NewValidator(cfg.App.JWTSecret)
	wsHandler := ws.NewHandler(cfg, validator, userRepo, tracker, engine, router, h, publisher, logger)

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	go rstore.Relay(relayCtx, h.DeliverLocal)

	app := api.NewServer(wsHandler, router, validator)

	serverErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		logger.Infow("starting realtime service", "addr", addr, "instance", instanceID)
		serverErr <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-serverErr:
		logger.Fatalw("server error", "err", e)
	case s := <-sig:
		logger.Infow("signal received", "signal", s.String())
	}

	cancelRelay()
	if err := app.Shutdown(); err != nil {
		logger.Warnw("fiber shutdown", "err", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		logger.Warnw("mongo disconnect", "err", err)
	}
	_ = publisher.Close()
	_ = redisClient.Close()
	logger.Info("shut down")
}
