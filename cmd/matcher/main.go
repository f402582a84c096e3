package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pawpal/matchengine/internal/config"
	"github.com/pawpal/matchengine/internal/conversation"
	"github.com/pawpal/matchengine/internal/matching"
	"github.com/pawpal/matchengine/internal/messaging"
	"github.com/pawpal/matchengine/internal/ops"
	"github.com/pawpal/matchengine/internal/pet"
	"github.com/pawpal/matchengine/internal/platform/logger"
	"github.com/pawpal/matchengine/internal/ratelimit"
	"github.com/pawpal/matchengine/internal/swipe"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Get().Fatal().Err(err).Msg("load config")
	}
	logger.Init(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Service: "matcher"})
	log := logger.Named("matcher")
	log.Info().Msg("starting PawPal matching service")

	// Redis setup.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	cancel()

	// Pet registry.
	if cfg.Database.MigrateOnStart {
		if err := pet.Migrate(cfg.Database.URL); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	cancel()
	pets := pet.NewPostgresStore(db)

	// Swipe store and conversation backend.
	store, messenger, locker, err := buildBackend(cfg, rdb)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Matcher.StoreBackend).Msg("failed to build store")
	}

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATS.URL
	natsConfig.Name = cfg.NATS.Name

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}

	// Matching engine.
	bootstrapper := conversation.NewBootstrapper(messenger, locker)
	detector := matching.NewDetector(store, pets, bootstrapper, matching.NewNATSNotifier(natsClient))
	recorder := matching.NewRecorder(store, detector)

	svc := matching.NewService(recorder, ratelimit.NewLimiter(rdb), matching.ServiceConfig{
		Rule:           ratelimit.SwipeRule(cfg.Matcher.RateLimit, cfg.Matcher.RateWindow),
		RequestTimeout: cfg.Matcher.RequestTimeout,
	})
	if err := svc.Start(natsClient); err != nil {
		log.Fatal().Err(err).Msg("failed to start matching service")
	}

	// Ops endpoints.
	router := ops.NewRouter(map[string]ops.Check{
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"postgres": func(ctx context.Context) error { return db.PingContext(ctx) },
		"nats": func(context.Context) error {
			if !natsClient.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		},
	})
	httpSrv := ops.NewServer(cfg.HTTP.Addr, router)
	go func() {
		if err := httpSrv.Run(); err != nil {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	log.Info().
		Str("redis_addr", cfg.Redis.Addr).
		Str("nats_url", natsConfig.URL).
		Str("backend", cfg.Matcher.StoreBackend).
		Str("http_addr", cfg.HTTP.Addr).
		Msg("matching service running")

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	svc.Stop()
	natsClient.Close()
	db.Close()
	rdb.Close()
}

func buildBackend(cfg *config.Config, rdb *redis.Client) (swipe.Store, conversation.Messenger, conversation.Locker, error) {
	switch cfg.Matcher.StoreBackend {
	case config.BackendMemory:
		return swipe.NewMemoryStore(), conversation.NewMemoryMessenger(), conversation.NewLocalLocker(), nil
	case config.BackendDynamoDB:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := swipe.NewDynamoClient(ctx, cfg.Dynamo.Region, cfg.Dynamo.Endpoint)
		if err != nil {
			return nil, nil, nil, err
		}
		return swipe.NewDynamoStore(client, cfg.Dynamo.Table),
			conversation.NewRedisMessenger(rdb),
			conversation.NewRedisLocker(rdb, cfg.Matcher.ConversationLockTTL), nil
	default:
		return swipe.NewRedisStore(rdb),
			conversation.NewRedisMessenger(rdb),
			conversation.NewRedisLocker(rdb, cfg.Matcher.ConversationLockTTL), nil
	}
}
