package main

import (
	"context"
	"crypto/ecdsa"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/streamchat/internal/api"
	"github.com/eldtechnologies/streamchat/internal/api/middleware"
	"github.com/eldtechnologies/streamchat/internal/chain"
	"github.com/eldtechnologies/streamchat/internal/chat"
	"github.com/eldtechnologies/streamchat/internal/config"
	"github.com/eldtechnologies/streamchat/internal/crypto"
	"github.com/eldtechnologies/streamchat/internal/feed"
	"github.com/eldtechnologies/streamchat/internal/handlers"
	"github.com/eldtechnologies/streamchat/internal/store"
	"github.com/eldtechnologies/streamchat/internal/streams"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Signing identity
	var key *ecdsa.PrivateKey
	if cfg.PrivateKey != "" {
		var err error
		key, err = crypto.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid PRIVATE_KEY")
		}
	} else {
		logger.Warn().Msg("PRIVATE_KEY not set, sends will fail")
	}

	var publisher common.Address
	if cfg.PublisherAddress != "" {
		var err error
		publisher, err = crypto.ParseAddress(cfg.PublisherAddress)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid PUBLISHER_ADDRESS")
		}
	}

	// Chain clients
	network := cfg.Network()
	clients, err := chain.Dial(ctx, chain.Options{
		Network:    network,
		PrivateKey: key,
		Publisher:  publisher,
		DialWS:     cfg.FeedMode == config.FeedPush,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("chain connection failed")
	}
	defer clients.Close()
	logger.Info().
		Str("network", network.Name).
		Int64("chain_id", network.ChainID).
		Str("protocol", network.StreamsProtocol.Hex()).
		Str("publisher", clients.Publisher().Hex()).
		Msg("connected to chain")

	// Chat pipelines
	protocol := streams.NewClient(network.StreamsProtocol, clients.HTTP)
	encoder := streams.MustSchemaEncoder(chat.SchemaDefinition)
	registrar := chat.NewRegistrar(protocol, clients, encoder, logger)
	sender := chat.NewPublisher(registrar, protocol, clients, encoder, logger)
	fetcher := chat.NewFetcher(protocol, encoder, clients.Publisher(), logger)

	var factory feed.Factory
	if cfg.FeedMode == config.FeedPush {
		watcher := streams.NewWatcher(clients.WS, network.StreamsProtocol)
		factory = func(room string) feed.Pipeline {
			return chat.NewLiveFeed(fetcher, watcher, chat.LiveConfig{
				Room:       room,
				Limit:      cfg.MessageLimit,
				Protocol:   network.StreamsProtocol,
				EventTopic: registrar.EventTopic(),
			}, logger)
		}
	} else {
		factory = func(room string) feed.Pipeline {
			return chat.NewPoller(fetcher, chat.PollConfig{
				Room:     room,
				Limit:    cfg.MessageLimit,
				Interval: cfg.PollInterval,
			}, logger)
		}
	}
	hub := feed.NewHub(factory, logger)
	logger.Info().Str("mode", cfg.FeedMode).Msg("feed hub ready")

	// Send log: PostgreSQL when configured, otherwise SQLite if a path is set
	var db store.DataStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()
		db = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else if cfg.SQLitePath != "" {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer sqliteStore.Close()
		db = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite send log")
	}

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	hcfg := handlers.Config{
		Logger:       logger,
		Publisher:    sender,
		Fetcher:      fetcher,
		Account:      clients.Sender(),
		DB:           db,
		Chain:        clients,
		MessageLimit: cfg.MessageLimit,
	}
	if redisStore != nil {
		hcfg.Redis = redisStore
	}
	h := handlers.NewHandler(hcfg)

	// Create router
	router, err := api.NewRouter(logger, h, http.HandlerFunc(hub.ServeWS), api.Options{
		Redis: redisStore,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
		SendKeyHash: cfg.SendKeyHash,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid SEND_KEY_HASH")
	}

	// Sends block until the transaction is mined, so the write timeout is generous
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting streamchat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	hub.Close()

	logger.Info().Msg("server stopped")
}
