package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-chat-live/internal/chat"
	"go-chat-live/internal/config"
	"go-chat-live/internal/db"
	"go-chat-live/internal/limiter"
	"go-chat-live/internal/logging"
	"go-chat-live/internal/realtime"
	"go-chat-live/internal/server"
	"go-chat-live/internal/user"

	flags "github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	// 1. Config & Flags
	opts, err := config.Parse(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	logging.Setup(opts.LogLevel, opts.LogPretty)

	if err := config.Validate(opts); err != nil {
		log.Fatal().Err(err).Msg("❌ Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(opts.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to connect to DB")
	}
	defer database.Close()
	log.Info().Msg("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("❌ Migration failed")
	}
	log.Info().Msg("✅ Database Schema Initialized")

	// 3. Connect to Redis (Platform Layer)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	})
	defer redisClient.Close()
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Fatal().Err(err).Str("addr", opts.RedisAddr).Msg("❌ Failed to connect to Redis")
	}
	log.Info().Msg("✅ Connected to Redis")

	// 4. Wire features. Redis carries events between instances and holds the write quotas.
	app, err := server.New(server.Deps{
		UserStore:      user.NewRepository(database.Conn),
		ChatStore:      chat.NewRepository(database.Conn),
		Broker:         realtime.NewRedisBroker(redisClient, realtime.DefaultChannel),
		Quotas:         limiter.NewRedisFixedWindow(redisClient, "quota:"),
		JWTSecret:      opts.JWTSecret,
		TokenTTL:       opts.TokenTTL,
		AllowedOrigins: opts.AllowedOrigins,
		SendLimit:      opts.SendLimit,
		DeleteLimit:    opts.DeleteLimit,
		QuotaWindow:    opts.QuotaWindow,
		ClientRelay:    opts.ClientRelay,
		Checks: map[string]server.HealthCheck{
			"postgres": database.Conn.PingContext,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to start realtime hub")
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", opts.Addr).Msg("🚀 Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("❌ Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("🛑 Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked websocket connections are not closed by srv.Shutdown
	if err := app.Hub.Shutdown(5 * time.Second); err != nil {
		log.Warn().Err(err).Msg("realtime hub did not drain")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	log.Info().Msg("👋 Bye")
}
