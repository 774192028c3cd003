package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/beat-store/internal/adapter/delivery"
	"github.com/rl1809/beat-store/internal/adapter/events"
	"github.com/rl1809/beat-store/internal/adapter/handler"
	"github.com/rl1809/beat-store/internal/adapter/storage"
	"github.com/rl1809/beat-store/internal/clock"
	"github.com/rl1809/beat-store/internal/config"
	"github.com/rl1809/beat-store/internal/core/service"
	"github.com/rl1809/beat-store/internal/port"
)

func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.With().Str("service", cfg.ServiceName).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping mysql")
	}
	log.Info().Msg("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	log.Info().Msg("connected to redis")

	// Initialize adapters
	store := storage.NewMySQLAdapter(db)
	cache := storage.NewRedisAdapter(rdb, cfg.LedgerTTL, cfg.ProcessingTTL, cfg.DeliveredTTL)
	bot := delivery.NewBotAdapter(cfg.BotInternalURL, cfg.InternalToken)

	var publisher port.EventPublisher
	var kafkaPub *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.ServiceName, 1024)
		kafkaPub.Start(ctx)
		publisher = kafkaPub
		log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("kafka publisher started")
	}

	// Initialize services
	clk := clock.NewSystem()
	holds := service.NewHoldService(store, clk,
		service.WithHoldTTL(cfg.HoldTTL),
		service.WithBundleWindow(cfg.BundleWindow),
	)
	bundles := service.NewBundleService(store, holds, clk)
	fulfillment := service.NewFulfillmentService(store, cache, bot, bot, publisher, clk)

	// Start expiry sweeper
	sweeper := service.NewSweeper(store, clk, cfg.SweepInterval, cfg.SweepDelay)
	go sweeper.Run(ctx)

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(holds, bundles, fulfillment)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpHandler.Routes(),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	log.Info().Msg("http server stopped")

	cancel()
	if kafkaPub != nil {
		kafkaPub.WaitClosed()
		log.Info().Msg("kafka publisher stopped")
	}

	rdb.Close()
	db.Close()
	log.Info().Msg("connections closed")
}
