package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wayli-app/relay/internal/api"
	"github.com/wayli-app/relay/internal/auth"
	"github.com/wayli-app/relay/internal/config"
	"github.com/wayli-app/relay/internal/events"
	"github.com/wayli-app/relay/internal/kv"
	"github.com/wayli-app/relay/internal/observability"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// CLI flags
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Relay %s\n", Version)
		fmt.Printf("Commit: %s\n", Commit)
		fmt.Printf("Build Date: %s\n", BuildDate)
		os.Exit(0)
	}

	// Initialize logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Relay")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	store, err := kv.New(&cfg.KV)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create KV store")
	}
	defer store.Close()

	metrics := observability.NewMetrics()

	// The event source is optional: without a database the backplane still
	// serves channels, it just cannot look up or record domain events.
	ctx := context.Background()
	var (
		recorder events.Recorder
		worker   *events.Worker
	)
	if cfg.Events.DatabaseURL != "" {
		source, err := events.NewPostgresSource(ctx, cfg.Events.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect events source")
		}
		defer source.Close()

		publisher := events.NewPublisher(store, cfg.Channels, cfg.KV.DefaultTTL, source, metrics)
		worker = events.NewWorker(publisher, cfg.Events.PublishCountdown, cfg.Events.QueueSize)
		source.SetScheduler(worker)
		worker.Start(ctx)
		defer worker.Stop()

		recorder = source
	} else {
		log.Warn().Msg("No events database configured, running without the publish pipeline")
	}

	authenticator := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret)
	server := api.NewServer(cfg, store, authenticator, allowAllAuthorizer{}, recorder, metrics)

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Starting Relay server")
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	if err := server.Shutdown(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// allowAllAuthorizer grants every authenticated user every channel. The
// primary application swaps in its own policy when it embeds the server.
type allowAllAuthorizer struct{}

func (allowAllAuthorizer) Permits(ctx context.Context, user *auth.User, channel string) bool {
	return true
}
