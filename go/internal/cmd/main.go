package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/subathon/go/internal/subathon"
	"github.com/mcdev12/subathon/go/internal/subathon/repository"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && os.Getenv("LOG_LEVEL") != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var (
		repo subathon.Repository
		db   *sql.DB
		dsn  string
	)
	storeKind := getEnv("STORE", "postgres")
	switch storeKind {
	case "memory":
		st, err := setupMemoryStore(config.Streamers)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up memory store")
		}
		repo = st
	case "postgres":
		db, dsn, err = setupDatabase()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up database")
		}
		defer db.Close()
		repo = repository.NewRepository(db)
	default:
		log.Fatal().Str("store", storeKind).Msg("STORE must be memory or postgres")
	}

	services, err := setupServices(config, repo)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	if db != nil {
		services.Ready = db.PingContext
	}
	if db != nil && getEnvAsBool("RELAY_ENABLED", false) {
		if err := services.setupRelay(db, dsn); err != nil {
			log.Fatal().Err(err).Msg("failed to set up outbox relay")
		}
	}

	log.Info().Str("store", storeKind).Bool("relay", services.Relay != nil).Msg("services ready")
	run(services)
}

// run serves HTTP and runs the end scheduler (and relay, when set up) until
// a signal arrives or one of them fails
func run(services *Services) {
	defer services.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := setupServer(services)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return services.Scheduler.Run(gctx, services.App)
	})

	if services.Relay != nil {
		g.Go(func() error {
			return services.Relay.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("subathon service stopped with error")
		return
	}
	log.Info().Msg("subathon service shutdown complete")
}
