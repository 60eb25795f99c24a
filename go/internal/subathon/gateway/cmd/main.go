package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/subathon/go/internal/database"
	"github.com/mcdev12/subathon/go/internal/dbconfig"
	"github.com/mcdev12/subathon/go/internal/metrics"
	"github.com/mcdev12/subathon/go/internal/subathon"
	"github.com/mcdev12/subathon/go/internal/subathon/gateway"
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

	port := getEnv("GATEWAY_PORT", "8081")
	hostname, _ := os.Hostname()

	dbCfg := dbconfig.NewConfigFromEnv()
	db, err := database.Open(dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	dbCfg.ApplyPool(db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// The gateway only reads snapshots; every write goes through the API binary.
	app := subathon.NewApp(repository.NewRepository(db), subathon.Options{Metrics: collector})
	hub := gateway.NewHub(app, gateway.DefaultHubConfig(), collector)

	jsCfg := gateway.DefaultJetStreamConsumerConfig()
	jsCfg.URL = getEnv("NATS_URL", jsCfg.URL)
	jsCfg.ConsumerName = getEnv("GATEWAY_CONSUMER", "subathon-gateway-"+hostname)

	consumer, err := gateway.NewEventConsumer(hub, jsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event consumer")
	}
	defer consumer.Stop()

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", jsCfg.URL).
		Str("consumer", jsCfg.ConsumerName).
		Str("port", port).
		Msg("starting subathon gateway")

	r := chi.NewRouter()
	gateway.NewWebSocketHandler(hub, gateway.DefaultConnectionConfig()).RegisterRoutes(r)
	gateway.NewStateHandler(app).RegisterRoutes(r)
	r.Handle("/metrics", metrics.Handler(registry))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	}).Handler(r)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", port),
		Handler:     h2c.NewHandler(handler, &http2.Server{}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
			stop()
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("subathon gateway shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
