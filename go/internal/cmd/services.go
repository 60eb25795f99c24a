package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/mcdev12/subathon/go/internal/metrics"
	"github.com/mcdev12/subathon/go/internal/middleware"
	"github.com/mcdev12/subathon/go/internal/subathon"
	"github.com/mcdev12/subathon/go/internal/subathon/eventsub"
	"github.com/mcdev12/subathon/go/internal/subathon/gateway"
	"github.com/mcdev12/subathon/go/internal/subathon/orchestrator"
	"github.com/mcdev12/subathon/go/internal/subathon/outbox"
	"github.com/mcdev12/subathon/go/internal/subathon/service"
)

type Services struct {
	App       *subathon.App
	Hub       *gateway.Hub
	Scheduler *orchestrator.Orchestrator
	API       *service.Service
	Registry  *prometheus.Registry
	Collector *metrics.Collector
	// Relay is nil unless RELAY_ENABLED is set with a Postgres store
	Relay *outbox.Listener
	// Ready reports whether backing stores are reachable; nil means always ready
	Ready func(ctx context.Context) error

	limiters  []*middleware.RateLimiter
	publisher *outbox.JetStreamPublisher
}

func setupServices(config *Config, repo subathon.Repository) (*Services, error) {
	// Wire up dependency injection chain
	// Repository → App → (Hub, Scheduler) fan-out → Service

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	scheduler := orchestrator.New(orchestrator.Config{
		NumWorkers: config.Scheduler.Workers,
		RetryDelay: config.Scheduler.RetryDelay,
	})

	// the hub reads snapshots from the app and the app fans out to the hub,
	// so the fan-out list is filled in after both exist
	fanout := subathon.Broadcasters{scheduler}
	policy := config.Policy
	settings := config.DefaultSettings
	app := subathon.NewApp(repo, subathon.Options{
		Policy:          &policy,
		Broadcaster:     &fanout,
		Metrics:         collector,
		DefaultSettings: &settings,
	})
	hub := gateway.NewHub(app, gateway.HubConfig{SubscriberBuffer: config.Gateway.SubscriberBuffer}, collector)
	fanout = append(fanout, hub)

	clickLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Name:  "click",
		Rate:  rate.Limit(config.RateLimit.ClicksPerSecond),
		Burst: config.RateLimit.ClickBurst,
	}, nil)
	webhookLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Name:  "webhook",
		Rate:  rate.Limit(config.RateLimit.WebhookPerSecond),
		Burst: config.RateLimit.WebhookBurst,
	}, nil)

	apiConfig := service.Config{
		IngestToken:    getEnv("INGEST_TOKEN", ""),
		ClickLimiter:   clickLimiter,
		WebhookLimiter: webhookLimiter,
	}
	if secret := getEnv("TWITCH_EVENTSUB_SECRET", ""); secret != "" {
		apiConfig.Verifier = eventsub.NewVerifier(secret, nil)
	}

	return &Services{
		App:       app,
		Hub:       hub,
		Scheduler: scheduler,
		API:       service.NewService(app, apiConfig),
		Registry:  registry,
		Collector: collector,
		limiters:  []*middleware.RateLimiter{clickLimiter, webhookLimiter},
	}, nil
}

// setupRelay runs the outbox relay in-process so standalone gateways receive
// changes over JetStream
func (s *Services) setupRelay(db *sql.DB, dsn string) error {
	jsCfg := outbox.DefaultJetStreamConfig()
	jsCfg.URL = getEnv("NATS_URL", jsCfg.URL)

	publisher, err := outbox.NewJetStreamPublisher(jsCfg)
	if err != nil {
		return fmt.Errorf("failed to create JetStream publisher: %w", err)
	}

	relayCfg := outbox.DefaultRelayConfig()
	relayCfg.BatchSize = getEnvAsInt("RELAY_BATCH_SIZE", relayCfg.BatchSize)
	relay := outbox.NewRelay(outbox.NewRepository(db), publisher, relayCfg, nil, s.Collector)

	listenerCfg := outbox.DefaultListenerConfig()
	listenerCfg.DatabaseURL = dsn
	listenerCfg.FallbackInterval = getEnvAsDuration("RELAY_FALLBACK_INTERVAL", listenerCfg.FallbackInterval)

	listener, err := outbox.NewListener(relay, listenerCfg)
	if err != nil {
		publisher.Close()
		return fmt.Errorf("failed to create outbox listener: %w", err)
	}

	s.Relay = listener
	s.publisher = publisher
	return nil
}

func (s *Services) Close() {
	for _, rl := range s.limiters {
		rl.Stop()
	}
	if s.publisher != nil {
		s.publisher.Close()
	}
}
