package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BarnabyWild/logistack-sub000/config"
	freightapi "github.com/BarnabyWild/logistack-sub000/internal/api/freight_api"
	"github.com/BarnabyWild/logistack-sub000/internal/auth"
	"github.com/BarnabyWild/logistack-sub000/internal/broker/kafka"
	"github.com/BarnabyWild/logistack-sub000/internal/cache/rediscache"
	"github.com/BarnabyWild/logistack-sub000/internal/services/audit"
	"github.com/BarnabyWild/logistack-sub000/internal/services/lifecycle"
	"github.com/BarnabyWild/logistack-sub000/internal/services/tracking"
	"github.com/BarnabyWild/logistack-sub000/internal/storage/pgfreight"
)

type freightAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     freightAPIOpts
	api      *freightapi.FreightAPI
	pipeline *tracking.Pipeline
	consumer *kafka.Consumer
	closers  []func()
}

func mustBootstrapFreightAPI() *freightAPIApp {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using process environment")
	}

	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	config.SetupLogger(cfg.Freight)

	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		swaggerPath = cfg.Freight.SwaggerPath
	}
	if swaggerPath == "" {
		swaggerPath = "api/swagger.json"
	}
	httpAddr := cfg.Freight.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Freight.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "freight-api"
	}
	eventsTopic := cfg.Kafka.LoadEventsTopicName
	if eventsTopic == "" {
		eventsTopic = "load.events"
	}
	ingestTopic := cfg.Kafka.LocationIngestTopicName
	if ingestTopic == "" {
		ingestTopic = "location.ingest"
	}
	audience := cfg.Auth.Audience
	if audience == "" {
		audience = "freight"
	}

	pub, err := auth.ParsePublicKey(cfg.Auth.PublicKey)
	if err != nil {
		panic(fmt.Sprintf("auth.public_key: %v", err))
	}

	st := mustOpenPostgresWithRetry(cfg.Database.DSN(), 60*time.Second)
	app := &freightAPIApp{closers: []func(){st.Close}}

	authn := auth.NewRecording(auth.NewTokenAuthenticator(pub, audience), st)
	engine := lifecycle.New(st, audit.NewRecorder(), eventsTopic).
		WithPageSizes(cfg.Freight.DefaultPageSize, cfg.Freight.MaxPageSize)

	var pipeline *tracking.Pipeline
	if addr := cfg.Redis.Addr(); addr != "" {
		rc := rediscache.New(addr)
		app.closers = append(app.closers, func() { _ = rc.Close() })
		pipeline = tracking.NewPipeline(st, rc, cfg.Freight.LatestLocationTTL())
	} else {
		slog.Warn("redis is not configured, latest location cache disabled")
		pipeline = tracking.NewPipeline(st, nil, cfg.Freight.LatestLocationTTL())
	}

	policy := tracking.Policy{
		MaxSessionsPerLoad:     cfg.Freight.TrackingMaxSessionsPerLoad,
		IdleTimeout:            cfg.Freight.TrackingIdleTimeout(),
		RequireAssignedCarrier: cfg.Freight.TrackingRequireAssignedCarrier,
	}
	svc := tracking.NewService(tracking.NewRegistry(policy.MaxSessionsPerLoad), authn, pipeline, st, policy)

	if brokers := cfg.Kafka.Brokers(); len(brokers) > 0 {
		app.consumer = kafka.NewConsumer(brokers, ingestTopic, consumerGroup)
		app.closers = append(app.closers, func() { _ = app.consumer.Close() })
	} else {
		slog.Warn("kafka is not configured, telematics ingestion disabled")
	}

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.opts = freightAPIOpts{
		httpAddr:      httpAddr,
		swaggerPath:   swaggerPath,
		topic:         ingestTopic,
		consumerGroup: consumerGroup,
	}
	app.api = freightapi.New(engine, svc, authn)
	app.pipeline = pipeline
	return app
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgfreight.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		st, err := pgfreight.New(ctx, connString)
		cancel()
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *freightAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *freightAPIApp) Run() error {
	var consumer kafkaConsumer
	if a.consumer != nil {
		consumer = a.consumer
	}
	return runFreightAPI(a.ctx, a.opts, a.api, a.pipeline, consumer)
}
