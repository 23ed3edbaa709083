package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"

	freightapi "github.com/BarnabyWild/logistack-sub000/internal/api/freight_api"
	"github.com/BarnabyWild/logistack-sub000/internal/apperr"
	"github.com/BarnabyWild/logistack-sub000/internal/broker/kafka"
	"github.com/BarnabyWild/logistack-sub000/internal/broker/messages"
	"github.com/BarnabyWild/logistack-sub000/internal/services/tracking"
)

type freightAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler kafka.Handler) error
}

func runFreightAPI(ctx context.Context, opts freightAPIOpts, api *freightapi.FreightAPI, pipeline *tracking.Pipeline, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, api, opts.swaggerPath)
	}()

	consumerErr := make(chan error, 1)
	if consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			consumerErr <- consumer.Consume(ctx, locationHandler(pipeline))
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		if errors.Is(err, http.ErrServerClosed) {
			return ctx.Err()
		}
		return err
	case err := <-consumerErr:
		if err == nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "location consumer")
	}
}

// locationHandler feeds telematics messages into the ingestion pipeline.
// Bad messages are skipped so one broken gateway cannot stall the topic;
// anything else stops the consumer with the message uncommitted.
func locationHandler(pipeline *tracking.Pipeline) kafka.Handler {
	return func(ctx context.Context, key, value []byte) error {
		var m messages.LocationIngested
		if err := json.Unmarshal(value, &m); err != nil {
			slog.Warn("skip malformed location message", "key", string(key), "error", err.Error())
			return nil
		}
		_, err := pipeline.HandleIngested(ctx, m)
		if err == nil {
			return nil
		}
		if apperr.KindOf(err) == apperr.KindInternal {
			return err
		}
		slog.Warn("skip invalid location message", "load_id", m.LoadID, "carrier_id", m.CarrierID, "error", err.Error())
		return nil
	}
}

func runHTTPServer(ctx context.Context, lis net.Listener, api *freightapi.FreightAPI, swaggerPath string) error {
	r := chi.NewRouter()
	r.Use(freightapi.LoggingMiddleware)

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))
	api.Register(r)

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	srv.RegisterOnShutdown(api.Shutdown)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
