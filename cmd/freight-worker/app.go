package main

import (
	"context"

	"github.com/BarnabyWild/logistack-sub000/config"
	"github.com/BarnabyWild/logistack-sub000/internal/broker/kafka"
	"github.com/BarnabyWild/logistack-sub000/internal/cache/rediscache"
	"github.com/BarnabyWild/logistack-sub000/internal/services/relay"
	"github.com/BarnabyWild/logistack-sub000/internal/storage/pgfreight"
)

type workerFactories struct {
	newStorage     func(ctx context.Context, cfg *config.Config) (outbox relay.Outbox, closeFn func(), err error)
	newProducer    func(cfg *config.Config) (relay.Producer, func())
	newRateLimiter func(cfg *config.Config) (relay.RateLimiter, func())
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (relay.Outbox, func(), error) {
			st, err := pgfreight.New(ctx, cfg.Database.DSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) (relay.Producer, func()) {
			p := kafka.NewProducer(cfg.Kafka.Brokers())
			return p, func() { _ = p.Close() }
		},
		newRateLimiter: func(cfg *config.Config) (relay.RateLimiter, func()) {
			addr := cfg.Redis.Addr()
			if addr == "" {
				// без redis публикуем без лимита
				return nil, func() {}
			}
			rl := rediscache.NewRateLimiter(addr, "freight:relay:")
			return rl, func() { _ = rl.Close() }
		},
	}
}

// newRelay applies the worker_* settings; zero values keep the relay defaults.
func newRelay(cfg *config.Config, outbox relay.Outbox, producer relay.Producer, rl relay.RateLimiter) *relay.Relay {
	f := cfg.Freight

	pc := relay.PlannerConfig{Steps: f.WorkerBackoff(), Jitter: f.WorkerBackoffJitter}
	if pc.Jitter <= 0 {
		pc.Jitter = relay.DefaultPlannerConfig().Jitter
	}

	r := relay.New(outbox, producer, rl).
		WithSettings(f.WorkerPollInterval(), f.WorkerBatchSize, f.WorkerConcurrency, f.WorkerLease(), int64(f.WorkerRateLimitPerMinute)).
		WithPlanner(relay.NewPlanner(pc, nil))
	return r
}

type workerOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)
}

func runFreightWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerOpts) error {
	outbox, closeFn, err := f.newStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	producer, closeProducer := f.newProducer(cfg)
	defer closeProducer()
	rl, closeRL := f.newRateLimiter(cfg)
	defer closeRL()

	r := newRelay(cfg, outbox, producer, rl)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    opts.httpAddr,
			swaggerPath: opts.swaggerPath,
			onListen:    opts.onListen,
			relay:       r,
		})
	}()

	relayErr := make(chan error, 1)
	go func() {
		relayErr <- r.Run(ctx)
	}()

	select {
	case err := <-relayErr:
		return err
	case err := <-httpErr:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
}
