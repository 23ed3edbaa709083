// Package relay publishes outbox events to Kafka. Events are claimed with a
// lease, published, then marked; failures are retried with backoff.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

type Outbox interface {
	ClaimDueEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, id string, at time.Time) error
	MarkEventFailed(ctx context.Context, id string, nextAttemptAt time.Time, errMsg string) error
	RescheduleEvent(ctx context.Context, id string, at time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte, eventID string) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Relay struct {
	outbox   Outbox
	producer Producer
	rl       RateLimiter
	planner  *Planner

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64

	now       func() time.Time
	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalPublished      atomic.Int64
	totalFailed         atomic.Int64
	totalDeferred       atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

// New builds a relay; rl may be nil to publish without a rate limit.
func New(outbox Outbox, producer Producer, rl RateLimiter) *Relay {
	return &Relay{
		outbox:             outbox,
		producer:           producer,
		rl:                 rl,
		planner:            NewPlanner(DefaultPlannerConfig(), nil),
		pollInterval:       2 * time.Second,
		batchSize:          100,
		concurrency:        10,
		lease:              60 * time.Second,
		rateLimitPerMinute: 6000,
		now:                time.Now,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (r *Relay) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Relay {
	if pollInterval > 0 {
		r.pollInterval = pollInterval
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	if concurrency > 0 {
		r.concurrency = concurrency
	}
	if lease > 0 {
		r.lease = lease
	}
	if rlPerMin > 0 {
		r.rateLimitPerMinute = rlPerMin
	}
	return r
}

func (r *Relay) WithPlanner(p *Planner) *Relay {
	r.planner = p
	return r
}

func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// Settings is the effective relay configuration, as reported by /config.
type Settings struct {
	PollInterval       string   `json:"pollInterval"`
	BatchSize          int      `json:"batchSize"`
	Concurrency        int      `json:"concurrency"`
	Lease              string   `json:"lease"`
	RateLimitPerMinute int64    `json:"rateLimitPerMinute"`
	Backoff            []string `json:"backoff"`
	Jitter             float64  `json:"jitter"`
}

func (r *Relay) Settings() Settings {
	s := Settings{
		PollInterval:       r.pollInterval.String(),
		BatchSize:          r.batchSize,
		Concurrency:        r.concurrency,
		Lease:              r.lease.String(),
		RateLimitPerMinute: r.rateLimitPerMinute,
		Jitter:             r.planner.cfg.Jitter,
	}
	for _, d := range r.planner.cfg.Steps {
		s.Backoff = append(s.Backoff, d.String())
	}
	return s
}

// Trigger forces an immediate relay cycle (best-effort, non-blocking).
func (r *Relay) Trigger() {
	r.lastTriggerUnixNano.Store(r.now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalPublished int64      `json:"totalPublished"`
	TotalFailed    int64      `json:"totalFailed"`
	TotalDeferred  int64      `json:"totalDeferred"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (r *Relay) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalClaimed:   r.totalClaimed.Load(),
		TotalPublished: r.totalPublished.Load(),
		TotalFailed:    r.totalFailed.Load(),
		TotalDeferred:  r.totalDeferred.Load(),
		InFlight:       r.inFlight.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Relay) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.RunOnce(ctx)
		case <-r.triggerCh:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce claims one batch and publishes it. Events sharing a key are
// published in claim order by one goroutine; distinct keys run in parallel.
func (r *Relay) RunOnce(ctx context.Context) {
	now := r.now().UTC()
	r.lastCycleUnixNano.Store(now.UnixNano())

	events, err := r.outbox.ClaimDueEvents(ctx, now, r.batchSize, r.lease)
	if err != nil {
		slog.Error("claim due events", "error", err.Error())
		r.setLastError(err)
		return
	}
	if len(events) == 0 {
		return
	}
	r.totalClaimed.Add(int64(len(events)))

	var keys []string
	groups := map[string][]*models.OutboxEvent{}
	for _, ev := range events {
		if _, ok := groups[ev.Key]; !ok {
			keys = append(keys, ev.Key)
		}
		groups[ev.Key] = append(groups[ev.Key], ev)
	}

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for _, k := range keys {
		group := groups[k]
		sem <- struct{}{}
		wg.Add(1)
		r.inFlight.Add(int64(len(group)))
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			r.publishGroup(ctx, group)
		}()
	}
	wg.Wait()
}

func (r *Relay) publishGroup(ctx context.Context, group []*models.OutboxEvent) {
	for i, ev := range group {
		next, err := r.publishOne(ctx, ev)
		r.inFlight.Add(-1)
		if err == nil {
			continue
		}
		// later events of the key wait for the one that failed
		for j, rest := range group[i+1:] {
			at := next.Add(time.Duration(j+1) * time.Millisecond)
			if err := r.outbox.RescheduleEvent(ctx, rest.ID, at); err != nil {
				slog.Error("reschedule event", "event_id", rest.ID, "error", err.Error())
			}
			r.totalDeferred.Add(1)
			r.inFlight.Add(-1)
		}
		return
	}
}

// publishOne returns the time the event will next be tried when it was
// not published.
func (r *Relay) publishOne(ctx context.Context, ev *models.OutboxEvent) (time.Time, error) {
	now := r.now().UTC()

	if r.rl != nil && r.rateLimitPerMinute > 0 {
		allowed, n, err := r.rl.Allow(ctx, "relay:"+ev.Topic, r.rateLimitPerMinute, time.Minute)
		if err != nil {
			// Redis недоступен: публикуем без лимита, чтобы не блокировать outbox.
			slog.Warn("relay rate limiter", "error", err.Error())
		} else if !allowed {
			next := now.Truncate(time.Minute).Add(time.Minute)
			slog.Warn("relay rate limit exceeded", "topic", ev.Topic, "count", n, "next_attempt_at", next)
			if err := r.outbox.RescheduleEvent(ctx, ev.ID, next); err != nil {
				slog.Error("reschedule event", "event_id", ev.ID, "error", err.Error())
			}
			r.totalDeferred.Add(1)
			return next, errors.New("rate limited")
		}
	}

	if err := r.producer.Publish(ctx, ev.Topic, []byte(ev.Key), ev.Payload, ev.ID); err != nil {
		next := now.Add(r.planner.BackoffDelay(ev.Attempts + 1))
		r.totalFailed.Add(1)
		r.setLastError(err)
		slog.Error("publish event", "event_id", ev.ID, "topic", ev.Topic, "attempt", ev.Attempts+1, "next_attempt_at", next, "error", err.Error())
		if merr := r.outbox.MarkEventFailed(ctx, ev.ID, next, err.Error()); merr != nil {
			slog.Error("mark event failed", "event_id", ev.ID, "error", merr.Error())
		}
		return next, err
	}

	if err := r.outbox.MarkEventPublished(ctx, ev.ID, now); err != nil {
		// Kafka уже получила сообщение; после истечения lease оно уйдёт повторно,
		// потребители отбрасывают дубликаты по event_id.
		slog.Error("mark event published", "event_id", ev.ID, "error", err.Error())
		r.setLastError(err)
		return now.Add(r.lease), err
	}
	r.totalPublished.Add(1)
	return time.Time{}, nil
}
