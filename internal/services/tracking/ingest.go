package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BarnabyWild/logistack-sub000/internal/apperr"
	"github.com/BarnabyWild/logistack-sub000/internal/broker/messages"
	"github.com/BarnabyWild/logistack-sub000/internal/cache"
	"github.com/BarnabyWild/logistack-sub000/internal/models"
	"github.com/BarnabyWild/logistack-sub000/internal/storage"
)

const (
	DefaultSampleLimit = 100
	MaxSampleLimit     = 1000
	DefaultLatestTTL   = 10 * time.Minute
)

type SampleStore interface {
	InsertSample(ctx context.Context, s *models.LocationSample) error
	LatestSample(ctx context.Context, loadID string) (*models.LocationSample, error)
	ListSamples(ctx context.Context, loadID string, limit int) ([]*models.LocationSample, error)
}

// Pipeline validates and persists location samples from every source and
// serves the location read surface.
type Pipeline struct {
	store SampleStore
	cache cache.LatestCache
	ttl   time.Duration

	now   func() time.Time
	newID func() string
}

// NewPipeline builds a pipeline; c may be nil to run without the latest-location cache.
func NewPipeline(store SampleStore, c cache.LatestCache, ttl time.Duration) *Pipeline {
	if ttl <= 0 {
		ttl = DefaultLatestTTL
	}
	return &Pipeline{store: store, cache: c, ttl: ttl, now: time.Now, newID: uuid.NewString}
}

func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// ValidateSample checks coordinates, the device timestamp and optional
// measurements of a sample.
func ValidateSample(in models.LocationInput) error {
	var vs []apperr.Violation
	add := func(field, msg string) { vs = append(vs, apperr.Violation{Field: field, Message: msg}) }

	if strings.TrimSpace(in.LoadID) == "" {
		add("loadId", "is required")
	}
	switch {
	case in.Latitude == nil:
		add("latitude", "is required")
	case !finite(*in.Latitude) || *in.Latitude < -90 || *in.Latitude > 90:
		add("latitude", "must be between -90 and 90")
	}
	switch {
	case in.Longitude == nil:
		add("longitude", "is required")
	case !finite(*in.Longitude) || *in.Longitude < -180 || *in.Longitude > 180:
		add("longitude", "must be between -180 and 180")
	}
	if in.RecordedAt == nil || in.RecordedAt.IsZero() {
		add("recordedAt", "is required")
	}
	for _, opt := range []struct {
		field string
		v     *float64
	}{
		{"altitude", in.Altitude},
		{"speed", in.Speed},
		{"heading", in.Heading},
		{"accuracy", in.Accuracy},
	} {
		if opt.v != nil && (!finite(*opt.v) || *opt.v < 0) {
			add(opt.field, "must not be negative")
		}
	}
	if in.Heading != nil && *in.Heading > 360 {
		add("heading", "must not exceed 360")
	}
	return apperr.Violations(vs)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Ingest stores one sample for (loadId, carrierID).
func (p *Pipeline) Ingest(ctx context.Context, carrierID string, in models.LocationInput) (*models.LocationSample, error) {
	if err := ValidateSample(in); err != nil {
		return nil, err
	}
	received := p.now().UTC()
	smp := &models.LocationSample{
		ID:         p.newID(),
		LoadID:     strings.TrimSpace(in.LoadID),
		CarrierID:  carrierID,
		Latitude:   *in.Latitude,
		Longitude:  *in.Longitude,
		Altitude:   in.Altitude,
		Speed:      in.Speed,
		Heading:    in.Heading,
		Accuracy:   in.Accuracy,
		DeviceID:   in.DeviceID,
		RecordedAt: in.RecordedAt.UTC(),
		ReceivedAt: received,
	}

	if err := p.store.InsertSample(ctx, smp); err != nil {
		return nil, apperr.Internal(err, "insert location sample")
	}
	p.refreshLatest(ctx, smp)
	return smp, nil
}

// HandleIngested is the Kafka entry point for telematics gateways.
func (p *Pipeline) HandleIngested(ctx context.Context, msg messages.LocationIngested) (*models.LocationSample, error) {
	if strings.TrimSpace(msg.CarrierID) == "" {
		return nil, apperr.Validation("carrierId", "is required")
	}
	return p.Ingest(ctx, msg.CarrierID, models.LocationInput{
		LoadID:     msg.LoadID,
		Latitude:   msg.Latitude,
		Longitude:  msg.Longitude,
		Altitude:   msg.Altitude,
		Speed:      msg.Speed,
		Heading:    msg.Heading,
		Accuracy:   msg.Accuracy,
		DeviceID:   msg.DeviceID,
		RecordedAt: msg.RecordedAt,
	})
}

// refreshLatest replaces the cached latest sample unless the cache already
// holds one recorded later.
func (p *Pipeline) refreshLatest(ctx context.Context, smp *models.LocationSample) {
	if p.cache == nil {
		return
	}
	p.writeCache(ctx, cache.LatestLocationKey(smp.LoadID), smp)
}

func (p *Pipeline) cached(ctx context.Context, key string) (*models.LocationSample, bool) {
	b, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("latest location cache get", "key", key, "error", err.Error())
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var smp models.LocationSample
	if err := json.Unmarshal(b, &smp); err != nil {
		slog.Warn("latest location cache decode", "key", key, "error", err.Error())
		return nil, false
	}
	return &smp, true
}

func (p *Pipeline) writeCache(ctx context.Context, key string, smp *models.LocationSample) {
	b, err := json.Marshal(smp)
	if err != nil {
		return
	}
	if _, err := p.cache.SetIfNewer(ctx, key, b, smp.RecordedAt.UnixMicro(), p.ttl); err != nil {
		slog.Warn("latest location cache set", "key", key, "error", err.Error())
	}
}

// Latest returns the most recently recorded sample of a load.
func (p *Pipeline) Latest(ctx context.Context, loadID string) (*models.LocationSample, error) {
	key := cache.LatestLocationKey(loadID)
	if p.cache != nil {
		if smp, ok := p.cached(ctx, key); ok {
			return smp, nil
		}
	}

	smp, err := p.store.LatestSample(ctx, loadID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("no location recorded for load %s", loadID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "latest location sample")
	}
	if p.cache != nil {
		p.writeCache(ctx, key, smp)
	}
	return smp, nil
}

// History returns up to limit samples of a load, most recently recorded first.
func (p *Pipeline) History(ctx context.Context, loadID string, limit int) ([]*models.LocationSample, error) {
	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	if limit > MaxSampleLimit {
		limit = MaxSampleLimit
	}
	out, err := p.store.ListSamples(ctx, loadID, limit)
	if err != nil {
		return nil, apperr.Internal(err, "list location samples")
	}
	if out == nil {
		out = []*models.LocationSample{}
	}
	return out, nil
}
