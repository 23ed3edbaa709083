package pgfreight

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  role TEXT NOT NULL CHECK (role IN ('shipper', 'carrier')),
  created_at TIMESTAMPTZ NOT NULL,
  last_seen TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS loads (
  id TEXT PRIMARY KEY,
  shipper_id TEXT NOT NULL,
  carrier_id TEXT NULL,
  origin TEXT NOT NULL,
  destination TEXT NOT NULL,
  weight DOUBLE PRECISION NOT NULL CHECK (weight > 0),
  price DOUBLE PRECISION NOT NULL CHECK (price >= 0),
  pickup_date DATE NOT NULL,
  delivery_date DATE NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('pending', 'assigned', 'in_transit', 'delivered', 'cancelled')),
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  CHECK (delivery_date >= pickup_date),
  CHECK (status = 'pending' OR carrier_id IS NOT NULL OR status = 'cancelled')
)`,
		`CREATE INDEX IF NOT EXISTS idx_loads_carrier_status ON loads(carrier_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_loads_shipper ON loads(shipper_id)`,
		`CREATE INDEX IF NOT EXISTS idx_loads_created_at ON loads(created_at DESC, id)`,
		`
CREATE TABLE IF NOT EXISTS load_history (
  seq BIGSERIAL,
  id TEXT PRIMARY KEY,
  load_id TEXT NOT NULL REFERENCES loads(id) ON DELETE CASCADE,
  old_status TEXT NULL,
  new_status TEXT NOT NULL,
  actor_id TEXT NULL,
  note TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_load_history_load ON load_history(load_id, seq DESC)`,
		// samples of unknown loads are kept: tracking never checks the load
		`
CREATE TABLE IF NOT EXISTS location_samples (
  id TEXT PRIMARY KEY,
  load_id TEXT NOT NULL,
  carrier_id TEXT NOT NULL,
  latitude DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
  longitude DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
  altitude DOUBLE PRECISION NULL,
  speed DOUBLE PRECISION NULL,
  heading DOUBLE PRECISION NULL,
  accuracy DOUBLE PRECISION NULL,
  device_id TEXT NULL,
  recorded_at TIMESTAMPTZ NOT NULL,
  received_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_location_samples_load ON location_samples(load_id, recorded_at DESC, received_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS outbox (
  seq BIGSERIAL,
  id TEXT PRIMARY KEY,
  topic TEXT NOT NULL,
  key TEXT NOT NULL,
  payload BYTEA NOT NULL,
  attempts INT NOT NULL DEFAULT 0,
  next_attempt_at TIMESTAMPTZ NOT NULL,
  published_at TIMESTAMPTZ NULL,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox(next_attempt_at, seq) WHERE published_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_key_pending ON outbox(key, seq) WHERE published_at IS NULL`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
