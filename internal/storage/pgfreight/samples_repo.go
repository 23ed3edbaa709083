package pgfreight

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

const sampleColumns = `
  id, load_id, carrier_id, latitude, longitude,
  altitude, speed, heading, accuracy, device_id, recorded_at, received_at`

func scanSample(row pgx.Row) (*models.LocationSample, error) {
	var smp models.LocationSample
	if err := row.Scan(
		&smp.ID, &smp.LoadID, &smp.CarrierID, &smp.Latitude, &smp.Longitude,
		&smp.Altitude, &smp.Speed, &smp.Heading, &smp.Accuracy, &smp.DeviceID, &smp.RecordedAt, &smp.ReceivedAt,
	); err != nil {
		return nil, err
	}
	smp.RecordedAt = smp.RecordedAt.UTC()
	smp.ReceivedAt = smp.ReceivedAt.UTC()
	return &smp, nil
}

func (s *Storage) InsertSample(ctx context.Context, smp *models.LocationSample) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO location_samples (`+sampleColumns+`
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`, smp.ID, smp.LoadID, smp.CarrierID, smp.Latitude, smp.Longitude,
		smp.Altitude, smp.Speed, smp.Heading, smp.Accuracy, smp.DeviceID, smp.RecordedAt.UTC(), smp.ReceivedAt.UTC())
	return errors.Wrap(err, "insert location sample")
}

func (s *Storage) LatestSample(ctx context.Context, loadID string) (*models.LocationSample, error) {
	smp, err := scanSample(s.db.QueryRow(ctx, `
SELECT`+sampleColumns+`
FROM location_samples
WHERE load_id = $1
ORDER BY recorded_at DESC, received_at DESC
LIMIT 1
`, loadID))
	if err != nil {
		return nil, errors.Wrap(notFound(err), "select latest sample")
	}
	return smp, nil
}

func (s *Storage) ListSamples(ctx context.Context, loadID string, limit int) ([]*models.LocationSample, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+sampleColumns+`
FROM location_samples
WHERE load_id = $1
ORDER BY recorded_at DESC, received_at DESC
LIMIT $2
`, loadID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select samples")
	}
	defer rows.Close()

	out := []*models.LocationSample{}
	for rows.Next() {
		smp, err := scanSample(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan sample")
		}
		out = append(out, smp)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
