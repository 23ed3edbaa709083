package pgfreight

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

const loadColumns = `
  id, shipper_id, carrier_id, origin, destination, weight, price,
  pickup_date, delivery_date, status, created_at, updated_at`

func scanLoad(row pgx.Row) (*models.Load, error) {
	var l models.Load
	var status string
	if err := row.Scan(
		&l.ID, &l.ShipperID, &l.CarrierID, &l.Origin, &l.Destination, &l.Weight, &l.Price,
		&l.PickupDate, &l.DeliveryDate, &status, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return nil, err
	}
	l.Status = models.LoadStatus(status)
	l.PickupDate = l.PickupDate.UTC()
	l.DeliveryDate = l.DeliveryDate.UTC()
	return &l, nil
}

func (s *Storage) GetLoad(ctx context.Context, id string) (*models.Load, error) {
	l, err := scanLoad(s.db.QueryRow(ctx, `SELECT`+loadColumns+` FROM loads WHERE id = $1`, id))
	if err != nil {
		return nil, errors.Wrap(notFound(err), "select load")
	}
	return l, nil
}

// filterSQL renders f as a WHERE clause with positional arguments.
func filterSQL(f models.LoadFilter) (string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if len(f.Statuses) > 0 {
		ss := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			ss = append(ss, string(st))
		}
		conds = append(conds, "status = ANY("+arg(ss)+")")
	}
	if f.ShipperID != "" {
		conds = append(conds, "shipper_id = "+arg(f.ShipperID))
	}
	if f.CarrierID != "" {
		conds = append(conds, "carrier_id = "+arg(f.CarrierID))
	}
	if f.Origin != "" {
		conds = append(conds, "origin ILIKE "+arg("%"+likeEscape(f.Origin)+"%"))
	}
	if f.Destination != "" {
		conds = append(conds, "destination ILIKE "+arg("%"+likeEscape(f.Destination)+"%"))
	}
	if f.PickupFrom != nil {
		conds = append(conds, "pickup_date >= "+arg(f.PickupFrom.UTC()))
	}
	if f.PickupTo != nil {
		conds = append(conds, "pickup_date <= "+arg(f.PickupTo.UTC()))
	}
	if f.DeliveryFrom != nil {
		conds = append(conds, "delivery_date >= "+arg(f.DeliveryFrom.UTC()))
	}
	if f.DeliveryTo != nil {
		conds = append(conds, "delivery_date <= "+arg(f.DeliveryTo.UTC()))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likeEscape(s string) string {
	return likeReplacer.Replace(s)
}

func (s *Storage) ListLoads(ctx context.Context, f models.LoadFilter) ([]*models.Load, int, error) {
	where, args := filterSQL(f)

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM loads`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count loads")
	}

	q := `SELECT` + loadColumns + ` FROM loads` + where + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += " LIMIT $" + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "select loads")
	}
	defer rows.Close()

	var out []*models.Load
	for rows.Next() {
		l, err := scanLoad(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan load")
		}
		out = append(out, l)
	}
	if rows.Err() != nil {
		return nil, 0, errors.Wrap(rows.Err(), "rows")
	}
	return out, total, nil
}

// loadTx implements storage.LoadTx on one pgx transaction.
type loadTx struct {
	q querier
}

func (t *loadTx) InsertLoad(ctx context.Context, l *models.Load) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO loads (
  id, shipper_id, carrier_id, origin, destination, weight, price,
  pickup_date, delivery_date, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`, l.ID, l.ShipperID, l.CarrierID, l.Origin, l.Destination, l.Weight, l.Price,
		l.PickupDate.UTC(), l.DeliveryDate.UTC(), string(l.Status), l.CreatedAt.UTC(), l.UpdatedAt.UTC())
	return errors.Wrap(err, "insert load")
}

func (t *loadTx) GetLoadForUpdate(ctx context.Context, id string) (*models.Load, error) {
	l, err := scanLoad(t.q.QueryRow(ctx, `SELECT`+loadColumns+` FROM loads WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, errors.Wrap(notFound(err), "select load for update")
	}
	return l, nil
}

func (t *loadTx) UpdateLoadStatus(ctx context.Context, id string, expected, to models.LoadStatus, carrierID *string, at time.Time) (bool, error) {
	tag, err := t.q.Exec(ctx, `
UPDATE loads
SET
  status = $3,
  carrier_id = COALESCE($4, carrier_id),
  updated_at = $5
WHERE id = $1 AND status = $2
`, id, string(expected), string(to), carrierID, at.UTC())
	if err != nil {
		return false, errors.Wrap(err, "update load status")
	}
	return tag.RowsAffected() == 1, nil
}

func (t *loadTx) LockUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(t.q.QueryRow(ctx, `SELECT`+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (t *loadTx) FindScheduleConflict(ctx context.Context, carrierID string, pickup, delivery time.Time, excludeLoadID string) (*models.Load, error) {
	l, err := scanLoad(t.q.QueryRow(ctx, `
SELECT`+loadColumns+`
FROM loads
WHERE carrier_id = $1
  AND status IN ('assigned', 'in_transit')
  AND id <> $4
  AND pickup_date <= $3
  AND delivery_date >= $2
ORDER BY pickup_date, id
LIMIT 1
`, carrierID, pickup.UTC(), delivery.UTC(), excludeLoadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select schedule conflict")
	}
	return l, nil
}

func (t *loadTx) AppendHistory(ctx context.Context, e models.LoadHistoryEntry) error {
	var old *string
	if e.OldStatus != nil {
		s := string(*e.OldStatus)
		old = &s
	}
	_, err := t.q.Exec(ctx, `
INSERT INTO load_history (id, load_id, old_status, new_status, actor_id, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, e.ID, e.LoadID, old, string(e.NewStatus), e.ActorID, e.Note, e.CreatedAt.UTC())
	return errors.Wrap(err, "insert load history")
}

func (t *loadTx) EnqueueEvent(ctx context.Context, e models.OutboxEvent) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO outbox (id, topic, key, payload, attempts, next_attempt_at, created_at)
VALUES ($1,$2,$3,$4,0,$5,$6)
`, e.ID, e.Topic, e.Key, e.Payload, e.NextAttemptAt.UTC(), e.CreatedAt.UTC())
	return errors.Wrap(err, "insert outbox event")
}
