package pgfreight

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
	"github.com/BarnabyWild/logistack-sub000/internal/storage"
)

// ClaimDueEvents выбирает пачку неопубликованных событий и "бронирует" их на lease,
// чтобы параллельные воркеры их не подхватили.
// Сначала блокируются головы ключей (самое раннее неопубликованное событие ключа)
// через SELECT ... FOR UPDATE SKIP LOCKED, затем к каждой голове добавляются
// следующие события того же ключа, пока они подряд готовы к отправке.
func (s *Storage) ClaimDueEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEvent, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now = now.UTC()
	keys, err := lockDueHeads(ctx, tx, now, limit)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	rows, err := tx.Query(ctx, `
SELECT id, topic, key, payload, attempts, next_attempt_at, published_at, last_error, created_at
FROM outbox
WHERE published_at IS NULL
  AND key = ANY($1)
ORDER BY key, seq
FOR UPDATE
`, keys)
	if err != nil {
		return nil, errors.Wrap(err, "select key events")
	}
	pending := map[string][]*models.OutboxEvent{}
	for rows.Next() {
		var e models.OutboxEvent
		if err := rows.Scan(&e.ID, &e.Topic, &e.Key, &e.Payload, &e.Attempts, &e.NextAttemptAt, &e.PublishedAt, &e.LastError, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan due event")
		}
		pending[e.Key] = append(pending[e.Key], &e)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	picked := takeDuePrefixes(keys, pending, now, limit)
	if len(picked) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(picked))
	for _, e := range picked {
		ids = append(ids, e.ID)
	}

	leaseUntil := now.Add(lease)
	if _, err := tx.Exec(ctx, `UPDATE outbox SET next_attempt_at = $2 WHERE id = ANY($1)`, ids, leaseUntil); err != nil {
		return nil, errors.Wrap(err, "lease events")
	}
	for _, e := range picked {
		e.NextAttemptAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// lockDueHeads returns keys whose earliest unpublished event is due, in
// claim order. A key whose head is leased or locked elsewhere is skipped.
func lockDueHeads(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]string, error) {
	rows, err := tx.Query(ctx, `
SELECT o.key
FROM outbox o
WHERE o.published_at IS NULL
  AND o.next_attempt_at <= $1
  AND NOT EXISTS (
    SELECT 1 FROM outbox prev
    WHERE prev.key = o.key
      AND prev.published_at IS NULL
      AND prev.seq < o.seq
  )
ORDER BY o.next_attempt_at, o.seq
LIMIT $2
FOR UPDATE OF o SKIP LOCKED
`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due heads")
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return keys, errors.Wrap(err, "scan due heads")
}

// takeDuePrefixes keeps, per key, the run of due events that starts at the
// head, until limit events are taken.
func takeDuePrefixes(keys []string, pending map[string][]*models.OutboxEvent, now time.Time, limit int) []*models.OutboxEvent {
	var out []*models.OutboxEvent
	for _, k := range keys {
		for _, e := range pending[k] {
			if limit > 0 && len(out) >= limit {
				return out
			}
			if e.NextAttemptAt.After(now) {
				break
			}
			out = append(out, e)
		}
	}
	return out
}

func (s *Storage) MarkEventPublished(ctx context.Context, id string, at time.Time) error {
	return s.updateEvent(ctx, `
UPDATE outbox
SET published_at = $2, attempts = attempts + 1, last_error = NULL
WHERE id = $1
`, id, at.UTC())
}

func (s *Storage) MarkEventFailed(ctx context.Context, id string, nextAttemptAt time.Time, errMsg string) error {
	return s.updateEvent(ctx, `
UPDATE outbox
SET attempts = attempts + 1, next_attempt_at = $2, last_error = $3
WHERE id = $1
`, id, nextAttemptAt.UTC(), errMsg)
}

func (s *Storage) RescheduleEvent(ctx context.Context, id string, at time.Time) error {
	return s.updateEvent(ctx, `UPDATE outbox SET next_attempt_at = $2 WHERE id = $1`, id, at.UTC())
}

func (s *Storage) updateEvent(ctx context.Context, q string, args ...any) error {
	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "update outbox event")
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
