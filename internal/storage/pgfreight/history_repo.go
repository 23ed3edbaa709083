package pgfreight

import (
	"context"

	"github.com/pkg/errors"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

// ListHistory returns entries of a load, most recent first.
func (s *Storage) ListHistory(ctx context.Context, loadID string, limit, offset int) ([]*models.LoadHistoryEntry, error) {
	if offset < 0 {
		offset = 0
	}
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.db.Query(ctx, `
SELECT id, load_id, old_status, new_status, actor_id, note, created_at
FROM load_history
WHERE load_id = $1
ORDER BY seq DESC
LIMIT $2 OFFSET $3
`, loadID, lim, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select load history")
	}
	defer rows.Close()

	out := []*models.LoadHistoryEntry{}
	for rows.Next() {
		var e models.LoadHistoryEntry
		var old *string
		var status string
		if err := rows.Scan(&e.ID, &e.LoadID, &old, &status, &e.ActorID, &e.Note, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan load history")
		}
		e.NewStatus = models.LoadStatus(status)
		if old != nil {
			st := models.LoadStatus(*old)
			e.OldStatus = &st
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
