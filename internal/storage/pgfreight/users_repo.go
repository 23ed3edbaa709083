package pgfreight

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

const userColumns = ` id, role, created_at, last_seen`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &role, &u.CreatedAt, &u.LastSeen); err != nil {
		return nil, errors.Wrap(notFound(err), "select user")
	}
	u.Role = models.Role(role)
	return &u, nil
}

// UpsertUser records an authenticated principal. The role follows the
// latest credential; created_at is kept from the first sighting.
func (s *Storage) UpsertUser(ctx context.Context, u models.User) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO users (id, role, created_at, last_seen)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role, last_seen = EXCLUDED.last_seen
`, u.ID, string(u.Role), u.CreatedAt.UTC(), u.LastSeen.UTC())
	return errors.Wrap(err, "upsert user")
}

func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT`+userColumns+` FROM users WHERE id = $1`, id))
}
