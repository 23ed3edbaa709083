// Package storage declares the persistence contract shared by the
// PostgreSQL and in-memory stores.
package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

var ErrNotFound = errors.New("not found")

// LoadTx is the set of reads and writes available inside one transaction.
// Reads through LoadTx lock what they return until the transaction ends.
type LoadTx interface {
	InsertLoad(ctx context.Context, l *models.Load) error
	GetLoadForUpdate(ctx context.Context, id string) (*models.Load, error)
	// UpdateLoadStatus is a compare-and-swap: it changes the status only if
	// it is still expected. carrierID, when non-nil, is stored as well.
	UpdateLoadStatus(ctx context.Context, id string, expected, to models.LoadStatus, carrierID *string, at time.Time) (bool, error)
	LockUser(ctx context.Context, id string) (*models.User, error)
	// FindScheduleConflict returns a load held by carrierID in assigned or
	// in_transit whose pickup/delivery window intersects [pickup, delivery].
	FindScheduleConflict(ctx context.Context, carrierID string, pickup, delivery time.Time, excludeLoadID string) (*models.Load, error)
	AppendHistory(ctx context.Context, e models.LoadHistoryEntry) error
	EnqueueEvent(ctx context.Context, e models.OutboxEvent) error
}

type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx LoadTx) error) error
}
