// Package audit records the append-only status history of loads.
//
// Entries are written through the caller's transaction so that a status
// change and its history entry commit or roll back together.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

type Appender interface {
	AppendHistory(ctx context.Context, e models.LoadHistoryEntry) error
}

type Reader interface {
	ListHistory(ctx context.Context, loadID string, limit, offset int) ([]*models.LoadHistoryEntry, error)
}

type Recorder struct {
	now   func() time.Time
	newID func() string
}

func NewRecorder() *Recorder {
	return &Recorder{now: time.Now, newID: uuid.NewString}
}

func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Created appends the first entry of a load (no previous status).
func (r *Recorder) Created(ctx context.Context, tx Appender, load *models.Load, actorID string, note string) (models.LoadHistoryEntry, error) {
	return r.append(ctx, tx, load.ID, nil, load.Status, &actorID, note)
}

// Transitioned appends one entry for a successful status change.
func (r *Recorder) Transitioned(ctx context.Context, tx Appender, loadID string, from, to models.LoadStatus, actorID *string, note string) (models.LoadHistoryEntry, error) {
	return r.append(ctx, tx, loadID, &from, to, actorID, note)
}

func (r *Recorder) append(ctx context.Context, tx Appender, loadID string, from *models.LoadStatus, to models.LoadStatus, actorID *string, note string) (models.LoadHistoryEntry, error) {
	e := models.LoadHistoryEntry{
		ID:        r.newID(),
		LoadID:    loadID,
		OldStatus: from,
		NewStatus: to,
		ActorID:   actorID,
		Note:      note,
		CreatedAt: r.now().UTC(),
	}
	if err := tx.AppendHistory(ctx, e); err != nil {
		return models.LoadHistoryEntry{}, err
	}
	return e, nil
}

type Trail struct {
	reader Reader
}

func NewTrail(reader Reader) *Trail {
	return &Trail{reader: reader}
}

// History returns entries for a load, most recent first.
func (t *Trail) History(ctx context.Context, loadID string, limit, offset int) ([]*models.LoadHistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return t.reader.ListHistory(ctx, loadID, limit, offset)
}

// CheckChain verifies that entries (most recent first, complete) form a
// valid history: the oldest entry has no previous status and every later
// entry starts where the one before it ended.
func CheckChain(entries []*models.LoadHistoryEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("history is empty")
	}
	oldest := entries[len(entries)-1]
	if oldest.OldStatus != nil {
		return fmt.Errorf("first entry %s has previous status %q", oldest.ID, *oldest.OldStatus)
	}
	for i := len(entries) - 2; i >= 0; i-- {
		prev, cur := entries[i+1], entries[i]
		if cur.OldStatus == nil {
			return fmt.Errorf("entry %s has no previous status", cur.ID)
		}
		if *cur.OldStatus != prev.NewStatus {
			return fmt.Errorf("entry %s starts at %q, previous ended at %q", cur.ID, *cur.OldStatus, prev.NewStatus)
		}
	}
	return nil
}
