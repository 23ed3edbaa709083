package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

type fakeLog struct {
	entries []models.LoadHistoryEntry
	err     error

	limit, offset int
}

func (f *fakeLog) AppendHistory(ctx context.Context, e models.LoadHistoryEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeLog) ListHistory(ctx context.Context, loadID string, limit, offset int) ([]*models.LoadHistoryEntry, error) {
	f.limit, f.offset = limit, offset
	out := make([]*models.LoadHistoryEntry, 0, len(f.entries))
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		out = append(out, &e)
	}
	return out, nil
}

func TestRecorder_CreatedThenTransitioned(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := NewRecorder().WithClock(func() time.Time { return now })
	log := &fakeLog{}
	ctx := context.Background()

	load := &models.Load{ID: "l1", Status: models.LoadStatusPending}
	first, err := r.Created(ctx, log, load, "s1", "load created")
	require.NoError(t, err)
	require.Nil(t, first.OldStatus)
	require.Equal(t, models.LoadStatusPending, first.NewStatus)
	require.Equal(t, now, first.CreatedAt)

	actor := "s1"
	_, err = r.Transitioned(ctx, log, "l1", models.LoadStatusPending, models.LoadStatusAssigned, &actor, "")
	require.NoError(t, err)
	require.Len(t, log.entries, 2)
	require.NotEqual(t, log.entries[0].ID, log.entries[1].ID)

	hist, err := NewTrail(log).History(ctx, "l1", 0, -1)
	require.NoError(t, err)
	require.Equal(t, defaultHistoryLimit, log.limit)
	require.Equal(t, 0, log.offset)
	require.Equal(t, models.LoadStatusAssigned, hist[0].NewStatus)
	require.NoError(t, CheckChain(hist))
}

func TestRecorder_AppendError(t *testing.T) {
	want := errors.New("insert failed")
	_, err := NewRecorder().Created(context.Background(), &fakeLog{err: want}, &models.Load{ID: "l1"}, "s1", "")
	require.ErrorIs(t, err, want)
}

func TestTrail_ClampsLimit(t *testing.T) {
	log := &fakeLog{}
	_, err := NewTrail(log).History(context.Background(), "l1", 10_000, 5)
	require.NoError(t, err)
	require.Equal(t, maxHistoryLimit, log.limit)
	require.Equal(t, 5, log.offset)
}

func TestCheckChain(t *testing.T) {
	st := func(s models.LoadStatus) *models.LoadStatus { return &s }

	require.Error(t, CheckChain(nil))

	ok := []*models.LoadHistoryEntry{
		{ID: "3", OldStatus: st(models.LoadStatusAssigned), NewStatus: models.LoadStatusCancelled},
		{ID: "2", OldStatus: st(models.LoadStatusPending), NewStatus: models.LoadStatusAssigned},
		{ID: "1", NewStatus: models.LoadStatusPending},
	}
	require.NoError(t, CheckChain(ok))

	broken := []*models.LoadHistoryEntry{
		{ID: "2", OldStatus: st(models.LoadStatusInTransit), NewStatus: models.LoadStatusDelivered},
		{ID: "1", NewStatus: models.LoadStatusPending},
	}
	require.Error(t, CheckChain(broken))

	noRoot := []*models.LoadHistoryEntry{
		{ID: "1", OldStatus: st(models.LoadStatusPending), NewStatus: models.LoadStatusAssigned},
	}
	require.Error(t, CheckChain(noRoot))
}
