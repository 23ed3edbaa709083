package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BarnabyWild/logistack-sub000/internal/apperr"
	"github.com/BarnabyWild/logistack-sub000/internal/broker/messages"
	"github.com/BarnabyWild/logistack-sub000/internal/models"
	"github.com/BarnabyWild/logistack-sub000/internal/services/audit"
	"github.com/BarnabyWild/logistack-sub000/internal/storage/memstore"
)

var (
	shipperS1 = models.Actor{ID: "S1", Role: models.RoleShipper}
	shipperS2 = models.Actor{ID: "S2", Role: models.RoleShipper}
	carrierC1 = models.Actor{ID: "C1", Role: models.RoleCarrier}
	carrierC2 = models.Actor{ID: "C2", Role: models.RoleCarrier}
)

type fixture struct {
	store  *memstore.Store
	engine *Engine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := memstore.New()
	now := func() time.Time { return day("2026-02-01").Add(10 * time.Hour) }
	e := New(st, audit.NewRecorder(), "load.events").WithClock(now)

	ctx := context.Background()
	for _, a := range []models.Actor{shipperS1, shipperS2, carrierC1, carrierC2} {
		require.NoError(t, st.UpsertUser(ctx, models.User{ID: a.ID, Role: a.Role}))
	}
	return fixture{store: st, engine: e}
}

func (f fixture) create(t *testing.T, actor models.Actor, origin, dest, pickup, delivery string) *models.Load {
	t.Helper()
	d := day(delivery)
	l, err := f.engine.Create(context.Background(), actor, models.LoadCreateInput{
		Origin: origin, Destination: dest, Weight: 12000, Price: 2500,
		PickupDate: day(pickup), DeliveryDate: &d,
	})
	require.NoError(t, err)
	return l
}

func (f fixture) history(t *testing.T, loadID string) []*models.LoadHistoryEntry {
	t.Helper()
	h, err := f.engine.History(context.Background(), shipperS1, loadID, 0, 0)
	require.NoError(t, err)
	return h
}

func TestEngine_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l1 := f.create(t, shipperS1, "Chicago", "Dallas", "2026-03-01", "2026-03-03")
	require.Equal(t, models.LoadStatusPending, l1.Status)
	require.Nil(t, l1.CarrierID)

	l, err := f.engine.Assign(ctx, shipperS1, l1.ID, "C1", "")
	require.NoError(t, err)
	require.Equal(t, models.LoadStatusAssigned, l.Status)
	require.Equal(t, "C1", *l.CarrierID)

	_, err = f.engine.Transition(ctx, carrierC1, l1.ID, models.LoadStatusInTransit, "picked up")
	require.NoError(t, err)
	l, err = f.engine.Transition(ctx, carrierC1, l1.ID, models.LoadStatusDelivered, "")
	require.NoError(t, err)
	require.Equal(t, models.LoadStatusDelivered, l.Status)

	hist := f.history(t, l1.ID)
	require.Len(t, hist, 4)
	var got []models.LoadStatus
	for i := len(hist) - 1; i >= 0; i-- {
		got = append(got, hist[i].NewStatus)
	}
	require.Equal(t, []models.LoadStatus{
		models.LoadStatusPending, models.LoadStatusAssigned, models.LoadStatusInTransit, models.LoadStatusDelivered,
	}, got)
	require.Nil(t, hist[len(hist)-1].OldStatus)
	require.NoError(t, audit.CheckChain(hist))

	_, err = f.engine.Cancel(ctx, shipperS1, l1.ID, "too late")
	require.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
	require.Len(t, f.history(t, l1.ID), 4)

	// one outbox event per history entry, in order
	events := f.store.Outbox()
	require.Len(t, events, 4)
	var last messages.LoadStatusChanged
	require.NoError(t, json.Unmarshal(events[3].Payload, &last))
	require.Equal(t, "delivered", last.NewStatus)
	require.Equal(t, "in_transit", *last.OldStatus)
	require.Equal(t, l1.ID, events[3].Key)
	require.Equal(t, "load.events", events[3].Topic)
}

func TestEngine_HistoryCountMatchesTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.create(t, shipperS1, "Reno", "Boise", "2026-04-01", "2026-04-02")

	successes := 0
	attempts := []func() error{
		func() error { _, err := f.engine.Transition(ctx, carrierC1, l.ID, models.LoadStatusInTransit, ""); return err },
		func() error { _, err := f.engine.Assign(ctx, shipperS1, l.ID, "C1", ""); return err },
		func() error { _, err := f.engine.Assign(ctx, shipperS1, l.ID, "C2", ""); return err },
		func() error { _, err := f.engine.Cancel(ctx, carrierC1, l.ID, ""); return err },
		func() error { _, err := f.engine.Transition(ctx, carrierC2, l.ID, models.LoadStatusInTransit, ""); return err },
		func() error { _, err := f.engine.Transition(ctx, carrierC1, l.ID, models.LoadStatusInTransit, ""); return err },
		func() error { _, err := f.engine.Cancel(ctx, shipperS1, l.ID, "customer withdrew"); return err },
		func() error { _, err := f.engine.Cancel(ctx, shipperS1, l.ID, ""); return err },
	}
	for _, a := range attempts {
		if a() == nil {
			successes++
		}
	}
	require.Equal(t, 3, successes)
	require.Len(t, f.history(t, l.ID), 1+successes)

	got, err := f.engine.Get(ctx, shipperS1, l.ID)
	require.NoError(t, err)
	require.Equal(t, models.LoadStatusCancelled, got.Status)
	// carrier stays recorded after cancellation
	require.Equal(t, "C1", *got.CarrierID)
}

func TestEngine_Create_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, carrierC1, models.LoadCreateInput{Origin: "A", Destination: "B", Weight: 1, PickupDate: day("2026-03-01")})
	require.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.engine.Create(ctx, shipperS1, models.LoadCreateInput{Origin: "A", Destination: "B", Weight: -5, PickupDate: day("2026-03-01")})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.engine.Create(ctx, shipperS1, models.LoadCreateInput{Origin: "A", Destination: "B", Weight: 5, PickupDate: day("2026-01-15")})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	l, err := f.engine.Create(ctx, shipperS1, models.LoadCreateInput{Origin: "A", Destination: "B", Weight: 5, PickupDate: day("2026-02-01")})
	require.NoError(t, err)
	require.Equal(t, day("2026-02-03"), l.DeliveryDate)
	require.Len(t, f.history(t, l.ID), 1)
}

func TestEngine_Assign_ConflictWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held := f.create(t, shipperS1, "Denver", "Omaha", "2026-03-04", "2026-03-06")
	_, err := f.engine.Assign(ctx, shipperS1, held.ID, "C1", "")
	require.NoError(t, err)

	before := f.create(t, shipperS1, "Chicago", "Dallas", "2026-03-01", "2026-03-03")
	_, err = f.engine.Assign(ctx, shipperS1, before.ID, "C1", "")
	require.NoError(t, err)

	overlapping := f.create(t, shipperS2, "Austin", "Tulsa", "2026-03-02", "2026-03-05")
	_, err = f.engine.Assign(ctx, shipperS2, overlapping.ID, "C1", "")
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	touching := f.create(t, shipperS2, "Austin", "Tulsa", "2026-03-06", "2026-03-07")
	_, err = f.engine.Assign(ctx, shipperS2, touching.ID, "C1", "")
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// a rejected assignment leaves no trace
	require.Len(t, f.history(t, overlapping.ID), 1)
	got, err := f.engine.Get(ctx, shipperS2, overlapping.ID)
	require.NoError(t, err)
	require.Equal(t, models.LoadStatusPending, got.Status)

	// delivered or cancelled loads no longer block the carrier
	_, err = f.engine.Transition(ctx, carrierC1, held.ID, models.LoadStatusInTransit, "")
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, carrierC1, held.ID, models.LoadStatusDelivered, "")
	require.NoError(t, err)
	_, err = f.engine.Assign(ctx, shipperS2, overlapping.ID, "C1", "")
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err), "still overlaps the 03-01..03-03 load")

	_, err = f.engine.Cancel(ctx, shipperS1, before.ID, "")
	require.NoError(t, err)
	_, err = f.engine.Assign(ctx, shipperS2, overlapping.ID, "C1", "")
	require.NoError(t, err)
}

func TestEngine_Assign_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.create(t, shipperS1, "A", "B", "2026-03-01", "2026-03-02")

	_, err := f.engine.Assign(ctx, carrierC1, l.ID, "C1", "")
	require.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.engine.Assign(ctx, shipperS2, l.ID, "C1", "")
	require.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.engine.Assign(ctx, shipperS1, "missing", "C1", "")
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.engine.Assign(ctx, shipperS1, l.ID, "nobody", "")
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.engine.Assign(ctx, shipperS1, l.ID, "S2", "")
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.engine.Assign(ctx, shipperS1, l.ID, " ", "")
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.engine.Assign(ctx, shipperS1, l.ID, "C1", "")
	require.NoError(t, err)
	_, err = f.engine.Assign(ctx, shipperS1, l.ID, "C2", "")
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.engine.Cancel(ctx, shipperS1, l.ID, "")
	require.NoError(t, err)
	_, err = f.engine.Assign(ctx, shipperS1, l.ID, "C2", "")
	require.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestEngine_Assign_ConcurrentSameCarrier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	loads := make([]*models.Load, n)
	for i := range loads {
		loads[i] = f.create(t, shipperS1, "Chicago", "Dallas", "2026-03-01", "2026-03-03")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range loads {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Assign(ctx, shipperS1, loads[i].ID, "C1", "")
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	}
	require.Equal(t, 1, won)

	page, err := f.engine.List(ctx, carrierC1, ListQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
}

func TestEngine_Assign_ConcurrentSameLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.create(t, shipperS1, "Chicago", "Dallas", "2026-03-01", "2026-03-03")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []string{"C1", "C2"} {
		wg.Add(1)
		go func(i int, c string) {
			defer wg.Done()
			_, errs[i] = f.engine.Assign(ctx, shipperS1, l.ID, c, "")
		}(i, c)
	}
	wg.Wait()

	require.True(t, (errs[0] == nil) != (errs[1] == nil), "exactly one assignment must win: %v", errs)
	require.Len(t, f.history(t, l.ID), 2)
}

func TestEngine_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, shipperS1, "Chicago, IL", "Dallas, TX", "2026-03-01", "2026-03-03")
	b := f.create(t, shipperS1, "Houston, TX", "Chicago, IL", "2026-03-10", "2026-03-12")
	f.create(t, shipperS2, "Miami, FL", "Atlanta, GA", "2026-03-20", "2026-03-21")
	_, err := f.engine.Assign(ctx, shipperS1, a.ID, "C1", "")
	require.NoError(t, err)
	_, err = f.engine.Assign(ctx, shipperS1, b.ID, "C2", "")
	require.NoError(t, err)

	page, err := f.engine.List(ctx, shipperS1, ListQuery{Origin: "chicago"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, a.ID, page.Items[0].ID)

	page, err = f.engine.List(ctx, shipperS1, ListQuery{Destination: "CHICAGO"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, b.ID, page.Items[0].ID)

	from, to := day("2026-03-05"), day("2026-03-31")
	page, err = f.engine.List(ctx, shipperS2, ListQuery{PickupFrom: &from, PickupTo: &to})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)

	page, err = f.engine.List(ctx, shipperS1, ListQuery{Statuses: []models.LoadStatus{models.LoadStatusPending}})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)

	page, err = f.engine.List(ctx, shipperS1, ListQuery{CarrierID: "C2"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, b.ID, page.Items[0].ID)

	// total is computed under the same predicate, not the page
	page, err = f.engine.List(ctx, shipperS1, ListQuery{PageSize: 1, Page: 2})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	require.Equal(t, 2, page.Page)

	page, err = f.engine.List(ctx, shipperS1, ListQuery{})
	require.NoError(t, err)
	require.Equal(t, DefaultPageSize, page.PageSize)
}

func TestEngine_List_CarrierScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, shipperS1, "Chicago", "Dallas", "2026-03-01", "2026-03-03")
	b := f.create(t, shipperS1, "Chicago", "Dallas", "2026-03-01", "2026-03-03")
	f.create(t, shipperS1, "Chicago", "Dallas", "2026-03-01", "2026-03-03")
	_, err := f.engine.Assign(ctx, shipperS1, a.ID, "C1", "")
	require.NoError(t, err)
	_, err = f.engine.Assign(ctx, shipperS1, b.ID, "C2", "")
	require.NoError(t, err)

	for _, q := range []ListQuery{
		{},
		{CarrierID: "C2"},
		{ShipperID: "S1"},
		{Origin: "Chicago", CarrierID: "C2"},
	} {
		page, err := f.engine.List(ctx, carrierC1, q)
		require.NoError(t, err)
		require.Equal(t, 1, page.Total)
		for _, l := range page.Items {
			require.Equal(t, "C1", *l.CarrierID)
		}
	}

	_, err = f.engine.Get(ctx, carrierC1, b.ID)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = f.engine.History(ctx, carrierC1, b.ID, 10, 0)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	got, err := f.engine.Get(ctx, carrierC1, a.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
}

func TestEngine_WithPageSizes(t *testing.T) {
	e := New(memstore.New(), audit.NewRecorder(), "").WithPageSizes(20, 10)
	require.Equal(t, 20, e.defaultPageSize)
	require.Equal(t, 20, e.maxPageSize)

	page, err := e.List(context.Background(), shipperS1, ListQuery{PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, 20, page.PageSize)
	require.Empty(t, page.Items)
}
