// Package memstore is an in-process implementation of the freight storage
// contract. Transactions run against a copy of the state which replaces the
// live state only when the callback succeeds; one transaction runs at a time.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
	"github.com/BarnabyWild/logistack-sub000/internal/storage"
)

type state struct {
	loads       map[string]models.Load
	history     map[string][]models.LoadHistoryEntry
	users       map[string]models.User
	outbox      map[string]models.OutboxEvent
	outboxOrder []string
}

func newState() state {
	return state{
		loads:   map[string]models.Load{},
		history: map[string][]models.LoadHistoryEntry{},
		users:   map[string]models.User{},
		outbox:  map[string]models.OutboxEvent{},
	}
}

func (s state) clone() state {
	c := state{
		loads:   maps.Clone(s.loads),
		history: make(map[string][]models.LoadHistoryEntry, len(s.history)),
		users:   maps.Clone(s.users),
		outbox:  maps.Clone(s.outbox),

		outboxOrder: slices.Clip(s.outboxOrder),
	}
	for k, v := range s.history {
		// Clip so that appends inside the transaction never write into the
		// committed backing array.
		c.history[k] = slices.Clip(v)
	}
	return c
}

type Store struct {
	mu sync.Mutex
	st state

	samplesMu sync.RWMutex
	samples   map[string][]models.LocationSample
}

func New() *Store {
	return &Store{
		st:      newState(),
		samples: map[string][]models.LocationSample{},
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.LoadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &memTx{st: &work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type memTx struct {
	st *state
}

func (t *memTx) InsertLoad(_ context.Context, l *models.Load) error {
	t.st.loads[l.ID] = cloneLoad(*l)
	return nil
}

func (t *memTx) GetLoadForUpdate(_ context.Context, id string) (*models.Load, error) {
	l, ok := t.st.loads[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := cloneLoad(l)
	return &out, nil
}

func (t *memTx) UpdateLoadStatus(_ context.Context, id string, expected, to models.LoadStatus, carrierID *string, at time.Time) (bool, error) {
	l, ok := t.st.loads[id]
	if !ok || l.Status != expected {
		return false, nil
	}
	l.Status = to
	l.UpdatedAt = at
	if carrierID != nil {
		c := *carrierID
		l.CarrierID = &c
	}
	t.st.loads[id] = l
	return true, nil
}

func (t *memTx) LockUser(_ context.Context, id string) (*models.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (t *memTx) FindScheduleConflict(_ context.Context, carrierID string, pickup, delivery time.Time, excludeLoadID string) (*models.Load, error) {
	ids := slices.Sorted(maps.Keys(t.st.loads))
	for _, id := range ids {
		l := t.st.loads[id]
		if l.ID == excludeLoadID || !l.AssignedTo(carrierID) {
			continue
		}
		if l.Status != models.LoadStatusAssigned && l.Status != models.LoadStatusInTransit {
			continue
		}
		if !l.PickupDate.After(delivery) && !pickup.After(l.DeliveryDate) {
			out := cloneLoad(l)
			return &out, nil
		}
	}
	return nil, nil
}

func (t *memTx) AppendHistory(_ context.Context, e models.LoadHistoryEntry) error {
	if _, ok := t.st.loads[e.LoadID]; !ok {
		return storage.ErrNotFound
	}
	t.st.history[e.LoadID] = append(t.st.history[e.LoadID], e)
	return nil
}

func (t *memTx) EnqueueEvent(_ context.Context, e models.OutboxEvent) error {
	if _, ok := t.st.outbox[e.ID]; !ok {
		t.st.outboxOrder = append(t.st.outboxOrder, e.ID)
	}
	t.st.outbox[e.ID] = e
	return nil
}

func (s *Store) GetLoad(_ context.Context, id string) (*models.Load, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.st.loads[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := cloneLoad(l)
	return &out, nil
}

func (s *Store) ListLoads(_ context.Context, f models.LoadFilter) ([]*models.Load, int, error) {
	s.mu.Lock()
	var matched []models.Load
	for _, l := range s.st.loads {
		if matches(l, f) {
			matched = append(matched, cloneLoad(l))
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start := min(max(f.Offset, 0), total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	out := make([]*models.Load, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, &matched[i])
	}
	return out, total, nil
}

func matches(l models.Load, f models.LoadFilter) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, l.Status) {
		return false
	}
	if f.ShipperID != "" && l.ShipperID != f.ShipperID {
		return false
	}
	if f.CarrierID != "" && !l.AssignedTo(f.CarrierID) {
		return false
	}
	if f.Origin != "" && !containsFold(l.Origin, f.Origin) {
		return false
	}
	if f.Destination != "" && !containsFold(l.Destination, f.Destination) {
		return false
	}
	if !inRange(l.PickupDate, f.PickupFrom, f.PickupTo) {
		return false
	}
	return inRange(l.DeliveryDate, f.DeliveryFrom, f.DeliveryTo)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func (s *Store) ListHistory(_ context.Context, loadID string, limit, offset int) ([]*models.LoadHistoryEntry, error) {
	s.mu.Lock()
	entries := s.st.history[loadID]
	s.mu.Unlock()

	out := make([]*models.LoadHistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		out = append(out, &e)
	}
	return page(out, limit, offset), nil
}

func (s *Store) UpsertUser(_ context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.st.users[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
	}
	s.st.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func page[T any](items []T, limit, offset int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 {
		end = min(start+limit, len(items))
	}
	return items[start:end]
}

func cloneLoad(l models.Load) models.Load {
	if l.CarrierID != nil {
		c := *l.CarrierID
		l.CarrierID = &c
	}
	return l
}
