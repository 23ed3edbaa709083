package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
	"github.com/BarnabyWild/logistack-sub000/internal/storage"
)

// ClaimDueEvents leases up to limit unpublished events whose next attempt is
// due, pushing their next attempt to now+lease. Per key only the run of due
// events starting at the earliest unpublished one is taken, so a key whose
// head is leased or backed off hands out nothing.
func (s *Store) ClaimDueEvents(_ context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	pending := map[string][]models.OutboxEvent{}
	for _, id := range s.st.outboxOrder {
		e := s.st.outbox[id]
		if e.PublishedAt != nil {
			continue
		}
		if _, ok := pending[e.Key]; !ok {
			keys = append(keys, e.Key)
		}
		pending[e.Key] = append(pending[e.Key], e)
	}

	var heads []string
	for _, k := range keys {
		if !pending[k][0].NextAttemptAt.After(now) {
			heads = append(heads, k)
		}
	}
	sort.SliceStable(heads, func(i, j int) bool {
		return pending[heads[i]][0].NextAttemptAt.Before(pending[heads[j]][0].NextAttemptAt)
	})

	var out []*models.OutboxEvent
	for _, k := range heads {
		for _, e := range pending[k] {
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
			if e.NextAttemptAt.After(now) {
				break
			}
			e.NextAttemptAt = now.Add(lease)
			s.st.outbox[e.ID] = e
			c := e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) MarkEventPublished(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.st.outbox[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.PublishedAt = &at
	e.Attempts++
	e.LastError = nil
	s.st.outbox[id] = e
	return nil
}

func (s *Store) MarkEventFailed(_ context.Context, id string, nextAttemptAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.st.outbox[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.Attempts++
	e.NextAttemptAt = nextAttemptAt
	e.LastError = &errMsg
	s.st.outbox[id] = e
	return nil
}

// Outbox returns a copy of all events in the order they were enqueued.
func (s *Store) Outbox() []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.OutboxEvent, 0, len(s.st.outboxOrder))
	for _, id := range s.st.outboxOrder {
		out = append(out, s.st.outbox[id])
	}
	return out
}

// RescheduleEvent moves the next attempt without counting a failure.
func (s *Store) RescheduleEvent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.st.outbox[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.NextAttemptAt = at
	s.st.outbox[id] = e
	return nil
}
