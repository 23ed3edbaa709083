package memstore

import (
	"context"
	"sort"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
	"github.com/BarnabyWild/logistack-sub000/internal/storage"
)

func (s *Store) InsertSample(_ context.Context, smp *models.LocationSample) error {
	s.samplesMu.Lock()
	defer s.samplesMu.Unlock()
	s.samples[smp.LoadID] = append(s.samples[smp.LoadID], *smp)
	return nil
}

// sortedSamples returns the samples of a load, most recently recorded first.
func (s *Store) sortedSamples(loadID string) []models.LocationSample {
	s.samplesMu.RLock()
	out := append([]models.LocationSample(nil), s.samples[loadID]...)
	s.samplesMu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.After(out[j].RecordedAt)
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out
}

func (s *Store) LatestSample(_ context.Context, loadID string) (*models.LocationSample, error) {
	all := s.sortedSamples(loadID)
	if len(all) == 0 {
		return nil, storage.ErrNotFound
	}
	return &all[0], nil
}

func (s *Store) ListSamples(_ context.Context, loadID string, limit int) ([]*models.LocationSample, error) {
	all := page(s.sortedSamples(loadID), limit, 0)
	out := make([]*models.LocationSample, 0, len(all))
	for i := range all {
		out = append(out, &all[i])
	}
	return out, nil
}

func (s *Store) CountSamples(loadID string) int {
	s.samplesMu.RLock()
	defer s.samplesMu.RUnlock()
	return len(s.samples[loadID])
}
