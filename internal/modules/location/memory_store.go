// README: In-process presence store for local runs without Redis.
package location

import (
	"context"
	"sync"
	"time"

	"roadhelper/internal/types"
)

type MemoryStore struct {
	mu      sync.Mutex
	helpers map[types.ID]HelperPresence
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{helpers: make(map[types.ID]HelperPresence), now: time.Now}
}

func (s *MemoryStore) Upsert(_ context.Context, p HelperPresence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ServiceTypes = append([]string(nil), p.ServiceTypes...)
	s.helpers[p.HelperID] = p
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, helperID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.helpers, helperID)
	return nil
}

func (s *MemoryStore) Nearby(_ context.Context, origin types.Location, radiusKm float64, limit int) ([]NearbyHelper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-PresenceTTL)
	var out []NearbyHelper
	for id, p := range s.helpers {
		if p.UpdatedAt.Before(cutoff) {
			delete(s.helpers, id)
			continue
		}
		d := DistanceKm(origin, p.Position)
		if d > radiusKm {
			continue
		}
		out = append(out, NearbyHelper{HelperPresence: p, DistanceKm: d})
	}
	sortByDistance(out, func(h NearbyHelper) float64 { return h.DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
