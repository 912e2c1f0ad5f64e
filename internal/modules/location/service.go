// README: Location service tracks which helpers are online and where.
package location

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"roadhelper/internal/types"
)

type Service struct {
	store PresenceStore
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store PresenceStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// GoOnline publishes or refreshes a helper's presence.
func (s *Service) GoOnline(ctx context.Context, p HelperPresence) error {
	if p.HelperID == "" {
		return fmt.Errorf("%w: helperId is required", ErrInvalidPresence)
	}
	if !p.Position.Valid() {
		return fmt.Errorf("%w: position must have numeric lat/lng coordinates", ErrInvalidPresence)
	}
	p.ServiceTypes = normalizeServices(p.ServiceTypes)
	p.UpdatedAt = s.now()
	if err := s.store.Upsert(ctx, p); err != nil {
		s.log.Error("helper go online", "helper_id", p.HelperID, "error", err)
		return err
	}
	return nil
}

func (s *Service) GoOffline(ctx context.Context, helperID types.ID) error {
	if helperID == "" {
		return fmt.Errorf("%w: helperId is required", ErrInvalidPresence)
	}
	if err := s.store.Remove(ctx, helperID); err != nil {
		s.log.Error("helper go offline", "helper_id", helperID, "error", err)
		return err
	}
	return nil
}

// NearbyHelpers lists online helpers within radiusKm of point, closest first.
// A non-positive limit returns every match.
func (s *Service) NearbyHelpers(ctx context.Context, point types.Location, radiusKm float64, limit int) ([]NearbyHelper, error) {
	if !point.Valid() || radiusKm <= 0 {
		return nil, fmt.Errorf("%w: invalid search area", ErrInvalidPresence)
	}
	return s.store.Nearby(ctx, point, radiusKm, limit)
}

func normalizeServices(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
