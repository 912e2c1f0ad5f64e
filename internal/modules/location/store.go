// README: Helper presence store backed by Redis GEO plus a per-helper hash.
package location

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"roadhelper/internal/types"
)

const (
	helperGeoKey       = "geo:helpers"
	helperPresenceKey  = "helper:%s:presence"
	presenceTimeLayout = time.RFC3339Nano
)

// PresenceStore keeps the set of online helpers.
type PresenceStore interface {
	Upsert(ctx context.Context, p HelperPresence) error
	Remove(ctx context.Context, helperID types.ID) error
	Nearby(ctx context.Context, origin types.Location, radiusKm float64, limit int) ([]NearbyHelper, error)
}

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// Upsert writes the GEO member and the presence hash. The hash expires after
// PresenceTTL; a GEO member without a hash is treated as offline.
func (s *Store) Upsert(ctx context.Context, p HelperPresence) error {
	key := presenceKey(p.HelperID)
	pipe := s.redis.TxPipeline()
	pipe.GeoAdd(ctx, helperGeoKey, &redis.GeoLocation{
		Name:      string(p.HelperID),
		Longitude: p.Position.Lng,
		Latitude:  p.Position.Lat,
	})
	pipe.HSet(ctx, key, map[string]any{
		"lat":          strconv.FormatFloat(p.Position.Lat, 'f', -1, 64),
		"lng":          strconv.FormatFloat(p.Position.Lng, 'f', -1, 64),
		"device_token": p.DeviceToken,
		"services":     strings.Join(p.ServiceTypes, ","),
		"updated_at":   p.UpdatedAt.UTC().Format(presenceTimeLayout),
	})
	pipe.Expire(ctx, key, PresenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert presence %s: %w", p.HelperID, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, helperID types.ID) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, helperGeoKey, string(helperID))
	pipe.Del(ctx, presenceKey(helperID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove presence %s: %w", helperID, err)
	}
	return nil
}

// Nearby returns online helpers within radiusKm of origin, closest first.
// Expired members found along the way are pruned from the GEO set.
func (s *Store) Nearby(ctx context.Context, origin types.Location, radiusKm float64, limit int) ([]NearbyHelper, error) {
	hits, err := s.redis.GeoSearchLocation(ctx, helperGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  origin.Lng,
			Latitude:   origin.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(hits))
	for i, h := range hits {
		cmds[i] = pipe.HGetAll(ctx, presenceKey(types.ID(h.Name)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load presence: %w", err)
	}

	out := make([]NearbyHelper, 0, len(hits))
	var stale []any
	for i, h := range hits {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			stale = append(stale, h.Name)
			continue
		}
		out = append(out, NearbyHelper{
			HelperPresence: decodePresence(types.ID(h.Name), fields),
			DistanceKm:     h.Dist,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if len(stale) > 0 {
		// best effort; the next search prunes whatever is left
		_ = s.redis.ZRem(ctx, helperGeoKey, stale...).Err()
	}
	return out, nil
}

func decodePresence(id types.ID, f map[string]string) HelperPresence {
	p := HelperPresence{HelperID: id, DeviceToken: f["device_token"]}
	p.Position.Lat, _ = strconv.ParseFloat(f["lat"], 64)
	p.Position.Lng, _ = strconv.ParseFloat(f["lng"], 64)
	if svc := f["services"]; svc != "" {
		p.ServiceTypes = strings.Split(svc, ",")
	}
	p.UpdatedAt, _ = time.Parse(presenceTimeLayout, f["updated_at"])
	return p
}

func presenceKey(id types.ID) string {
	return fmt.Sprintf(helperPresenceKey, string(id))
}
