// README: Google Maps helpers for request addresses and helper ETAs.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"roadhelper/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// NewClient builds a Google Maps client for the given API key.
func NewClient(apiKey string) (*maps.Client, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

// Estimate is the driving time and distance between two points.
type Estimate struct {
	Duration       time.Duration `json:"-"`
	DurationSec    int64         `json:"durationSeconds"`
	DistanceMeters int           `json:"distanceMeters"`
	DistanceText   string        `json:"distanceText"`
}

// RouteService answers "how far is the helper" questions.
type RouteService struct {
	client *maps.Client
}

func NewRouteService(client *maps.Client) *RouteService {
	return &RouteService{client: client}
}

// ETA returns the driving estimate from origin to destination.
func (s *RouteService) ETA(ctx context.Context, origin, destination types.Location) (Estimate, error) {
	routes, _, err := s.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        maps.TravelModeDriving,
	})
	if err != nil {
		return Estimate{}, fmt.Errorf("maps api error: %w", err)
	}
	return estimateFrom(routes)
}

func estimateFrom(routes []maps.Route) (Estimate, error) {
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Estimate{}, ErrNoRoute
	}
	leg := routes[0].Legs[0]
	return Estimate{
		Duration:       leg.Duration,
		DurationSec:    int64(leg.Duration / time.Second),
		DistanceMeters: leg.Distance.Meters,
		DistanceText:   leg.Distance.HumanReadable,
	}, nil
}

func latLng(l types.Location) string {
	return strconv.FormatFloat(l.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(l.Lng, 'f', 6, 64)
}
