// README: Reverse geocoding used to fill missing request addresses.
package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"roadhelper/internal/types"
)

// Geocoder resolves a street address for a coordinate.
type Geocoder struct {
	client *maps.Client
}

func NewGeocoder(client *maps.Client) *Geocoder {
	return &Geocoder{client: client}
}

func (g *Geocoder) ReverseGeocode(ctx context.Context, loc types.Location) (string, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: loc.Lat, Lng: loc.Lng},
	})
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	return firstAddress(results)
}

func firstAddress(results []maps.GeocodingResult) (string, error) {
	for _, r := range results {
		if r.FormattedAddress != "" {
			return r.FormattedAddress, nil
		}
	}
	return "", fmt.Errorf("reverse geocode: no address")
}
