// README: Helper presence (online position, device token, serviced types).
package location

import (
	"errors"
	"time"

	"roadhelper/internal/types"
)

// PresenceTTL is how long a helper stays online without a refresh.
const PresenceTTL = 10 * time.Minute

var ErrInvalidPresence = errors.New("invalid helper presence")

// HelperPresence is what an online helper publishes while available for work.
type HelperPresence struct {
	HelperID     types.ID       `json:"helperId"`
	Position     types.Location `json:"position"`
	DeviceToken  string         `json:"deviceToken,omitempty"`
	ServiceTypes []string       `json:"serviceTypes"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Serves reports whether the helper offers serviceType. A helper that lists no
// types is treated as offering all of them.
func (p HelperPresence) Serves(serviceType string) bool {
	if len(p.ServiceTypes) == 0 {
		return true
	}
	for _, t := range p.ServiceTypes {
		if t == serviceType {
			return true
		}
	}
	return false
}

// NearbyHelper is a presence annotated with its distance from a query point.
type NearbyHelper struct {
	HelperPresence
	DistanceKm float64 `json:"distanceKm"`
}
