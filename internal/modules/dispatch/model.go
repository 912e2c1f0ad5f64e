// README: Dispatch notices and tuning for notifying nearby helpers.
package dispatch

import (
	"time"

	"roadhelper/internal/types"
)

const (
	// ledgerTTL bounds how long dispatch records are kept; pending requests
	// resolve well within a day.
	ledgerTTL = 24 * time.Hour
	// poolFactor widens the nearby search so service-type filtering still
	// leaves enough helpers to notify.
	poolFactor = 3
)

// Config tunes how far and how wide a new request is announced.
type Config struct {
	RadiusKm   float64
	MaxHelpers int
}

// Notice is the payload pushed to a helper's device for a new request.
type Notice struct {
	RequestID    types.ID
	ServiceType  string
	Location     types.Location
	CustomerName string
	DistanceKm   float64
}
