// README: Document store contract for the ride_requests collection.
package riderequest

import (
	"context"

	"roadhelper/internal/types"
)

// Store is the document store collaborator. Implementations assign ids and
// timestamps themselves and apply Update atomically.
type Store interface {
	Create(ctx context.Context, r *RideRequest) (types.ID, error)
	Get(ctx context.Context, id types.ID) (*RideRequest, error)
	// Update applies patch only if cond holds for the current document.
	// It reports false without error when the condition does not hold.
	Update(ctx context.Context, id types.ID, cond Condition, patch Patch) (bool, error)
	// WatchOne calls fn with the current document (nil when absent) and again on
	// every change until ctx is done.
	WatchOne(ctx context.Context, id types.ID, fn func(*RideRequest)) error
	// WatchQuery calls fn with the full matching set, newest first, and again
	// whenever that set changes, until ctx is done.
	WatchQuery(ctx context.Context, q Query, fn func([]*RideRequest)) error
}

// Condition is the precondition of a conditional write.
type Condition struct {
	Statuses   []Status // current status must be one of these
	Version    *int     // when set, StatusVersion must match
	Unassigned bool     // when set, HelperID must be nil
}

func (c Condition) Holds(r *RideRequest) bool {
	if len(c.Statuses) > 0 {
		found := false
		for _, s := range c.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.Version != nil && r.StatusVersion != *c.Version {
		return false
	}
	if c.Unassigned && r.HelperID != nil {
		return false
	}
	return true
}

// Patch is the whitelist of fields a mutation may touch. Nil pointers leave
// the stored value unchanged. UpdatedAt is always refreshed.
type Patch struct {
	Status           *Status
	HelperID         *types.ID
	HelperName       *string
	HelperLocation   *types.Location
	CustomerLocation *types.Location
	StampAccepted    bool
	StampCompleted   bool
}

// Query selects ride requests for a live list. Results are ordered by
// CreatedAt descending.
type Query struct {
	Status     Status
	CustomerID types.ID
}

func (q Query) Matches(r *RideRequest) bool {
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.CustomerID != "" && r.CustomerID != q.CustomerID {
		return false
	}
	return true
}
