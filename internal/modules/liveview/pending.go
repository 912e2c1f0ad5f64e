// README: Pending queue projection for helpers with accept and resync on conflict.
package liveview

import (
	"context"
	"errors"
	"fmt"

	"roadhelper/internal/modules/location"
	"roadhelper/internal/modules/riderequest"
	"roadhelper/internal/types"
)

type PendingService interface {
	SubscribePending(ctx context.Context, fn func([]*riderequest.RideRequest)) *riderequest.Subscription
	Accept(ctx context.Context, cmd riderequest.AcceptCommand) error
}

// Helper identifies the helper session owning a pending queue.
type Helper struct {
	ID   types.ID
	Name string
}

// PendingFilter narrows the queue client-side. Empty ServiceTypes keeps every
// type; a nil Origin or non-positive RadiusKm disables the distance check.
type PendingFilter struct {
	ServiceTypes []riderequest.ServiceType
	Origin       *types.Location
	RadiusKm     float64
}

func (f PendingFilter) keep(r *riderequest.RideRequest) bool {
	if len(f.ServiceTypes) > 0 {
		found := false
		for _, t := range f.ServiceTypes {
			if t == r.ServiceType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Origin != nil && !location.WithinRadius(*f.Origin, r.Location, f.RadiusKm) {
		return false
	}
	return true
}

type PendingQueue struct {
	view
	svc    PendingService
	helper Helper
	filter PendingFilter
	ctx    context.Context // guarded by view.mu

	raw []*riderequest.RideRequest // last unfiltered snapshot, guarded by view.mu
}

func NewPendingQueue(svc PendingService, helper Helper, filter PendingFilter, sink Sink) *PendingQueue {
	return &PendingQueue{view: view{sink: sink}, svc: svc, helper: helper, filter: filter}
}

// Start subscribes to the pending feed. ctx bounds the subscription.
func (q *PendingQueue) Start(ctx context.Context) {
	q.mu.Lock()
	q.ctx = ctx
	q.mu.Unlock()
	q.attach(q.svc.SubscribePending(ctx, q.onSnapshot))
}

func (q *PendingQueue) onSnapshot(rs []*riderequest.RideRequest) {
	q.locked(func() {
		q.raw = rs
		q.sink.Render(stateList(q.visible()))
	})
}

// visible must run under view.mu.
func (q *PendingQueue) visible() []*riderequest.RideRequest {
	out := make([]*riderequest.RideRequest, 0, len(q.raw))
	for _, r := range q.raw {
		if q.filter.keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Requests returns the currently displayed requests.
func (q *PendingQueue) Requests() []*riderequest.RideRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.visible()
}

// MoveTo updates the helper position used for the radius filter and re-renders.
func (q *PendingQueue) MoveTo(loc types.Location) {
	q.locked(func() {
		q.filter.Origin = &loc
		q.sink.Render(stateList(q.visible()))
	})
}

// Accept claims requestID for the session's helper. On success a navigate
// frame is emitted; on conflict the request is dropped locally, a notice is
// shown and the queue resubscribes so it converges on the store.
func (q *PendingQueue) Accept(ctx context.Context, requestID types.ID, helperLocation *types.Location) error {
	if helperLocation == nil {
		q.mu.Lock()
		helperLocation = q.filter.Origin
		q.mu.Unlock()
	}
	err := q.svc.Accept(ctx, riderequest.AcceptCommand{
		RequestID:      requestID,
		HelperID:       q.helper.ID,
		HelperName:     q.helper.Name,
		HelperLocation: helperLocation,
		Actor:          riderequest.Actor{ID: q.helper.ID, Role: riderequest.RoleHelper},
	})
	switch {
	case err == nil:
		q.emit(navigate(requestID))
	case errors.Is(err, riderequest.ErrConflict), errors.Is(err, riderequest.ErrNotFound):
		q.locked(func() {
			q.raw = without(q.raw, requestID)
			q.sink.Render(notice(noticeUnavailable))
			q.sink.Render(stateList(q.visible()))
		})
		q.resync()
	default:
		q.emit(notice(fmt.Sprintf("Could not accept request: %v", err)))
	}
	return err
}

func (q *PendingQueue) resync() {
	if old := q.detach(); old != nil {
		old.Unsubscribe()
	}
	q.mu.Lock()
	ctx := q.ctx
	q.mu.Unlock()
	if ctx == nil {
		return
	}
	q.attach(q.svc.SubscribePending(ctx, q.onSnapshot))
}

func without(rs []*riderequest.RideRequest, id types.ID) []*riderequest.RideRequest {
	out := make([]*riderequest.RideRequest, 0, len(rs))
	for _, r := range rs {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
