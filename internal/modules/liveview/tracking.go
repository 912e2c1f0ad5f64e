// README: Request tracking projection for the customer following one request.
package liveview

import (
	"context"

	"roadhelper/internal/modules/riderequest"
	"roadhelper/internal/types"
)

type OneSubscriber interface {
	SubscribeOne(ctx context.Context, id types.ID, fn func(*riderequest.RideRequest)) *riderequest.Subscription
}

type Tracking struct {
	view
	svc        OneSubscriber
	requestID  types.ID
	redirected bool
	last       riderequest.Status
}

func NewTracking(svc OneSubscriber, requestID types.ID, sink Sink) *Tracking {
	return &Tracking{view: view{sink: sink}, svc: svc, requestID: requestID}
}

func (t *Tracking) Start(ctx context.Context) {
	t.attach(t.svc.SubscribeOne(ctx, t.requestID, t.onSnapshot))
}

// onSnapshot renders the request with its step and emits a single navigate
// frame once a helper is assigned. Snapshots coalesce, so a view that saw the
// request pending also redirects when the next snapshot is already past accepted.
func (t *Tracking) onSnapshot(r *riderequest.RideRequest) {
	t.locked(func() {
		if r == nil {
			t.sink.Render(notice(noticeNotFound))
			return
		}
		step := riderequest.Step(r.Status)
		t.sink.Render(Frame{Type: FrameState, Request: r, Step: &step})
		if !t.redirected && t.assigned(r) {
			t.redirected = true
			t.sink.Render(navigate(r.ID))
		}
		t.last = r.Status
	})
}

func (t *Tracking) assigned(r *riderequest.RideRequest) bool {
	if r.HelperID == nil {
		return false
	}
	switch r.Status {
	case riderequest.StatusAccepted:
		return true
	case riderequest.StatusInProgress, riderequest.StatusCompleted:
		return t.last == riderequest.StatusPending
	}
	return false
}
