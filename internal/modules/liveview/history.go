// README: History projection listing one customer's requests, newest first.
package liveview

import (
	"context"

	"roadhelper/internal/modules/riderequest"
	"roadhelper/internal/types"
)

type CustomerSubscriber interface {
	SubscribeByCustomer(ctx context.Context, customerID types.ID, fn func([]*riderequest.RideRequest)) *riderequest.Subscription
}

type History struct {
	view
	svc        CustomerSubscriber
	customerID types.ID
}

func NewHistory(svc CustomerSubscriber, customerID types.ID, sink Sink) *History {
	return &History{view: view{sink: sink}, svc: svc, customerID: customerID}
}

func (h *History) Start(ctx context.Context) {
	h.attach(h.svc.SubscribeByCustomer(ctx, h.customerID, func(rs []*riderequest.RideRequest) {
		h.locked(func() { h.sink.Render(stateList(rs)) })
	}))
}
