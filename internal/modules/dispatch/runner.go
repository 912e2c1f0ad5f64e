// README: Dispatch runner announces new pending requests to nearby helpers.
package dispatch

import (
	"context"
	"log/slog"

	"roadhelper/internal/modules/location"
	"roadhelper/internal/modules/riderequest"
	"roadhelper/internal/observability"
	"roadhelper/internal/types"
)

type PendingFeed interface {
	SubscribePending(ctx context.Context, fn func([]*riderequest.RideRequest)) *riderequest.Subscription
}

type HelperFinder interface {
	NearbyHelpers(ctx context.Context, point types.Location, radiusKm float64, limit int) ([]location.NearbyHelper, error)
}

type Runner struct {
	feed     PendingFeed
	helpers  HelperFinder
	ledger   Ledger
	notifier Notifier
	cfg      Config
	log      *slog.Logger

	seen map[types.ID]bool // only touched by the Run goroutine
}

func NewRunner(feed PendingFeed, helpers HelperFinder, ledger Ledger, notifier Notifier, cfg Config, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxHelpers <= 0 {
		cfg.MaxHelpers = 5
	}
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = 10
	}
	return &Runner{
		feed:     feed,
		helpers:  helpers,
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		seen:     make(map[types.ID]bool),
	}
}

// Run follows the pending feed until ctx is done. Snapshots that arrive while
// a previous one is being handled are coalesced to the latest.
func (r *Runner) Run(ctx context.Context) error {
	snaps := make(chan []*riderequest.RideRequest, 1)
	sub := r.feed.SubscribePending(ctx, func(rs []*riderequest.RideRequest) { offerLatest(snaps, rs) })
	defer sub.Unsubscribe()

	r.log.Info("dispatch runner started", "radius_km", r.cfg.RadiusKm, "max_helpers", r.cfg.MaxHelpers)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return sub.Err()
		case rs := <-snaps:
			r.handle(ctx, rs)
		}
	}
}

func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (r *Runner) handle(ctx context.Context, pending []*riderequest.RideRequest) {
	current := make(map[types.ID]bool, len(pending))
	for _, req := range pending {
		current[req.ID] = true
		if r.seen[req.ID] {
			continue
		}
		if r.dispatch(ctx, req) {
			r.seen[req.ID] = true
		}
	}
	// requests never return to pending, so anything that left can be forgotten
	for id := range r.seen {
		if !current[id] {
			delete(r.seen, id)
		}
	}
}

// dispatch reports whether the request is settled; false means it should be
// retried with the next snapshot.
func (r *Runner) dispatch(ctx context.Context, req *riderequest.RideRequest) bool {
	nearby, err := r.helpers.NearbyHelpers(ctx, req.Location, r.cfg.RadiusKm, r.cfg.MaxHelpers*poolFactor)
	if err != nil {
		r.log.Error("dispatch nearby helpers", "request_id", req.ID, "error", err)
		observability.Dispatched.WithLabelValues("error").Inc()
		return false
	}

	picked := make([]location.NearbyHelper, 0, r.cfg.MaxHelpers)
	for _, h := range nearby {
		if !h.Serves(string(req.ServiceType)) {
			continue
		}
		picked = append(picked, h)
		if len(picked) == r.cfg.MaxHelpers {
			break
		}
	}
	ids := make([]types.ID, len(picked))
	for i, h := range picked {
		ids[i] = h.HelperID
	}

	first, err := r.ledger.MarkDispatched(ctx, req.ID, ids)
	if err != nil {
		r.log.Error("dispatch ledger", "request_id", req.ID, "error", err)
		if !first {
			observability.Dispatched.WithLabelValues("error").Inc()
			return false
		}
	}
	if !first {
		observability.Dispatched.WithLabelValues("duplicate").Inc()
		return true
	}
	if len(picked) == 0 {
		r.log.Info("no helpers nearby", "request_id", req.ID, "service_type", req.ServiceType)
		observability.Dispatched.WithLabelValues("no_helpers").Inc()
		return true
	}

	notice := Notice{
		RequestID:   req.ID,
		ServiceType: string(req.ServiceType),
		Location:    req.Location,
	}
	if req.CustomerName != nil {
		notice.CustomerName = *req.CustomerName
	}
	for _, h := range picked {
		if h.DeviceToken == "" {
			observability.Dispatched.WithLabelValues("no_token").Inc()
			continue
		}
		notice.DistanceKm = h.DistanceKm
		if err := r.notifier.NotifyNewRequest(ctx, h.DeviceToken, notice); err != nil {
			r.log.Warn("notify helper", "request_id", req.ID, "helper_id", h.HelperID, "error", err)
			observability.Dispatched.WithLabelValues("failed").Inc()
			continue
		}
		observability.Dispatched.WithLabelValues("sent").Inc()
	}
	r.log.Info("request dispatched", "request_id", req.ID, "helpers", len(picked))
	return true
}
