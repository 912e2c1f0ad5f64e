// README: Ride request service implements the lifecycle rules over the document store.
package riderequest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"roadhelper/internal/observability"
	"roadhelper/internal/types"
)

// Geocoder resolves a human-readable address for a coordinate.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, loc types.Location) (string, error)
}

type Service struct {
	store    Store
	events   EventLog
	geocoder Geocoder
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithEventLog(l EventLog) Option { return func(s *Service) { s.events = l } }

func WithGeocoder(g Geocoder) Option { return func(s *Service) { s.geocoder = g } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

type CreateCommand struct {
	CustomerID       types.ID
	CustomerName     string
	ServiceType      ServiceType
	Location         *types.Location
	VehicleDetails   string
	IssueDescription string
}

type AcceptCommand struct {
	RequestID      types.ID
	HelperID       types.ID
	HelperName     string
	HelperLocation *types.Location
	Actor          Actor
}

type UpdateStatusCommand struct {
	RequestID        types.ID
	Status           Status
	HelperLocation   *types.Location
	CustomerLocation *types.Location
	Actor            Actor
}

type UpdateLocationsCommand struct {
	RequestID        types.ID
	HelperLocation   *types.Location
	CustomerLocation *types.Location
	Actor            Actor
}

func (c CreateCommand) validate() error {
	switch {
	case c.CustomerID == "":
		return missing("customerId")
	case c.ServiceType == "":
		return missing("serviceType")
	case !c.ServiceType.Valid():
		return invalid("serviceType", "is not a known service type")
	case c.Location == nil:
		return missing("location")
	case !c.Location.Valid():
		return invalid("location", "must have numeric lat/lng coordinates")
	case strings.TrimSpace(c.VehicleDetails) == "":
		return missing("vehicleDetails")
	case strings.TrimSpace(c.IssueDescription) == "":
		return missing("issueDescription")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	if err := cmd.validate(); err != nil {
		return "", err
	}

	loc := *cmd.Location
	if loc.Address == "" && s.geocoder != nil {
		addr, err := s.geocoder.ReverseGeocode(ctx, loc)
		if err != nil {
			s.log.Warn("reverse geocode failed", "customer_id", cmd.CustomerID, "error", err)
		} else {
			loc.Address = addr
		}
	}
	customerLoc := loc

	r := &RideRequest{
		CustomerID:       cmd.CustomerID,
		ServiceType:      cmd.ServiceType,
		Status:           StatusPending,
		Location:         loc,
		CustomerLocation: &customerLoc,
		VehicleDetails:   strings.TrimSpace(cmd.VehicleDetails),
		IssueDescription: strings.TrimSpace(cmd.IssueDescription),
	}
	if name := strings.TrimSpace(cmd.CustomerName); name != "" {
		r.CustomerName = &name
	}

	id, err := s.store.Create(ctx, r)
	if err != nil {
		s.log.Error("create ride request", "customer_id", cmd.CustomerID, "error", err)
		return "", err
	}
	observability.RequestsCreated.WithLabelValues(string(cmd.ServiceType)).Inc()
	s.appendEvent(ctx, id, StatusNone, StatusPending, Actor{ID: cmd.CustomerID, Role: RoleCustomer})
	return id, nil
}

// Accept assigns the helper with a conditional write: it only applies while
// the request is still pending and unassigned, so concurrent accepts resolve
// to exactly one winner and ErrConflict for everyone else.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) error {
	if cmd.RequestID == "" {
		return missing("requestId")
	}
	if cmd.HelperID == "" {
		return missing("helperId")
	}
	if cmd.HelperLocation != nil && !cmd.HelperLocation.Valid() {
		return invalid("helperLocation", "must have numeric lat/lng coordinates")
	}
	if !cmd.Actor.privileged() && (cmd.Actor.role() != RoleHelper || cmd.Actor.ID != cmd.HelperID) {
		return ErrForbidden
	}

	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return err
	}
	if r.Status != StatusPending || r.HelperID != nil {
		s.conflict(r, StatusAccepted)
		return ErrConflict
	}

	to := StatusAccepted
	helperID := cmd.HelperID
	patch := Patch{
		Status:         &to,
		HelperID:       &helperID,
		HelperLocation: cmd.HelperLocation,
		StampAccepted:  true,
	}
	if name := strings.TrimSpace(cmd.HelperName); name != "" {
		patch.HelperName = &name
	}
	cond := Condition{
		Statuses:   []Status{StatusPending},
		Version:    &r.StatusVersion,
		Unassigned: true,
	}
	ok, err := s.store.Update(ctx, r.ID, cond, patch)
	if err != nil {
		s.log.Error("accept ride request", "request_id", r.ID, "helper_id", cmd.HelperID, "error", err)
		return err
	}
	if !ok {
		s.conflict(r, StatusAccepted)
		return ErrConflict
	}
	observability.Transitions.WithLabelValues(string(StatusAccepted)).Inc()
	s.appendEvent(ctx, r.ID, StatusPending, StatusAccepted, Actor{ID: cmd.HelperID, Role: RoleHelper})
	return nil
}

// UpdateStatus moves a request along the lifecycle graph. Acceptance is only
// possible through Accept because it must assign a helper.
func (s *Service) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) error {
	if cmd.RequestID == "" {
		return missing("requestId")
	}
	if !cmd.Status.Valid() {
		return invalid("status", "is not a known status")
	}
	if err := validLocations(cmd.HelperLocation, cmd.CustomerLocation); err != nil {
		return err
	}

	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return err
	}
	if cmd.Status == StatusAccepted || !CanTransition(r.Status, cmd.Status) {
		err := invalidTransition(r.Status, cmd.Status)
		s.log.Warn("rejected status transition", "request_id", r.ID, "from", r.Status, "to", cmd.Status, "actor", cmd.Actor.ID)
		return err
	}
	if !cmd.Actor.canTransition(r, cmd.Status) {
		return ErrForbidden
	}
	if err := cmd.Actor.canMoveLocations(r, cmd.HelperLocation, cmd.CustomerLocation); err != nil {
		return err
	}

	to := cmd.Status
	patch := Patch{
		Status:           &to,
		HelperLocation:   cmd.HelperLocation,
		CustomerLocation: cmd.CustomerLocation,
		StampCompleted:   to == StatusCompleted,
	}
	cond := Condition{Statuses: []Status{r.Status}, Version: &r.StatusVersion}
	ok, err := s.store.Update(ctx, r.ID, cond, patch)
	if err != nil {
		s.log.Error("update status", "request_id", r.ID, "from", r.Status, "to", to, "error", err)
		return err
	}
	if !ok {
		s.conflict(r, to)
		return ErrConflict
	}
	observability.Transitions.WithLabelValues(string(to)).Inc()
	s.appendEvent(ctx, r.ID, r.Status, to, cmd.Actor)
	return nil
}

// UpdateLocations refreshes live coordinates while the request is not terminal.
func (s *Service) UpdateLocations(ctx context.Context, cmd UpdateLocationsCommand) error {
	if cmd.RequestID == "" {
		return missing("requestId")
	}
	if cmd.HelperLocation == nil && cmd.CustomerLocation == nil {
		return missing("location")
	}
	if err := validLocations(cmd.HelperLocation, cmd.CustomerLocation); err != nil {
		return err
	}

	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return err
	}
	if IsTerminal(r.Status) {
		return fmt.Errorf("%w: %s request has no live locations", ErrInvalidTransition, r.Status)
	}
	if err := cmd.Actor.canMoveLocations(r, cmd.HelperLocation, cmd.CustomerLocation); err != nil {
		return err
	}

	cond := Condition{Statuses: activeStatuses}
	if cmd.HelperLocation != nil {
		// the helper must still be the one assigned when the write lands
		cond.Statuses = []Status{StatusAccepted, StatusInProgress}
	}
	ok, err := s.store.Update(ctx, r.ID, cond, Patch{
		HelperLocation:   cmd.HelperLocation,
		CustomerLocation: cmd.CustomerLocation,
	})
	if err != nil {
		s.log.Error("update locations", "request_id", r.ID, "error", err)
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

func (a Actor) canMoveLocations(r *RideRequest, helper, customer *types.Location) error {
	if helper != nil {
		if r.HelperID == nil {
			return invalid("helperLocation", "cannot be set before a helper accepts")
		}
		if !a.privileged() && !a.isHelperOf(r) {
			return ErrForbidden
		}
	}
	if customer != nil && !a.privileged() && !a.isCustomerOf(r) {
		return ErrForbidden
	}
	return nil
}

func validLocations(helper, customer *types.Location) error {
	if helper != nil && !helper.Valid() {
		return invalid("helperLocation", "must have numeric lat/lng coordinates")
	}
	if customer != nil && !customer.Valid() {
		return invalid("customerLocation", "must have numeric lat/lng coordinates")
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*RideRequest, error) {
	return s.store.Get(ctx, id)
}

// ListEvents returns the recorded transitions of a request, oldest first.
func (s *Service) ListEvents(ctx context.Context, id types.ID) ([]Event, error) {
	if s.events == nil {
		return []Event{}, nil
	}
	return s.events.ListEvents(ctx, id)
}

// SubscribeOne delivers the request (nil while it does not exist) immediately
// and after every change.
func (s *Service) SubscribeOne(ctx context.Context, id types.ID, fn func(*RideRequest)) *Subscription {
	watch := func(ctx context.Context, f func(*RideRequest)) error {
		return s.store.WatchOne(ctx, id, f)
	}
	return s.subscribe("one", func() *Subscription {
		return startSubscription(ctx, watch, fn, s.endSubscription("one"))
	})
}

// SubscribePending delivers every pending request, newest first, as a full
// snapshot whenever the pending set changes.
func (s *Service) SubscribePending(ctx context.Context, fn func([]*RideRequest)) *Subscription {
	return s.subscribeQuery(ctx, "pending", Query{Status: StatusPending}, fn)
}

// SubscribeByCustomer delivers all requests of one customer, newest first.
func (s *Service) SubscribeByCustomer(ctx context.Context, customerID types.ID, fn func([]*RideRequest)) *Subscription {
	return s.subscribeQuery(ctx, "customer", Query{CustomerID: customerID}, fn)
}

func (s *Service) subscribeQuery(ctx context.Context, kind string, q Query, fn func([]*RideRequest)) *Subscription {
	watch := func(ctx context.Context, f func([]*RideRequest)) error {
		return s.store.WatchQuery(ctx, q, f)
	}
	return s.subscribe(kind, func() *Subscription {
		return startSubscription(ctx, watch, fn, s.endSubscription(kind))
	})
}

func (s *Service) subscribe(kind string, start func() *Subscription) *Subscription {
	observability.LiveSubscriptions.WithLabelValues(kind).Inc()
	return start()
}

func (s *Service) endSubscription(kind string) func() {
	return func() { observability.LiveSubscriptions.WithLabelValues(kind).Dec() }
}

func (s *Service) conflict(r *RideRequest, to Status) {
	observability.Conflicts.WithLabelValues(string(to)).Inc()
	s.log.Info("conditional write lost", "request_id", r.ID, "from", r.Status, "to", to)
}

func (s *Service) appendEvent(ctx context.Context, id types.ID, from, to Status, actor Actor) {
	if s.events == nil {
		return
	}
	err := s.events.AppendEvent(ctx, &Event{
		RequestID: id,
		From:      from,
		To:        to,
		ActorRole: actor.role(),
		ActorID:   actor.idPtr(),
		CreatedAt: s.now(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("append ride request event", "request_id", id, "to", to, "error", err)
	}
}
