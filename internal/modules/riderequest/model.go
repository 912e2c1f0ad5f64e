// README: Ride request aggregate, status definitions and the lifecycle graph.
package riderequest

import (
	"strings"
	"time"

	"roadhelper/internal/types"
)

// Collection is the document store collection holding ride requests.
const Collection = "ride_requests"

type Status string

const (
	StatusNone       Status = "none" // before creation, used only in the event log
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type ServiceType string

const (
	ServiceMechanic ServiceType = "mechanic"
	ServiceTow      ServiceType = "tow"
	ServiceFuel     ServiceType = "fuel"
	ServiceMedical  ServiceType = "medical"
	ServiceBattery  ServiceType = "battery"
	ServiceLockout  ServiceType = "lockout"
)

var serviceTypes = map[ServiceType]bool{
	ServiceMechanic: true,
	ServiceTow:      true,
	ServiceFuel:     true,
	ServiceMedical:  true,
	ServiceBattery:  true,
	ServiceLockout:  true,
}

func (t ServiceType) Valid() bool { return serviceTypes[t] }

// ParseServiceType accepts the wire form, ignoring case and surrounding space.
func ParseServiceType(v string) (ServiceType, bool) {
	t := ServiceType(strings.ToLower(strings.TrimSpace(v)))
	return t, t.Valid()
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	return s, s.Valid()
}

type RideRequest struct {
	ID               types.ID        `json:"id" firestore:"-"`
	CustomerID       types.ID        `json:"customerId" firestore:"customerId"`
	CustomerName     *string         `json:"customerName" firestore:"customerName"`
	HelperID         *types.ID       `json:"helperId" firestore:"helperId"`
	HelperName       *string         `json:"helperName" firestore:"helperName"`
	ServiceType      ServiceType     `json:"serviceType" firestore:"serviceType"`
	Status           Status          `json:"status" firestore:"status"`
	StatusVersion    int             `json:"statusVersion" firestore:"statusVersion"`
	Location         types.Location  `json:"location" firestore:"location"`
	CustomerLocation *types.Location `json:"customerLocation" firestore:"customerLocation"`
	HelperLocation   *types.Location `json:"helperLocation" firestore:"helperLocation"`
	VehicleDetails   string          `json:"vehicleDetails" firestore:"vehicleDetails"`
	IssueDescription string          `json:"issueDescription" firestore:"issueDescription"`
	CreatedAt        time.Time       `json:"createdAt" firestore:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt" firestore:"updatedAt"`
	AcceptedAt       *time.Time      `json:"acceptedAt" firestore:"acceptedAt"`
	CompletedAt      *time.Time      `json:"completedAt" firestore:"completedAt"`
}

// Clone returns a deep copy so snapshots handed to subscribers never alias store state.
func (r *RideRequest) Clone() *RideRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.CustomerName = clonePtr(r.CustomerName)
	c.HelperID = clonePtr(r.HelperID)
	c.HelperName = clonePtr(r.HelperName)
	c.CustomerLocation = clonePtr(r.CustomerLocation)
	c.HelperLocation = clonePtr(r.HelperLocation)
	c.AcceptedAt = clonePtr(r.AcceptedAt)
	c.CompletedAt = clonePtr(r.CompletedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Event is one recorded lifecycle transition.
type Event struct {
	ID        int64     `json:"id"`
	RequestID types.ID  `json:"requestId"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ActorRole Role      `json:"actorRole"`
	ActorID   *types.ID `json:"actorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// AllowedTransitions represents the lifecycle graph as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsActive reports whether a request is still live (not terminal).
func IsActive(s Status) bool {
	return s.Valid() && !IsTerminal(s)
}

// activeStatuses are the statuses in which live locations may still change.
var activeStatuses = []Status{StatusPending, StatusAccepted, StatusInProgress}

// Step maps a status onto the customer-facing progress indicator.
// Cancelled requests have no step and return -1.
func Step(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusAccepted:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted:
		return 3
	}
	return -1
}
