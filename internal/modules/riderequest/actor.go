// README: Caller identity passed explicitly into every mutation.
package riderequest

import "roadhelper/internal/types"

type Role string

const (
	RoleSystem   Role = "system"
	RoleCustomer Role = "customer"
	RoleHelper   Role = "helper"
	RoleAdmin    Role = "admin"
)

// Actor identifies who triggers a mutation. The zero Actor is the trusted system caller.
type Actor struct {
	ID   types.ID
	Role Role
}

func (a Actor) role() Role {
	if a.Role == "" {
		return RoleSystem
	}
	return a.Role
}

func (a Actor) privileged() bool {
	r := a.role()
	return r == RoleSystem || r == RoleAdmin
}

func (a Actor) idPtr() *types.ID {
	if a.ID == "" {
		return nil
	}
	id := a.ID
	return &id
}

func (a Actor) isCustomerOf(r *RideRequest) bool {
	return a.role() == RoleCustomer && a.ID != "" && a.ID == r.CustomerID
}

func (a Actor) isHelperOf(r *RideRequest) bool {
	return a.role() == RoleHelper && a.ID != "" && r.HelperID != nil && *r.HelperID == a.ID
}

// canTransition enforces who may drive each edge of the lifecycle graph.
func (a Actor) canTransition(r *RideRequest, to Status) bool {
	if a.privileged() {
		return true
	}
	switch to {
	case StatusInProgress, StatusCompleted:
		return a.isHelperOf(r)
	case StatusCancelled:
		return a.isCustomerOf(r) || a.isHelperOf(r)
	}
	return false
}
