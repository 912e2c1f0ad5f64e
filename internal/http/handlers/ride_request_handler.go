// README: Ride request handlers for create/get/accept/status/locations plus admin events and ETA.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"roadhelper/internal/maps"
	"roadhelper/internal/modules/riderequest"
	"roadhelper/internal/types"
)

// RouteEstimator answers driving ETAs; nil disables the ETA endpoint.
type RouteEstimator interface {
	ETA(ctx context.Context, origin, destination types.Location) (maps.Estimate, error)
}

type RideRequestHandler struct {
	requests *riderequest.Service
	routes   RouteEstimator
}

func NewRideRequestHandler(svc *riderequest.Service, routes RouteEstimator) *RideRequestHandler {
	return &RideRequestHandler{requests: svc, routes: routes}
}

type createRequestReq struct {
	CustomerID       string        `json:"customerId"`
	CustomerName     string        `json:"customerName"`
	ServiceType      string        `json:"serviceType"`
	Location         *locationBody `json:"location"`
	VehicleDetails   string        `json:"vehicleDetails"`
	IssueDescription string        `json:"issueDescription"`
}

func (h *RideRequestHandler) Create(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	actor := actorFrom(c)
	if actor.Role == riderequest.RoleHelper {
		writeError(c, http.StatusForbidden, "forbidden: customer role required")
		return
	}
	customerID := actor.ID
	if req.CustomerID != "" && types.ID(req.CustomerID) != actor.ID {
		// only admins may file on behalf of someone else
		if actor.Role != riderequest.RoleAdmin {
			writeError(c, http.StatusForbidden, "forbidden: customerId does not match authenticated user")
			return
		}
		customerID = types.ID(req.CustomerID)
	}

	id, err := h.requests.Create(c.Request.Context(), riderequest.CreateCommand{
		CustomerID:       customerID,
		CustomerName:     req.CustomerName,
		ServiceType:      riderequest.ServiceType(req.ServiceType),
		Location:         req.Location.toLocation(),
		VehicleDetails:   req.VehicleDetails,
		IssueDescription: req.IssueDescription,
	})
	if err != nil {
		writeRequestError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{"id": id, "status": riderequest.StatusPending})
}

// load fetches the :id request and enforces read access.
func (h *RideRequestHandler) load(c *gin.Context) (*riderequest.RideRequest, bool) {
	id, ok := pathID(c)
	if !ok {
		return nil, false
	}
	r, err := h.requests.Get(c.Request.Context(), id)
	if err != nil {
		writeRequestError(c, err)
		return nil, false
	}
	if !canView(actorFrom(c), r) {
		writeError(c, http.StatusForbidden, "forbidden: not a participant of this request")
		return nil, false
	}
	return r, true
}

func (h *RideRequestHandler) Get(c *gin.Context) {
	r, ok := h.load(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideRequestHandler) Events(c *gin.Context) {
	if actorFrom(c).Role != riderequest.RoleAdmin {
		writeError(c, http.StatusForbidden, "forbidden: admin role required")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	events, err := h.requests.ListEvents(c.Request.Context(), id)
	if err != nil {
		writeRequestError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"events": events})
}

// ETA estimates the drive from the helper's last position to the customer.
func (h *RideRequestHandler) ETA(c *gin.Context) {
	if h.routes == nil {
		writeError(c, http.StatusServiceUnavailable, "maps not configured")
		return
	}
	r, ok := h.load(c)
	if !ok {
		return
	}
	if r.HelperLocation == nil {
		writeError(c, http.StatusConflict, "helper location not available yet")
		return
	}
	dest := r.Location
	if r.CustomerLocation != nil {
		dest = *r.CustomerLocation
	}
	est, err := h.routes.ETA(c.Request.Context(), *r.HelperLocation, dest)
	if err != nil {
		if errors.Is(err, maps.ErrNoRoute) {
			writeError(c, http.StatusNotFound, err.Error())
			return
		}
		writeError(c, http.StatusBadGateway, "route lookup failed")
		return
	}
	writeJSON(c, http.StatusOK, est)
}

type acceptReq struct {
	HelperID       string        `json:"helperId"`
	HelperName     string        `json:"helperName"`
	HelperLocation *locationBody `json:"helperLocation"`
}

func (h *RideRequestHandler) Accept(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req acceptReq
	if !bindOptionalJSON(c, &req) {
		return
	}
	actor := actorFrom(c)
	helperID := actor.ID
	if req.HelperID != "" {
		helperID = types.ID(req.HelperID)
	}
	err := h.requests.Accept(c.Request.Context(), riderequest.AcceptCommand{
		RequestID:      id,
		HelperID:       helperID,
		HelperName:     req.HelperName,
		HelperLocation: req.HelperLocation.toLocation(),
		Actor:          actor,
	})
	if err != nil {
		writeRequestError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"id": id, "status": riderequest.StatusAccepted, "helperId": helperID})
}

type updateStatusReq struct {
	Status           string        `json:"status"`
	HelperLocation   *locationBody `json:"helperLocation"`
	CustomerLocation *locationBody `json:"customerLocation"`
}

func (h *RideRequestHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	status, ok := riderequest.ParseStatus(req.Status)
	if !ok {
		writeError(c, http.StatusBadRequest, "status is not a known status")
		return
	}
	err := h.requests.UpdateStatus(c.Request.Context(), riderequest.UpdateStatusCommand{
		RequestID:        id,
		Status:           status,
		HelperLocation:   req.HelperLocation.toLocation(),
		CustomerLocation: req.CustomerLocation.toLocation(),
		Actor:            actorFrom(c),
	})
	if err != nil {
		writeRequestError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"id": id, "status": status})
}

type updateLocationsReq struct {
	HelperLocation   *locationBody `json:"helperLocation"`
	CustomerLocation *locationBody `json:"customerLocation"`
}

func (h *RideRequestHandler) UpdateLocations(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateLocationsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.requests.UpdateLocations(c.Request.Context(), riderequest.UpdateLocationsCommand{
		RequestID:        id,
		HelperLocation:   req.HelperLocation.toLocation(),
		CustomerLocation: req.CustomerLocation.toLocation(),
		Actor:            actorFrom(c),
	})
	if err != nil {
		writeRequestError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bindOptionalJSON decodes the body when there is one.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}
