// README: Base handler utilities (JSON helpers, error mapping, caller identity).
package handlers

import (
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"roadhelper/internal/http/middleware"
	"roadhelper/internal/modules/location"
	"roadhelper/internal/modules/riderequest"
	"roadhelper/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// maxIDLen is the longest Firebase uid.
const maxIDLen = 128

// isValidID accepts Firestore auto ids, Firebase uids and uuids.
func isValidID(v string) bool {
	if v == "" || len(v) > maxIDLen {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeRequestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, riderequest.ErrValidation), errors.Is(err, location.ErrInvalidPresence):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, riderequest.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, riderequest.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, riderequest.ErrConflict), errors.Is(err, riderequest.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// pathID reads and validates the :id route parameter, answering 400 when malformed.
func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return types.ID(id), true
}

// actorFrom maps the verified token onto a lifecycle actor. Tokens without a
// role claim are customers; no token ever yields the system role.
func actorFrom(c *gin.Context) riderequest.Actor {
	uid := types.ID(middleware.CallerUID(c))
	switch middleware.CallerRole(c) {
	case string(riderequest.RoleAdmin):
		return riderequest.Actor{ID: uid, Role: riderequest.RoleAdmin}
	case string(riderequest.RoleHelper):
		return riderequest.Actor{ID: uid, Role: riderequest.RoleHelper}
	default:
		return riderequest.Actor{ID: uid, Role: riderequest.RoleCustomer}
	}
}

// canView reports whether actor may read r. Helpers see pending requests so
// they can decide to accept, and afterwards only the ones assigned to them.
func canView(actor riderequest.Actor, r *riderequest.RideRequest) bool {
	switch actor.Role {
	case riderequest.RoleAdmin:
		return true
	case riderequest.RoleHelper:
		if r.Status == riderequest.StatusPending {
			return true
		}
		return r.HelperID != nil && *r.HelperID == actor.ID
	default:
		return r.CustomerID == actor.ID
	}
}

// locationBody is the wire shape of a coordinate in request bodies.
type locationBody struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address"`
}

// toLocation returns nil for an absent body. A body missing either coordinate
// yields a NaN so service validation reports it by field name.
func (b *locationBody) toLocation() *types.Location {
	if b == nil {
		return nil
	}
	loc := &types.Location{Address: b.Address}
	loc.Lat, loc.Lng = math.NaN(), math.NaN()
	if b.Lat != nil {
		loc.Lat = *b.Lat
	}
	if b.Lng != nil {
		loc.Lng = *b.Lng
	}
	return loc
}
