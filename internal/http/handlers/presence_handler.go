// README: Helper presence handlers (go online with position, go offline).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"roadhelper/internal/modules/location"
	"roadhelper/internal/modules/riderequest"
	"roadhelper/internal/types"
)

type PresenceHandler struct {
	location *location.Service
}

func NewPresenceHandler(svc *location.Service) *PresenceHandler {
	return &PresenceHandler{location: svc}
}

type presenceReq struct {
	Lat          *float64 `json:"lat"`
	Lng          *float64 `json:"lng"`
	DeviceToken  string   `json:"deviceToken"`
	ServiceTypes []string `json:"serviceTypes"`
}

// helperSelf answers 403 unless the caller is the :id helper or an admin.
func helperSelf(c *gin.Context) (types.ID, bool) {
	id, ok := pathID(c)
	if !ok {
		return "", false
	}
	actor := actorFrom(c)
	if actor.Role == riderequest.RoleAdmin {
		return id, true
	}
	if actor.Role != riderequest.RoleHelper {
		writeError(c, http.StatusForbidden, "forbidden: helper role required")
		return "", false
	}
	if actor.ID != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return "", false
	}
	return id, true
}

func (h *PresenceHandler) Update(c *gin.Context) {
	id, ok := helperSelf(c)
	if !ok {
		return
	}
	var req presenceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	for _, st := range req.ServiceTypes {
		if _, ok := riderequest.ParseServiceType(st); !ok {
			writeError(c, http.StatusBadRequest, "serviceTypes contains an unknown service type: "+st)
			return
		}
	}
	pos := (&locationBody{Lat: req.Lat, Lng: req.Lng}).toLocation()
	err := h.location.GoOnline(c.Request.Context(), location.HelperPresence{
		HelperID:     id,
		Position:     *pos,
		DeviceToken:  req.DeviceToken,
		ServiceTypes: req.ServiceTypes,
	})
	if err != nil {
		writeRequestError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "online"})
}

func (h *PresenceHandler) Delete(c *gin.Context) {
	id, ok := helperSelf(c)
	if !ok {
		return
	}
	if err := h.location.GoOffline(c.Request.Context(), id); err != nil {
		writeRequestError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "offline"})
}
