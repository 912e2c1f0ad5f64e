// README: HTTP router registration.
package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roadhelper/internal/http/handlers"
	"roadhelper/internal/http/middleware"
	"roadhelper/internal/infra"
	"roadhelper/internal/modules/location"
	"roadhelper/internal/modules/riderequest"
)

type RouterDeps struct {
	Requests *riderequest.Service
	Presence *location.Service
	Routes   handlers.RouteEstimator // nil when maps is not configured
	Verifier infra.TokenVerifier
	Log      *slog.Logger
	// CORSOrigins lists allowed browser origins; empty allows any.
	CORSOrigins []string
}

// NewRouter registers REST and live endpoints. Live sockets are closed when
// ctx is cancelled.
func NewRouter(ctx context.Context, deps RouterDeps) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log), middleware.Metrics(), middleware.CORS(deps.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	requestHandler := handlers.NewRideRequestHandler(deps.Requests, deps.Routes)
	api.POST("/ride-requests", requestHandler.Create)
	api.GET("/ride-requests/:id", requestHandler.Get)
	api.GET("/ride-requests/:id/events", requestHandler.Events)
	api.GET("/ride-requests/:id/eta", requestHandler.ETA)
	api.POST("/ride-requests/:id/accept", requestHandler.Accept)
	api.POST("/ride-requests/:id/status", requestHandler.UpdateStatus)
	api.POST("/ride-requests/:id/locations", requestHandler.UpdateLocations)

	presenceHandler := handlers.NewPresenceHandler(deps.Presence)
	api.PUT("/helpers/:id/presence", presenceHandler.Update)
	api.DELETE("/helpers/:id/presence", presenceHandler.Delete)

	ws := r.Group("/ws", middleware.Auth(deps.Verifier))
	liveHandler := handlers.NewLiveHandler(ctx, deps.Requests, log)
	ws.GET("/helpers/pending", liveHandler.Pending)
	ws.GET("/ride-requests/:id", liveHandler.Track)
	ws.GET("/customers/:id/ride-requests", liveHandler.History)

	return r
}
