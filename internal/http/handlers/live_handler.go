// README: WebSocket endpoints streaming live view frames (pending queue, tracking, history).
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"roadhelper/internal/modules/liveview"
	"roadhelper/internal/modules/riderequest"
	"roadhelper/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// mobile clients send no Origin; auth is the bearer token
	CheckOrigin: func(r *http.Request) bool { return true },
}

type LiveHandler struct {
	requests *riderequest.Service
	base     context.Context
	log      *slog.Logger
}

// NewLiveHandler serves live views until base is cancelled.
func NewLiveHandler(base context.Context, svc *riderequest.Service, log *slog.Logger) *LiveHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LiveHandler{requests: svc, base: base, log: log}
}

// clientMessage is what helpers send on the pending socket.
type clientMessage struct {
	Type           string        `json:"type"`
	RequestID      string        `json:"requestId"`
	HelperLocation *locationBody `json:"helperLocation"`
}

// Pending streams the helper's filtered pending queue and handles accept and
// position messages.
func (h *LiveHandler) Pending(c *gin.Context) {
	actor := actorFrom(c)
	if actor.Role != riderequest.RoleHelper {
		writeError(c, http.StatusForbidden, "forbidden: helper role required")
		return
	}
	filter, err := parsePendingFilter(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	helper := liveview.Helper{ID: actor.ID, Name: c.Query("name")}

	h.serve(c, func(ctx context.Context, sess *wsSession) {
		q := liveview.NewPendingQueue(h.requests, helper, filter, sess)
		q.Start(ctx)
		defer q.Close()
		sess.readLoop(func(raw []byte) {
			var msg clientMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				sess.Render(liveview.Frame{Type: liveview.FrameNotice, Message: "invalid message"})
				return
			}
			switch msg.Type {
			case "accept":
				// failures are rendered to the socket by the queue
				_ = q.Accept(ctx, types.ID(msg.RequestID), msg.HelperLocation.toLocation())
			case "position":
				if loc := msg.HelperLocation.toLocation(); loc != nil && loc.Valid() {
					q.MoveTo(*loc)
				}
			default:
				sess.Render(liveview.Frame{Type: liveview.FrameNotice, Message: "unknown message type"})
			}
		})
	})
}

// Track streams one request to a participant.
func (h *LiveHandler) Track(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.requests.Get(c.Request.Context(), id)
	if err != nil {
		writeRequestError(c, err)
		return
	}
	actor := actorFrom(c)
	if !canView(actor, r) {
		writeError(c, http.StatusForbidden, "forbidden: not a participant of this request")
		return
	}
	h.serve(c, func(ctx context.Context, sess *wsSession) {
		v := liveview.NewTracking(h.requests, id, accessSink{sess: sess, actor: actor})
		v.Start(ctx)
		defer v.Close()
		sess.readLoop(nil)
	})
}

// History streams a customer's requests.
func (h *LiveHandler) History(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	actor := actorFrom(c)
	if actor.Role != riderequest.RoleAdmin && (actor.Role != riderequest.RoleCustomer || actor.ID != id) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	h.serve(c, func(ctx context.Context, sess *wsSession) {
		v := liveview.NewHistory(h.requests, id, sess)
		v.Start(ctx)
		defer v.Close()
		sess.readLoop(nil)
	})
}

// serve upgrades the connection and runs fn with a session whose context ends
// when the client goes away, the writer fails, or the server shuts down.
func (h *LiveHandler) serve(c *gin.Context, fn func(ctx context.Context, sess *wsSession)) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already answered the client
		h.log.Warn("websocket upgrade failed", "path", c.FullPath(), "error", err)
		return
	}
	ctx, cancel := context.WithCancel(c.Request.Context())
	stop := context.AfterFunc(h.base, cancel)
	defer stop()
	defer cancel()

	sess := newWSSession(conn)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sess.writeLoop(ctx)
	}()

	h.log.Info("live view opened", "path", c.FullPath(), "uid", actorFrom(c).ID)
	fn(ctx, sess)
	cancel()
	sess.shutdown()
	<-writerDone
	h.log.Info("live view closed", "path", c.FullPath(), "uid", actorFrom(c).ID)
}

func parsePendingFilter(c *gin.Context) (liveview.PendingFilter, error) {
	var f liveview.PendingFilter
	if raw := c.Query("services"); raw != "" {
		for _, v := range strings.Split(raw, ",") {
			st, ok := riderequest.ParseServiceType(v)
			if !ok {
				return f, &queryError{param: "services", value: v}
			}
			f.ServiceTypes = append(f.ServiceTypes, st)
		}
	}
	lat, lng := c.Query("lat"), c.Query("lng")
	if lat == "" && lng == "" {
		return f, nil
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return f, &queryError{param: "lat", value: lat}
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return f, &queryError{param: "lng", value: lng}
	}
	origin := types.Location{Lat: la, Lng: ln}
	if !origin.Valid() {
		return f, &queryError{param: "lat/lng", value: lat + "," + lng}
	}
	f.Origin = &origin
	if raw := c.Query("radius_km"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r < 0 {
			return f, &queryError{param: "radius_km", value: raw}
		}
		f.RadiusKm = r
	}
	return f, nil
}

type queryError struct {
	param string
	value string
}

func (e *queryError) Error() string { return "invalid " + e.param + ": " + e.value }

// accessSink ends the stream once the request stops being visible to actor,
// such as a helper watching a request another helper accepted.
type accessSink struct {
	sess  *wsSession
	actor riderequest.Actor
}

func (a accessSink) Render(f liveview.Frame) {
	if f.Request != nil && !canView(a.actor, f.Request) {
		a.sess.revoke(liveview.Frame{Type: liveview.FrameNotice, Message: noticeAccessEnded})
		return
	}
	a.sess.Render(f)
}

const noticeAccessEnded = "You can no longer view this request"

// wsSession is a liveview.Sink writing frames to a websocket. Render never
// blocks; a client that cannot keep up is disconnected.
type wsSession struct {
	conn *websocket.Conn
	out  chan liveview.Frame
	done chan struct{}
	once sync.Once

	final      chan liveview.Frame
	revoked    atomic.Bool
	revokeOnce sync.Once
}

func newWSSession(conn *websocket.Conn) *wsSession {
	return &wsSession{
		conn:  conn,
		out:   make(chan liveview.Frame, sendBuffer),
		done:  make(chan struct{}),
		final: make(chan liveview.Frame, 1),
	}
}

func (s *wsSession) Render(f liveview.Frame) {
	if s.revoked.Load() {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.out <- f:
	default:
		s.shutdown()
	}
}

// revoke drops further renders; the writer sends f, a policy close frame,
// and then ends the session.
func (s *wsSession) revoke(f liveview.Frame) {
	s.revokeOnce.Do(func() {
		s.revoked.Store(true)
		s.final <- f
	})
}

// shutdown closes the connection, which also unblocks readLoop.
func (s *wsSession) shutdown() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *wsSession) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-s.done:
			return
		case f := <-s.final:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteJSON(f)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "access ended"), time.Now().Add(writeWait))
			return
		case f := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readLoop blocks until the peer disconnects, passing text messages to
// handle (nil discards them).
func (s *wsSession) readLoop(handle func([]byte)) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if handle != nil {
			handle(raw)
		}
	}
}
