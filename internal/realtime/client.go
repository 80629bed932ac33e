// Package realtime serves the watch WebSocket: one connection owns one watch
// session for as long as the tutorial page is open.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/internal/tutorials"
	"github.com/learnlens/backend/internal/watchtime"
	"github.com/learnlens/backend/pkg/response"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 32
	readLimit    = 4096
)

// Server → client events.
const (
	EventSessionStarted = "session_started"
	EventMinutes        = "minutes"
	EventTickFailed     = "tick_failed"
	EventAuthExpired    = "auth_expired"
	EventTutorialGone   = "tutorial_deleted"
	EventError          = "error"
	EventPong           = "pong"
)

// Client → server events.
const (
	EventReauth = "reauth"
	EventPing   = "ping"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// IdentityValidator turns a token into an identity. *auth.JWTService implements it.
type IdentityValidator interface {
	ValidateIdentity(token string) (models.Identity, error)
}

// TutorialLookup resolves the watched tutorial. *tutorials.Repository implements it.
type TutorialLookup interface {
	Get(ctx context.Context, id string) (*models.Tutorial, error)
}

// WatchConfig wires the watch endpoint.
type WatchConfig struct {
	Identities  IdentityValidator
	Tutorials   TutorialLookup
	Ticker      watchtime.Ticker
	Registry    *watchtime.Registry
	Interval    time.Duration
	TickTimeout time.Duration
	// AllowedOrigins is "*" or a comma-separated list, as for CORS.
	AllowedOrigins string
	Logger         *zap.Logger
}

// SessionStarted is the payload of session_started.
type SessionStarted struct {
	SessionID       string `json:"sessionId"`
	TutorialID      string `json:"tutorialId"`
	IntervalSeconds int    `json:"intervalSeconds"`
}

// Minutes is the payload of minutes, tick_failed and auth_expired.
type Minutes struct {
	MinutesThisView     int64  `json:"minutesThisView"`
	TotalMinutesWatched int64  `json:"totalMinutesWatched"`
	Error               string `json:"error,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type reauthPayload struct {
	Token string `json:"token"`
}

// ServeWatch handles GET /ws/watch?tutorial_id=&token=. The tutorial and the
// identity are resolved before the upgrade, so no session ever ticks for an
// unknown tutorial or an anonymous caller.
func ServeWatch(cfg WatchConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	upgrader := newUpgrader(cfg.AllowedOrigins)
	return func(c *gin.Context) {
		tutorialID := c.Query("tutorial_id")
		token := c.Query("token")
		if tutorialID == "" || token == "" {
			response.BadRequest(c, "tutorial_id and token required")
			return
		}
		id, err := cfg.Identities.ValidateIdentity(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			return
		}
		t, err := cfg.Tutorials.Get(c.Request.Context(), tutorialID)
		if err != nil {
			if errors.Is(err, tutorials.ErrNotFound) {
				response.NotFound(c, "tutorial")
				return
			}
			cfg.Logger.Error("resolve tutorial for watch", zap.String("tutorial_id", tutorialID), zap.Error(err))
			response.LoadFailed(c)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			cfg.Logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &watchClient{
			ID:         uuid.New().String(),
			tutorialID: t.ID,
			cfg:        cfg,
			conn:       conn,
			send:       make(chan WSMessage, sendBuffer),
			done:       make(chan struct{}),
			writerDone: make(chan struct{}),
			logger:     cfg.Logger.With(zap.String("user_id", id.ID), zap.String("tutorial_id", t.ID)),
		}
		go client.writePump()
		client.run(id)
	}
}

func newUpgrader(allowed string) websocket.Upgrader {
	origins := make(map[string]bool)
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(origins) == 0 || origins["*"] || origins[origin]
		},
	}
}

// watchClient is one watch connection and the session it owns.
type watchClient struct {
	ID         string
	tutorialID string
	cfg        WatchConfig
	conn       *websocket.Conn
	send       chan WSMessage
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	logger     *zap.Logger

	// session is only touched by the read goroutine.
	session *watchtime.Session
}

// run owns the session for the lifetime of the read loop and stops it on
// every exit path.
func (c *watchClient) run(id models.Identity) {
	defer func() {
		c.close()
		if c.session != nil {
			c.cfg.Registry.Stop(c.session.ID)
		}
		<-c.writerDone
		_ = c.conn.Close()
	}()

	if err := c.startSession(id); err != nil {
		c.emit(EventError, errorPayload{Message: "could not start session"})
		return
	}
	c.readPump()
}

func (c *watchClient) startSession(id models.Identity) error {
	s, err := watchtime.NewSession(c.cfg.Ticker, watchtime.SessionConfig{
		Identity:    id,
		TutorialID:  c.tutorialID,
		Interval:    c.cfg.Interval,
		TickTimeout: c.cfg.TickTimeout,
		Tutorials:   c.cfg.Tutorials,
		OnEvent:     c.onSessionEvent,
		Logger:      c.logger,
	})
	if err != nil {
		c.logger.Warn("watch session rejected", zap.Error(err))
		return err
	}
	c.session = s
	c.cfg.Registry.Start(s)
	interval := c.cfg.Interval
	if interval <= 0 {
		interval = watchtime.DefaultInterval
	}
	c.emit(EventSessionStarted, SessionStarted{
		SessionID:       s.ID,
		TutorialID:      c.tutorialID,
		IntervalSeconds: int(interval / time.Second),
	})
	return nil
}

// onSessionEvent runs on the session goroutine and never blocks.
func (c *watchClient) onSessionEvent(ev watchtime.Event) {
	m := Minutes{MinutesThisView: ev.MinutesThisView, TotalMinutesWatched: ev.TotalMinutesWatched}
	switch ev.Type {
	case watchtime.EventTicked:
		c.emit(EventMinutes, m)
	case watchtime.EventTickFailed:
		m.Error = "could not save"
		c.emit(EventTickFailed, m)
	case watchtime.EventExpired:
		m.Error = "authentication expired"
		c.emit(EventAuthExpired, m)
	case watchtime.EventTutorialGone:
		m.Error = "tutorial not found"
		c.emit(EventTutorialGone, m)
	}
}

func (c *watchClient) readPump() {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("watch connection closed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))

		switch msg.Event {
		case EventPing:
			c.emit(EventPong, nil)
		case EventReauth:
			c.reauth(msg.Data)
		default:
			c.emit(EventError, errorPayload{Message: "unknown event"})
		}
	}
}

// reauth refreshes the running session, or starts a new one when the previous
// session ended on expiry or sign-out.
func (c *watchClient) reauth(data json.RawMessage) {
	var p reauthPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Token == "" {
		c.emit(EventError, errorPayload{Message: "token required"})
		return
	}
	id, err := c.cfg.Identities.ValidateIdentity(p.Token)
	if err != nil {
		c.emit(EventError, errorPayload{Message: "invalid or expired token"})
		return
	}

	if c.session != nil {
		select {
		case <-c.session.Done():
		default:
			if err := c.session.Refresh(id); err != nil {
				c.emit(EventError, errorPayload{Message: "token belongs to another user"})
			}
			return
		}
		if id.ID != c.session.UserID() {
			c.emit(EventError, errorPayload{Message: "token belongs to another user"})
			return
		}
		if _, err := c.cfg.Tutorials.Get(context.Background(), c.tutorialID); err != nil {
			c.emit(EventError, errorPayload{Message: "tutorial not found"})
			return
		}
	}
	if err := c.startSession(id); err != nil {
		c.emit(EventError, errorPayload{Message: "could not start session"})
	}
}

func (c *watchClient) emit(event string, payload any) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.logger.Error("marshal ws payload", zap.String("event", event), zap.Error(err))
			return
		}
		data = raw
	}
	select {
	case <-c.done:
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
		c.logger.Warn("watch client send buffer full, dropping event", zap.String("event", event))
	}
}

func (c *watchClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// fail ends the connection after a write error. Closing the conn unblocks
// the read loop at once instead of after PongWait.
func (c *watchClient) fail(err error) {
	c.logger.Debug("watch connection write failed", zap.Error(err))
	c.close()
	_ = c.conn.Close()
}

func (c *watchClient) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case <-c.done:
			// Flush what is queued (e.g. a final error) before closing.
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(msg); err != nil {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
			}
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.fail(err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(err)
				return
			}
		}
	}
}
