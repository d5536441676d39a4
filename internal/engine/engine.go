// Package engine drives the live channel: it authenticates connections,
// applies typed update events to the presence store, and fans derived events
// out to the opposite role group.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/corridor-matching/internal/auth"
	"github.com/example/corridor-matching/internal/models"
	"github.com/example/corridor-matching/internal/presence"
	"github.com/example/corridor-matching/internal/session"
	"github.com/example/corridor-matching/internal/storage"
)

const DefaultWaitingTTL = 15 * time.Minute

// Conn is the transport seen by the engine. *websocket.Conn satisfies it.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// PresencePublisher receives every accepted update, best-effort.
type PresencePublisher interface {
	PublishPresence(models.PresenceEvent) error
}

type Engine struct {
	Store    *presence.Store
	Registry *session.Registry
	Verifier auth.Verifier

	Users     storage.UserStore // optional
	Publisher PresencePublisher // optional
	Log       *slog.Logger

	WaitingTTL      time.Duration
	BroadcastBuffer int
}

func (e *Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e *Engine) waitingTTL() time.Duration {
	if e.WaitingTTL > 0 {
		return e.WaitingTTL
	}
	return DefaultWaitingTTL
}

// HandleConnection runs the per-connection event loop until the transport
// drops. ident is non-nil when the handshake already carried a valid
// credential; otherwise the connection starts unauthenticated and must send
// an authenticate event before anything else.
//
// Inbound events are processed one at a time in arrival order. Cleanup runs
// exactly once, after any in-flight update has completed, whether triggered
// by explicit sign-off or by the transport-level disconnect.
func (e *Engine) HandleConnection(conn Conn, ident *auth.Identity) {
	h := &connHandler{e: e, conn: conn}
	if ident != nil {
		h.attach(*ident)
	}
	defer h.detach()

	for {
		var f models.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		h.dispatch(f)
	}
}

// publish forwards an accepted update to Kafka when a producer is wired.
func (e *Engine) publish(event string, st models.EntityState) {
	if e.Publisher == nil {
		return
	}
	ev := models.PresenceEvent{
		Event:     event,
		UserID:    st.ID,
		Username:  st.Username,
		Role:      st.Role,
		Latitude:  st.Loc.Lat,
		Longitude: st.Loc.Lon,
		Seats:     st.Seats,
		Waiting:   st.Waiting,
		Timestamp: st.Updated,
	}
	if err := e.Publisher.PublishPresence(ev); err != nil {
		e.logger().Warn("presence publish failed", "user_id", st.ID, "error", err)
	}
}

func (e *Engine) setOnline(userID string, online bool) {
	if e.Users == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Users.SetOnlineStatus(ctx, userID, online); err != nil {
		e.logger().Warn("online status update failed", "user_id", userID, "online", online, "error", err)
	}
}
