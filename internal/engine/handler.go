package engine

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/example/corridor-matching/internal/auth"
	"github.com/example/corridor-matching/internal/models"
	"github.com/example/corridor-matching/internal/observability"
	"github.com/example/corridor-matching/internal/presence"
	"github.com/example/corridor-matching/internal/session"
)

// connHandler holds the per-connection state machine:
// unauthenticated -> active -> detached.
type connHandler struct {
	e       *Engine
	conn    Conn
	sess    *session.Session // nil while unauthenticated
	cleanup sync.Once
}

func (h *connHandler) attach(id auth.Identity) {
	h.sess = session.NewSession(h.conn, id.UserID, id.Username, id.Role, h.e.BroadcastBuffer)
	h.e.Registry.Attach(h.sess)
	h.e.setOnline(id.UserID, true)
	h.e.logger().Info("connection attached", "user_id", id.UserID, "role", id.Role)
}

// detach runs once. A superseded session skips the presence cleanup so the
// takeover connection keeps its state.
func (h *connHandler) detach() {
	h.cleanup.Do(func() {
		if h.sess == nil {
			_ = h.conn.Close()
			return
		}
		current := h.e.Registry.Detach(h.sess)
		if !current {
			return
		}
		h.e.Store.MarkOffline(h.sess.UserID)
		h.e.setOnline(h.sess.UserID, false)
		h.e.logger().Info("connection detached", "user_id", h.sess.UserID, "role", h.sess.Role)
	})
}

func (h *connHandler) dispatch(f models.Frame) {
	if h.sess == nil {
		if f.Event == models.EventAuthenticate {
			h.handleAuthenticate(f.Data)
		} else {
			h.sendError(f.Event, "Authentication required")
		}
		return
	}
	switch f.Event {
	case models.EventAuthenticate:
		h.ack(models.EventAuthenticate, "Already authenticated", time.Time{})
	case models.EventDriverLocation:
		h.handleDriverLocation(f.Data)
	case models.EventPassengerWaiting:
		h.handlePassengerWaiting(f.Data)
	case models.EventPassengerCancel:
		h.handlePassengerCancel()
	case models.EventDriverInactive:
		h.handleDriverInactive()
	default:
		h.sendError(f.Event, "Unknown event")
	}
}

// handleAuthenticate covers clients that connected without a handshake
// credential. Failure leaves the connection open so the client may retry.
func (h *connHandler) handleAuthenticate(data json.RawMessage) {
	var p models.AuthPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(models.EventAuthenticate, "Invalid authentication data")
		return
	}
	id, err := h.e.Verifier.Verify(p.Token)
	if err != nil {
		h.sendError(models.EventAuthenticate, "Authentication error: Invalid token")
		return
	}
	h.attach(id)
	h.ack(models.EventAuthenticate, "Authenticated successfully", time.Time{})
}

func (h *connHandler) handleDriverLocation(data json.RawMessage) {
	if h.sess.Role != models.RoleDriver {
		h.sendError(models.EventDriverLocation, "Only drivers can update location")
		return
	}
	var p models.LocationUpdatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(models.EventDriverLocation, "Invalid location data")
		return
	}
	// validate seats up front so a bad seat count mutates nothing
	if p.AvailableSeats != nil {
		if n := *p.AvailableSeats; n < 0 || n > h.e.Store.SeatCapacity() {
			h.sendError(models.EventDriverLocation, "Invalid seat count")
			return
		}
	}
	st, err := h.e.Store.SetPosition(h.sess.UserID, h.sess.Username, models.RoleDriver, p.Latitude, p.Longitude)
	if err != nil {
		h.sendStoreError(models.EventDriverLocation, err)
		return
	}
	if p.AvailableSeats != nil {
		if st, err = h.e.Store.SetSeats(h.sess.UserID, *p.AvailableSeats); err != nil {
			h.sendStoreError(models.EventDriverLocation, err)
			return
		}
	}

	h.e.Registry.Broadcast(models.GroupPassengers, models.EventDriverUpdated, models.DriverUpdatedPayload{
		DriverID:       st.ID,
		Username:       st.Username,
		Location:       st.Loc,
		AvailableSeats: st.Seats,
		Timestamp:      st.Updated,
	})
	h.ack(models.EventDriverLocation, "Location updated successfully", time.Time{})
	observability.UpdatesTotal.WithLabelValues(models.EventDriverLocation).Inc()
	h.e.publish(models.EventDriverLocation, st)
}

func (h *connHandler) handlePassengerWaiting(data json.RawMessage) {
	if h.sess.Role != models.RolePassenger {
		h.sendError(models.EventPassengerWaiting, "Only passengers can mark as waiting")
		return
	}
	var p models.WaitingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(models.EventPassengerWaiting, "Invalid location data")
		return
	}
	if _, err := h.e.Store.SetPosition(h.sess.UserID, h.sess.Username, models.RolePassenger, p.Latitude, p.Longitude); err != nil {
		h.sendStoreError(models.EventPassengerWaiting, err)
		return
	}
	st, err := h.e.Store.SetWaiting(h.sess.UserID, true, h.e.waitingTTL())
	if err != nil {
		h.sendStoreError(models.EventPassengerWaiting, err)
		return
	}

	h.e.Registry.Broadcast(models.GroupDrivers, models.EventPassengerWaitingOn, models.PassengerWaitingPayload{
		PassengerID: st.ID,
		Username:    st.Username,
		Location:    st.Loc,
		Timestamp:   st.Updated,
	})
	h.ack(models.EventPassengerWaiting, "Marked as waiting successfully", st.ExpiresAt)
	observability.UpdatesTotal.WithLabelValues(models.EventPassengerWaiting).Inc()
	h.e.publish(models.EventPassengerWaiting, st)
}

func (h *connHandler) handlePassengerCancel() {
	if h.sess.Role != models.RolePassenger {
		h.sendError(models.EventPassengerCancel, "Only passengers can cancel waiting")
		return
	}
	st, err := h.e.Store.SetWaiting(h.sess.UserID, false, 0)
	if err != nil {
		h.sendStoreError(models.EventPassengerCancel, err)
		return
	}

	h.e.Registry.Broadcast(models.GroupDrivers, models.EventPassengerCancelled, models.PassengerCancelledPayload{
		PassengerID: st.ID,
		Timestamp:   st.Updated,
	})
	h.ack(models.EventPassengerCancel, "Waiting cancelled successfully", time.Time{})
	observability.UpdatesTotal.WithLabelValues(models.EventPassengerCancel).Inc()
	h.e.publish(models.EventPassengerCancel, st)
}

func (h *connHandler) handleDriverInactive() {
	if h.sess.Role != models.RoleDriver {
		h.sendError(models.EventDriverInactive, "Only drivers can set inactive status")
		return
	}
	st, err := h.e.Store.Deactivate(h.sess.UserID)
	if err != nil {
		h.sendStoreError(models.EventDriverInactive, err)
		return
	}
	// local ack only, no broadcast
	h.ack(models.EventDriverInactive, "Driver set to inactive", time.Time{})
	observability.UpdatesTotal.WithLabelValues(models.EventDriverInactive).Inc()
	h.e.publish(models.EventDriverInactive, st)
}

func (h *connHandler) sendStoreError(event string, err error) {
	var ve *presence.ValidationError
	switch {
	case errors.As(err, &ve):
		h.sendError(event, ve.Msg)
	case errors.Is(err, presence.ErrNotFound):
		h.sendError(event, "No record found")
	default:
		h.e.logger().Error("store mutation failed", "event", event, "error", err)
		h.sendError(event, "Operation failed")
	}
}

func (h *connHandler) sendError(event, msg string) {
	observability.RejectedTotal.WithLabelValues(event).Inc()
	h.write(session.Event{Event: models.EventError, Data: models.ErrorPayload{Message: msg}})
}

func (h *connHandler) ack(event, msg string, expiresAt time.Time) {
	h.write(session.Event{Event: models.AckEvent(event), Data: models.AckPayload{Message: msg, ExpiresAt: expiresAt}})
}

// write routes through the session buffer once attached so acks stay ordered
// with broadcasts; before that the read loop owns the connection and may
// write directly.
func (h *connHandler) write(ev session.Event) {
	if h.sess != nil {
		h.sess.Send(ev)
		return
	}
	_ = h.conn.WriteJSON(ev)
}
