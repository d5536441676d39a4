package models

import (
	"encoding/json"
	"time"
)

// Live-channel event names. Inbound names follow role:action; every accepted
// inbound event is acked with "<name>-success" and every rejected one with
// an "error" frame.
const (
	EventAuthenticate     = "authenticate"
	EventDriverLocation   = "driver:location-update"
	EventDriverInactive   = "driver:inactive"
	EventPassengerWaiting = "passenger:waiting"
	EventPassengerCancel  = "passenger:cancel"

	EventDriverUpdated      = "driver:location-updated"
	EventPassengerWaitingOn = "passenger:new-waiting"
	EventPassengerCancelled = "passenger:cancelled"
	EventError              = "error"
)

// AckEvent derives the success event name for an inbound event.
func AckEvent(event string) string { return event + "-success" }

// Frame is the live-channel envelope. Data stays raw until the handler for
// Event decides how to decode it.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthPayload carries the credential for in-channel authentication, used when
// the client did not present a token at handshake time.
type AuthPayload struct {
	Token string `json:"token"`
}

// LocationUpdatePayload is the driver:location-update body. AvailableSeats is
// optional; nil leaves the current seat count untouched.
type LocationUpdatePayload struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AvailableSeats *int    `json:"availableSeats,omitempty"`
}

// WaitingPayload is the passenger:waiting body.
type WaitingPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DriverUpdatedPayload is broadcast to the passengers group.
type DriverUpdatedPayload struct {
	DriverID       string    `json:"driverId"`
	Username       string    `json:"username"`
	Location       Coord     `json:"location"`
	AvailableSeats int       `json:"availableSeats"`
	Timestamp      time.Time `json:"timestamp"`
}

// PassengerWaitingPayload is broadcast to the drivers group.
type PassengerWaitingPayload struct {
	PassengerID string    `json:"passengerId"`
	Username    string    `json:"username"`
	Location    Coord     `json:"location"`
	Timestamp   time.Time `json:"timestamp"`
}

// PassengerCancelledPayload is broadcast to the drivers group on explicit
// cancellation and on TTL expiry.
type PassengerCancelledPayload struct {
	PassengerID string    `json:"passengerId"`
	Timestamp   time.Time `json:"timestamp"`
}

// ErrorPayload is sent to the offending connection on any rejected operation.
type ErrorPayload struct {
	Message string `json:"message"`
}

// AckPayload confirms a state mutation. ExpiresAt is set on waiting acks.
type AckPayload struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}
