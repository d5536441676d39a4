package models

import "time"

type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

// Broadcast group names, one per role.
const (
	GroupDrivers    = "drivers"
	GroupPassengers = "passengers"
)

// GroupForRole maps a role to the group its connections join.
func GroupForRole(r Role) string {
	if r == RoleDriver {
		return GroupDrivers
	}
	return GroupPassengers
}

type Coord struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// EntityState is the presence record for one driver or passenger.
// Seats and Active apply to drivers; Waiting and ExpiresAt to passengers.
type EntityState struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Loc       Coord     `json:"location"`
	Seats     int       `json:"availableSeats,omitempty"`
	Active    bool      `json:"isActive,omitempty"`
	Waiting   bool      `json:"isWaiting,omitempty"`
	Online    bool      `json:"online"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	Updated   time.Time `json:"timestamp"`
}

// PresenceEvent is the Kafka payload published for every accepted live update
// and consumed by the out-of-band seeder.
type PresenceEvent struct {
	Event     string    `json:"event"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Seats     int       `json:"available_seats"`
	Waiting   bool      `json:"waiting"`
	Timestamp time.Time `json:"timestamp"`
}
