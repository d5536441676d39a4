// Package match answers nearest-match queries against the geospatial index
// with role-appropriate availability filters.
package match

import (
	"sort"

	"github.com/example/corridor-matching/internal/geo"
	"github.com/example/corridor-matching/internal/models"
	"github.com/example/corridor-matching/internal/presence"
)

const (
	DefaultRadiusMeters = 5000.0
	DefaultLimit        = 20
	MaxLimit            = 50
)

// Nearby pairs a presence record with its distance from the query center.
type Nearby struct {
	State          models.EntityState
	DistanceMeters float64
}

type Service struct {
	Store *presence.Store
	Geo   geo.Geo
}

func NewService(store *presence.Store, g geo.Geo) *Service {
	return &Service{Store: store, Geo: g}
}

func clampQuery(radius float64, limit int) (float64, int) {
	if radius <= 0 {
		radius = DefaultRadiusMeters
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return radius, limit
}

// NearbyPassengers finds waiting passengers around a point, nearest first.
func (s *Service) NearbyPassengers(lat, lon, radius float64, limit int) []Nearby {
	radius, limit = clampQuery(radius, limit)
	return s.collect(s.Geo.Query(lat, lon, radius, limit, func(id string) bool {
		st, ok := s.Store.Get(id)
		return ok && st.Role == models.RolePassenger && st.Waiting
	}))
}

// NearbyDrivers finds active drivers with free seats around a point.
func (s *Service) NearbyDrivers(lat, lon, radius float64, limit int) []Nearby {
	radius, limit = clampQuery(radius, limit)
	return s.collect(s.Geo.Query(lat, lon, radius, limit, func(id string) bool {
		st, ok := s.Store.Get(id)
		return ok && st.Role == models.RoleDriver && st.Active && st.Seats > 0
	}))
}

func (s *Service) collect(matches []geo.Match) []Nearby {
	out := make([]Nearby, 0, len(matches))
	for _, m := range matches {
		st, ok := s.Store.Get(m.ID)
		if !ok {
			continue
		}
		out = append(out, Nearby{State: st, DistanceMeters: m.DistanceMeters})
	}
	return out
}

// WaitingPassengers lists waiting passengers without a distance bound,
// freshest first, capped at limit.
func (s *Service) WaitingPassengers(limit int) []models.EntityState {
	return s.list(limit, func(e models.EntityState) bool {
		return e.Role == models.RolePassenger && e.Waiting
	})
}

// ActiveDrivers lists drivers currently accepting passengers.
func (s *Service) ActiveDrivers(limit int) []models.EntityState {
	return s.list(limit, func(e models.EntityState) bool {
		return e.Role == models.RoleDriver && e.Active && e.Seats > 0
	})
}

func (s *Service) list(limit int, keep func(models.EntityState) bool) []models.EntityState {
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	out := s.Store.Snapshot(keep)
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
