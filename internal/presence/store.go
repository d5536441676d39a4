package presence

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/example/corridor-matching/internal/geo"
	"github.com/example/corridor-matching/internal/models"
)

const (
	shardCount          = 64
	DefaultSeatCapacity = 4
)

type shard struct {
	mu       sync.Mutex
	entities map[string]*models.EntityState
}

// Store is the single source of truth for entity presence. Mutations are
// serialized per identity (shard locks) while different identities proceed in
// parallel. Every successful mutation that moves an entity propagates to the
// geospatial index before returning; an index failure rolls the record back
// so store and index never diverge.
type Store struct {
	shards   [shardCount]*shard
	index    geo.Geo
	capacity int
}

func NewStore(index geo.Geo, seatCapacity int) *Store {
	if seatCapacity <= 0 {
		seatCapacity = DefaultSeatCapacity
	}
	s := &Store{index: index, capacity: seatCapacity}
	for i := range s.shards {
		s.shards[i] = &shard{entities: make(map[string]*models.EntityState)}
	}
	return s
}

func (s *Store) SeatCapacity() int { return s.capacity }

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

func validCoords(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// SetPosition creates the record on first report (role fixed at creation) and
// moves it on every later one. Drivers reporting a position are active again.
func (s *Store) SetPosition(id, username string, role models.Role, lat, lon float64) (models.EntityState, error) {
	if !validCoords(lat, lon) {
		return models.EntityState{}, &ValidationError{Msg: "invalid coordinates"}
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entities[id]
	if !ok {
		e = &models.EntityState{ID: id, Username: username, Role: role}
		sh.entities[id] = e
	} else if e.Role != role {
		return models.EntityState{}, &RoleMismatchError{ID: id, Want: e.Role, Got: role}
	}
	prev := *e

	e.Loc = models.Coord{Lat: lat, Lon: lon}
	e.Online = true
	if role == models.RoleDriver {
		e.Active = true
	}
	if username != "" {
		e.Username = username
	}
	e.Updated = time.Now()

	if err := s.index.Upsert(id, lat, lon); err != nil {
		if ok {
			*e = prev
		} else {
			delete(sh.entities, id)
		}
		return models.EntityState{}, fmt.Errorf("presence: index upsert for %s: %w", id, err)
	}
	return *e, nil
}

// SetSeats updates a driver's seat count. Zero seats deactivates the driver
// so nearest-match queries skip it.
func (s *Store) SetSeats(id string, seats int) (models.EntityState, error) {
	if seats < 0 || seats > s.capacity {
		return models.EntityState{}, &ValidationError{Msg: fmt.Sprintf("available seats must be between 0 and %d", s.capacity)}
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entities[id]
	if !ok {
		return models.EntityState{}, ErrNotFound
	}
	if e.Role != models.RoleDriver {
		return models.EntityState{}, &RoleMismatchError{ID: id, Want: e.Role, Got: models.RoleDriver}
	}
	e.Seats = seats
	e.Active = seats > 0
	e.Updated = time.Now()
	return *e, nil
}

// SetWaiting flags a passenger as waiting with a fresh TTL, or clears the
// flag on cancellation.
func (s *Store) SetWaiting(id string, waiting bool, ttl time.Duration) (models.EntityState, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entities[id]
	if !ok {
		return models.EntityState{}, ErrNotFound
	}
	if e.Role != models.RolePassenger {
		return models.EntityState{}, &RoleMismatchError{ID: id, Want: e.Role, Got: models.RolePassenger}
	}
	e.Waiting = waiting
	if waiting {
		e.ExpiresAt = time.Now().Add(ttl)
	} else {
		e.ExpiresAt = time.Time{}
	}
	e.Updated = time.Now()
	return *e, nil
}

// Deactivate takes a driver out of match results without touching its seats.
func (s *Store) Deactivate(id string) (models.EntityState, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entities[id]
	if !ok {
		return models.EntityState{}, ErrNotFound
	}
	if e.Role != models.RoleDriver {
		return models.EntityState{}, &RoleMismatchError{ID: id, Want: e.Role, Got: models.RoleDriver}
	}
	e.Active = false
	e.Updated = time.Now()
	return *e, nil
}

// MarkOffline records a disconnect: drivers deactivate, passengers stop
// waiting. Unknown identities are a no-op so cleanup can run before any
// report was made.
func (s *Store) MarkOffline(id string) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entities[id]
	if !ok {
		return
	}
	e.Online = false
	e.Active = false
	e.Waiting = false
	e.ExpiresAt = time.Time{}
	e.Updated = time.Now()
}

func (s *Store) Get(id string) (models.EntityState, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entities[id]
	if !ok {
		return models.EntityState{}, false
	}
	return *e, true
}

// Remove deletes the record and its index entry. The index removal happens
// under the shard lock so a concurrent re-create for the same identity cannot
// interleave and lose its index entry.
func (s *Store) Remove(id string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.entities[id]; !ok {
		return ErrNotFound
	}
	delete(sh.entities, id)
	s.index.Remove(id)
	return nil
}

// RemoveIfExpired deletes a waiting record only if its TTL is still lapsed as
// of now, and reports whether it did. A refresh that landed after the caller
// observed the expiry wins.
func (s *Store) RemoveIfExpired(id string, now time.Time) bool {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entities[id]
	if !ok {
		return false
	}
	if e.Role != models.RolePassenger || !e.Waiting || e.ExpiresAt.IsZero() || !e.ExpiresAt.Before(now) {
		return false
	}
	delete(sh.entities, id)
	s.index.Remove(id)
	return true
}

// Snapshot copies every record passing keep. Pass nil to copy everything.
func (s *Store) Snapshot(keep func(models.EntityState) bool) []models.EntityState {
	var out []models.EntityState
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, e := range sh.entities {
			if keep == nil || keep(*e) {
				out = append(out, *e)
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// ExpiredWaiting lists waiting passengers whose TTL has lapsed as of now.
func (s *Store) ExpiredWaiting(now time.Time) []models.EntityState {
	return s.Snapshot(func(e models.EntityState) bool {
		return e.Role == models.RolePassenger && e.Waiting && !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(now)
	})
}
