package geo

import (
	"math"
	"sort"
	"sync"
)

// Match is one query hit, ascending by distance from the query center.
type Match struct {
	ID             string
	DistanceMeters float64
}

// Geo is the minimal interface required by the presence store and the
// nearest-match service.
type Geo interface {
	Upsert(id string, lat, lon float64) error
	Remove(id string)
	Query(lat, lon, radiusMeters float64, limit int, filter func(id string) bool) []Match
}

type entry struct {
	lat, lon float64
	seq      uint64
}

// Index is the in-memory backend. Entries mirror presence store records
// exactly; the store is the only writer.
type Index struct {
	mu      sync.RWMutex
	entries map[string]entry
	seq     uint64
}

func NewIndex() *Index {
	return &Index{entries: make(map[string]entry)}
}

func (g *Index) Upsert(id string, lat, lon float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.entries[id] = entry{lat: lat, lon: lon, seq: g.seq}
	return nil
}

func (g *Index) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, id)
}

// Query scans all entries within radiusMeters of the center, drops the ones
// failing filter, and returns at most limit hits ordered by ascending
// distance. Equal distances rank the most recently updated entry first.
func (g *Index) Query(lat, lon, radiusMeters float64, limit int, filter func(id string) bool) []Match {
	g.mu.RLock()
	type hit struct {
		id   string
		dist float64
		seq  uint64
	}
	hits := make([]hit, 0, len(g.entries))
	for id, e := range g.entries {
		d := Haversine(lat, lon, e.lat, e.lon)
		if d > radiusMeters {
			continue
		}
		hits = append(hits, hit{id: id, dist: d, seq: e.seq})
	}
	g.mu.RUnlock()

	// filter runs outside the lock; it typically reads the presence store
	if filter != nil {
		kept := hits[:0]
		for _, h := range hits {
			if filter(h.id) {
				kept = append(kept, h)
			}
		}
		hits = kept
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].seq > hits[j].seq
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		out = append(out, Match{ID: h.id, DistanceMeters: h.dist})
	}
	return out
}

// Haversine great-circle distance in meters on a spherical Earth.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
