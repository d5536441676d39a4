// Package sweeper evicts waiting-passenger records whose TTL has lapsed,
// using the presence store's normal mutation path so the store and index
// stay in lockstep.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/corridor-matching/internal/models"
	"github.com/example/corridor-matching/internal/observability"
	"github.com/example/corridor-matching/internal/presence"
	"github.com/example/corridor-matching/internal/session"
)

const DefaultInterval = 30 * time.Second

type Sweeper struct {
	Store    *presence.Store
	Registry *session.Registry
	Interval time.Duration
	Log      *slog.Logger
}

func New(store *presence.Store, reg *session.Registry, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{Store: store, Registry: reg, Interval: interval, Log: log}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// Sweep evicts every waiting record expired as of now and notifies the
// drivers group so listeners converge to the view an explicit cancel would
// produce. Expiry is re-checked under the store lock at removal time so a
// refresh between the snapshot and the eviction keeps its record. It holds no
// locks while broadcasting.
func (s *Sweeper) Sweep(now time.Time) int {
	expired := s.Store.ExpiredWaiting(now)
	evicted := 0
	for _, st := range expired {
		if !s.Store.RemoveIfExpired(st.ID, now) {
			continue
		}
		evicted++
		observability.WaitingExpiredTotal.Inc()
		s.Log.Info("waiting record expired", "user_id", st.ID, "expired_at", st.ExpiresAt)
		if s.Registry != nil {
			s.Registry.Broadcast(models.GroupDrivers, models.EventPassengerCancelled, models.PassengerCancelledPayload{
				PassengerID: st.ID,
				Timestamp:   now,
			})
		}
	}
	return evicted
}
