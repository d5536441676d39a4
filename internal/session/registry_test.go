package session

import (
	"sync"
	"testing"
	"time"

	"github.com/example/corridor-matching/internal/models"
)

// fakeConn records written events and can be made to block.
type fakeConn struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{} // non-nil: WriteJSON waits until closed
	closed bool
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, v.(Event))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) snapshot() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBroadcastReachesGroupOnly(t *testing.T) {
	r := NewRegistry()
	dc := &fakeConn{}
	pc := &fakeConn{}
	d := NewSession(dc, "d1", "carlos", models.RoleDriver, 8)
	p := NewSession(pc, "p1", "ana", models.RolePassenger, 8)
	r.Attach(d)
	r.Attach(p)

	r.Broadcast(models.GroupDrivers, "passenger:new-waiting", nil)

	waitFor(t, func() bool { return len(dc.snapshot()) == 1 })
	if len(pc.snapshot()) != 0 {
		t.Fatalf("passenger received driver-group event: %+v", pc.snapshot())
	}
}

func TestAttachIdempotentAndSupersede(t *testing.T) {
	r := NewRegistry()
	c1 := &fakeConn{}
	s1 := NewSession(c1, "u1", "ana", models.RolePassenger, 8)
	if prior := r.Attach(s1); prior != nil {
		t.Fatalf("unexpected prior: %+v", prior)
	}
	if prior := r.Attach(s1); prior != nil {
		t.Fatal("re-attach of same session should be a no-op")
	}
	if r.GroupSize(models.GroupPassengers) != 1 {
		t.Fatalf("group size %d", r.GroupSize(models.GroupPassengers))
	}

	c2 := &fakeConn{}
	s2 := NewSession(c2, "u1", "ana", models.RolePassenger, 8)
	prior := r.Attach(s2)
	if prior != s1 {
		t.Fatal("expected first session superseded")
	}
	if !s1.Superseded() {
		t.Fatal("superseded flag not set")
	}
	waitFor(t, func() bool { c1.mu.Lock(); defer c1.mu.Unlock(); return c1.closed })

	// first connection no longer receives broadcasts, second does
	r.Broadcast(models.GroupPassengers, "driver:location-updated", nil)
	waitFor(t, func() bool { return len(c2.snapshot()) == 1 })
	if len(c1.snapshot()) != 0 {
		t.Fatalf("superseded session still receiving: %+v", c1.snapshot())
	}

	// detach of the superseded session must not remove the live one
	if r.Detach(s1) {
		t.Fatal("superseded detach reported current")
	}
	if r.GroupSize(models.GroupPassengers) != 1 {
		t.Fatal("live session removed by stale detach")
	}
	if !r.Detach(s2) {
		t.Fatal("live detach should report current")
	}
	if r.GroupSize(models.GroupPassengers) != 0 {
		t.Fatal("group not empty after detach")
	}
}

func TestSendDropsOldestWhenBufferFull(t *testing.T) {
	block := make(chan struct{})
	c := &fakeConn{block: block}
	s := NewSession(c, "u1", "ana", models.RolePassenger, 2)

	// writer is parked on the first event; fill the buffer past capacity
	s.Send(Event{Event: "e0"})
	waitFor(t, func() bool { return len(s.out) == 0 }) // e0 picked up by writer
	for i := 1; i <= 5; i++ {
		s.Send(Event{Event: "e" + string(rune('0'+i))})
	}
	if s.Dropped() == 0 {
		t.Fatal("expected drops on full buffer")
	}

	close(block)
	waitFor(t, func() bool {
		evs := c.snapshot()
		return len(evs) >= 3 && evs[len(evs)-1].Event == "e5"
	})
	s.Close()
}

func TestBroadcastDoesNotBlockOnSlowRecipient(t *testing.T) {
	r := NewRegistry()
	slow := &fakeConn{block: make(chan struct{})}
	s := NewSession(slow, "d1", "c", models.RoleDriver, 1)
	r.Attach(s)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Broadcast(models.GroupDrivers, "passenger:new-waiting", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on slow recipient")
	}
	close(slow.block)
	s.Close()
}
