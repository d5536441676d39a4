package session

import (
	"sync"
	"sync/atomic"

	"github.com/example/corridor-matching/internal/models"
)

// Conn is the write side of a live connection. *websocket.Conn satisfies it;
// tests substitute fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Event is the outbound envelope.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Session binds one live connection to a verified identity. Outbound events
// go through a bounded buffer drained by a dedicated writer goroutine; a slow
// recipient drops its own oldest pending event instead of stalling senders.
type Session struct {
	UserID   string
	Username string
	Role     models.Role

	conn       Conn
	out        chan Event
	done       chan struct{}
	closeOnce  sync.Once
	superseded atomic.Bool
	dropped    atomic.Uint64
}

func NewSession(conn Conn, userID, username string, role models.Role, buffer int) *Session {
	if buffer <= 0 {
		buffer = 32
	}
	s := &Session{
		UserID:   userID,
		Username: username,
		Role:     role,
		conn:     conn,
		out:      make(chan Event, buffer),
		done:     make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *Session) Group() string { return models.GroupForRole(s.Role) }

// Send enqueues without blocking. A full buffer sheds the oldest pending
// event; presence events are superseded by newer ones anyway.
func (s *Session) Send(ev Event) {
	select {
	case <-s.done:
		return
	default:
	}
	for {
		select {
		case s.out <- ev:
			return
		default:
		}
		select {
		case <-s.out:
			s.dropped.Add(1)
		default:
		}
	}
}

// Dropped reports how many pending events this session has shed.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// Close tears down the connection. Safe to call more than once and from any
// goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) markSuperseded() { s.superseded.Store(true) }

// Superseded reports whether a newer connection for the same identity took
// over; its cleanup must then leave the presence record alone.
func (s *Session) Superseded() bool { return s.superseded.Load() }

func (s *Session) writeLoop() {
	for {
		select {
		case ev := <-s.out:
			if err := s.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
