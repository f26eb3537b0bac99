package chat

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/google/uuid"
)

// CloseCode is the reason class reported when the server closes a peer.
type CloseCode int

const (
	CloseNormal CloseCode = iota
	ClosePolicyViolation
)

// Peer is the transport side of one client connection.
type Peer interface {
	// Send queues ev for delivery. It must not retain ev after returning.
	Send(ev Event) error
	// Close terminates the connection.
	Close(code CloseCode, reason string)
}

// SessionState is the lifecycle stage of a connection.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// Session is the server-side state of one live connection.
type Session struct {
	id   string
	peer Peer
	gate *rateGate

	mu       sync.Mutex
	identity domain.Identity
	state    SessionState
	joined   map[string]struct{}
}

func newSession(peer Peer, gate *rateGate) *Session {
	return &Session{
		id:     uuid.NewString(),
		peer:   peer,
		gate:   gate,
		state:  StateConnecting,
		joined: make(map[string]struct{}),
	}
}

// ID returns the connection ID.
func (s *Session) ID() string { return s.id }

// Identity returns the authenticated user.
func (s *Session) Identity() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// UserID returns the authenticated user ID.
func (s *Session) UserID() string {
	return s.Identity().UserID
}

// State returns the current lifecycle stage.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) authenticate(id domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	s.state = StateAuthenticated
}

func (s *Session) activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAuthenticated {
		s.state = StateActive
	}
}

// markClosed moves the session to Closed and reports whether it was not
// already closed.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	return true
}

// Send delivers ev to the peer. A closed session fails with ErrTransportFailure.
func (s *Session) Send(ev Event) error {
	if s.State() == StateClosed {
		return fmt.Errorf("%w: session %s closed", domain.ErrTransportFailure, s.id)
	}
	return s.peer.Send(ev)
}

// JoinedRooms returns the rooms this session has joined, sorted.
func (s *Session) JoinedRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.joined))
	for id := range s.joined {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

func (s *Session) hasJoined(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.joined[roomID]
	return ok
}

// addJoined reports whether roomID was newly added.
func (s *Session) addJoined(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.joined[roomID]; ok {
		return false
	}
	s.joined[roomID] = struct{}{}
	return true
}

func (s *Session) removeJoined(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.joined[roomID]; !ok {
		return false
	}
	delete(s.joined, roomID)
	return true
}

// clearJoined empties the joined set and returns what it held, sorted.
func (s *Session) clearJoined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.joined))
	for id := range s.joined {
		rooms = append(rooms, id)
	}
	clear(s.joined)
	sort.Strings(rooms)
	return rooms
}
