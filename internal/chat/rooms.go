package chat

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/ashureev/chatgate/internal/store"
)

// JoinResult is what a successful join hands back to the joining connection.
type JoinResult struct {
	Room         *domain.Room
	Participants []*domain.User
	Messages     []*domain.Message
	// Rejoined is true when the session had already joined the room.
	Rejoined bool
}

// RoomTracker keeps each session's joined rooms and the reverse index of
// sessions per room used for fan-out. Lock order is tracker then session.
type RoomTracker struct {
	repo         store.Repository
	messages     *Messages
	historyLimit int

	mu       sync.RWMutex
	channels map[string]map[*Session]struct{}
}

// NewRoomTracker creates a tracker that reads rooms from repo.
func NewRoomTracker(repo store.Repository, messages *Messages, historyLimit int) *RoomTracker {
	return &RoomTracker{
		repo:         repo,
		messages:     messages,
		historyLimit: historyLimit,
		channels:     make(map[string]map[*Session]struct{}),
	}
}

// Join adds roomID to the session's joined set after checking that the
// user is a listed participant of the stored room.
func (t *RoomTracker) Join(ctx context.Context, s *Session, roomID string) (*JoinResult, error) {
	if roomID == "" {
		return nil, validationError("roomId is required")
	}

	room, err := t.repo.FindRoomByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("find room: %w", err)
	}
	if room == nil {
		return nil, fmt.Errorf("%w: room %s", domain.ErrNotFound, roomID)
	}
	if !room.HasParticipant(s.UserID()) {
		return nil, fmt.Errorf("%w: not a participant of room %s", domain.ErrAccessDenied, roomID)
	}

	participants, err := t.participants(ctx, room)
	if err != nil {
		return nil, err
	}
	backlog, err := t.backlog(ctx, room)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if s.State() == StateClosed {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: session closed", domain.ErrTransportFailure)
	}
	added := s.addJoined(roomID)
	members, ok := t.channels[roomID]
	if !ok {
		members = make(map[*Session]struct{})
		t.channels[roomID] = members
	}
	members[s] = struct{}{}
	t.mu.Unlock()

	return &JoinResult{
		Room:         room,
		Participants: participants,
		Messages:     backlog,
		Rejoined:     !added,
	}, nil
}

// backlog returns the room's recent messages, dropping any the room does
// not reference. Those are left behind when appending to the room failed
// after the message was stored.
func (t *RoomTracker) backlog(ctx context.Context, room *domain.Room) ([]*domain.Message, error) {
	msgs, err := t.messages.RecentRoom(ctx, room.RoomID, t.historyLimit)
	if err != nil {
		return nil, err
	}
	if referencesAll(room, msgs) {
		return msgs, nil
	}

	// Messages appended since room was loaded are only in a fresh copy.
	fresh, err := t.repo.FindRoomByID(ctx, room.RoomID)
	if err != nil {
		return nil, fmt.Errorf("find room: %w", err)
	}
	if fresh == nil {
		return nil, fmt.Errorf("%w: room %s", domain.ErrNotFound, room.RoomID)
	}
	refs := make(map[string]struct{}, len(fresh.MessageIDs))
	for _, id := range fresh.MessageIDs {
		refs[id] = struct{}{}
	}
	return slices.DeleteFunc(msgs, func(m *domain.Message) bool {
		_, ok := refs[m.MessageID]
		return !ok
	}), nil
}

func referencesAll(room *domain.Room, msgs []*domain.Message) bool {
	for _, m := range msgs {
		if !slices.Contains(room.MessageIDs, m.MessageID) {
			return false
		}
	}
	return true
}

// participants returns the stored users of room in participant order.
func (t *RoomTracker) participants(ctx context.Context, room *domain.Room) ([]*domain.User, error) {
	users, err := t.repo.FindUsersByIDs(ctx, room.Participants)
	if err != nil {
		return nil, fmt.Errorf("find room participants: %w", err)
	}
	byID := make(map[string]*domain.User, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}

	ordered := make([]*domain.User, 0, len(users))
	for _, id := range room.Participants {
		if u, ok := byID[id]; ok {
			ordered = append(ordered, u)
		}
	}
	return ordered, nil
}

// Leave removes roomID from the session's joined set. It reports false
// when the session had not joined the room.
func (t *RoomTracker) Leave(s *Session, roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !s.removeJoined(roomID) {
		return false
	}
	t.dropMember(roomID, s)
	return true
}

// LeaveAll clears the session's joined set and returns the rooms it held.
func (t *RoomTracker) LeaveAll(s *Session) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms := s.clearJoined()
	for _, roomID := range rooms {
		t.dropMember(roomID, s)
	}
	return rooms
}

func (t *RoomTracker) dropMember(roomID string, s *Session) {
	members, ok := t.channels[roomID]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(t.channels, roomID)
	}
}

// IsJoined reports whether the session has joined roomID.
func (t *RoomTracker) IsJoined(s *Session, roomID string) bool {
	return s.hasJoined(roomID)
}

// Members returns a snapshot of the sessions joined to roomID.
func (t *RoomTracker) Members(roomID string) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	members := t.channels[roomID]
	out := make([]*Session, 0, len(members))
	for s := range members {
		out = append(out, s)
	}
	return out
}
