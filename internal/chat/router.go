package chat

import (
	"context"
	"log/slog"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/ashureev/chatgate/internal/presence"
)

// Router delivers events to sessions. Delivery is fire and forget: a target
// that cannot be reached is skipped.
type Router struct {
	presence *presence.Registry[*Session]
	rooms    *RoomTracker
	messages *Messages
}

// NewRouter creates a router over the given registry and tracker.
func NewRouter(reg *presence.Registry[*Session], rooms *RoomTracker, messages *Messages) *Router {
	return &Router{presence: reg, rooms: rooms, messages: messages}
}

// ToSession sends ev to one session and reports whether it was accepted.
func (r *Router) ToSession(s *Session, ev Event) bool {
	if err := s.Send(ev); err != nil {
		slog.Debug("Dropped event for unreachable session",
			"event", ev.Name,
			"user_id", s.UserID(),
			"session_id", s.ID(),
			"error", err)
		return false
	}
	return true
}

// ToUser sends ev to the user's registered session, if any.
func (r *Router) ToUser(userID string, ev Event) bool {
	s, ok := r.presence.Lookup(userID)
	if !ok {
		return false
	}
	return r.ToSession(s, ev)
}

// ToRoom sends ev to every session joined to roomID except except, which may
// be nil. It returns the number of sessions that accepted the event.
func (r *Router) ToRoom(roomID string, ev Event, except *Session) int {
	delivered := 0
	for _, s := range r.rooms.Members(roomID) {
		if s == except {
			continue
		}
		if r.ToSession(s, ev) {
			delivered++
		}
	}
	return delivered
}

// ToAllExcept sends ev to every registered session other than sender.
func (r *Router) ToAllExcept(sender *Session, ev Event) {
	for _, s := range r.presence.Handles() {
		if s == sender {
			continue
		}
		r.ToSession(s, ev)
	}
}

// DeliverPrivate echoes msg to its sender and delivers it to the receiver
// when online, advancing the message to delivered. A message to oneself is
// sent once and counts as delivered when that echo succeeds.
func (r *Router) DeliverPrivate(ctx context.Context, sender *Session, msg *domain.Message) {
	ev := Event{Name: EventNewPrivateMessage, Data: messagePayload{Message: msg}}
	echoed := r.ToSession(sender, ev)

	receiver, ok := r.presence.Lookup(msg.ReceiverID)
	if !ok {
		return
	}
	if receiver == sender {
		if echoed {
			r.markDelivered(ctx, msg)
		}
		return
	}
	if r.ToSession(receiver, ev) {
		r.markDelivered(ctx, msg)
	}
}

func (r *Router) markDelivered(ctx context.Context, msg *domain.Message) {
	if err := r.messages.MarkDelivered(ctx, msg); err != nil {
		slog.Error("Failed to mark message delivered", "message_id", msg.MessageID, "error", err)
	}
}

// DeliverRoom fans msg out to every session joined to its room, sender included.
func (r *Router) DeliverRoom(msg *domain.Message) int {
	return r.ToRoom(msg.RoomID, Event{
		Name: EventNewRoomMessage,
		Data: messagePayload{RoomID: msg.RoomID, Message: msg},
	}, nil)
}
