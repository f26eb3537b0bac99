package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/ashureev/chatgate/internal/identity"
	"github.com/ashureev/chatgate/internal/presence"
	"github.com/ashureev/chatgate/internal/store"
)

// Options tunes a Gateway. Zero values select the defaults.
type Options struct {
	SendInterval    time.Duration
	HistoryLimit    int
	MaxMessageBytes int
	// Now overrides the clock used for rate limiting and timestamps.
	Now func() time.Time
}

// Gateway owns the presence registry and room tracker and runs every
// connection through authenticate, register, dispatch and teardown.
type Gateway struct {
	auth identity.Authenticator
	repo store.Repository

	presence *presence.Registry[*Session]
	rooms    *RoomTracker
	messages *Messages
	router   *Router
	dispatch *Dispatcher

	sendInterval time.Duration
	historyLimit int
	now          func() time.Time
}

// NewGateway wires the chat core.
func NewGateway(auth identity.Authenticator, repo store.Repository, opts Options) *Gateway {
	if opts.SendInterval == 0 {
		opts.SendInterval = DefaultSendInterval
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	reg := presence.NewRegistry[*Session]()
	messages := NewMessages(repo, opts.MaxMessageBytes, opts.Now)
	rooms := NewRoomTracker(repo, messages, opts.HistoryLimit)

	g := &Gateway{
		auth:         auth,
		repo:         repo,
		presence:     reg,
		rooms:        rooms,
		messages:     messages,
		router:       NewRouter(reg, rooms, messages),
		dispatch:     NewDispatcher(),
		sendInterval: opts.SendInterval,
		historyLimit: opts.HistoryLimit,
		now:          opts.Now,
	}

	g.dispatch.Register(EventGetOnlineUsers, g.handleGetOnlineUsers)
	g.dispatch.Register(EventInitialPrivateChat, g.handleInitialPrivateChat)
	g.dispatch.Register(EventSendPrivateMessage, g.handleSendPrivateMessage)
	g.dispatch.Register(EventJoinRoom, g.handleJoinRoom)
	g.dispatch.Register(EventSendRoomMessage, g.handleSendRoomMessage)
	g.dispatch.Register(EventTyping, g.typingHandler(EventUserTyping))
	g.dispatch.Register(EventStopTyping, g.typingHandler(EventUserStoppedTyping))
	g.dispatch.Register(EventMarkMessageRead, g.handleMarkMessageRead)
	g.dispatch.Register(EventLeaveRoom, g.handleLeaveRoom)
	return g
}

// Presence exposes the registry for presence queries and the sweeper.
func (g *Gateway) Presence() *presence.Registry[*Session] {
	return g.presence
}

// Connect authenticates token and, on success, registers the session and
// announces the user as online. On failure peer is closed with a policy
// violation and no session is returned.
func (g *Gateway) Connect(ctx context.Context, token string, peer Peer) (*Session, error) {
	s := newSession(peer, newRateGate(g.sendInterval, g.now))

	id, err := g.auth.Authenticate(ctx, token)
	if err != nil {
		s.markClosed()
		peer.Close(ClosePolicyViolation, "authentication failed")
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	s.authenticate(id)

	g.presence.Serialize(id.UserID, func() {
		g.presence.Register(id.UserID, s)
		g.setUserStatus(ctx, id.UserID, domain.UserOnline)
		g.router.ToAllExcept(s, Event{Name: EventUserOnline, Data: userPayload{UserID: id.UserID}})
	})

	s.activate()
	slog.Info("Chat session active", "user_id", id.UserID, "session_id", s.ID())
	return s, nil
}

// Handle decodes and dispatches one inbound frame. Failures are reported to
// the originating session only.
func (g *Gateway) Handle(ctx context.Context, s *Session, raw []byte) {
	if s.State() != StateActive {
		return
	}

	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		g.router.ToSession(s, errorEvent("", s, validationError("malformed frame")))
		return
	}

	reply, err := g.dispatch.Dispatch(ctx, s, frame.Event, frame.Data)
	if err != nil {
		g.router.ToSession(s, errorEvent(frame.Event, s, err))
		return
	}
	if reply != nil {
		g.router.ToSession(s, *reply)
	}
}

// Disconnect tears the session down: presence is released, the user is
// announced offline when this session still owned the presence entry, and
// every joined room is told the user left. It runs to completion even if
// ctx is cancelled and is safe to call more than once.
func (g *Gateway) Disconnect(ctx context.Context, s *Session) {
	ctx = context.WithoutCancel(ctx)
	if !s.markClosed() {
		return
	}

	userID := s.UserID()
	g.presence.Serialize(userID, func() {
		if g.presence.Unregister(userID, s) {
			g.setUserStatus(ctx, userID, domain.UserOffline)
			g.router.ToAllExcept(s, Event{Name: EventUserOffline, Data: userPayload{UserID: userID}})
		}
	})

	for _, roomID := range g.rooms.LeaveAll(s) {
		g.router.ToRoom(roomID, Event{
			Name: EventUserLeftRoom,
			Data: roomUserPayload{RoomID: roomID, UserID: userID},
		}, s)
	}
	slog.Info("Chat session closed", "user_id", userID, "session_id", s.ID())
}

func (g *Gateway) setUserStatus(ctx context.Context, userID string, status domain.UserStatus) {
	err := store.WithRetry(ctx, "update user status", 3, 50*time.Millisecond, func(ctx context.Context) error {
		return g.repo.UpdateUserStatus(ctx, userID, status, g.now())
	})
	if err != nil {
		slog.Warn("Failed to persist user status", "user_id", userID, "status", status, "error", err)
	}
}

// OnlineUsers returns the stored records of every online user, in user ID order.
func (g *Gateway) OnlineUsers(ctx context.Context) ([]*domain.User, error) {
	ids := g.presence.ListOnline()
	if len(ids) == 0 {
		return []*domain.User{}, nil
	}

	users, err := g.repo.FindUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find online users: %w", err)
	}
	byID := make(map[string]*domain.User, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}

	out := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (g *Gateway) handleGetOnlineUsers(ctx context.Context, _ *Session, _ json.RawMessage) (*Event, error) {
	users, err := g.OnlineUsers(ctx)
	if err != nil {
		return nil, err
	}
	return &Event{Name: EventOnlineUsers, Data: onlineUsersPayload{Users: users}}, nil
}

func (g *Gateway) handleInitialPrivateChat(ctx context.Context, s *Session, data json.RawMessage) (*Event, error) {
	req, err := decode[privateChatRequest](data)
	if err != nil {
		return nil, err
	}
	if req.ReceiverID == "" {
		return nil, validationError("receiverId is required")
	}

	msgs, err := g.messages.RecentPrivate(ctx, s.UserID(), req.ReceiverID, g.historyLimit)
	if err != nil {
		return nil, err
	}
	return &Event{Name: EventPrivateChatInitiated, Data: privateChatPayload{
		WithUser: req.ReceiverID,
		Messages: msgs,
		IsOnline: g.presence.IsOnline(req.ReceiverID),
	}}, nil
}

func (g *Gateway) checkRate(s *Session) error {
	if !s.gate.Allow() {
		return fmt.Errorf("%w: please wait before sending another message", domain.ErrRateLimited)
	}
	return nil
}

func (g *Gateway) handleSendPrivateMessage(ctx context.Context, s *Session, data json.RawMessage) (*Event, error) {
	req, err := decode[sendPrivateRequest](data)
	if err != nil {
		return nil, err
	}
	if _, _, err := g.messages.normalize(req.Message, req.MessageType); err != nil {
		return nil, err
	}
	if req.ReceiverID == "" {
		return nil, validationError("receiverId is required")
	}
	if err := g.checkRate(s); err != nil {
		return nil, err
	}

	msg, err := g.messages.SendPrivate(ctx, s.UserID(), req.ReceiverID, req.Message, req.MessageType)
	if err != nil {
		return nil, err
	}
	g.router.DeliverPrivate(ctx, s, msg)
	return nil, nil
}

func (g *Gateway) handleJoinRoom(ctx context.Context, s *Session, data json.RawMessage) (*Event, error) {
	req, err := decode[roomRequest](data)
	if err != nil {
		return nil, err
	}

	res, err := g.rooms.Join(ctx, s, req.RoomID)
	if err != nil {
		return nil, err
	}

	if !res.Rejoined {
		id := s.Identity()
		g.router.ToRoom(req.RoomID, Event{Name: EventUserJoinedRoom, Data: roomUserPayload{
			RoomID: req.RoomID,
			UserID: id.UserID,
			User:   &domain.UserSummary{UserID: id.UserID, Username: id.DisplayName, Avatar: id.Avatar},
		}}, s)
	}

	return &Event{Name: EventRoomJoined, Data: roomJoinedPayload{
		Room:         res.Room,
		Participants: res.Participants,
		Messages:     res.Messages,
	}}, nil
}

func (g *Gateway) handleSendRoomMessage(ctx context.Context, s *Session, data json.RawMessage) (*Event, error) {
	req, err := decode[sendRoomRequest](data)
	if err != nil {
		return nil, err
	}
	if _, _, err := g.messages.normalize(req.Message, req.MessageType); err != nil {
		return nil, err
	}
	if req.RoomID == "" {
		return nil, validationError("roomId is required")
	}
	if !g.rooms.IsJoined(s, req.RoomID) {
		return nil, fmt.Errorf("%w: you have not joined room %s", domain.ErrAccessDenied, req.RoomID)
	}
	if err := g.checkRate(s); err != nil {
		return nil, err
	}

	msg, err := g.messages.SendRoom(ctx, s.UserID(), req.RoomID, req.Message, req.MessageType)
	if err != nil {
		return nil, err
	}
	g.router.DeliverRoom(msg)
	return nil, nil
}

// typingHandler builds the typing and stopTyping handlers, which differ
// only in the outbound event name.
func (g *Gateway) typingHandler(outbound string) HandlerFunc {
	return func(_ context.Context, s *Session, data json.RawMessage) (*Event, error) {
		req, err := decode[typingRequest](data)
		if err != nil {
			return nil, err
		}

		switch {
		case req.RoomID != "":
			if !g.rooms.IsJoined(s, req.RoomID) {
				return nil, fmt.Errorf("%w: you have not joined room %s", domain.ErrAccessDenied, req.RoomID)
			}
			g.router.ToRoom(req.RoomID, Event{Name: outbound, Data: typingPayload{UserID: s.UserID(), RoomID: req.RoomID}}, s)
		case req.ReceiverID != "":
			if req.ReceiverID != s.UserID() {
				g.router.ToUser(req.ReceiverID, Event{Name: outbound, Data: typingPayload{UserID: s.UserID()}})
			}
		default:
			return nil, validationError("roomId or receiverId is required")
		}
		return nil, nil
	}
}

func (g *Gateway) handleMarkMessageRead(ctx context.Context, s *Session, data json.RawMessage) (*Event, error) {
	req, err := decode[markReadRequest](data)
	if err != nil {
		return nil, err
	}

	msg, changed, err := g.messages.MarkRead(ctx, req.MessageID, s.UserID())
	if err != nil {
		return nil, err
	}
	if changed && msg.ReadAt != nil {
		g.router.ToUser(msg.SenderID, Event{Name: EventMessageRead, Data: messageReadPayload{
			MessageID: msg.MessageID,
			ReadAt:    *msg.ReadAt,
		}})
	}
	return nil, nil
}

func (g *Gateway) handleLeaveRoom(_ context.Context, s *Session, data json.RawMessage) (*Event, error) {
	req, err := decode[roomRequest](data)
	if err != nil {
		return nil, err
	}
	if req.RoomID == "" {
		return nil, validationError("roomId is required")
	}

	if g.rooms.Leave(s, req.RoomID) {
		g.router.ToRoom(req.RoomID, Event{Name: EventUserLeft, Data: roomUserPayload{
			RoomID: req.RoomID,
			UserID: s.UserID(),
		}}, s)
	}
	return nil, nil
}
