package chat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/ashureev/chatgate/internal/store"
)

// DefaultHistoryLimit is the backlog size returned when a chat is opened.
const DefaultHistoryLimit = 50

// Messages creates messages and drives their sent, delivered, read lifecycle.
type Messages struct {
	repo     store.Repository
	maxBytes int
	now      func() time.Time
}

// NewMessages creates a lifecycle manager. maxBytes <= 0 disables the body size check.
func NewMessages(repo store.Repository, maxBytes int, now func() time.Time) *Messages {
	if now == nil {
		now = time.Now
	}
	return &Messages{repo: repo, maxBytes: maxBytes, now: now}
}

// normalize trims body and defaults kind to text.
func (m *Messages) normalize(body string, kind domain.ContentKind) (string, domain.ContentKind, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", "", validationError("message is required")
	}
	if m.maxBytes > 0 && len(body) > m.maxBytes {
		return "", "", validationError("message exceeds %d bytes", m.maxBytes)
	}
	if kind == "" {
		kind = domain.ContentText
	}
	if !kind.Valid() {
		return "", "", validationError("unknown message type %q", kind)
	}
	return body, kind, nil
}

// SendPrivate persists a private message with status sent.
func (m *Messages) SendPrivate(ctx context.Context, senderID, receiverID, body string, kind domain.ContentKind) (*domain.Message, error) {
	body, kind, err := m.normalize(body, kind)
	if err != nil {
		return nil, err
	}
	if receiverID == "" {
		return nil, validationError("receiverId is required")
	}

	msg, err := m.repo.CreateMessage(ctx, &domain.Message{
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Body:        body,
		MessageType: domain.MessagePrivate,
		ContentKind: kind,
		Status:      domain.StatusSent,
		CreatedAt:   m.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create private message: %w", err)
	}

	m.attachUsers(ctx, msg)
	return msg, nil
}

// SendRoom persists a room message and appends it to the room.
func (m *Messages) SendRoom(ctx context.Context, senderID, roomID, body string, kind domain.ContentKind) (*domain.Message, error) {
	body, kind, err := m.normalize(body, kind)
	if err != nil {
		return nil, err
	}
	if roomID == "" {
		return nil, validationError("roomId is required")
	}

	msg, err := m.repo.CreateMessage(ctx, &domain.Message{
		SenderID:    senderID,
		RoomID:      roomID,
		Body:        body,
		MessageType: domain.MessageRoom,
		ContentKind: kind,
		Status:      domain.StatusSent,
		CreatedAt:   m.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create room message: %w", err)
	}

	if err := m.repo.AppendMessageToRoom(ctx, roomID, msg.MessageID); err != nil {
		return nil, fmt.Errorf("append room message: %w", err)
	}

	m.attachUsers(ctx, msg)
	return msg, nil
}

// MarkDelivered advances msg from sent to delivered. Any later status is left alone.
func (m *Messages) MarkDelivered(ctx context.Context, msg *domain.Message) error {
	if !msg.Status.CanAdvanceTo(domain.StatusDelivered) {
		return nil
	}
	if err := m.repo.UpdateMessageStatus(ctx, msg.MessageID, domain.StatusDelivered, nil); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	msg.Status = domain.StatusDelivered
	return nil
}

// MarkRead records that readerID read the message. It reports changed=false
// when the message was already read.
func (m *Messages) MarkRead(ctx context.Context, messageID, readerID string) (*domain.Message, bool, error) {
	if messageID == "" {
		return nil, false, validationError("messageId is required")
	}

	msg, err := m.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, false, fmt.Errorf("get message: %w", err)
	}
	if msg == nil {
		return nil, false, fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
	}
	if !msg.IsPrivate() || msg.ReceiverID != readerID {
		return nil, false, fmt.Errorf("%w: only the receiver can mark a message read", domain.ErrNotAuthorized)
	}
	if !msg.Status.CanAdvanceTo(domain.StatusRead) {
		return msg, false, nil
	}

	readAt := m.now()
	if err := m.repo.UpdateMessageStatus(ctx, messageID, domain.StatusRead, &readAt); err != nil {
		return nil, false, fmt.Errorf("mark read: %w", err)
	}
	msg.Status = domain.StatusRead
	msg.ReadAt = &readAt
	return msg, true, nil
}

// RecentPrivate returns up to limit messages between a and b in chronological order.
func (m *Messages) RecentPrivate(ctx context.Context, a, b string, limit int) ([]*domain.Message, error) {
	return m.recent(ctx, store.ConversationFilter(a, b), limit)
}

// RecentRoom returns up to limit messages of roomID in chronological order.
func (m *Messages) RecentRoom(ctx context.Context, roomID string, limit int) ([]*domain.Message, error) {
	return m.recent(ctx, store.RoomFilter(roomID), limit)
}

func (m *Messages) recent(ctx context.Context, filter store.MessageFilter, limit int) ([]*domain.Message, error) {
	msgs, err := m.repo.FindRecentMessages(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("find recent messages: %w", err)
	}
	slices.Reverse(msgs)
	m.attachUsers(ctx, msgs...)
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	return msgs, nil
}

// attachUsers resolves sender and receiver display fields. Lookup failures
// leave the messages bare; they are already persisted.
func (m *Messages) attachUsers(ctx context.Context, msgs ...*domain.Message) {
	if len(msgs) == 0 {
		return
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, msg := range msgs {
		for _, id := range []string{msg.SenderID, msg.ReceiverID} {
			if _, ok := seen[id]; id == "" || ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	users, err := m.repo.FindUsersByIDs(ctx, ids)
	if err != nil {
		slog.Warn("Failed to resolve message users", "error", err)
		return
	}
	byID := make(map[string]*domain.User, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}

	for _, msg := range msgs {
		if u, ok := byID[msg.SenderID]; ok {
			msg.Sender = u.Summary()
		}
		if u, ok := byID[msg.ReceiverID]; ok && msg.ReceiverID != "" {
			msg.Receiver = u.Summary()
		}
	}
}
