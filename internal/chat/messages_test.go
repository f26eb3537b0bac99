package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/ashureev/chatgate/internal/store"
)

func TestRateGate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newRateGate(500*time.Millisecond, clock.Now)

	if !g.Allow() {
		t.Fatal("first Allow() = false")
	}
	clock.Advance(499 * time.Millisecond)
	if g.Allow() {
		t.Error("Allow() inside window = true")
	}
	clock.Advance(101 * time.Millisecond)
	if !g.Allow() {
		t.Error("Allow() after window = false")
	}

	unlimited := newRateGate(-1, clock.Now)
	if !unlimited.Allow() || !unlimited.Allow() {
		t.Error("disabled gate rejected a send")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{validationError("message is required"), "validation error: message is required"},
		{fmt.Errorf("%w: room r1", domain.ErrAccessDenied), "access denied: room r1"},
		{fmt.Errorf("wrap: %w", domain.ErrRateLimited), "wrap: rate limited"},
		{errors.New("sqlite: disk I/O error"), "internal error"},
		{fmt.Errorf("%w: gone", domain.ErrTransportFailure), "internal error"},
	}
	for _, tt := range tests {
		if got := ErrorMessage(tt.err); got != tt.want {
			t.Errorf("ErrorMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestDecode(t *testing.T) {
	req, err := decode[roomRequest](nil)
	if err != nil || req.RoomID != "" {
		t.Errorf("decode(nil) = %+v, %v", req, err)
	}
	req, err = decode[roomRequest]([]byte(`{"roomId":"r1"}`))
	if err != nil || req.RoomID != "r1" {
		t.Errorf("decode(r1) = %+v, %v", req, err)
	}
	if _, err := decode[roomRequest]([]byte(`[1,2]`)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("decode(array) error = %v, want ErrValidation", err)
	}
}

func TestMessages_Validation(t *testing.T) {
	m := NewMessages(store.NewMemoryStore(), 8, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		receiver string
		body     string
		kind     domain.ContentKind
	}{
		{"blank body", "bob", " \t\n", ""},
		{"missing receiver", "", "hi", ""},
		{"unknown kind", "bob", "hi", "video"},
		{"too long", "bob", "123456789", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.SendPrivate(ctx, "alice", tt.receiver, tt.body, tt.kind)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("SendPrivate() error = %v, want ErrValidation", err)
			}
		})
	}

	msg, err := m.SendPrivate(ctx, "alice", "bob", "pic", domain.ContentImage)
	if err != nil {
		t.Fatalf("SendPrivate(image) error = %v", err)
	}
	if msg.ContentKind != domain.ContentImage || msg.MessageType != domain.MessagePrivate {
		t.Errorf("message = %+v, want private image", msg)
	}

	if _, err := m.SendRoom(ctx, "alice", "", "hi", ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("SendRoom(no room) error = %v, want ErrValidation", err)
	}
	if _, err := m.SendRoom(ctx, "alice", "ghost-room", "hi", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("SendRoom(missing room) error = %v, want ErrNotFound", err)
	}
}

func TestMessages_StatusNeverReverts(t *testing.T) {
	repo := store.NewMemoryStore()
	m := NewMessages(repo, 0, nil)
	ctx := context.Background()

	msg, err := m.SendPrivate(ctx, "alice", "bob", "hi", "")
	if err != nil {
		t.Fatalf("SendPrivate() error = %v", err)
	}

	read, changed, err := m.MarkRead(ctx, msg.MessageID, "bob")
	if err != nil || !changed || read.Status != domain.StatusRead {
		t.Fatalf("MarkRead() = %+v, %v, %v; want read, changed", read, changed, err)
	}

	// The in-flight copy still says sent; delivering it must not move the stored status back.
	if err := m.MarkDelivered(ctx, msg); err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}
	stored, _ := repo.GetMessage(ctx, msg.MessageID)
	if stored.Status != domain.StatusRead {
		t.Errorf("stored status = %q, want read", stored.Status)
	}

	if err := m.MarkDelivered(ctx, read); err != nil || read.Status != domain.StatusRead {
		t.Errorf("MarkDelivered(read) = %v, status %q; want no-op", err, read.Status)
	}

	_, changed, err = m.MarkRead(ctx, msg.MessageID, "bob")
	if err != nil || changed {
		t.Errorf("second MarkRead() changed=%v err=%v, want no-op", changed, err)
	}
}

func TestMessages_RoomMessageCannotBeMarkedRead(t *testing.T) {
	repo := store.NewMemoryStore()
	ctx := context.Background()
	if _, err := repo.CreateRoom(ctx, &domain.Room{RoomID: "r1", Participants: []string{"alice", "bob"}}); err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}
	m := NewMessages(repo, 0, nil)

	msg, err := m.SendRoom(ctx, "alice", "r1", "hello", "")
	if err != nil {
		t.Fatalf("SendRoom() error = %v", err)
	}
	if _, _, err := m.MarkRead(ctx, msg.MessageID, "bob"); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("MarkRead(room message) error = %v, want ErrNotAuthorized", err)
	}
}
