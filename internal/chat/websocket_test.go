package chat

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/ashureev/chatgate/internal/identity"
	"github.com/ashureev/chatgate/internal/store"
	"github.com/coder/websocket"
)

func newWSServer(t *testing.T) (*httptest.Server, *identity.JWTAuthenticator) {
	t.Helper()
	repo := store.NewMemoryStore()
	for _, id := range []string{"alice", "bob"} {
		if err := repo.UpsertUser(context.Background(), &domain.User{UserID: id, Username: id}); err != nil {
			t.Fatalf("UpsertUser() error = %v", err)
		}
	}

	auth := identity.NewJWTAuthenticator("ws-secret", repo)
	gw := NewGateway(auth, repo, Options{SendInterval: time.Millisecond})
	srv := httptest.NewServer(NewWebSocketHandler(gw, nil, true, 0, 0))
	t.Cleanup(srv.Close)
	return srv, auth
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// readUntil reads frames until one named name arrives.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, name string) frame {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read() waiting for %s: %v", name, err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode frame %s: %v", data, err)
		}
		if f.Event == name {
			return f
		}
	}
}

func TestWebSocketHandler_RejectsBadToken(t *testing.T) {
	srv, _ := newWSServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, srv, "garbage")
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Errorf("Read() error = %v, want policy violation close", err)
	}
}

func TestWebSocketHandler_PrivateMessageRoundTrip(t *testing.T) {
	srv, auth := newWSServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aliceToken, err := auth.Issue("alice", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	bobToken, err := auth.Issue("bob", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	alice := dial(t, ctx, srv, aliceToken)
	// Wait until alice is registered before bob connects.
	if err := alice.Write(ctx, websocket.MessageText, []byte(`{"event":"getOnlineUsers"}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	readUntil(t, ctx, alice, EventOnlineUsers)

	bob := dial(t, ctx, srv, bobToken)
	online := readUntil(t, ctx, alice, EventUserOnline)
	if decodeData[userPayload](t, online).UserID != "bob" {
		t.Errorf("userOnline = %s, want bob", online.Data)
	}

	msg := `{"event":"sendPrivateMessage","data":{"receiverId":"bob","message":"over the wire"}}`
	if err := alice.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got := decodeData[messageEvent](t, readUntil(t, ctx, bob, EventNewPrivateMessage))
	if got.Message.Body != "over the wire" || got.Message.SenderID != "alice" {
		t.Errorf("bob received %+v", got.Message)
	}
	echo := decodeData[messageEvent](t, readUntil(t, ctx, alice, EventNewPrivateMessage))
	if echo.Message.MessageID != got.Message.MessageID {
		t.Errorf("echo id %q != delivered id %q", echo.Message.MessageID, got.Message.MessageID)
	}

	if err := bob.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	offline := readUntil(t, ctx, alice, EventUserOffline)
	if decodeData[userPayload](t, offline).UserID != "bob" {
		t.Errorf("userOffline = %s, want bob", offline.Data)
	}
}
