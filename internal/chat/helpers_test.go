package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/ashureev/chatgate/internal/identity"
	"github.com/ashureev/chatgate/internal/store"
)

// frame is an outbound event as a client would decode it.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// recorder is a Peer that keeps every frame it is sent.
type recorder struct {
	mu        sync.Mutex
	frames    []frame
	closed    bool
	closeCode CloseCode
}

func (r *recorder) Send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("%w: recorder closed", domain.ErrTransportFailure)
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) Close(code CloseCode, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.closeCode = code
}

func (r *recorder) events(name string) []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []frame
	for _, f := range r.frames {
		if f.Event == name {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

// lastError returns the message of the most recent Error frame, or "".
func (r *recorder) lastError() string {
	errs := r.events(EventError)
	if len(errs) == 0 {
		return ""
	}
	var p errorPayload
	_ = json.Unmarshal(errs[len(errs)-1].Data, &p)
	return p.Message
}

// fakeAuth treats the token as the user ID of a known identity.
type fakeAuth map[string]domain.Identity

func (f fakeAuth) Authenticate(_ context.Context, token string) (domain.Identity, error) {
	id, ok := f[token]
	if !ok {
		return domain.Identity{}, identity.ErrInvalidToken
	}
	return id, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t     *testing.T
	repo  *store.MemoryStore
	gw    *Gateway
	clock *fakeClock
}

func newHarness(t *testing.T, users ...string) *harness {
	t.Helper()
	repo := store.NewMemoryStore()
	auth := fakeAuth{}
	for _, id := range users {
		if err := repo.UpsertUser(context.Background(), &domain.User{UserID: id, Username: id + "-name"}); err != nil {
			t.Fatalf("UpsertUser(%s) error = %v", id, err)
		}
		auth[id] = domain.Identity{UserID: id, DisplayName: id + "-name"}
	}

	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	gw := NewGateway(auth, repo, Options{Now: clock.Now})
	return &harness{t: t, repo: repo, gw: gw, clock: clock}
}

func (h *harness) connect(userID string) (*Session, *recorder) {
	h.t.Helper()
	rec := &recorder{}
	s, err := h.gw.Connect(context.Background(), userID, rec)
	if err != nil {
		h.t.Fatalf("Connect(%s) error = %v", userID, err)
	}
	return s, rec
}

func (h *harness) send(s *Session, event string, data any) {
	h.t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		h.t.Fatalf("marshal frame: %v", err)
	}
	h.gw.Handle(context.Background(), s, raw)
}

func (h *harness) room(roomID string, participants ...string) {
	h.t.Helper()
	_, err := h.repo.CreateRoom(context.Background(), &domain.Room{RoomID: roomID, Name: roomID, Participants: participants})
	if err != nil {
		h.t.Fatalf("CreateRoom(%s) error = %v", roomID, err)
	}
}

func (h *harness) join(s *Session, rec *recorder, roomID string) {
	h.t.Helper()
	h.send(s, EventJoinRoom, map[string]string{"roomId": roomID})
	if len(rec.events(EventRoomJoined)) == 0 {
		h.t.Fatalf("join %s: no roomJoined, last error %q", roomID, rec.lastError())
	}
}

func decodeData[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		t.Fatalf("decode %s payload: %v", f.Event, err)
	}
	return v
}

// messageEvent mirrors messagePayload for decoding in tests.
type messageEvent struct {
	RoomID  string         `json:"roomId"`
	Message domain.Message `json:"message"`
}
