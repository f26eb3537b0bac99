package presence

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
)

type conn struct{ name string }

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewRegistry[*conn]()
	c := &conn{"a"}

	if _, replaced := r.Register("user1", c); replaced {
		t.Error("Register() on empty registry reported a replacement")
	}
	if got, ok := r.Lookup("user1"); !ok || got != c {
		t.Errorf("Lookup() = %v, %v; want %v, true", got, ok, c)
	}

	if !r.Unregister("user1", c) {
		t.Error("Unregister() = false, want true")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after round trip, want 0", r.Len())
	}
}

func TestRegistry_UnregisterStale(t *testing.T) {
	r := NewRegistry[*conn]()
	older := &conn{"old"}
	newer := &conn{"new"}

	r.Register("user1", older)
	prev, replaced := r.Register("user1", newer)
	if !replaced || prev != older {
		t.Errorf("Register() = %v, %v; want %v, true", prev, replaced, older)
	}

	if r.Unregister("user1", older) {
		t.Error("stale Unregister() = true, want false")
	}
	if got, _ := r.Lookup("user1"); got != newer {
		t.Errorf("Lookup() = %v after stale unregister, want %v", got, newer)
	}
}

func TestRegistry_ListOnlineSorted(t *testing.T) {
	r := NewRegistry[*conn]()
	r.Register("carol", &conn{})
	r.Register("alice", &conn{})
	r.Register("bob", &conn{})

	want := []string{"alice", "bob", "carol"}
	if got := r.ListOnline(); !slices.Equal(got, want) {
		t.Errorf("ListOnline() = %v, want %v", got, want)
	}
	if len(r.Handles()) != 3 {
		t.Errorf("Handles() returned %d entries, want 3", len(r.Handles()))
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry[*conn]()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		c := &conn{}
		go func() {
			defer wg.Done()
			r.Register("shared", c)
			r.Unregister("shared", c)
		}()
		go func() {
			defer wg.Done()
			_ = r.ListOnline()
		}()
	}
	wg.Wait()

	if r.Len() > 1 {
		t.Errorf("Len() = %d, want at most 1", r.Len())
	}
}

type fakeStatusStore struct {
	mu       sync.Mutex
	users    map[string]domain.UserStatus
	failures int
}

func (f *fakeStatusStore) ListUsersByStatus(_ context.Context, status domain.UserStatus) ([]*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.User
	for id, st := range f.users {
		if st == status {
			out = append(out, &domain.User{UserID: id, Status: st})
		}
	}
	return out, nil
}

func (f *fakeStatusStore) UpdateUserStatus(_ context.Context, userID string, status domain.UserStatus, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("database is locked")
	}
	f.users[userID] = status
	return nil
}

func TestSweep_MarksDisconnectedUsersOffline(t *testing.T) {
	users := &fakeStatusStore{
		users: map[string]domain.UserStatus{
			"live":  domain.UserOnline,
			"stale": domain.UserOnline,
			"gone":  domain.UserOffline,
		},
		failures: 1,
	}
	r := NewRegistry[*conn]()
	r.Register("live", &conn{})

	if got := Sweep(context.Background(), users, r); got != 1 {
		t.Errorf("Sweep() = %d, want 1", got)
	}
	if users.users["stale"] != domain.UserOffline {
		t.Errorf("stale user status = %q, want offline", users.users["stale"])
	}
	if users.users["live"] != domain.UserOnline {
		t.Errorf("live user status = %q, want online", users.users["live"])
	}
}

// gatedStatusStore blocks the first offline write until released.
type gatedStatusStore struct {
	*fakeStatusStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStatusStore) UpdateUserStatus(ctx context.Context, userID string, status domain.UserStatus, lastSeen time.Time) error {
	if status == domain.UserOffline {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.fakeStatusStore.UpdateUserStatus(ctx, userID, status, lastSeen)
}

func (f *fakeStatusStore) status(userID string) domain.UserStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID]
}

func TestSweep_DoesNotOverwriteConcurrentConnect(t *testing.T) {
	users := &gatedStatusStore{
		fakeStatusStore: &fakeStatusStore{users: map[string]domain.UserStatus{"alice": domain.UserOnline}},
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	r := NewRegistry[*conn]()
	c := &conn{"alice"}

	swept := make(chan int, 1)
	go func() { swept <- Sweep(context.Background(), users, r) }()
	<-users.entered

	connected := make(chan struct{})
	go func() {
		r.Serialize("alice", func() {
			r.Register("alice", c)
			_ = users.UpdateUserStatus(context.Background(), "alice", domain.UserOnline, time.Now())
		})
		close(connected)
	}()

	select {
	case <-connected:
		t.Fatal("connect finished while the sweeper was marking the user offline")
	case <-time.After(50 * time.Millisecond):
	}

	close(users.release)
	<-connected
	if got := <-swept; got != 1 {
		t.Errorf("Sweep() = %d, want 1", got)
	}
	if !r.IsOnline("alice") {
		t.Error("alice not registered after connect")
	}
	if got := users.status("alice"); got != domain.UserOnline {
		t.Errorf("stored alice status = %q, want online", got)
	}
}

func TestRegistry_SerializeReleasesLocks(t *testing.T) {
	r := NewRegistry[*conn]()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Serialize("alice", func() { counter++ })
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	if len(r.locks) != 0 {
		t.Errorf("%d user locks left after Serialize returned", len(r.locks))
	}
}
