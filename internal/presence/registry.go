// Package presence tracks which users currently hold a live connection.
package presence

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry maps a user ID to the single connection handle currently
// representing that user. A later Register for the same user replaces the
// earlier handle.
type Registry[H comparable] struct {
	mu     sync.RWMutex
	active map[string]H

	locksMu sync.Mutex
	locks   map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates an empty registry.
func NewRegistry[H comparable]() *Registry[H] {
	return &Registry[H]{
		active: make(map[string]H),
		locks:  make(map[string]*userLock),
	}
}

// Serialize runs fn while holding the lock for userID. Presence changes
// and the status writes and broadcasts that follow them must run inside
// it so that they cannot interleave with another change for the same user.
func (r *Registry[H]) Serialize(userID string, fn func()) {
	r.locksMu.Lock()
	l, ok := r.locks[userID]
	if !ok {
		l = &userLock{}
		r.locks[userID] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, userID)
		}
		r.locksMu.Unlock()
	}()
	fn()
}

// Register installs h as the handle for userID and returns the handle it
// replaced, if any.
func (r *Registry[H]) Register(userID string, h H) (prev H, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, replaced = r.active[userID]
	if replaced && prev == h {
		replaced = false
	}
	r.active[userID] = h
	slog.Info("Presence registered", "user_id", userID, "replaced", replaced)
	return prev, replaced
}

// Unregister removes the entry for userID only when it still points at h.
// It reports whether an entry was removed.
func (r *Registry[H]) Unregister(userID string, h H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.active[userID]
	if !ok || current != h {
		slog.Debug("Stale presence unregister ignored", "user_id", userID)
		return false
	}
	delete(r.active, userID)
	slog.Info("Presence unregistered", "user_id", userID)
	return true
}

// Lookup returns the handle registered for userID.
func (r *Registry[H]) Lookup(userID string) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.active[userID]
	return h, ok
}

// IsOnline reports whether userID has a registered handle.
func (r *Registry[H]) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// ListOnline returns the IDs of all registered users in sorted order.
func (r *Registry[H]) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Handles returns a snapshot of every registered handle.
func (r *Registry[H]) Handles() []H {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]H, 0, len(r.active))
	for _, h := range r.active {
		out = append(out, h)
	}
	return out
}

// Len returns the number of online users.
func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
