package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/ashureev/chatgate/internal/store"
)

// StatusStore is the subset of the repository the sweeper needs.
type StatusStore interface {
	ListUsersByStatus(ctx context.Context, status domain.UserStatus) ([]*domain.User, error)
	UpdateUserStatus(ctx context.Context, userID string, status domain.UserStatus, lastSeen time.Time) error
}

// OnlineChecker reports whether a user currently holds a live connection
// and serializes presence changes per user.
type OnlineChecker interface {
	IsOnline(userID string) bool
	Serialize(userID string, fn func())
}

// StartSweeper runs Sweep once immediately and then every interval until
// ctx is cancelled. It repairs users left marked online after a crash or
// a missed disconnect.
func StartSweeper(ctx context.Context, users StatusStore, online OnlineChecker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Presence sweeper started", "interval", interval)

		Sweep(ctx, users, online)
		for {
			select {
			case <-ticker.C:
				Sweep(ctx, users, online)
			case <-ctx.Done():
				slog.Info("Presence sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep marks every user stored as online but absent from the registry as
// offline and returns how many users it corrected.
func Sweep(ctx context.Context, users StatusStore, online OnlineChecker) int {
	stored, err := users.ListUsersByStatus(ctx, domain.UserOnline)
	if err != nil {
		slog.Error("Presence sweeper failed to list online users", "error", err)
		return 0
	}

	corrected := 0
	for _, user := range stored {
		var (
			swept bool
			err   error
		)
		online.Serialize(user.UserID, func() {
			if online.IsOnline(user.UserID) {
				return
			}
			swept = true
			err = store.WithRetry(ctx, "mark user offline", 3, 50*time.Millisecond, func(ctx context.Context) error {
				return users.UpdateUserStatus(ctx, user.UserID, domain.UserOffline, time.Now())
			})
		})
		if !swept {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				slog.Debug("Presence sweeper cancelled, cleanup may be incomplete", "user_id", user.UserID, "error", err)
				return corrected
			}
			slog.Warn("Presence sweeper failed to mark user offline", "user_id", user.UserID, "error", err)
			continue
		}
		corrected++
	}

	if corrected > 0 {
		slog.Info("Presence sweeper corrected stale users", "count", corrected)
	}
	return corrected
}
