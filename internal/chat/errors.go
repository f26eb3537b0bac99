package chat

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/chatgate/internal/domain"
)

var clientErrors = []error{
	domain.ErrValidation,
	domain.ErrAccessDenied,
	domain.ErrRateLimited,
	domain.ErrNotAuthorized,
	domain.ErrNotFound,
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}

// ErrorMessage renders err for the client. Errors outside the chat taxonomy
// collapse to "internal error" so storage details never leak.
func ErrorMessage(err error) string {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return err.Error()
		}
	}
	return "internal error"
}

// errorEvent converts a handler failure into the outbound Error frame.
func errorEvent(event string, s *Session, err error) Event {
	msg := ErrorMessage(err)
	if msg == "internal error" {
		slog.Error("Chat handler failed", "event", event, "user_id", s.UserID(), "session_id", s.ID(), "error", err)
	} else {
		slog.Debug("Chat handler rejected event", "event", event, "user_id", s.UserID(), "error", err)
	}
	return Event{Name: EventError, Data: errorPayload{Message: msg}}
}
