package chat

import (
	"bytes"
	"context"
	"encoding/json"
)

// HandlerFunc handles one inbound event. The returned event, if any, is sent
// back to the originating session; a returned error becomes an Error frame.
type HandlerFunc func(ctx context.Context, s *Session, data json.RawMessage) (*Event, error)

// Dispatcher maps inbound event names to handlers.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

// NewDispatcher creates an empty dispatch table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Register binds name to h, replacing any earlier binding.
func (d *Dispatcher) Register(name string, h HandlerFunc) {
	d.handlers[name] = h
}

// Dispatch runs the handler bound to name.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, name string, data json.RawMessage) (*Event, error) {
	h, ok := d.handlers[name]
	if !ok {
		return nil, validationError("unknown event %q", name)
	}
	return h(ctx, s, data)
}

// decode unmarshals a handler payload. An absent or null payload yields the zero value.
func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, validationError("malformed payload")
	}
	return v, nil
}
