package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/ashureev/chatgate/internal/identity"
	"github.com/coder/websocket"
)

const (
	// DefaultSendQueue is the outbound frame buffer per connection.
	DefaultSendQueue = 64
	// DefaultReadLimit bounds a single inbound frame.
	DefaultReadLimit = 64 << 10
)

// WebSocketHandler upgrades HTTP requests and runs each connection through the Gateway.
type WebSocketHandler struct {
	gateway        *Gateway
	allowedOrigins []string
	isDev          bool
	sendQueue      int
	readLimit      int64
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(gateway *Gateway, allowedOrigins []string, isDev bool, sendQueue int, readLimit int64) *WebSocketHandler {
	if sendQueue <= 0 {
		sendQueue = DefaultSendQueue
	}
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	return &WebSocketHandler{
		gateway:        gateway,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		sendQueue:      sendQueue,
		readLimit:      readLimit,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.Info("WebSocket connection request", "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	ws.SetReadLimit(h.readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	peer := newWSPeer(ctx, ws, h.sendQueue)
	defer peer.Close(CloseNormal, "session ended")

	sess, err := h.gateway.Connect(ctx, identity.TokenFromRequest(r), peer)
	if err != nil {
		slog.Warn("WebSocket authentication failed", "error", err, "ip", identity.IPFromRequest(r))
		return
	}
	defer h.gateway.Disconnect(ctx, sess)

	h.readLoop(ctx, ws, sess)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") {
		return true
	}
	if slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

// readLoop processes frames one at a time until the transport fails.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sess *Session) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", sess.UserID())
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", sess.UserID())
			}
			return
		}
		if typ != websocket.MessageText {
			h.gateway.router.ToSession(sess, errorEvent("", sess, validationError("binary frames are not supported")))
			continue
		}
		h.gateway.Handle(ctx, sess, data)
	}
}

// wsPeer serializes events on the caller's goroutine and writes them from a
// single writer goroutine through a bounded queue.
type wsPeer struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	out    chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newWSPeer(ctx context.Context, conn *websocket.Conn, queue int) *wsPeer {
	ctx, cancel := context.WithCancel(ctx)
	p := &wsPeer{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan []byte, queue),
		done:   make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

// Send implements Peer. A full queue drops the frame.
func (p *wsPeer) Send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: connection closed", domain.ErrTransportFailure)
	}

	select {
	case p.out <- data:
		return nil
	default:
		slog.Warn("WebSocket send queue full, dropping frame", "event", ev.Name, "queue_len", len(p.out))
		return fmt.Errorf("%w: send queue full", domain.ErrTransportFailure)
	}
}

func (p *wsPeer) writeLoop() {
	defer close(p.done)
	for {
		select {
		case data, ok := <-p.out:
			if !ok {
				return
			}
			if err := p.conn.Write(p.ctx, websocket.MessageText, data); err != nil {
				slog.Debug("WebSocket write error", "error", err)
				p.cancel()
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// Close implements Peer. Queued frames are flushed before the close
// handshake unless the connection context is already done.
func (p *wsPeer) Close(code CloseCode, reason string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.out)
	p.mu.Unlock()

	<-p.done
	status := websocket.StatusNormalClosure
	if code == ClosePolicyViolation {
		status = websocket.StatusPolicyViolation
	}
	if err := p.conn.Close(status, reason); err != nil {
		slog.Debug("Failed to close websocket", "error", err)
	}
	p.cancel()
}
