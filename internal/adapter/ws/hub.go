// Package ws implements the real-time channel registry over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/neomorfeo/backoffice/internal/domain"
)

// Compile-time check: Hub implements the domain registry.
var _ domain.Notifier = (*Hub)(nil)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// conn wraps a single WebSocket connection together with the identity of
// the principal holding it. A principal may hold several connections
// (multiple tabs, devices).
type conn struct {
	ws           *websocket.Conn
	cancel       context.CancelFunc
	principalID  string
	role         domain.Role
	enterpriseID string
}

// Hub manages all active WebSocket connections and routes events to
// principals by identity, enterprise, or role. Delivery is best-effort: a
// failed write drops that connection and never blocks the others.
type Hub struct {
	verifier domain.CredentialVerifier

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a hub that authenticates connections with the given
// verifier.
func NewHub(verifier domain.CredentialVerifier) *Hub {
	return &Hub{
		verifier: verifier,
		conns:    make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request to a WebSocket connection. The credential
// travels as a ?token= query parameter because browsers cannot set headers
// on WebSocket handshakes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
		return
	}

	principal, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, `{"error":"invalid credential"}`, http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:           ws,
		cancel:       cancel,
		principalID:  principal.ID,
		role:         principal.Role,
		enterpriseID: principal.EnterpriseID(),
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "principal_id", principal.ID, "role", string(principal.Role))

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Send delivers an event to every open connection of one principal. A
// principal without an open channel is not an error.
func (h *Hub) Send(ctx context.Context, principalID, event string, payload any) {
	h.deliver(ctx, event, payload, func(c *conn) bool {
		return c.principalID == principalID
	})
}

// BroadcastToEnterpriseAdmins delivers an event to every connected admin
// of the given enterprise.
func (h *Hub) BroadcastToEnterpriseAdmins(ctx context.Context, enterpriseID, event string, payload any) {
	if enterpriseID == "" {
		return
	}
	h.deliver(ctx, event, payload, func(c *conn) bool {
		return c.role == domain.RoleAdmin && c.enterpriseID == enterpriseID
	})
}

// BroadcastToSuperadmins delivers an event to every connected superadmin.
func (h *Hub) BroadcastToSuperadmins(ctx context.Context, event string, payload any) {
	h.deliver(ctx, event, payload, func(c *conn) bool {
		return c.role == domain.RoleSuperadmin
	})
}

func (h *Hub) deliver(ctx context.Context, event string, payload any, match func(*conn) bool) {
	data, err := json.Marshal(Message{Event: event, Payload: payload})
	if err != nil {
		slog.Error("websocket marshal failed", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if !match(c) {
			continue
		}
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "principal_id", c.principalID, "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "principal_id", c.principalID)
	}
}
