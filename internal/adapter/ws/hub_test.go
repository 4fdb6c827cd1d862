package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/neomorfeo/backoffice/internal/domain"
)

type stubVerifier struct {
	principals map[string]domain.Principal
}

func (v *stubVerifier) Verify(_ context.Context, token string) (domain.Principal, error) {
	p, ok := v.principals[token]
	if !ok {
		return domain.Principal{}, domain.ErrInvalidCredential
	}
	return p, nil
}

func newTestHub() *Hub {
	return NewHub(&stubVerifier{principals: map[string]domain.Principal{
		"tok-user": {ID: "u-1", Role: domain.RoleUser},
		"tok-admin": {ID: "adm-1", Role: domain.RoleAdmin,
			Enterprise: &domain.Enterprise{EnterpriseID: "ent-1", CompanyName: "Acme"}},
		"tok-other-admin": {ID: "adm-2", Role: domain.RoleAdmin,
			Enterprise: &domain.Enterprise{EnterpriseID: "ent-2", CompanyName: "Globex"}},
		"tok-super": {ID: "sa-1", Role: domain.RoleSuperadmin},
	}})
}

func dial(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(server.URL, "http://", "ws://", 1) + "?token=" + token
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", token, err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readEvent(t *testing.T, c *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("reading message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decoding message: %v", err)
	}
	return msg
}

// assertSilent verifies no message arrives on the connection within a short
// window.
func assertSilent(t *testing.T, c *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if _, data, err := c.Read(ctx); err == nil {
		t.Fatalf("unexpected message: %s", data)
	}
}

func waitForConnections(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ConnectionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("connection count = %d, want %d", hub.ConnectionCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleWS_RejectsMissingToken(t *testing.T) {
	hub := newTestHub()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHandleWS_RejectsBadToken(t *testing.T) {
	hub := newTestHub()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	resp, err := http.Get(server.URL + "?token=bogus")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if hub.ConnectionCount() != 0 {
		t.Errorf("connection registered despite rejection")
	}
}

func TestSend_ReachesAllConnectionsOfPrincipal(t *testing.T) {
	hub := newTestHub()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	tab1 := dial(t, server, "tok-user")
	tab2 := dial(t, server, "tok-user")
	admin := dial(t, server, "tok-admin")
	waitForConnections(t, hub, 3)

	hub.Send(context.Background(), "u-1", "ticket_updated", map[string]string{"ticket_id": "tk-1"})

	for _, c := range []*websocket.Conn{tab1, tab2} {
		msg := readEvent(t, c)
		if msg.Event != "ticket_updated" {
			t.Errorf("event = %q, want ticket_updated", msg.Event)
		}
	}
	assertSilent(t, admin)
}

func TestBroadcastToEnterpriseAdmins(t *testing.T) {
	hub := newTestHub()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	acmeAdmin := dial(t, server, "tok-admin")
	globexAdmin := dial(t, server, "tok-other-admin")
	user := dial(t, server, "tok-user")
	waitForConnections(t, hub, 3)

	hub.BroadcastToEnterpriseAdmins(context.Background(), "ent-1", "ticket_created", nil)

	msg := readEvent(t, acmeAdmin)
	if msg.Event != "ticket_created" {
		t.Errorf("event = %q, want ticket_created", msg.Event)
	}
	assertSilent(t, globexAdmin)
	assertSilent(t, user)
}

func TestBroadcastToEnterpriseAdmins_EmptyEnterprise(t *testing.T) {
	hub := newTestHub()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	admin := dial(t, server, "tok-admin")
	waitForConnections(t, hub, 1)

	// An empty enterprise must never fan out to every admin.
	hub.BroadcastToEnterpriseAdmins(context.Background(), "", "ticket_created", nil)
	assertSilent(t, admin)
}

func TestBroadcastToSuperadmins(t *testing.T) {
	hub := newTestHub()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	super := dial(t, server, "tok-super")
	admin := dial(t, server, "tok-admin")
	waitForConnections(t, hub, 2)

	hub.BroadcastToSuperadmins(context.Background(), "ticket_forwarded", map[string]string{"ticket_id": "tk-9"})

	msg := readEvent(t, super)
	if msg.Event != "ticket_forwarded" {
		t.Errorf("event = %q, want ticket_forwarded", msg.Event)
	}
	assertSilent(t, admin)
}

func TestDisconnectRemovesConnection(t *testing.T) {
	hub := newTestHub()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	c := dial(t, server, "tok-user")
	waitForConnections(t, hub, 1)

	_ = c.Close(websocket.StatusNormalClosure, "")
	waitForConnections(t, hub, 0)
}

func TestDeliver_NoConnections(t *testing.T) {
	hub := newTestHub()

	// Fan-out against an empty hub must be a no-op, not a panic.
	hub.Send(context.Background(), "u-1", "ticket_updated", nil)
	hub.BroadcastToSuperadmins(context.Background(), "ticket_forwarded", nil)
}

func TestDeliver_MarshalError(t *testing.T) {
	hub := newTestHub()

	// A channel cannot be marshaled to JSON — should log, not panic.
	hub.Send(context.Background(), "u-1", "bad", make(chan int))
}
