package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quiz-tournament-service/internal/domain"
	"quiz-tournament-service/internal/realtime"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) (*httptest.Server, *realtime.Registry) {
	t.Helper()
	registry := realtime.NewRegistry(clockwork.NewRealClock(), zerolog.Nop())
	handler := NewWSHandler(registry, zerolog.Nop())
	server := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	t.Cleanup(server.Close)
	return server, registry
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event domain.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return event
}

func writeMessage(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(inboundMessage{Type: msgType, Payload: raw}); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

func TestServeWSRequiresUserID(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestConnectAcknowledgesAndAnswersPing(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "userId=u1")

	if event := readEvent(t, conn); event.Type != domain.EventConnectionStatus {
		t.Fatalf("expected connection_status first, got %s", event.Type)
	}

	writeMessage(t, conn, domain.ControlPing, struct{}{})
	if event := readEvent(t, conn); event.Type != domain.EventPong {
		t.Fatalf("expected pong, got %s", event.Type)
	}
}

func TestJoinAndLeaveTournament(t *testing.T) {
	server, registry := newTestServer(t)
	conn := dial(t, server, "userId=u1")
	readEvent(t, conn) // connection_status

	writeMessage(t, conn, domain.ControlJoinTournament, tournamentPayload{TournamentID: "t1"})
	if event := readEvent(t, conn); event.Type != domain.EventTournamentJoined {
		t.Fatalf("expected tournament_joined, got %s", event.Type)
	}

	deadline := time.Now().Add(2 * time.Second)
	for registry.RoomSize("t1") != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected room membership, got %d", registry.RoomSize("t1"))
		}
		time.Sleep(5 * time.Millisecond)
	}

	writeMessage(t, conn, domain.ControlLeaveTournament, tournamentPayload{TournamentID: "t1"})
	deadline = time.Now().Add(2 * time.Second)
	for registry.RoomSize("t1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected room left, got %d members", registry.RoomSize("t1"))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInvalidMessagesReturnErrors(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "userId=u1")
	readEvent(t, conn) // connection_status

	writeMessage(t, conn, domain.ControlJoinTournament, struct{}{})
	if event := readEvent(t, conn); event.Type != domain.EventError {
		t.Fatalf("expected error for empty tournament id, got %s", event.Type)
	}

	writeMessage(t, conn, "shout", struct{}{})
	if event := readEvent(t, conn); event.Type != domain.EventError {
		t.Fatalf("expected error for unknown type, got %s", event.Type)
	}
}

func TestSecondDialSupersedesFirst(t *testing.T) {
	server, registry := newTestServer(t)

	first := dial(t, server, "userId=u1")
	readEvent(t, first) // connection_status

	second := dial(t, server, "userId=u1")
	readEvent(t, second) // connection_status

	if registry.ActiveUsers() != 1 {
		t.Fatalf("expected 1 active user after supersede, got %d", registry.ActiveUsers())
	}

	registry.SendToUser("u1", domain.Event{Type: "test"})
	if event := readEvent(t, second); event.Type != "test" {
		t.Fatalf("expected delivery on the new connection, got %s", event.Type)
	}

	// The superseded socket is closed; reads on it fail.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	var discard domain.Event
	if err := first.ReadJSON(&discard); err == nil {
		t.Fatalf("expected superseded connection closed, read %s", discard.Type)
	}
}

func TestAdminRoleFromQuery(t *testing.T) {
	server, registry := newTestServer(t)
	conn := dial(t, server, "userId=a1&role=admin")
	readEvent(t, conn) // connection_status

	sent := registry.BroadcastToAdmins(domain.Event{Type: domain.EventSecurityViolation})
	if sent != 1 {
		t.Fatalf("expected admin delivery, got %d", sent)
	}
	if event := readEvent(t, conn); event.Type != domain.EventSecurityViolation {
		t.Fatalf("expected security_violation, got %s", event.Type)
	}
}
