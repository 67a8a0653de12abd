package realtime

import (
	"errors"
	"sync"
	"testing"

	"quiz-tournament-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type fakeSender struct {
	mu     sync.Mutex
	events []domain.Event
	failed bool
	closed bool
}

func (s *fakeSender) Send(event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return errors.New("broken channel")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) received(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, e := range s.events {
		if e.Type == eventType {
			count++
		}
	}
	return count
}

func (s *fakeSender) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = true
}

func newTestRegistry() *Registry {
	return NewRegistry(clockwork.NewFakeClock(), zerolog.Nop())
}

func TestConnectSendsAcknowledgement(t *testing.T) {
	registry := newTestRegistry()
	sender := &fakeSender{}

	registry.Connect("u1", domain.RoleUser, sender)

	if got := sender.received(domain.EventConnectionStatus); got != 1 {
		t.Fatalf("expected connection_status ack, got %d", got)
	}
	if registry.ActiveUsers() != 1 {
		t.Fatalf("expected 1 active user, got %d", registry.ActiveUsers())
	}
}

func TestConnectSupersedesPriorConnection(t *testing.T) {
	registry := newTestRegistry()
	first := &fakeSender{}
	second := &fakeSender{}

	registry.Connect("u1", domain.RoleUser, first)
	registry.JoinRoom("u1", "t1")
	registry.Connect("u1", domain.RoleUser, second)

	if !first.closed {
		t.Fatalf("expected prior connection closed")
	}
	if registry.ActiveUsers() != 1 {
		t.Fatalf("expected 1 active user after supersede, got %d", registry.ActiveUsers())
	}

	// The old connection's room membership must not survive the supersede.
	if registry.RoomSize("t1") != 0 {
		t.Fatalf("expected old room membership cleared, got %d", registry.RoomSize("t1"))
	}

	if !registry.SendToUser("u1", domain.Event{Type: "test"}) {
		t.Fatalf("expected delivery to new connection")
	}
	if got := second.received("test"); got != 1 {
		t.Fatalf("expected new connection to receive message, got %d", got)
	}
	if got := first.received("test"); got != 0 {
		t.Fatalf("expected old connection to receive nothing, got %d", got)
	}
}

func TestDisconnectIsIdempotentAndCleansRooms(t *testing.T) {
	registry := newTestRegistry()
	sender := &fakeSender{}

	registry.Connect("u1", domain.RoleAdmin, sender)
	registry.JoinRoom("u1", "t1")

	registry.Disconnect("u1")
	registry.Disconnect("u1") // no-op

	if registry.ActiveUsers() != 0 {
		t.Fatalf("expected no active users, got %d", registry.ActiveUsers())
	}
	if registry.RoomSize("t1") != 0 {
		t.Fatalf("expected empty room pruned, got %d members", registry.RoomSize("t1"))
	}
	if registry.BroadcastToAdmins(domain.Event{Type: "x"}) != 0 {
		t.Fatalf("expected admin removed from admin set")
	}
}

func TestJoinRoomWithoutConnectionFailsSilently(t *testing.T) {
	registry := newTestRegistry()
	if registry.JoinRoom("ghost", "t1") {
		t.Fatalf("expected join without connection to return false")
	}
}

func TestSendToUserPrunesBrokenConnection(t *testing.T) {
	registry := newTestRegistry()
	sender := &fakeSender{}
	registry.Connect("u1", domain.RoleUser, sender)
	registry.JoinRoom("u1", "t1")

	sender.fail()
	if registry.SendToUser("u1", domain.Event{Type: "x"}) {
		t.Fatalf("expected delivery failure")
	}
	if registry.ActiveUsers() != 0 {
		t.Fatalf("expected broken connection pruned, got %d users", registry.ActiveUsers())
	}
	if registry.RoomSize("t1") != 0 {
		t.Fatalf("expected room membership pruned with the connection")
	}
}

func TestBroadcastToRoomCountsAndPrunes(t *testing.T) {
	registry := newTestRegistry()
	alive := &fakeSender{}
	broken := &fakeSender{}

	registry.Connect("u1", domain.RoleUser, alive)
	registry.Connect("u2", domain.RoleUser, broken)
	registry.JoinRoom("u1", "t1")
	registry.JoinRoom("u2", "t1")

	broken.fail()
	sent := registry.BroadcastToRoom("t1", domain.Event{Type: "tournament_update"})
	if sent != 1 {
		t.Fatalf("expected 1 delivery, got %d", sent)
	}
	if registry.ActiveUsers() != 1 {
		t.Fatalf("expected broken member pruned, got %d users", registry.ActiveUsers())
	}
}

func TestBroadcastToAdmins(t *testing.T) {
	registry := newTestRegistry()
	admin := &fakeSender{}
	user := &fakeSender{}

	registry.Connect("a1", domain.RoleAdmin, admin)
	registry.Connect("u1", domain.RoleUser, user)

	sent := registry.BroadcastToAdmins(domain.Event{Type: domain.EventSecurityViolation})
	if sent != 1 {
		t.Fatalf("expected 1 admin delivery, got %d", sent)
	}
	if admin.received(domain.EventSecurityViolation) != 1 {
		t.Fatalf("expected admin to receive the violation")
	}
	if user.received(domain.EventSecurityViolation) != 0 {
		t.Fatalf("expected regular user to receive nothing")
	}
}

func TestReconnectRestoresDelivery(t *testing.T) {
	registry := newTestRegistry()
	first := &fakeSender{}

	registry.Connect("u1", domain.RoleUser, first)
	registry.Disconnect("u1")

	if registry.SendToUser("u1", domain.Event{Type: "x"}) {
		t.Fatalf("expected no delivery while disconnected")
	}

	second := &fakeSender{}
	registry.Connect("u1", domain.RoleUser, second)
	if !registry.SendToUser("u1", domain.Event{Type: "x"}) {
		t.Fatalf("expected delivery after reconnect")
	}
	if second.received("x") != 1 {
		t.Fatalf("expected reconnected channel to receive the message")
	}
}

func TestEventsAreTimestamped(t *testing.T) {
	registry := newTestRegistry()
	sender := &fakeSender{}
	registry.Connect("u1", domain.RoleUser, sender)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	for _, e := range sender.events {
		if e.Timestamp.IsZero() {
			t.Fatalf("expected timestamp stamped on %s", e.Type)
		}
	}
}
