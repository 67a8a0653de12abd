package realtime

import (
	"sync"

	"quiz-tournament-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Sender is the framed-message channel behind a connection. The websocket
// transport provides the production implementation; tests use fakes.
type Sender interface {
	Send(event domain.Event) error
	Close() error
}

// Connection is one user's single live channel.
type Connection struct {
	UserID string
	Role   domain.Role
	sender Sender
}

// Registry tracks live connections, per-tournament rooms, and the admin set.
// It is advisory: every operation degrades to "message not delivered" rather
// than surfacing errors to business logic.
type Registry struct {
	clock  clockwork.Clock
	logger zerolog.Logger

	mu     sync.RWMutex
	users  map[string]*Connection
	rooms  map[string]map[string]*Connection
	admins map[string]*Connection
}

func NewRegistry(clock clockwork.Clock, logger zerolog.Logger) *Registry {
	return &Registry{
		clock:  clock,
		logger: logger,
		users:  make(map[string]*Connection),
		rooms:  make(map[string]map[string]*Connection),
		admins: make(map[string]*Connection),
	}
}

// Connect registers a live channel for userID. An existing connection for the
// same identity is closed and replaced, not treated as an error. The new
// connection immediately receives a connection_status acknowledgement.
func (r *Registry) Connect(userID string, role domain.Role, sender Sender) *Connection {
	conn := &Connection{UserID: userID, Role: role, sender: sender}

	r.mu.Lock()
	if prior, ok := r.users[userID]; ok {
		r.removeLocked(prior)
		// Close outside map bookkeeping but still under lock is fine: Close
		// must not call back into the registry.
		_ = prior.sender.Close()
		r.logger.Debug().Str("user_id", userID).Msg("superseded prior connection")
	}
	r.users[userID] = conn
	if role == domain.RoleAdmin {
		r.admins[userID] = conn
	}
	r.mu.Unlock()

	r.logger.Info().Str("user_id", userID).Str("role", string(role)).Msg("user connected")
	r.SendToUser(userID, domain.Event{
		Type:    domain.EventConnectionStatus,
		Payload: map[string]string{"status": "connected"},
	})
	return conn
}

// Disconnect removes whatever connection is registered for userID from the
// user map, the admin set, and every room. Idempotent.
func (r *Registry) Disconnect(userID string) {
	r.mu.Lock()
	conn, ok := r.users[userID]
	if ok {
		r.removeLocked(conn)
	}
	r.mu.Unlock()

	if ok {
		_ = conn.sender.Close()
		r.logger.Info().Str("user_id", userID).Msg("user disconnected")
	}
}

// DisconnectConn removes conn only if it is still the registered connection
// for its user, so a superseded connection's deferred cleanup cannot evict
// its replacement.
func (r *Registry) DisconnectConn(conn *Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	current, ok := r.users[conn.UserID]
	if !ok || current != conn {
		r.mu.Unlock()
		return
	}
	r.removeLocked(conn)
	r.mu.Unlock()
	_ = conn.sender.Close()
}

// removeLocked drops conn from every map. Caller holds r.mu.
func (r *Registry) removeLocked(conn *Connection) {
	delete(r.users, conn.UserID)
	delete(r.admins, conn.UserID)
	for roomID, members := range r.rooms {
		delete(members, conn.UserID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// JoinRoom adds the user's connection to a tournament room. Joining without a
// live connection returns false rather than failing.
func (r *Registry) JoinRoom(userID, roomID string) bool {
	r.mu.Lock()
	conn, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Connection)
		r.rooms[roomID] = members
	}
	members[userID] = conn
	r.mu.Unlock()

	r.SendToUser(userID, domain.Event{
		Type:    domain.EventTournamentJoined,
		Payload: map[string]string{"tournament_id": roomID},
	})
	return true
}

// LeaveRoom removes the user from a room; empty rooms are pruned.
func (r *Registry) LeaveRoom(userID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// SendToUser delivers one event best-effort. A broken channel disconnects the
// identity implicitly and reports false; callers must not treat that as fatal.
func (r *Registry) SendToUser(userID string, event domain.Event) bool {
	r.mu.RLock()
	conn, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := r.deliver(conn, event); err != nil {
		r.logger.Warn().Err(err).Str("user_id", userID).Msg("send failed, pruning connection")
		r.DisconnectConn(conn)
		return false
	}
	return true
}

// BroadcastToRoom delivers to a snapshot of the room's members and prunes any
// connection that fails. Returns the delivered count.
func (r *Registry) BroadcastToRoom(roomID string, event domain.Event) int {
	r.mu.RLock()
	members := make([]*Connection, 0, len(r.rooms[roomID]))
	for _, conn := range r.rooms[roomID] {
		members = append(members, conn)
	}
	r.mu.RUnlock()
	return r.fanOut(members, event)
}

// BroadcastToAdmins delivers to a snapshot of the administrator set.
func (r *Registry) BroadcastToAdmins(event domain.Event) int {
	r.mu.RLock()
	members := make([]*Connection, 0, len(r.admins))
	for _, conn := range r.admins {
		members = append(members, conn)
	}
	r.mu.RUnlock()
	return r.fanOut(members, event)
}

func (r *Registry) fanOut(members []*Connection, event domain.Event) int {
	sent := 0
	for _, conn := range members {
		if err := r.deliver(conn, event); err != nil {
			r.logger.Warn().Err(err).Str("user_id", conn.UserID).Msg("broadcast failed, pruning connection")
			r.DisconnectConn(conn)
			continue
		}
		sent++
	}
	return sent
}

func (r *Registry) deliver(conn *Connection, event domain.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.clock.Now().UTC()
	}
	return conn.sender.Send(event)
}

// ActiveUsers reports the number of live connections.
func (r *Registry) ActiveUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// RoomSize reports the number of connections in a tournament room.
func (r *Registry) RoomSize(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}
