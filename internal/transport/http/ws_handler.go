package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"quiz-tournament-service/internal/domain"
	"quiz-tournament-service/internal/realtime"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errSenderClosed = errors.New("connection closed")

// WSHandler upgrades HTTP requests to websockets and wires them into the
// connection registry. Identity is taken from the request as verified by the
// upstream auth layer; token checking is not this handler's job.
type WSHandler struct {
	registry *realtime.Registry
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewWSHandler(registry *realtime.Registry, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type tournamentPayload struct {
	TournamentID string `json:"tournament_id"`
}

// wsSender adapts a gorilla connection to realtime.Sender. A dedicated writer
// goroutine serializes frames so registry broadcasts never write concurrently.
type wsSender struct {
	conn *websocket.Conn
	send chan domain.Event
	done chan struct{}
	once sync.Once
}

func newWSSender(conn *websocket.Conn) *wsSender {
	s := &wsSender{
		conn: conn,
		send: make(chan domain.Event, 16),
		done: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *wsSender) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.send:
			if err := s.conn.WriteJSON(event); err != nil {
				s.once.Do(func() { close(s.done) })
				return
			}
		}
	}
}

func (s *wsSender) Send(event domain.Event) error {
	select {
	case <-s.done:
		return errSenderClosed
	case s.send <- event:
		return nil
	}
}

func (s *wsSender) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.conn.Close()
}

// ServeWS registers the connection and runs the inbound control loop:
// join_tournament, leave_tournament, ping.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}
	role := domain.RoleUser
	if r.URL.Query().Get("role") == string(domain.RoleAdmin) {
		role = domain.RoleAdmin
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	sender := newWSSender(wsConn)
	conn := h.registry.Connect(userID, role, sender)
	defer h.registry.DisconnectConn(conn)

	for {
		var inbound inboundMessage
		if err := wsConn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case domain.ControlJoinTournament:
			var payload tournamentPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.TournamentID == "" {
				h.sendError(userID, "invalid join_tournament payload")
				continue
			}
			if !h.registry.JoinRoom(userID, payload.TournamentID) {
				h.sendError(userID, "join failed")
			}
		case domain.ControlLeaveTournament:
			var payload tournamentPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.TournamentID == "" {
				h.sendError(userID, "invalid leave_tournament payload")
				continue
			}
			h.registry.LeaveRoom(userID, payload.TournamentID)
		case domain.ControlPing:
			h.registry.SendToUser(userID, domain.Event{Type: domain.EventPong})
		default:
			h.sendError(userID, "unsupported message type")
		}
	}
}

func (h *WSHandler) sendError(userID, message string) {
	h.registry.SendToUser(userID, domain.Event{
		Type:    domain.EventError,
		Payload: map[string]string{"message": message},
	})
}
