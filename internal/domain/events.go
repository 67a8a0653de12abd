package domain

import "time"

// Push message types delivered over the real-time channel.
const (
	EventConnectionStatus  = "connection_status"
	EventTournamentJoined  = "tournament_joined"
	EventQuizStarted       = "quiz_started"
	EventTimeUpdate        = "time_update"
	EventAnswerSubmitted   = "answer_submitted"
	EventQuizCompleted     = "quiz_completed"
	EventTournamentUpdate  = "tournament_update"
	EventWalletUpdate      = "wallet_update"
	EventSecurityViolation = "security_violation"
	EventPong              = "pong"
	EventError             = "error"
)

// Inbound client control message types.
const (
	ControlJoinTournament  = "join_tournament"
	ControlLeaveTournament = "leave_tournament"
	ControlPing            = "ping"
)

// Event is the push-message envelope. Timestamp is stamped by the registry
// at delivery time when left zero.
type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
