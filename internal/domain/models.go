package domain

import "time"

// Role distinguishes participants from administrators on a connection.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// SessionStatus is the lifecycle state of a quiz attempt.
// Transitions are monotonic: Started -> Completed or Started -> Abandoned.
type SessionStatus string

const (
	SessionStarted   SessionStatus = "started"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

// Question is a bank question with exactly one correct option.
type Question struct {
	ID           string   `json:"id"`
	Category     string   `json:"category"`
	Text         string   `json:"question_text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_answer"`
	Explanation  string   `json:"explanation,omitempty"`
	Difficulty   string   `json:"difficulty,omitempty"`
}

// QuestionSnapshot is a question frozen into a session at start time.
// Options are reshuffled per session and CorrectIndex follows the new order,
// so later edits to the bank never change how the session scores.
type QuestionSnapshot struct {
	ID           string   `json:"id"`
	Text         string   `json:"question_text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_answer"`
	Explanation  string   `json:"explanation,omitempty"`
}

// Answer is one recorded submission. Slots are write-once.
type Answer struct {
	Chosen      int       `json:"chosen"`
	TimeTaken   float64   `json:"time_taken"` // client-declared, advisory only
	SubmittedAt time.Time `json:"submitted_at"`
}

// Violation is a client-reported integrity anomaly, kept for admin review.
type Violation struct {
	Type       string    `json:"type"`
	ReportedAt time.Time `json:"reported_at"`
}

// QuizSession is one participant's attempt at one tournament.
type QuizSession struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	TournamentID    string             `json:"tournament_id"`
	Questions       []QuestionSnapshot `json:"questions"`
	Answers         []*Answer          `json:"answers"`
	CurrentQuestion int                `json:"current_question"`
	Score           int                `json:"score"`
	Status          SessionStatus      `json:"status"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         *time.Time         `json:"end_time,omitempty"`
	TimeTaken       float64            `json:"time_taken,omitempty"` // seconds, set at completion
	Violations      []Violation        `json:"violations,omitempty"`
}

// Tournament defaults applied when a record leaves the fields zero.
const (
	DefaultQuestionCount      = 30
	DefaultPerQuestionSeconds = 10
	DefaultTotalSeconds       = 300
)

// Tournament carries the metadata the engine and settlement need.
type Tournament struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Category           string    `json:"category"`
	EntryFee           float64   `json:"entry_fee"`
	MaxParticipants    int       `json:"max_participants"`
	QuestionCount      int       `json:"questions_count"`
	PerQuestionSeconds int       `json:"per_question_seconds"`
	TotalSeconds       int       `json:"total_seconds"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
}

// Normalized returns the tournament with defaults filled in for zero-valued
// quiz parameters.
func (t Tournament) Normalized() Tournament {
	if t.QuestionCount <= 0 {
		t.QuestionCount = DefaultQuestionCount
	}
	if t.PerQuestionSeconds <= 0 {
		t.PerQuestionSeconds = DefaultPerQuestionSeconds
	}
	if t.TotalSeconds <= 0 {
		t.TotalSeconds = DefaultTotalSeconds
	}
	return t
}

// Entry is a participant's paid membership in a tournament. Rank and Prize
// stay zero until settlement runs, and are written at most once.
type Entry struct {
	ID           string    `json:"id"`
	TournamentID string    `json:"tournament_id"`
	UserID       string    `json:"user_id"`
	Fee          float64   `json:"entry_fee"`
	JoinedAt     time.Time `json:"joined_at"`
	SessionID    string    `json:"quiz_session_id,omitempty"`
	FinalScore   *int      `json:"final_score,omitempty"`
	Rank         int       `json:"rank,omitempty"`
	Prize        float64   `json:"prize_amount,omitempty"`
}

// WalletTransaction records one balance movement, paired with the credit or
// debit that produced it.
type WalletTransaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Amount    float64   `json:"amount"` // negative for debits
	Kind      string    `json:"kind"`   // "prize", "entry_fee", "topup"
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AnswerResult summarizes a single submission back to the participant.
type AnswerResult struct {
	QuestionIndex int    `json:"question_index"`
	Correct       bool   `json:"correct"`
	CorrectAnswer int    `json:"correct_answer"`
	Explanation   string `json:"explanation,omitempty"`
	CurrentScore  int    `json:"current_score"`
	NextQuestion  int    `json:"next_question"`
}

// SessionResults is the finalized outcome of one attempt.
type SessionResults struct {
	SessionID      string        `json:"session_id"`
	Score          int           `json:"score"`
	TotalQuestions int           `json:"total_questions"`
	Percentage     float64       `json:"percentage"`
	Rank           int           `json:"rank,omitempty"`
	PrizeAmount    float64       `json:"prize_amount,omitempty"`
	TimeTaken      float64       `json:"time_taken"`
	Status         SessionStatus `json:"status"`
	Reason         string        `json:"reason,omitempty"` // "time_up" on forced completion
}

// LeaderboardRow is one line of a settled tournament's standings.
type LeaderboardRow struct {
	UserID string  `json:"user_id"`
	Score  int     `json:"score"`
	Rank   int     `json:"rank"`
	Prize  float64 `json:"prize_amount"`
}
