package app

import (
	"context"

	"quiz-tournament-service/internal/domain"
)

// Store abstracts the durable state the engines read and write (in-memory,
// Postgres, or Redis-backed wallet primitives layered over either).
type Store interface {
	Tournament(ctx context.Context, id string) (domain.Tournament, error)

	Entry(ctx context.Context, tournamentID, userID string) (domain.Entry, error)
	EntryBySession(ctx context.Context, sessionID string) (domain.Entry, error)
	EntriesByTournament(ctx context.Context, tournamentID string) ([]domain.Entry, error)
	CreateEntry(ctx context.Context, entry domain.Entry) error
	AttachSession(ctx context.Context, entryID, sessionID string) error
	RecordFinalScore(ctx context.Context, sessionID string, score int) error
	SetRankAndPrize(ctx context.Context, entryID string, rank int, prize float64) error

	// ClaimSettlement flips the tournament's settlement flag atomically and
	// reports whether this caller won the claim. Exactly one concurrent
	// caller observes true.
	ClaimSettlement(ctx context.Context, tournamentID string) (bool, error)

	SaveSession(ctx context.Context, session *domain.QuizSession) error
	Session(ctx context.Context, sessionID string) (*domain.QuizSession, error)

	WalletBalance(ctx context.Context, userID string) (float64, error)
	// CreditWallet and DebitWallet apply an atomic balance delta and record
	// the paired transaction; both happen together or not at all. Debits
	// fail with domain.ErrInsufficientFunds rather than overdraw.
	CreditWallet(ctx context.Context, userID string, amount float64, tx domain.WalletTransaction) (float64, error)
	DebitWallet(ctx context.Context, userID string, amount float64, tx domain.WalletTransaction) (float64, error)
}

// QuestionBank loads bank questions for a tournament category, typically
// through a TTL cache in front of the durable store.
type QuestionBank interface {
	QuestionsByCategory(ctx context.Context, category string) ([]domain.Question, error)
}

// Notifier is the push side of the connection registry. All delivery is
// best-effort; results are advisory.
type Notifier interface {
	SendToUser(userID string, event domain.Event) bool
	BroadcastToRoom(roomID string, event domain.Event) int
	BroadcastToAdmins(event domain.Event) int
}
