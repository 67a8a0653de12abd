package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a quiz session does not exist.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrSessionNotActive is returned when a session has already finished.
	ErrSessionNotActive = errors.New("quiz session is not active")
	// ErrInvalidQuestionIndex is returned when an answer targets a question outside the session.
	ErrInvalidQuestionIndex = errors.New("question index out of range")
	// ErrAlreadyAnswered is returned when a question slot has already been written.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrInsufficientQuestions indicates the question bank cannot cover the requested count.
	ErrInsufficientQuestions = errors.New("not enough questions for this tournament")
	// ErrTournamentNotFound indicates an unknown tournament ID.
	ErrTournamentNotFound = errors.New("tournament not found")
	// ErrEntryNotFound is returned when a user acts on a tournament they have not joined.
	ErrEntryNotFound = errors.New("tournament entry not found")
	// ErrAlreadyJoined is returned on a duplicate tournament entry.
	ErrAlreadyJoined = errors.New("already joined tournament")
	// ErrInsufficientFunds is returned when a wallet debit would overdraw the balance.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	// ErrAlreadySettled guards against re-running prize distribution for a tournament.
	ErrAlreadySettled = errors.New("tournament already settled")
)
