package memory

import (
	"context"
	"sync"

	"quiz-tournament-service/internal/domain"
)

// Store is the in-memory implementation of app.Store. It backs tests and the
// no-database demo mode; all wallet mutations and the settlement claim happen
// under one mutex so deltas never lose updates under interleaving.
type Store struct {
	mu           sync.RWMutex
	tournaments  map[string]domain.Tournament
	entries      map[string]domain.Entry // by entry ID
	sessions     map[string]*domain.QuizSession
	balances     map[string]float64
	transactions map[string][]domain.WalletTransaction
	settled      map[string]bool
}

func NewStore() *Store {
	return &Store{
		tournaments:  make(map[string]domain.Tournament),
		entries:      make(map[string]domain.Entry),
		sessions:     make(map[string]*domain.QuizSession),
		balances:     make(map[string]float64),
		transactions: make(map[string][]domain.WalletTransaction),
		settled:      make(map[string]bool),
	}
}

// SeedTournament registers a tournament, for demo mode and tests.
func (s *Store) SeedTournament(t domain.Tournament) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tournaments[t.ID] = t
}

// SeedBalance sets a wallet balance directly, for demo mode and tests.
func (s *Store) SeedBalance(userID string, balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

func (s *Store) Tournament(_ context.Context, id string) (domain.Tournament, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tournaments[id]
	if !ok {
		return domain.Tournament{}, domain.ErrTournamentNotFound
	}
	return t, nil
}

func (s *Store) Entry(_ context.Context, tournamentID, userID string) (domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.TournamentID == tournamentID && e.UserID == userID {
			return e, nil
		}
	}
	return domain.Entry{}, domain.ErrEntryNotFound
}

func (s *Store) EntryBySession(_ context.Context, sessionID string) (domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.SessionID == sessionID {
			return e, nil
		}
	}
	return domain.Entry{}, domain.ErrEntryNotFound
}

func (s *Store) EntriesByTournament(_ context.Context, tournamentID string) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Entry
	for _, e := range s.entries {
		if e.TournamentID == tournamentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) CreateEntry(_ context.Context, entry domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.TournamentID == entry.TournamentID && e.UserID == entry.UserID {
			return domain.ErrAlreadyJoined
		}
	}
	s.entries[entry.ID] = entry
	return nil
}

func (s *Store) AttachSession(_ context.Context, entryID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return domain.ErrEntryNotFound
	}
	entry.SessionID = sessionID
	s.entries[entryID] = entry
	return nil
}

func (s *Store) RecordFinalScore(_ context.Context, sessionID string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.SessionID == sessionID {
			final := score
			e.FinalScore = &final
			s.entries[id] = e
			return nil
		}
	}
	return domain.ErrEntryNotFound
}

func (s *Store) SetRankAndPrize(_ context.Context, entryID string, rank int, prize float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return domain.ErrEntryNotFound
	}
	if entry.Rank != 0 {
		return domain.ErrAlreadySettled
	}
	entry.Rank = rank
	entry.Prize = prize
	s.entries[entryID] = entry
	return nil
}

func (s *Store) ClaimSettlement(_ context.Context, tournamentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled[tournamentID] {
		return false, nil
	}
	s.settled[tournamentID] = true
	return true, nil
}

func (s *Store) SaveSession(_ context.Context, session *domain.QuizSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

func (s *Store) Session(_ context.Context, sessionID string) (*domain.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	clone := *session
	return &clone, nil
}

func (s *Store) WalletBalance(_ context.Context, userID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[userID], nil
}

func (s *Store) CreditWallet(_ context.Context, userID string, amount float64, tx domain.WalletTransaction) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += amount
	s.transactions[userID] = append(s.transactions[userID], tx)
	return s.balances[userID], nil
}

func (s *Store) DebitWallet(_ context.Context, userID string, amount float64, tx domain.WalletTransaction) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[userID] < amount {
		return s.balances[userID], domain.ErrInsufficientFunds
	}
	s.balances[userID] -= amount
	s.transactions[userID] = append(s.transactions[userID], tx)
	return s.balances[userID], nil
}

// Transactions returns the recorded wallet transactions for a user, for
// tests and reporting.
func (s *Store) Transactions(userID string) []domain.WalletTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.WalletTransaction(nil), s.transactions[userID]...)
}
