package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"quiz-tournament-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store is the Postgres implementation of app.Store. Wallet mutations are
// single-statement atomic deltas; the credit/debit and its transaction record
// commit together or not at all.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Tournament(ctx context.Context, id string) (domain.Tournament, error) {
	var t domain.Tournament
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, category, entry_fee, max_participants, questions_count,
		       per_question_seconds, total_seconds, start_time, end_time
		FROM tournaments WHERE id=$1`, id).
		Scan(&t.ID, &t.Name, &t.Category, &t.EntryFee, &t.MaxParticipants, &t.QuestionCount,
			&t.PerQuestionSeconds, &t.TotalSeconds, &t.StartTime, &t.EndTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tournament{}, domain.ErrTournamentNotFound
	}
	if err != nil {
		return domain.Tournament{}, fmt.Errorf("load tournament: %w", err)
	}
	return t, nil
}

const entryColumns = `id, tournament_id, user_id, entry_fee, joined_at, quiz_session_id, final_score, rank, prize_amount`

func scanEntry(row pgx.Row) (domain.Entry, error) {
	var e domain.Entry
	var sessionID sql.NullString
	var finalScore sql.NullInt64
	var rank sql.NullInt64
	var prize sql.NullFloat64
	if err := row.Scan(&e.ID, &e.TournamentID, &e.UserID, &e.Fee, &e.JoinedAt, &sessionID, &finalScore, &rank, &prize); err != nil {
		return domain.Entry{}, err
	}
	if sessionID.Valid {
		e.SessionID = sessionID.String
	}
	if finalScore.Valid {
		score := int(finalScore.Int64)
		e.FinalScore = &score
	}
	if rank.Valid {
		e.Rank = int(rank.Int64)
	}
	if prize.Valid {
		e.Prize = prize.Float64
	}
	return e, nil
}

func (s *Store) Entry(ctx context.Context, tournamentID, userID string) (domain.Entry, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM tournament_entries WHERE tournament_id=$1 AND user_id=$2`,
		tournamentID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Entry{}, domain.ErrEntryNotFound
	}
	if err != nil {
		return domain.Entry{}, fmt.Errorf("load entry: %w", err)
	}
	return entry, nil
}

func (s *Store) EntryBySession(ctx context.Context, sessionID string) (domain.Entry, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM tournament_entries WHERE quiz_session_id=$1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Entry{}, domain.ErrEntryNotFound
	}
	if err != nil {
		return domain.Entry{}, fmt.Errorf("load entry by session: %w", err)
	}
	return entry, nil
}

func (s *Store) EntriesByTournament(ctx context.Context, tournamentID string) ([]domain.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM tournament_entries WHERE tournament_id=$1`, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) CreateEntry(ctx context.Context, entry domain.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO tournament_entries (id, tournament_id, user_id, entry_fee, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tournament_id, user_id) DO NOTHING`,
		entry.ID, entry.TournamentID, entry.UserID, entry.Fee, entry.JoinedAt)
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyJoined
	}
	return nil
}

func (s *Store) AttachSession(ctx context.Context, entryID, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tournament_entries SET quiz_session_id=$2 WHERE id=$1`, entryID, sessionID)
	if err != nil {
		return fmt.Errorf("attach session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEntryNotFound
	}
	return nil
}

func (s *Store) RecordFinalScore(ctx context.Context, sessionID string, score int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tournament_entries SET final_score=$2 WHERE quiz_session_id=$1`, sessionID, score)
	if err != nil {
		return fmt.Errorf("record final score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEntryNotFound
	}
	return nil
}

func (s *Store) SetRankAndPrize(ctx context.Context, entryID string, rank int, prize float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tournament_entries SET rank=$2, prize_amount=$3 WHERE id=$1 AND rank IS NULL`,
		entryID, rank, prize)
	if err != nil {
		return fmt.Errorf("set rank: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadySettled
	}
	return nil
}

func (s *Store) ClaimSettlement(ctx context.Context, tournamentID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tournaments SET settled_at=now() WHERE id=$1 AND settled_at IS NULL`, tournamentID)
	if err != nil {
		return false, fmt.Errorf("claim settlement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SaveSession(ctx context.Context, session *domain.QuizSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO quiz_sessions (id, user_id, tournament_id, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`,
		session.ID, session.UserID, session.TournamentID, raw)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) Session(ctx context.Context, sessionID string) (*domain.QuizSession, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM quiz_sessions WHERE id=$1`, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var session domain.QuizSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *Store) WalletBalance(ctx context.Context, userID string) (float64, error) {
	var balance float64
	err := s.pool.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id=$1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load balance: %w", err)
	}
	return balance, nil
}

func (s *Store) CreditWallet(ctx context.Context, userID string, amount float64, wtx domain.WalletTransaction) (float64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin credit: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance float64
	err = tx.QueryRow(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance
		RETURNING balance`, userID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("credit wallet: %w", err)
	}
	if err := insertTransaction(ctx, tx, wtx); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit credit: %w", err)
	}
	return balance, nil
}

func (s *Store) DebitWallet(ctx context.Context, userID string, amount float64, wtx domain.WalletTransaction) (float64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin debit: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance float64
	err = tx.QueryRow(ctx, `
		UPDATE wallets SET balance = balance - $2
		WHERE user_id=$1 AND balance >= $2
		RETURNING balance`, userID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		current, _ := s.WalletBalance(ctx, userID)
		return current, domain.ErrInsufficientFunds
	}
	if err != nil {
		return 0, fmt.Errorf("debit wallet: %w", err)
	}
	if err := insertTransaction(ctx, tx, wtx); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit debit: %w", err)
	}
	return balance, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, wtx domain.WalletTransaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, user_id, amount, kind, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		wtx.ID, wtx.UserID, wtx.Amount, wtx.Kind, wtx.Reference, wtx.CreatedAt)
	if err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}
