package app

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"quiz-tournament-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ReasonTimeUp marks a completion forced by the session countdown.
const ReasonTimeUp = "time_up"

// DefaultTimeUpdateInterval is how often (in countdown seconds) participants
// receive a time_update push.
const DefaultTimeUpdateInterval = 5

// Engine owns the lifecycle of quiz attempts: question selection, answer
// intake, scoring, and the countdown that races answer submission for the
// single Started -> Completed transition.
type Engine struct {
	store    Store
	bank     QuestionBank
	notifier Notifier
	settler  *Settler
	clock    clockwork.Clock
	logger   zerolog.Logger

	timeUpdateEvery int

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu       sync.RWMutex
	sessions map[string]*liveSession
}

// liveSession wraps the durable session record with the in-process state the
// countdown and submissions contend on. The mutex guards the status
// transition so exactly one of {final answer, timer} completes the attempt.
type liveSession struct {
	mu       sync.Mutex
	data     *domain.QuizSession
	deadline time.Time
	results  *domain.SessionResults
	stop     chan struct{}
	stopOnce sync.Once
}

func NewEngine(store Store, bank QuestionBank, notifier Notifier, settler *Settler, clock clockwork.Clock, logger zerolog.Logger) *Engine {
	return &Engine{
		store:           store,
		bank:            bank,
		notifier:        notifier,
		settler:         settler,
		clock:           clock,
		logger:          logger,
		timeUpdateEvery: DefaultTimeUpdateInterval,
		rnd:             rand.New(rand.NewSource(clock.Now().UnixNano())),
		sessions:        make(map[string]*liveSession),
	}
}

// SetTimeUpdateInterval overrides the time_update push cadence in seconds.
// Zero disables progress pushes.
func (e *Engine) SetTimeUpdateInterval(seconds int) {
	e.timeUpdateEvery = seconds
}

// JoinTournament creates a paid Entry for the user: the entry fee is debited
// from the wallet atomically with its transaction record. Duplicate joins
// fail with ErrAlreadyJoined, underfunded wallets with ErrInsufficientFunds.
func (e *Engine) JoinTournament(ctx context.Context, userID, tournamentID string) (domain.Entry, error) {
	t, err := e.store.Tournament(ctx, tournamentID)
	if err != nil {
		return domain.Entry{}, err
	}
	if _, err := e.store.Entry(ctx, t.ID, userID); err == nil {
		return domain.Entry{}, domain.ErrAlreadyJoined
	} else if !errors.Is(err, domain.ErrEntryNotFound) {
		return domain.Entry{}, err
	}

	now := e.clock.Now().UTC()
	tx := domain.WalletTransaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    -t.EntryFee,
		Kind:      "entry_fee",
		Reference: t.ID,
		CreatedAt: now,
	}
	balance, err := e.store.DebitWallet(ctx, userID, t.EntryFee, tx)
	if err != nil {
		return domain.Entry{}, err
	}

	entry := domain.Entry{
		ID:           uuid.NewString(),
		TournamentID: t.ID,
		UserID:       userID,
		Fee:          t.EntryFee,
		JoinedAt:     now,
	}
	if err := e.store.CreateEntry(ctx, entry); err != nil {
		return domain.Entry{}, err
	}

	e.notifier.SendToUser(userID, domain.Event{
		Type: domain.EventWalletUpdate,
		Payload: map[string]interface{}{
			"new_balance": balance,
			"transaction": tx,
		},
	})
	e.logger.Info().Str("user_id", userID).Str("tournament_id", t.ID).Float64("fee", t.EntryFee).Msg("tournament joined")
	return entry, nil
}

// clientQuestion is the question view pushed to participants: no correct
// index, no explanation.
type clientQuestion struct {
	ID      string   `json:"id"`
	Text    string   `json:"question_text"`
	Options []string `json:"options"`
}

// Begin starts (or resumes) the user's quiz attempt for a tournament. The
// question pool must cover the tournament's question count; selection is
// without replacement and each selected question's options are reshuffled
// per session with the correct index recomputed, so no two participants see
// the same option ordering. A second Begin for the same entry returns the
// existing session instead of creating another attempt.
func (e *Engine) Begin(ctx context.Context, userID, tournamentID string) (*domain.QuizSession, error) {
	t, err := e.store.Tournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	t = t.Normalized()
	entry, err := e.store.Entry(ctx, t.ID, userID)
	if err != nil {
		return nil, err
	}

	if entry.SessionID != "" {
		if s := e.lookup(entry.SessionID); s != nil {
			return s.snapshot(), nil
		}
		if stored, err := e.store.Session(ctx, entry.SessionID); err == nil && stored != nil {
			if stored.Status == domain.SessionStarted {
				return e.adopt(stored), nil
			}
			return stored, nil
		}
	}

	pool, err := e.bank.QuestionsByCategory(ctx, t.Category)
	if err != nil {
		return nil, err
	}
	if len(pool) < t.QuestionCount {
		return nil, domain.ErrInsufficientQuestions
	}

	now := e.clock.Now().UTC()
	session := &domain.QuizSession{
		ID:           uuid.NewString(),
		UserID:       userID,
		TournamentID: t.ID,
		Questions:    e.selectQuestions(pool, t.QuestionCount),
		Answers:      make([]*domain.Answer, t.QuestionCount),
		Status:       domain.SessionStarted,
		StartTime:    now,
	}
	if err := e.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	if err := e.store.AttachSession(ctx, entry.ID, session.ID); err != nil {
		return nil, err
	}

	live := &liveSession{
		data:     session,
		deadline: now.Add(time.Duration(t.TotalSeconds) * time.Second),
		stop:     make(chan struct{}),
	}
	e.register(live)
	go e.runCountdown(live)

	questions := make([]clientQuestion, len(session.Questions))
	for i, q := range session.Questions {
		questions[i] = clientQuestion{ID: q.ID, Text: q.Text, Options: q.Options}
	}
	e.notifier.SendToUser(userID, domain.Event{
		Type: domain.EventQuizStarted,
		Payload: map[string]interface{}{
			"session_id":      session.ID,
			"tournament_id":   t.ID,
			"questions":       questions,
			"questions_count": t.QuestionCount,
			"total_time":      t.TotalSeconds,
		},
	})
	e.logger.Info().Str("session_id", session.ID).Str("user_id", userID).Str("tournament_id", t.ID).Msg("quiz started")
	return session, nil
}

// adopt rehydrates a stored Started session after a restart and resumes its
// countdown against the original deadline.
func (e *Engine) adopt(stored *domain.QuizSession) *domain.QuizSession {
	t, err := e.store.Tournament(context.Background(), stored.TournamentID)
	if err != nil {
		return stored
	}
	t = t.Normalized()
	live := &liveSession{
		data:     stored,
		deadline: stored.StartTime.Add(time.Duration(t.TotalSeconds) * time.Second),
		stop:     make(chan struct{}),
	}
	e.register(live)
	go e.runCountdown(live)
	return stored
}

// selectQuestions samples count questions without replacement and reorders
// each one's options, recomputing the correct index to match.
func (e *Engine) selectQuestions(pool []domain.Question, count int) []domain.QuestionSnapshot {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()

	picks := e.rnd.Perm(len(pool))[:count]
	snapshots := make([]domain.QuestionSnapshot, count)
	for i, p := range picks {
		q := pool[p]
		order := e.rnd.Perm(len(q.Options))
		options := make([]string, len(q.Options))
		correct := 0
		for dst, src := range order {
			options[dst] = q.Options[src]
			if src == q.CorrectIndex {
				correct = dst
			}
		}
		snapshots[i] = domain.QuestionSnapshot{
			ID:           q.ID,
			Text:         q.Text,
			Options:      options,
			CorrectIndex: correct,
			Explanation:  q.Explanation,
		}
	}
	return snapshots
}

// SubmitAnswer records one write-once answer, recomputes the running score,
// and completes the session synchronously when the last question is answered.
func (e *Engine) SubmitAnswer(ctx context.Context, userID, sessionID string, questionIndex, chosen int, timeTaken float64) (domain.AnswerResult, error) {
	s := e.lookup(sessionID)
	if s == nil {
		return domain.AnswerResult{}, domain.ErrSessionNotFound
	}

	s.mu.Lock()
	if s.data.UserID != userID {
		s.mu.Unlock()
		return domain.AnswerResult{}, domain.ErrSessionNotFound
	}
	if s.data.Status != domain.SessionStarted {
		s.mu.Unlock()
		return domain.AnswerResult{}, domain.ErrSessionNotActive
	}
	if questionIndex < 0 || questionIndex >= len(s.data.Questions) {
		s.mu.Unlock()
		return domain.AnswerResult{}, domain.ErrInvalidQuestionIndex
	}
	if s.data.Answers[questionIndex] != nil {
		s.mu.Unlock()
		return domain.AnswerResult{}, domain.ErrAlreadyAnswered
	}

	s.data.Answers[questionIndex] = &domain.Answer{
		Chosen:      chosen,
		TimeTaken:   timeTaken,
		SubmittedAt: e.clock.Now().UTC(),
	}
	s.data.Score = scoreOf(s.data)
	if questionIndex+1 > s.data.CurrentQuestion {
		s.data.CurrentQuestion = questionIndex + 1
	}

	question := s.data.Questions[questionIndex]
	result := domain.AnswerResult{
		QuestionIndex: questionIndex,
		Correct:       chosen == question.CorrectIndex,
		CorrectAnswer: question.CorrectIndex,
		Explanation:   question.Explanation,
		CurrentScore:  s.data.Score,
		NextQuestion:  s.data.CurrentQuestion,
	}
	last := questionIndex == len(s.data.Questions)-1
	snapshot := cloneSession(s.data)
	s.mu.Unlock()

	if err := e.store.SaveSession(ctx, snapshot); err != nil {
		return domain.AnswerResult{}, err
	}

	e.notifier.SendToUser(userID, domain.Event{
		Type:    domain.EventAnswerSubmitted,
		Payload: result,
	})

	if last {
		if _, err := e.Complete(ctx, sessionID, ""); err != nil && !errors.Is(err, domain.ErrSessionNotActive) {
			return result, err
		}
	}
	return result, nil
}

// Complete finalizes the session exactly once. If it already completed, the
// previously computed results are returned unchanged. The first caller to
// observe Started wins the transition; the countdown and a final answer both
// funnel through here.
func (e *Engine) Complete(ctx context.Context, sessionID, reason string) (domain.SessionResults, error) {
	s := e.lookup(sessionID)
	if s == nil {
		stored, err := e.store.Session(ctx, sessionID)
		if err != nil || stored == nil {
			return domain.SessionResults{}, domain.ErrSessionNotFound
		}
		if stored.Status == domain.SessionCompleted {
			return resultsOf(stored, ""), nil
		}
		return domain.SessionResults{}, domain.ErrSessionNotActive
	}

	s.mu.Lock()
	if s.results != nil {
		res := *s.results
		s.mu.Unlock()
		return res, nil
	}
	if s.data.Status != domain.SessionStarted {
		s.mu.Unlock()
		return domain.SessionResults{}, domain.ErrSessionNotActive
	}

	now := e.clock.Now().UTC()
	s.data.Status = domain.SessionCompleted
	end := now
	s.data.EndTime = &end
	s.data.TimeTaken = now.Sub(s.data.StartTime).Seconds()
	res := resultsOf(s.data, reason)
	s.results = &res
	snapshot := cloneSession(s.data)
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })

	if err := e.store.SaveSession(ctx, snapshot); err != nil {
		return res, err
	}
	if err := e.store.RecordFinalScore(ctx, snapshot.ID, snapshot.Score); err != nil {
		return res, err
	}

	e.notifier.SendToUser(snapshot.UserID, domain.Event{
		Type: domain.EventQuizCompleted,
		Payload: map[string]interface{}{
			"session_id": snapshot.ID,
			"results":    res,
		},
	})
	e.settler.Schedule(snapshot.TournamentID)
	e.logger.Info().
		Str("session_id", snapshot.ID).
		Str("tournament_id", snapshot.TournamentID).
		Int("score", snapshot.Score).
		Str("reason", reason).
		Msg("quiz completed")
	return res, nil
}

// ReportViolation appends a timestamped entry to the session's violation log
// and notifies administrators. Scoring is never affected.
func (e *Engine) ReportViolation(ctx context.Context, sessionID, violationType string) error {
	s := e.lookup(sessionID)
	if s == nil {
		return domain.ErrSessionNotFound
	}

	s.mu.Lock()
	s.data.Violations = append(s.data.Violations, domain.Violation{
		Type:       violationType,
		ReportedAt: e.clock.Now().UTC(),
	})
	snapshot := cloneSession(s.data)
	s.mu.Unlock()

	if err := e.store.SaveSession(ctx, snapshot); err != nil {
		return err
	}
	e.notifier.BroadcastToAdmins(domain.Event{
		Type: domain.EventSecurityViolation,
		Payload: map[string]string{
			"session_id":     snapshot.ID,
			"user_id":        snapshot.UserID,
			"tournament_id":  snapshot.TournamentID,
			"violation_type": violationType,
		},
	})
	return nil
}

// Results returns the current results view for a session, enriched with rank
// and prize once the tournament has settled.
func (e *Engine) Results(ctx context.Context, sessionID string) (domain.SessionResults, error) {
	var data *domain.QuizSession
	if s := e.lookup(sessionID); s != nil {
		data = s.snapshot()
	} else {
		stored, err := e.store.Session(ctx, sessionID)
		if err != nil || stored == nil {
			return domain.SessionResults{}, domain.ErrSessionNotFound
		}
		data = stored
	}

	res := resultsOf(data, "")
	if entry, err := e.store.EntryBySession(ctx, sessionID); err == nil {
		res.Rank = entry.Rank
		res.PrizeAmount = entry.Prize
	}
	return res, nil
}

// ActiveSessions reports how many attempts are currently Started.
func (e *Engine) ActiveSessions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := 0
	for _, s := range e.sessions {
		s.mu.Lock()
		if s.data.Status == domain.SessionStarted {
			count++
		}
		s.mu.Unlock()
	}
	return count
}

// runCountdown supervises one session's deadline: it wakes every second,
// pushes periodic time updates, and forces completion the moment the budget
// expires. Disconnects never stop it; the timer stays the sole authority for
// forced completion.
func (e *Engine) runCountdown(s *liveSession) {
	ticker := e.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.Chan():
			s.mu.Lock()
			active := s.data.Status == domain.SessionStarted
			remaining := int(s.deadline.Sub(e.clock.Now()).Seconds())
			userID, sessionID := s.data.UserID, s.data.ID
			s.mu.Unlock()

			if !active {
				return
			}
			if remaining <= 0 {
				if _, err := e.Complete(context.Background(), sessionID, ReasonTimeUp); err != nil && !errors.Is(err, domain.ErrSessionNotActive) {
					e.logger.Error().Err(err).Str("session_id", sessionID).Msg("forced completion failed")
				}
				return
			}
			if e.timeUpdateEvery > 0 && remaining%e.timeUpdateEvery == 0 {
				e.notifier.SendToUser(userID, domain.Event{
					Type: domain.EventTimeUpdate,
					Payload: map[string]interface{}{
						"session_id":     sessionID,
						"time_remaining": remaining,
					},
				})
			}
		}
	}
}

func (e *Engine) register(s *liveSession) {
	e.mu.Lock()
	e.sessions[s.data.ID] = s
	e.mu.Unlock()
}

func (e *Engine) lookup(sessionID string) *liveSession {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[sessionID]
}

func (s *liveSession) snapshot() *domain.QuizSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSession(s.data)
}

// scoreOf recounts the score from scratch: the number of recorded answers
// matching their question's correct index.
func scoreOf(session *domain.QuizSession) int {
	score := 0
	for i, a := range session.Answers {
		if a != nil && i < len(session.Questions) && a.Chosen == session.Questions[i].CorrectIndex {
			score++
		}
	}
	return score
}

func resultsOf(session *domain.QuizSession, reason string) domain.SessionResults {
	total := len(session.Questions)
	percentage := 0.0
	if total > 0 {
		percentage = float64(session.Score) / float64(total) * 100
	}
	return domain.SessionResults{
		SessionID:      session.ID,
		Score:          session.Score,
		TotalQuestions: total,
		Percentage:     percentage,
		TimeTaken:      session.TimeTaken,
		Status:         session.Status,
		Reason:         reason,
	}
}

func cloneSession(s *domain.QuizSession) *domain.QuizSession {
	clone := *s
	clone.Questions = append([]domain.QuestionSnapshot(nil), s.Questions...)
	clone.Answers = make([]*domain.Answer, len(s.Answers))
	for i, a := range s.Answers {
		if a != nil {
			answer := *a
			clone.Answers[i] = &answer
		}
	}
	clone.Violations = append([]domain.Violation(nil), s.Violations...)
	return &clone
}
