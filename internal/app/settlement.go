package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quiz-tournament-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Prize distribution: 60% of collected entry fees form the pool, split
// 50/30/20 across ranks 1-3. Ranks beyond 3 receive nothing.
const poolShare = 0.6

var prizeShares = []float64{0.5, 0.3, 0.2}

// DefaultSettlementDelay is the quorum window settlement waits after a
// completion before running, to admit stragglers still finishing.
const DefaultSettlementDelay = 30 * time.Second

// Settler computes final rankings and distributes prizes exactly once per
// tournament. Schedule debounces racing completion triggers; the settlement
// claim in the store guarantees the money moves at most once.
type Settler struct {
	store    Store
	notifier Notifier
	clock    clockwork.Clock
	logger   zerolog.Logger
	delay    time.Duration
	topN     int

	mu      sync.Mutex
	pending map[string]clockwork.Timer
	quit    chan struct{}
	once    sync.Once
}

func NewSettler(store Store, notifier Notifier, clock clockwork.Clock, logger zerolog.Logger, delay time.Duration, topN int) *Settler {
	if delay <= 0 {
		delay = DefaultSettlementDelay
	}
	if topN <= 0 {
		topN = 10
	}
	return &Settler{
		store:    store,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		delay:    delay,
		topN:     topN,
		pending:  make(map[string]clockwork.Timer),
		quit:     make(chan struct{}),
	}
}

// Schedule arms a delayed settlement for the tournament. Repeated calls while
// one is pending coalesce into the single armed timer.
func (st *Settler) Schedule(tournamentID string) {
	st.mu.Lock()
	if _, exists := st.pending[tournamentID]; exists {
		st.mu.Unlock()
		st.logger.Debug().Str("tournament_id", tournamentID).Msg("settlement already pending, coalescing")
		return
	}
	timer := st.clock.NewTimer(st.delay)
	st.pending[tournamentID] = timer
	st.mu.Unlock()

	go func() {
		select {
		case <-timer.Chan():
			st.mu.Lock()
			delete(st.pending, tournamentID)
			st.mu.Unlock()
			if err := st.Settle(context.Background(), tournamentID); err != nil {
				st.logger.Error().Err(err).Str("tournament_id", tournamentID).Msg("settlement failed")
			}
		case <-st.quit:
			stopAndDrainTimer(timer)
		}
	}()
}

// Stop cancels all pending settlements, for shutdown.
func (st *Settler) Stop() {
	st.once.Do(func() { close(st.quit) })
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, timer := range st.pending {
		stopAndDrainTimer(timer)
		delete(st.pending, id)
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired,
// per the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// Settle ranks the tournament's finished entries, writes rank and prize to
// each exactly once, credits winner wallets, and broadcasts the outcome.
// Re-invocation for an already-settled tournament is a no-op: only the caller
// that wins the store's settlement claim proceeds to side effects.
func (st *Settler) Settle(ctx context.Context, tournamentID string) error {
	claimed, err := st.store.ClaimSettlement(ctx, tournamentID)
	if err != nil {
		return fmt.Errorf("claim settlement: %w", err)
	}
	if !claimed {
		st.logger.Debug().Str("tournament_id", tournamentID).Msg("tournament already settled")
		return nil
	}

	entries, err := st.store.EntriesByTournament(ctx, tournamentID)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}

	pool := 0.0
	finished := entries[:0:0]
	for _, entry := range entries {
		pool += entry.Fee
		if entry.FinalScore != nil {
			finished = append(finished, entry)
		}
	}
	pool *= poolShare

	// Score descending; ties broken by earlier join time.
	sort.Slice(finished, func(i, j int) bool {
		if *finished[i].FinalScore != *finished[j].FinalScore {
			return *finished[i].FinalScore > *finished[j].FinalScore
		}
		return finished[i].JoinedAt.Before(finished[j].JoinedAt)
	})

	now := st.clock.Now().UTC()
	totalDistributed := 0.0
	leaderboard := make([]domain.LeaderboardRow, 0, st.topN)

	for i, entry := range finished {
		rank := i + 1
		prize := 0.0
		if rank <= len(prizeShares) {
			prize = pool * prizeShares[rank-1]
		}
		if err := st.store.SetRankAndPrize(ctx, entry.ID, rank, prize); err != nil {
			return fmt.Errorf("write rank for entry %s: %w", entry.ID, err)
		}
		if prize > 0 {
			tx := domain.WalletTransaction{
				ID:        uuid.NewString(),
				UserID:    entry.UserID,
				Amount:    prize,
				Kind:      "prize",
				Reference: tournamentID,
				CreatedAt: now,
			}
			balance, err := st.store.CreditWallet(ctx, entry.UserID, prize, tx)
			if err != nil {
				return fmt.Errorf("credit prize for user %s: %w", entry.UserID, err)
			}
			totalDistributed += prize
			st.notifier.SendToUser(entry.UserID, domain.Event{
				Type: domain.EventWalletUpdate,
				Payload: map[string]interface{}{
					"new_balance": balance,
					"transaction": tx,
				},
			})
		}
		if len(leaderboard) < st.topN {
			leaderboard = append(leaderboard, domain.LeaderboardRow{
				UserID: entry.UserID,
				Score:  *entry.FinalScore,
				Rank:   rank,
				Prize:  prize,
			})
		}
	}

	st.notifier.BroadcastToRoom(tournamentID, domain.Event{
		Type: domain.EventTournamentUpdate,
		Payload: map[string]interface{}{
			"tournament_id":     tournamentID,
			"status":            "completed",
			"participants":      len(finished),
			"total_distributed": totalDistributed,
			"leaderboard":       leaderboard,
		},
	})
	st.logger.Info().
		Str("tournament_id", tournamentID).
		Int("finishers", len(finished)).
		Float64("pool", pool).
		Float64("distributed", totalDistributed).
		Msg("tournament settled")
	return nil
}
