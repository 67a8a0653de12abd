package app_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"quiz-tournament-service/internal/app"
	"quiz-tournament-service/internal/domain"
	"quiz-tournament-service/internal/infra/memory"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

func intPtr(v int) *int { return &v }

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// seedFinishedTournament creates five finished entries with fee 39 each:
// scores 20, 18, 18, 15, 10, where u2 joined before u3 (tie at 18).
func seedFinishedTournament(t *testing.T, store *memory.Store) {
	t.Helper()
	store.SeedTournament(domain.Tournament{
		ID:       "t1",
		Name:     "Payout Cup",
		Category: "general",
		EntryFee: 39,
	})
	joined := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	scores := map[string]int{"u1": 20, "u2": 18, "u3": 18, "u4": 15, "u5": 10}
	for i, userID := range []string{"u1", "u2", "u3", "u4", "u5"} {
		store.SeedBalance(userID, 0)
		entry := domain.Entry{
			ID:           fmt.Sprintf("e%d", i+1),
			TournamentID: "t1",
			UserID:       userID,
			Fee:          39,
			JoinedAt:     joined.Add(time.Duration(i) * time.Minute),
			SessionID:    fmt.Sprintf("s%d", i+1),
			FinalScore:   intPtr(scores[userID]),
		}
		if err := store.CreateEntry(context.Background(), entry); err != nil {
			t.Fatalf("create entry: %v", err)
		}
	}
}

func newTestSettler(store *memory.Store, notifier *recordingNotifier, clock clockwork.Clock, delay time.Duration) *app.Settler {
	return app.NewSettler(store, notifier, clock, zerolog.Nop(), delay, 10)
}

func TestSettleDistributesPrizes(t *testing.T) {
	store := memory.NewStore()
	seedFinishedTournament(t, store)
	notifier := &recordingNotifier{}
	settler := newTestSettler(store, notifier, clockwork.NewFakeClock(), time.Second)
	ctx := context.Background()

	if err := settler.Settle(ctx, "t1"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Pool: 5 x 39 x 0.6 = 117, split 50/30/20.
	wantPrizes := map[string]float64{"u1": 58.5, "u2": 35.1, "u3": 23.4, "u4": 0, "u5": 0}
	wantRanks := map[string]int{"u1": 1, "u2": 2, "u3": 3, "u4": 4, "u5": 5}

	entries, err := store.EntriesByTournament(ctx, "t1")
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}
	total := 0.0
	for _, entry := range entries {
		if entry.Rank != wantRanks[entry.UserID] {
			t.Fatalf("user %s: expected rank %d, got %d", entry.UserID, wantRanks[entry.UserID], entry.Rank)
		}
		if !almostEqual(entry.Prize, wantPrizes[entry.UserID]) {
			t.Fatalf("user %s: expected prize %v, got %v", entry.UserID, wantPrizes[entry.UserID], entry.Prize)
		}
		total += entry.Prize

		balance, _ := store.WalletBalance(ctx, entry.UserID)
		if !almostEqual(balance, wantPrizes[entry.UserID]) {
			t.Fatalf("user %s: expected balance %v, got %v", entry.UserID, wantPrizes[entry.UserID], balance)
		}
		txs := store.Transactions(entry.UserID)
		if entry.Prize > 0 {
			if len(txs) != 1 || txs[0].Kind != "prize" || !almostEqual(txs[0].Amount, entry.Prize) {
				t.Fatalf("user %s: expected one prize transaction, got %+v", entry.UserID, txs)
			}
		} else if len(txs) != 0 {
			t.Fatalf("user %s: expected no transactions, got %+v", entry.UserID, txs)
		}
	}
	if total > 117+1e-9 {
		t.Fatalf("distributed %v exceeds pool 117", total)
	}

	event, ok := notifier.find(domain.EventTournamentUpdate)
	if !ok {
		t.Fatalf("expected tournament_update broadcast")
	}
	payload := event.Payload.(map[string]interface{})
	if payload["status"] != "completed" || payload["participants"].(int) != 5 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if !almostEqual(payload["total_distributed"].(float64), 117) {
		t.Fatalf("expected 117 distributed, got %v", payload["total_distributed"])
	}
	leaderboard := payload["leaderboard"].([]domain.LeaderboardRow)
	if len(leaderboard) != 5 || leaderboard[0].UserID != "u1" || leaderboard[1].UserID != "u2" || leaderboard[2].UserID != "u3" {
		t.Fatalf("unexpected leaderboard order %+v", leaderboard)
	}
}

func TestSettleSkipsUnfinishedEntries(t *testing.T) {
	store := memory.NewStore()
	seedFinishedTournament(t, store)
	store.SeedBalance("dnf", 0)
	entry := domain.Entry{
		ID:           "e-dnf",
		TournamentID: "t1",
		UserID:       "dnf",
		Fee:          39,
		JoinedAt:     time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC),
	}
	if err := store.CreateEntry(context.Background(), entry); err != nil {
		t.Fatalf("create entry: %v", err)
	}

	notifier := &recordingNotifier{}
	settler := newTestSettler(store, notifier, clockwork.NewFakeClock(), time.Second)
	if err := settler.Settle(context.Background(), "t1"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// The unfinished entry still funds the pool but never ranks.
	// Pool: 6 x 39 x 0.6 = 140.4; winner takes half.
	entries, _ := store.EntriesByTournament(context.Background(), "t1")
	for _, e := range entries {
		if e.UserID == "dnf" && e.Rank != 0 {
			t.Fatalf("unfinished entry must stay unranked, got rank %d", e.Rank)
		}
		if e.UserID == "u1" && !almostEqual(e.Prize, 70.2) {
			t.Fatalf("expected winner prize 70.2, got %v", e.Prize)
		}
	}
}

func TestSettleIsExactlyOnce(t *testing.T) {
	store := memory.NewStore()
	seedFinishedTournament(t, store)
	notifier := &recordingNotifier{}
	settler := newTestSettler(store, notifier, clockwork.NewFakeClock(), time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := settler.Settle(ctx, "t1"); err != nil {
				t.Errorf("settle: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, _ := store.WalletBalance(ctx, "u1")
	if !almostEqual(balance, 58.5) {
		t.Fatalf("expected winner credited exactly once, balance %v", balance)
	}
	if len(store.Transactions("u1")) != 1 {
		t.Fatalf("expected one prize transaction, got %d", len(store.Transactions("u1")))
	}
	if got := notifier.count(domain.EventTournamentUpdate); got != 1 {
		t.Fatalf("expected one settlement broadcast, got %d", got)
	}
}

func TestScheduleCoalescesAndFiresOnce(t *testing.T) {
	store := memory.NewStore()
	seedFinishedTournament(t, store)
	notifier := &recordingNotifier{}
	clock := clockwork.NewFakeClock()
	settler := newTestSettler(store, notifier, clock, 30*time.Second)

	settler.Schedule("t1")
	settler.Schedule("t1")
	settler.Schedule("t1")

	clock.BlockUntil(1)
	clock.Advance(30 * time.Second)

	waitUntil(t, func() bool {
		return notifier.count(domain.EventTournamentUpdate) == 1
	})

	balance, _ := store.WalletBalance(context.Background(), "u1")
	if !almostEqual(balance, 58.5) {
		t.Fatalf("expected single payout after coalesced schedule, balance %v", balance)
	}

	// A trigger after settlement arms a timer whose settle is a no-op.
	settler.Schedule("t1")
	clock.BlockUntil(1)
	clock.Advance(30 * time.Second)
	time.Sleep(50 * time.Millisecond)
	if got := notifier.count(domain.EventTournamentUpdate); got != 1 {
		t.Fatalf("expected no second settlement, got %d broadcasts", got)
	}
}

func TestStopCancelsPendingSettlements(t *testing.T) {
	store := memory.NewStore()
	seedFinishedTournament(t, store)
	notifier := &recordingNotifier{}
	clock := clockwork.NewFakeClock()
	settler := newTestSettler(store, notifier, clock, 30*time.Second)

	settler.Schedule("t1")
	settler.Stop()

	clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	if got := notifier.count(domain.EventTournamentUpdate); got != 0 {
		t.Fatalf("expected no settlement after stop, got %d broadcasts", got)
	}
}
