package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quiz-tournament-service/internal/domain"
)

type countingLoader struct {
	calls     int64
	questions []domain.Question
}

func (l *countingLoader) LoadQuestions(_ context.Context, _ string) ([]domain.Question, error) {
	atomic.AddInt64(&l.calls, 1)
	return l.questions, nil
}

func TestQuestionBankCachesWithinTTL(t *testing.T) {
	loader := &countingLoader{questions: []domain.Question{{ID: "q1", Category: "general"}}}
	bank := NewQuestionBank(loader, time.Minute)

	now := time.Now()
	bank.clock = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		questions, err := bank.QuestionsByCategory(context.Background(), "general")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(questions) != 1 {
			t.Fatalf("expected 1 question, got %d", len(questions))
		}
	}
	if got := atomic.LoadInt64(&loader.calls); got != 1 {
		t.Fatalf("expected single loader call within TTL, got %d", got)
	}

	// Jitter tops out at 10% of the TTL, so two TTLs later the entry is stale.
	now = now.Add(2 * time.Minute)
	if _, err := bank.QuestionsByCategory(context.Background(), "general"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := atomic.LoadInt64(&loader.calls); got != 2 {
		t.Fatalf("expected reload after expiry, got %d calls", got)
	}
}

func TestQuestionBankCollapsesConcurrentLoads(t *testing.T) {
	loader := &countingLoader{questions: []domain.Question{{ID: "q1", Category: "general"}}}
	bank := NewQuestionBank(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := bank.QuestionsByCategory(context.Background(), "general"); err != nil {
				t.Errorf("load: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&loader.calls); got != 1 {
		t.Fatalf("expected concurrent loads collapsed to one, got %d", got)
	}
}

func TestStaticLoaderUnknownCategory(t *testing.T) {
	loader := NewStaticQuestionLoader(map[string][]domain.Question{})
	if _, err := loader.LoadQuestions(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown category")
	}
}
