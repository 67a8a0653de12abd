package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"quiz-tournament-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionLoader loads bank questions by category from Postgres. Options are
// stored as a JSONB array per question.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context, category string) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, category, question_text, options, correct_answer, explanation, difficulty
		FROM questions WHERE category=$1`, category)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		var options []byte
		if err := rows.Scan(&q.ID, &q.Category, &q.Text, &options, &q.CorrectIndex, &q.Explanation, &q.Difficulty); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
