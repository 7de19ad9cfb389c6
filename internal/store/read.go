package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/answersync/internal/answer"
)

// GetAnswer returns the cached answer for key.
// The boolean is false, with a nil error, when no row exists.
func (s *Store) GetAnswer(ctx context.Context, key answer.Key) (answer.CachedAnswer, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+answerColumns+`
		FROM cached_answers
		WHERE element_id = ? AND lesson_id = ?
	`, key.ElementID, key.LessonID)

	rec, err := scanAnswer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return answer.CachedAnswer{}, false, nil
	}
	if err != nil {
		return answer.CachedAnswer{}, false, fmt.Errorf("get answer %s: %w", key, err)
	}
	return rec, true, nil
}

// GetPendingAnswers returns every pending or failed answer in insertion
// order (ORDER BY seq ASC).
//
// Returns an empty slice (not nil) when nothing is cached.
func (s *Store) GetPendingAnswers(ctx context.Context) ([]answer.CachedAnswer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+answerColumns+`
		FROM cached_answers
		WHERE status IN ('pending', 'failed')
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending answers: %w", err)
	}
	defer rows.Close()

	answers := []answer.CachedAnswer{}
	for rows.Next() {
		rec, err := scanAnswer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending answer: %w", err)
		}
		answers = append(answers, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending answers: %w", err)
	}

	return answers, nil
}

// GetPendingCount returns the number of pending or failed answers.
func (s *Store) GetPendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cached_answers
		WHERE status IN ('pending', 'failed')
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending answers: %w", err)
	}
	return count, nil
}

// NeedsSync reports whether any answer is waiting to be synced.
func (s *Store) NeedsSync(ctx context.Context) (bool, error) {
	n, err := s.GetPendingCount(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
