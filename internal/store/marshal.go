package store

import (
	"fmt"
	"time"

	"github.com/roach88/answersync/internal/answer"
)

// timeLayout is fixed-width so that TEXT comparison matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(column, value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", column, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const answerColumns = `seq, element_id, lesson_id, graph_lesson_id, answer, digest,
	submission_id, status, last_error, retryable, attempts, created_at, updated_at`

// scanAnswer reads one cached_answers row selected with answerColumns.
func scanAnswer(row scanner) (answer.CachedAnswer, error) {
	var (
		rec                  answer.CachedAnswer
		payload, status      string
		retryable            int
		createdAt, updatedAt string
	)

	err := row.Scan(
		&rec.Seq,
		&rec.ElementID,
		&rec.LessonID,
		&rec.GraphLessonID,
		&payload,
		&rec.Digest,
		&rec.SubmissionID,
		&status,
		&rec.LastError,
		&retryable,
		&rec.Attempts,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return answer.CachedAnswer{}, err
	}

	rec.Answer = answer.Payload(payload)
	rec.Status = answer.Status(status)
	rec.Retryable = retryable != 0

	if rec.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return answer.CachedAnswer{}, err
	}
	if rec.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return answer.CachedAnswer{}, err
	}

	return rec, nil
}
