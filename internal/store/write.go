package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/answersync/internal/answer"
)

// ErrInvalidAnswer is returned for records the store refuses to persist.
var ErrInvalidAnswer = errors.New("invalid cached answer")

// SaveAnswer inserts the answer or overwrites the row for its key and
// returns the row as stored.
//
// Status defaults to pending. A failed save counts one attempt. On
// overwrite:
//   - seq and created_at are preserved (queue position does not change)
//   - submission_id and attempts are kept when the payload digest is
//     unchanged, and reset otherwise
//
// rec.Digest, rec.Attempts and timestamps are computed by the store.
func (s *Store) SaveAnswer(ctx context.Context, rec answer.CachedAnswer) (answer.CachedAnswer, error) {
	if err := validateForSave(&rec); err != nil {
		return answer.CachedAnswer{}, fmt.Errorf("save answer %s: %w", rec.Key(), err)
	}

	rec.Digest = answer.Digest(rec.Answer)
	now := formatTime(s.now())

	attempts := 0
	if rec.Status == answer.StatusFailed {
		attempts = 1
	}
	if rec.Status == answer.StatusPending {
		rec.LastError = ""
	}

	// SET expressions see the pre-update row, so cached_answers.digest is
	// the old digest throughout.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO cached_answers
		(element_id, lesson_id, graph_lesson_id, answer, digest, submission_id,
		 status, last_error, retryable, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(element_id, lesson_id) DO UPDATE SET
			graph_lesson_id = excluded.graph_lesson_id,
			answer          = excluded.answer,
			digest          = excluded.digest,
			submission_id   = CASE WHEN cached_answers.digest = excluded.digest
			                       THEN cached_answers.submission_id
			                       ELSE excluded.submission_id END,
			status          = excluded.status,
			last_error      = excluded.last_error,
			retryable       = excluded.retryable,
			attempts        = CASE WHEN cached_answers.digest = excluded.digest
			                       THEN cached_answers.attempts
			                       ELSE 0 END + excluded.attempts,
			updated_at      = excluded.updated_at
		RETURNING `+answerColumns,
		rec.ElementID,
		rec.LessonID,
		rec.GraphLessonID,
		string(rec.Answer),
		rec.Digest,
		rec.SubmissionID,
		string(rec.Status),
		rec.LastError,
		boolToInt(rec.Retryable),
		attempts,
		now,
		now,
	)

	stored, err := scanAnswer(row)
	if err != nil {
		return answer.CachedAnswer{}, fmt.Errorf("save answer %s: %w", rec.Key(), err)
	}
	return stored, nil
}

func validateForSave(rec *answer.CachedAnswer) error {
	if rec.Status == "" {
		rec.Status = answer.StatusPending
	}
	switch {
	case rec.ElementID == "" || rec.LessonID == "":
		return fmt.Errorf("%w: element_id and lesson_id are required", ErrInvalidAnswer)
	case rec.GraphLessonID == "":
		return fmt.Errorf("%w: graph_lesson_id is required", ErrInvalidAnswer)
	case len(rec.Answer) == 0:
		return fmt.Errorf("%w: answer payload is required", ErrInvalidAnswer)
	case rec.SubmissionID == "":
		return fmt.Errorf("%w: submission_id is required", ErrInvalidAnswer)
	case !rec.Status.Unresolved():
		return fmt.Errorf("%w: cannot cache an answer with status %q", ErrInvalidAnswer, rec.Status)
	}
	return nil
}

// RemoveAnswer deletes the row for key. Removing an absent key is a no-op.
func (s *Store) RemoveAnswer(ctx context.Context, key answer.Key) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cached_answers
		WHERE element_id = ? AND lesson_id = ?
	`, key.ElementID, key.LessonID)
	if err != nil {
		return fmt.Errorf("remove answer %s: %w", key, err)
	}
	return nil
}

// RemoveAnswerIfCurrent deletes the row for key only if it still carries
// submissionID. It reports whether a row was deleted.
//
// Batch retry uses this so that an answer overwritten while its previous
// version was in flight is kept for the next sync.
func (s *Store) RemoveAnswerIfCurrent(ctx context.Context, key answer.Key, submissionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM cached_answers
		WHERE element_id = ? AND lesson_id = ? AND submission_id = ?
	`, key.ElementID, key.LessonID, submissionID)
	if err != nil {
		return false, fmt.Errorf("remove answer %s: %w", key, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove answer %s: rows affected: %w", key, err)
	}
	return n > 0, nil
}

// UpdateAnswerStatus transitions the row for key. Updating an absent key
// is a no-op, since the row may have been removed concurrently.
//
//   - failed records failure as last_error, sets retryable and counts an
//     attempt
//   - pending keeps the previous last_error for diagnostics
//   - submitted deletes the row
func (s *Store) UpdateAnswerStatus(ctx context.Context, key answer.Key, status answer.Status, failure string, retryable bool) error {
	now := formatTime(s.now())

	var err error
	switch status {
	case answer.StatusFailed:
		_, err = s.db.ExecContext(ctx, `
			UPDATE cached_answers
			SET status = 'failed', last_error = ?, retryable = ?,
			    attempts = attempts + 1, updated_at = ?
			WHERE element_id = ? AND lesson_id = ?
		`, failure, boolToInt(retryable), now, key.ElementID, key.LessonID)
	case answer.StatusPending:
		_, err = s.db.ExecContext(ctx, `
			UPDATE cached_answers
			SET status = 'pending', updated_at = ?
			WHERE element_id = ? AND lesson_id = ?
		`, now, key.ElementID, key.LessonID)
	case answer.StatusSubmitted:
		return s.RemoveAnswer(ctx, key)
	default:
		return fmt.Errorf("update answer %s: unknown status %q", key, status)
	}
	if err != nil {
		return fmt.Errorf("update answer %s: %w", key, err)
	}
	return nil
}

// ClearAll deletes every cached answer. Used for explicit resets such as
// logout, never by the normal submission flow.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cached_answers`); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}
	return nil
}
