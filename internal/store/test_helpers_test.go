package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/answersync/internal/answer"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	t := testEpoch
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(stepClock()))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestAnswer creates a pending answer with minimal required fields.
func createTestAnswer(elementID, lessonID, payload string) answer.CachedAnswer {
	return answer.CachedAnswer{
		ElementID:     elementID,
		LessonID:      lessonID,
		GraphLessonID: "g-" + lessonID,
		Answer:        answer.MustParsePayload(payload),
		SubmissionID:  "sub-" + lessonID + "-" + elementID,
		Status:        answer.StatusPending,
	}
}

func mustSave(t *testing.T, s *Store, rec answer.CachedAnswer) answer.CachedAnswer {
	t.Helper()
	stored, err := s.SaveAnswer(context.Background(), rec)
	if err != nil {
		t.Fatalf("SaveAnswer(%s) failed: %v", rec.Key(), err)
	}
	return stored
}
