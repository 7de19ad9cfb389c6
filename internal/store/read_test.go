package store

import (
	"context"
	"testing"

	"github.com/roach88/answersync/internal/answer"
)

func TestGetAnswer_Absent(t *testing.T) {
	s := createTestStore(t)

	rec, ok, err := s.GetAnswer(context.Background(), answer.Key{ElementID: "q1", LessonID: "l1"})
	if err != nil {
		t.Fatalf("GetAnswer() failed: %v", err)
	}
	if ok {
		t.Errorf("ok = true for absent key, got %+v", rec)
	}
}

func TestGetAnswer_KeyIsPair(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustSave(t, s, createTestAnswer("q1", "l1", `"a"`))
	mustSave(t, s, createTestAnswer("q1", "l2", `"b"`))

	rec, ok, err := s.GetAnswer(ctx, answer.Key{ElementID: "q1", LessonID: "l2"})
	if err != nil || !ok {
		t.Fatalf("GetAnswer() = ok %v, err %v", ok, err)
	}
	if rec.Answer.String() != `"b"` {
		t.Errorf("answer = %s, want \"b\"", rec.Answer)
	}
}

func TestGetPendingAnswers_InsertionOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustSave(t, s, createTestAnswer("q3", "l1", `3`))
	mustSave(t, s, createTestAnswer("q1", "l1", `1`))
	mustSave(t, s, createTestAnswer("q2", "l1", `2`))
	// Overwriting keeps the original queue position.
	mustSave(t, s, createTestAnswer("q3", "l1", `33`))

	if err := s.UpdateAnswerStatus(ctx, answer.Key{ElementID: "q1", LessonID: "l1"}, answer.StatusFailed, "x", true); err != nil {
		t.Fatalf("UpdateAnswerStatus() failed: %v", err)
	}

	pending, err := s.GetPendingAnswers(ctx)
	if err != nil {
		t.Fatalf("GetPendingAnswers() failed: %v", err)
	}

	want := []string{"q3", "q1", "q2"}
	if len(pending) != len(want) {
		t.Fatalf("len = %d, want %d", len(pending), len(want))
	}
	for i, id := range want {
		if pending[i].ElementID != id {
			t.Errorf("pending[%d] = %s, want %s", i, pending[i].ElementID, id)
		}
	}
	if pending[1].Status != answer.StatusFailed {
		t.Errorf("failed entries must be included, got %q", pending[1].Status)
	}
}

func TestGetPendingAnswers_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	pending, err := s.GetPendingAnswers(context.Background())
	if err != nil {
		t.Fatalf("GetPendingAnswers() failed: %v", err)
	}
	if pending == nil {
		t.Error("expected empty slice, got nil")
	}
}

func TestGetPendingCountAndNeedsSync(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	needs, err := s.NeedsSync(ctx)
	if err != nil || needs {
		t.Fatalf("NeedsSync() on empty store = %v, %v", needs, err)
	}

	mustSave(t, s, createTestAnswer("q1", "l1", `1`))
	mustSave(t, s, createTestAnswer("q2", "l1", `2`))

	n, err := s.GetPendingCount(ctx)
	if err != nil {
		t.Fatalf("GetPendingCount() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	if needs, _ := s.NeedsSync(ctx); !needs {
		t.Error("NeedsSync() = false with cached answers")
	}
}
