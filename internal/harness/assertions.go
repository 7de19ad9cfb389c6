package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/answersync/internal/answer"
	"github.com/roach88/answersync/internal/testutil"
)

// AssertionError is returned when an assertion fails. It carries the
// trace so a failure can be read without re-running the scenario.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s %v\n", ev.Seq, ev.Step, ev.Op, ev.Fields)
		}
	}
	return buf.String()
}

// evaluateAssertions checks every assertion and records failures on r.
func evaluateAssertions(r *Result, assertions []Assertion) {
	for i, a := range assertions {
		if err := evaluateAssertion(r, a); err != nil {
			r.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
}

func evaluateAssertion(r *Result, a Assertion) error {
	switch a.Type {
	case AssertPendingCount:
		return assertCount(r, a.Type, "pending answers", *a.Count, r.PendingCount())
	case AssertSyncCount:
		return assertCount(r, a.Type, "auto-syncs", *a.Count, len(r.Syncs))
	case AssertRemoteCalls:
		return assertCount(r, a.Type, "remote calls"+forElement(a.ElementID), *a.Count, countCalls(r.Calls, a.ElementID))
	case AssertRemoteAccepted:
		return assertCount(r, a.Type, "accepted calls"+forElement(a.ElementID), *a.Count, countCalls(r.Accept, a.ElementID))
	case AssertCached:
		return assertCached(r, a)
	case AssertNotCached:
		key := answer.Key{ElementID: a.ElementID, LessonID: a.LessonID}
		if c, ok := findCached(r.Cached, key); ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("no cached answer for %s", key),
				Actual:   fmt.Sprintf("cached with status %s", c.Status),
				Trace:    r.Trace,
			}
		}
		return nil
	case AssertNoLoss:
		return assertNoLoss(r)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertCount(r *Result, typ, what string, want, got int) error {
	if want == got {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%d %s", want, what),
		Actual:   fmt.Sprintf("%d", got),
		Trace:    r.Trace,
	}
}

func assertCached(r *Result, a Assertion) error {
	key := answer.Key{ElementID: a.ElementID, LessonID: a.LessonID}
	c, ok := findCached(r.Cached, key)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("cached answer for %s", key),
			Actual:   "not cached",
			Trace:    r.Trace,
		}
	}

	var mismatches []string
	if a.Status != "" && string(c.Status) != a.Status {
		mismatches = append(mismatches, fmt.Sprintf("status=%s, want %s", c.Status, a.Status))
	}
	if a.Answer != "" {
		want, err := answer.ParsePayload([]byte(a.Answer))
		if err != nil {
			return fmt.Errorf("cached: answer: %w", err)
		}
		if !c.Answer.Equal(want) {
			mismatches = append(mismatches, fmt.Sprintf("answer=%s, want %s", c.Answer, want))
		}
	}
	if a.HasError != nil && (c.LastError != "") != *a.HasError {
		mismatches = append(mismatches, fmt.Sprintf("last_error=%q, want has_error=%t", c.LastError, *a.HasError))
	}
	if a.Retryable != nil && c.Retryable != *a.Retryable {
		mismatches = append(mismatches, fmt.Sprintf("retryable=%t, want %t", c.Retryable, *a.Retryable))
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("cached answer for %s to match", key),
		Actual:   strings.Join(mismatches, "; "),
		Trace:    r.Trace,
	}
}

// assertNoLoss checks that the last answer submitted for every key was
// either accepted remotely or is still cached.
func assertNoLoss(r *Result) error {
	var lost []string
	for key, payload := range r.Sent {
		if c, ok := findCached(r.Cached, key); ok && c.Answer.Equal(answer.Payload(payload)) {
			continue
		}
		if accepted(r.Accept, key.ElementID, payload) {
			continue
		}
		lost = append(lost, key.String())
	}
	if len(lost) == 0 {
		return nil
	}
	slices.Sort(lost)
	return &AssertionError{
		Type:     AssertNoLoss,
		Expected: "every submitted answer accepted or cached",
		Actual:   "lost: " + strings.Join(lost, ", "),
		Trace:    r.Trace,
	}
}

func findCached(cached []answer.CachedAnswer, key answer.Key) (answer.CachedAnswer, bool) {
	for _, c := range cached {
		if c.Key() == key {
			return c, true
		}
	}
	return answer.CachedAnswer{}, false
}

func accepted(calls []testutil.RemoteCall, elementID, payload string) bool {
	for _, c := range calls {
		if c.ElementID == elementID && answer.Payload(c.Answer).Equal(answer.Payload(payload)) {
			return true
		}
	}
	return false
}

func countCalls(calls []testutil.RemoteCall, elementID string) int {
	if elementID == "" {
		return len(calls)
	}
	n := 0
	for _, c := range calls {
		if c.ElementID == elementID {
			n++
		}
	}
	return n
}

func forElement(elementID string) string {
	if elementID == "" {
		return ""
	}
	return " for " + elementID
}
