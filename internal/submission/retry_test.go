package submission

import (
	"context"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/answersync/internal/answer"
	"github.com/roach88/answersync/internal/testutil"
)

func TestRetryFailedSubmissions_Empty(t *testing.T) {
	f := newFixture(t)
	assert.Zero(t, f.c.RetryFailedSubmissions(context.Background()))
	assert.Zero(t, f.remote.CallCount())
}

func TestRetryFailedSubmissions_BatchPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.cacheOffline(t, request("q1", "l1", `{"choice":1}`))
	f.cacheOffline(t, request("q2", "l1", `{"choice":2}`))
	f.cacheOffline(t, request("q3", "l1", `{"choice":3}`))
	f.remote.FailNext("q2", nil)

	succeeded := f.c.RetryFailedSubmissions(context.Background())

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, f.pendingCount(t))

	rec := f.cached(t, key("q2", "l1"))
	assert.Equal(t, answer.StatusFailed, rec.Status)
	assert.Equal(t, testutil.ErrRemoteDown.Error(), rec.LastError)

	// Strictly sequential, in queue order.
	calls := f.remote.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"q1", "q2", "q3"}, []string{calls[0].ElementID, calls[1].ElementID, calls[2].ElementID})
	assert.Equal(t, 2.0, promtestutil.ToFloat64(f.metrics.RetryAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.RetryAttempts.WithLabelValues("failure")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.PendingAnswers))
}

func TestRetryFailedSubmissions_ReusesSubmissionID(t *testing.T) {
	f := newFixture(t)
	f.remote.FailNext("q1", nil)
	f.submit(t, request("q1", "l1", `{"choice":2}`))

	require.Equal(t, 1, f.c.RetryFailedSubmissions(context.Background()))

	calls := f.remote.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].SubmissionID, calls[1].SubmissionID)
}

func TestRetryFailedSubmissions_FailureCountsAttempts(t *testing.T) {
	f := newFixture(t)
	f.remote.FailNext("q1", nil)
	f.submit(t, request("q1", "l1", `1`))

	f.remote.SetFailing(testutil.ErrRemoteDown)
	assert.Zero(t, f.c.RetryFailedSubmissions(context.Background()))
	assert.Zero(t, f.c.RetryFailedSubmissions(context.Background()))

	rec := f.cached(t, key("q1", "l1"))
	assert.Equal(t, answer.StatusFailed, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
}

// The reference scenario: remote rejects once, then accepts on retry.
func TestScenario_RejectOnceThenRetry(t *testing.T) {
	f := newFixture(t)
	f.remote.FailNext("q1", nil)

	res := f.submit(t, answer.SubmitRequest{
		ElementID:     "q1",
		LessonID:      "l1",
		GraphLessonID: "gl1",
		Answer:        []byte(`{"choice":2}`),
	})
	assert.False(t, res.Success)
	assert.True(t, res.Cached)

	assert.Equal(t, 1, f.c.RetryFailedSubmissions(context.Background()))
	assert.Equal(t, 0, f.pendingCount(t))

	calls := f.remote.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "gl1", calls[1].GraphLessonID)
}

func TestRetryFailedSubmissions_SkipRejected(t *testing.T) {
	f := newFixture(t, WithSkipRejected(true))
	f.remote.FailNext("q1", &testutil.RejectedError{Reason: "invalid"})
	f.submit(t, request("q1", "l1", `1`))
	f.cacheOffline(t, request("q2", "l1", `2`))

	assert.Equal(t, 1, f.c.RetryFailedSubmissions(context.Background()))

	assert.Equal(t, 1, f.remote.CallsFor("q1"), "rejected answer is not resent")
	assert.True(t, f.has(t, key("q1", "l1")))
	assert.False(t, f.has(t, key("q2", "l1")))
}

func TestRetryFailedSubmissions_RejectedResentByDefault(t *testing.T) {
	f := newFixture(t)
	f.remote.FailNext("q1", &testutil.RejectedError{Reason: "invalid"})
	f.submit(t, request("q1", "l1", `1`))

	assert.Equal(t, 1, f.c.RetryFailedSubmissions(context.Background()))
	assert.Equal(t, 2, f.remote.CallsFor("q1"))
}

func TestRetryFailedSubmissions_KeepsAnswerOverwrittenInFlight(t *testing.T) {
	f := newFixture(t)
	f.cacheOffline(t, request("q1", "l1", `{"choice":1}`))

	release := f.remote.Block()
	done := make(chan int, 1)
	go func() { done <- f.c.RetryFailedSubmissions(context.Background()) }()
	receive(t, f.remote.Started(), "retry call")

	// A newer answer for the same key arrives while the old one is in flight.
	f.cacheOffline(t, request("q1", "l1", `{"choice":2}`))
	release()

	assert.Equal(t, 1, receive[int](t, done, "retry result"))
	rec := f.cached(t, key("q1", "l1"))
	assert.Equal(t, `{"choice":2}`, string(rec.Answer))
	assert.Equal(t, answer.StatusPending, rec.Status)
}

func TestRetryFailedSubmissions_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.cacheOffline(t, request("q1", "l1", `1`))
	f.cacheOffline(t, request("q2", "l1", `2`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Zero(t, f.c.RetryFailedSubmissions(ctx))
	assert.Zero(t, f.remote.CallCount())
	assert.Equal(t, 2, f.pendingCount(t))
}

func TestRetryFailedSubmissions_RatePaced(t *testing.T) {
	f := newFixture(t, WithRetryRate(20, 1))
	f.cacheOffline(t, request("q1", "l1", `1`))
	f.cacheOffline(t, request("q2", "l1", `2`))
	f.cacheOffline(t, request("q3", "l1", `3`))

	start := time.Now()
	assert.Equal(t, 3, f.c.RetryFailedSubmissions(context.Background()))

	// Burst of one: the second and third calls each wait ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestRetryFailedSubmissions_WaitsForRunningAutoSync(t *testing.T) {
	f := newFixture(t)
	f.cacheOffline(t, request("q1", "l1", `{"choice":1}`))

	reports := make(chan SyncReport, 1)
	f.c.OnSyncComplete(func(r SyncReport) { reports <- r })

	release := f.remote.Block()
	require.NoError(t, f.c.Start(context.Background()))
	f.c.Signal(Online())
	receive(t, f.remote.Started(), "auto-sync call")

	done := make(chan int, 1)
	go func() { done <- f.c.RetryFailedSubmissions(context.Background()) }()

	select {
	case n := <-done:
		t.Fatalf("manual retry returned %d while an auto-sync was in flight", n)
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, 1, f.remote.CallCount())

	release()
	assert.Equal(t, 1, receive[SyncReport](t, reports, "auto-sync report").Succeeded)
	assert.Zero(t, receive[int](t, done, "manual retry"), "nothing left after the auto-sync")
	assert.Equal(t, 1, f.remote.CallsFor("q1"), "the answer was sent once")
}
