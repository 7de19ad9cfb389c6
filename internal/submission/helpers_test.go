package submission

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/answersync/internal/answer"
	"github.com/roach88/answersync/internal/metrics"
	"github.com/roach88/answersync/internal/store"
	"github.com/roach88/answersync/internal/testutil"
)

type fixture struct {
	c       *Coordinator
	store   *store.Store
	remote  *testutil.FakeRemote
	probe   *testutil.FakeProbe
	ids     *testutil.SequenceGenerator
	metrics *metrics.Metrics
}

// newFixture builds a coordinator over a temp SQLite store with a fake
// remote and an online probe. The coordinator is stopped on cleanup.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	clock := testutil.NewDeterministicClock(time.Time{}, time.Second)
	st, err := store.Open(filepath.Join(t.TempDir(), "answers.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	f := &fixture{
		store:   st,
		remote:  testutil.NewFakeRemote(),
		probe:   testutil.NewFakeProbe(true),
		ids:     testutil.NewSequenceGenerator("sub"),
		metrics: m,
	}

	base := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(m),
		WithClock(clock.Now),
		WithIDGenerator(f.ids),
		WithSubmitTimeout(5 * time.Second),
	}
	f.c, err = New(st, f.remote, f.probe, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(f.c.Stop)
	return f
}

func request(elementID, lessonID, payload string) answer.SubmitRequest {
	return answer.SubmitRequest{
		ElementID:     elementID,
		LessonID:      lessonID,
		GraphLessonID: "g-" + lessonID,
		Answer:        json.RawMessage(payload),
	}
}

func key(elementID, lessonID string) answer.Key {
	return answer.Key{ElementID: elementID, LessonID: lessonID}
}

func (f *fixture) submit(t *testing.T, req answer.SubmitRequest) answer.SubmissionResult {
	t.Helper()
	res, err := f.c.SubmitAnswer(context.Background(), req)
	require.NoError(t, err)
	return res
}

// cacheOffline stores req through the offline path.
func (f *fixture) cacheOffline(t *testing.T, req answer.SubmitRequest) {
	t.Helper()
	f.probe.SetOnline(false)
	defer f.probe.SetOnline(true)
	res := f.submit(t, req)
	require.True(t, res.Success && res.Cached)
}

func (f *fixture) pendingCount(t *testing.T) int {
	t.Helper()
	n, err := f.c.GetPendingCount(context.Background())
	require.NoError(t, err)
	return n
}

func (f *fixture) cached(t *testing.T, k answer.Key) answer.CachedAnswer {
	t.Helper()
	rec, ok, err := f.c.GetCachedAnswer(context.Background(), k)
	require.NoError(t, err)
	require.True(t, ok, "expected %s to be cached", k)
	return rec
}

func (f *fixture) has(t *testing.T, k answer.Key) bool {
	t.Helper()
	ok, err := f.c.HasCachedAnswer(context.Background(), k)
	require.NoError(t, err)
	return ok
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}
