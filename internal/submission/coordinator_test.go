package submission

import (
	"context"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/answersync/internal/answer"
	"github.com/roach88/answersync/internal/testutil"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	remote := testutil.NewFakeRemote()
	probe := testutil.NewFakeProbe(true)

	_, err := New(nil, remote, probe)
	assert.Error(t, err)

	f := newFixture(t)
	_, err = New(f.store, nil, probe)
	assert.Error(t, err)
	_, err = New(f.store, remote, nil)
	assert.Error(t, err)
}

func TestCoordinator_NoSideEffectsBeforeStart(t *testing.T) {
	f := newFixture(t)

	status := f.c.GetNetworkStatus()
	assert.False(t, status.Online)
	assert.Zero(t, status.Seq)

	// Queued, not processed.
	require.True(t, f.c.Signal(Online()))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, f.c.GetNetworkStatus().Online)
	assert.Zero(t, f.probe.Checks())
}

func TestCoordinator_StartTwice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Start(context.Background()))
	assert.ErrorIs(t, f.c.Start(context.Background()), ErrAlreadyStarted)
}

func TestCoordinator_StopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Start(context.Background()))

	f.c.Stop()
	f.c.Stop()
	assert.False(t, f.c.Signal(Online()), "signals are refused after Stop")
}

func TestCoordinator_ContextCancelStopsLoop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.c.Start(ctx))

	cancel()
	receive[struct{}](t, f.c.loopDone, "loop exit")
	assert.False(t, f.c.Signal(Online()))
}

func TestCoordinator_SignalsUpdateStatusInOrder(t *testing.T) {
	f := newFixture(t)
	statuses := make(chan answer.NetworkStatus, 8)
	f.c.OnNetworkStatusChange(func(s answer.NetworkStatus) { statuses <- s })
	require.NoError(t, f.c.Start(context.Background()))

	f.c.Signal(Online())
	f.c.Signal(Signal{Kind: SignalQualityChanged, EffectiveType: "3g", Downlink: 1.5, RTT: 300 * time.Millisecond})
	f.c.Signal(Offline())

	s1 := receive[answer.NetworkStatus](t, statuses, "online status")
	assert.True(t, s1.Online)
	assert.Equal(t, int64(1), s1.Seq)

	s2 := receive[answer.NetworkStatus](t, statuses, "quality status")
	assert.True(t, s2.Online, "quality change is not a transition")
	assert.Equal(t, "3g", s2.EffectiveType)
	assert.InDelta(t, 1.5, s2.Downlink, 1e-9)
	assert.Equal(t, 300*time.Millisecond, s2.RTT)
	assert.Equal(t, int64(2), s2.Seq)

	s3 := receive[answer.NetworkStatus](t, statuses, "offline status")
	assert.False(t, s3.Online)
	assert.Empty(t, s3.EffectiveType)
	assert.Equal(t, int64(3), s3.Seq)

	f.c.Stop()
	assert.Equal(t, s3, f.c.GetNetworkStatus())
	assert.Equal(t, 0.0, promtestutil.ToFloat64(f.metrics.NetworkOnline))
}

func TestCoordinator_AutoSyncOnReconnect(t *testing.T) {
	f := newFixture(t)
	f.cacheOffline(t, request("q1", "l1", `1`))
	f.cacheOffline(t, request("q2", "l1", `2`))

	reports := make(chan SyncReport, 4)
	f.c.OnSyncComplete(func(r SyncReport) { reports <- r })
	require.NoError(t, f.c.Start(context.Background()))

	f.c.Signal(Online())
	report := receive[SyncReport](t, reports, "sync report")

	assert.Equal(t, "reconnect", report.Trigger)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 2, report.Succeeded)
	assert.Zero(t, report.Remaining)
	assert.Zero(t, f.pendingCount(t))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.SyncRuns.WithLabelValues("reconnect")))
}

func TestCoordinator_NoAutoSyncWithoutPendingWork(t *testing.T) {
	f := newFixture(t)
	reports := make(chan SyncReport, 1)
	f.c.OnSyncComplete(func(r SyncReport) { reports <- r })
	require.NoError(t, f.c.Start(context.Background()))

	f.c.Signal(Online())
	f.c.Stop()

	assert.Empty(t, reports)
	assert.Zero(t, f.remote.CallCount())
}

func TestCoordinator_OnlineWhileOnlineIsNotATransition(t *testing.T) {
	f := newFixture(t, WithInitialStatus(true))
	f.cacheOffline(t, request("q1", "l1", `1`))
	require.NoError(t, f.c.Start(context.Background()))

	f.c.Signal(Online())
	f.c.Signal(Signal{Kind: SignalQualityChanged, EffectiveType: "4g"})
	f.c.Stop()

	assert.Zero(t, f.remote.CallCount())
	assert.True(t, f.has(t, key("q1", "l1")))
}

// Flapping connectivity while a sync is running must not start a second one.
func TestCoordinator_AutoSyncDebounce(t *testing.T) {
	f := newFixture(t)
	f.cacheOffline(t, request("q1", "l1", `1`))

	statuses := make(chan answer.NetworkStatus, 8)
	reports := make(chan SyncReport, 4)
	f.c.OnNetworkStatusChange(func(s answer.NetworkStatus) { statuses <- s })
	f.c.OnSyncComplete(func(r SyncReport) { reports <- r })

	release := f.remote.Block()
	require.NoError(t, f.c.Start(context.Background()))

	f.c.Signal(Online())
	receive(t, f.remote.Started(), "first sync call")
	require.True(t, f.c.SyncInProgress())

	f.c.Signal(Offline())
	f.c.Signal(Online())
	for i := 0; i < 3; i++ {
		receive[answer.NetworkStatus](t, statuses, "status")
	}

	release()
	report := receive[SyncReport](t, reports, "sync report")
	f.c.Stop()

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, f.remote.CallCount(), "exactly one sync reached the remote")
	assert.Empty(t, reports, "no second sync report")
	assert.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.SyncDropped))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.SyncRuns.WithLabelValues("reconnect")))
	assert.False(t, f.c.SyncInProgress())
}

func TestCoordinator_SyncOnStart(t *testing.T) {
	f := newFixture(t, WithInitialStatus(true), WithSyncOnStart(true))
	f.cacheOffline(t, request("q1", "l1", `1`))

	reports := make(chan SyncReport, 1)
	f.c.OnSyncComplete(func(r SyncReport) { reports <- r })
	require.NoError(t, f.c.Start(context.Background()))

	report := receive[SyncReport](t, reports, "start sync")
	assert.Equal(t, "start", report.Trigger)
	assert.Equal(t, 1, report.Succeeded)
}

func TestCoordinator_StopWaitsForAutoSync(t *testing.T) {
	f := newFixture(t)
	f.cacheOffline(t, request("q1", "l1", `1`))
	f.cacheOffline(t, request("q2", "l1", `2`))

	release := f.remote.Block()
	require.NoError(t, f.c.Start(context.Background()))
	f.c.Signal(Online())
	receive(t, f.remote.Started(), "first sync call")

	stopped := make(chan struct{})
	go func() {
		f.c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a remote call was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	release()
	receive[struct{}](t, stopped, "stop")

	// The in-flight answer completed; the batch stopped before the next one.
	assert.Equal(t, 1, f.remote.CallCount())
	assert.False(t, f.has(t, key("q1", "l1")))
	assert.True(t, f.has(t, key("q2", "l1")))
}

func TestObservers_PanicIsIsolated(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var seen []string
	record := func(name string) StatusObserver {
		return func(answer.NetworkStatus) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name)
		}
	}

	f.c.OnNetworkStatusChange(record("first"))
	f.c.OnNetworkStatusChange(func(answer.NetworkStatus) { panic("observer bug") })
	f.c.OnNetworkStatusChange(record("third"))

	require.NoError(t, f.c.Start(context.Background()))
	f.c.Signal(Online())
	f.c.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "third"}, seen)
	assert.True(t, f.c.GetNetworkStatus().Online, "the transition still happened")
	assert.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.ObserverPanics))
}

func TestObservers_Unsubscribe(t *testing.T) {
	f := newFixture(t)

	calls := 0
	unsubscribe := f.c.OnNetworkStatusChange(func(answer.NetworkStatus) { calls++ })
	require.NoError(t, f.c.Start(context.Background()))

	f.c.Signal(Online())
	f.c.Stop()
	assert.Equal(t, 1, calls)

	unsubscribe()
	unsubscribe()
	status, _ := f.c.observers.snapshot()
	assert.Empty(t, status)
}

func TestCoordinator_ClearCache(t *testing.T) {
	f := newFixture(t)
	f.cacheOffline(t, request("q1", "l1", `1`))
	f.cacheOffline(t, request("q2", "l2", `2`))

	require.NoError(t, f.c.ClearCache(context.Background()))
	assert.Zero(t, f.pendingCount(t))
	assert.Equal(t, 0.0, promtestutil.ToFloat64(f.metrics.PendingAnswers))
}

func TestCoordinator_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t, WithTracerProvider(tp))
	f.remote.FailNext("q1", nil)
	f.submit(t, request("q1", "l1", `1`))
	f.c.RetryFailedSubmissions(context.Background())

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{
		"submission.remote",
		"submission.SubmitAnswer",
		"submission.remote",
		"submission.RetryFailedSubmissions",
	}, names)

	submit := recorder.Ended()[1]
	attrs := map[string]string{}
	for _, kv := range submit.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "q1", attrs["answer.element_id"])
	assert.Equal(t, "failed", attrs["submission.outcome"])
}
