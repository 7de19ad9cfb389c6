package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/answersync/internal/answer"
	"github.com/roach88/answersync/internal/store"
	"github.com/roach88/answersync/internal/submission"
	"github.com/roach88/answersync/internal/testutil"
)

// DefaultAwaitTimeout bounds every wait on the coordinator.
const DefaultAwaitTimeout = 5 * time.Second

// rejectReason is the reason of scripted rejections.
const rejectReason = "invalid answer"

// Option configures Run.
type Option func(*harness)

// WithLogger passes a logger to the coordinator. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(h *harness) {
		h.logger = l
	}
}

// WithAwaitTimeout overrides DefaultAwaitTimeout.
func WithAwaitTimeout(d time.Duration) Option {
	return func(h *harness) {
		h.timeout = d
	}
}

// harness holds one scenario execution.
type harness struct {
	store   *store.Store
	coord   *submission.Coordinator
	remote  *testutil.FakeRemote
	probe   *testutil.FakeProbe
	clock   *testutil.DeterministicClock
	logger  *zap.Logger
	timeout time.Duration

	statusCh chan answer.NetworkStatus
	syncCh   chan submission.SyncReport
	syncs    []submission.SyncReport
	release  func()
	flushed  int
	result   *Result
}

// Run executes a scenario in a fresh SQLite database and returns its
// result. Expect and assertion failures are reported in Result.Errors; the
// error return is reserved for failures of the harness itself.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	h := &harness{
		remote:   testutil.NewFakeRemote(),
		clock:    testutil.NewDeterministicClock(time.Time{}, 0),
		logger:   zap.NewNop(),
		timeout:  DefaultAwaitTimeout,
		statusCh: make(chan answer.NetworkStatus, 64),
		syncCh:   make(chan submission.SyncReport, 64),
		result:   NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}

	reachable := s.Setup.Online
	if s.Setup.Probe != "" {
		reachable = s.Setup.Probe == "reachable"
	}
	h.probe = testutil.NewFakeProbe(reachable)

	dir, err := os.MkdirTemp("", "answersync-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	h.store, err = store.Open(filepath.Join(dir, "answers.db"), store.WithClock(h.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer h.store.Close()

	h.coord, err = submission.New(h.store, h.remote, h.probe,
		submission.WithLogger(h.logger.With(zap.String("scenario", s.Name))),
		submission.WithClock(h.clock.Now),
		submission.WithIDGenerator(testutil.NewSequenceGenerator("sub")),
		submission.WithInitialStatus(s.Setup.Online),
		submission.WithSkipRejected(s.Setup.SkipRejected),
		submission.WithSyncOnStart(false),
	)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	h.coord.OnNetworkStatusChange(func(st answer.NetworkStatus) { h.statusCh <- st })
	h.coord.OnSyncComplete(func(r submission.SyncReport) { h.syncCh <- r })

	if err := h.coord.Start(ctx); err != nil {
		return nil, fmt.Errorf("start coordinator: %w", err)
	}

	runErr := h.runSteps(ctx, s.Steps)

	if h.release != nil {
		h.release()
	}
	h.coord.Stop()
	h.drainSyncs()
	h.flushRemote(len(s.Steps))

	if runErr != nil {
		return nil, runErr
	}
	if err := h.capture(ctx); err != nil {
		return nil, err
	}

	evaluateAssertions(h.result, s.Assertions)
	return h.result, nil
}

func (h *harness) runSteps(ctx context.Context, steps []Step) error {
	for i, st := range steps {
		n := i + 1
		var err error
		switch {
		case st.Submit != nil:
			err = h.submit(ctx, n, st)
		case st.Network != "":
			err = h.network(ctx, n, st)
		case st.Probe != "":
			h.probe.SetOnline(st.Probe == "reachable")
		case st.Remote != nil:
			h.scriptRemote(st.Remote)
		case st.Retry:
			h.retry(ctx, n, st)
		case st.Clear:
			err = h.clear(ctx, n)
		case st.Await != "":
			err = h.awaitSync(ctx, n, st)
		}
		if err != nil {
			return fmt.Errorf("step %d: %w", n, err)
		}
	}
	return nil
}

func (h *harness) submit(ctx context.Context, n int, st Step) error {
	req := answer.SubmitRequest{
		ElementID:     st.Submit.ElementID,
		LessonID:      st.Submit.LessonID,
		GraphLessonID: st.Submit.GraphLessonID,
		Answer:        json.RawMessage(st.Submit.Answer),
	}
	res, err := h.coord.SubmitAnswer(ctx, req)
	if err != nil {
		return err
	}
	payload, err := answer.ParsePayload(req.Answer)
	if err != nil {
		return err
	}
	h.result.Sent[req.Key()] = string(payload)

	fields := map[string]any{
		"key":     req.Key().String(),
		"success": res.Success,
		"cached":  res.Cached,
	}
	if res.Error != "" {
		fields["error"] = res.Error
	}
	if res.Rejected {
		fields["rejected"] = true
	}
	h.result.AddEvent(n, OpSubmit, fields)
	h.flushRemote(n)

	if e := st.Expect; e != nil {
		h.expectBool(n, "success", e.Success, res.Success)
		h.expectBool(n, "cached", e.Cached, res.Cached)
		h.expectBool(n, "rejected", e.Rejected, res.Rejected)
	}
	return nil
}

// network delivers a signal and waits for the loop to publish the new
// status. It does not wait for an auto-sync; use an await step.
func (h *harness) network(ctx context.Context, n int, st Step) error {
	kind, err := submission.ParseSignalKind(st.Network)
	if err != nil {
		return err
	}
	if !h.coord.Signal(submission.Signal{Kind: kind, EffectiveType: st.EffectiveType}) {
		return fmt.Errorf("coordinator stopped")
	}

	var status answer.NetworkStatus
	select {
	case status = <-h.statusCh:
	case <-time.After(h.timeout):
		return fmt.Errorf("timed out waiting for network status")
	case <-ctx.Done():
		return ctx.Err()
	}

	fields := map[string]any{
		"signal":     st.Network,
		"online":     status.Online,
		"status_seq": status.Seq,
	}
	if status.EffectiveType != "" {
		fields["effective_type"] = status.EffectiveType
	}
	h.result.AddEvent(n, OpNetwork, fields)

	if e := st.Expect; e != nil {
		h.expectBool(n, "online", e.Online, status.Online)
	}
	return nil
}

func (h *harness) scriptRemote(r *RemoteStep) {
	for _, id := range r.FailNext {
		h.remote.FailNext(id, nil)
	}
	for _, id := range r.RejectNext {
		h.remote.FailNext(id, &testutil.RejectedError{Reason: rejectReason})
	}
	if r.Failing != nil {
		if *r.Failing {
			h.remote.SetFailing(testutil.ErrRemoteDown)
		} else {
			h.remote.SetFailing(nil)
		}
	}
	if r.Block && h.release == nil {
		h.release = h.remote.Block()
	}
	if r.Release && h.release != nil {
		h.release()
		h.release = nil
	}
}

func (h *harness) retry(ctx context.Context, n int, st Step) {
	succeeded := h.coord.RetryFailedSubmissions(ctx)
	h.result.AddEvent(n, OpRetry, map[string]any{"succeeded": succeeded})
	h.flushRemote(n)

	if e := st.Expect; e != nil {
		h.expectInt(n, "succeeded", e.Succeeded, succeeded)
		if e.Remaining != nil {
			pending, err := h.coord.GetPendingCount(ctx)
			if err != nil {
				h.result.AddError(fmt.Sprintf("step %d: pending count: %v", n, err))
				return
			}
			h.expectInt(n, "remaining", e.Remaining, pending)
		}
	}
}

func (h *harness) clear(ctx context.Context, n int) error {
	if err := h.coord.ClearCache(ctx); err != nil {
		return err
	}
	h.result.AddEvent(n, OpClear, nil)
	h.flushRemote(n)
	return nil
}

func (h *harness) awaitSync(ctx context.Context, n int, st Step) error {
	var r submission.SyncReport
	select {
	case r = <-h.syncCh:
	case <-time.After(h.timeout):
		return fmt.Errorf("timed out waiting for auto-sync")
	case <-ctx.Done():
		return ctx.Err()
	}
	h.syncs = append(h.syncs, r)
	h.addSyncEvent(n, r)
	h.flushRemote(n)

	if e := st.Expect; e != nil {
		h.expectInt(n, "succeeded", e.Succeeded, r.Succeeded)
		h.expectInt(n, "remaining", e.Remaining, r.Remaining)
	}
	return nil
}

func (h *harness) addSyncEvent(n int, r submission.SyncReport) {
	h.result.AddEvent(n, OpSync, map[string]any{
		"trigger":   r.Trigger,
		"attempted": r.Attempted,
		"succeeded": r.Succeeded,
		"skipped":   r.Skipped,
		"remaining": r.Remaining,
	})
}

// drainSyncs records auto-syncs that finished without an await step. Only
// called after Stop, when no sync can still be running.
func (h *harness) drainSyncs() {
	for {
		select {
		case r := <-h.syncCh:
			h.syncs = append(h.syncs, r)
			h.addSyncEvent(0, r)
		default:
			return
		}
	}
}

// flushRemote appends remote calls made since the last flush.
func (h *harness) flushRemote(n int) {
	calls := h.remote.Calls()
	for _, c := range calls[h.flushed:] {
		h.result.AddEvent(n, OpRemote, map[string]any{
			"element_id":    c.ElementID,
			"submission_id": c.SubmissionID,
		})
	}
	h.flushed = len(calls)
}

func (h *harness) capture(ctx context.Context) error {
	cached, err := h.store.GetPendingAnswers(ctx)
	if err != nil {
		return fmt.Errorf("read final state: %w", err)
	}
	h.result.Cached = cached
	h.result.Calls = h.remote.Calls()
	h.result.Accept = h.remote.Accepted()
	h.result.Syncs = h.syncs
	return nil
}

func (h *harness) expectBool(n int, field string, want *bool, got bool) {
	if want != nil && *want != got {
		h.result.AddError(fmt.Sprintf("step %d: expected %s=%t, got %t", n, field, *want, got))
	}
}

func (h *harness) expectInt(n int, field string, want *int, got int) {
	if want != nil && *want != got {
		h.result.AddError(fmt.Sprintf("step %d: expected %s=%d, got %d", n, field, *want, got))
	}
}
