package submission

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/roach88/answersync/internal/answer"
	"github.com/roach88/answersync/internal/metrics"
	"github.com/roach88/answersync/internal/netprobe"
)

const tracerName = "github.com/roach88/answersync/internal/submission"

// DefaultSubmitTimeout bounds one remote submit call.
const DefaultSubmitTimeout = 30 * time.Second

// AnswerStore is the persistence the coordinator needs. *store.Store
// implements it.
type AnswerStore interface {
	SaveAnswer(ctx context.Context, rec answer.CachedAnswer) (answer.CachedAnswer, error)
	RemoveAnswer(ctx context.Context, key answer.Key) error
	RemoveAnswerIfCurrent(ctx context.Context, key answer.Key, submissionID string) (bool, error)
	UpdateAnswerStatus(ctx context.Context, key answer.Key, status answer.Status, failure string, retryable bool) error
	GetAnswer(ctx context.Context, key answer.Key) (answer.CachedAnswer, bool, error)
	GetPendingAnswers(ctx context.Context) ([]answer.CachedAnswer, error)
	GetPendingCount(ctx context.Context) (int, error)
	NeedsSync(ctx context.Context) (bool, error)
	ClearAll(ctx context.Context) error
}

// Submitter performs the remote submit-answer call. *remote.Client
// implements it.
type Submitter interface {
	SubmitAnswer(ctx context.Context, elementID, graphLessonID, submissionID string, payload json.RawMessage) (json.RawMessage, error)
}

// Prober checks live connectivity. *netprobe.HTTPProbe implements it.
type Prober interface {
	Check(ctx context.Context) (netprobe.Result, error)
}

// Coordinator owns the online/offline decision, the batch retry and the
// auto-sync on reconnect. Construct it with New; it has no side effects
// until Start.
//
// Thread-safety model:
//   - SubmitAnswer, RetryFailedSubmissions, Signal and the query helpers
//     are safe from any goroutine
//   - the NetworkStatus is written only by the loop goroutine
type Coordinator struct {
	store     AnswerStore
	remote    Submitter
	probe     Prober
	validate  *validator.Validate
	ids       IDGenerator
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	limiter   *rate.Limiter
	clock     statusClock
	queue     *signalQueue
	observers observerList

	submitTimeout time.Duration
	skipRejected  bool
	syncOnStart   bool

	mu      sync.RWMutex
	status  answer.NetworkStatus
	started bool

	// syncInProgress guards against overlapping auto-syncs.
	syncInProgress atomic.Bool
	syncWG         sync.WaitGroup
	loopDone       chan struct{}
	stopping       chan struct{}
	stopOnce       sync.Once

	// batchMu serialises batch retries, manual and automatic.
	batchMu sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics records pipeline metrics. Default: none.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracerProvider sets the OpenTelemetry provider. Default: the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock sets the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator sets the submission ID source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Coordinator) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithSubmitTimeout bounds each remote submit. Zero disables the bound and
// leaves timeouts to the Submitter.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.submitTimeout = d
	}
}

// WithRetryRate paces batch retries to r remote calls per second.
// A non-positive r disables pacing.
func WithRetryRate(r float64, burst int) Option {
	return func(c *Coordinator) {
		if r <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithInitialStatus sets the NetworkStatus before the first signal.
// Default: offline.
func WithInitialStatus(online bool) Option {
	return func(c *Coordinator) {
		c.status.Online = online
	}
}

// WithSkipRejected makes batch retry leave answers whose last failure was a
// definitive rejection in the store instead of resending them.
func WithSkipRejected(skip bool) Option {
	return func(c *Coordinator) {
		c.skipRejected = skip
	}
}

// WithSyncOnStart runs one auto-sync from Start when the initial status is
// online and answers are left over from a previous run.
func WithSyncOnStart(enabled bool) Option {
	return func(c *Coordinator) {
		c.syncOnStart = enabled
	}
}

// New creates a Coordinator over its collaborators.
func New(store AnswerStore, remote Submitter, probe Prober, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("submission: store must not be nil")
	}
	if remote == nil {
		return nil, errors.New("submission: remote submitter must not be nil")
	}
	if probe == nil {
		return nil, errors.New("submission: probe must not be nil")
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	c := &Coordinator{
		store:         store,
		remote:        remote,
		probe:         probe,
		validate:      v,
		ids:           UUIDv7Generator{},
		now:           time.Now,
		log:           zap.NewNop(),
		tracer:        otel.GetTracerProvider().Tracer(tracerName),
		queue:         newSignalQueue(),
		submitTimeout: DefaultSubmitTimeout,
		loopDone:      make(chan struct{}),
		stopping:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status.ChangedAt = c.now()
	return c, nil
}

// Start launches the signal loop. The loop runs until ctx is cancelled or
// Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	online := c.status.Online
	c.mu.Unlock()

	c.metrics.SetOnline(online)
	c.refreshPending(ctx)

	c.log.Info("coordinator starting", zap.Bool("online", online))
	go c.run(ctx)

	if c.syncOnStart && online {
		c.maybeAutoSync(ctx, "start")
	}
	return nil
}

// Stop closes the signal queue, waits for the loop to drain it and waits
// for a running auto-sync. An auto-sync stops between answers; the remote
// call in flight is allowed to finish. Stop is idempotent.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopping)
		c.queue.Close()

		c.mu.RLock()
		started := c.started
		c.mu.RUnlock()
		if started {
			<-c.loopDone
		}
		c.syncWG.Wait()
		c.log.Info("coordinator stopped")
	})
}

// Signal delivers a connectivity event to the loop. It returns false once
// the coordinator has been stopped. Signals sent before Start are processed
// when the loop starts.
func (c *Coordinator) Signal(s Signal) bool {
	return c.queue.Enqueue(s)
}

// run is the single-writer loop.
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.loopDone)

	for {
		if s, ok := c.queue.TryDequeue(); ok {
			c.handleSignal(ctx, s)
			continue
		}

		select {
		case <-ctx.Done():
			c.log.Info("coordinator loop stopping: context cancelled")
			c.queue.Close()
			return
		case <-c.queue.Wait():
			if c.queue.Closed() && c.queue.Len() == 0 {
				c.log.Debug("coordinator loop stopping: queue closed")
				return
			}
		}
	}
}

// handleSignal recomputes the NetworkStatus, notifies observers and starts
// an auto-sync on the Offline to Online transition.
// Called only from the loop goroutine.
func (c *Coordinator) handleSignal(ctx context.Context, s Signal) {
	c.mu.Lock()
	prev := c.status
	next := prev
	switch s.Kind {
	case SignalOnline:
		next.Online = true
	case SignalOffline:
		next.Online = false
	case SignalQualityChanged:
	default:
		c.mu.Unlock()
		c.log.Warn("ignoring unknown signal", zap.Stringer("signal", s.Kind))
		return
	}
	if next.Online {
		next.EffectiveType = s.EffectiveType
		next.Downlink = s.Downlink
		next.RTT = s.RTT
	} else {
		next.EffectiveType = ""
		next.Downlink = 0
		next.RTT = 0
	}
	next.Seq = c.clock.Next()
	next.ChangedAt = c.now()
	c.status = next
	c.mu.Unlock()

	c.metrics.SetOnline(next.Online)
	c.log.Debug("network status recomputed",
		zap.Stringer("signal", s.Kind),
		zap.Bool("online", next.Online),
		zap.String("effective_type", next.EffectiveType),
		zap.Int64("seq", next.Seq),
	)
	if prev.Online != next.Online {
		c.log.Info("network state changed", zap.Bool("online", next.Online))
	}

	c.observers.notifyStatus(c, next)

	if !prev.Online && next.Online {
		c.maybeAutoSync(ctx, "reconnect")
	}
}

// maybeAutoSync starts one background batch retry if answers are waiting
// and no auto-sync is running. A trigger that loses the race is dropped.
func (c *Coordinator) maybeAutoSync(ctx context.Context, trigger string) {
	needs, err := c.store.NeedsSync(ctx)
	if err != nil {
		c.storeError("needs_sync", err)
		return
	}
	if !needs {
		return
	}

	if !c.syncInProgress.CompareAndSwap(false, true) {
		c.metrics.SyncDrop()
		c.log.Debug("auto-sync already running, trigger dropped", zap.String("trigger", trigger))
		return
	}

	c.syncWG.Add(1)
	go func() {
		defer c.syncWG.Done()
		defer c.syncInProgress.Store(false)

		report := c.retryBatch(context.WithoutCancel(ctx), trigger)
		c.observers.notifySync(c, report)
	}()
}

// SyncInProgress reports whether an auto-sync is running.
func (c *Coordinator) SyncInProgress() bool {
	return c.syncInProgress.Load()
}

func (c *Coordinator) storeError(op string, err error) {
	c.metrics.StoreError(op)
	c.log.Error("answer store operation failed", zap.String("op", op), zap.Error(err))
}

func (c *Coordinator) refreshPending(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	n, err := c.store.GetPendingCount(ctx)
	if err != nil {
		c.storeError("pending_count", err)
		return
	}
	c.metrics.SetPending(n)
}

func (c *Coordinator) stopRequested() bool {
	select {
	case <-c.stopping:
		return true
	default:
		return false
	}
}
