// Package netwatch turns periodic connectivity probes into the online,
// offline and quality-changed signals the submission coordinator consumes.
package netwatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/answersync/internal/netprobe"
	"github.com/roach88/answersync/internal/submission"
)

// DefaultInterval is the time between probes.
const DefaultInterval = 15 * time.Second

// Sink receives signals. *submission.Coordinator implements it.
type Sink interface {
	Signal(s submission.Signal) bool
}

type Prober interface {
	Check(ctx context.Context) (netprobe.Result, error)
}

// Watcher probes on a fixed interval and signals only on change.
type Watcher struct {
	probe    Prober
	sink     Sink
	interval time.Duration
	log      *zap.Logger

	known   bool
	online  bool
	effType string
}

type Option func(*Watcher)

func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

func New(probe Prober, sink Sink, opts ...Option) (*Watcher, error) {
	if probe == nil || sink == nil {
		return nil, errors.New("netwatch: probe and sink are required")
	}
	w := &Watcher{
		probe:    probe,
		sink:     sink,
		interval: DefaultInterval,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run probes immediately and then every interval until ctx is done.
// Run must not be called concurrently with itself or Poll.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll runs one probe and emits the signal it implies, if any:
//   - the first result always emits online or offline
//   - a change of reachability emits online or offline
//   - a change of effective type while online emits quality_changed
//
// It reports whether a signal was sent.
func (w *Watcher) Poll(ctx context.Context) bool {
	res, err := w.probe.Check(ctx)
	if ctx.Err() != nil {
		// Shutting down; a cancelled probe says nothing about the network.
		return false
	}

	if err != nil {
		if w.known && !w.online {
			return false
		}
		w.known, w.online, w.effType = true, false, ""
		w.log.Info("network unreachable", zap.Error(err))
		return w.sink.Signal(submission.Offline())
	}

	effType := netprobe.EffectiveType(res.RTT)
	sig := submission.Signal{
		EffectiveType: effType,
		RTT:           res.RTT,
	}
	switch {
	case !w.known || !w.online:
		sig.Kind = submission.SignalOnline
		w.log.Info("network reachable", zap.Duration("rtt", res.RTT), zap.String("effective_type", effType))
	case effType != w.effType:
		sig.Kind = submission.SignalQualityChanged
		w.log.Debug("connection quality changed", zap.String("from", w.effType), zap.String("to", effType))
	default:
		return false
	}
	w.known, w.online, w.effType = true, true, effType
	return w.sink.Signal(sig)
}
