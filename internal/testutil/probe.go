package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/answersync/internal/netprobe"
)

// ErrUnreachable is returned by an offline FakeProbe.
var ErrUnreachable = errors.New("fake probe: health endpoint unreachable")

// FakeProbe is a switchable connectivity probe. It implements
// submission.Prober.
type FakeProbe struct {
	mu     sync.Mutex
	online bool
	rtt    time.Duration
	checks int
}

// NewFakeProbe creates a probe in the given state.
func NewFakeProbe(online bool) *FakeProbe {
	return &FakeProbe{online: online, rtt: 20 * time.Millisecond}
}

func (p *FakeProbe) SetOnline(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = online
}

// SetRTT sets the round trip reported by successful checks.
func (p *FakeProbe) SetRTT(rtt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rtt = rtt
}

func (p *FakeProbe) Check(ctx context.Context) (netprobe.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks++
	if err := ctx.Err(); err != nil {
		return netprobe.Result{}, err
	}
	if !p.online {
		return netprobe.Result{}, ErrUnreachable
	}
	return netprobe.Result{RTT: p.rtt}, nil
}

// Checks returns how many probes were run.
func (p *FakeProbe) Checks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checks
}
