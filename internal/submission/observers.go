package submission

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/answersync/internal/answer"
)

// SyncReport summarises one batch retry.
type SyncReport struct {
	Trigger    string    `json:"trigger"` // reconnect, start or manual
	Attempted  int       `json:"attempted"`
	Succeeded  int       `json:"succeeded"`
	Skipped    int       `json:"skipped"`
	Remaining  int       `json:"remaining"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type (
	StatusObserver func(answer.NetworkStatus)
	SyncObserver   func(SyncReport)
)

type observerList struct {
	mu     sync.Mutex
	nextID int
	status map[int]StatusObserver
	sync   map[int]SyncObserver
}

// OnNetworkStatusChange registers cb for every recomputed NetworkStatus and
// returns a function that unregisters it. Callbacks run synchronously on
// the loop goroutine in registration order. A panicking callback is logged
// and does not stop the others.
func (c *Coordinator) OnNetworkStatusChange(cb StatusObserver) (unsubscribe func()) {
	return c.observers.add(cb, nil)
}

// OnSyncComplete registers cb for the report of every auto-sync.
func (c *Coordinator) OnSyncComplete(cb SyncObserver) (unsubscribe func()) {
	return c.observers.add(nil, cb)
}

func (l *observerList) add(statusCB StatusObserver, syncCB SyncObserver) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status == nil {
		l.status = make(map[int]StatusObserver)
		l.sync = make(map[int]SyncObserver)
	}
	l.nextID++
	id := l.nextID
	if statusCB != nil {
		l.status[id] = statusCB
	}
	if syncCB != nil {
		l.sync[id] = syncCB
	}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.status, id)
		delete(l.sync, id)
	}
}

// snapshot copies the callbacks, in registration order, so they run
// without holding the lock and may unsubscribe themselves.
func (l *observerList) snapshot() ([]StatusObserver, []SyncObserver) {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := make([]StatusObserver, 0, len(l.status))
	for _, id := range sortedIDs(l.status) {
		status = append(status, l.status[id])
	}
	syncs := make([]SyncObserver, 0, len(l.sync))
	for _, id := range sortedIDs(l.sync) {
		syncs = append(syncs, l.sync[id])
	}
	return status, syncs
}

func (l *observerList) notifyStatus(c *Coordinator, s answer.NetworkStatus) {
	status, _ := l.snapshot()
	for i, cb := range status {
		c.safeCall("network_status", i, func() { cb(s) })
	}
}

func (l *observerList) notifySync(c *Coordinator, r SyncReport) {
	_, syncs := l.snapshot()
	for i, cb := range syncs {
		c.safeCall("sync_complete", i, func() { cb(r) })
	}
}

func (c *Coordinator) safeCall(kind string, index int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.ObserverPanic()
			c.log.Error("observer panicked",
				zap.String("observer", kind),
				zap.Int("index", index),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn()
}

// sortedIDs returns the keys of m in ascending order.
func sortedIDs[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
