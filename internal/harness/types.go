package harness

import (
	"github.com/roach88/answersync/internal/answer"
	"github.com/roach88/answersync/internal/submission"
	"github.com/roach88/answersync/internal/testutil"
)

// Trace event operations.
const (
	OpSubmit  = "submit"
	OpNetwork = "network"
	OpRetry   = "retry"
	OpClear   = "clear"
	OpSync    = "sync"
	OpRemote  = "remote"
)

// TraceEvent is one observable step outcome. Fields holds the
// operation-specific values; Seq is the 1-based position in the trace.
type TraceEvent struct {
	Seq    int            `json:"seq"`
	Step   int            `json:"step"`
	Op     string         `json:"op"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Final state, captured after the coordinator stopped.
	Cached []answer.CachedAnswer   `json:"cached"`
	Calls  []testutil.RemoteCall   `json:"-"`
	Accept []testutil.RemoteCall   `json:"-"`
	Syncs  []submission.SyncReport `json:"-"`
	Sent   map[answer.Key]string   `json:"-"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Sent:   make(map[answer.Key]string),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends an event to the trace.
func (r *Result) AddEvent(step int, op string, fields map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    len(r.Trace) + 1,
		Step:   step,
		Op:     op,
		Fields: fields,
	})
}

// PendingCount is the number of cached answers left at the end.
func (r *Result) PendingCount() int {
	n := 0
	for _, c := range r.Cached {
		if c.Status.Unresolved() {
			n++
		}
	}
	return n
}
