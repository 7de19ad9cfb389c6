package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrRemoteDown is the default failure of a FakeRemote set to fail.
var ErrRemoteDown = errors.New("fake remote: connection refused")

// RemoteCall records one SubmitAnswer call.
type RemoteCall struct {
	ElementID     string          `json:"element_id"`
	GraphLessonID string          `json:"graph_lesson_id"`
	SubmissionID  string          `json:"submission_id"`
	Answer        json.RawMessage `json:"answer"`
}

// RejectedError mimics a definitive 4xx rejection.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "fake remote: rejected: " + e.Reason }

func (e *RejectedError) Retryable() bool { return false }

// FakeRemote is a scripted remote submit endpoint. It implements
// submission.Submitter.
//
// Failures are consumed in order: first the per-element queue scripted with
// FailNext, then the sticky failure set with SetFailing.
type FakeRemote struct {
	mu       sync.Mutex
	calls    []RemoteCall
	accepted []RemoteCall
	next     map[string][]error
	failing  error
	gate     chan struct{}
	started  chan RemoteCall
	response func(RemoteCall) json.RawMessage
}

func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		next:    make(map[string][]error),
		started: make(chan RemoteCall, 64),
	}
}

// FailNext makes the next call for elementID fail with err
// (ErrRemoteDown when nil).
func (r *FakeRemote) FailNext(elementID string, err error) {
	if err == nil {
		err = ErrRemoteDown
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next[elementID] = append(r.next[elementID], err)
}

// SetFailing makes every call fail with err until cleared with nil.
func (r *FakeRemote) SetFailing(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = err
}

// SetResponse overrides the success body.
func (r *FakeRemote) SetResponse(fn func(RemoteCall) json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.response = fn
}

// Block holds every call until the returned release function is called.
// Calls still record themselves and appear on Started while blocked.
func (r *FakeRemote) Block() (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.gate = gate
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if r.gate == gate {
				r.gate = nil
			}
			r.mu.Unlock()
			close(gate)
		})
	}
}

// Started receives every call as it begins.
func (r *FakeRemote) Started() <-chan RemoteCall {
	return r.started
}

func (r *FakeRemote) SubmitAnswer(ctx context.Context, elementID, graphLessonID, submissionID string, payload json.RawMessage) (json.RawMessage, error) {
	call := RemoteCall{
		ElementID:     elementID,
		GraphLessonID: graphLessonID,
		SubmissionID:  submissionID,
		Answer:        append(json.RawMessage(nil), payload...),
	}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	gate := r.gate
	r.mu.Unlock()

	select {
	case r.started <- call:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if queue := r.next[elementID]; len(queue) > 0 {
		r.next[elementID] = queue[1:]
		return nil, queue[0]
	}
	if r.failing != nil {
		return nil, r.failing
	}
	r.accepted = append(r.accepted, call)
	if r.response != nil {
		return r.response(call), nil
	}
	return json.RawMessage(fmt.Sprintf(`{"accepted":true,"element_id":%q}`, elementID)), nil
}

// Calls returns a copy of every call so far.
func (r *FakeRemote) Calls() []RemoteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RemoteCall(nil), r.calls...)
}

// Accepted returns a copy of every call that succeeded.
func (r *FakeRemote) Accepted() []RemoteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RemoteCall(nil), r.accepted...)
}

func (r *FakeRemote) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// CallsFor counts calls for elementID.
func (r *FakeRemote) CallsFor(elementID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.ElementID == elementID {
			n++
		}
	}
	return n
}
