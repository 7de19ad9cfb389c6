package answer

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a cached answer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusFailed:
		return true
	}
	return false
}

// Unresolved reports whether an answer in this status still needs syncing.
func (s Status) Unresolved() bool {
	return s == StatusPending || s == StatusFailed
}

// Key is the natural identity of a cached answer.
type Key struct {
	ElementID string `json:"element_id"`
	LessonID  string `json:"lesson_id"`
}

func (k Key) String() string {
	return k.LessonID + "/" + k.ElementID
}

// CachedAnswer is one answer awaiting submission or whose last submission
// failed. Submitted answers are never cached.
type CachedAnswer struct {
	Seq           int64     `json:"seq"`
	ElementID     string    `json:"element_id"`
	LessonID      string    `json:"lesson_id"`
	GraphLessonID string    `json:"graph_lesson_id"`
	Answer        Payload   `json:"answer"`
	Digest        string    `json:"digest"`
	SubmissionID  string    `json:"submission_id"`
	Status        Status    `json:"status"`
	LastError     string    `json:"last_error,omitempty"`
	Retryable     bool      `json:"retryable"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Key returns the natural key of the answer.
func (a CachedAnswer) Key() Key {
	return Key{ElementID: a.ElementID, LessonID: a.LessonID}
}

// SubmitRequest is a single answer handed to the pipeline by a caller.
type SubmitRequest struct {
	ElementID     string          `json:"element_id" validate:"required"`
	LessonID      string          `json:"lesson_id" validate:"required"`
	GraphLessonID string          `json:"graph_lesson_id" validate:"required"`
	Answer        json.RawMessage `json:"answer" validate:"required"`
}

// Key returns the natural key the request will be cached under.
func (r SubmitRequest) Key() Key {
	return Key{ElementID: r.ElementID, LessonID: r.LessonID}
}

// SubmissionResult distinguishes the three outcomes a caller renders:
//
//	Success && !Cached   accepted by the remote system
//	Success &&  Cached   saved locally, will sync when online
//	!Success && Cached   remote call failed, retained locally for retry
//
// Rejected is set when the remote system refused the answer outright
// (for example a validation error) and retrying is unlikely to help.
type SubmissionResult struct {
	Success  bool            `json:"success"`
	Cached   bool            `json:"cached"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Rejected bool            `json:"rejected,omitempty"`
}

// NetworkStatus is recomputed on every connectivity signal and broadcast
// to observers. It is never persisted.
type NetworkStatus struct {
	Online        bool          `json:"online"`
	EffectiveType string        `json:"effective_type,omitempty"`
	Downlink      float64       `json:"downlink,omitempty"`
	RTT           time.Duration `json:"rtt,omitempty"`
	Seq           int64         `json:"seq"`
	ChangedAt     time.Time     `json:"changed_at"`
}
