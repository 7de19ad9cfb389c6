package submission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("submission: coordinator already started")

// RequestError reports a malformed SubmitRequest. It is the only error
// SubmitAnswer returns; network and storage failures are reported through
// the SubmissionResult instead.
type RequestError struct {
	Fields []string // offending request fields, json names
	Err    error
}

func (e *RequestError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("submission: invalid request (%s): %v", strings.Join(e.Fields, ", "), e.Err)
	}
	return fmt.Sprintf("submission: invalid request: %v", e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsRequestError reports whether err is, or wraps, a *RequestError.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}

func newRequestError(err error) *RequestError {
	re := &RequestError{Err: err}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			re.Fields = append(re.Fields, fe.Field())
		}
	}
	return re
}

// retryable is implemented by remote errors that know whether resending
// could succeed (remote.StatusError).
type retryable interface {
	Retryable() bool
}

// isRetryable classifies a remote failure. Errors that do not say
// otherwise, such as transport failures and timeouts, are retryable.
func isRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
