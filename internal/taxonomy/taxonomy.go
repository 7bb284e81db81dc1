// Package taxonomy defines the closed set of failure kinds the render
// queue and renderer report. Kinds are distinguished by Go type, never by
// an integer or boolean code, so no kind can be masked by truthy-style
// comparison.
package taxonomy

import (
	"fmt"
	"net/http"
)

// QueueFull is returned when admission is refused because the queue is
// already at maxTaskCount.
type QueueFull struct {
	MaxTaskCount int
}

func (e *QueueFull) Error() string {
	return fmt.Sprintf("queue full: max task count %d reached", e.MaxTaskCount)
}

// QueueTimeout is returned when an item aged out while still waiting.
type QueueTimeout struct {
	JobID         string
	WaitedMs      int64
	QueueTimeoutMs int64
}

func (e *QueueTimeout) Error() string {
	return fmt.Sprintf("job %s timed out in queue after %dms (limit %dms)", e.JobID, e.WaitedMs, e.QueueTimeoutMs)
}

// JobTimeout is returned when an item exceeded its execution time budget
// after having started.
type JobTimeout struct {
	JobID            string
	RanMs            int64
	ExecutionTimeoutMs int64
}

func (e *JobTimeout) Error() string {
	return fmt.Sprintf("job %s exceeded execution timeout after %dms (limit %dms)", e.JobID, e.RanMs, e.ExecutionTimeoutMs)
}

// ProcessingCancelled is returned for client-initiated cancellation. It is
// never logged as an error: cancellation is normal.
type ProcessingCancelled struct {
	JobID string
}

func (e *ProcessingCancelled) Error() string {
	return fmt.Sprintf("job %s cancelled", e.JobID)
}

// NavigationError is returned when the fetched page responded with an
// HTTP status code of 400 or more.
type NavigationError struct {
	Code    int
	Message string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation error %d: %s", e.Code, e.Message)
}

// MalformedRendererResponse is returned when the renderer resolved
// navigation without a usable response object.
type MalformedRendererResponse struct {
	JobID string
}

func (e *MalformedRendererResponse) Error() string {
	return fmt.Sprintf("job %s: renderer returned no usable response", e.JobID)
}

// ForbiddenHost is returned when the target URL matched the host
// deny-list, or otherwise failed the allow-rule.
type ForbiddenHost struct {
	Host string
}

func (e *ForbiddenHost) Error() string {
	return fmt.Sprintf("host %q is forbidden", e.Host)
}

// InternalFailure is the catch-all for any failure not classified above.
// Cause is stored as given; the telemetry adapter wraps the failure with
// github.com/pkg/errors when it logs it, so a stack trace is logged
// exactly once.
type InternalFailure struct {
	Cause error
}

func (e *InternalFailure) Error() string {
	return fmt.Sprintf("internal failure: %v", e.Cause)
}

func (e *InternalFailure) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps a taxonomy kind to the client-visible HTTP status,
// per spec.md §4.1 and §6. Errors outside the taxonomy map to 500.
func HTTPStatus(err error) int {
	switch e := err.(type) {
	case *QueueFull, *QueueTimeout, *JobTimeout:
		return http.StatusServiceUnavailable
	case *NavigationError:
		if e.Code == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	case *MalformedRendererResponse, *ForbiddenHost, *InternalFailure:
		return http.StatusInternalServerError
	case *ProcessingCancelled:
		// The glue layer closes the connection without a body; this status
		// is never written, but callers that need a status for logging
		// purposes get a sentinel value.
		return 0
	default:
		return http.StatusInternalServerError
	}
}

// RetryAfterSeconds returns the Retry-After header value for kinds that
// carry one (QueueFull, QueueTimeout, JobTimeout), derived from the
// queue's configured queueTimeoutMs. Callers should only call this when
// HTTPStatus returned 503.
func RetryAfterSeconds(queueTimeoutMs int64) int {
	seconds := queueTimeoutMs / 1000
	if seconds < 1 {
		return 1
	}
	return int(seconds)
}

// IsCancellation reports whether err is a ProcessingCancelled, so callers
// can skip error-logging for the one kind the spec declares "normal".
func IsCancellation(err error) bool {
	_, ok := err.(*ProcessingCancelled)
	return ok
}
