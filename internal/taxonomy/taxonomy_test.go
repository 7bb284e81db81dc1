package taxonomy

import (
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"queue full", &QueueFull{MaxTaskCount: 5}, http.StatusServiceUnavailable},
		{"queue timeout", &QueueTimeout{JobID: "a"}, http.StatusServiceUnavailable},
		{"job timeout", &JobTimeout{JobID: "a"}, http.StatusServiceUnavailable},
		{"navigation 404", &NavigationError{Code: 404, Message: "not found"}, http.StatusNotFound},
		{"navigation 500", &NavigationError{Code: 503, Message: "bad gateway"}, http.StatusInternalServerError},
		{"malformed response", &MalformedRendererResponse{JobID: "a"}, http.StatusInternalServerError},
		{"forbidden host", &ForbiddenHost{Host: "evil.test"}, http.StatusInternalServerError},
		{"internal failure", &InternalFailure{Cause: http.ErrBodyNotAllowed}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryAfterSecondsRoundsUpToOne(t *testing.T) {
	if got := RetryAfterSeconds(500); got != 1 {
		t.Errorf("RetryAfterSeconds(500) = %d, want 1", got)
	}
	if got := RetryAfterSeconds(5000); got != 5 {
		t.Errorf("RetryAfterSeconds(5000) = %d, want 5", got)
	}
}

func TestIsCancellation(t *testing.T) {
	if !IsCancellation(&ProcessingCancelled{JobID: "a"}) {
		t.Error("expected ProcessingCancelled to be classified as cancellation")
	}
	if IsCancellation(&QueueTimeout{JobID: "a"}) {
		t.Error("expected QueueTimeout not to be classified as cancellation")
	}
}

func TestInternalFailureUnwrap(t *testing.T) {
	cause := http.ErrBodyNotAllowed
	err := &InternalFailure{Cause: cause}
	if err.Unwrap() != cause {
		t.Error("InternalFailure.Unwrap() did not return the wrapped cause")
	}
}
