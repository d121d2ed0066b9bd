package github

import (
	"errors"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v66/github"
)

var (
	// ErrRefNotFound is returned when a branch ref does not exist on the host.
	ErrRefNotFound = errors.New("ref not found")
	// ErrCommitNotFound is returned when a commit object referenced by a ref is missing.
	ErrCommitNotFound = errors.New("commit not found")
	// ErrRefConflict is returned when a fast-forward-only ref update is rejected
	// because the ref moved since it was read.
	ErrRefConflict = errors.New("ref update rejected: not a fast forward")
	// ErrBranchCreationFailed is returned when the host rejects a create-ref call.
	ErrBranchCreationFailed = errors.New("branch creation failed")
)

// APIError is a non-2xx answer from the host. Message carries the
// response text reported by go-github.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// TransportError is a failure before any HTTP response was received
// (DNS, TLS, connection reset, context deadline).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: request failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// wrapError classifies a go-github failure. A response means the host
// answered; no response means the request never completed.
func wrapError(op string, resp *gh.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp != nil && resp.Response != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	return &TransportError{Op: op, Err: err}
}

// StatusCode returns the HTTP status of an APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the host.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}
