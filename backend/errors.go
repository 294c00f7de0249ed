package backend

import "fmt"

// ErrScoringTransport is returned when the scoring request could not be
// completed: network failure, timeout, non-2xx status or an unreadable body.
type ErrScoringTransport struct {
	Status int // 0 when no response was received
	Cause  error
}

func (e *ErrScoringTransport) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend: scoring transport: status %d: %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("backend: scoring transport: %v", e.Cause)
}

func (e *ErrScoringTransport) Unwrap() error { return e.Cause }

// ErrScoringRejected is returned when the backend answered but did not
// report success.
type ErrScoringRejected struct {
	Status string
	Detail string
}

func (e *ErrScoringRejected) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend: scoring rejected (%s): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend: scoring rejected (%s)", e.Status)
}

// ErrStatus is returned by non-scoring calls on a non-2xx response. Detail
// carries the backend's "detail" field when present.
type ErrStatus struct {
	Endpoint string
	Code     int
	Detail   string
}

func (e *ErrStatus) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend: %s: status %d: %s", e.Endpoint, e.Code, e.Detail)
	}
	return fmt.Sprintf("backend: %s: status %d", e.Endpoint, e.Code)
}
