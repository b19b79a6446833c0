package patient

import (
	"fmt"
	"time"
)

// RowError is a validation failure scoped to a single source row. It is
// collected into the run report; it aborts the run only in fail-fast mode.
type RowError struct {
	Line   int
	Field  string
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s: %s", e.Line, e.Field, e.Reason)
}

// WriteError is a store write failure for one document (Key set) or a whole
// bulk call (Key empty). Transient failures are retried with backoff;
// permanent ones are recorded as document failures.
type WriteError struct {
	Key       string
	Transient bool
	Err       error
}

func (e *WriteError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("bulk write: %v", e.Err)
	}
	return fmt.Sprintf("write %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ConnectivityError means the store never became reachable inside the
// readiness window. It is fatal and raised before any write is attempted.
type ConnectivityError struct {
	Timeout time.Duration
	Err     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("store not reachable after %s: %v", e.Timeout, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// VerificationError means the post-migration count check came up short.
// Already-written data is left in place.
type VerificationError struct {
	Collection string
	Count      int64
	Min        int64
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed: %s has %d documents, expected at least %d", e.Collection, e.Count, e.Min)
}

// BatchError marks an unrecoverable bulk failure: a chunk the store rejected
// outright, or one that kept failing after every retry.
type BatchError struct {
	Err error
}

func (e *BatchError) Error() string { return fmt.Sprintf("batch failed: %v", e.Err) }

func (e *BatchError) Unwrap() error { return e.Err }
