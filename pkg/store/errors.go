package store

import "errors"

// IsNotFound reports whether err (or a wrapped cause) is ErrNotFound.
// A NotFound job is finished and skipped rather than retried: a previous
// delete occurred and retrying can never succeed (spec §7).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a version race or uniqueness
// collision. Conflicts are retried locally, bounded (spec §7).
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsSchemaMismatch reports whether err signals a stored feature schema
// whose major version no longer matches the running extractor. The
// transaction must be re-processed end-to-end, overwriting features.
func IsSchemaMismatch(err error) bool {
	return errors.Is(err, ErrSchemaMismatch)
}

// IsQueueEmpty reports whether err signals that a queue has no claimable
// row right now — not a failure, just nothing to do this poll.
func IsQueueEmpty(err error) bool {
	return errors.Is(err, ErrQueueEmpty)
}

// IsTransient reports whether err should be retried rather than treated
// as fatal for the job. Every non-nil error counts as transient except a
// conflict, not-found, schema mismatch, or closed-engine error; the cause
// of the error (connection, deadlock, serialization) is not inspected.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsConflict(err) || IsNotFound(err) || IsSchemaMismatch(err) {
		return false
	}
	return !errors.Is(err, ErrClosed)
}
