package domain

import "errors"

var (
	// ErrNotFound signals a missing document.
	ErrNotFound = errors.New("document not found")
	// ErrShardNotFound signals a missing shard bucket.
	ErrShardNotFound = errors.New("shard not found")
	// ErrResourceNotFound signals an unknown resource type.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrInvalidDocument signals a document that fails validation.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrInvalidLocale signals an unresolvable locale tag.
	ErrInvalidLocale = errors.New("invalid locale")
	// ErrInvalidTimestamp signals a non-positive timestamp.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	// ErrMaintenanceRequired signals a structural operation attempted outside maintenance mode.
	ErrMaintenanceRequired = errors.New("maintenance mode required")
	// ErrReservationRequired signals a reserve attempted outside reservation mode.
	ErrReservationRequired = errors.New("reservation mode required")
	// ErrIngestionSuspended signals an enqueue attempted while maintenance mode is on.
	ErrIngestionSuspended = errors.New("ingestion suspended by maintenance mode")
	// ErrJobActive signals that a structural job is already running.
	ErrJobActive = errors.New("structural job already running")
	// ErrQueueNotDrained signals that pending mutations did not commit within
	// the drain budget of a structural job.
	ErrQueueNotDrained = errors.New("pending queue not drained")
)
