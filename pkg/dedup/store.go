// Package dedup persists per-(consumer group, delivery id) consumption
// records so at-least-once broker delivery becomes logically exactly-once
// processing.
package dedup

import (
	"context"
	"errors"
	"time"
)

// Status is the processing outcome of one delivery for one consumer group.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrResolved is returned when a transition is attempted on a record that
// already reached a terminal status.
var ErrResolved = errors.New("consumption record already resolved")

// Record tracks processing of one delivery by one consumer group.
type Record struct {
	Group       string
	DeliveryID  string
	Status      Status
	Attempts    int
	LastAttempt time.Time
}

// Store is the narrow get/compare-and-set contract over consumption
// records. Implementations must guarantee that no two callers can move the
// same (group, delivery id) record to different terminal outcomes.
type Store interface {
	// Claim registers a processing attempt. It creates the record on first
	// sight and increments the attempt counter. ok is false when the record
	// is already terminal, in which case the returned record carries the
	// final state and the caller must skip processing.
	Claim(ctx context.Context, group, deliveryID string) (rec Record, ok bool, err error)

	// MarkSucceeded transitions pending -> succeeded. Returns ErrResolved if
	// the record is already failed; marking an already-succeeded record is a
	// no-op.
	MarkSucceeded(ctx context.Context, group, deliveryID string) error

	// MarkFailed transitions pending -> failed (terminal). Returns
	// ErrResolved if the record already succeeded; marking an
	// already-failed record is a no-op.
	MarkFailed(ctx context.Context, group, deliveryID string) error

	// Get returns the record if it exists.
	Get(ctx context.Context, group, deliveryID string) (Record, bool, error)

	// Purge removes records whose last attempt predates the cutoff.
	Purge(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
