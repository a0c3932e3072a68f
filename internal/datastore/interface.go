// Package datastore defines the persisted message model and the repository
// contracts of the AS4 gateway.
//
// # Interface Design
//
// The store is organized into focused per-entity repositories:
//
//   - [InMessageRepository]: received message units
//   - [OutMessageRepository]: message units this node sends
//   - [ExceptionRepository]: processing failure records
//   - [ReceptionAwarenessRepository]: per-sent-message retry state
//   - [RetryReliabilityRepository]: generic retry bookkeeping
//
// The [Datastore] interface combines all repositories for convenience.
//
// # Update Contract
//
// Mutations go through update-with-action methods: the store loads the row,
// applies the caller's mutate function and saves the result inside one
// transaction. Callers never write fields directly, which keeps a single
// choke point for persistence and lets the store maintain derived columns
// (modification time, next retry deadline).
//
// # Exclusive Retrieval
//
// Claim methods select candidate rows under "select for update, skip locked"
// semantics and flip their Operation (or retry Status) to the paired busy
// marker within the same transaction. Two concurrent pollers therefore never
// receive the same row. A claim that returns no rows is not an error; it
// means no work is available right now.
//
// # Implementations
//
// The postgres sub-package is the production backend. The inmemory
// sub-package backs unit tests and the example binary.
package datastore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates an update or lookup against a row that does not
// exist. Callers treat it as recoverable (log and skip) unless the row was
// expected to exist.
var ErrNotFound = errors.New("datastore: record not found")

// Datastore is the combined repository surface. It is the sole shared
// mutable resource between agents; all cross-agent coordination happens
// through its claim and update primitives.
type Datastore interface {
	InMessageRepository
	OutMessageRepository
	ExceptionRepository
	ReceptionAwarenessRepository
	RetryReliabilityRepository

	// ReclaimStaleClaims releases rows stuck in a claim marker whose last
	// modification is older than the given instant, returning the number of
	// rows released. This is the recovery path for claims orphaned by a
	// crashed worker.
	ReclaimStaleClaims(ctx context.Context, olderThan time.Time) (int64, error)

	// Close releases storage resources.
	Close(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// InMessageRepository manages received message units.
type InMessageRepository interface {
	// InsertInMessage stores a new received message.
	InsertInMessage(ctx context.Context, m *InMessage) error

	// InMessageExists reports whether a message with the ebMS id is stored.
	InMessageExists(ctx context.Context, ebmsMessageID string) (bool, error)

	// UpdateInMessage applies mutate to the first message with the ebMS id.
	UpdateInMessage(ctx context.Context, ebmsMessageID string, mutate func(*InMessage)) error

	// UpdateInMessages applies mutate to every message whose ebMS id is in
	// the given set.
	UpdateInMessages(ctx context.Context, ebmsMessageIDs []string, mutate func(*InMessage)) error

	// SelectExistingInMessageIDs returns the subset of candidate ids that
	// already exist as InMessage ebMS ids, in one batched query.
	SelectExistingInMessageIDs(ctx context.Context, candidates []string) ([]string, error)

	// SelectExistingRefInMessageIDs returns the subset of candidate ids that
	// already exist as InMessage ref-to ids (signal duplicate checks).
	SelectExistingRefInMessageIDs(ctx context.Context, candidates []string) ([]string, error)

	// ClaimInMessages claims up to limit messages in the given "ToBeX"
	// operation, flipping them to the paired busy marker.
	ClaimInMessages(ctx context.Context, operation Operation, limit int) ([]*InMessage, error)
}

// OutMessageRepository manages message units this node sends.
type OutMessageRepository interface {
	// InsertOutMessage stores a new outgoing message and assigns its id.
	InsertOutMessage(ctx context.Context, m *OutMessage) error

	// GetOutMessage retrieves a message by internal id.
	GetOutMessage(ctx context.Context, id int64) (*OutMessage, error)

	// GetOutMessageStatus projects only the status of a message. Returns
	// ErrNotFound when the row does not exist.
	GetOutMessageStatus(ctx context.Context, id int64) (OutStatus, error)

	// GetOutMessagesByEbmsIDs retrieves every message whose ebMS id is in
	// the given set, in one batched query.
	GetOutMessagesByEbmsIDs(ctx context.Context, ebmsMessageIDs []string) ([]*OutMessage, error)

	// UpdateOutMessage applies mutate to the message with the internal id.
	UpdateOutMessage(ctx context.Context, id int64, mutate func(*OutMessage)) error

	// UpdateOutMessages applies mutate to every message whose ebMS id is in
	// the given set.
	UpdateOutMessages(ctx context.Context, ebmsMessageIDs []string, mutate func(*OutMessage)) error

	// ClaimOutMessages claims up to limit messages in the given "ToBeX"
	// operation, flipping them to the paired busy marker.
	ClaimOutMessages(ctx context.Context, operation Operation, limit int) ([]*OutMessage, error)

	// ClaimPiggybackedSignal claims the oldest signal waiting on the given
	// MPC to ride on a PullRequest response, flipping it to Sending. A nil
	// message means the channel is empty.
	ClaimPiggybackedSignal(ctx context.Context, mpc string) (*OutMessage, error)
}

// ExceptionRepository records processing failures.
type ExceptionRepository interface {
	// InsertInException stores a receive-side failure record.
	InsertInException(ctx context.Context, e *InException) error

	// InsertOutException stores a send-side failure record.
	InsertOutException(ctx context.Context, e *OutException) error
}

// ReceptionAwarenessRepository manages per-sent-message retry state.
type ReceptionAwarenessRepository interface {
	// InsertReceptionAwareness stores a new retry state row.
	InsertReceptionAwareness(ctx context.Context, r *ReceptionAwareness) error

	// GetReceptionAwareness retrieves the row anchored to an OutMessage.
	GetReceptionAwareness(ctx context.Context, internalMessageID int64) (*ReceptionAwareness, error)

	// UpdateReceptionAwareness applies mutate to the row anchored to an
	// OutMessage. The derived next retry deadline is refreshed after mutate.
	UpdateReceptionAwareness(ctx context.Context, internalMessageID int64, mutate func(*ReceptionAwareness)) error

	// ClaimDueReceptionAwareness claims up to limit Pending rows whose next
	// retry deadline has passed, flipping them to Busy.
	ClaimDueReceptionAwareness(ctx context.Context, now time.Time, limit int) ([]*ReceptionAwareness, error)
}

// RetryReliabilityRepository manages generic retry bookkeeping.
type RetryReliabilityRepository interface {
	// InsertRetryReliability stores a new retry row.
	InsertRetryReliability(ctx context.Context, r *RetryReliability) error

	// RetryReliabilityExists reports whether a non-completed retry row
	// exists for the referenced message and retry type.
	RetryReliabilityExists(ctx context.Context, ebmsRefToMessageID string, retryType RetryType) (bool, error)

	// UpdateRetryReliability applies mutate to the row with the given id.
	UpdateRetryReliability(ctx context.Context, id int64, mutate func(*RetryReliability)) error

	// ClaimDueRetryReliability claims up to limit Pending rows whose next
	// retry deadline has passed, flipping them to Busy.
	ClaimDueRetryReliability(ctx context.Context, now time.Time, limit int) ([]*RetryReliability, error)
}
