// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the durable store contract consumed by the
// mutation engine, and the error taxonomy shared across the service.
//
// # Error classes
//
//   - ErrNotFound, ErrDuplicateID, ErrHasChildren: business-rule
//     failures. Never retried; surfaced to the caller on first attempt.
//   - ConflictError: optimistic version guard rejection, carries the
//     expected and actual versions. Never retried.
//   - TransientError: transport-layer failure (busy database,
//     connection loss, I/O). The only class the engine retries.
//
// Any other store error is surfaced immediately and unretried.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/lineage/services/registry/datatypes"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when a member id does not exist.
	ErrNotFound = errors.New("member not found")

	// ErrDuplicateID is returned when an insert would reuse an
	// existing identifier.
	ErrDuplicateID = errors.New("duplicate member identifier")

	// ErrHasChildren is returned when deleting a member that still
	// has live children.
	ErrHasChildren = errors.New("member has children")
)

// ConflictError signals a stale expected version on update.
type ConflictError struct {
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, stored %d", e.Expected, e.Actual)
}

// IsConflict reports whether err is a version conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// TransientError marks a transport-layer failure worth retrying.
// The store implementation decides what qualifies; the engine only
// looks at the class.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient store error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a transient store error.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// CounterField names a denormalized child counter column.
type CounterField string

const (
	CounterSons      CounterField = "sons_count"
	CounterDaughters CounterField = "daughters_count"
)

// CounterFor returns the counter a child of the given gender maintains
// on its father.
func CounterFor(gender string) CounterField {
	if gender == datatypes.GenderFemale {
		return CounterDaughters
	}
	return CounterSons
}

// Filter narrows List results. Nil fields match everything.
type Filter struct {
	FatherID   *string
	Generation *int
}

// Tx is the per-transaction surface. All reads observe the
// transaction's own writes; any returned error aborts the transaction
// and rolls every statement back.
type Tx interface {
	// Get returns the member or ErrNotFound.
	Get(ctx context.Context, id string) (*datatypes.Member, error)

	// Exists reports whether the id is present.
	Exists(ctx context.Context, id string) (bool, error)

	// MaxID returns the lexically greatest identifier with the given
	// prefix, or "" when none exist.
	MaxID(ctx context.Context, prefix string) (string, error)

	// Insert writes a new row. Returns ErrDuplicateID if the id is
	// already present.
	Insert(ctx context.Context, m *datatypes.Member) error

	// Update rewrites the row, guarded by the previous version:
	// the statement matches id AND version == m.Version-1, and a
	// zero-row result yields a ConflictError. Callers increment
	// m.Version before calling.
	Update(ctx context.Context, m *datatypes.Member) error

	// Delete removes the row or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// AdjustCounter applies a relative delta to one counter column and
	// increments the row's version, in a single statement. Never a
	// read-modify-write from the caller's side.
	AdjustCounter(ctx context.Context, id string, field CounterField, delta int) error

	// CountChildren returns the live direct-child counts by gender,
	// computed from the rows (not the denormalized counters).
	CountChildren(ctx context.Context, id string) (sons, daughters int, err error)
}

// Store is the durable store contract.
type Store interface {
	// WithTx runs fn inside one transaction. If fn returns an error
	// the transaction is rolled back and the error returned unchanged;
	// commit failures are classified like any other store error.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Get is a point lookup outside any transaction.
	Get(ctx context.Context, id string) (*datatypes.Member, error)

	// List returns members matching the filter, ordered by id.
	List(ctx context.Context, f Filter) ([]*datatypes.Member, error)

	// Snapshot returns all members keyed by id. The pure validators
	// and the cascade planner consume this.
	Snapshot(ctx context.Context) (map[string]*datatypes.Member, error)

	// Ping is the liveness probe.
	Ping(ctx context.Context) error

	Close() error
}
