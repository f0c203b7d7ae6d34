// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine executes member mutations: create, update, delete and
// cascade-plan application. Every mutation runs in exactly one store
// transaction, so either all of its effects (row writes, counter
// adjustments, cached-name refreshes) land together or none do.
//
// # Concurrency
//
// Writes are guarded three ways:
//
//   - an in-process keyed mutex serializes identifier allocation, so
//     two concurrent creates in one process never race for the same id;
//   - the candidate id is re-checked inside the transaction right
//     before the insert, and the primary key constraint backstops
//     cross-process races;
//   - updates carry an optimistic version guard; a stale expected
//     version is rejected with a ConflictError before any write.
//
// Only transport-layer failures (storage.TransientError) are retried,
// with a bounded doubling backoff. Business-rule failures and version
// conflicts surface on the first attempt.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/lineage/pkg/logging"
	"github.com/AleutianAI/lineage/pkg/retry"
	"github.com/AleutianAI/lineage/services/registry/datatypes"
	"github.com/AleutianAI/lineage/services/registry/observability"
	"github.com/AleutianAI/lineage/services/registry/storage"
	"github.com/AleutianAI/lineage/services/registry/tree"
)

// createLockKey serializes identifier allocation. A single key is
// enough: ids are forest-global, not per-subtree.
const createLockKey = "create-member"

// ErrNoChanges is returned when an update carries an empty change-set.
var ErrNoChanges = errors.New("no changes supplied")

// keyedMutex hands out one mutex per string key, created on demand.
// Keys are never evicted; the key space here is a handful of constants.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Engine is the mutation executor.
type Engine struct {
	store storage.Store
	alloc Allocator
	retry retry.Config
	log   *logging.Logger
	locks *keyedMutex
}

// New builds an Engine on top of a store. A nil logger falls back to
// the process default.
func New(store storage.Store, alloc Allocator, retryCfg retry.Config, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	if retryCfg.Attempts <= 0 {
		retryCfg = retry.DefaultConfig()
	}
	return &Engine{
		store: store,
		alloc: alloc,
		retry: retryCfg,
		log:   log,
		locks: newKeyedMutex(),
	}
}

// withRetry runs fn under the transient-only retry policy, logging and
// counting each re-attempt.
func (e *Engine) withRetry(ctx context.Context, op string, fn func() error) error {
	onRetry := func(attempt int, err error) {
		e.log.Warn("retrying mutation after transient store error",
			"op", op, "attempt", attempt, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRetry(observability.Op(op))
		}
	}
	return retry.Do(ctx, e.retry, storage.IsTransient, onRetry, fn)
}

// Create allocates the next identifier and inserts a new member. When
// the request names a father, the member inherits the father's branch
// (unless the request overrides it), receives generation father+1, and
// the father's child counter for the member's gender is incremented in
// the same transaction. Without a father the member is a root at
// generation 1.
func (e *Engine) Create(ctx context.Context, req *datatypes.CreateMemberRequest) (*datatypes.Member, error) {
	req.EnsureDefaults()

	unlock := e.locks.Lock(createLockKey)
	defer unlock()

	var created *datatypes.Member
	err := e.withRetry(ctx, "create", func() error {
		created = nil
		return e.store.WithTx(ctx, func(tx storage.Tx) error {
			now := datatypes.NowMillis()
			m := &datatypes.Member{
				FatherID:   req.FatherID,
				Name:       req.Name,
				Gender:     req.Gender,
				Generation: 1,
				Branch:     req.Branch,
				BirthYear:  req.BirthYear,
				DeathYear:  req.DeathYear,
				Status:     req.Status,
				Email:      req.Email,
				Phone:      req.Phone,
				Biography:  req.Biography,
				Version:    1,
				CreatedAt:  now,
				UpdatedAt:  now,
			}

			if req.FatherID != nil {
				father, err := tx.Get(ctx, *req.FatherID)
				if err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						return fmt.Errorf("father %s: %w", *req.FatherID, err)
					}
					return err
				}
				m.Generation = father.Generation + 1
				if m.Branch == "" {
					m.Branch = father.Branch
				}
				m.CachedFatherName = father.Name
				if father.FatherID != nil {
					gf, err := tx.Get(ctx, *father.FatherID)
					switch {
					case err == nil:
						m.CachedGrandfatherName = gf.Name
					case !errors.Is(err, storage.ErrNotFound):
						return err
					}
				}
			}

			maxID, err := tx.MaxID(ctx, e.alloc.Prefix)
			if err != nil {
				return err
			}
			id, err := e.alloc.Next(maxID)
			if err != nil {
				return err
			}
			taken, err := tx.Exists(ctx, id)
			if err != nil {
				return err
			}
			if taken {
				return storage.ErrDuplicateID
			}
			m.ID = id

			if err := tx.Insert(ctx, m); err != nil {
				return err
			}
			if m.FatherID != nil {
				if err := tx.AdjustCounter(ctx, *m.FatherID, storage.CounterFor(m.Gender), 1); err != nil {
					return err
				}
			}
			created = m
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("member created",
		"id", created.ID, "generation", created.Generation, "father", deref(created.FatherID))
	return created, nil
}

// Update applies a change-set to one member and bumps its version by 1.
//
// When expectedVersion is non-nil it is compared against the stored
// version inside the transaction and a mismatch aborts with a
// ConflictError before anything is written. A nil expectedVersion is
// last-writer-wins.
//
// Father reassignment moves the child counter from the old father to
// the new one and refreshes the member's cached ancestor names; the
// descendant-side effects (generation shift) are the cascade planner's
// output and are applied separately via ApplyPlan.
func (e *Engine) Update(ctx context.Context, id string, changes datatypes.MemberChanges, expectedVersion *int64) (*datatypes.Member, error) {
	if changes.IsZero() {
		return nil, ErrNoChanges
	}

	var updated *datatypes.Member
	err := e.withRetry(ctx, "update", func() error {
		updated = nil
		return e.store.WithTx(ctx, func(tx storage.Tx) error {
			current, err := tx.Get(ctx, id)
			if err != nil {
				return err
			}
			if expectedVersion != nil && *expectedVersion != current.Version {
				return &storage.ConflictError{Expected: *expectedVersion, Actual: current.Version}
			}

			merged := changes.ApplyTo(current)
			fatherChanged := changes.ChangesFather(current)

			if fatherChanged {
				// The child's counter slot moves with it, keyed by the
				// gender each father actually sees.
				if current.FatherID != nil {
					if err := tx.AdjustCounter(ctx, *current.FatherID, storage.CounterFor(current.Gender), -1); err != nil {
						return err
					}
				}
				if merged.FatherID != nil {
					father, err := tx.Get(ctx, *merged.FatherID)
					if err != nil {
						if errors.Is(err, storage.ErrNotFound) {
							return fmt.Errorf("father %s: %w", *merged.FatherID, err)
						}
						return err
					}
					if err := tx.AdjustCounter(ctx, *merged.FatherID, storage.CounterFor(merged.Gender), 1); err != nil {
						return err
					}
					merged.CachedFatherName = father.Name
					merged.CachedGrandfatherName = ""
					if father.FatherID != nil {
						gf, err := tx.Get(ctx, *father.FatherID)
						switch {
						case err == nil:
							merged.CachedGrandfatherName = gf.Name
						case !errors.Is(err, storage.ErrNotFound):
							return err
						}
					}
				} else {
					merged.CachedFatherName = ""
					merged.CachedGrandfatherName = ""
				}
			} else if changes.Gender != nil && *changes.Gender != current.Gender && merged.FatherID != nil {
				// Same father, different gender: the child switches
				// counter columns.
				if err := tx.AdjustCounter(ctx, *merged.FatherID, storage.CounterFor(current.Gender), -1); err != nil {
					return err
				}
				if err := tx.AdjustCounter(ctx, *merged.FatherID, storage.CounterFor(merged.Gender), 1); err != nil {
					return err
				}
			}

			merged.Version = current.Version + 1
			merged.UpdatedAt = datatypes.NowMillis()
			if err := tx.Update(ctx, merged); err != nil {
				return err
			}
			updated = merged
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("member updated", "id", id, "version", updated.Version)
	return updated, nil
}

// Delete removes a leaf member. Members with live children are refused
// with ErrHasChildren; the caller reassigns or deletes the children
// first. The father's child counter is decremented in the same
// transaction.
func (e *Engine) Delete(ctx context.Context, id string) error {
	err := e.withRetry(ctx, "delete", func() error {
		return e.store.WithTx(ctx, func(tx storage.Tx) error {
			current, err := tx.Get(ctx, id)
			if err != nil {
				return err
			}
			sons, daughters, err := tx.CountChildren(ctx, id)
			if err != nil {
				return err
			}
			if sons+daughters > 0 {
				return fmt.Errorf("%w: %d sons, %d daughters", storage.ErrHasChildren, sons, daughters)
			}
			if err := tx.Delete(ctx, id); err != nil {
				return err
			}
			if current.FatherID != nil {
				return tx.AdjustCounter(ctx, *current.FatherID, storage.CounterFor(current.Gender), -1)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	e.log.Info("member deleted", "id", id)
	return nil
}

// ApplyPlan applies every step of a cascade plan in one transaction and
// returns the number of steps applied. Steps are unguarded writes (the
// plan is authoritative, derived from a snapshot moments earlier); each
// touched row still gets its version bumped by 1 so concurrent guarded
// editors observe the change.
//
// Plan steps carry field updates only. A step that would reassign a
// father is refused: father moves go through Update, which owns the
// counter bookkeeping.
func (e *Engine) ApplyPlan(ctx context.Context, steps []tree.Step) (int, error) {
	if len(steps) == 0 {
		return 0, nil
	}

	applied := 0
	err := e.withRetry(ctx, "apply_plan", func() error {
		applied = 0
		return e.store.WithTx(ctx, func(tx storage.Tx) error {
			for _, s := range steps {
				current, err := tx.Get(ctx, s.MemberID)
				if err != nil {
					return fmt.Errorf("step %s: %w", s.MemberID, err)
				}
				if s.Changes.ChangesFather(current) {
					return fmt.Errorf("step %s: plan steps cannot reassign fathers", s.MemberID)
				}
				merged := s.Changes.ApplyTo(current)
				merged.Version = current.Version + 1
				merged.UpdatedAt = datatypes.NowMillis()
				if err := tx.Update(ctx, merged); err != nil {
					return fmt.Errorf("step %s: %w", s.MemberID, err)
				}
				applied++
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	e.log.Info("cascade plan applied", "steps", applied)
	return applied, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
