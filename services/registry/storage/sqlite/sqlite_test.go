// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/lineage/services/registry/datatypes"
	"github.com/AleutianAI/lineage/services/registry/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newMember(id string, fatherID *string) *datatypes.Member {
	now := datatypes.NowMillis()
	return &datatypes.Member{
		ID: id, FatherID: fatherID, Name: "Member " + id, Gender: datatypes.GenderMale,
		Generation: 1, Status: datatypes.StatusLiving, Version: 1,
		CreatedAt: now, UpdatedAt: now,
	}
}

func insert(t *testing.T, st *Store, m *datatypes.Member) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.Insert(context.Background(), m)
	}))
}

func TestOpenCreatesSchemaAndPings(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.Ping(context.Background()))
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	father := "P001"
	birth := 1950
	m := newMember("P002", &father)
	m.BirthYear = &birth
	m.Branch = "north"
	m.Email = "p002@example.com"
	insert(t, st, m)

	got, err := st.Get(ctx, "P002")
	require.NoError(t, err)
	assert.Equal(t, "P002", got.ID)
	require.NotNil(t, got.FatherID)
	assert.Equal(t, "P001", *got.FatherID)
	require.NotNil(t, got.BirthYear)
	assert.Equal(t, 1950, *got.BirthYear)
	assert.Nil(t, got.DeathYear)
	assert.Equal(t, "north", got.Branch)
	assert.Equal(t, int64(1), got.Version)
}

func TestGetNotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.Get(context.Background(), "P999")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsertDuplicateID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	insert(t, st, newMember("P001", nil))

	err := st.WithTx(ctx, func(tx storage.Tx) error {
		return tx.Insert(ctx, newMember("P001", nil))
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateID)
}

func TestUpdateVersionGuard(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	insert(t, st, newMember("P001", nil))

	t.Run("matching previous version succeeds", func(t *testing.T) {
		err := st.WithTx(ctx, func(tx storage.Tx) error {
			m, err := tx.Get(ctx, "P001")
			if err != nil {
				return err
			}
			m.Name = "Renamed"
			m.Version++
			return tx.Update(ctx, m)
		})
		require.NoError(t, err)

		got, err := st.Get(ctx, "P001")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("stale version yields ConflictError and leaves row unchanged", func(t *testing.T) {
		stale, err := st.Get(ctx, "P001")
		require.NoError(t, err)
		stale.Name = "Should Not Stick"
		// A correct writer would set Version to stored+1 (3). Leaving
		// it at 2 claims previous version 1 against stored version 2.
		err = st.WithTx(ctx, func(tx storage.Tx) error {
			return tx.Update(ctx, stale)
		})
		var ce *storage.ConflictError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, int64(2), ce.Actual)

		got, err := st.Get(ctx, "P001")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("vanished row yields NotFound", func(t *testing.T) {
		ghost := newMember("P404", nil)
		ghost.Version = 2
		err := st.WithTx(ctx, func(tx storage.Tx) error {
			return tx.Update(ctx, ghost)
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestDelete(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	insert(t, st, newMember("P001", nil))

	require.NoError(t, st.WithTx(ctx, func(tx storage.Tx) error {
		return tx.Delete(ctx, "P001")
	}))
	_, err := st.Get(ctx, "P001")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = st.WithTx(ctx, func(tx storage.Tx) error {
		return tx.Delete(ctx, "P001")
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMaxID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx storage.Tx) error {
		max, err := tx.MaxID(ctx, "P")
		require.NoError(t, err)
		assert.Equal(t, "", max, "empty store has no max id")
		return nil
	})
	require.NoError(t, err)

	for _, id := range []string{"P001", "P003", "P002"} {
		insert(t, st, newMember(id, nil))
	}
	// An id that outgrew the padding width must still win.
	insert(t, st, newMember("P1000", nil))

	err = st.WithTx(ctx, func(tx storage.Tx) error {
		max, err := tx.MaxID(ctx, "P")
		require.NoError(t, err)
		assert.Equal(t, "P1000", max)
		return nil
	})
	require.NoError(t, err)
}

func TestAdjustCounterBumpsVersion(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	insert(t, st, newMember("P001", nil))

	err := st.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.AdjustCounter(ctx, "P001", storage.CounterSons, 1); err != nil {
			return err
		}
		return tx.AdjustCounter(ctx, "P001", storage.CounterDaughters, 1)
	})
	require.NoError(t, err)

	got, err := st.Get(ctx, "P001")
	require.NoError(t, err)
	assert.Equal(t, 1, got.SonsCount)
	assert.Equal(t, 1, got.DaughtersCount)
	assert.Equal(t, int64(3), got.Version, "each counter adjustment increments version")

	err = st.WithTx(ctx, func(tx storage.Tx) error {
		return tx.AdjustCounter(ctx, "P999", storage.CounterSons, 1)
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCountChildren(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	father := "P001"
	insert(t, st, newMember("P001", nil))
	son := newMember("P002", &father)
	insert(t, st, son)
	daughter := newMember("P003", &father)
	daughter.Gender = datatypes.GenderFemale
	insert(t, st, daughter)

	err := st.WithTx(ctx, func(tx storage.Tx) error {
		sons, daughters, err := tx.CountChildren(ctx, "P001")
		require.NoError(t, err)
		assert.Equal(t, 1, sons)
		assert.Equal(t, 1, daughters)
		return nil
	})
	require.NoError(t, err)
}

func TestRollbackOnError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.Insert(ctx, newMember("P001", nil)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = st.Get(ctx, "P001")
	assert.ErrorIs(t, err, storage.ErrNotFound, "failed transaction must leave no partial state")
}

func TestListAndSnapshot(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	father := "P001"
	insert(t, st, newMember("P001", nil))
	child := newMember("P002", &father)
	child.Generation = 2
	insert(t, st, child)

	t.Run("list by father", func(t *testing.T) {
		got, err := st.List(ctx, storage.Filter{FatherID: &father})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "P002", got[0].ID)
	})

	t.Run("list by generation", func(t *testing.T) {
		gen := 1
		got, err := st.List(ctx, storage.Filter{Generation: &gen})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "P001", got[0].ID)
	})

	t.Run("snapshot keys by id", func(t *testing.T) {
		byID, err := st.Snapshot(ctx)
		require.NoError(t, err)
		assert.Len(t, byID, 2)
		assert.Contains(t, byID, "P001")
		assert.Contains(t, byID, "P002")
	})
}
