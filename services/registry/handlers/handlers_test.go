// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/lineage/pkg/retry"
	"github.com/AleutianAI/lineage/services/registry/datatypes"
	"github.com/AleutianAI/lineage/services/registry/engine"
	"github.com/AleutianAI/lineage/services/registry/routes"
	"github.com/AleutianAI/lineage/services/registry/storage/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*gin.Engine, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eng := engine.New(store, engine.NewAllocator("P", 3), retry.DefaultConfig(), nil)
	router := gin.New()
	routes.SetupRoutes(router, eng, store, nil)
	return router, store
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

// createMember posts a member and returns the created record.
func createMember(t *testing.T, router *gin.Engine, body gin.H) datatypes.Member {
	t.Helper()
	w := do(t, router, http.MethodPost, "/v1/members", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Member datatypes.Member `json:"member"`
	}
	decode(t, w, &resp)
	return resp.Member
}

func TestHealthz(t *testing.T) {
	router, _ := newTestServer(t)
	w := do(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateMember(t *testing.T) {
	router, _ := newTestServer(t)

	t.Run("root member", func(t *testing.T) {
		m := createMember(t, router, gin.H{"name": "Founder", "gender": "male", "branch": "east"})
		assert.Equal(t, "P001", m.ID)
		assert.Equal(t, 1, m.Generation)
		assert.Equal(t, "living", m.Status)
	})

	t.Run("child inherits structure", func(t *testing.T) {
		m := createMember(t, router, gin.H{"name": "Son", "gender": "male", "father_id": "P001"})
		assert.Equal(t, 2, m.Generation)
		assert.Equal(t, "east", m.Branch)
		assert.Equal(t, "Founder", m.CachedFatherName)
	})

	t.Run("missing name rejected", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/members", gin.H{"gender": "male"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad gender rejected", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/members", gin.H{"name": "x", "gender": "other"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown father is 404", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/members",
			gin.H{"name": "x", "gender": "male", "father_id": "P999"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("female father rejected", func(t *testing.T) {
		daughter := createMember(t, router, gin.H{"name": "Daughter", "gender": "female", "father_id": "P001"})
		w := do(t, router, http.MethodPost, "/v1/members",
			gin.H{"name": "x", "gender": "male", "father_id": daughter.ID})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/members", bytes.NewBufferString("{nope"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCreateMember_ChronologyBlocked(t *testing.T) {
	router, _ := newTestServer(t)
	createMember(t, router, gin.H{"name": "Founder", "gender": "male", "birth_year": 1950})

	// A son born before his father is a provable contradiction.
	w := do(t, router, http.MethodPost, "/v1/members",
		gin.H{"name": "Son", "gender": "male", "father_id": "P001", "birth_year": 1940})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "chronology")
}

func TestGetAndListMembers(t *testing.T) {
	router, _ := newTestServer(t)
	root := createMember(t, router, gin.H{"name": "Founder", "gender": "male"})
	createMember(t, router, gin.H{"name": "Son", "gender": "male", "father_id": root.ID})
	createMember(t, router, gin.H{"name": "Daughter", "gender": "female", "father_id": root.ID})

	t.Run("get", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/members/P001", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var m datatypes.Member
		decode(t, w, &m)
		assert.Equal(t, "Founder", m.Name)
		assert.Equal(t, 1, m.SonsCount)
		assert.Equal(t, 1, m.DaughtersCount)
	})

	t.Run("get missing", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/members/P999", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("list all", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/members", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Count int `json:"count"`
		}
		decode(t, w, &resp)
		assert.Equal(t, 3, resp.Count)
	})

	t.Run("list by generation", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/members?generation=2", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Count int `json:"count"`
		}
		decode(t, w, &resp)
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("bad generation filter", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/members?generation=x", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("children", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/members/P001/children", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Count int `json:"count"`
		}
		decode(t, w, &resp)
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("children of missing member", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/members/P999/children", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUpdateMember(t *testing.T) {
	router, _ := newTestServer(t)
	root := createMember(t, router, gin.H{"name": "Founder", "gender": "male"})

	t.Run("rename bumps version", func(t *testing.T) {
		w := do(t, router, http.MethodPatch, "/v1/members/"+root.ID,
			gin.H{"changes": gin.H{"name": "Renamed"}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Member datatypes.Member `json:"member"`
		}
		decode(t, w, &resp)
		assert.Equal(t, "Renamed", resp.Member.Name)
		assert.Equal(t, int64(2), resp.Member.Version)
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		w := do(t, router, http.MethodPatch, "/v1/members/"+root.ID,
			gin.H{"changes": gin.H{"name": "Again"}, "expected_version": 1})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "version_conflict")
	})

	t.Run("structural fields rejected", func(t *testing.T) {
		w := do(t, router, http.MethodPatch, "/v1/members/"+root.ID,
			gin.H{"changes": gin.H{"generation": 5}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "structural_field")
	})

	t.Run("empty change-set rejected", func(t *testing.T) {
		w := do(t, router, http.MethodPatch, "/v1/members/"+root.ID, gin.H{"changes": gin.H{}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown member", func(t *testing.T) {
		w := do(t, router, http.MethodPatch, "/v1/members/P999",
			gin.H{"changes": gin.H{"name": "x"}})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("cycle-producing father change is 409", func(t *testing.T) {
		child := createMember(t, router, gin.H{"name": "Son", "gender": "male", "father_id": root.ID})
		w := do(t, router, http.MethodPatch, "/v1/members/"+root.ID,
			gin.H{"changes": gin.H{"father_id": child.ID}})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "would_create_cycle")
	})
}

func TestUpdateMember_ReassignmentBirthOrderWarns(t *testing.T) {
	router, _ := newTestServer(t)
	younger := createMember(t, router, gin.H{"name": "Younger Root", "gender": "male", "birth_year": 1950})
	elder := createMember(t, router, gin.H{"name": "Elder Root", "gender": "male", "birth_year": 1940})

	// Attaching a member to a father born after it succeeds; the birth
	// order rides along as an advisory warning, never a rejection.
	w := do(t, router, http.MethodPatch, "/v1/members/"+elder.ID,
		gin.H{"changes": gin.H{"father_id": younger.ID}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Member   datatypes.Member `json:"member"`
		Warnings []struct {
			Field string `json:"field"`
		} `json:"warnings"`
	}
	decode(t, w, &resp)
	require.NotNil(t, resp.Member.FatherID)
	assert.Equal(t, younger.ID, *resp.Member.FatherID)
	assert.Equal(t, int64(2), resp.Member.Version)
	require.NotEmpty(t, resp.Warnings)
	assert.Equal(t, "birth_year", resp.Warnings[0].Field)
}

func TestDeleteMember(t *testing.T) {
	router, _ := newTestServer(t)
	root := createMember(t, router, gin.H{"name": "Founder", "gender": "male"})
	child := createMember(t, router, gin.H{"name": "Son", "gender": "male", "father_id": root.ID})

	t.Run("parent refused while children exist", func(t *testing.T) {
		w := do(t, router, http.MethodDelete, "/v1/members/"+root.ID, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "has_children")
	})

	t.Run("leaf deleted", func(t *testing.T) {
		w := do(t, router, http.MethodDelete, "/v1/members/"+child.ID, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("then the parent", func(t *testing.T) {
		w := do(t, router, http.MethodDelete, "/v1/members/"+root.ID, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("unknown member", func(t *testing.T) {
		w := do(t, router, http.MethodDelete, "/v1/members/P999", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestValidateEndpoints(t *testing.T) {
	router, _ := newTestServer(t)
	root := createMember(t, router, gin.H{"name": "Founder", "gender": "male", "birth_year": 1900})
	son := createMember(t, router, gin.H{"name": "Son", "gender": "male", "father_id": root.ID, "birth_year": 1925})

	t.Run("validate passes with warnings", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/members/"+son.ID+"/validate",
			gin.H{"changes": gin.H{"death_year": 2000}})
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Valid    bool `json:"valid"`
			Warnings []struct {
				Field string `json:"field"`
			} `json:"warnings"`
		}
		decode(t, w, &resp)
		assert.True(t, resp.Valid)
		require.Len(t, resp.Warnings, 1)
		assert.Equal(t, "death_year", resp.Warnings[0].Field)
	})

	t.Run("validate blocks chronology", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/members/"+son.ID+"/validate",
			gin.H{"changes": gin.H{"birth_year": 1890}})
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Valid bool `json:"valid"`
		}
		decode(t, w, &resp)
		assert.False(t, resp.Valid)
	})

	t.Run("validate-parent reports blast radius", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/members/"+son.ID+"/validate-parent",
			gin.H{"new_father_id": nil})
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Valid            bool     `json:"valid"`
			GenerationChange int      `json:"generation_change"`
			AffectedIDs      []string `json:"affected_ids"`
		}
		decode(t, w, &resp)
		assert.True(t, resp.Valid)
		assert.Equal(t, -1, resp.GenerationChange)
		assert.Equal(t, []string{son.ID}, resp.AffectedIDs)
	})

	t.Run("plan previews without writing", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/members/"+root.ID+"/plan",
			gin.H{"changes": gin.H{"name": "Ancestor"}})
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Count int `json:"count"`
		}
		decode(t, w, &resp)
		assert.Equal(t, 1, resp.Count)

		got := do(t, router, http.MethodGet, "/v1/members/"+son.ID, nil)
		var m datatypes.Member
		decode(t, got, &m)
		assert.Equal(t, "Founder", m.CachedFatherName, "plan must not write")
	})
}

func TestApplyCascade(t *testing.T) {
	router, _ := newTestServer(t)
	root := createMember(t, router, gin.H{"name": "Founder", "gender": "male", "branch": "east"})
	son := createMember(t, router, gin.H{"name": "Son", "gender": "male", "father_id": root.ID})
	grandchild := createMember(t, router, gin.H{"name": "Granddaughter", "gender": "female", "father_id": son.ID})

	t.Run("rename propagates cached names", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/members/"+root.ID+"/cascade",
			gin.H{"changes": gin.H{"name": "Ancestor"}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Applied int `json:"applied"`
		}
		decode(t, w, &resp)
		assert.Equal(t, 2, resp.Applied)

		got := do(t, router, http.MethodGet, "/v1/members/"+grandchild.ID, nil)
		var m datatypes.Member
		decode(t, got, &m)
		assert.Equal(t, "Ancestor", m.CachedGrandfatherName)
	})

	t.Run("make-root shifts the whole subtree", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/members/"+son.ID+"/cascade",
			gin.H{"changes": gin.H{"make_root": true}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Member datatypes.Member `json:"member"`
		}
		decode(t, w, &resp)
		assert.Nil(t, resp.Member.FatherID)
		assert.Equal(t, 1, resp.Member.Generation)

		got := do(t, router, http.MethodGet, "/v1/members/"+grandchild.ID, nil)
		var m datatypes.Member
		decode(t, got, &m)
		assert.Equal(t, 2, m.Generation)

		// The old father's counter moved in the member edit.
		got = do(t, router, http.MethodGet, "/v1/members/"+root.ID, nil)
		var f datatypes.Member
		decode(t, got, &f)
		assert.Equal(t, 0, f.SonsCount)
	})

	t.Run("cycle is refused before any write", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/members/"+son.ID+"/cascade",
			gin.H{"changes": gin.H{"father_id": grandchild.ID}})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("reassignment to a younger father applies with a warning", func(t *testing.T) {
		late := createMember(t, router, gin.H{"name": "Late Root", "gender": "male", "birth_year": 1960})
		early := createMember(t, router, gin.H{"name": "Early Root", "gender": "male", "birth_year": 1930})

		w := do(t, router, http.MethodPost, "/v1/members/"+early.ID+"/cascade",
			gin.H{"changes": gin.H{"father_id": late.ID}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Member   datatypes.Member `json:"member"`
			Warnings []struct {
				Field string `json:"field"`
			} `json:"warnings"`
		}
		decode(t, w, &resp)
		require.NotNil(t, resp.Member.FatherID)
		assert.Equal(t, late.ID, *resp.Member.FatherID)
		assert.Equal(t, 2, resp.Member.Generation)
		require.NotEmpty(t, resp.Warnings)
		assert.Equal(t, "birth_year", resp.Warnings[0].Field)
	})
}
