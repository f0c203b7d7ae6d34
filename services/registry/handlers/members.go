// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/lineage/services/registry/datatypes"
	"github.com/AleutianAI/lineage/services/registry/engine"
	"github.com/AleutianAI/lineage/services/registry/observability"
	"github.com/AleutianAI/lineage/services/registry/storage"
	"github.com/AleutianAI/lineage/services/registry/tree"
)

// ListMembers returns members, optionally filtered by ?father_id= and
// ?generation=.
func ListMembers(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f storage.Filter
		if v, ok := c.GetQuery("father_id"); ok {
			f.FatherID = &v
		}
		if v, ok := c.GetQuery("generation"); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
					Error: "generation must be an integer", Code: codeInvalidBody,
				})
				return
			}
			f.Generation = &n
		}

		members, err := store.List(c.Request.Context(), f)
		if err != nil {
			writeError(c, err)
			return
		}
		if members == nil {
			members = []*datatypes.Member{}
		}
		c.JSON(http.StatusOK, gin.H{"members": members, "count": len(members)})
	}
}

// GetMember returns one member by id.
func GetMember(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := store.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// ListChildren returns the direct children of a member.
func ListChildren(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := store.Get(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		children, err := store.List(c.Request.Context(), storage.Filter{FatherID: &id})
		if err != nil {
			writeError(c, err)
			return
		}
		if children == nil {
			children = []*datatypes.Member{}
		}
		c.JSON(http.StatusOK, gin.H{"members": children, "count": len(children)})
	}
}

// CreateMember validates and creates a new member.
//
// The prospective member is checked against the forest snapshot before
// the engine runs, so chronology violations surface as structured
// validation errors rather than opaque write failures. Warnings never
// block; they ride along in the response.
func CreateMember(eng *engine.Engine, store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req datatypes.CreateMemberRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body", Code: codeInvalidBody})
			record(observability.OpCreate, observability.OutcomeInvalid, start)
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Code: codeValidation})
			record(observability.OpCreate, observability.OutcomeInvalid, start)
			return
		}
		req.EnsureDefaults()

		snapshot, err := store.Snapshot(c.Request.Context())
		if err != nil {
			record(observability.OpCreate, writeError(c, err), start)
			return
		}

		candidate := &datatypes.Member{
			FatherID:   req.FatherID,
			Name:       req.Name,
			Gender:     req.Gender,
			Generation: tree.MinGeneration,
			BirthYear:  req.BirthYear,
			DeathYear:  req.DeathYear,
			Status:     req.Status,
			Email:      req.Email,
			Phone:      req.Phone,
		}
		if req.FatherID != nil {
			father, ok := snapshot[*req.FatherID]
			if !ok {
				c.JSON(http.StatusNotFound, datatypes.ErrorResponse{
					Error: "father " + *req.FatherID + " does not exist", Code: codeNotFound,
				})
				record(observability.OpCreate, observability.OutcomeNotFound, start)
				return
			}
			if father.Gender != datatypes.GenderMale {
				c.JSON(http.StatusBadRequest, gin.H{
					"errors": []tree.ValidationError{{
						Field: "father_id", Code: tree.CodeGender,
						Message: "father " + father.ID + " is not male",
					}},
				})
				record(observability.OpCreate, observability.OutcomeInvalid, start)
				return
			}
			candidate.Generation = father.Generation + 1
		}

		res := tree.CheckMember(candidate, snapshot)
		if !res.OK() {
			c.JSON(http.StatusBadRequest, gin.H{"errors": res.Errors, "warnings": res.Warnings})
			record(observability.OpCreate, observability.OutcomeInvalid, start)
			return
		}

		m, err := eng.Create(c.Request.Context(), &req)
		if err != nil {
			record(observability.OpCreate, writeError(c, err), start)
			return
		}
		record(observability.OpCreate, observability.OutcomeSuccess, start)
		c.JSON(http.StatusCreated, gin.H{"member": m, "warnings": res.Warnings})
	}
}

// UpdateMember applies a partial change-set to one member.
//
// Structural fields (generation, cached names) are engine-owned and
// rejected here. Father reassignment goes through the full parent-change
// check first, so cycles and invalid fathers never reach the engine.
// Downstream effects of structural edits (generation shifts, branch and
// cached-name propagation) are NOT applied here; preview them via /plan
// and apply via /cascade.
func UpdateMember(eng *engine.Engine, store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.Param("id")

		var req datatypes.UpdateMemberRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body", Code: codeInvalidBody})
			record(observability.OpUpdate, observability.OutcomeInvalid, start)
			return
		}
		if req.Changes.IsZero() {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "empty change-set", Code: codeNoChanges})
			record(observability.OpUpdate, observability.OutcomeInvalid, start)
			return
		}
		if req.Changes.TouchesStructuralFields() {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: "generation and cached name fields are system-maintained", Code: codeStructuralField,
			})
			record(observability.OpUpdate, observability.OutcomeInvalid, start)
			return
		}

		snapshot, err := store.Snapshot(c.Request.Context())
		if err != nil {
			record(observability.OpUpdate, writeError(c, err), start)
			return
		}
		current, ok := snapshot[id]
		if !ok {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "member " + id + " not found", Code: codeNotFound})
			record(observability.OpUpdate, observability.OutcomeNotFound, start)
			return
		}

		var parentWarnings []tree.Warning
		if req.Changes.ChangesFather(current) {
			var proposed *string
			if !req.Changes.MakeRoot {
				proposed = req.Changes.FatherID
			}
			pc := tree.CheckParentChange(id, proposed, snapshot)
			if !pc.Valid {
				status := http.StatusBadRequest
				if pc.WouldCreateCycle {
					status = http.StatusConflict
				}
				c.JSON(status, gin.H{"errors": pc.Errors, "would_create_cycle": pc.WouldCreateCycle})
				record(observability.OpUpdate, observability.OutcomeInvalid, start)
				return
			}
			// Birth order against the proposed father is advisory on a
			// reassignment; the warning rides along with the result.
			parentWarnings = pc.Warnings
		}

		res := tree.CheckFields(current, req.Changes, snapshot)
		if !res.OK() {
			c.JSON(http.StatusBadRequest, gin.H{"errors": res.Errors, "warnings": res.Warnings})
			record(observability.OpUpdate, observability.OutcomeInvalid, start)
			return
		}
		warnings := append(res.Warnings, parentWarnings...)

		m, err := eng.Update(c.Request.Context(), id, req.Changes, req.ExpectedVersion)
		if err != nil {
			record(observability.OpUpdate, writeError(c, err), start)
			return
		}
		record(observability.OpUpdate, observability.OutcomeSuccess, start)
		c.JSON(http.StatusOK, gin.H{"member": m, "warnings": warnings})
	}
}

// DeleteMember removes a leaf member.
func DeleteMember(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		if err := eng.Delete(c.Request.Context(), c.Param("id")); err != nil {
			record(observability.OpDelete, writeError(c, err), start)
			return
		}
		record(observability.OpDelete, observability.OutcomeSuccess, start)
		c.Status(http.StatusNoContent)
	}
}
