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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/lineage/services/registry/datatypes"
	"github.com/AleutianAI/lineage/services/registry/engine"
	"github.com/AleutianAI/lineage/services/registry/observability"
	"github.com/AleutianAI/lineage/services/registry/storage"
	"github.com/AleutianAI/lineage/services/registry/tree"
)

// ValidateFields dry-runs a change-set against a member without
// writing. The response always carries valid/errors/warnings, so UIs
// can validate while the user types.
func ValidateFields(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		var req datatypes.ValidateFieldsRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body", Code: codeInvalidBody})
			return
		}

		snapshot, err := store.Snapshot(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		current, ok := snapshot[id]
		if !ok {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "member " + id + " not found", Code: codeNotFound})
			return
		}

		res := tree.CheckFields(current, req.Changes, snapshot)
		c.JSON(http.StatusOK, gin.H{"valid": res.OK(), "errors": res.Errors, "warnings": res.Warnings})
	}
}

// ValidateParent dry-runs a father reassignment. The response includes
// the cycle verdict, the generation delta, and the affected subtree.
func ValidateParent(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		var req datatypes.ParentChangeRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body", Code: codeInvalidBody})
			return
		}

		snapshot, err := store.Snapshot(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		if _, ok := snapshot[id]; !ok {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "member " + id + " not found", Code: codeNotFound})
			return
		}

		c.JSON(http.StatusOK, tree.CheckParentChange(id, req.NewFatherID, snapshot))
	}
}

// PlanCascade previews the downstream updates a change-set implies,
// without writing anything.
func PlanCascade(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		var req datatypes.ValidateFieldsRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body", Code: codeInvalidBody})
			return
		}

		snapshot, err := store.Snapshot(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		current, ok := snapshot[id]
		if !ok {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "member " + id + " not found", Code: codeNotFound})
			return
		}

		steps := tree.Plan(current, req.Changes, snapshot)
		if steps == nil {
			steps = []tree.Step{}
		}
		c.JSON(http.StatusOK, gin.H{"steps": steps, "count": len(steps)})
	}
}

// ApplyCascade performs a structural edit end to end: validates the
// change-set, plans its downstream updates, applies the member's own
// edit (under the optimistic version guard when supplied), then applies
// the whole plan in one transaction.
//
// The member edit and the plan are two transactions. A crash between
// them leaves structural drift that the lineagectl audit command
// detects; re-running the cascade repairs it.
func ApplyCascade(eng *engine.Engine, store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.Param("id")

		var req datatypes.UpdateMemberRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body", Code: codeInvalidBody})
			record(observability.OpApplyPlan, observability.OutcomeInvalid, start)
			return
		}
		if req.Changes.IsZero() {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "empty change-set", Code: codeNoChanges})
			record(observability.OpApplyPlan, observability.OutcomeInvalid, start)
			return
		}
		if req.Changes.TouchesStructuralFields() {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: "generation and cached name fields are system-maintained", Code: codeStructuralField,
			})
			record(observability.OpApplyPlan, observability.OutcomeInvalid, start)
			return
		}

		snapshot, err := store.Snapshot(c.Request.Context())
		if err != nil {
			record(observability.OpApplyPlan, writeError(c, err), start)
			return
		}
		current, ok := snapshot[id]
		if !ok {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "member " + id + " not found", Code: codeNotFound})
			record(observability.OpApplyPlan, observability.OutcomeNotFound, start)
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
				record(observability.OpApplyPlan, observability.OutcomeInvalid, start)
				return
			}
			// Birth order against the proposed father is advisory on a
			// reassignment; the warning rides along with the result.
			parentWarnings = pc.Warnings
		}

		res := tree.CheckFields(current, req.Changes, snapshot)
		if !res.OK() {
			c.JSON(http.StatusBadRequest, gin.H{"errors": res.Errors, "warnings": res.Warnings})
			record(observability.OpApplyPlan, observability.OutcomeInvalid, start)
			return
		}
		warnings := append(res.Warnings, parentWarnings...)

		// Plan against the pre-edit snapshot; the member's own step set
		// (generation shift on father change) is part of the plan, so it
		// must not be re-derived after the edit lands.
		steps := tree.Plan(current, req.Changes, snapshot)

		m, err := eng.Update(c.Request.Context(), id, req.Changes, req.ExpectedVersion)
		if err != nil {
			record(observability.OpApplyPlan, writeError(c, err), start)
			return
		}

		applied, err := eng.ApplyPlan(c.Request.Context(), steps)
		if err != nil {
			record(observability.OpApplyPlan, writeError(c, err), start)
			return
		}
		recordCascade(len(steps), applied)
		record(observability.OpApplyPlan, observability.OutcomeSuccess, start)

		// Re-read: the plan may have touched the member itself.
		if fresh, err := store.Get(c.Request.Context(), id); err == nil {
			m = fresh
		}
		c.JSON(http.StatusOK, gin.H{"member": m, "applied": applied, "warnings": warnings})
	}
}
