// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the registry HTTP API.
//
// Handlers are thin: bind, validate against the forest snapshot, call
// the engine, map the error class to a status code. All tree logic
// lives in the tree package and all write logic in the engine.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/lineage/services/registry/datatypes"
	"github.com/AleutianAI/lineage/services/registry/engine"
	"github.com/AleutianAI/lineage/services/registry/observability"
	"github.com/AleutianAI/lineage/services/registry/storage"
)

// Error codes in API responses.
const (
	codeInvalidBody     = "invalid_body"
	codeValidation      = "validation"
	codeNoChanges       = "no_changes"
	codeStructuralField = "structural_field"
	codeNotFound        = "not_found"
	codeConflict        = "version_conflict"
	codeDuplicate       = "duplicate_id"
	codeHasChildren     = "has_children"
	codeCycle           = "cycle"
	codeUnavailable     = "store_unavailable"
	codeInternal        = "internal"
)

func isNotFound(err error) bool    { return errors.Is(err, storage.ErrNotFound) }
func isDuplicate(err error) bool   { return errors.Is(err, storage.ErrDuplicateID) }
func isHasChildren(err error) bool { return errors.Is(err, storage.ErrHasChildren) }
func isNoChanges(err error) bool   { return errors.Is(err, engine.ErrNoChanges) }

// writeError maps an engine/store error to a response and returns the
// metrics outcome.
func writeError(c *gin.Context, err error) observability.Outcome {
	switch {
	case isNotFound(err):
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: err.Error(), Code: codeNotFound})
		return observability.OutcomeNotFound
	case storage.IsConflict(err):
		c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: err.Error(), Code: codeConflict})
		return observability.OutcomeConflict
	case isDuplicate(err):
		c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: err.Error(), Code: codeDuplicate})
		return observability.OutcomeConflict
	case isHasChildren(err):
		c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: err.Error(), Code: codeHasChildren})
		return observability.OutcomeInvalid
	case isNoChanges(err):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Code: codeNoChanges})
		return observability.OutcomeInvalid
	case storage.IsTransient(err):
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: err.Error(), Code: codeUnavailable})
		return observability.OutcomeError
	default:
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error(), Code: codeInternal})
		return observability.OutcomeError
	}
}

// record reports one mutation to the metrics singleton, when metrics
// are initialized.
func record(op observability.Op, outcome observability.Outcome, start time.Time) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordMutation(op, outcome, time.Since(start).Seconds())
	}
}

func recordCascade(planned, applied int) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordCascade(planned, applied)
	}
}
