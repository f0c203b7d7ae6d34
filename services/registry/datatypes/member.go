// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the member entity and the request/response
// types of the registry API.
//
// # Description
//
// A Member is one record in the family forest. Each member carries at
// most one father reference; a nil FatherID marks a tree root. The
// structural fields (Generation, Branch, SonsCount, DaughtersCount,
// the cached ancestor names and Version) are maintained by the engine
// and the cascade planner, never set directly by clients.
//
// # Validation
//
// Request types use go-playground/validator tags and expose a
// Validate() method to be called after JSON binding. Structural and
// cross-member rules (chronology against father/children, cycles) live
// in the tree package, not here.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Gender values. The gender selects which counter a child increments
// on its father.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// Status values.
const (
	StatusLiving   = "living"
	StatusDeceased = "deceased"
)

// ValidGender reports whether s is a recognized gender value.
func ValidGender(s string) bool { return s == GenderMale || s == GenderFemale }

// ValidStatus reports whether s is a recognized status value.
func ValidStatus(s string) bool { return s == StatusLiving || s == StatusDeceased }

// memberValidate is the validator instance for registry datatypes.
var memberValidate *validator.Validate

func init() {
	memberValidate = validator.New()
}

// Member is one record in the family forest.
//
// # Fields
//
//   - ID: stable external identifier, `<prefix><zero-padded n>` (e.g.
//     "P001"). Immutable after creation.
//   - FatherID: reference to another member's ID; nil means root.
//   - Generation: 1 for roots, father's generation + 1 otherwise.
//   - Branch: label inherited from the father unless overridden.
//   - SonsCount / DaughtersCount: exact live count of direct children
//     by gender, maintained transactionally with child create/delete.
//   - CachedFatherName / CachedGrandfatherName: denormalized display
//     strings; momentarily stale after an ancestor rename until the
//     cascade plan is applied.
//   - Version: incremented by exactly 1 on every successful write;
//     drives optimistic concurrency control.
type Member struct {
	ID                    string  `json:"id"`
	FatherID              *string `json:"father_id,omitempty"`
	Name                  string  `json:"name"`
	Gender                string  `json:"gender"`
	Generation            int     `json:"generation"`
	Branch                string  `json:"branch,omitempty"`
	BirthYear             *int    `json:"birth_year,omitempty"`
	DeathYear             *int    `json:"death_year,omitempty"`
	Status                string  `json:"status"`
	Email                 string  `json:"email,omitempty"`
	Phone                 string  `json:"phone,omitempty"`
	Biography             string  `json:"biography,omitempty"`
	SonsCount             int     `json:"sons_count"`
	DaughtersCount        int     `json:"daughters_count"`
	CachedFatherName      string  `json:"cached_father_name,omitempty"`
	CachedGrandfatherName string  `json:"cached_grandfather_name,omitempty"`
	Version               int64   `json:"version"`
	CreatedAt             int64   `json:"created_at"`
	UpdatedAt             int64   `json:"updated_at"`
}

// IsRoot reports whether the member has no father reference.
func (m *Member) IsRoot() bool { return m.FatherID == nil }

// Clone returns a deep copy. Pointer fields are re-allocated so the
// copy can be mutated without aliasing the original.
func (m *Member) Clone() *Member {
	c := *m
	if m.FatherID != nil {
		v := *m.FatherID
		c.FatherID = &v
	}
	if m.BirthYear != nil {
		v := *m.BirthYear
		c.BirthYear = &v
	}
	if m.DeathYear != nil {
		v := *m.DeathYear
		c.DeathYear = &v
	}
	return &c
}

// MemberChanges is a partial field change-set. Nil pointers mean
// "leave unchanged". Clearing a nullable field has its own flag so the
// JSON form stays unambiguous.
//
// Generation and the cached name fields are system-internal: they are
// produced by the cascade planner and the engine, and are rejected at
// the API boundary for plain client edits.
type MemberChanges struct {
	Name           *string `json:"name,omitempty"`
	Gender         *string `json:"gender,omitempty"`
	FatherID       *string `json:"father_id,omitempty"`
	MakeRoot       bool    `json:"make_root,omitempty"`
	Branch         *string `json:"branch,omitempty"`
	BirthYear      *int    `json:"birth_year,omitempty"`
	DeathYear      *int    `json:"death_year,omitempty"`
	ClearDeathYear bool    `json:"clear_death_year,omitempty"`
	Status         *string `json:"status,omitempty"`
	Email          *string `json:"email,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	Biography      *string `json:"biography,omitempty"`

	Generation            *int    `json:"generation,omitempty"`
	CachedFatherName      *string `json:"cached_father_name,omitempty"`
	CachedGrandfatherName *string `json:"cached_grandfather_name,omitempty"`
}

// IsZero reports whether the change-set touches nothing.
func (c MemberChanges) IsZero() bool {
	return c.Name == nil && c.Gender == nil && c.FatherID == nil && !c.MakeRoot &&
		c.Branch == nil && c.BirthYear == nil && c.DeathYear == nil && !c.ClearDeathYear &&
		c.Status == nil && c.Email == nil && c.Phone == nil && c.Biography == nil &&
		c.Generation == nil && c.CachedFatherName == nil && c.CachedGrandfatherName == nil
}

// ChangesFather reports whether applying c to m would alter the father
// reference.
func (c MemberChanges) ChangesFather(m *Member) bool {
	if c.MakeRoot {
		return m.FatherID != nil
	}
	if c.FatherID == nil {
		return false
	}
	return m.FatherID == nil || *m.FatherID != *c.FatherID
}

// ApplyTo merges the change-set into a copy of m and returns the copy.
// Version and UpdatedAt are untouched; bumping them is the engine's
// job at write time.
func (c MemberChanges) ApplyTo(m *Member) *Member {
	out := m.Clone()
	if c.Name != nil {
		out.Name = *c.Name
	}
	if c.Gender != nil {
		out.Gender = *c.Gender
	}
	if c.MakeRoot {
		out.FatherID = nil
	} else if c.FatherID != nil {
		v := *c.FatherID
		out.FatherID = &v
	}
	if c.Branch != nil {
		out.Branch = *c.Branch
	}
	if c.BirthYear != nil {
		v := *c.BirthYear
		out.BirthYear = &v
	}
	if c.ClearDeathYear {
		out.DeathYear = nil
	} else if c.DeathYear != nil {
		v := *c.DeathYear
		out.DeathYear = &v
	}
	if c.Status != nil {
		out.Status = *c.Status
	}
	if c.Email != nil {
		out.Email = *c.Email
	}
	if c.Phone != nil {
		out.Phone = *c.Phone
	}
	if c.Biography != nil {
		out.Biography = *c.Biography
	}
	if c.Generation != nil {
		out.Generation = *c.Generation
	}
	if c.CachedFatherName != nil {
		out.CachedFatherName = *c.CachedFatherName
	}
	if c.CachedGrandfatherName != nil {
		out.CachedGrandfatherName = *c.CachedGrandfatherName
	}
	return out
}

// TouchesStructuralFields reports whether the change-set sets any
// engine-owned field. Handlers reject these on plain client edits.
func (c MemberChanges) TouchesStructuralFields() bool {
	return c.Generation != nil || c.CachedFatherName != nil || c.CachedGrandfatherName != nil
}

// =============================================================================
// Request / Response Types
// =============================================================================

// CreateMemberRequest is the body of POST /v1/members.
//
// Structural fields (generation, counters, cached names) are computed
// by the engine from the father reference and cannot be supplied.
type CreateMemberRequest struct {
	Name      string  `json:"name" validate:"required,min=1,max=200"`
	Gender    string  `json:"gender" validate:"required,oneof=male female"`
	FatherID  *string `json:"father_id,omitempty"`
	Branch    string  `json:"branch,omitempty" validate:"max=100"`
	BirthYear *int    `json:"birth_year,omitempty"`
	DeathYear *int    `json:"death_year,omitempty"`
	Status    string  `json:"status,omitempty" validate:"omitempty,oneof=living deceased"`
	Email     string  `json:"email,omitempty" validate:"omitempty,email"`
	Phone     string  `json:"phone,omitempty" validate:"max=40"`
	Biography string  `json:"biography,omitempty" validate:"max=8192"`
}

// Validate validates the request fields after JSON binding.
func (r *CreateMemberRequest) Validate() error {
	return memberValidate.Struct(r)
}

// EnsureDefaults fills optional fields: status defaults to living.
func (r *CreateMemberRequest) EnsureDefaults() {
	if r.Status == "" {
		r.Status = StatusLiving
	}
}

// UpdateMemberRequest is the body of PATCH /v1/members/:id and of
// POST /v1/members/:id/cascade.
//
// ExpectedVersion, when set, arms the optimistic version guard: the
// update is rejected with a concurrency conflict if the stored version
// differs. When nil the write is last-writer-wins.
type UpdateMemberRequest struct {
	Changes         MemberChanges `json:"changes"`
	ExpectedVersion *int64        `json:"expected_version,omitempty"`
}

// ValidateFieldsRequest is the body of POST /v1/members/:id/validate
// and /plan.
type ValidateFieldsRequest struct {
	Changes MemberChanges `json:"changes"`
}

// ParentChangeRequest is the body of POST /v1/members/:id/validate-parent.
// A nil NewFatherID proposes making the member a root.
type ParentChangeRequest struct {
	NewFatherID *string `json:"new_father_id"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// NowMillis returns the current wall clock in unix milliseconds, the
// timestamp unit used across the registry.
func NowMillis() int64 { return time.Now().UnixMilli() }
