// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tree holds the pure tree-invariant logic: field validation,
// parent-reassignment checks, cascade planning and the audit used by
// lineagectl.
//
// # Description
//
// Every function here is side-effect free. Input is always the member
// (or change-set) under scrutiny plus a snapshot of the full forest
// keyed by id; output is a classification (errors, warnings) or a plan.
// Nothing in this package performs I/O or mutates the snapshot, which
// is what makes "preview before commit" safe for callers.
//
// The dividing line between an error and a warning: anything that
// would make an already-accepted fact provably false blocks; anything
// merely suspicious advises.
package tree

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/lineage/services/registry/datatypes"
)

// Generation bounds. Roots are generation 1; no recorded genealogy
// exceeds a few dozen generations, 200 leaves ample slack.
const (
	MinGeneration = 1
	MaxGeneration = 200
)

// MinPlausibleBirthYear is the lower bound of the unusual-birth-year
// warning window.
const MinPlausibleBirthYear = 1000

// Error codes carried by ValidationError.
const (
	CodeRequired    = "required"
	CodeInvalidEnum = "invalid_enum"
	CodeOutOfRange  = "out_of_range"
	CodeMalformed   = "malformed"
	CodeChronology  = "chronology"
	CodeCycle       = "cycle"
	CodeGender      = "gender"
	CodeUnknownRef  = "unknown_ref"
)

// ValidationError is a blocking finding. Nothing is written while any
// exist.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Warning is an advisory finding. Warnings are shown to the user but
// never block submission.
type Warning struct {
	Field      string `json:"field"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Result is the outcome of a field-edit validation.
type Result struct {
	Errors   []ValidationError `json:"errors"`
	Warnings []Warning         `json:"warnings"`
}

// OK reports whether the result carries no blocking errors.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// fieldValidate backs the single-value format checks (email, phone).
var fieldValidate = validator.New()

// CheckFields validates a proposed partial change-set against an
// existing member and the full forest. The change-set is merged into a
// copy of the member first, so rules always see the post-edit state.
//
// When the change-set reassigns the father, the father birth-order
// rule is not applied here: on that path it is CheckParentChange's
// advisory warning, never a blocking error.
func CheckFields(current *datatypes.Member, changes datatypes.MemberChanges, byID map[string]*datatypes.Member) Result {
	return checkMember(changes.ApplyTo(current), byID, changes.ChangesFather(current))
}

// CheckMember validates a full member state (an existing member after
// a merge, or a prospective member at create time) against the forest.
func CheckMember(m *datatypes.Member, byID map[string]*datatypes.Member) Result {
	return checkMember(m, byID, false)
}

func checkMember(m *datatypes.Member, byID map[string]*datatypes.Member, skipFatherChronology bool) Result {
	var res Result
	addErr := func(field, code, msg string) {
		res.Errors = append(res.Errors, ValidationError{Field: field, Code: code, Message: msg})
	}
	addWarn := func(field, msg, suggestion string) {
		res.Warnings = append(res.Warnings, Warning{Field: field, Message: msg, Suggestion: suggestion})
	}

	if m.Name == "" {
		addErr("name", CodeRequired, "name is required")
	}
	if m.Gender == "" {
		addErr("gender", CodeRequired, "gender is required")
	} else if !datatypes.ValidGender(m.Gender) {
		addErr("gender", CodeInvalidEnum, fmt.Sprintf("gender %q is not one of male, female", m.Gender))
	}
	if m.Status == "" {
		addErr("status", CodeRequired, "status is required")
	} else if !datatypes.ValidStatus(m.Status) {
		addErr("status", CodeInvalidEnum, fmt.Sprintf("status %q is not one of living, deceased", m.Status))
	}
	if m.Generation < MinGeneration || m.Generation > MaxGeneration {
		addErr("generation", CodeOutOfRange,
			fmt.Sprintf("generation %d is outside %d..%d", m.Generation, MinGeneration, MaxGeneration))
	}
	if m.Email != "" {
		if err := fieldValidate.Var(m.Email, "email"); err != nil {
			addErr("email", CodeMalformed, fmt.Sprintf("email %q is malformed", m.Email))
		}
	}

	if m.BirthYear != nil && m.DeathYear != nil && *m.DeathYear < *m.BirthYear {
		addErr("death_year", CodeChronology,
			fmt.Sprintf("death year %d is earlier than birth year %d", *m.DeathYear, *m.BirthYear))
	}

	if m.BirthYear != nil {
		// A parent born after (or in the same year as) a recorded child
		// would make the child's accepted birth year provably wrong.
		for _, id := range sortedIDs(byID) {
			other := byID[id]
			if other.ID == m.ID || other.FatherID == nil || *other.FatherID != m.ID {
				continue
			}
			if other.BirthYear != nil && *m.BirthYear >= *other.BirthYear {
				addErr("birth_year", CodeChronology,
					fmt.Sprintf("birth year %d is not earlier than child %s's birth year %d",
						*m.BirthYear, other.ID, *other.BirthYear))
			}
		}
		if m.FatherID != nil && !skipFatherChronology {
			if father, ok := byID[*m.FatherID]; ok && father.BirthYear != nil && *m.BirthYear <= *father.BirthYear {
				addErr("birth_year", CodeChronology,
					fmt.Sprintf("birth year %d is not later than father %s's birth year %d",
						*m.BirthYear, father.ID, *father.BirthYear))
			}
		}

		if year := *m.BirthYear; year < MinPlausibleBirthYear || year > time.Now().Year() {
			addWarn("birth_year", fmt.Sprintf("birth year %d is unusual", year),
				"double-check the source record")
		}
	}

	if m.DeathYear != nil && m.Status == datatypes.StatusLiving {
		addWarn("death_year", "death year is set but status is still living",
			"set status to deceased or clear the death year")
	}

	if m.Phone != "" {
		if err := fieldValidate.Var(m.Phone, "e164"); err != nil {
			addWarn("phone", fmt.Sprintf("phone %q is loosely formatted", m.Phone),
				"prefer E.164, e.g. +14155550100")
		}
	}

	return res
}

// ParentCheck is the outcome of a parent-reassignment validation.
//
// AffectedIDs lists the member itself plus its full descendant set,
// the blast radius a caller plans cascades over.
type ParentCheck struct {
	Valid            bool              `json:"valid"`
	WouldCreateCycle bool              `json:"would_create_cycle"`
	GenerationChange int               `json:"generation_change"`
	AffectedIDs      []string          `json:"affected_ids"`
	Errors           []ValidationError `json:"errors"`
	Warnings         []Warning         `json:"warnings"`
}

// CheckParentChange validates reassigning a member's father. A nil
// newFatherID proposes making the member a root.
func CheckParentChange(id string, newFatherID *string, byID map[string]*datatypes.Member) ParentCheck {
	var pc ParentCheck
	addErr := func(field, code, msg string) {
		pc.Errors = append(pc.Errors, ValidationError{Field: field, Code: code, Message: msg})
	}

	node, ok := byID[id]
	if !ok {
		addErr("id", CodeUnknownRef, fmt.Sprintf("member %s does not exist", id))
		return pc
	}

	pc.AffectedIDs = Descendants(id, byID)

	newGeneration := MinGeneration
	if newFatherID != nil {
		if *newFatherID == id {
			pc.WouldCreateCycle = true
			addErr("new_father_id", CodeCycle, "a member cannot be its own father")
			return pc
		}
		father, ok := byID[*newFatherID]
		if !ok {
			addErr("new_father_id", CodeUnknownRef,
				fmt.Sprintf("proposed father %s does not exist", *newFatherID))
			return pc
		}
		for _, did := range pc.AffectedIDs {
			if did == father.ID {
				// The proposed father descends from the node: linking
				// them would make the node an ancestor of its own
				// ancestor.
				pc.WouldCreateCycle = true
				addErr("new_father_id", CodeCycle,
					fmt.Sprintf("%s is a descendant of %s", father.ID, id))
				return pc
			}
		}
		if father.Gender != datatypes.GenderMale {
			addErr("new_father_id", CodeGender,
				fmt.Sprintf("proposed father %s is not male", father.ID))
		}
		// Historical data is often approximate, so a birth-order
		// violation only warns here, unlike the hard chronology rules
		// in CheckMember.
		if node.BirthYear != nil && father.BirthYear != nil && *node.BirthYear <= *father.BirthYear {
			pc.Warnings = append(pc.Warnings, Warning{
				Field: "birth_year",
				Message: fmt.Sprintf("%s (born %d) is not younger than proposed father %s (born %d)",
					node.ID, *node.BirthYear, father.ID, *father.BirthYear),
				Suggestion: "verify both birth years before applying",
			})
		}
		newGeneration = father.Generation + 1
	}

	pc.GenerationChange = newGeneration - node.Generation
	pc.Valid = len(pc.Errors) == 0
	return pc
}

// Descendants returns the full descendant set of id, including id
// itself, in breadth-first order. Children are visited in id order so
// the output is deterministic.
func Descendants(id string, byID map[string]*datatypes.Member) []string {
	children := childIndex(byID)

	out := []string{id}
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range children[cur] {
			if seen[child] {
				// A corrupted store could hold a cycle; refusing to
				// revisit keeps the walk terminating regardless.
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// childIndex builds a father -> sorted child ids index.
func childIndex(byID map[string]*datatypes.Member) map[string][]string {
	children := make(map[string][]string)
	for id, m := range byID {
		if m.FatherID != nil {
			children[*m.FatherID] = append(children[*m.FatherID], id)
		}
	}
	for _, ids := range children {
		sort.Strings(ids)
	}
	return children
}

func sortedIDs(byID map[string]*datatypes.Member) []string {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
