// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"fmt"

	"github.com/AleutianAI/lineage/services/registry/datatypes"
)

// Step is one derived update in a cascade plan: apply Changes to the
// member identified by MemberID. Reason is the human-readable
// explanation shown in previews.
type Step struct {
	MemberID string                  `json:"member_id"`
	Changes  datatypes.MemberChanges `json:"changes"`
	Reason   string                  `json:"reason"`
}

// Plan computes the downstream updates implied by applying changes to
// current. It performs no writes and never re-validates: the caller is
// expected to have run CheckFields / CheckParentChange first.
//
// Rules:
//   - rename: direct children get the new cached father name,
//     grandchildren the new cached grandfather name;
//   - father reassignment with a non-zero generation delta: every
//     member of the descendant set (the member itself included) has its
//     generation shifted by that delta;
//   - branch change: every descendant inherits the new branch.
//
// The returned slice is usable as a blast-radius preview ("this will
// affect N members") before anything is committed.
func Plan(current *datatypes.Member, changes datatypes.MemberChanges, byID map[string]*datatypes.Member) []Step {
	var steps []Step
	children := childIndex(byID)

	if changes.Name != nil && *changes.Name != current.Name {
		newName := *changes.Name
		for _, childID := range children[current.ID] {
			name := newName
			steps = append(steps, Step{
				MemberID: childID,
				Changes:  datatypes.MemberChanges{CachedFatherName: &name},
				Reason:   fmt.Sprintf("father %s renamed to %q", current.ID, newName),
			})
			for _, grandchildID := range children[childID] {
				name := newName
				steps = append(steps, Step{
					MemberID: grandchildID,
					Changes:  datatypes.MemberChanges{CachedGrandfatherName: &name},
					Reason:   fmt.Sprintf("grandfather %s renamed to %q", current.ID, newName),
				})
			}
		}
	}

	if changes.ChangesFather(current) {
		newGeneration := MinGeneration
		if !changes.MakeRoot && changes.FatherID != nil {
			if father, ok := byID[*changes.FatherID]; ok {
				newGeneration = father.Generation + 1
			}
		}
		delta := newGeneration - current.Generation
		if delta != 0 {
			for _, id := range Descendants(current.ID, byID) {
				m, ok := byID[id]
				if !ok {
					continue
				}
				gen := m.Generation + delta
				steps = append(steps, Step{
					MemberID: id,
					Changes:  datatypes.MemberChanges{Generation: &gen},
					Reason:   fmt.Sprintf("father of %s reassigned: generation shifted by %+d", current.ID, delta),
				})
			}
		}
	}

	if changes.Branch != nil && *changes.Branch != current.Branch {
		newBranch := *changes.Branch
		for _, id := range Descendants(current.ID, byID) {
			if id == current.ID {
				// The member itself picks the branch up from the root
				// edit; the cascade covers the descendants.
				continue
			}
			branch := newBranch
			steps = append(steps, Step{
				MemberID: id,
				Changes:  datatypes.MemberChanges{Branch: &branch},
				Reason:   fmt.Sprintf("branch of ancestor %s changed to %q", current.ID, newBranch),
			})
		}
	}

	return steps
}
