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
	"sort"

	"github.com/AleutianAI/lineage/services/registry/datatypes"
)

// Problem is one structural-invariant violation found by Audit.
type Problem struct {
	MemberID string `json:"member_id"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail"`
}

// Problem kinds reported by Audit.
const (
	ProblemCycle          = "cycle"
	ProblemDanglingFather = "dangling_father"
	ProblemGeneration     = "generation"
	ProblemCounter        = "counter"
	ProblemBranch         = "branch"
)

// Audit checks the whole forest against the structural invariants:
// acyclic father chains, generation numbering (roots are 1, children
// are father+1), counter accuracy by gender, and branch inheritance.
//
// Branch findings are advisory in nature (an admin override legally
// breaks inheritance) but are still reported so an operator can tell
// overrides from drift. Audit is pure; callers fetch the snapshot.
func Audit(byID map[string]*datatypes.Member) []Problem {
	var problems []Problem
	add := func(id, kind, detail string) {
		problems = append(problems, Problem{MemberID: id, Kind: kind, Detail: detail})
	}

	ids := sortedIDs(byID)

	for _, id := range ids {
		m := byID[id]

		if m.FatherID != nil {
			father, ok := byID[*m.FatherID]
			if !ok {
				add(id, ProblemDanglingFather, fmt.Sprintf("father %s does not exist", *m.FatherID))
				continue
			}
			if m.Generation != father.Generation+1 {
				add(id, ProblemGeneration, fmt.Sprintf("generation %d, father %s has %d",
					m.Generation, father.ID, father.Generation))
			}
			if m.Branch != father.Branch {
				add(id, ProblemBranch, fmt.Sprintf("branch %q differs from father %s's %q",
					m.Branch, father.ID, father.Branch))
			}
		} else if m.Generation != MinGeneration {
			add(id, ProblemGeneration, fmt.Sprintf("root has generation %d, want %d",
				m.Generation, MinGeneration))
		}

		// Walk the ancestor chain; revisiting a member means the
		// forest property is broken.
		seen := map[string]bool{id: true}
		cur := m
		for cur.FatherID != nil {
			next, ok := byID[*cur.FatherID]
			if !ok {
				break // already reported as dangling
			}
			if seen[next.ID] {
				add(id, ProblemCycle, fmt.Sprintf("ancestor chain revisits %s", next.ID))
				break
			}
			seen[next.ID] = true
			cur = next
		}
	}

	// Recount children by gender and compare with the denormalized
	// counters.
	type counts struct{ sons, daughters int }
	actual := make(map[string]counts)
	for _, id := range ids {
		m := byID[id]
		if m.FatherID == nil {
			continue
		}
		c := actual[*m.FatherID]
		if m.Gender == datatypes.GenderFemale {
			c.daughters++
		} else {
			c.sons++
		}
		actual[*m.FatherID] = c
	}
	for _, id := range ids {
		m := byID[id]
		c := actual[id]
		if m.SonsCount != c.sons {
			add(id, ProblemCounter, fmt.Sprintf("sons_count %d, live sons %d", m.SonsCount, c.sons))
		}
		if m.DaughtersCount != c.daughters {
			add(id, ProblemCounter, fmt.Sprintf("daughters_count %d, live daughters %d",
				m.DaughtersCount, c.daughters))
		}
	}

	sort.Slice(problems, func(i, j int) bool {
		if problems[i].MemberID != problems[j].MemberID {
			return problems[i].MemberID < problems[j].MemberID
		}
		return problems[i].Kind < problems[j].Kind
	})
	return problems
}
