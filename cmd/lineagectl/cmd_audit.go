// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/lineage/services/registry/datatypes"
	"github.com/AleutianAI/lineage/services/registry/tree"
)

// auditCmd fetches the whole forest and checks every tree invariant
// client-side: generation numbering, branch inheritance, counter
// accuracy, dangling fathers, cycles.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit the forest for invariant violations",
	Long: `Fetches all members and verifies the structural invariants:
generation numbering, branch inheritance, child counters, father
references and cycle freedom. Exits non-zero when problems are found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Members []*datatypes.Member `json:"members"`
		}
		if err := newClient(serverURL).get(cmd.Context(), "/v1/members", &resp); err != nil {
			return err
		}

		byID := make(map[string]*datatypes.Member, len(resp.Members))
		for _, m := range resp.Members {
			byID[m.ID] = m
		}

		problems := tree.Audit(byID)
		if len(problems) == 0 {
			fmt.Printf("audited %d members: clean\n", len(byID))
			return nil
		}

		color := isatty.IsTerminal(os.Stdout.Fd())
		for _, p := range problems {
			kind := p.Kind
			if color {
				kind = "\033[31m" + kind + "\033[0m"
			}
			fmt.Printf("%s  %s  %s\n", p.MemberID, kind, p.Detail)
		}
		return fmt.Errorf("%d problem(s) in %d members", len(problems), len(byID))
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
