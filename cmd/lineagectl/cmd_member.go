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
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lineage/services/registry/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	memberListFather     string // Filter by father id
	memberListGeneration int    // Filter by generation (0 = all)
	memberJSONOutput     bool   // Output as JSON

	memberCreateName      string
	memberCreateGender    string
	memberCreateFather    string
	memberCreateBranch    string
	memberCreateBirthYear int
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Inspect and mutate family members",
}

var memberListCmd = &cobra.Command{
	Use:   "list",
	Short: "List members",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/v1/members"
		sep := "?"
		if memberListFather != "" {
			path += sep + "father_id=" + memberListFather
			sep = "&"
		}
		if memberListGeneration > 0 {
			path += fmt.Sprintf("%sgeneration=%d", sep, memberListGeneration)
		}

		var resp struct {
			Members []*datatypes.Member `json:"members"`
			Count   int                 `json:"count"`
		}
		if err := newClient(serverURL).get(cmd.Context(), path, &resp); err != nil {
			return err
		}
		if memberJSONOutput {
			return json.NewEncoder(os.Stdout).Encode(resp.Members)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tGEN\tBRANCH\tFATHER\tSONS\tDAUGHTERS\tVER")
		for _, m := range resp.Members {
			father := "-"
			if m.FatherID != nil {
				father = *m.FatherID
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\t%d\t%d\n",
				m.ID, m.Name, m.Generation, m.Branch, father,
				m.SonsCount, m.DaughtersCount, m.Version)
		}
		return w.Flush()
	},
}

var memberGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var m datatypes.Member
		if err := newClient(serverURL).get(cmd.Context(), "/v1/members/"+args[0], &m); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	},
}

var memberCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a member",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{
			"name":   memberCreateName,
			"gender": memberCreateGender,
		}
		if memberCreateFather != "" {
			body["father_id"] = memberCreateFather
		}
		if memberCreateBranch != "" {
			body["branch"] = memberCreateBranch
		}
		if memberCreateBirthYear != 0 {
			body["birth_year"] = memberCreateBirthYear
		}

		var resp struct {
			Member   datatypes.Member `json:"member"`
			Warnings []struct {
				Field   string `json:"field"`
				Message string `json:"message"`
			} `json:"warnings"`
		}
		if err := newClient(serverURL).post(cmd.Context(), "/v1/members", body, &resp); err != nil {
			return err
		}
		fmt.Printf("created %s (%s, generation %d)\n",
			resp.Member.ID, resp.Member.Name, resp.Member.Generation)
		for _, warn := range resp.Warnings {
			fmt.Printf("warning: %s: %s\n", warn.Field, warn.Message)
		}
		return nil
	},
}

var memberDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a leaf member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(serverURL).del(cmd.Context(), "/v1/members/"+args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

func init() {
	memberListCmd.Flags().StringVar(&memberListFather, "father", "", "only children of this member")
	memberListCmd.Flags().IntVar(&memberListGeneration, "generation", 0, "only this generation")
	memberListCmd.Flags().BoolVar(&memberJSONOutput, "json", false, "JSON output")

	memberCreateCmd.Flags().StringVar(&memberCreateName, "name", "", "member name (required)")
	memberCreateCmd.Flags().StringVar(&memberCreateGender, "gender", "", "male or female (required)")
	memberCreateCmd.Flags().StringVar(&memberCreateFather, "father", "", "father id; omit for a root")
	memberCreateCmd.Flags().StringVar(&memberCreateBranch, "branch", "", "branch label")
	memberCreateCmd.Flags().IntVar(&memberCreateBirthYear, "birth-year", 0, "birth year")
	_ = memberCreateCmd.MarkFlagRequired("name")
	_ = memberCreateCmd.MarkFlagRequired("gender")

	memberCmd.AddCommand(memberListCmd, memberGetCmd, memberCreateCmd, memberDeleteCmd)
	rootCmd.AddCommand(memberCmd)
}
