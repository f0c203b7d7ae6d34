// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// lineagectl is the command-line client for the registry service.
//
// Examples:
//
//	lineagectl health
//	lineagectl member list
//	lineagectl member create --name "Founder" --gender male
//	lineagectl audit
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// serverURL is the registry base URL, set via --server or
// LINEAGE_SERVER.
var serverURL string

var rootCmd = &cobra.Command{
	Use:   "lineagectl",
	Short: "Client for the lineage registry",
	Long: `lineagectl talks to a running registry service.

Examples:
  lineagectl health                                  # Liveness probe
  lineagectl member list                             # All members
  lineagectl member list --father P001               # Children of P001
  lineagectl member create --name "Founder" --gender male
  lineagectl member delete P004
  lineagectl audit                                   # Full invariant audit`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	defaultServer := os.Getenv("LINEAGE_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:12260"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer,
		"registry base URL (env: LINEAGE_SERVER)")
}
