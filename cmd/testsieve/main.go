// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// testsieve selects the tests worth running for a change by walking a
// cached symbol dependency graph of the project backwards from the
// edited files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/testsieve/pkg/logging"
	"github.com/AleutianAI/testsieve/services/selector/config"
)

// Exit codes for CI scripting.
const (
	ExitSuccess = 0
	ExitError   = 1
)

// Persistent flags shared by every subcommand.
var (
	flagConfig   string
	flagRoot     string
	flagCacheDir string
	flagBackend  string
	flagLogLevel string
	flagJSON     bool
)

// cfg and logger are populated by PersistentPreRunE before any
// subcommand runs.
var (
	cfg    config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "testsieve",
	Short: "Change-impact test selection for PHP projects",
	Long: `testsieve maintains an incremental symbol dependency graph over a PHP
codebase and answers "what is affected by this change" by walking the
graph's reverse edges. The graph persists between runs, so steady-state
invocations only re-extract the files that actually changed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagRoot != "" {
			loaded.Root = flagRoot
		}
		if cmd.Flags().Changed("cache-dir") {
			loaded.CacheDir = flagCacheDir
		}
		if flagBackend != "" {
			loaded.Backend = flagBackend
		}
		if err := config.Validate(loaded); err != nil {
			return err
		}
		cfg = loaded

		logger = logging.New(logging.Config{
			Level:   logging.ParseLevel(flagLogLevel),
			Service: "testsieve",
			Quiet:   flagJSON, // Keep stderr quiet under machine output
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "",
		"Config file path (YAML); defaults apply when omitted")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "",
		"Project root to analyze (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&flagCacheDir, "cache-dir", "",
		"Snapshot directory (empty disables persistence)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "",
		"Extraction backend: token or tree")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false,
		"Output as JSON for scripting")

	rootCmd.AddCommand(affectedCmd)
	rootCmd.AddCommand(methodsCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
}
