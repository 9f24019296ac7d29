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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTale/services/engine"
	"github.com/AleutianAI/AleutianTale/services/engine/clock"
	"github.com/AleutianAI/AleutianTale/services/engine/config"
	"github.com/AleutianAI/AleutianTale/services/engine/store"
)

// --- Global Command Variables ---
var (
	configPath  string
	logLevel    string
	logDir      string
	logJSON     bool
	logJSONSet  bool
	sessionSort string

	rootCmd = &cobra.Command{
		Use:   "engine",
		Short: "The AleutianTale interactive narrative engine",
		Long: `Engine runs the AleutianTale turn-orchestration server: a two-phase
turn pipeline over persistent story sessions, with countdown-driven
decision windows, a frame buffer for visual continuity, and death
replay assembly.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logJSONSet = cmd.Flags().Changed("log-json")
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the engine HTTP server",
		RunE:  runServe,
	}

	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored story sessions",
	}

	sessionsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE:  runSessionsList,
	}

	sessionsDeleteCmd = &cobra.Command{
		Use:   "delete [session-id]",
		Short: "Delete a stored session and all its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsDelete,
	}

	sessionsResetCmd = &cobra.Command{
		Use:   "reset [session-id]",
		Short: "Reset a session to a fresh world state, keeping its metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsReset,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to engine.yaml (empty uses built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "directory for JSON log files (empty disables file logging)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "force JSON logs on stderr (default: auto-detect terminal)")

	sessionsCmd.PersistentFlags().StringVar(&sessionSort, "sort", "last_accessed", "sort order: name, created_at, last_accessed")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd, sessionsResetCmd)
	rootCmd.AddCommand(serveCmd, sessionsCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogging()
	defer logger.Close()

	mgr, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer mgr.Close()

	svc, err := engine.New(mgr)
	if err != nil {
		return fmt.Errorf("failed to create engine service: %w", err)
	}
	return svc.Run()
}

// openStore builds a read/write store from the same configuration the
// server would use, for offline maintenance commands.
func openStore() (*store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return store.New(cfg.Engine.DataDir, cfg.Engine.IntroPrompt, clock.NewWall())
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	logger := setupLogging()
	defer logger.Close()

	st, err := openStore()
	if err != nil {
		return err
	}
	sessions, err := st.ListSessions(sessionSort, 0)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION ID\tNAME\tCREATED\tLAST ACCESSED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.SessionID, s.Name,
			s.CreatedAt.Format("2006-01-02 15:04"),
			s.LastAccessed.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	logger := setupLogging()
	defer logger.Close()

	st, err := openStore()
	if err != nil {
		return err
	}
	if err := st.DeleteSession(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}

func runSessionsReset(cmd *cobra.Command, args []string) error {
	logger := setupLogging()
	defer logger.Close()

	st, err := openStore()
	if err != nil {
		return err
	}
	if err := st.Reset(args[0]); err != nil {
		return err
	}
	fmt.Printf("Reset session %s\n", args[0])
	return nil
}
