// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command engine starts the AleutianTale turn-orchestration server and
// provides session maintenance subcommands.
//
// # Usage
//
//	# Start the server with the default config search path
//	engine serve
//
//	# Start with an explicit config file
//	engine serve --config /etc/aleutiantale/engine.yaml
//
//	# Inspect stored sessions
//	engine sessions list
//	engine sessions delete <session-id>
//
// # Environment Variables
//
//   - ENGINE_DATA_DIR: overrides the configured session data directory
//   - OPENAI_API_KEY: key for the OpenAI text and image backends
//   - OLLAMA_BASE_URL / OLLAMA_MODEL: Ollama backend settings
//   - LLM_SERVICE_URL_BASE: local llama.cpp backend URL
package main

import (
	"log"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianTale/pkg/logging"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

// setupLogging builds the process logger from the persistent flags.
// Interactive terminals get text output; pipes and containers get JSON.
func setupLogging() *logging.Logger {
	useJSON := logJSON
	if !logJSONSet {
		useJSON = !isatty.IsTerminal(os.Stderr.Fd())
	}
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		LogDir:  logDir,
		Service: "engine",
		JSON:    useJSON,
	})
	logger.SetAsDefault()
	return logger
}
