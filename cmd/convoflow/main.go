// Package main is the convoflow CLI: a multi-tenant conversational turn
// orchestrator serving chat, phone, WhatsApp, and email channels.
//
// Start the server:
//
//	convoflow serve --config convoflow.yaml
//
// Configuration can reference environment variables with ${VAR} syntax;
// ANTHROPIC_API_KEY and OPENAI_API_KEY are the usual ones.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "convoflow",
		Short:        "Convoflow - conversational turn orchestrator",
		Long:         "Convoflow turns inbound customer messages into grounded, policy-compliant replies:\nintent classification, gated tool execution, and an LLM under strict safety rails.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}
