// Package cmd wires the CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "xpert",
	Short: "Xpert conversational turn server",
	Long: `Xpert executes conversational turns for AI agents: it drives the
agent graph engine, streams envelopes to clients over SSE, persists
conversations and messages, and maintains long-term memory.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
