package main

import (
	"fmt"
	"os"

	"cicero-client/internal/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	cfg     *config.Config
	verbose bool
	version = "dev"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.Faint)
	userColor    = color.New(color.FgBlue, color.Bold)
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cicero",
	Short: "Terminal client for the Cicero legislative assistant",
	Long: `A terminal client for Cicero's real-time chat backend.

It keeps one streaming connection open, resumes the server session across
reconnects, and shows reasoning, search and streamed answers as they arrive.

Quick Start:
  cicero token --secret dev           # Mint a token for the mock backend
  cicero chat --token <token>         # Start chatting
  cicero healthcheck                  # Verify the backend is reachable`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show connection and state transitions")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
