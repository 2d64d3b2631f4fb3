// Package cmd provides the CLI commands for the gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentinelgate/gateway/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "LLM admission gateway - content analysis and rate limiting for chat completions",
	Long: `gateway sits in front of an upstream LLM API and admits, blocks, or flags
chat-completion requests based on rate limits, content analysis, and
custom block rules, recording a GDPR-aware audit trail for every decision.

Quick start:
  1. Create a config file: sentinelgate.yaml
  2. Run: gateway serve

Configuration:
  Config is loaded from sentinelgate.yaml in the current directory,
  $HOME/.sentinelgate/, or /etc/sentinelgate/.

  Environment variables can override config values with the SENTINELGATE_ prefix.
  Example: SENTINELGATE_SERVER_HTTP_ADDR=:9090

Commands:
  serve        Start the gateway
  hash-token   Generate an Argon2id hash for the admin operator token
  version      Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sentinelgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
