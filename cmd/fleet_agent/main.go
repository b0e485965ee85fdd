// Package main provides the entry point for the fleet diagnostics agent:
// the HTTP server and command-line tools for running and watching analyses.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fleet_agent",
	Short: "Fleet Diagnostics Agent",
	Long:  "Fleet Diagnostics Agent parses vehicle sensor exports, flags anomalies with a language model, stores alerts and streams live progress to the dashboard.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON or YAML config file (environment variables override it)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
