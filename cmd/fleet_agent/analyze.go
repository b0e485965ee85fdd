package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jonathan/fleet-diagnostics/internal/agent"
	"github.com/jonathan/fleet-diagnostics/internal/observability"
	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/reducer"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.csv>",
	Short: "Run the analysis pipeline locally on a CSV export",
	Long: `Runs ingest -> infer -> dispatch on a local file and prints each event as it happens,
followed by the stage summary and the detected anomalies.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var (
	analyzeUser    string
	analyzeJSON    bool
	analyzeVerbose bool
)

// agentFactory builds the agent for local commands; tests replace it
var agentFactory = newAgent

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeUser, "user", "u", "operator", "Recipient of the stored notifications")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the aggregate result as JSON instead of formatted output")
	analyzeCmd.Flags().BoolVarP(&analyzeVerbose, "verbose", "v", false, "Print streamed model output")
	rootCmd.AddCommand(analyzeCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	a, cleanup, err := agentFactory(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	defer a.Store().Close()

	out := cmd.OutOrStdout()
	printer := observability.NewPrinter(out, analyzeVerbose || cfg.Verbose)

	var emit types.EmitFunc
	if !analyzeJSON {
		emit = printer.PrintEvent
	}
	result := a.Analyze(ctx, agent.Upload{
		FileName:  filepath.Base(path),
		Data:      data,
		Recipient: analyzeUser,
	}, emit)

	if analyzeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	} else {
		printResult(printer, reducer.Reduce(result.Events), result)
	}

	return resultError(result)
}

func printResult(printer *observability.Printer, st reducer.State, result *pipeline.Result) {
	printer.PrintStages(st)
	if result.Success {
		printer.PrintFindings(result.Findings)
		return
	}
	printer.PrintFailure(result.Error())
}

func resultError(result *pipeline.Result) error {
	if result.Success {
		return nil
	}
	return fmt.Errorf("analysis failed (%s): %s", result.ErrorKind, result.Message)
}
