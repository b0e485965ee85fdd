package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/fleet-diagnostics/internal/observability"
	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/reducer"
	"github.com/jonathan/fleet-diagnostics/internal/transport"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

var watchCmd = &cobra.Command{
	Use:   "watch <file.csv>",
	Short: "Upload a CSV to a running server and follow the live event stream",
	Long: `Uploads a file to the server's stream endpoint, folds every received event into the
stage state and prints it as it arrives. A stream that closes without a final frame is
reported as a failure.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchServer  string
	watchUser    string
	watchVerbose bool
)

func init() {
	watchCmd.Flags().StringVarP(&watchServer, "server", "s", "http://localhost:8080", "Base URL of the fleet_agent server")
	watchCmd.Flags().StringVarP(&watchUser, "user", "u", "", "Recipient email for the stored notifications")
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Print streamed model output")
	rootCmd.AddCommand(watchCmd)
}

func uploadBody(path, user string) (*bytes.Buffer, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}
	if user != "" {
		if err := mw.WriteField("user_email", user); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	body, contentType, err := uploadBody(args[0], watchUser)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	url := strings.TrimRight(watchServer, "/") + "/analyze/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	printer := observability.NewPrinter(cmd.OutOrStdout(), watchVerbose)
	st := reducer.Empty()
	var result *pipeline.Result

	err = transport.ReadStream(ctx, resp.Body, func(f transport.Frame) error {
		if f.Name.Terminal() {
			var r pipeline.Result
			if err := f.Decode(&r); err != nil {
				log.Printf("[watch] undecodable %s frame: %v", f.Name, err)
				return nil
			}
			result = &r
			return nil
		}
		ev, err := f.Event()
		if err != nil {
			log.Printf("[watch] skipping frame: %v", err)
			return nil
		}
		st = reducer.Apply(st, ev)
		printer.PrintEvent(ev)
		return nil
	})

	switch {
	case errors.Is(err, transport.ErrStreamTruncated):
		printer.PrintStages(st)
		printer.PrintFailure(&types.StageError{
			Kind:    types.ErrCancelled,
			Stage:   types.StageOrchestrator,
			Message: "stream closed before the run finished",
		})
		return fmt.Errorf("stream ended without a result: %w", err)
	case err != nil:
		return fmt.Errorf("failed to read stream: %w", err)
	case result == nil:
		return fmt.Errorf("stream ended without a decodable result")
	}

	printResult(printer, st, result)
	return resultError(result)
}
