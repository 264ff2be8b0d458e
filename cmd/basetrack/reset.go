package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/basetrack/internal/api"
	"github.com/goodtune/basetrack/internal/presence"
	"github.com/spf13/cobra"
)

var serverURL string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the weekly totals",
	Long: `Clear the weekly history. Open sessions are kept and count towards the new week.

Without --server the configured storage is modified directly; use that only while
the server is stopped. With --server the running server performs the reset.`,
	Example: `  basetrack reset --server http://127.0.0.1:8080
  basetrack -c /etc/basetrack/config.yaml reset`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

var closeCmd = &cobra.Command{
	Use:   "close USER_ID",
	Short: "Close the open session of a user",
	Long:  `Close a user's open session as if they had left the monitored channels, and print the resulting weekly total.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runClose,
}

func init() {
	for _, cmd := range []*cobra.Command{resetCmd, closeCmd} {
		cmd.Flags().StringVar(&serverURL, "server", "", "Base URL of a running basetrack server")
		rootCmd.AddCommand(cmd)
	}
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	if serverURL != "" {
		if err := callServer(ctx, "/api/v1/reset", nil); err != nil {
			return err
		}
	} else {
		tracker, store, err := openTracker()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := tracker.ResetWeek(ctx); err != nil {
			return err
		}
	}

	_, _ = color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "✅ Weekly totals cleared")
	return nil
}

func runClose(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	userID := args[0]
	var total int64

	if serverURL != "" {
		var resp api.TotalResponse
		if err := callServer(ctx, "/api/v1/users/"+url.PathEscape(userID)+"/close", &resp); err != nil {
			return err
		}
		total = resp.TotalMs
	} else {
		tracker, store, err := openTracker()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		total, err = tracker.ForceCloseSession(ctx, userID, tracker.Now())
		if err != nil {
			return err
		}
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", userID, presence.FormatDuration(total))
	return nil
}

// callServer sends an elevated POST to a running server and decodes the
// JSON response into out when it is not nil.
func callServer(ctx context.Context, path string, out interface{}) error {
	endpoint := strings.TrimRight(serverURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	req.Header.Set(api.ElevatedHeader, "true")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
