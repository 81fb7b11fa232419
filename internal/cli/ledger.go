package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quadratichq/quadratic-sub015/internal/ledger"
	"github.com/quadratichq/quadratic-sub015/internal/op"
)

// LedgerEntry is one unsaved transaction in command output.
type LedgerEntry struct {
	ID         string `json:"id"`
	Operations int    `json:"operations"`
	SendCount  int    `json:"send_count"`
	Kinds      string `json:"kinds"`
}

// LedgerReport is the inspect/replay command output.
type LedgerReport struct {
	Database string        `json:"database"`
	Count    int           `json:"count"`
	Entries  []LedgerEntry `json:"entries"`
}

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the unsaved-transaction ledger",
	}
	cmd.AddCommand(newLedgerInspectCommand(rootOpts))
	cmd.AddCommand(newLedgerReplayCommand(rootOpts))
	return cmd
}

func newLedgerInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <db>",
		Short: "List unacknowledged transactions",
		Long: `List every transaction retained in the unsaved ledger: its id,
operation count, operation kinds, and how often it was dispatched.

Exit codes:
  0 - Success
  2 - Command error (database not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := buildLedgerReport(args[0])
			if err != nil {
				return err
			}
			return outputLedgerReport(cmd, rootOpts, report, false)
		},
	}
}

func newLedgerReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <db>",
		Short: "Print the resend plan",
		Long: `Print the transactions that would be rebroadcast on reconnect, in
original creation order. This is the exact plan Reconnect executes.

Exit codes:
  0 - Success
  2 - Command error (database not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := buildLedgerReport(args[0])
			if err != nil {
				return err
			}
			return outputLedgerReport(cmd, rootOpts, report, true)
		},
	}
}

func buildLedgerReport(path string) (LedgerReport, error) {
	l, err := ledger.Open(path)
	if err != nil {
		return LedgerReport{}, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer l.Close()

	ctx := context.Background()
	rows, err := l.Unacked(ctx)
	if err != nil {
		return LedgerReport{}, WrapExitError(ExitCommandError, "failed to read ledger", err)
	}

	report := LedgerReport{Database: path, Count: len(rows), Entries: make([]LedgerEntry, 0, len(rows))}
	for _, row := range rows {
		report.Entries = append(report.Entries, LedgerEntry{
			ID:         row.ID,
			Operations: len(row.Operations),
			SendCount:  row.SendCount,
			Kinds:      summarizeKinds(row.Operations),
		})
	}
	return report, nil
}

// summarizeKinds renders the operation kinds of one transaction, e.g.
// "set_cell_values,set_code_output".
func summarizeKinds(ops []op.Op) string {
	out := ""
	for i, o := range ops {
		if i > 0 {
			out += ","
		}
		out += string(o.OpKind())
	}
	return out
}

func outputLedgerReport(cmd *cobra.Command, rootOpts *RootOptions, report LedgerReport, asPlan bool) error {
	w := cmd.OutOrStdout()

	if rootOpts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: report})
	}

	if report.Count == 0 {
		fmt.Fprintln(w, "Ledger is empty: every transaction is acknowledged.")
		return nil
	}

	if asPlan {
		fmt.Fprintf(w, "Resend plan: %d transaction(s) in creation order\n\n", report.Count)
	} else {
		fmt.Fprintf(w, "Unacknowledged: %d transaction(s)\n\n", report.Count)
	}
	for i, e := range report.Entries {
		fmt.Fprintf(w, "%3d. %s\n", i+1, e.ID)
		fmt.Fprintf(w, "     operations: %d (%s)\n", e.Operations, e.Kinds)
		fmt.Fprintf(w, "     dispatched: %d time(s)\n", e.SendCount)
	}
	return nil
}
