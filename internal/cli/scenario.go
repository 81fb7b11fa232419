package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quadratichq/quadratic-sub015/internal/harness"
)

// ScenarioRunReport is the scenario run command output.
type ScenarioRunReport struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Events   int                  `json:"events"`
	Errors   []string             `json:"errors,omitempty"`
	Trace    []harness.TraceEvent `json:"trace,omitempty"`
}

// NewScenarioCommand creates the scenario command group.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run multiplayer conformance scenarios",
	}
	cmd.AddCommand(newScenarioRunCommand(rootOpts))
	return cmd
}

func newScenarioRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a scenario file and report assertion results",
		Long: `Execute a YAML scenario against freshly built clients and evaluate
its assertions.

Exit codes:
  0 - All assertions held
  1 - One or more assertions failed
  2 - Command error (file not found, malformed scenario, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, rootOpts, args[0])
		},
	}
}

func runScenario(cmd *cobra.Command, rootOpts *RootOptions, path string) error {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	report := ScenarioRunReport{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Events:   len(result.Trace),
		Errors:   result.Errors,
	}
	if rootOpts.Verbose {
		report.Trace = result.Trace
	}

	if rootOpts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: report}
		if !result.Pass {
			response.Status = "error"
			response.Error = &CLIError{Code: "E_ASSERT", Message: "scenario assertions failed"}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(response); err != nil {
			return err
		}
		if !result.Pass {
			return NewExitError(ExitFailure, "scenario assertions failed")
		}
		return nil
	}

	return outputScenarioText(cmd, report)
}

func outputScenarioText(cmd *cobra.Command, report ScenarioRunReport) error {
	w := cmd.OutOrStdout()

	status := "PASS"
	if !report.Pass {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s %s (%d events)\n", status, report.Scenario, report.Events)

	for _, msg := range report.Errors {
		fmt.Fprintf(w, "  %s\n", msg)
	}
	for _, ev := range report.Trace {
		fmt.Fprintf(w, "  [%d] %s", ev.Step, ev.Action)
		if ev.Client != "" {
			fmt.Fprintf(w, " client=%s", ev.Client)
		}
		if ev.TxID != "" {
			fmt.Fprintf(w, " tx=%s", ev.TxID)
		}
		if ev.Seq != 0 {
			fmt.Fprintf(w, " seq=%d", ev.Seq)
		}
		if ev.Cells != "" {
			fmt.Fprintf(w, " cells=%q", ev.Cells)
		}
		if ev.Note != "" {
			fmt.Fprintf(w, " note=%s", ev.Note)
		}
		fmt.Fprintln(w)
	}

	if !report.Pass {
		return NewExitError(ExitFailure, "scenario assertions failed")
	}
	return nil
}
