package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kwait/internal/scenario"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <scenario.toml>",
	Short: "Execute a synchronization scenario",
	Long:  `Load a TOML scenario, run its thread scripts against a fresh object tree, and report each step's outcome`,
	Args:  cobra.ExactArgs(1),
	RunE:  runScenario,
}

func init() {
	runCmd.Flags().Bool("trace", false, "stream trace events to stderr instead of buffering them")
	runCmd.Flags().Bool("quiet", false, "only report mismatches")
}

func runScenario(cmd *cobra.Command, args []string) error {
	streamTrace, err := cmd.Flags().GetBool("trace")
	if err != nil {
		return fmt.Errorf("failed to get trace flag: %w", err)
	}
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}

	cfg, err := scenario.Load(args[0])
	if err != nil {
		return err
	}

	opts := scenario.Options{}
	if streamTrace {
		opts.TraceWriter = os.Stderr
	}
	rep, err := scenario.Run(cfg, opts)
	if err != nil {
		return fmt.Errorf("scenario failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if !quiet {
		renderReport(out, rep)
	}

	mismatches := rep.Mismatches()
	if len(mismatches) == 0 {
		if !quiet {
			color.New(color.FgGreen).Fprintf(out, "ok: %d threads completed\n", len(rep.Threads))
		}
		return nil
	}
	for _, m := range mismatches {
		color.New(color.FgRed).Fprintln(out, m)
	}
	return fmt.Errorf("%d expectation mismatches", len(mismatches))
}

func renderReport(out io.Writer, rep *scenario.Report) {
	name := rep.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(out, "scenario %s\n", name)
	okColor := color.New(color.FgGreen)
	badColor := color.New(color.FgRed)
	for _, th := range rep.Threads {
		fmt.Fprintf(out, "  thread %s\n", th.Name)
		for i, op := range th.Ops {
			c := okColor
			if op.Mismatch() {
				c = badColor
			}
			line := fmt.Sprintf("    %2d %-10s %-20s %s", i+1, op.Op, op.Object, op.Outcome)
			if op.Detail != "" {
				line += " " + op.Detail
			}
			c.Fprintln(out, line)
		}
	}
}
