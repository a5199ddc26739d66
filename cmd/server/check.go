package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/gist/internal/config"
	"github.com/rpattn/gist/internal/domain"
)

func newCheckCommand(load func() (config.Config, error)) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check <type>",
		Short: "Check the hierarchy of an entity type for cycles, orphans and stale levels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.integrity.Start(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			job, err = a.integrity.Wait(cmd.Context(), job.ID, timeout)
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "how long to wait for the check")
	return cmd
}

// printJob renders a finished job and fails when defects were found.
func printJob(w io.Writer, job domain.IntegrityJob) error {
	title := color.New(color.FgCyan, color.Bold)
	title.Fprintf(w, "%s integrity (job %s)\n", job.EntityType, job.ID)

	switch job.Status {
	case domain.IntegrityJobStatusCompleted:
	case domain.IntegrityJobStatusFailed, domain.IntegrityJobStatusCancelled:
		msg := ""
		if job.ErrorMessage != nil {
			msg = *job.ErrorMessage
		}
		return fmt.Errorf("check %s: %s", strings.ToLower(string(job.Status)), msg)
	default:
		return fmt.Errorf("check still %s after timeout", strings.ToLower(string(job.Status)))
	}

	report := job.Report
	fmt.Fprintf(w, "  nodes checked: %d, roots: %d\n", report.Checked, report.Roots)
	if report.Clean() {
		color.New(color.FgGreen).Fprintln(w, "✓ no defects found")
		return nil
	}

	bad := color.New(color.FgRed)
	for _, id := range report.Orphans {
		bad.Fprintf(w, "  ✗ orphan %s: parent does not exist\n", id)
	}
	for _, cycle := range report.Cycles {
		bad.Fprintf(w, "  ✗ cycle %s\n", strings.Join(append(cycle, cycle[0]), " -> "))
	}
	for _, m := range report.LevelMismatches {
		bad.Fprintf(w, "  ✗ level of %s is %d, expected %d\n", m.ID, m.Stored, m.Expected)
	}
	for _, m := range report.PathMismatches {
		bad.Fprintf(w, "  ✗ path of %s is %q, expected %q\n", m.ID, m.Stored, m.Expected)
	}
	defects := len(report.Orphans) + len(report.Cycles) + len(report.LevelMismatches) + len(report.PathMismatches)
	return fmt.Errorf("%d defects found", defects)
}
