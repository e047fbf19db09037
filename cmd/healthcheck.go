package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/spicy-cat/internal/config"
	"github.com/xkilldash9x/spicy-cat/internal/enforce"
	"github.com/xkilldash9x/spicy-cat/internal/health"
	"github.com/xkilldash9x/spicy-cat/internal/observability"
)

func newHealthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check the running agent; exits non-zero when more than two checks fail",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			checker := health.NewChecker(health.Config{
				PIDFile:     cfg.Agent.PIDFile,
				StatusPath:  cfg.Status.Path,
				MaxAge:      cfg.Health.MaxAge,
				WantRunning: cfg.Agent.Enabled,
				Timeout:     cfg.Health.Timeout,
			}, enforce.ExecRunner{}, observability.GetLogger())

			report := checker.Run(cmd.Context())
			printReport(cmd, report)
			if code := report.ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
}

func printReport(cmd *cobra.Command, report health.Report) {
	out := cmd.OutOrStdout()
	for _, r := range report.Results {
		mark := "ok  "
		if !r.OK {
			mark = "FAIL"
		}
		if r.Detail != "" {
			fmt.Fprintf(out, "[%s] %-16s %s\n", mark, r.Name, r.Detail)
		} else {
			fmt.Fprintf(out, "[%s] %s\n", mark, r.Name)
		}
	}
	verdict := "healthy"
	if !report.Healthy() {
		verdict = "unhealthy"
	}
	fmt.Fprintf(out, "%d/%d checks failed: %s\n", report.Failed, len(report.Results), verdict)
}
