package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"video-search-bot/internal/domain"
)

func newDoctorCmd(c *CLI) *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the muxer tool and writable directories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := c.App.RefreshDiagnostics()
			if fix && report.HasFailures {
				var err error
				report, err = c.App.FixAllDiagnostics(cmd.Context())
				if err != nil {
					c.Log.Warn().Err(err).Msg("some fixes failed")
				}
			}

			printReport(cmd.OutOrStdout(), report)
			if report.HasFailures {
				return fmt.Errorf("environment check failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "try to install or create what is missing")
	return cmd
}

func printReport(w io.Writer, report domain.DiagnosticReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tSTATUS\tDETAIL")
	for _, item := range report.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", item.Name, item.Status, item.Message)
		if item.Status == domain.DiagnosticStatusFail && item.Hint != "" {
			fmt.Fprintf(tw, "\t\thint: %s\n", item.Hint)
		}
	}
	_ = tw.Flush()
}
