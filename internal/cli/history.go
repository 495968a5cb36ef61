package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

const defaultHistoryLimit = 20

func newHistoryCmd(c *CLI) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently finished downloads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := c.App.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No downloads yet.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FINISHED\tBVID\tRESULT\tTITLE")
			for _, rec := range records {
				result := "ok"
				if rec.Error != "" {
					result = "failed"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					rec.FinishedAt.Local().Format(time.DateTime), rec.BVID, result, rec.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "number of entries to show")
	return cmd
}
