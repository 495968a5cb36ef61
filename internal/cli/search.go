package cli

import (
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"video-search-bot/internal/bot"
)

func newSearchCmd(c *CLI) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search videos and download the one you pick",
		Long: `Search bilibili for a keyword, print the results and wait for a number.
The picked video is downloaded, merged and saved into --out.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv := newTerminalConversation(cmd.InOrStdin(), cmd.OutOrStdout(), outDir)
			handler := bot.NewHandler(c.App, c.App.BotOptions())
			err := handler.HandleSearch(cmd.Context(), conv, strings.Join(args, " "))
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory to save delivered videos")
	return cmd
}
