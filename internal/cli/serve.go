package cli

import (
	"github.com/spf13/cobra"

	httptransport "video-search-bot/internal/transport/http"
)

func newServeCmd(c *CLI) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP download API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = c.App.Config().Server.Addr
			}

			c.Config.OnConfigChange(c.App.ApplyConfig)
			if err := c.Config.Watch(c.Log); err != nil {
				c.Log.Warn().Err(err).Msg("config watch disabled")
			}

			router := httptransport.NewRouter(c.App, c.Log)
			return httptransport.Serve(cmd.Context(), addr, router, c.Log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
