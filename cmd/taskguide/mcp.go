package main

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/taskguide/pkg/planner/mcptools"
)

func newMCPCommand(opts *rootOptions) *cobra.Command {
	var noWeb bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the planner as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts.settings, opts.logger, appOptions{web: !noWeb})
			if err != nil {
				return err
			}
			defer a.Close()

			opts.logger.Info("mcp server starting on stdio")
			return server.ServeStdio(mcptools.NewServer(a.engine, Version))
		},
	}
	cmd.Flags().BoolVar(&noWeb, "no-web", false, "disable the web search fallback")
	return cmd
}
