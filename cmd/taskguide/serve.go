package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/taskguide/pkg/planner/api"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		addr  string
		debug bool
		noWeb bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = opts.settings.HTTPAddr
			}
			if !debug {
				gin.SetMode(gin.ReleaseMode)
			}

			a, err := newApp(ctx, opts.settings, opts.logger, appOptions{metrics: true, web: !noWeb})
			if err != nil {
				return err
			}
			defer a.Close()

			srv := api.New(a.engine,
				api.WithLogger(opts.logger),
				api.WithInventory(a.kb),
				api.WithProfileCounter(a.profiles),
				api.WithMetricsHandler(a.prometheus.Handler()),
			)
			if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: settings http_addr)")
	cmd.Flags().BoolVar(&debug, "debug", false, "gin debug mode")
	cmd.Flags().BoolVar(&noWeb, "no-web", false, "disable the web search fallback")
	return cmd
}
