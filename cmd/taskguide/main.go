// Command taskguide runs the task-planning agent.
//
// Usage:
//
//	taskguide serve              # HTTP API on settings.http_addr
//	taskguide mcp                # MCP server on stdio
//	taskguide chat --user me     # interactive terminal session
//	taskguide ingest --catalog data/tools.json --guides data/guides
//
// Settings come from --config (YAML or JSON), then TASKGUIDE_* environment
// variables. A .env file in the working directory is loaded first.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/taskguide/pkg/planner/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

type rootOptions struct {
	configPath string
	envFile    string
	settings   config.Settings
	logger     *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "taskguide",
		Short:         "Plan AI-assisted projects and recommend the tools for each step",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "settings file (.yaml, .yml or .json)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		newServeCommand(opts),
		newMCPCommand(opts),
		newChatCommand(opts),
		newIngestCommand(opts),
	)
	return root
}

// load reads the dotenv file, the settings, and builds the logger. Logs
// go to w so the MCP stdio transport keeps stdout to itself.
func (o *rootOptions) load(w io.Writer) error {
	if err := godotenv.Load(o.envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", o.envFile, err)
	}

	settings, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	o.settings = settings
	o.logger = newLogger(w, settings)
	slog.SetDefault(o.logger)
	return nil
}

func newLogger(w io.Writer, s config.Settings) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: s.SlogLevel()}
	if s.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
