package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/taskguide/pkg/planner"
	"github.com/randalmurphal/taskguide/pkg/planner/mcptools"
)

type conversations interface {
	StartConversation(ctx context.Context, query, userID, threadID string) (planner.Reply, error)
	SubmitFeedback(ctx context.Context, threadID string, fb planner.Feedback) (planner.Reply, error)
}

func newChatCommand(opts *rootOptions) *cobra.Command {
	var (
		userID string
		noWeb  bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the planner in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts.settings, opts.logger, appOptions{web: !noWeb})
			if err != nil {
				return err
			}
			defer a.Close()
			return runChat(cmd.Context(), a.engine, userID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "local", "user id for remembered preferences")
	cmd.Flags().BoolVar(&noWeb, "no-web", false, "disable the web search fallback")
	return cmd
}

// runChat reads requests line by line. While a plan is pending, each line
// is passed back as review feedback. An empty line or "exit" quits.
func runChat(ctx context.Context, conv conversations, userID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	read := func(prompt string) (string, bool) {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			return "", false
		}
		line := strings.TrimSpace(scanner.Text())
		return line, line != "" && line != "exit"
	}

	for {
		query, ok := read("\nWhat do you want to do? ")
		if !ok {
			return scanner.Err()
		}
		reply, err := conv.StartConversation(ctx, query, userID, "")
		if err != nil {
			return err
		}

		for reply.Status == planner.StatusPendingApproval {
			fmt.Fprintln(out, mcptools.RenderReply(reply))
			answer, ok := read("> ")
			if !ok {
				return scanner.Err()
			}
			if reply, err = conv.SubmitFeedback(ctx, reply.ThreadID, planner.Feedback{Text: answer}); err != nil {
				return err
			}
		}
		fmt.Fprintln(out, mcptools.RenderReply(reply))
	}
}
