package mcptools

import (
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/taskguide/pkg/planner"
)

// RenderReply formats an Engine reply as markdown.
func RenderReply(r planner.Reply) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Thread:** `%s`\n**Status:** %s\n", r.ThreadID, r.Status)

	if r.Analysis != "" {
		fmt.Fprintf(&b, "\n**Analysis:** %s\n", r.Analysis)
	}
	if len(r.Plan) > 0 {
		b.WriteString("\n## Plan\n\n")
		for i, task := range r.Plan {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, task.Description, task.Category)
		}
	}
	if r.Message != "" && r.Message != r.FinalOutput {
		fmt.Fprintf(&b, "\n%s\n", r.Message)
	}
	if r.FinalOutput != "" {
		fmt.Fprintf(&b, "\n%s\n", r.FinalOutput)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "\n**Error:** %s\n", r.Error)
	}
	return b.String()
}

// RenderStatus formats a session summary as markdown.
func RenderStatus(s planner.SessionStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Thread:** `%s`\n**Status:** %s\n\n", s.ThreadID, s.Status)
	b.WriteString("| Field | Value |\n|-------|-------|\n")
	fmt.Fprintf(&b, "| complex | %t |\n", s.IsComplex)
	fmt.Fprintf(&b, "| plan approved | %t |\n", s.PlanApproved)
	fmt.Fprintf(&b, "| sub-tasks | %d |\n", s.PlanCount)
	fmt.Fprintf(&b, "| current sub-task | %d |\n", s.CurrentTaskIndex)
	fmt.Fprintf(&b, "| replans | %d |\n", s.RetryCount)
	fmt.Fprintf(&b, "| guide ready | %t |\n", s.HasFinalOutput)
	return b.String()
}

// RenderSessions formats a session list as a markdown table.
func RenderSessions(list []planner.SessionInfo) string {
	if len(list) == 0 {
		return "No stored conversations."
	}
	var b strings.Builder
	b.WriteString("| Thread | User | Status | Updated | Request |\n|--------|------|--------|---------|---------|\n")
	for _, s := range list {
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s |\n",
			s.ThreadID, s.UserID, s.Status, s.UpdatedAt.UTC().Format(time.RFC3339), strings.ReplaceAll(s.Query, "|", "\\|"))
	}
	return b.String()
}
