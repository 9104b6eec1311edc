// Package mcptools exposes the planner Engine as MCP tools.
//
// Each tool is a small struct holding the Engine, with a Definition for
// registration and a Handle matching mcp-go's handler signature. Engine
// failures come back as tool-level errors so the calling model can read
// them; only a broken request fails the call itself.
package mcptools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/randalmurphal/taskguide/pkg/planner"
)

// Tool names.
const (
	StartConversationTool = "start_conversation"
	SubmitFeedbackTool    = "submit_feedback"
	GetStatusTool         = "get_status"
	DeleteSessionTool     = "delete_session"
	ListSessionsTool      = "list_sessions"
)

// Conversations is the part of planner.Engine the tools drive.
type Conversations interface {
	StartConversation(ctx context.Context, query, userID, threadID string) (planner.Reply, error)
	SubmitFeedback(ctx context.Context, threadID string, fb planner.Feedback) (planner.Reply, error)
	GetStatus(ctx context.Context, threadID string) (planner.SessionStatus, error)
	DeleteSession(ctx context.Context, threadID string) error
	ListSessions(ctx context.Context, userID string) ([]planner.SessionInfo, error)
}

// NewServer builds an MCP server with every planner tool registered.
func NewServer(conv Conversations, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"taskguide",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	start := NewStartTool(conv)
	s.AddTool(start.Definition(), start.Handle)

	feedback := NewFeedbackTool(conv)
	s.AddTool(feedback.Definition(), feedback.Handle)

	status := NewStatusTool(conv)
	s.AddTool(status.Definition(), status.Handle)

	del := NewDeleteTool(conv)
	s.AddTool(del.Definition(), del.Handle)

	list := NewListTool(conv)
	s.AddTool(list.Definition(), list.Handle)

	return s
}

const instructions = `taskguide recommends AI tools for a goal.

Call start_conversation with the user's request. Quick questions are answered
at once. Larger goals come back as a plan with status pending_approval: show
the plan to the user and pass their answer to submit_feedback (action approve,
modify with feedback text, or cancel, or just their words as feedback).`

// StartTool handles start_conversation.
type StartTool struct {
	conv Conversations
}

// NewStartTool creates a StartTool.
func NewStartTool(conv Conversations) *StartTool {
	return &StartTool{conv: conv}
}

// Definition returns the MCP tool definition.
func (t *StartTool) Definition() mcp.Tool {
	return mcp.NewTool(StartConversationTool,
		mcp.WithDescription("Start a conversation. Simple questions are answered directly; "+
			"project goals return a step-by-step plan that waits for approval."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What the user wants to do or know."),
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Stable user identifier; preferences are remembered per user."),
		),
		mcp.WithString("thread_id",
			mcp.Description("Optional conversation id. Generated when omitted."),
		),
	)
}

// Handle runs start_conversation.
func (t *StartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reply, err := t.conv.StartConversation(ctx,
		req.GetString("query", ""),
		req.GetString("user_id", ""),
		req.GetString("thread_id", ""),
	)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(RenderReply(reply)), nil
}

// FeedbackTool handles submit_feedback.
type FeedbackTool struct {
	conv Conversations
}

// NewFeedbackTool creates a FeedbackTool.
func NewFeedbackTool(conv Conversations) *FeedbackTool {
	return &FeedbackTool{conv: conv}
}

// Definition returns the MCP tool definition.
func (t *FeedbackTool) Definition() mcp.Tool {
	return mcp.NewTool(SubmitFeedbackTool,
		mcp.WithDescription("Answer a plan that is pending approval and continue the conversation."),
		mcp.WithString("thread_id",
			mcp.Required(),
			mcp.Description("The conversation id returned by start_conversation."),
		),
		mcp.WithString("action",
			mcp.Description("Structured answer. Omit to have the feedback text interpreted."),
			mcp.Enum(string(planner.ActionApprove), string(planner.ActionModify), string(planner.ActionCancel)),
		),
		mcp.WithString("feedback",
			mcp.Description("The user's words, or the requested change for modify."),
		),
	)
}

// Handle runs submit_feedback.
func (t *FeedbackTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID := req.GetString("thread_id", "")
	if threadID == "" {
		return mcp.NewToolResultError("thread_id is required"), nil
	}
	fb := planner.Feedback{
		Action: planner.Action(strings.ToLower(strings.TrimSpace(req.GetString("action", "")))),
		Text:   req.GetString("feedback", ""),
	}
	reply, err := t.conv.SubmitFeedback(ctx, threadID, fb)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(RenderReply(reply)), nil
}

// StatusTool handles get_status.
type StatusTool struct {
	conv Conversations
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(conv Conversations) *StatusTool {
	return &StatusTool{conv: conv}
}

// Definition returns the MCP tool definition.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool(GetStatusTool,
		mcp.WithDescription("Show where a conversation stands without advancing it."),
		mcp.WithString("thread_id",
			mcp.Required(),
			mcp.Description("The conversation id."),
		),
	)
}

// Handle runs get_status.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := t.conv.GetStatus(ctx, req.GetString("thread_id", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(RenderStatus(st)), nil
}

// DeleteTool handles delete_session.
type DeleteTool struct {
	conv Conversations
}

// NewDeleteTool creates a DeleteTool.
func NewDeleteTool(conv Conversations) *DeleteTool {
	return &DeleteTool{conv: conv}
}

// Definition returns the MCP tool definition.
func (t *DeleteTool) Definition() mcp.Tool {
	return mcp.NewTool(DeleteSessionTool,
		mcp.WithDescription("Forget a conversation."),
		mcp.WithString("thread_id",
			mcp.Required(),
			mcp.Description("The conversation id."),
		),
	)
}

// Handle runs delete_session.
func (t *DeleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID := req.GetString("thread_id", "")
	if err := t.conv.DeleteSession(ctx, threadID); err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Conversation `%s` deleted.", threadID)), nil
}

// ListTool handles list_sessions.
type ListTool struct {
	conv Conversations
}

func NewListTool(conv Conversations) *ListTool {
	return &ListTool{conv: conv}
}

func (t *ListTool) Definition() mcp.Tool {
	return mcp.NewTool(ListSessionsTool,
		mcp.WithDescription("List stored conversations, most recent first, to find one to resume."),
		mcp.WithString("user_id",
			mcp.Description("Only list this user's conversations."),
		),
	)
}

// Handle runs list_sessions.
func (t *ListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := t.conv.ListSessions(ctx, strings.TrimSpace(req.GetString("user_id", "")))
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(RenderSessions(list)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, planner.ErrSessionNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("%v. Start a new conversation with %s.", err, StartConversationTool))
	}
	return mcp.NewToolResultError(err.Error())
}
