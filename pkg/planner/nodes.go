package planner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/taskguide/pkg/flowgraph"
	flowerrors "github.com/randalmurphal/taskguide/pkg/flowgraph/errors"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/llm"
	"github.com/randalmurphal/taskguide/pkg/planner/config"
	"github.com/randalmurphal/taskguide/pkg/planner/profile"
	"github.com/randalmurphal/taskguide/pkg/planner/retrieval"
	"github.com/randalmurphal/taskguide/pkg/planner/tools"
)

// Node IDs.
const (
	NodeClassify   = "classify"
	NodePlan       = "plan"
	NodeReview     = "review"
	NodeRecommend  = "recommend"
	NodeTools      = "tools"
	NodeEvaluate   = "evaluate"
	NodeSynthesize = "synthesize"
	NodeReflect    = "reflect"
	NodeSimple     = "simple"
)

var errNoLLM = errors.New("no reasoning service configured")

// workflow holds the collaborators the nodes share. The reasoning service
// comes from the execution context.
type workflow struct {
	settings  config.Settings
	tools     *tools.Registry
	retrieval *retrieval.Service
	profiles  profile.Store
}

func userMessage(content string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: content}}
}

func (w *workflow) complete(ctx flowgraph.Context, purpose, system string, msgs []llm.Message, defs []llm.Tool) (*llm.CompletionResponse, error) {
	client := ctx.LLM()
	if client == nil {
		return nil, errNoLLM
	}
	start := time.Now()
	resp, err := client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     msgs,
		Tools:        defs,
		Purpose:      purpose,
	})
	ctx.Metrics().RecordLLMCall(ctx, purpose, time.Since(start), err)
	if err != nil {
		if cause := ctx.Err(); cause != nil {
			return nil, cause
		}
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%s: empty response", purpose)
	}
	return resp, nil
}

func (w *workflow) completeJSON(ctx flowgraph.Context, purpose, system, prompt string, v any) error {
	resp, err := w.complete(ctx, purpose, system, userMessage(prompt), nil)
	if err != nil {
		return err
	}
	return llm.DecodeJSON(resp.Content, v)
}

// classify decides between the simple and the planned path. Anything but
// a well-formed answer selects the planned path.
func (w *workflow) classify(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
	var out struct {
		IsComplex *bool  `json:"is_complex"`
		Reason    string `json:"reason"`
	}
	err := w.completeJSON(ctx, NodeClassify, classifySystemPrompt, classifyPrompt(s), &out)
	if err == nil && out.IsComplex == nil {
		err = errors.New("is_complex missing")
	}
	if err != nil {
		ctx.Logger().Warn("classification failed, using planned path", "error", err)
		s.IsComplex = true
		s.ClassifyReason = "classification unavailable"
		return s, nil
	}
	s.IsComplex = *out.IsComplex
	s.ClassifyReason = out.Reason
	ctx.Logger().Info("query classified", "is_complex", s.IsComplex, "reason", out.Reason)
	return s, nil
}

type planItem struct {
	Description string `json:"description"`
	Task        string `json:"task"`
	Category    string `json:"category"`
}

// parsePlan accepts {"analysis", "subtasks": [...]} or a bare array.
func parsePlan(text string) (string, []planItem) {
	var obj struct {
		Analysis string     `json:"analysis"`
		Subtasks []planItem `json:"subtasks"`
	}
	if err := llm.DecodeJSON(text, &obj); err == nil && len(obj.Subtasks) > 0 {
		return obj.Analysis, obj.Subtasks
	}
	var arr []planItem
	if err := llm.DecodeJSON(text, &arr); err == nil {
		return "", arr
	}
	return "", nil
}

// checkPlanSize reports a *flowerrors.ValidationError when the number of
// usable entries is outside the configured range. Callers still use the
// normalized plan; the error only describes what normalization changed.
func checkPlanSize(items []planItem, p config.PlanSettings) error {
	n := 0
	for _, it := range items {
		if strings.TrimSpace(it.Description) != "" || strings.TrimSpace(it.Task) != "" {
			n++
		}
	}
	switch {
	case n == 0:
		return &flowerrors.ValidationError{Field: "subtasks", Message: "no usable sub-tasks"}
	case p.MaxSubtasks > 0 && n > p.MaxSubtasks:
		return &flowerrors.ValidationError{Field: "subtasks",
			Message: fmt.Sprintf("%d sub-tasks, truncated to %d", n, p.MaxSubtasks)}
	case n < p.MinSubtasks:
		return &flowerrors.ValidationError{Field: "subtasks",
			Message: fmt.Sprintf("%d sub-tasks, fewer than %d", n, p.MinSubtasks)}
	}
	return nil
}

// normalizePlan drops empty entries, truncates to limit and numbers the
// sub-tasks. An empty result falls back to the query as a single task.
func normalizePlan(items []planItem, limit int, query string) []SubTask {
	var plan []SubTask
	for _, it := range items {
		desc := strings.TrimSpace(it.Description)
		if desc == "" {
			desc = strings.TrimSpace(it.Task)
		}
		if desc == "" {
			continue
		}
		if limit > 0 && len(plan) == limit {
			break
		}
		cat := strings.TrimSpace(it.Category)
		if cat == "" {
			cat = "general"
		}
		plan = append(plan, SubTask{Description: desc, Category: cat})
	}
	if len(plan) == 0 {
		plan = []SubTask{{Description: query, Category: "general"}}
	}
	for i := range plan {
		plan[i].ID = fmt.Sprintf("task_%d", i+1)
		plan[i].Status = TaskPending
	}
	return plan
}

func (w *workflow) plan(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
	system := fmt.Sprintf(planSystemPrompt, w.settings.Plan.MinSubtasks, w.settings.Plan.MaxSubtasks)
	var analysis string
	var items []planItem
	resp, err := w.complete(ctx, NodePlan, system, userMessage(planPrompt(s)), nil)
	if err != nil {
		ctx.Logger().Warn("planning failed, wrapping query as one task", "error", err)
	} else {
		analysis, items = parsePlan(resp.Content)
		if err := checkPlanSize(items, w.settings.Plan); err != nil {
			ctx.Logger().Warn("plan outside size range", "error", err)
		}
	}

	s.replacePlan(normalizePlan(items, w.settings.Plan.MaxSubtasks, s.Query))
	s.Analysis = analysis
	s.PlanApproved = false
	s.Replanning = false
	s.appendMessages(llm.Message{Role: llm.RoleAssistant, Content: ReviewMessage(s.Plan)})

	ctx.Logger().Info("plan created", "subtasks", len(s.Plan), "retry_count", s.RetryCount)
	return s, nil
}

// review applies the human's response to the plan. It runs only after a
// resume, with the response in s.Feedback.
func (w *workflow) review(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
	fb := Feedback{Action: ActionApprove}
	if s.Feedback != nil {
		fb = *s.Feedback
	}
	s.Feedback = nil

	if text := strings.TrimSpace(fb.Text); text != "" {
		s.appendMessages(llm.Message{Role: llm.RoleUser, Content: text})
	}

	action, detail := fb.Action, strings.TrimSpace(fb.Text)
	if !action.Valid() {
		action, detail = w.interpret(ctx, s, detail)
	}
	if action == ActionModify && detail == "" {
		detail = strings.TrimSpace(fb.Text)
	}

	switch action {
	case ActionCancel:
		s.replacePlan(nil)
		s.Error = ErrUserCancelled
		s.FinalOutput = cancelMessage
		s.appendMessages(llm.Message{Role: llm.RoleAssistant, Content: cancelMessage})
	case ActionModify:
		if detail != "" {
			if revised, ok := w.revise(ctx, s, detail); ok {
				s.replacePlan(revised)
				s.appendMessages(llm.Message{Role: llm.RoleAssistant, Content: "Revised plan:\n" + planSummary(s.Plan)})
			}
		}
		s.PlanApproved = true
	default:
		s.PlanApproved = true
	}

	ctx.Logger().Info("plan reviewed", "action", action, "subtasks", len(s.Plan))
	return s, nil
}

// interpret classifies a free-text review response. Anything unusable is
// an approval.
func (w *workflow) interpret(ctx flowgraph.Context, s ConversationState, reply string) (Action, string) {
	if reply == "" {
		return ActionApprove, ""
	}
	var out struct {
		Intent   string `json:"intent"`
		Feedback string `json:"feedback"`
	}
	if err := w.completeJSON(ctx, "interpret", interpretSystemPrompt, interpretPrompt(s, reply), &out); err != nil {
		ctx.Logger().Warn("feedback interpretation failed, approving", "error", err)
		return ActionApprove, ""
	}
	action := Action(strings.ToLower(strings.TrimSpace(out.Intent)))
	if !action.Valid() {
		ctx.Logger().Warn("unknown feedback intent, approving", "intent", out.Intent)
		return ActionApprove, ""
	}
	return action, strings.TrimSpace(out.Feedback)
}

// revise asks for a new plan. ok is false when no usable plan came back,
// in which case the current plan stands.
func (w *workflow) revise(ctx flowgraph.Context, s ConversationState, feedback string) ([]SubTask, bool) {
	system := fmt.Sprintf(reviseSystemPrompt, w.settings.Plan.MinSubtasks, w.settings.Plan.MaxSubtasks)
	resp, err := w.complete(ctx, "revise", system, userMessage(revisePrompt(s, feedback)), nil)
	if err != nil {
		ctx.Logger().Warn("plan revision failed, keeping plan", "error", err)
		return nil, false
	}
	_, items := parsePlan(resp.Content)
	if len(items) == 0 {
		ctx.Logger().Warn("plan revision unparseable, keeping plan")
		return nil, false
	}
	if err := checkPlanSize(items, w.settings.Plan); err != nil {
		ctx.Logger().Warn("revised plan outside size range", "error", err)
	}
	return normalizePlan(items, w.settings.Plan.MaxSubtasks, s.Query), true
}

// recommend runs one reasoning turn for the active sub-task.
func (w *workflow) recommend(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
	task, ok := s.CurrentTask()
	if !ok {
		return s, nil
	}
	if task.Status == TaskPending {
		s.setTaskStatus(s.CurrentTaskIndex, TaskInProgress)
		s.startTurn(llm.Message{Role: llm.RoleUser, Content: recommendPrompt(s, task, w.settings.EvidenceWindow)})
	}

	if s.ToolCallCount >= w.settings.MaxCallsPerTask {
		ctx.Logger().Warn("tool call bound reached", "task_id", task.ID, "tool_calls", s.ToolCallCount)
		return w.fallback(s, task), nil
	}

	resp, err := w.complete(ctx, NodeRecommend, recommendSystemPrompt, s.turn(), w.tools.Definitions())
	if err != nil {
		ctx.Logger().Warn("recommendation failed", "task_id", task.ID, "error", err)
		return w.fallback(s, task), nil
	}

	if resp.HasToolCalls() {
		call := resp.ToolCalls[0]
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		s.appendMessages(llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: []llm.ToolCall{call}})
		s.PendingToolCall = &call
		s.ToolCallCount++
		ctx.Logger().Debug("tool requested", "task_id", task.ID, "tool", call.Name, "tool_calls", s.ToolCallCount)
		return s, nil
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return w.fallback(s, task), nil
	}
	s.appendMessages(llm.Message{Role: llm.RoleAssistant, Content: content})
	s.completeTask(content)
	ctx.Logger().Info("sub-task completed", "task_id", task.ID, "index", s.CurrentTaskIndex)
	return s, nil
}

func (w *workflow) fallback(s ConversationState, task SubTask) ConversationState {
	msg := fallbackRecommendation(task, s.Candidates[task.ID], s.ToolCallCount)
	s.appendMessages(llm.Message{Role: llm.RoleAssistant, Content: msg})
	s.completeTask(msg)
	return s
}

// runTool executes the pending tool call. Failures become observations.
func (w *workflow) runTool(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
	if s.PendingToolCall == nil {
		return s, nil
	}
	call := *s.PendingToolCall
	s.PendingToolCall = nil

	res, err := w.tools.Execute(tools.WithUserID(ctx, s.UserID), call)
	obs := res.Observation
	if err != nil {
		obs = fmt.Sprintf("Error: %v. Continue without this tool.", err)
	}
	s.appendMessages(llm.Message{Role: llm.RoleTool, Content: obs, ToolCallID: call.ID, Name: call.Name})

	if len(res.Evidence) > 0 {
		s.appendEvidence(res.Evidence...)
		if s.IsComplex {
			s.addCandidates(res.Evidence)
		}
	}
	return s, nil
}

// evaluate scores every sub-task's candidates and applies the retry policy.
func (w *workflow) evaluate(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
	var evals []TaskEvaluation
	scored := make(map[string][]ToolCandidate, len(s.Candidates))
	for _, t := range s.Plan {
		cands := s.Candidates[t.ID]
		if len(cands) == 0 {
			continue
		}
		top := ScoreCandidates(cands, w.settings.Scoring)
		scored[t.ID] = top
		evals = append(evals, TaskEvaluation{
			TaskID:      t.ID,
			Description: t.Description,
			TopTool:     top[0].Name,
			TopScore:    top[0].FinalScore,
		})
	}
	if len(scored) > 0 {
		s.Candidates = scored
	}
	s.Evaluations = evals

	decision := DecideRetry(evals, w.settings.Retry, s.RetryCount)
	ctx.Logger().Info("candidates evaluated",
		"scored_tasks", len(evals),
		"decision", decision,
		"retry_count", s.RetryCount,
	)
	if decision == DecisionRetry {
		s.RetryCount++
		s.Replanning = true
	}
	return s, nil
}

// synthesize writes the final guide once. A failed call falls back to a
// guide assembled from the recommendations.
func (w *workflow) synthesize(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
	if s.FinalOutput != "" {
		return s, nil
	}
	var out string
	resp, err := w.complete(ctx, NodeSynthesize, synthesizeSystemPrompt, userMessage(synthesizePrompt(s, w.settings.GuideEvidence)), nil)
	if err != nil {
		ctx.Logger().Warn("synthesis failed, rendering guide locally", "error", err)
	} else {
		out = strings.TrimSpace(resp.Content)
	}
	if out == "" {
		out = RenderGuide(s)
	}
	s.FinalOutput = out
	s.Candidates = nil
	s.appendMessages(llm.Message{Role: llm.RoleAssistant, Content: out})
	return s, nil
}

// reflect folds the conversation's preferences into the stored profile.
// Failures are logged and never stop the conversation.
func (w *workflow) reflect(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
	if w.profiles == nil || s.UserID == "" {
		return s, nil
	}
	var delta profile.Delta
	if err := w.completeJSON(ctx, NodeReflect, reflectSystemPrompt, reflectPrompt(s), &delta); err != nil {
		ctx.Logger().Warn("preference extraction failed", "error", err)
		return s, nil
	}

	base := profile.Profile{UserID: s.UserID}
	if s.Profile != nil {
		base = *s.Profile
	}
	merged := profile.Merge(base, delta)
	merged.UserID = s.UserID
	if err := w.profiles.Put(ctx, merged); err != nil {
		ctx.Logger().Warn("profile write failed", "error", err)
		return s, nil
	}
	s.Profile = &merged
	ctx.Logger().Info("profile updated", "user_id", s.UserID)
	return s, nil
}

// simple answers a non-complex query: one narrow retrieval, then a short
// tool loop under the same call bound.
func (w *workflow) simple(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
	if !s.SimpleRetrieved {
		s.SimpleRetrieved = true
		if w.retrieval != nil {
			resp, err := w.retrieval.Search(ctx, retrieval.Query{
				Text:      s.Query,
				K:         w.settings.Retrieval.SimpleK,
				Threshold: w.settings.Retrieval.SimpleThreshold,
			})
			if err != nil {
				ctx.Logger().Warn("simple retrieval failed", "error", err)
			} else {
				s.appendEvidence(resp.Results...)
			}
		}
		s.startTurn(llm.Message{Role: llm.RoleUser, Content: answerPrompt(s, w.settings.DirectAnswerEvidence)})
	}

	defs := w.tools.Definitions()
	if s.ToolCallCount >= w.settings.MaxCallsPerTask {
		defs = nil
	}

	resp, err := w.complete(ctx, "answer", answerSystemPrompt, s.turn(), defs)
	if err != nil {
		ctx.Logger().Warn("direct answer failed", "error", err)
		return w.finishSimple(s, fallbackAnswer(s, w.settings.DirectAnswerEvidence)), nil
	}
	if resp.HasToolCalls() && defs != nil {
		call := resp.ToolCalls[0]
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		s.appendMessages(llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: []llm.ToolCall{call}})
		s.PendingToolCall = &call
		s.ToolCallCount++
		return s, nil
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		answer = fallbackAnswer(s, w.settings.DirectAnswerEvidence)
	}
	return w.finishSimple(s, answer), nil
}

func (w *workflow) finishSimple(s ConversationState, answer string) ConversationState {
	s.PendingToolCall = nil
	s.FinalOutput = answer
	s.appendMessages(llm.Message{Role: llm.RoleAssistant, Content: answer})
	return s
}
