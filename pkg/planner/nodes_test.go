package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/taskguide/pkg/flowgraph"
	flowerrors "github.com/randalmurphal/taskguide/pkg/flowgraph/errors"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/llm"
	"github.com/randalmurphal/taskguide/pkg/planner/config"
	"github.com/randalmurphal/taskguide/pkg/planner/profile"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		analysis string
		descs    []string
	}{
		{
			name:     "fenced object",
			text:     videoPlan,
			analysis: "A three-stage video production.",
			descs:    []string{"Write the video script", "Generate the video footage", "Record the narration"},
		},
		{
			name:  "bare array",
			text:  `[{"description": "a"}, {"task": "b"}]`,
			descs: []string{"a", "b"},
		},
		{
			name:  "array after prose",
			text:  "Revised:\n[{\"description\": \"only\", \"category\": \"design\"}]",
			descs: []string{"only"},
		},
		{name: "garbage", text: "I cannot help with that."},
		{name: "empty subtasks", text: `{"analysis": "x", "subtasks": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis, items := parsePlan(tt.text)
			assert.Equal(t, tt.analysis, analysis)
			var descs []string
			for _, it := range items {
				d := it.Description
				if d == "" {
					d = it.Task
				}
				descs = append(descs, d)
			}
			assert.Equal(t, tt.descs, descs)
		})
	}
}

func TestNormalizePlan(t *testing.T) {
	items := []planItem{
		{Description: "  one  ", Category: "design"},
		{Description: ""},
		{Task: "two"},
		{Description: "three"},
		{Description: "four"},
		{Description: "five"},
		{Description: "six"},
	}
	plan := normalizePlan(items, 5, "query")

	require.Len(t, plan, 5, "truncated to the maximum")
	assert.Equal(t, SubTask{ID: "task_1", Description: "one", Category: "design", Status: TaskPending}, plan[0])
	assert.Equal(t, SubTask{ID: "task_2", Description: "two", Category: "general", Status: TaskPending}, plan[1])
	assert.Equal(t, "task_5", plan[4].ID)

	single := normalizePlan([]planItem{{Description: "  "}}, 5, "make a podcast")
	assert.Equal(t, []SubTask{{ID: "task_1", Description: "make a podcast", Category: "general", Status: TaskPending}}, single)

	assert.Len(t, normalizePlan([]planItem{{Description: "just one"}}, 5, "q"), 1, "fewer than the minimum is accepted")
}

func TestCheckPlanSize(t *testing.T) {
	limits := config.PlanSettings{MinSubtasks: 2, MaxSubtasks: 3}
	items := func(descs ...string) []planItem {
		out := make([]planItem, len(descs))
		for i, d := range descs {
			out[i] = planItem{Description: d}
		}
		return out
	}

	tests := []struct {
		name  string
		items []planItem
		want  string
	}{
		{"in range", items("a", "b"), ""},
		{"at maximum", items("a", "b", "c"), ""},
		{"too many", items("a", "b", "c", "d"), "4 sub-tasks, truncated to 3"},
		{"too few", items("a"), "1 sub-tasks, fewer than 2"},
		{"blank entries ignored", items("a", " ", ""), "1 sub-tasks, fewer than 2"},
		{"nothing usable", items(" "), "no usable sub-tasks"},
		{"task field counts", []planItem{{Task: "a"}, {Task: "b"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkPlanSize(tt.items, limits)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			var invalid *flowerrors.ValidationError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, "subtasks", invalid.Field)
			assert.Equal(t, tt.want, invalid.Message)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		client  *llm.MockClient
		complex bool
	}{
		{"simple", llm.NewMockClient(`{"is_complex": false, "reason": "lookup"}`), false},
		{"complex", llm.NewMockClient("```json\n{\"is_complex\": true}\n```"), true},
		{"malformed", llm.NewMockClient("probably simple"), true},
		{"missing field", llm.NewMockClient(`{"reason": "dunno"}`), true},
		{"service error", llm.NewMockClient("").WithError(errors.New("timeout")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := testWorkflow(nil).classify(nodeCtx(tt.client), NewState("t", "u", "q"))
			require.NoError(t, err)
			assert.Equal(t, tt.complex, s.IsComplex)
			assert.Equal(t, NodeClassify, tt.client.LastCall().Purpose)
		})
	}
}

func reviewState() ConversationState {
	s := NewState("t", "u", "make a video")
	s.replacePlan(threeTasks())
	s.completeTask("old recommendation")
	s.completeTask("another")
	return s
}

func TestReview_ModifyResetsLoop(t *testing.T) {
	client := llm.NewMockClient("").WithResponses(
		`{"intent": "modify", "feedback": "drop the narration"}`,
		`[{"description": "script"}, {"description": "footage"}]`,
	)
	s := reviewState()
	s.Feedback = &Feedback{Text: "no narration please"}
	logLen := len(s.Messages)

	out, err := testWorkflow(nil).review(nodeCtx(client), s)
	require.NoError(t, err)

	assert.Len(t, out.Plan, 2)
	assert.NotEqual(t, len(s.Plan), len(out.Plan))
	assert.Equal(t, 0, out.CurrentTaskIndex)
	assert.Empty(t, out.Recommendations)
	assert.True(t, out.PlanApproved)
	assert.Nil(t, out.Feedback)
	assert.Greater(t, len(out.Messages), logLen)
	assert.Equal(t, "no narration please", out.Messages[logLen].Content)

	require.Len(t, client.Calls, 2)
	assert.Equal(t, "interpret", client.Calls[0].Purpose)
	assert.Equal(t, "revise", client.Calls[1].Purpose)
	assert.Contains(t, client.Calls[1].Messages[0].Content, "drop the narration")
}

func TestReview_FailedRevisionKeepsPlan(t *testing.T) {
	client := llm.NewMockClient("I would rather not")
	s := reviewState()
	s.Feedback = &Feedback{Action: ActionModify, Text: "fewer steps"}

	out, err := testWorkflow(nil).review(nodeCtx(client), s)
	require.NoError(t, err)

	assert.Equal(t, s.Plan, out.Plan)
	assert.Equal(t, 2, out.CurrentTaskIndex)
	assert.True(t, out.PlanApproved)
	require.Len(t, client.Calls, 1, "structured modify skips interpretation")
	assert.Equal(t, "revise", client.Calls[0].Purpose)
}

func TestReview_Interpretation(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		cancelled bool
	}{
		{"approve", `{"intent": "approve"}`, false},
		{"cancel", `{"intent": "CANCEL"}`, true},
		{"unknown intent", `{"intent": "maybe"}`, false},
		{"malformed", "sure thing!", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState("t", "u", "q")
			s.replacePlan(threeTasks())
			s.Feedback = &Feedback{Text: "whatever"}

			out, err := testWorkflow(nil).review(nodeCtx(llm.NewMockClient(tt.response)), s)
			require.NoError(t, err)

			assert.Equal(t, tt.cancelled, out.Cancelled())
			if tt.cancelled {
				assert.Empty(t, out.Plan)
				assert.Equal(t, cancelMessage, out.FinalOutput)
				assert.Equal(t, flowgraph.END, routeReview(nil, out))
			} else {
				assert.Len(t, out.Plan, 3)
				assert.True(t, out.PlanApproved)
				assert.Equal(t, NodeRecommend, routeReview(nil, out))
			}
		})
	}
}

func TestReview_NoFeedbackApproves(t *testing.T) {
	client := llm.NewMockClient("unused")
	s := NewState("t", "u", "q")
	s.replacePlan(threeTasks())

	out, err := testWorkflow(nil).review(nodeCtx(client), s)
	require.NoError(t, err)
	assert.True(t, out.PlanApproved)
	assert.Equal(t, 0, client.CallCount())
}

func TestRecommend_BoundForcesFallback(t *testing.T) {
	client := llm.NewMockClient("unused")
	s := NewState("t", "u", "q")
	s.replacePlan(threeTasks())
	s.setTaskStatus(0, TaskInProgress)
	s.ToolCallCount = 3
	s.Candidates = map[string][]ToolCandidate{"task_1": {
		{Name: "Jasper", Similarity: 0.4},
		{Name: "Claude", Similarity: 0.7, Pricing: "freemium", URL: "https://claude.ai"},
	}}

	out, err := testWorkflow(nil).recommend(nodeCtx(client), s)
	require.NoError(t, err)

	assert.Equal(t, 0, client.CallCount())
	assert.Equal(t, 1, out.CurrentTaskIndex)
	assert.Contains(t, out.Recommendations["task_1"], "Recommended tool: Claude")
	assert.Contains(t, out.Recommendations["task_1"], "https://claude.ai")
	assert.Equal(t, 0, out.ToolCallCount)
}

func TestRecommend_TakesFirstToolCall(t *testing.T) {
	client := llm.NewMockClient("").WithScript(&llm.CompletionResponse{ToolCalls: []llm.ToolCall{
		{Name: "calculator", Arguments: `{"expression": "1+1"}`},
		{Name: "get_current_time"},
	}})
	s := NewState("t", "u", "q")
	s.replacePlan(threeTasks())

	out, err := testWorkflow(nil).recommend(nodeCtx(client), s)
	require.NoError(t, err)

	require.NotNil(t, out.PendingToolCall)
	assert.Equal(t, "calculator", out.PendingToolCall.Name)
	assert.NotEmpty(t, out.PendingToolCall.ID, "missing ids are generated")
	assert.Equal(t, 1, out.ToolCallCount)
	assert.Equal(t, TaskInProgress, out.Plan[0].Status)
	assert.Equal(t, NodeTools, routeRecommend(nil, out))

	last := out.Messages[len(out.Messages)-1]
	assert.Equal(t, llm.RoleAssistant, last.Role)
	assert.Len(t, last.ToolCalls, 1)
}

func TestRunTool_FailureIsObservation(t *testing.T) {
	s := NewState("t", "u", "q")
	s.IsComplex = true
	s.PendingToolCall = &llm.ToolCall{ID: "c1", Name: "calculator", Arguments: `{"expression": "1/0"}`}

	w := testWorkflow(nil)
	out, err := w.runTool(nodeCtx(llm.NewMockClient("")), s)
	require.NoError(t, err)

	assert.Nil(t, out.PendingToolCall)
	last := out.Messages[len(out.Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Contains(t, last.Content, "Error:")
	assert.Equal(t, NodeRecommend, routeTools(nil, out))

	out.IsComplex = false
	assert.Equal(t, NodeSimple, routeTools(nil, out))
}

func TestEvaluate_NoCandidatesContinues(t *testing.T) {
	s := NewState("t", "u", "q")
	s.replacePlan(threeTasks())

	out, err := testWorkflow(nil).evaluate(nodeCtx(nil), s)
	require.NoError(t, err)
	assert.Empty(t, out.Evaluations)
	assert.False(t, out.Replanning)
	assert.Equal(t, NodeSynthesize, routeEvaluate(nil, out))
}

func TestReflect_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := profile.NewMemoryStore()
	require.NoError(t, store.Put(ctx, profile.Profile{UserID: "u", SkillLevel: "advanced"}))

	w := testWorkflow(nil)
	w.profiles = store
	client := llm.NewMockClient(`{"preferred_categories": ["design", "design"], "price_preference": "free", "interests": ["logos"], "skill_level": "", "notes": ""}`)

	s := NewState("t", "u", "q")
	p, err := store.Get(ctx, "u")
	require.NoError(t, err)
	s.Profile = &p

	once, err := w.reflect(nodeCtx(client), s)
	require.NoError(t, err)
	twice, err := w.reflect(nodeCtx(client), once)
	require.NoError(t, err)

	assert.Equal(t, once.Profile, twice.Profile)
	assert.Equal(t, []string{"design"}, twice.Profile.PreferredCategories)
	assert.Equal(t, "advanced", twice.Profile.SkillLevel, "empty scalars do not overwrite")

	stored, err := store.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, *twice.Profile, stored)
}

func TestReflect_ErrorsAreSwallowed(t *testing.T) {
	w := testWorkflow(nil)
	w.profiles = profile.NewMemoryStore()
	s := NewState("t", "u", "q")

	out, err := w.reflect(nodeCtx(llm.NewMockClient("").WithError(errors.New("down"))), s)
	require.NoError(t, err)
	assert.Nil(t, out.Profile)
}

func TestSynthesize_SetOnce(t *testing.T) {
	client := llm.NewMockClient("new guide")
	s := NewState("t", "u", "q")
	s.FinalOutput = "existing"

	out, err := testWorkflow(nil).synthesize(nodeCtx(client), s)
	require.NoError(t, err)
	assert.Equal(t, "existing", out.FinalOutput)
	assert.Equal(t, 0, client.CallCount())
}

func TestRenderGuide(t *testing.T) {
	s := NewState("t", "u", "launch a podcast")
	s.Analysis = "Two steps."
	s.replacePlan(threeTasks()[:2])
	s.completeTask("Use Claude for scripts.")
	s.CurrentTaskIndex = 2

	guide := RenderGuide(s)
	assert.Contains(t, guide, "# Workflow guide: launch a podcast")
	assert.Contains(t, guide, "## Step 1: script\nUse Claude for scripts.")
	assert.Contains(t, guide, "## Step 2: footage\nNo recommendation was produced for this step.")
}

func TestBuildGraph(t *testing.T) {
	g, err := buildGraph(testWorkflow(nil))
	require.NoError(t, err)
	assert.Equal(t, NodeClassify, g.EntryPoint())
	assert.Equal(t, []string{NodeReview}, g.Interrupts())
	assert.ElementsMatch(t, []string{
		NodeClassify, NodePlan, NodeReview, NodeRecommend, NodeTools,
		NodeEvaluate, NodeSynthesize, NodeReflect, NodeSimple,
	}, g.NodeIDs())
}
