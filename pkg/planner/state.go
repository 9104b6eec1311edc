package planner

import (
	"slices"
	"strings"

	"github.com/randalmurphal/taskguide/pkg/flowgraph/llm"
	"github.com/randalmurphal/taskguide/pkg/planner/profile"
	"github.com/randalmurphal/taskguide/pkg/planner/retrieval"
)

// TaskStatus is the lifecycle of a SubTask.
type TaskStatus string

// Sub-task statuses.
const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// ErrUserCancelled is the state error recorded when the user cancels at
// plan review. It is a terminal state, not a failure.
const ErrUserCancelled = "user_cancelled"

// SubTask is one decomposed unit of the user's goal.
type SubTask struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Status      TaskStatus `json:"status"`
}

// ToolCandidate is a tool found for a sub-task. Similarity comes from
// retrieval; the remaining scores are filled in by evaluation.
type ToolCandidate struct {
	Name          string  `json:"name"`
	Category      string  `json:"category,omitempty"`
	Pricing       string  `json:"pricing,omitempty"`
	URL           string  `json:"url,omitempty"`
	Rating        float64 `json:"rating,omitempty"`
	Similarity    float64 `json:"similarity_score"`
	Reputation    float64 `json:"reputation_score,omitempty"`
	Accessibility float64 `json:"accessibility_score,omitempty"`
	FinalScore    float64 `json:"final_score,omitempty"`
}

// TaskEvaluation is the evaluated outcome of one sub-task.
type TaskEvaluation struct {
	TaskID      string  `json:"task_id"`
	Description string  `json:"description"`
	TopTool     string  `json:"top_tool"`
	TopScore    float64 `json:"top_score"`
}

// Action is a structured plan-review response.
type Action string

// Review actions.
const (
	ActionApprove Action = "approve"
	ActionModify  Action = "modify"
	ActionCancel  Action = "cancel"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionApprove || a == ActionModify || a == ActionCancel
}

// Feedback is the human input injected at plan review. A valid Action
// bypasses interpretation; otherwise Text is interpreted.
type Feedback struct {
	Action Action `json:"action,omitempty"`
	Text   string `json:"text,omitempty"`
}

// ConversationState is threaded through every step and checkpointed after
// each one. Fields are only changed through the reducer methods below:
//
//   - Messages: append-only.
//   - Plan: replaced wholesale by replacePlan, emptied on cancel.
//   - CurrentTaskIndex: advanced by completeTask, reset by replacePlan.
//   - ToolCallCount: incremented per requested tool call, reset per sub-task.
//   - RetryCount: incremented by each low-score replan.
//   - Recommendations: grows as sub-tasks complete, cleared by replacePlan.
//   - Evidence: append-only.
//   - Profile: set at start, replaced by reflection.
//   - FinalOutput: set once.
type ConversationState struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	Query    string `json:"user_query"`

	Messages []llm.Message `json:"message_log"`

	IsComplex      bool   `json:"is_complex"`
	ClassifyReason string `json:"classify_reason,omitempty"`

	Analysis         string            `json:"analysis,omitempty"`
	Plan             []SubTask         `json:"plan"`
	PlanApproved     bool              `json:"plan_approved"`
	CurrentTaskIndex int               `json:"current_task_index"`
	ToolCallCount    int               `json:"tool_call_count"`
	RetryCount       int               `json:"retry_count"`
	Recommendations  map[string]string `json:"recommendations,omitempty"`

	Evidence    []retrieval.Result         `json:"retrieved_evidence,omitempty"`
	Candidates  map[string][]ToolCandidate `json:"candidates,omitempty"`
	Evaluations []TaskEvaluation           `json:"evaluations,omitempty"`
	Replanning  bool                       `json:"replanning,omitempty"`

	// TurnStart indexes Messages at the first turn of the active
	// reasoning loop (a sub-task or the simple answer).
	TurnStart       int           `json:"turn_start"`
	PendingToolCall *llm.ToolCall `json:"pending_tool_call,omitempty"`
	SimpleRetrieved bool          `json:"simple_retrieved,omitempty"`

	Feedback *Feedback `json:"feedback,omitempty"`

	Profile     *profile.Profile `json:"user_profile,omitempty"`
	FinalOutput string           `json:"final_output,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// NewState creates the initial state for a conversation.
func NewState(threadID, userID, query string) ConversationState {
	return ConversationState{
		ThreadID: threadID,
		UserID:   userID,
		Query:    query,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: query}},
	}
}

// CurrentTask returns the active sub-task.
func (s ConversationState) CurrentTask() (SubTask, bool) {
	if s.CurrentTaskIndex < 0 || s.CurrentTaskIndex >= len(s.Plan) {
		return SubTask{}, false
	}
	return s.Plan[s.CurrentTaskIndex], true
}

// AllTasksDone reports whether the loop has handled every sub-task.
func (s ConversationState) AllTasksDone() bool {
	return s.CurrentTaskIndex >= len(s.Plan)
}

// Cancelled reports whether the user cancelled at review.
func (s ConversationState) Cancelled() bool {
	return s.Error == ErrUserCancelled
}

// turn returns the messages of the active reasoning loop.
func (s ConversationState) turn() []llm.Message {
	if s.TurnStart < 0 || s.TurnStart > len(s.Messages) {
		return nil
	}
	return slices.Clone(s.Messages[s.TurnStart:])
}

// appendMessages extends the log. The backing array is copied so a state
// value held by the caller never observes the append.
func (s *ConversationState) appendMessages(msgs ...llm.Message) {
	out := make([]llm.Message, 0, len(s.Messages)+len(msgs))
	out = append(out, s.Messages...)
	s.Messages = append(out, msgs...)
}

// startTurn opens a new reasoning loop with msg as its first turn.
func (s *ConversationState) startTurn(msg llm.Message) {
	s.TurnStart = len(s.Messages)
	s.ToolCallCount = 0
	s.PendingToolCall = nil
	s.appendMessages(msg)
}

func (s *ConversationState) appendEvidence(results ...retrieval.Result) {
	out := make([]retrieval.Result, 0, len(s.Evidence)+len(results))
	out = append(out, s.Evidence...)
	s.Evidence = append(out, results...)
}

// evidenceWindow returns the last n evidence items.
func (s ConversationState) evidenceWindow(n int) []retrieval.Result {
	if n <= 0 || len(s.Evidence) == 0 {
		return nil
	}
	if len(s.Evidence) <= n {
		return s.Evidence
	}
	return s.Evidence[len(s.Evidence)-n:]
}

// replacePlan installs plan and resets every per-plan cursor.
func (s *ConversationState) replacePlan(plan []SubTask) {
	s.Plan = make([]SubTask, len(plan))
	for i, t := range plan {
		t.Status = TaskPending
		s.Plan[i] = t
	}
	s.CurrentTaskIndex = 0
	s.ToolCallCount = 0
	s.PendingToolCall = nil
	s.Recommendations = nil
	s.Candidates = nil
}

// setTaskStatus updates the status of the sub-task at i.
func (s *ConversationState) setTaskStatus(i int, status TaskStatus) {
	if i < 0 || i >= len(s.Plan) {
		return
	}
	plan := slices.Clone(s.Plan)
	plan[i].Status = status
	s.Plan = plan
}

// completeTask records the recommendation for the active sub-task and
// advances the cursor.
func (s *ConversationState) completeTask(recommendation string) {
	task, ok := s.CurrentTask()
	if !ok {
		return
	}
	recs := make(map[string]string, len(s.Recommendations)+1)
	for k, v := range s.Recommendations {
		recs[k] = v
	}
	recs[task.ID] = strings.TrimSpace(recommendation)
	s.Recommendations = recs

	s.setTaskStatus(s.CurrentTaskIndex, TaskCompleted)
	s.CurrentTaskIndex++
	s.ToolCallCount = 0
	s.PendingToolCall = nil
}

// addCandidates merges catalog hits into the active sub-task's candidate
// list, keeping the higher similarity per tool name.
func (s *ConversationState) addCandidates(hits []retrieval.Result) {
	task, ok := s.CurrentTask()
	if !ok {
		return
	}
	existing := s.Candidates[task.ID]
	merged := slices.Clone(existing)
	for _, h := range hits {
		if h.Source == retrieval.SourceGuide || h.Name == "" {
			continue
		}
		idx := slices.IndexFunc(merged, func(c ToolCandidate) bool {
			return strings.EqualFold(c.Name, h.Name)
		})
		c := ToolCandidate{
			Name:       h.Name,
			Category:   h.Category,
			Pricing:    h.Pricing,
			URL:        h.URL,
			Rating:     h.Rating,
			Similarity: h.Score,
		}
		switch {
		case idx < 0:
			merged = append(merged, c)
		case c.Similarity > merged[idx].Similarity:
			merged[idx] = c
		}
	}
	if len(merged) == len(existing) && slices.Equal(merged, existing) {
		return
	}
	cands := make(map[string][]ToolCandidate, len(s.Candidates)+1)
	for k, v := range s.Candidates {
		cands[k] = v
	}
	cands[task.ID] = merged
	s.Candidates = cands
}
