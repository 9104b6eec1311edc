package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/taskguide/pkg/flowgraph"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/llm"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/observability"
	"github.com/randalmurphal/taskguide/pkg/planner/config"
	"github.com/randalmurphal/taskguide/pkg/planner/profile"
	"github.com/randalmurphal/taskguide/pkg/planner/retrieval"
	"github.com/randalmurphal/taskguide/pkg/planner/tools"
)

// Engine errors.
var (
	// ErrSessionNotFound means the thread has no checkpoint.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEmptyQuery is returned by StartConversation for a blank query.
	ErrEmptyQuery = errors.New("query is required")

	// ErrEmptyUserID is returned by StartConversation without a user id.
	ErrEmptyUserID = errors.New("user id is required")

	// ErrInvalidFeedback is returned for feedback with neither a known
	// action nor text.
	ErrInvalidFeedback = errors.New("feedback needs an action or text")
)

// SessionError reports a failed lookup of a conversation thread.
type SessionError struct {
	ThreadID string
	Err      error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.ThreadID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Status is the state of a conversation as seen by callers.
type Status string

// Conversation statuses.
const (
	StatusCompleted       Status = "completed"
	StatusPendingApproval Status = "pending_approval"
	StatusCancelled       Status = "cancelled"
	StatusError           Status = "error"
	// StatusRunning is only reported by GetStatus, for a thread whose
	// last checkpoint is between two steps.
	StatusRunning Status = "running"
)

// Reply is the result of StartConversation and SubmitFeedback.
type Reply struct {
	ThreadID    string    `json:"thread_id"`
	Status      Status    `json:"status"`
	Plan        []SubTask `json:"plan,omitempty"`
	Analysis    string    `json:"analysis,omitempty"`
	Message     string    `json:"message,omitempty"`
	FinalOutput string    `json:"final_output,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// SessionStatus summarizes a stored conversation.
type SessionStatus struct {
	ThreadID         string `json:"thread_id"`
	Status           Status `json:"status"`
	IsComplex        bool   `json:"is_complex"`
	PlanApproved     bool   `json:"plan_approved"`
	PlanCount        int    `json:"plan_count"`
	CurrentTaskIndex int    `json:"current_task_index"`
	RetryCount       int    `json:"retry_count"`
	HasFinalOutput   bool   `json:"has_final_output"`
}

// SessionInfo is one entry of ListSessions.
type SessionInfo struct {
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	Query     string    `json:"user_query"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// Engine runs conversations on the workflow graph. Every step is
// checkpointed, so any Engine sharing the store can pick a thread up.
// Calls for the same thread are serialized, across processes too when
// the store implements checkpoint.Locker; distinct threads run
// concurrently.
type Engine struct {
	graph    *flowgraph.CompiledGraph[ConversationState]
	llm      llm.Client
	store    checkpoint.Store
	profiles profile.Store
	settings config.Settings
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	locks    *threadLocks
	newID    func() string

	registry  *tools.Registry
	retrieval *retrieval.Service
}

// Option configures an Engine.
type Option func(*Engine)

// WithSettings replaces config.Default().
func WithSettings(s config.Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithTools sets the tool registry offered during reasoning loops.
func WithTools(r *tools.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithRetrieval enables the simple path's direct retrieval.
func WithRetrieval(svc *retrieval.Service) Option {
	return func(e *Engine) { e.retrieval = svc }
}

// WithProfiles enables profile loading and reflection.
func WithProfiles(store profile.Store) Option {
	return func(e *Engine) { e.profiles = store }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records node, run, tool and reasoning metrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracing wraps runs and nodes in spans.
func WithTracing(sm observability.SpanManager) Option {
	return func(e *Engine) { e.spans = sm }
}

// WithIDGenerator overrides uuid thread ids.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine builds the workflow graph around client and store.
func NewEngine(client llm.Client, store checkpoint.Store, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, errors.New("reasoning client is required")
	}
	if store == nil {
		return nil, flowgraph.ErrStoreRequired
	}
	e := &Engine{
		llm:      client,
		store:    store,
		settings: config.Default(),
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		locks:    newThreadLocks(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = tools.NewRegistry(tools.WithLogger(e.logger), tools.WithMetrics(e.metrics))
	}

	g, err := buildGraph(&workflow{
		settings:  e.settings,
		tools:     e.registry,
		retrieval: e.retrieval,
		profiles:  e.profiles,
	})
	if err != nil {
		return nil, fmt.Errorf("build workflow: %w", err)
	}
	e.graph = g
	return e, nil
}

// StartConversation runs a new conversation until it completes or
// suspends for plan review. An empty threadID gets a generated one; an
// existing thread with the same id is replaced.
//
// Failures inside the workflow are reported through Reply.Status; the
// returned error is only for invalid input.
func (e *Engine) StartConversation(ctx context.Context, query, userID, threadID string) (Reply, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Reply{}, ErrEmptyQuery
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Reply{}, ErrEmptyUserID
	}
	if threadID == "" {
		threadID = e.newID()
	}

	unlock, err := e.lockThread(ctx, threadID)
	if err != nil {
		return Reply{}, err
	}
	defer unlock()

	state := NewState(threadID, userID, query)
	state.Profile = e.loadProfile(ctx, userID)

	e.logger.Info("conversation started", "thread_id", threadID, "user_id", userID)
	out, err := e.graph.RunUntilSuspension(e.flowContext(ctx, threadID), state, e.runOptions(threadID)...)
	return e.finish(ctx, threadID, out, err), nil
}

// SubmitFeedback resumes a thread suspended at plan review. A valid
// Action is applied as is; otherwise Text is interpreted. On a finished
// thread it returns the final state without running anything, whatever
// the feedback.
func (e *Engine) SubmitFeedback(ctx context.Context, threadID string, fb Feedback) (Reply, error) {
	fb.Text = strings.TrimSpace(fb.Text)

	unlock, err := e.lockThread(ctx, threadID)
	if err != nil {
		return Reply{}, err
	}
	defer unlock()

	snap, err := e.snapshot(ctx, threadID)
	if err != nil {
		return Reply{}, err
	}
	if snap.NextNode == flowgraph.END {
		return terminalReply(threadID, snap.State), nil
	}
	if !fb.Action.Valid() && (fb.Action != "" || fb.Text == "") {
		return Reply{}, ErrInvalidFeedback
	}

	var input func(ConversationState) (ConversationState, error)
	if snap.NextNode == NodeReview {
		input = func(s ConversationState) (ConversationState, error) {
			s.Feedback = &fb
			return s, nil
		}
	} else {
		e.logger.Warn("resuming interrupted thread, feedback ignored",
			"thread_id", threadID, "next_node", snap.NextNode)
	}

	out, err := e.graph.Resume(e.flowContext(ctx, threadID), e.store, threadID, input, e.runOptions(threadID)...)
	if err != nil && errors.Is(err, flowgraph.ErrNoCheckpoint) {
		return Reply{}, &SessionError{ThreadID: threadID, Err: ErrSessionNotFound}
	}
	return e.finish(ctx, threadID, out, err), nil
}

// GetStatus reports on a stored thread without running it.
func (e *Engine) GetStatus(ctx context.Context, threadID string) (SessionStatus, error) {
	snap, err := e.snapshot(ctx, threadID)
	if err != nil {
		return SessionStatus{}, err
	}
	s := snap.State
	return SessionStatus{
		ThreadID:         threadID,
		Status:           statusOf(snap),
		IsComplex:        s.IsComplex,
		PlanApproved:     s.PlanApproved,
		PlanCount:        len(s.Plan),
		CurrentTaskIndex: s.CurrentTaskIndex,
		RetryCount:       s.RetryCount,
		HasFinalOutput:   s.FinalOutput != "",
	}, nil
}

// ListSessions returns stored threads, most recently updated first. A
// non-empty userID keeps only that user's threads. Records that cannot
// be read are skipped.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	infos, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]SessionInfo, 0, len(infos))
	for _, info := range infos {
		snap, err := e.snapshot(ctx, info.ThreadID)
		if err != nil {
			if !errors.Is(err, ErrSessionNotFound) {
				e.logger.Warn("unreadable session skipped", "thread_id", info.ThreadID, "error", err)
			}
			continue
		}
		if userID != "" && snap.State.UserID != userID {
			continue
		}
		out = append(out, SessionInfo{
			ThreadID:  info.ThreadID,
			UserID:    snap.State.UserID,
			Query:     snap.State.Query,
			Status:    statusOf(snap),
			UpdatedAt: info.UpdatedAt,
			SizeBytes: info.Size,
		})
	}
	return out, nil
}

func statusOf(snap flowgraph.Snapshot[ConversationState]) Status {
	switch {
	case snap.Suspended:
		return StatusPendingApproval
	case snap.NextNode == flowgraph.END:
		return terminalReply(snap.State.ThreadID, snap.State).Status
	default:
		return StatusRunning
	}
}

// State returns the stored state of a thread.
func (e *Engine) State(ctx context.Context, threadID string) (ConversationState, error) {
	snap, err := e.snapshot(ctx, threadID)
	return snap.State, err
}

// DeleteSession removes a thread's checkpoint.
func (e *Engine) DeleteSession(ctx context.Context, threadID string) error {
	unlock, err := e.lockThread(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := e.snapshot(ctx, threadID); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("delete session %s: %w", threadID, err)
	}
	e.logger.Info("session deleted", "thread_id", threadID)
	return nil
}

// lockThread serializes calls on threadID in this process and, when the
// store is shared between processes, across them.
func (e *Engine) lockThread(ctx context.Context, threadID string) (func(), error) {
	unlock := e.locks.lock(threadID)
	locker, ok := e.store.(checkpoint.Locker)
	if !ok {
		return unlock, nil
	}
	release, err := locker.Lock(ctx, threadID)
	if err != nil {
		unlock()
		return nil, err
	}
	return func() {
		release()
		unlock()
	}, nil
}

func (e *Engine) snapshot(ctx context.Context, threadID string) (flowgraph.Snapshot[ConversationState], error) {
	snap, err := flowgraph.LoadSnapshot[ConversationState](ctx, e.store, threadID)
	if errors.Is(err, flowgraph.ErrNoCheckpoint) {
		return snap, &SessionError{ThreadID: threadID, Err: ErrSessionNotFound}
	}
	return snap, err
}

func (e *Engine) loadProfile(ctx context.Context, userID string) *profile.Profile {
	if e.profiles == nil {
		return nil
	}
	p, err := e.profiles.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			e.logger.Warn("profile load failed", "user_id", userID, "error", err)
		}
		return nil
	}
	return &p
}

func (e *Engine) flowContext(ctx context.Context, threadID string) flowgraph.Context {
	return flowgraph.NewContext(ctx,
		flowgraph.WithLogger(e.logger),
		flowgraph.WithLLM(e.llm),
		flowgraph.WithCheckpointer(e.store),
		flowgraph.WithMetricsRecorder(e.metrics),
		flowgraph.WithContextThreadID(threadID),
	)
}

func (e *Engine) runOptions(threadID string) []flowgraph.RunOption {
	opts := []flowgraph.RunOption{
		flowgraph.WithCheckpointing(e.store),
		flowgraph.WithThreadID(threadID),
		flowgraph.WithCheckpointFailureFatal(true),
		flowgraph.WithMaxIterations(e.settings.MaxIterations),
		flowgraph.WithRunLogger(e.logger),
		flowgraph.WithMetrics(e.metrics),
		flowgraph.WithGraphName("taskguide"),
	}
	if e.spans != nil {
		opts = append(opts, flowgraph.WithTracing(e.spans))
	}
	return opts
}

func (e *Engine) finish(ctx context.Context, threadID string, out flowgraph.Outcome[ConversationState], runErr error) Reply {
	s := out.State
	var cancelErr *flowgraph.CancellationError
	switch {
	case runErr != nil && (errors.As(runErr, &cancelErr) || ctx.Err() != nil):
		// The last per-node checkpoint stays; a later SubmitFeedback resumes it.
		e.logger.Warn("conversation interrupted", "thread_id", threadID, "error", runErr)
		return Reply{
			ThreadID: threadID,
			Status:   StatusError,
			Error:    runErr.Error(),
			Message:  interruptedMessage,
		}
	case runErr != nil:
		return e.fail(ctx, threadID, s, out.Sequence, runErr)
	case out.Suspended():
		return Reply{
			ThreadID: threadID,
			Status:   StatusPendingApproval,
			Plan:     s.Plan,
			Analysis: s.Analysis,
			Message:  ReviewMessage(s.Plan),
		}
	case s.Cancelled():
		if err := e.store.Delete(ctx, threadID); err != nil {
			e.logger.Warn("cancelled session not deleted", "thread_id", threadID, "error", err)
		}
		e.logger.Info("conversation cancelled", "thread_id", threadID)
		return Reply{
			ThreadID:    threadID,
			Status:      StatusCancelled,
			Message:     s.FinalOutput,
			FinalOutput: s.FinalOutput,
		}
	default:
		return terminalReply(threadID, s)
	}
}

// fail records an unrecovered workflow error as a terminal error state,
// so the thread stays inspectable.
func (e *Engine) fail(ctx context.Context, threadID string, s ConversationState, seq int, runErr error) Reply {
	e.logger.Error("conversation failed", "thread_id", threadID, "error", runErr)
	s.Error = runErr.Error()
	if s.FinalOutput == "" {
		s.FinalOutput = failureMessage
	}
	s.PendingToolCall = nil
	snap := flowgraph.Snapshot[ConversationState]{
		State:     s,
		NodeID:    "error",
		NextNode:  flowgraph.END,
		Sequence:  seq + 1,
		Timestamp: time.Now(),
	}
	if err := flowgraph.SaveSnapshot(context.WithoutCancel(ctx), e.store, threadID, snap); err != nil {
		e.logger.Error("error state not saved", "thread_id", threadID, "error", err)
	}
	return terminalReply(threadID, s)
}

func terminalReply(threadID string, s ConversationState) Reply {
	r := Reply{
		ThreadID:    threadID,
		Status:      StatusCompleted,
		Plan:        s.Plan,
		FinalOutput: s.FinalOutput,
	}
	switch {
	case s.Cancelled():
		r.Status = StatusCancelled
		r.Message = s.FinalOutput
	case s.Error != "":
		r.Status = StatusError
		r.Error = s.Error
		r.Message = s.FinalOutput
	}
	return r
}
