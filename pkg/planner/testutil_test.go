package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/taskguide/pkg/flowgraph"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/llm"
	"github.com/randalmurphal/taskguide/pkg/planner/config"
	"github.com/randalmurphal/taskguide/pkg/planner/profile"
	"github.com/randalmurphal/taskguide/pkg/planner/retrieval"
	"github.com/randalmurphal/taskguide/pkg/planner/tools"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const videoPlan = "Here is the plan:\n```json\n" + `{
  "analysis": "A three-stage video production.",
  "subtasks": [
    {"id": "task_1", "description": "Write the video script", "category": "text-generation"},
    {"id": 2, "description": "Generate the video footage", "category": "video-generation"},
    {"id": "task_3", "description": "Record the narration", "category": "audio-generation"}
  ]
}` + "\n```\nLet me know."

// script answers reasoning calls by purpose. Unset fields get sensible
// defaults: complex classification, the three-step video plan, one
// retrieve_docs call per sub-task, and a fixed guide.
type script struct {
	classify   string
	plan       string
	interpret  string
	revise     string
	synthesize string
	reflect    string
	recommend  func(req llm.CompletionRequest) *llm.CompletionResponse
	answer     func(req llm.CompletionRequest) *llm.CompletionResponse
	fail       map[string]error
}

func (sc script) client() *llm.MockClient {
	return llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if err := sc.fail[req.Purpose]; err != nil {
			return nil, err
		}
		text := func(s, def string) (*llm.CompletionResponse, error) {
			if s == "" {
				s = def
			}
			return &llm.CompletionResponse{Content: s}, nil
		}
		switch req.Purpose {
		case NodeClassify:
			return text(sc.classify, `{"is_complex": true, "reason": "multi-stage project"}`)
		case NodePlan:
			return text(sc.plan, videoPlan)
		case "interpret":
			return text(sc.interpret, `{"intent": "approve", "feedback": ""}`)
		case "revise":
			return text(sc.revise, `[{"id": "task_1", "description": "Write the video script", "category": "text-generation"}]`)
		case NodeRecommend:
			if sc.recommend != nil {
				return sc.recommend(req), nil
			}
			return searchThenAnswer(req), nil
		case "answer":
			if sc.answer != nil {
				return sc.answer(req), nil
			}
			return text("", "Canva Pro costs $15 per month.")
		case NodeSynthesize:
			return text(sc.synthesize, "# Guide\n## Step 1: Write the video script\n## Step 2: Generate the video footage\n## Step 3: Record the narration")
		case NodeReflect:
			return text(sc.reflect, `{"preferred_categories": ["video-generation"], "price_preference": "free", "interests": ["youtube shorts"], "skill_level": "beginner", "notes": ""}`)
		}
		return nil, fmt.Errorf("unexpected purpose %q", req.Purpose)
	})
}

// taskOf extracts the sub-task description from a recommend request.
func taskOf(req llm.CompletionRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	first := req.Messages[0].Content
	first = strings.TrimPrefix(first, "## Sub-task\n")
	if i := strings.Index(first, " (category:"); i >= 0 {
		return first[:i]
	}
	return first
}

func toolCall(name string, args map[string]any) *llm.CompletionResponse {
	raw, _ := json.Marshal(args)
	return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{Name: name, Arguments: string(raw)}}}
}

// searchThenAnswer searches once per sub-task, then recommends.
func searchThenAnswer(req llm.CompletionRequest) *llm.CompletionResponse {
	last := req.Messages[len(req.Messages)-1]
	if last.Role == llm.RoleTool {
		return &llm.CompletionResponse{Content: "## Recommended tool: Tool for " + taskOf(req)}
	}
	return toolCall(tools.RetrieveDocs, map[string]any{"query": taskOf(req)})
}

// stubRetrieve returns one catalog hit per query with fixed scores.
func stubRetrieve(similarity, rating float64, pricing string) tools.Tool {
	return tools.Func{
		Def: llm.Tool{
			Name:        tools.RetrieveDocs,
			Description: "Search the tool catalog.",
			Parameters:  map[string]llm.Param{"query": {Type: "string", Description: "query", Required: true}},
		},
		Fn: func(_ context.Context, args tools.Args) (tools.Result, error) {
			name := "Tool for " + args.String("query", "")
			return tools.Result{
				Observation: "Found 1 tools:\n1. " + name,
				Evidence: []retrieval.Result{{
					Name:       name,
					Source:     retrieval.SourceCatalog,
					Pricing:    pricing,
					Rating:     rating,
					Similarity: similarity,
					Score:      similarity,
				}},
			}, nil
		},
	}
}

type harness struct {
	engine   *Engine
	llm      *llm.MockClient
	store    checkpoint.Store
	profiles *profile.MemoryStore
	settings config.Settings
	registry *tools.Registry
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	settings config.Settings
	retrieve tools.Tool
	store    checkpoint.Store
}

func withSettings(fn func(*config.Settings)) harnessOption {
	return func(c *harnessConfig) { fn(&c.settings) }
}

func withRetrieve(t tools.Tool) harnessOption {
	return func(c *harnessConfig) { c.retrieve = t }
}

func withStore(s checkpoint.Store) harnessOption {
	return func(c *harnessConfig) { c.store = s }
}

func newKnowledgeBase(t *testing.T) *retrieval.KnowledgeBase {
	t.Helper()
	kb, err := retrieval.NewKnowledgeBase("", retrieval.NewHashEmbedder(256))
	require.NoError(t, err)
	require.NoError(t, kb.AddTools(context.Background(), []retrieval.ToolEntry{
		{Name: "Canva", Description: "Online design platform with templates; Canva Pro costs 15 dollars per month",
			Category: "design", Pricing: "freemium", Rating: 4.8},
		{Name: "Runway", Description: "AI video generation and editing", Category: "video-generation",
			Pricing: "paid", Rating: 4.5},
		{Name: "ElevenLabs", Description: "AI voice generation and narration", Category: "audio-generation",
			Pricing: "freemium", Rating: 4.7},
	}))
	return kb
}

func newHarness(t *testing.T, sc script, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		settings: config.Default(),
		retrieve: stubRetrieve(0.9, 4.8, "free"),
		store:    checkpoint.NewMemoryStore(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	kb := newKnowledgeBase(t)
	profiles := profile.NewMemoryStore()
	registry := tools.NewDefaultRegistry(tools.Deps{
		Settings: cfg.settings,
		Profiles: profiles,
		Now:      func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	}, tools.WithLogger(quietLogger))
	registry.Register(cfg.retrieve)

	client := sc.client()
	engine, err := NewEngine(client, cfg.store,
		WithSettings(cfg.settings),
		WithTools(registry),
		WithRetrieval(retrieval.NewService(kb, nil, retrieval.DefaultOptions())),
		WithProfiles(profiles),
		WithLogger(quietLogger),
	)
	require.NoError(t, err)

	return &harness{
		engine:   engine,
		llm:      client,
		store:    cfg.store,
		profiles: profiles,
		settings: cfg.settings,
		registry: registry,
	}
}

func (h *harness) calls(purpose string) int {
	n := 0
	for _, c := range h.llm.Calls {
		if c.Purpose == purpose {
			n++
		}
	}
	return n
}

func (h *harness) state(t *testing.T, threadID string) ConversationState {
	t.Helper()
	s, err := h.engine.State(context.Background(), threadID)
	require.NoError(t, err)
	return s
}

func countRole(msgs []llm.Message, role llm.Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}

// nodeCtx returns a context for calling node methods directly.
func nodeCtx(client llm.Client) flowgraph.Context {
	return flowgraph.NewContext(context.Background(),
		flowgraph.WithLogger(quietLogger),
		flowgraph.WithLLM(client),
	)
}

func testWorkflow(registry *tools.Registry) *workflow {
	if registry == nil {
		registry = tools.NewDefaultRegistry(tools.Deps{Settings: config.Default()}, tools.WithLogger(quietLogger))
	}
	return &workflow{settings: config.Default(), tools: registry}
}
