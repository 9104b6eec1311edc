package tools_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/randalmurphal/taskguide/pkg/flowgraph/errors"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/llm"
	"github.com/randalmurphal/taskguide/pkg/planner/config"
	"github.com/randalmurphal/taskguide/pkg/planner/profile"
	"github.com/randalmurphal/taskguide/pkg/planner/retrieval"
	"github.com/randalmurphal/taskguide/pkg/planner/tools"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubWeb struct {
	results []retrieval.Result
	queries []string
}

func (s *stubWeb) Search(_ context.Context, q string, _ int) ([]retrieval.Result, error) {
	s.queries = append(s.queries, q)
	return append([]retrieval.Result(nil), s.results...), nil
}

type fixture struct {
	registry *tools.Registry
	profiles *profile.MemoryStore
	web      *stubWeb
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	kb, err := retrieval.NewKnowledgeBase("", retrieval.NewHashEmbedder(256))
	require.NoError(t, err)
	require.NoError(t, kb.AddTools(ctx, []retrieval.ToolEntry{
		{Name: "Midjourney", Description: "AI image generation from text prompts", Category: "image-generation",
			Pricing: "paid", Rating: 4.7, LastUpdated: "2025-02-20"},
		{Name: "Notion", Description: "Workspace for notes and docs", Category: "productivity",
			Pricing: "freemium", LastUpdated: "2024-06-01"},
	}))
	require.NoError(t, kb.AddGuides(ctx, []retrieval.GuideChunk{
		{ID: "mj#0", Source: "midjourney.md", Content: "Midjourney image prompts: describe style, lighting and subject."},
	}))

	web := &stubWeb{results: []retrieval.Result{{Name: "Leonardo AI", URL: "https://leonardo.ai", Content: "Image generator"}}}
	settings := config.Default()
	svc := retrieval.NewService(kb, web, retrieval.DefaultOptions())
	profiles := profile.NewMemoryStore()

	reg := tools.NewDefaultRegistry(tools.Deps{
		Retrieval: svc,
		Index:     kb,
		Web:       web,
		Profiles:  profiles,
		Settings:  settings,
		Now:       func() time.Time { return fixedNow },
	})
	return fixture{registry: reg, profiles: profiles, web: web}
}

func call(name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "call_0", Name: name, Arguments: args}
}

func TestDefaultRegistry_Definitions(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{
		tools.CalculateSubscriptionCost,
		tools.Calculator,
		tools.CheckToolFreshness,
		tools.GetCurrentTime,
		tools.ReadMemory,
		tools.RetrieveDocs,
		tools.WebSearch,
		tools.WriteMemory,
	}, f.registry.Names())

	defs := f.registry.Definitions()
	require.Len(t, defs, 8)
	for _, d := range defs {
		assert.NotEmpty(t, d.Description, d.Name)
	}
}

func TestDefaultRegistry_OptionalDeps(t *testing.T) {
	reg := tools.NewDefaultRegistry(tools.Deps{Settings: config.Default()})
	assert.Equal(t, []string{
		tools.CalculateSubscriptionCost,
		tools.Calculator,
		tools.CheckToolFreshness,
		tools.GetCurrentTime,
	}, reg.Names())
}

func TestExecute_UnknownTool(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Execute(context.Background(), call("teleport", `{}`))
	require.Error(t, err)

	var toolErr *flowerrors.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "teleport", toolErr.Tool)
	assert.ErrorIs(t, err, tools.ErrUnknownTool)
	assert.Equal(t, flowerrors.CategoryTool, flowerrors.Categorize(err))
}

func TestExecute_BadArguments(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Execute(context.Background(), call(tools.Calculator, `not json at all`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode arguments")
}

func TestCalculator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.registry.Execute(ctx, call(tools.Calculator, `{"expression": "(12.99 + 8) * 12"}`))
	require.NoError(t, err)
	assert.Equal(t, "(12.99 + 8) * 12 = 251.88", res.Observation)

	res, err = f.registry.Execute(ctx, call(tools.Calculator, `{'expression': '6 * 7',}`))
	require.NoError(t, err, "repairable JSON is accepted")
	assert.Equal(t, "6 * 7 = 42", res.Observation)

	_, err = f.registry.Execute(ctx, call(tools.Calculator, `{"expression": "__import__('os')"}`))
	require.Error(t, err)
}

func TestGetCurrentTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.registry.Execute(ctx, call(tools.GetCurrentTime, ``))
	require.NoError(t, err)
	assert.Equal(t, "Current time in UTC: 2025-03-01 12:00:00 UTC (Saturday)", res.Observation)

	res, err = f.registry.Execute(ctx, call(tools.GetCurrentTime, `{"timezone": "Asia/Seoul"}`))
	require.NoError(t, err)
	assert.Contains(t, res.Observation, "2025-03-01 21:00:00")

	_, err = f.registry.Execute(ctx, call(tools.GetCurrentTime, `{"timezone": "Mars/Olympus"}`))
	assert.ErrorContains(t, err, "unknown timezone")
}

func TestFreshnessOf(t *testing.T) {
	tests := []struct {
		updated string
		want    string
		days    int
	}{
		{"2025-03-01", tools.Fresh, 0},
		{"2025-01-30", tools.Fresh, 30},
		{"2025-01-29", tools.Moderate, 31},
		{"2024-12-01", tools.Moderate, 90},
		{"2024-11-30", tools.Stale, 91},
	}
	for _, tt := range tests {
		t.Run(tt.updated, func(t *testing.T) {
			updated, err := time.Parse("2006-01-02", tt.updated)
			require.NoError(t, err)
			label, days := tools.FreshnessOf(updated, fixedNow)
			assert.Equal(t, tt.want, label)
			assert.Equal(t, tt.days, days)
		})
	}
}

func TestCheckToolFreshness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.registry.Execute(ctx, call(tools.CheckToolFreshness, `{"tool_name": "midjourney"}`))
	require.NoError(t, err)
	assert.Equal(t, "midjourney: last updated 2025-02-20 (9 days ago), freshness fresh", res.Observation)

	res, err = f.registry.Execute(ctx, call(tools.CheckToolFreshness, `{"tool_name": "Notion"}`))
	require.NoError(t, err)
	assert.Contains(t, res.Observation, "freshness stale")

	res, err = f.registry.Execute(ctx, call(tools.CheckToolFreshness, `{"tool_name": "Unlisted"}`))
	require.NoError(t, err)
	assert.Contains(t, res.Observation, "freshness unknown")

	res, err = f.registry.Execute(ctx, call(tools.CheckToolFreshness, `{"last_updated": "2025-01-01"}`))
	require.NoError(t, err)
	assert.Contains(t, res.Observation, "freshness moderate")

	_, err = f.registry.Execute(ctx, call(tools.CheckToolFreshness, `{"last_updated": "March 1"}`))
	assert.ErrorContains(t, err, "YYYY-MM-DD")

	_, err = f.registry.Execute(ctx, call(tools.CheckToolFreshness, `{}`))
	assert.Error(t, err)
}

func TestCostOf(t *testing.T) {
	cost := tools.CostOf([]float64{12.99, 20, 30}, 50)
	assert.InDelta(t, 62.99, cost.Monthly, 1e-9)
	assert.InDelta(t, 755.88, cost.Yearly, 1e-9)
	assert.True(t, cost.Warning)

	cost = tools.CostOf([]float64{10, 40}, 50)
	assert.False(t, cost.Warning, "exactly at the threshold does not warn")
	assert.False(t, tools.CostOf([]float64{100}, 0).Warning)
}

func TestCalculateSubscriptionCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.registry.Execute(ctx, call(tools.CalculateSubscriptionCost,
		`{"monthly_prices": [10, "$30", 15.5], "tool_names": ["Midjourney", "ChatGPT Plus"]}`))
	require.NoError(t, err)
	assert.Equal(t, "- Midjourney: $10.00/month\n- ChatGPT Plus: $30.00/month\n- tool 3: $15.50/month\n"+
		"Total: $55.50/month, $666.00/year\n"+
		"Warning: monthly total exceeds $50.00; consider free or freemium alternatives.", res.Observation)

	_, err = f.registry.Execute(ctx, call(tools.CalculateSubscriptionCost, `{"monthly_prices": ["free"]}`))
	assert.ErrorContains(t, err, "must be numbers")

	_, err = f.registry.Execute(ctx, call(tools.CalculateSubscriptionCost, `{}`))
	assert.ErrorContains(t, err, "required")
}

func TestRetrieveDocs(t *testing.T) {
	f := newFixture(t)

	res, err := f.registry.Execute(context.Background(), call(tools.RetrieveDocs,
		`{"query": "image generation from text prompts", "k": 1}`))
	require.NoError(t, err)

	assert.Contains(t, res.Observation, "Midjourney")
	assert.Contains(t, res.Observation, "Guide (midjourney.md)")
	require.NotEmpty(t, res.Evidence)
	assert.Equal(t, "Midjourney", res.Evidence[0].Name)

	_, err = f.registry.Execute(context.Background(), call(tools.RetrieveDocs, `{}`))
	assert.ErrorContains(t, err, "query is required")
}

func TestWebSearch(t *testing.T) {
	f := newFixture(t)

	res, err := f.registry.Execute(context.Background(), call(tools.WebSearch, `{"query": "ai logo maker"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"ai logo maker"}, f.web.queries)
	assert.Contains(t, res.Observation, "Leonardo AI")
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, retrieval.SourceWeb, res.Evidence[0].Source)
}

func TestMemoryTools(t *testing.T) {
	f := newFixture(t)
	ctx := tools.WithUserID(context.Background(), "alice")

	res, err := f.registry.Execute(ctx, call(tools.ReadMemory, ``))
	require.NoError(t, err)
	assert.Equal(t, "No stored preferences for this user.", res.Observation)

	_, err = f.registry.Execute(ctx, call(tools.WriteMemory,
		`{"preferred_categories": ["design"], "price_preference": "free"}`))
	require.NoError(t, err)
	_, err = f.registry.Execute(ctx, call(tools.WriteMemory,
		`{"preferred_categories": "design, video-editing", "skill_level": "beginner"}`))
	require.NoError(t, err)

	stored, err := f.profiles.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"design", "video-editing"}, stored.PreferredCategories)
	assert.Equal(t, "free", stored.PricePreference)
	assert.Equal(t, "beginner", stored.SkillLevel)

	res, err = f.registry.Execute(ctx, call(tools.ReadMemory, `{}`))
	require.NoError(t, err)
	assert.Contains(t, res.Observation, "preferred categories: design, video-editing")

	_, err = f.registry.Execute(context.Background(), call(tools.ReadMemory, ``))
	assert.ErrorContains(t, err, "no user in context")
}

func TestArgs(t *testing.T) {
	args, err := tools.ParseArgs(`{"s": " hi ", "n": "3", "f": 2.5, "list": ["a", 1, " b "], "nums": [1, "2", "x"]}`)
	require.NoError(t, err)

	assert.Equal(t, "hi", args.String("s", "d"))
	assert.Equal(t, "d", args.String("missing", "d"))
	assert.Equal(t, "2.5", args.String("f", ""))
	assert.Equal(t, 3, args.Int("n", 0))
	assert.Equal(t, 2.5, args.Float("f", 0))
	assert.Equal(t, 7.0, args.Float("list", 7))
	assert.Equal(t, []string{"a", "b"}, args.Strings("list"))

	nums, ok := args.Floats("nums")
	assert.False(t, ok)
	assert.Equal(t, []float64{1, 2}, nums)

	single, ok := args.Floats("f")
	assert.True(t, ok)
	assert.Equal(t, []float64{2.5}, single)

	none, ok := args.Floats("missing")
	assert.True(t, ok)
	assert.Empty(t, none)

	empty, err := tools.ParseArgs("  ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRegistry_Register(t *testing.T) {
	reg := tools.NewRegistry()
	echo := tools.Func{
		Def: llm.Tool{Name: "echo", Description: "echo"},
		Fn: func(_ context.Context, args tools.Args) (tools.Result, error) {
			if args.String("fail", "") != "" {
				return tools.Result{}, errors.New("asked to fail")
			}
			return tools.Result{Observation: args.String("text", "")}, nil
		},
	}
	reg.Register(echo)
	assert.Equal(t, 1, reg.Len())

	_, ok := reg.Get("echo")
	assert.True(t, ok)

	res, err := reg.Execute(context.Background(), call("echo", `{"text": "hello"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Observation)

	_, err = reg.Execute(context.Background(), call("echo", `{"fail": "yes"}`))
	require.Error(t, err)
	assert.Equal(t, "tool echo: asked to fail", err.Error())
}
