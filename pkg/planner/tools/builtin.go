package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/randalmurphal/taskguide/pkg/flowgraph/llm"
	"github.com/randalmurphal/taskguide/pkg/planner/calc"
	"github.com/randalmurphal/taskguide/pkg/planner/config"
	"github.com/randalmurphal/taskguide/pkg/planner/profile"
	"github.com/randalmurphal/taskguide/pkg/planner/retrieval"
)

// Tool names.
const (
	RetrieveDocs              = "retrieve_docs"
	WebSearch                 = "web_search"
	Calculator                = "calculator"
	GetCurrentTime            = "get_current_time"
	CheckToolFreshness        = "check_tool_freshness"
	CalculateSubscriptionCost = "calculate_subscription_cost"
	ReadMemory                = "read_memory"
	WriteMemory               = "write_memory"
)

// Freshness labels.
const (
	Fresh    = "fresh"
	Moderate = "moderate"
	Stale    = "stale"
	Unknown  = "unknown"
)

// Deps are the collaborators the built-in tools need. A nil collaborator
// leaves its tools unregistered.
type Deps struct {
	Retrieval *retrieval.Service
	Index     retrieval.Index
	Web       retrieval.WebSearcher
	Profiles  profile.Store
	Settings  config.Settings
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewDefaultRegistry registers every built-in tool whose dependencies are
// available.
func NewDefaultRegistry(d Deps, opts ...RegistryOption) *Registry {
	if d.Now == nil {
		d.Now = time.Now
	}
	r := NewRegistry(opts...)
	r.Register(calculatorTool())
	r.Register(currentTimeTool(d.Now))
	r.Register(subscriptionCostTool(d.Settings.SubscriptionWarning))
	r.Register(freshnessTool(d.Index, d.Now))
	if d.Retrieval != nil {
		r.Register(retrieveDocsTool(d.Retrieval, d.Settings))
	}
	if d.Web != nil {
		r.Register(webSearchTool(d.Web, d.Settings.Web.MaxResults))
	}
	if d.Profiles != nil {
		r.Register(readMemoryTool(d.Profiles))
		r.Register(writeMemoryTool(d.Profiles))
	}
	return r
}

func retrieveDocsTool(svc *retrieval.Service, s config.Settings) Tool {
	return Func{
		Def: llm.Tool{
			Name:        RetrieveDocs,
			Description: "Search the tool catalog and usage guides for tools that fit a task. Falls back to the web when the catalog has no good match.",
			Parameters: map[string]llm.Param{
				"query":    {Type: "string", Description: "What the tool must do", Required: true},
				"category": {Type: "string", Description: "Optional tool category, e.g. image-generation"},
				"k":        {Type: "integer", Description: "Maximum number of tools to return"},
			},
		},
		Fn: func(ctx context.Context, args Args) (Result, error) {
			query := args.String("query", "")
			if query == "" {
				return Result{}, errors.New("query is required")
			}
			resp, err := svc.Search(ctx, retrieval.Query{
				Text:      query,
				K:         args.Int("k", s.Retrieval.K),
				Threshold: s.Retrieval.Threshold,
				Category:  args.String("category", ""),
				AllowWeb:  s.Retrieval.WebFallback,
			})
			if err != nil {
				return Result{}, err
			}
			guides, err := svc.Guides(ctx, query, 2)
			if err != nil {
				guides = nil
			}

			var b strings.Builder
			if len(resp.Results) == 0 {
				b.WriteString("No matching tools found.")
			} else {
				fmt.Fprintf(&b, "Found %d tools", len(resp.Results))
				if resp.UsedWeb {
					b.WriteString(" (catalog match was weak, web results included)")
				}
				b.WriteString(":\n")
				for i, r := range resp.Results {
					fmt.Fprintf(&b, "%d. %s", i+1, formatHit(r))
				}
			}
			for _, g := range guides {
				fmt.Fprintf(&b, "\nGuide (%s): %s", g.Name, truncate(g.Content, 300))
			}
			return Result{
				Observation: strings.TrimRight(b.String(), "\n"),
				Evidence:    append(resp.Results, guides...),
			}, nil
		},
	}
}

func webSearchTool(web retrieval.WebSearcher, limit int) Tool {
	if limit < 1 {
		limit = 5
	}
	return Func{
		Def: llm.Tool{
			Name:        WebSearch,
			Description: "Search the web for up-to-date information about tools, pricing or how-tos.",
			Parameters: map[string]llm.Param{
				"query": {Type: "string", Description: "Search query", Required: true},
			},
		},
		Fn: func(ctx context.Context, args Args) (Result, error) {
			query := args.String("query", "")
			if query == "" {
				return Result{}, errors.New("query is required")
			}
			hits, err := web.Search(ctx, query, limit)
			if err != nil {
				return Result{}, err
			}
			if len(hits) == 0 {
				return Result{Observation: "No web results."}, nil
			}
			var b strings.Builder
			for i := range hits {
				hits[i].Source = retrieval.SourceWeb
				fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, hits[i].Name, hits[i].URL, truncate(hits[i].Content, 200))
			}
			return Result{Observation: strings.TrimRight(b.String(), "\n"), Evidence: hits}, nil
		},
	}
}

func calculatorTool() Tool {
	return Func{
		Def: llm.Tool{
			Name:        Calculator,
			Description: "Evaluate an arithmetic expression with numbers, + - * / and parentheses.",
			Parameters: map[string]llm.Param{
				"expression": {Type: "string", Description: "e.g. (12.99 + 8) * 12", Required: true},
			},
		},
		Fn: func(_ context.Context, args Args) (Result, error) {
			expr := args.String("expression", "")
			v, err := calc.Eval(expr)
			if err != nil {
				return Result{}, err
			}
			return Result{Observation: fmt.Sprintf("%s = %s", expr, formatNumber(v))}, nil
		},
	}
}

func currentTimeTool(now func() time.Time) Tool {
	return Func{
		Def: llm.Tool{
			Name:        GetCurrentTime,
			Description: "Get the current date and time.",
			Parameters: map[string]llm.Param{
				"timezone": {Type: "string", Description: "IANA zone such as Asia/Seoul; defaults to UTC"},
			},
		},
		Fn: func(_ context.Context, args Args) (Result, error) {
			zone := args.String("timezone", "UTC")
			loc, err := time.LoadLocation(zone)
			if err != nil {
				return Result{}, fmt.Errorf("unknown timezone %q", zone)
			}
			t := now().In(loc)
			return Result{Observation: fmt.Sprintf("Current time in %s: %s (%s)",
				zone, t.Format("2006-01-02 15:04:05 MST"), t.Weekday())}, nil
		},
	}
}

// FreshnessOf labels how recently a tool was updated: fresh within 30
// days, moderate within 90, stale beyond.
func FreshnessOf(lastUpdated, now time.Time) (label string, days int) {
	days = int(now.Sub(lastUpdated).Hours() / 24)
	switch {
	case days <= 30:
		return Fresh, days
	case days <= 90:
		return Moderate, days
	default:
		return Stale, days
	}
}

func freshnessTool(index retrieval.Index, now func() time.Time) Tool {
	return Func{
		Def: llm.Tool{
			Name:        CheckToolFreshness,
			Description: "Check how recently a tool's catalog information was updated.",
			Parameters: map[string]llm.Param{
				"tool_name":    {Type: "string", Description: "Tool name as listed in the catalog"},
				"last_updated": {Type: "string", Description: "Known update date, YYYY-MM-DD"},
			},
		},
		Fn: func(ctx context.Context, args Args) (Result, error) {
			name := args.String("tool_name", "")
			date := args.String("last_updated", "")
			if name == "" && date == "" {
				return Result{}, errors.New("tool_name or last_updated is required")
			}
			if date == "" && index != nil {
				hits, err := index.SearchTools(ctx, name, 3, "")
				if err != nil {
					return Result{}, err
				}
				for _, h := range hits {
					if strings.EqualFold(h.Name, name) {
						date = h.LastUpdated
						break
					}
				}
			}
			label := name
			if label == "" {
				label = "tool"
			}
			if date == "" {
				return Result{Observation: fmt.Sprintf("%s: freshness %s (no update date on record)", label, Unknown)}, nil
			}
			updated, err := time.Parse("2006-01-02", date)
			if err != nil {
				return Result{}, fmt.Errorf("last_updated must be YYYY-MM-DD, got %q", date)
			}
			fresh, days := FreshnessOf(updated, now())
			return Result{Observation: fmt.Sprintf("%s: last updated %s (%d days ago), freshness %s", label, date, days, fresh)}, nil
		},
	}
}

// SubscriptionCost totals monthly prices.
type SubscriptionCost struct {
	Monthly float64
	Yearly  float64
	Warning bool
}

// CostOf sums monthly prices and flags totals above warnAbove.
func CostOf(monthly []float64, warnAbove float64) SubscriptionCost {
	var sum float64
	for _, p := range monthly {
		sum += p
	}
	sum = math.Round(sum*100) / 100
	return SubscriptionCost{
		Monthly: sum,
		Yearly:  math.Round(sum*12*100) / 100,
		Warning: warnAbove > 0 && sum > warnAbove,
	}
}

func subscriptionCostTool(warnAbove float64) Tool {
	return Func{
		Def: llm.Tool{
			Name:        CalculateSubscriptionCost,
			Description: "Total the monthly and yearly cost of a set of tool subscriptions.",
			Parameters: map[string]llm.Param{
				"monthly_prices": {
					Type:        "array",
					Description: "Monthly price in USD of each tool",
					Required:    true,
					Items:       &llm.Param{Type: "number"},
				},
				"tool_names": {
					Type:        "array",
					Description: "Tool names in the same order as monthly_prices",
					Items:       &llm.Param{Type: "string"},
				},
			},
		},
		Fn: func(_ context.Context, args Args) (Result, error) {
			prices, ok := args.Floats("monthly_prices")
			if !ok {
				return Result{}, errors.New("monthly_prices must be numbers")
			}
			if len(prices) == 0 {
				return Result{}, errors.New("monthly_prices is required")
			}
			names := args.Strings("tool_names")
			cost := CostOf(prices, warnAbove)

			var b strings.Builder
			for i, p := range prices {
				name := fmt.Sprintf("tool %d", i+1)
				if i < len(names) {
					name = names[i]
				}
				fmt.Fprintf(&b, "- %s: $%.2f/month\n", name, p)
			}
			fmt.Fprintf(&b, "Total: $%.2f/month, $%.2f/year", cost.Monthly, cost.Yearly)
			if cost.Warning {
				fmt.Fprintf(&b, "\nWarning: monthly total exceeds $%.2f; consider free or freemium alternatives.", warnAbove)
			}
			return Result{Observation: b.String()}, nil
		},
	}
}

func readMemoryTool(store profile.Store) Tool {
	return Func{
		Def: llm.Tool{
			Name:        ReadMemory,
			Description: "Read the current user's stored preferences.",
		},
		Fn: func(ctx context.Context, _ Args) (Result, error) {
			userID := UserIDFrom(ctx)
			if userID == "" {
				return Result{}, errors.New("no user in context")
			}
			p, err := store.Get(ctx, userID)
			if errors.Is(err, profile.ErrNotFound) {
				return Result{Observation: "No stored preferences for this user."}, nil
			}
			if err != nil {
				return Result{}, err
			}
			return Result{Observation: "Stored preferences:\n" + p.Summary()}, nil
		},
	}
}

func writeMemoryTool(store profile.Store) Tool {
	return Func{
		Def: llm.Tool{
			Name:        WriteMemory,
			Description: "Remember a preference the user stated explicitly.",
			Parameters: map[string]llm.Param{
				"preferred_categories": {Type: "array", Description: "Tool categories the user likes", Items: &llm.Param{Type: "string"}},
				"interests":            {Type: "array", Description: "Topics the user is interested in", Items: &llm.Param{Type: "string"}},
				"price_preference":     {Type: "string", Description: "free, freemium or paid"},
				"skill_level":          {Type: "string", Description: "beginner, intermediate or advanced"},
				"notes":                {Type: "string", Description: "Anything else worth remembering"},
			},
		},
		Fn: func(ctx context.Context, args Args) (Result, error) {
			userID := UserIDFrom(ctx)
			if userID == "" {
				return Result{}, errors.New("no user in context")
			}
			delta := profile.Delta{
				PreferredCategories: args.Strings("preferred_categories"),
				Interests:           args.Strings("interests"),
				PricePreference:     args.String("price_preference", ""),
				SkillLevel:          args.String("skill_level", ""),
				Notes:               args.String("notes", ""),
			}
			current, err := store.Get(ctx, userID)
			if errors.Is(err, profile.ErrNotFound) {
				current = profile.Profile{UserID: userID}
			} else if err != nil {
				return Result{}, err
			}
			merged := profile.Merge(current, delta)
			if err := store.Put(ctx, merged); err != nil {
				return Result{}, err
			}
			return Result{Observation: "Preferences saved:\n" + merged.Summary()}, nil
		},
	}
}

func formatHit(r retrieval.Result) string {
	var b strings.Builder
	b.WriteString(r.Name)
	var meta []string
	if r.Category != "" {
		meta = append(meta, r.Category)
	}
	if r.Pricing != "" {
		meta = append(meta, "pricing: "+r.Pricing)
	}
	if r.Rating > 0 {
		meta = append(meta, fmt.Sprintf("rating: %.1f", r.Rating))
	}
	meta = append(meta, fmt.Sprintf("score: %.2f", r.Score), "source: "+r.Source)
	fmt.Fprintf(&b, " [%s]\n", strings.Join(meta, ", "))
	if r.URL != "" {
		fmt.Fprintf(&b, "   %s\n", r.URL)
	}
	if r.Content != "" {
		fmt.Fprintf(&b, "   %s\n", truncate(r.Content, 200))
	}
	return b.String()
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%.0f", v)
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
