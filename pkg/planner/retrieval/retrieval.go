// Package retrieval finds tools and guide passages for a sub-task.
//
// The primary source is a chromem-go knowledge base holding the tool
// catalog and guide passages. Catalog hits are ranked with a two-stage
// score: their own similarity combined with corroboration from the guide
// collection. When the primary results look weak (nothing found, best
// score under the threshold, or mean score under the floor) the service
// escalates to a web search and merges the two result sets by name.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Result sources.
const (
	SourceCatalog = "catalog"
	SourceGuide   = "guide"
	SourceWeb     = "web"
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("empty query")

// Result is a single retrieval hit.
type Result struct {
	Name        string  `json:"name"`
	Content     string  `json:"content,omitempty"`
	Category    string  `json:"category,omitempty"`
	Pricing     string  `json:"pricing,omitempty"`
	URL         string  `json:"url,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	LastUpdated string  `json:"last_updated,omitempty"`
	Source      string  `json:"source"`
	Similarity  float64 `json:"similarity"`
	Score       float64 `json:"score"`
}

// Query is a search request.
type Query struct {
	Text      string
	K         int
	Threshold float64
	Category  string
	// AllowWeb permits the web fallback for this query.
	AllowWeb bool
}

// Response is the outcome of a search.
type Response struct {
	Results []Result
	// ShouldFallback reports that the primary results were weak,
	// whether or not the web fallback actually ran.
	ShouldFallback bool
	UsedWeb        bool
}

// Index is the primary source. *KnowledgeBase implements it.
type Index interface {
	SearchTools(ctx context.Context, query string, k int, category string) ([]Result, error)
	SearchGuides(ctx context.Context, query string, k int) ([]Result, error)
}

// WebSearcher is the secondary source.
type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Options tunes ranking and fallback.
type Options struct {
	PrimaryWeight   float64
	SecondaryWeight float64
	AverageFloor    float64
	WebDefaultScore float64
	Logger          *slog.Logger
}

// DefaultOptions mirrors the documented defaults.
func DefaultOptions() Options {
	return Options{
		PrimaryWeight:   0.7,
		SecondaryWeight: 0.3,
		AverageFloor:    0.5,
		WebDefaultScore: 0.5,
	}
}

// Service combines the index and the optional web searcher.
type Service struct {
	index Index
	web   WebSearcher
	opts  Options
}

// NewService creates a Service. web may be nil to disable the fallback.
func NewService(index Index, web WebSearcher, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{index: index, web: web, opts: opts}
}

// Search runs the primary search, ranks it, and escalates to the web when
// the results are weak and the query allows it. A failed web search is
// logged and the primary results are returned.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Response{}, ErrEmptyQuery
	}
	if q.K < 1 {
		q.K = 5
	}

	primary, err := s.index.SearchTools(ctx, text, q.K, q.Category)
	if err != nil {
		return Response{}, fmt.Errorf("search tools: %w", err)
	}
	primary = s.corroborate(ctx, text, q.K, primary)

	resp := Response{Results: primary, ShouldFallback: ShouldFallback(primary, q.Threshold, s.opts.AverageFloor)}
	if !resp.ShouldFallback || !q.AllowWeb || s.web == nil {
		return resp, nil
	}

	web, err := s.web.Search(ctx, WebQuery(text, q.Category), q.K)
	if err != nil {
		s.opts.Logger.Warn("web fallback failed", "query", text, "error", err)
		return resp, nil
	}
	for i := range web {
		web[i].Source = SourceWeb
		web[i].Similarity = s.opts.WebDefaultScore
		web[i].Score = s.opts.WebDefaultScore
		if web[i].Category == "" {
			web[i].Category = q.Category
		}
	}

	resp.Results = MergeResults(primary, web, q.K)
	resp.UsedWeb = true
	return resp, nil
}

// Guides returns guide passages for q.
func (s *Service) Guides(ctx context.Context, q string, k int) ([]Result, error) {
	if strings.TrimSpace(q) == "" {
		return nil, ErrEmptyQuery
	}
	return s.index.SearchGuides(ctx, q, k)
}

// corroborate applies the two-stage score. A catalog hit's secondary
// signal is the best similarity among guide passages that mention it by
// name. Without any guide passages the score stays the similarity.
func (s *Service) corroborate(ctx context.Context, query string, k int, hits []Result) []Result {
	if len(hits) == 0 {
		return hits
	}
	guides, err := s.index.SearchGuides(ctx, query, k*2)
	if err != nil {
		s.opts.Logger.Warn("guide corroboration failed", "error", err)
		return hits
	}
	if len(guides) == 0 {
		return hits
	}

	for i := range hits {
		var best float64
		name := strings.ToLower(hits[i].Name)
		for _, g := range guides {
			if name != "" && strings.Contains(strings.ToLower(g.Content), name) && g.Similarity > best {
				best = g.Similarity
			}
		}
		hits[i].Score = CombineScores(hits[i].Similarity, best, s.opts.PrimaryWeight, s.opts.SecondaryWeight)
	}
	RankResults(hits)
	return hits
}

// CombineScores is the weighted two-stage score.
func CombineScores(primary, secondary, primaryWeight, secondaryWeight float64) float64 {
	return primary*primaryWeight + secondary*secondaryWeight
}

// RankResults sorts by Score descending. Ties keep similarity order.
func RankResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Similarity > results[j].Similarity
	})
}

// ShouldFallback reports whether results are too weak to trust: none at
// all, a best score under threshold, or a mean score under floor.
func ShouldFallback(results []Result, threshold, floor float64) bool {
	if len(results) == 0 {
		return true
	}
	var best, sum float64
	for _, r := range results {
		sum += r.Score
		if r.Score > best {
			best = r.Score
		}
	}
	return best < threshold || sum/float64(len(results)) < floor
}

// MergeResults unions primary and secondary, keeps the higher-scored hit
// per case-insensitive name, ranks and truncates to k.
func MergeResults(primary, secondary []Result, k int) []Result {
	byName := make(map[string]int)
	var out []Result
	for _, r := range append(append([]Result(nil), primary...), secondary...) {
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if key == "" {
			continue
		}
		if i, ok := byName[key]; ok {
			if r.Score > out[i].Score {
				out[i] = r
			}
			continue
		}
		byName[key] = len(out)
		out = append(out, r)
	}
	RankResults(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

var categoryKeywords = map[string]string{
	"image-generation": "AI image generator tool",
	"video-editing":    "AI video editing software",
	"video-generation": "AI video generator tool",
	"writing":          "AI writing assistant",
	"text-generation":  "AI text generation tool",
	"audio":            "AI audio voice tool",
	"music":            "AI music generator",
	"design":           "design tool",
	"presentation":     "AI presentation maker",
	"coding":           "AI coding assistant",
	"productivity":     "productivity app",
	"marketing":        "marketing automation tool",
	"analytics":        "data analytics tool",
	"translation":      "AI translation tool",
}

// WebQuery appends category keywords so a web engine returns tools
// rather than articles.
func WebQuery(query, category string) string {
	if kw, ok := categoryKeywords[strings.ToLower(category)]; ok {
		return query + " " + kw
	}
	if category != "" {
		return query + " " + strings.ReplaceAll(category, "-", " ") + " tool"
	}
	return query + " tool"
}
