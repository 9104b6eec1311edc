package retrieval

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

// Collection names inside the chromem database.
const (
	ToolsCollection  = "tools"
	GuidesCollection = "guides"
)

// KnowledgeBase holds the tool catalog and guide passages in two chromem
// collections that share one embedder.
type KnowledgeBase struct {
	db     *chromem.DB
	tools  *chromem.Collection
	guides *chromem.Collection
}

// NewKnowledgeBase opens a knowledge base. An empty path keeps everything
// in memory; otherwise chromem persists to the directory at path.
func NewKnowledgeBase(path string, embedder Embedder) (*KnowledgeBase, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		if db, err = chromem.NewPersistentDB(path, false); err != nil {
			return nil, fmt.Errorf("create persistent DB: %w", err)
		}
	}

	tools, err := db.GetOrCreateCollection(ToolsCollection, nil, embedder.Embed)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", ToolsCollection, err)
	}
	guides, err := db.GetOrCreateCollection(GuidesCollection, nil, embedder.Embed)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", GuidesCollection, err)
	}
	return &KnowledgeBase{db: db, tools: tools, guides: guides}, nil
}

// AddTools upserts catalog entries keyed by name.
func (kb *KnowledgeBase) AddTools(ctx context.Context, entries []ToolEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(entries))
	for _, e := range entries {
		meta := map[string]string{
			"name":     e.Name,
			"category": e.Category,
			"pricing":  e.Pricing,
			"url":      e.URL,
		}
		if e.Rating > 0 {
			meta["rating"] = strconv.FormatFloat(e.Rating, 'f', -1, 64)
		}
		if e.LastUpdated != "" {
			meta["last_updated"] = e.LastUpdated
		}
		docs = append(docs, chromem.Document{ID: "tool:" + e.Name, Content: e.Content(), Metadata: meta})
	}
	if err := kb.tools.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add tools: %w", err)
	}
	return nil
}

// AddGuides upserts guide passages keyed by chunk id.
func (kb *KnowledgeBase) AddGuides(ctx context.Context, chunks []GuideChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:       "guide:" + c.ID,
			Content:  c.Content,
			Metadata: map[string]string{"source": c.Source},
		})
	}
	if err := kb.guides.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add guides: %w", err)
	}
	return nil
}

// SearchTools returns up to k catalog hits ordered by similarity. A
// non-empty category restricts the search; when the category matches
// nothing the search is repeated without it.
func (kb *KnowledgeBase) SearchTools(ctx context.Context, query string, k int, category string) ([]Result, error) {
	if category != "" {
		hits, err := kb.query(ctx, kb.tools, query, k, map[string]string{"category": category})
		if err != nil || len(hits) > 0 {
			return toolResults(hits), err
		}
	}
	hits, err := kb.query(ctx, kb.tools, query, k, nil)
	return toolResults(hits), err
}

// SearchGuides returns up to k guide passages ordered by similarity.
func (kb *KnowledgeBase) SearchGuides(ctx context.Context, query string, k int) ([]Result, error) {
	hits, err := kb.query(ctx, kb.guides, query, k, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			Name:       h.Metadata["source"],
			Content:    h.Content,
			Source:     SourceGuide,
			Similarity: float64(h.Similarity),
			Score:      float64(h.Similarity),
		})
	}
	return out, nil
}

// ToolCount is the number of catalog entries.
func (kb *KnowledgeBase) ToolCount() int { return kb.tools.Count() }

// GuideCount is the number of guide passages.
func (kb *KnowledgeBase) GuideCount() int { return kb.guides.Count() }

// query clamps k to the collection size, which chromem requires.
func (kb *KnowledgeBase) query(ctx context.Context, c *chromem.Collection, query string, k int, where map[string]string) ([]chromem.Result, error) {
	n := c.Count()
	if n == 0 || k < 1 {
		return nil, nil
	}
	if k > n {
		k = n
	}
	hits, err := c.Query(ctx, query, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.Name, err)
	}
	return hits, nil
}

func toolResults(hits []chromem.Result) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		r := Result{
			Name:        h.Metadata["name"],
			Content:     h.Content,
			Category:    h.Metadata["category"],
			Pricing:     h.Metadata["pricing"],
			URL:         h.Metadata["url"],
			LastUpdated: h.Metadata["last_updated"],
			Source:      SourceCatalog,
			Similarity:  float64(h.Similarity),
			Score:       float64(h.Similarity),
		}
		if v, err := strconv.ParseFloat(h.Metadata["rating"], 64); err == nil {
			r.Rating = v
		}
		out = append(out, r)
	}
	return out
}
