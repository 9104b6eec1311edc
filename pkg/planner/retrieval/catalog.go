package retrieval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ToolEntry is one tool in the catalog file.
type ToolEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Pricing     string   `json:"pricing"`
	URL         string   `json:"url"`
	Rating      float64  `json:"rating,omitempty"`
	Features    []string `json:"features,omitempty"`
	LastUpdated string   `json:"last_updated,omitempty"`
}

// Content is the text embedded for the entry.
func (t ToolEntry) Content() string {
	var b strings.Builder
	b.WriteString(t.Name)
	b.WriteString(": ")
	b.WriteString(t.Description)
	if t.Category != "" {
		b.WriteString(" Category: ")
		b.WriteString(t.Category)
		b.WriteString(".")
	}
	if len(t.Features) > 0 {
		b.WriteString(" Features: ")
		b.WriteString(strings.Join(t.Features, ", "))
		b.WriteString(".")
	}
	return b.String()
}

// GuideChunk is a passage of a usage guide.
type GuideChunk struct {
	ID      string
	Source  string
	Content string
}

// LoadCatalog reads a JSON array of ToolEntry, or an object with a
// "tools" array. Entries without a name are skipped.
func LoadCatalog(path string) ([]ToolEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var entries []ToolEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		var wrapped struct {
			Tools []ToolEntry `json:"tools"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
		entries = wrapped.Tools
	}

	out := entries[:0]
	for _, e := range entries {
		if strings.TrimSpace(e.Name) != "" {
			out = append(out, e)
		}
	}
	return out, nil
}

// LoadGuides reads every .txt and .md file under dir and splits each into
// paragraph chunks of at most maxChars characters.
func LoadGuides(dir string, maxChars int) ([]GuideChunk, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk guides: %w", err)
	}
	sort.Strings(files)

	var chunks []GuideChunk
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read guide %s: %w", path, err)
		}
		rel, _ := filepath.Rel(dir, path)
		for i, text := range ChunkText(string(data), maxChars) {
			chunks = append(chunks, GuideChunk{
				ID:      fmt.Sprintf("%s#%d", rel, i),
				Source:  rel,
				Content: text,
			})
		}
	}
	return chunks, nil
}

// ChunkText packs blank-line separated paragraphs into chunks of at most
// maxChars bytes. A single paragraph longer than maxChars is split on
// whitespace.
func ChunkText(text string, maxChars int) []string {
	if maxChars < 1 {
		maxChars = 800
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+2+len(para) > maxChars {
			flush()
		}
		if len(para) <= maxChars {
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(para)
			continue
		}
		for _, word := range strings.Fields(para) {
			if cur.Len() > 0 && cur.Len()+1+len(word) > maxChars {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(word)
		}
		flush()
	}
	flush()
	return chunks
}
