package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	flowerrors "github.com/randalmurphal/taskguide/pkg/flowgraph/errors"
)

// DuckDuckGoConfig configures the web searcher.
type DuckDuckGoConfig struct {
	BaseURL     string
	UserAgent   string
	MinInterval time.Duration
	Timeout     time.Duration
	CacheSize   int
	Retry       flowerrors.Policy
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// DuckDuckGo searches the DuckDuckGo lite HTML endpoint. Requests are
// spaced by MinInterval, identical concurrent queries share one request,
// and results are cached.
type DuckDuckGo struct {
	cfg     DuckDuckGoConfig
	client  *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
	cache   *lru.Cache[string, []Result]
}

// NewDuckDuckGo creates a searcher with defaults filled in.
func NewDuckDuckGo(cfg DuckDuckGoConfig) (*DuckDuckGo, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://lite.duckduckgo.com/lite/"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; taskguide/1.0)"
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheSize < 1 {
		cfg.CacheSize = 256
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = flowerrors.DefaultPolicy
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cache, err := lru.New[string, []Result](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	retry := cfg.Retry
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		cfg.Logger.Warn("web search retry", "attempt", attempt, "error", err, "wait", wait)
	}
	cfg.Retry = retry

	return &DuckDuckGo{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		cache:   cache,
	}, nil
}

// Search implements WebSearcher.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit < 1 {
		limit = 5
	}
	key := fmt.Sprintf("%d\x00%s", limit, query)

	if hits, ok := d.cache.Get(key); ok {
		return clone(hits), nil
	}

	v, err, _ := d.group.Do(key, func() (any, error) {
		hits, err := flowerrors.Do(ctx, d.cfg.Retry, func(ctx context.Context) ([]Result, error) {
			return d.fetch(ctx, query, limit)
		})
		if err != nil {
			return nil, err
		}
		d.cache.Add(key, hits)
		return hits, nil
	})
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	return clone(v.([]Result)), nil
}

func (d *DuckDuckGo) fetch(ctx context.Context, query string, limit int) ([]Result, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := d.cfg.BaseURL + "?" + url.Values{"q": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			return nil, &flowerrors.TimeoutError{Operation: "web search", Duration: d.cfg.Timeout.String()}
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &flowerrors.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   d.cfg.BaseURL,
		}
	}

	return ParseLiteResults(resp.Body, limit)
}

// ParseLiteResults extracts up to limit results from a DuckDuckGo lite page.
// Links come from a.result-link and snippets from td.result-snippet, paired
// by position.
func ParseLiteResults(r io.Reader, limit int) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var snippets []string
	doc.Find("td.result-snippet").Each(func(_ int, s *goquery.Selection) {
		snippets = append(snippets, collapse(s.Text()))
	})

	var out []Result
	doc.Find("a.result-link").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		r := Result{
			Name: collapse(s.Text()),
			URL:  resolveRedirect(href),
		}
		if i < len(snippets) {
			r.Content = snippets[i]
		}
		if r.Name != "" {
			out = append(out, r)
		}
		return len(out) < limit
	})
	return out, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func clone(in []Result) []Result {
	return append([]Result(nil), in...)
}
