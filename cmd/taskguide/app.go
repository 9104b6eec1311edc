package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/randalmurphal/taskguide/pkg/flowgraph/checkpoint"
	flowerrors "github.com/randalmurphal/taskguide/pkg/flowgraph/errors"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/llm"
	"github.com/randalmurphal/taskguide/pkg/flowgraph/observability"
	"github.com/randalmurphal/taskguide/pkg/planner"
	"github.com/randalmurphal/taskguide/pkg/planner/config"
	"github.com/randalmurphal/taskguide/pkg/planner/profile"
	"github.com/randalmurphal/taskguide/pkg/planner/retrieval"
	"github.com/randalmurphal/taskguide/pkg/planner/tools"
)

// app is everything a command needs, built from Settings.
type app struct {
	settings config.Settings
	logger   *slog.Logger

	engine      *planner.Engine
	kb          *retrieval.KnowledgeBase
	checkpoints checkpoint.Store
	profiles    profile.Store
	prometheus  *observability.PrometheusProvider

	closers []func() error
}

type appOptions struct {
	// client replaces the Gemini client.
	client llm.Client
	// metrics exports OTel metrics through a Prometheus registry.
	metrics bool
	// web enables the DuckDuckGo searcher.
	web bool
}

func newApp(ctx context.Context, s config.Settings, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{settings: s, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var metrics observability.MetricsRecorder = observability.NoopMetrics{}
	if opts.metrics {
		if a.prometheus, err = observability.NewPrometheusProvider(true); err != nil {
			return nil, err
		}
		metrics = observability.NewMetricsRecorder()
	}

	if err = a.openStores(ctx); err != nil {
		return nil, err
	}

	var genaiClient *genai.Client
	if s.Embedding.Backend == config.EmbedderGenAI {
		if genaiClient, err = newGenAIClient(ctx, s.Gemini); err != nil {
			return nil, err
		}
	}
	if a.kb, err = openKnowledgeBase(s.Embedding, genaiClient); err != nil {
		return nil, err
	}
	if err = a.seedKnowledgeBase(ctx); err != nil {
		return nil, err
	}

	var web retrieval.WebSearcher
	if opts.web && s.Retrieval.WebFallback {
		if web, err = newWebSearcher(s.Web, logger); err != nil {
			return nil, err
		}
	}
	svc := retrieval.NewService(a.kb, web, retrieval.Options{
		PrimaryWeight:   s.Retrieval.PrimaryWeight,
		SecondaryWeight: s.Retrieval.SecondaryWeight,
		AverageFloor:    s.Retrieval.AverageFloor,
		WebDefaultScore: s.Retrieval.WebDefaultScore,
		Logger:          logger,
	})

	registry := tools.NewDefaultRegistry(tools.Deps{
		Retrieval: svc,
		Index:     a.kb,
		Web:       web,
		Profiles:  a.profiles,
		Settings:  s,
	}, tools.WithLogger(logger), tools.WithMetrics(metrics))

	client := opts.client
	if client == nil {
		if client, err = newReasoningClient(ctx, s.Gemini, logger); err != nil {
			return nil, err
		}
	}

	engineOpts := []planner.Option{
		planner.WithSettings(s),
		planner.WithTools(registry),
		planner.WithRetrieval(svc),
		planner.WithProfiles(a.profiles),
		planner.WithLogger(logger),
		planner.WithMetrics(metrics),
	}
	if opts.metrics {
		engineOpts = append(engineOpts, planner.WithTracing(observability.NewSpanManager()))
	}
	if a.engine, err = planner.NewEngine(client, a.checkpoints, engineOpts...); err != nil {
		return nil, err
	}
	return a, nil
}

// openStores opens the checkpoint and profile stores for the configured
// backend.
func (a *app) openStores(ctx context.Context) error {
	st := a.settings.Storage
	switch st.Backend {
	case config.BackendMemory:
		a.checkpoints = checkpoint.NewMemoryStore()
		a.profiles = profile.NewMemoryStore()

	case config.BackendSQLite:
		cps, err := checkpoint.NewSQLiteStore(st.SQLitePath)
		if err != nil {
			return fmt.Errorf("open checkpoint store: %w", err)
		}
		a.checkpoints = cps
		a.closers = append(a.closers, cps.Close)

		profiles, err := profile.NewSQLiteStore(st.SQLitePath)
		if err != nil {
			return fmt.Errorf("open profile store: %w", err)
		}
		a.profiles = profiles

	case config.BackendRedis:
		cpClient, err := st.RedisClient(ctx)
		if err != nil {
			return err
		}
		cps := checkpoint.NewRedisStore(cpClient,
			checkpoint.WithKeyPrefix(st.RedisPrefix+"checkpoint:"),
			checkpoint.WithTTL(st.SessionTTL),
		)
		a.checkpoints = cps
		a.closers = append(a.closers, cps.Close)

		profileClient, err := st.RedisClient(ctx)
		if err != nil {
			return err
		}
		a.profiles = profile.NewRedisStore(profileClient, st.RedisPrefix+"profile:")

	default:
		return fmt.Errorf("unknown storage backend %q", st.Backend)
	}
	a.closers = append(a.closers, a.profiles.Close)
	a.logger.Info("storage ready", "backend", st.Backend)
	return nil
}

// seedKnowledgeBase loads the configured catalog and guides into an
// empty knowledge base. A persisted one is left alone.
func (a *app) seedKnowledgeBase(ctx context.Context) error {
	e := a.settings.Embedding
	catalog, guides := e.CatalogPath, e.GuidesPath
	if a.kb.ToolCount() > 0 {
		catalog = ""
	}
	if a.kb.GuideCount() > 0 {
		guides = ""
	}
	if catalog == "" && guides == "" {
		return nil
	}
	nTools, nChunks, err := ingest(ctx, a.kb, catalog, guides, 0)
	if err != nil {
		return err
	}
	a.logger.Info("knowledge base loaded", "tools", nTools, "guide_chunks", nChunks)
	return nil
}

// Close releases stores and flushes metrics, in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.prometheus != nil {
		if err := a.prometheus.Provider.Shutdown(context.Background()); err != nil {
			errs = append(errs, err)
		}
		a.prometheus = nil
	}
	return errors.Join(errs...)
}

func newGenAIClient(ctx context.Context, g config.GeminiSettings) (*genai.Client, error) {
	if g.APIKey == "" {
		return nil, errors.New("gemini.api_key (or GEMINI_API_KEY) is required for the genai embedder")
	}
	cfg := &genai.ClientConfig{APIKey: g.APIKey, Backend: genai.BackendGeminiAPI}
	if g.BaseURL != "" {
		cfg.HTTPOptions.BaseURL = g.BaseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

func openKnowledgeBase(e config.EmbeddingSettings, genaiClient *genai.Client) (*retrieval.KnowledgeBase, error) {
	var embedder retrieval.Embedder
	switch e.Backend {
	case config.EmbedderGenAI:
		embedder = retrieval.NewGenAIEmbedder(genaiClient, e.Model)
	default:
		embedder = retrieval.NewHashEmbedder(e.Dimensions)
	}
	cached, err := retrieval.NewCachedEmbedder(embedder, e.CacheSize)
	if err != nil {
		return nil, err
	}
	kb, err := retrieval.NewKnowledgeBase(e.DBPath, cached)
	if err != nil {
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}
	return kb, nil
}

func newWebSearcher(w config.WebSettings, logger *slog.Logger) (*retrieval.DuckDuckGo, error) {
	return retrieval.NewDuckDuckGo(retrieval.DuckDuckGoConfig{
		BaseURL:     w.BaseURL,
		UserAgent:   w.UserAgent,
		MinInterval: w.MinInterval,
		Timeout:     w.Timeout,
		CacheSize:   w.CacheSize,
		Retry:       flowerrors.DefaultPolicy,
		Logger:      logger,
	})
}

func newReasoningClient(ctx context.Context, g config.GeminiSettings, logger *slog.Logger) (llm.Client, error) {
	retry := flowerrors.DefaultPolicy
	retry.MaxAttempts = max(g.MaxAttempts, 1)
	return llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:      g.APIKey,
		BaseURL:     g.BaseURL,
		Model:       g.Model,
		Temperature: g.Temperature,
		MaxTokens:   g.MaxTokens,
		Timeout:     g.Timeout,
		Retry:       retry,
		Logger:      logger,
	})
}

// ingest loads a catalog file and a guide directory concurrently. Empty
// paths are skipped.
func ingest(ctx context.Context, kb *retrieval.KnowledgeBase, catalogPath, guidesDir string, chunkChars int) (nTools, nChunks int, err error) {
	g, ctx := errgroup.WithContext(ctx)
	if catalogPath != "" {
		g.Go(func() error {
			entries, err := retrieval.LoadCatalog(catalogPath)
			if err != nil {
				return err
			}
			if err := kb.AddTools(ctx, entries); err != nil {
				return fmt.Errorf("add tools: %w", err)
			}
			nTools = len(entries)
			return nil
		})
	}
	if guidesDir != "" {
		g.Go(func() error {
			loaded, err := retrieval.LoadGuides(guidesDir, chunkChars)
			if err != nil {
				return err
			}
			if err := kb.AddGuides(ctx, loaded); err != nil {
				return fmt.Errorf("add guides: %w", err)
			}
			nChunks = len(loaded)
			return nil
		})
	}
	err = g.Wait()
	return nTools, nChunks, err
}
