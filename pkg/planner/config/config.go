// Package config holds every tunable of the planner: loop bounds,
// retrieval thresholds, scoring weights, retry policy, storage and model
// backends.
//
// Settings are layered. Default returns the documented values, a YAML or
// JSON file may override any of them, and TASKGUIDE_* environment
// variables override the file:
//
//	s, err := config.Load("taskguide.yaml")
//
//	// TASKGUIDE_RETRIEVAL_THRESHOLD=0.6 TASKGUIDE_STORAGE_BACKEND=sqlite
//	s, err := config.Load("")
package config

import (
	"errors"
	"fmt"
	"time"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "TASKGUIDE"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Embedding backends.
const (
	EmbedderHash  = "hash"
	EmbedderGenAI = "genai"
)

// Settings is the complete configuration of a planner process.
type Settings struct {
	LogLevel  string `yaml:"log_level" json:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" json:"log_format" envconfig:"LOG_FORMAT"`
	HTTPAddr  string `yaml:"http_addr" json:"http_addr" envconfig:"HTTP_ADDR"`

	// MaxIterations bounds node executions per engine invocation.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations" envconfig:"MAX_ITERATIONS"`

	// MaxCallsPerTask is the hard bound on tool calls in one sub-task loop.
	MaxCallsPerTask      int     `yaml:"max_calls_per_task" json:"max_calls_per_task" envconfig:"MAX_CALLS_PER_TASK"`
	EvidenceWindow       int     `yaml:"evidence_window" json:"evidence_window" envconfig:"EVIDENCE_WINDOW"`
	DirectAnswerEvidence int     `yaml:"direct_answer_evidence" json:"direct_answer_evidence" envconfig:"DIRECT_ANSWER_EVIDENCE"`
	GuideEvidence        int     `yaml:"guide_evidence" json:"guide_evidence" envconfig:"GUIDE_EVIDENCE"`
	SubscriptionWarning  float64 `yaml:"subscription_warning_usd" json:"subscription_warning_usd" envconfig:"SUBSCRIPTION_WARNING_USD"`

	Plan      PlanSettings      `yaml:"plan" json:"plan" envconfig:"PLAN"`
	Retrieval RetrievalSettings `yaml:"retrieval" json:"retrieval" envconfig:"RETRIEVAL"`
	Retry     RetrySettings     `yaml:"retry" json:"retry" envconfig:"RETRY"`
	Scoring   ScoringSettings   `yaml:"scoring" json:"scoring" envconfig:"SCORING"`
	Storage   StorageSettings   `yaml:"storage" json:"storage" envconfig:"STORAGE"`
	Gemini    GeminiSettings    `yaml:"gemini" json:"gemini" envconfig:"GEMINI"`
	Embedding EmbeddingSettings `yaml:"embedding" json:"embedding" envconfig:"EMBEDDING"`
	Web       WebSettings       `yaml:"web" json:"web" envconfig:"WEB"`
}

// PlanSettings bounds the decomposition.
type PlanSettings struct {
	MinSubtasks int `yaml:"min_subtasks" json:"min_subtasks" envconfig:"MIN_SUBTASKS"`
	MaxSubtasks int `yaml:"max_subtasks" json:"max_subtasks" envconfig:"MAX_SUBTASKS"`
}

// RetrievalSettings drives knowledge-base search, ranking and web fallback.
type RetrievalSettings struct {
	K               int     `yaml:"k" json:"k" envconfig:"K"`
	Threshold       float64 `yaml:"threshold" json:"threshold" envconfig:"THRESHOLD"`
	AverageFloor    float64 `yaml:"average_floor" json:"average_floor" envconfig:"AVERAGE_FLOOR"`
	PrimaryWeight   float64 `yaml:"primary_weight" json:"primary_weight" envconfig:"PRIMARY_WEIGHT"`
	SecondaryWeight float64 `yaml:"secondary_weight" json:"secondary_weight" envconfig:"SECONDARY_WEIGHT"`
	WebDefaultScore float64 `yaml:"web_default_score" json:"web_default_score" envconfig:"WEB_DEFAULT_SCORE"`
	WebFallback     bool    `yaml:"web_fallback" json:"web_fallback" envconfig:"WEB_FALLBACK"`

	// Simple-path retrieval runs once, narrower, and never goes to the web.
	SimpleK         int     `yaml:"simple_k" json:"simple_k" envconfig:"SIMPLE_K"`
	SimpleThreshold float64 `yaml:"simple_threshold" json:"simple_threshold" envconfig:"SIMPLE_THRESHOLD"`
}

// RetrySettings is the retry-on-low-score policy.
type RetrySettings struct {
	Enabled       bool    `yaml:"enabled" json:"enabled" envconfig:"ENABLED"`
	MeanThreshold float64 `yaml:"mean_threshold" json:"mean_threshold" envconfig:"MEAN_THRESHOLD"`
	TaskThreshold float64 `yaml:"task_threshold" json:"task_threshold" envconfig:"TASK_THRESHOLD"`
	LowFraction   float64 `yaml:"low_fraction" json:"low_fraction" envconfig:"LOW_FRACTION"`
	MaxRetries    int     `yaml:"max_retries" json:"max_retries" envconfig:"MAX_RETRIES"`
}

// ScoringSettings weights candidate evaluation.
type ScoringSettings struct {
	SimilarityWeight    float64 `yaml:"similarity_weight" json:"similarity_weight" envconfig:"SIMILARITY_WEIGHT"`
	ReputationWeight    float64 `yaml:"reputation_weight" json:"reputation_weight" envconfig:"REPUTATION_WEIGHT"`
	AccessibilityWeight float64 `yaml:"accessibility_weight" json:"accessibility_weight" envconfig:"ACCESSIBILITY_WEIGHT"`
	TopN                int     `yaml:"top_n" json:"top_n" envconfig:"TOP_N"`
}

// StorageSettings selects where checkpoints and profiles live.
type StorageSettings struct {
	Backend      string        `yaml:"backend" json:"backend" envconfig:"BACKEND"`
	SQLitePath   string        `yaml:"sqlite_path" json:"sqlite_path" envconfig:"SQLITE_PATH"`
	RedisURL     string        `yaml:"redis_url" json:"redis_url" envconfig:"REDIS_URL"`
	RedisPrefix  string        `yaml:"redis_prefix" json:"redis_prefix" envconfig:"REDIS_PREFIX"`
	SessionTTL   time.Duration `yaml:"session_ttl" json:"session_ttl" envconfig:"SESSION_TTL"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout" envconfig:"DIAL_TIMEOUT"`
}

// GeminiSettings configures the reasoning service.
type GeminiSettings struct {
	APIKey      string        `yaml:"api_key" json:"api_key" envconfig:"API_KEY"`
	BaseURL     string        `yaml:"base_url" json:"base_url" envconfig:"BASE_URL"`
	Model       string        `yaml:"model" json:"model" envconfig:"MODEL"`
	Temperature float32       `yaml:"temperature" json:"temperature" envconfig:"TEMPERATURE"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens" envconfig:"MAX_TOKENS"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" envconfig:"TIMEOUT"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts" envconfig:"MAX_ATTEMPTS"`
}

// EmbeddingSettings configures the knowledge base.
type EmbeddingSettings struct {
	Backend    string `yaml:"backend" json:"backend" envconfig:"BACKEND"`
	Model      string `yaml:"model" json:"model" envconfig:"MODEL"`
	Dimensions int    `yaml:"dimensions" json:"dimensions" envconfig:"DIMENSIONS"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size" envconfig:"CACHE_SIZE"`
	// DBPath persists the chromem database; empty keeps it in memory.
	DBPath      string `yaml:"db_path" json:"db_path" envconfig:"DB_PATH"`
	CatalogPath string `yaml:"catalog_path" json:"catalog_path" envconfig:"CATALOG_PATH"`
	GuidesPath  string `yaml:"guides_path" json:"guides_path" envconfig:"GUIDES_PATH"`
}

// WebSettings configures the DuckDuckGo searcher.
type WebSettings struct {
	BaseURL     string        `yaml:"base_url" json:"base_url" envconfig:"BASE_URL"`
	UserAgent   string        `yaml:"user_agent" json:"user_agent" envconfig:"USER_AGENT"`
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval" envconfig:"MIN_INTERVAL"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" envconfig:"TIMEOUT"`
	CacheSize   int           `yaml:"cache_size" json:"cache_size" envconfig:"CACHE_SIZE"`
	MaxResults  int           `yaml:"max_results" json:"max_results" envconfig:"MAX_RESULTS"`
}

// Default returns the documented settings.
func Default() Settings {
	return Settings{
		LogLevel:             "info",
		LogFormat:            "text",
		HTTPAddr:             ":8080",
		MaxIterations:        200,
		MaxCallsPerTask:      3,
		EvidenceWindow:       5,
		DirectAnswerEvidence: 5,
		GuideEvidence:        10,
		SubscriptionWarning:  50,
		Plan: PlanSettings{
			MinSubtasks: 2,
			MaxSubtasks: 5,
		},
		Retrieval: RetrievalSettings{
			K:               5,
			Threshold:       0.7,
			AverageFloor:    0.5,
			PrimaryWeight:   0.7,
			SecondaryWeight: 0.3,
			WebDefaultScore: 0.5,
			WebFallback:     true,
			SimpleK:         3,
			SimpleThreshold: 0.5,
		},
		Retry: RetrySettings{
			Enabled:       true,
			MeanThreshold: 0.65,
			TaskThreshold: 0.6,
			LowFraction:   0.5,
			MaxRetries:    2,
		},
		Scoring: ScoringSettings{
			SimilarityWeight:    0.4,
			ReputationWeight:    0.4,
			AccessibilityWeight: 0.2,
			TopN:                3,
		},
		Storage: StorageSettings{
			Backend:      BackendMemory,
			SQLitePath:   "taskguide.db",
			RedisURL:     "redis://localhost:6379/0",
			RedisPrefix:  "taskguide:",
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			DialTimeout:  5 * time.Second,
		},
		Gemini: GeminiSettings{
			Model:       "gemini-2.5-flash",
			Temperature: 0.2,
			MaxTokens:   4096,
			Timeout:     60 * time.Second,
			MaxAttempts: 3,
		},
		Embedding: EmbeddingSettings{
			Backend:    EmbedderHash,
			Model:      "text-embedding-004",
			Dimensions: 256,
			CacheSize:  1024,
		},
		Web: WebSettings{
			BaseURL:     "https://lite.duckduckgo.com/lite/",
			UserAgent:   "Mozilla/5.0 (compatible; taskguide/1.0)",
			MinInterval: time.Second,
			Timeout:     10 * time.Second,
			CacheSize:   256,
			MaxResults:  5,
		},
	}
}

// Validate reports every invalid field at once.
func (s Settings) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(s.MaxIterations > 0, "max_iterations must be positive, got %d", s.MaxIterations)
	check(s.MaxCallsPerTask > 0, "max_calls_per_task must be positive, got %d", s.MaxCallsPerTask)
	check(s.EvidenceWindow >= 0, "evidence_window must not be negative, got %d", s.EvidenceWindow)
	check(s.DirectAnswerEvidence >= 0, "direct_answer_evidence must not be negative, got %d", s.DirectAnswerEvidence)
	check(s.GuideEvidence >= 0, "guide_evidence must not be negative, got %d", s.GuideEvidence)

	check(s.Plan.MinSubtasks > 0, "plan.min_subtasks must be positive, got %d", s.Plan.MinSubtasks)
	check(s.Plan.MaxSubtasks >= s.Plan.MinSubtasks,
		"plan.max_subtasks (%d) must be >= plan.min_subtasks (%d)", s.Plan.MaxSubtasks, s.Plan.MinSubtasks)

	check(s.Retrieval.K > 0, "retrieval.k must be positive, got %d", s.Retrieval.K)
	check(s.Retrieval.SimpleK > 0, "retrieval.simple_k must be positive, got %d", s.Retrieval.SimpleK)
	check(unit(s.Retrieval.Threshold), "retrieval.threshold must be in [0,1], got %v", s.Retrieval.Threshold)
	check(unit(s.Retrieval.SimpleThreshold), "retrieval.simple_threshold must be in [0,1], got %v", s.Retrieval.SimpleThreshold)
	check(unit(s.Retrieval.AverageFloor), "retrieval.average_floor must be in [0,1], got %v", s.Retrieval.AverageFloor)
	check(unit(s.Retrieval.WebDefaultScore), "retrieval.web_default_score must be in [0,1], got %v", s.Retrieval.WebDefaultScore)
	check(weightsSumToOne(s.Retrieval.PrimaryWeight, s.Retrieval.SecondaryWeight),
		"retrieval weights must sum to 1, got %v + %v", s.Retrieval.PrimaryWeight, s.Retrieval.SecondaryWeight)

	check(unit(s.Retry.MeanThreshold), "retry.mean_threshold must be in [0,1], got %v", s.Retry.MeanThreshold)
	check(unit(s.Retry.TaskThreshold), "retry.task_threshold must be in [0,1], got %v", s.Retry.TaskThreshold)
	check(unit(s.Retry.LowFraction), "retry.low_fraction must be in [0,1], got %v", s.Retry.LowFraction)
	check(s.Retry.MaxRetries >= 0, "retry.max_retries must not be negative, got %d", s.Retry.MaxRetries)

	check(weightsSumToOne(s.Scoring.SimilarityWeight, s.Scoring.ReputationWeight, s.Scoring.AccessibilityWeight),
		"scoring weights must sum to 1, got %v + %v + %v",
		s.Scoring.SimilarityWeight, s.Scoring.ReputationWeight, s.Scoring.AccessibilityWeight)
	check(s.Scoring.TopN > 0, "scoring.top_n must be positive, got %d", s.Scoring.TopN)

	switch s.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		check(s.Storage.SQLitePath != "", "storage.sqlite_path is required for the sqlite backend")
	case BackendRedis:
		check(s.Storage.RedisURL != "", "storage.redis_url is required for the redis backend")
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", s.Storage.Backend))
	}

	switch s.Embedding.Backend {
	case EmbedderHash:
		check(s.Embedding.Dimensions > 0, "embedding.dimensions must be positive, got %d", s.Embedding.Dimensions)
	case EmbedderGenAI:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.backend %q", s.Embedding.Backend))
	}

	switch s.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", s.LogFormat))
	}

	return errors.Join(errs...)
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}

func weightsSumToOne(ws ...float64) bool {
	var sum float64
	for _, w := range ws {
		if w < 0 {
			return false
		}
		sum += w
	}
	return sum > 0.999 && sum < 1.001
}
