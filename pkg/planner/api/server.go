// Package api serves the planner Engine over HTTP.
//
// Routes:
//
//	POST   /chat/start              start a conversation
//	POST   /chat/feedback           answer a pending plan review
//	GET    /chat/:thread_id/status  summarize a stored conversation
//	DELETE /chat/:thread_id         drop a conversation
//	GET    /sessions                list stored conversations (?user_id= filters)
//	GET    /health                  liveness plus knowledge-base counts
//	GET    /metrics                 Prometheus exposition, when configured
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/randalmurphal/taskguide/pkg/planner"
)

// Conversations is the part of planner.Engine the server drives.
type Conversations interface {
	StartConversation(ctx context.Context, query, userID, threadID string) (planner.Reply, error)
	SubmitFeedback(ctx context.Context, threadID string, fb planner.Feedback) (planner.Reply, error)
	GetStatus(ctx context.Context, threadID string) (planner.SessionStatus, error)
	DeleteSession(ctx context.Context, threadID string) error
	ListSessions(ctx context.Context, userID string) ([]planner.SessionInfo, error)
}

// Inventory reports knowledge-base sizes for /health.
type Inventory interface {
	ToolCount() int
	GuideCount() int
}

// ProfileCounter reports stored profiles for /health.
type ProfileCounter interface {
	Count(ctx context.Context) (int, error)
}

// Server is the HTTP front end.
type Server struct {
	conversations Conversations
	inventory     Inventory
	profiles      ProfileCounter
	metrics       http.Handler
	logger        *slog.Logger
	started       time.Time
	router        *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithInventory adds catalog and guide counts to /health.
func WithInventory(inv Inventory) Option {
	return func(s *Server) { s.inventory = inv }
}

// WithProfileCounter adds the profile count to /health.
func WithProfileCounter(p ProfileCounter) Option {
	return func(s *Server) { s.profiles = p }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds a Server and its routes. Set gin's mode before calling.
func New(conversations Conversations, opts ...Option) *Server {
	s := &Server{
		conversations: conversations,
		logger:        slog.Default(),
		started:       time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = gin.New()
	s.router.Use(requestLogger(s.logger), recovery(s.logger))
	s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.GET("/sessions", s.sessions)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	chat := s.router.Group("/chat")
	{
		chat.POST("/start", s.start)
		chat.POST("/feedback", s.feedback)
		chat.GET("/:thread_id/status", s.status)
		chat.DELETE("/:thread_id", s.remove)
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
		)
	}
}

func recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic in handler", slog.Any("panic", recovered), slog.String("path", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal server error"})
	})
}
