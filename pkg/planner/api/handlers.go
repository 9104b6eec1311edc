package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/randalmurphal/taskguide/pkg/planner"
)

type startRequest struct {
	Query    string `json:"query"`
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id"`
}

// feedbackRequest carries either a structured action or free text. Both
// may be set: "modify" plus the requested change.
type feedbackRequest struct {
	ThreadID string `json:"thread_id" binding:"required"`
	Action   string `json:"action"`
	Feedback string `json:"feedback"`
}

type healthResponse struct {
	Status        string  `json:"status"`
	ToolsCount    *int    `json:"tools_count,omitempty"`
	GuidesCount   *int    `json:"guides_count,omitempty"`
	ProfilesCount *int    `json:"profiles_count,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type sessionsResponse struct {
	Sessions []planner.SessionInfo `json:"sessions"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request: " + err.Error()})
		return
	}

	reply, err := s.conversations.StartConversation(c.Request.Context(), req.Query, req.UserID, req.ThreadID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request: " + err.Error()})
		return
	}

	fb := planner.Feedback{
		Action: planner.Action(strings.ToLower(strings.TrimSpace(req.Action))),
		Text:   req.Feedback,
	}
	reply, err := s.conversations.SubmitFeedback(c.Request.Context(), req.ThreadID, fb)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) sessions(c *gin.Context) {
	list, err := s.conversations.ListSessions(c.Request.Context(), strings.TrimSpace(c.Query("user_id")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionsResponse{Sessions: list})
}

func (s *Server) status(c *gin.Context) {
	st, err := s.conversations.GetStatus(c.Request.Context(), c.Param("thread_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) remove(c *gin.Context) {
	threadID := c.Param("thread_id")
	if err := s.conversations.DeleteSession(c.Request.Context(), threadID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "deleted": true})
}

func (s *Server) health(c *gin.Context) {
	resp := healthResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(s.started).Seconds(),
	}
	if s.inventory != nil {
		tools, guides := s.inventory.ToolCount(), s.inventory.GuideCount()
		resp.ToolsCount, resp.GuidesCount = &tools, &guides
	}
	if s.profiles != nil {
		n, err := s.profiles.Count(c.Request.Context())
		if err != nil {
			s.logger.Warn("profile count failed", slog.String("error", err.Error()))
			resp.Status = "degraded"
		} else {
			resp.ProfilesCount = &n
		}
	}
	c.JSON(http.StatusOK, resp)
}

// fail maps an Engine error to a status code.
func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
	}
	c.JSON(code, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, planner.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, planner.ErrEmptyQuery),
		errors.Is(err, planner.ErrEmptyUserID),
		errors.Is(err, planner.ErrInvalidFeedback):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
