package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/beacon-presence/internal/application/command"
	"github.com/alem-hub/beacon-presence/internal/application/monitor"
	"github.com/alem-hub/beacon-presence/internal/application/query"
	"github.com/alem-hub/beacon-presence/internal/domain/preferences"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
	"github.com/alem-hub/beacon-presence/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		writeJSON(c, http.StatusOK, gin.H{"healthy": true, "uptime": s.Uptime().String()})
		return
	}

	status := s.deps.Health.Check(c.Request.Context())
	if !status.Healthy {
		writeJSON(c, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(c, http.StatusOK, status)
}

func (s *Server) handleLive(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESENCE
// ══════════════════════════════════════════════════════════════════════════════

// handleGetPresence handles GET /presence.
func (s *Server) handleGetPresence(c *gin.Context) {
	if s.deps.GetPresence == nil {
		writeError(c, http.StatusNotImplemented, "not_implemented", "presence query not configured")
		return
	}

	dto, err := s.deps.GetPresence.Handle(c.Request.Context())
	if err != nil {
		s.fail(c, "get presence", err)
		return
	}
	writeJSON(c, http.StatusOK, dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECK-IN
// ══════════════════════════════════════════════════════════════════════════════

type checkInRequest struct {
	StudentID     string `json:"student_id" binding:"required"`
	SuppressRules *bool  `json:"suppress_rules"`
}

// handleCheckIn handles POST /checkin.
func (s *Server) handleCheckIn(c *gin.Context) {
	if s.deps.CheckIn == nil {
		writeError(c, http.StatusNotImplemented, "not_implemented", "check-in not configured")
		return
	}

	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := s.deps.CheckIn.Handle(c.Request.Context(), command.CheckInCommand{
		StudentID:     req.StudentID,
		SuppressRules: req.SuppressRules,
	})
	if err != nil {
		s.fail(c, "check in", err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// REMINDERS
// ══════════════════════════════════════════════════════════════════════════════

// handleForceSilent handles POST /reminders/silent.
func (s *Server) handleForceSilent(c *gin.Context) {
	if s.deps.ForceSilent == nil {
		writeError(c, http.StatusNotImplemented, "not_implemented", "reminders not configured")
		return
	}

	if err := s.deps.ForceSilent.Handle(c.Request.Context()); err != nil {
		s.fail(c, "force silent reminder", err)
		return
	}
	writeJSON(c, http.StatusAccepted, gin.H{"queued": true})
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

// handleListSessions handles GET /sessions?student_id=&limit=. Without
// student_id the checked-in student is used.
func (s *Server) handleListSessions(c *gin.Context) {
	if s.deps.ListSessions == nil {
		writeError(c, http.StatusNotImplemented, "not_implemented", "session history not configured")
		return
	}

	q := query.ListSessionsQuery{StudentID: strings.TrimSpace(c.Query("student_id"))}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid_request", "limit must be an integer")
			return
		}
		q.Limit = limit
	}

	if q.StudentID == "" && s.deps.CurrentStudent != nil {
		id, err := s.deps.CurrentStudent(c.Request.Context())
		switch {
		case errors.Is(err, preferences.ErrNotSet), err == nil && strings.TrimSpace(id) == "":
			s.fail(c, "list sessions", shared.ErrStudentNotCheckedIn)
			return
		case err != nil:
			s.fail(c, "list sessions", err)
			return
		}
		q.StudentID = id
	}

	if err := q.Validate(); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := s.deps.ListSessions.Handle(c.Request.Context(), q)
	if err != nil {
		s.fail(c, "list sessions", err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) fail(c *gin.Context, op string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", logger.Err(err), "request_id", c.GetString(requestIDKey))
	}
	writeError(c, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, monitor.ErrNotRunning), shared.IsExternalService(err):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
