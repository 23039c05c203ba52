package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/luissimon96/migration-validator/pkg/events"
	"github.com/luissimon96/migration-validator/pkg/models"
	"github.com/luissimon96/migration-validator/pkg/report"
	"github.com/luissimon96/migration-validator/pkg/services"
)

// submitValidationHandler handles POST /api/validate and
// POST /api/validate/hybrid (multipart: JSON config + files per side).
func (s *Server) submitValidationHandler(c *gin.Context) {
	configPart := c.PostForm("config")
	if configPart == "" {
		abortError(c, http.StatusBadRequest, CodeValidationInput, "missing config part", nil)
		return
	}
	var req ValidateConfigRequest
	if err := json.Unmarshal([]byte(configPart), &req); err != nil {
		abortError(c, http.StatusBadRequest, CodeValidationInput, "malformed config JSON", err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		abortError(c, http.StatusBadRequest, CodeValidationInput, "invalid config", err.Error())
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		abortError(c, http.StatusBadRequest, CodeValidationInput, "malformed multipart body", err.Error())
		return
	}

	sourceBundle, err := readBundle(append(form.File["source_files"], form.File["source_screenshots"]...), s.cfg.Limits)
	if err != nil {
		abortError(c, http.StatusBadRequest, CodeValidationInput, err.Error(), nil)
		return
	}
	targetBundle, err := readBundle(append(form.File["target_files"], form.File["target_screenshots"]...), s.cfg.Limits)
	if err != nil {
		abortError(c, http.StatusBadRequest, CodeValidationInput, err.Error(), nil)
		return
	}

	requestID := uuid.NewString()
	sess, err := req.toSession(requestID, tenantFrom(c), sourceBundle, targetBundle)
	if err != nil {
		abortError(c, http.StatusBadRequest, CodeValidationInput, err.Error(), nil)
		return
	}

	s.admit(c, sess)
}

// submitBehavioralHandler handles POST /api/behavioral/validate (JSON).
func (s *Server) submitBehavioralHandler(c *gin.Context) {
	var req BehavioralValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, CodeValidationInput, "malformed request body", err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		abortError(c, http.StatusBadRequest, CodeValidationInput, "invalid request", err.Error())
		return
	}

	sess := &models.Session{
		RequestID:  uuid.NewString(),
		Tenant:     tenantFrom(c),
		Scope:      models.ScopeBehavioral,
		Band:       models.BandInteractive,
		SourceTech: models.TechnologyContext{Name: "live"},
		TargetTech: models.TechnologyContext{Name: "live"},
		Behavioral: behavioralConfig(req.SourceURL, req.TargetURL, req.Scenarios, req.Credentials, req.TimeoutSeconds),
	}
	s.admit(c, sess)
}

// admit pushes the session through the scheduler and acknowledges.
func (s *Server) admit(c *gin.Context, sess *models.Session) {
	if err := s.scheduler.Admit(c.Request.Context(), sess); err != nil {
		mapServiceError(c, err)
		return
	}
	s.broker.Open(sess.ID)
	c.JSON(http.StatusAccepted, AcceptedResponse{RequestID: sess.RequestID, Status: "accepted"})
}

// statusHandler handles GET /api/validate/:request_id/status.
func (s *Server) statusHandler(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}

	resultAvailable := false
	if sess.Status == models.StatusCompleted {
		if _, err := s.results.GetUnifiedResult(c.Request.Context(), sess.ID); err == nil {
			resultAvailable = true
		}
	}
	c.JSON(http.StatusOK, StatusResponse{
		RequestID:       sess.RequestID,
		Status:          string(sess.Status),
		Progress:        progressFor(sess.Status),
		ResultAvailable: resultAvailable,
		Error:           sess.Error,
	})
}

// resultHandler handles GET /api/validate/:request_id/result. Returns 202
// while the session is still running.
func (s *Server) resultHandler(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	if !sess.Status.IsTerminal() {
		c.JSON(http.StatusAccepted, AcceptedResponse{RequestID: sess.RequestID, Status: string(sess.Status)})
		return
	}

	result, err := s.results.GetUnifiedResult(c.Request.Context(), sess.ID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			// Terminal without a stored result: failed, cancelled, or
			// timed out before synthesis. Shape matches a success.
			c.JSON(http.StatusOK, emptyResult(sess))
			return
		}
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": sess.RequestID, "result": result})
}

// emptyResult renders a structurally complete result for sessions that
// terminated without synthesis.
func emptyResult(sess *models.Session) gin.H {
	return gin.H{
		"request_id": sess.RequestID,
		"result": models.UnifiedResult{
			Kind:      models.ResultStaticOnly,
			Status:    models.ResultError,
			Summary:   "session " + string(sess.Status) + ": " + sess.Error,
			ErrorNote: sess.Error,
		},
	}
}

// reportHandler handles GET /api/validate/:request_id/report?format=.
func (s *Server) reportHandler(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		abortError(c, http.StatusBadRequest, CodeValidationInput, err.Error(), nil)
		return
	}

	result, err := s.results.GetUnifiedResult(c.Request.Context(), sess.ID)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	rendered, err := report.Render(sess.RequestID, result, format)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.Data(http.StatusOK, format.ContentType(), rendered)
}

// cancelOrDeleteHandler handles DELETE /api/validate/:request_id: running
// sessions are cancelled, terminal sessions are soft-deleted.
func (s *Server) cancelOrDeleteHandler(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}

	if sess.Status.IsTerminal() {
		actor := tenantFrom(c)
		if actor == "" {
			actor = c.ClientIP()
		}
		if err := s.sessions.SoftDelete(c.Request.Context(), sess.ID, actor); err != nil {
			mapServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"request_id": sess.RequestID, "status": "deleted"})
		return
	}

	if err := s.scheduler.Cancel(c.Request.Context(), sess, s.pool); err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{RequestID: sess.RequestID, Status: "cancelling"})
}

// listSessionsHandler handles GET /api/validate with filters and
// pagination.
func (s *Server) listSessionsHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	list, err := s.sessions.ListSessions(c.Request.Context(), services.SessionFilters{
		Status:     c.Query("status"),
		Scope:      c.Query("scope"),
		SourceTech: c.Query("source_tech"),
		TargetTech: c.Query("target_tech"),
		Tenant:     tenantFrom(c),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// eventsHandler upgrades to WebSocket and streams the session's progress
// events; evicted topics serve the stored snapshot.
func (s *Server) eventsHandler(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		abortError(c, http.StatusBadRequest, CodeValidationInput, "websocket upgrade failed", nil)
		return
	}
	events.StreamSession(c.Request.Context(), conn, s.broker, s.logs, sess.ID)
}

// lookup resolves the request_id path parameter.
func (s *Server) lookup(c *gin.Context) (*models.Session, bool) {
	requestID := c.Param("request_id")
	sess, err := s.sessions.GetByRequestID(c.Request.Context(), requestID)
	if err != nil {
		mapServiceError(c, err)
		return nil, false
	}
	return sess, true
}
