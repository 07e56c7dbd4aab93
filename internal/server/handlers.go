package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	gwerrors "vita/internal/errors"
	"vita/internal/gateway"
	"vita/internal/registry"
	"vita/internal/tool"
)

type errorResponse struct {
	Error   string         `json:"error"`
	Code    gwerrors.Code  `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(code gwerrors.Code) int {
	switch code {
	case gwerrors.CodeToolNotFound, gwerrors.CodeNotFound:
		return http.StatusNotFound
	case gwerrors.CodeInvalidParameters, gwerrors.CodeConfigurationError:
		return http.StatusBadRequest
	case gwerrors.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case gwerrors.CodeToolTimeout:
		return http.StatusGatewayTimeout
	case gwerrors.CodeTimeout:
		return http.StatusRequestTimeout
	case gwerrors.CodeToolExecutionError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	gwErr, ok := gwerrors.As(err)
	if !ok {
		s.logger.Error("HTTP 500 - %v", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	status := statusFor(gwErr.Code)
	if retryAfter, ok := gwerrors.RetryAfter(gwErr); ok {
		c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	}
	s.logger.Warn("HTTP %d - %s", status, gwErr.Error())
	c.JSON(status, errorResponse{
		Error:   gwErr.Message,
		Code:    gwErr.Code,
		Details: gwErr.Details,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	report := s.facade.Statistics()
	c.JSON(http.StatusOK, gin.H{
		"status":          report.Health,
		"uptime_seconds":  time.Since(s.startTime).Seconds(),
		"tools":           report.TotalTools,
		"total_calls":     report.TotalCalls,
		"success_rate":    report.SuccessRate,
		"in_flight":       s.dispatcher.InFlight(),
		"active_sessions": report.ActiveSessions,
	})
}

func (s *Server) handleListTools(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(c, gwerrors.NewInvalidParameters("", nil, []string{"limit"}))
			return
		}
		limit = parsed
	}
	summaries := s.facade.List(registry.Filter{
		Query:    c.Query("q"),
		Category: tool.Category(c.Query("category")),
		Tag:      c.Query("tag"),
		Limit:    limit,
	})
	c.JSON(http.StatusOK, gin.H{"tools": summaries, "count": len(summaries)})
}

func (s *Server) handleGetTool(c *gin.Context) {
	detail, err := s.facade.Get(c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// handleRegisterTool accepts a tool spec without a handler: calls to it are
// answered by the default handler until a handler is bound in-process.
func (s *Server) handleRegisterTool(c *gin.Context) {
	var spec tool.Tool
	if err := c.ShouldBindJSON(&spec); err != nil {
		s.writeError(c, gwerrors.NewConfigurationError("body", err))
		return
	}
	replaced := s.catalog.Has(spec.Name)
	if err := s.catalog.Register(&spec, nil); err != nil {
		s.writeError(c, err)
		return
	}
	s.stats.Ensure(spec.Name)
	status := http.StatusCreated
	if replaced {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"name": spec.Name, "replaced": replaced})
}

func (s *Server) handleUnregisterTool(c *gin.Context) {
	if err := s.catalog.Unregister(c.Param("name")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"categories": s.facade.Categories(),
		"known":      tool.Categories(),
	})
}

func (s *Server) handleStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, s.facade.Statistics())
}

func (s *Server) handleExport(c *gin.Context) {
	switch format := c.DefaultQuery("format", "json"); format {
	case "json":
		data, err := s.facade.ExportJSON()
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	case "yaml":
		data, err := s.facade.ExportYAML()
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/x-yaml", data)
	default:
		s.writeError(c, gwerrors.NewConfigurationError("format",
			fmt.Errorf("unsupported export format %q", format)))
	}
}

type executeBody struct {
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params"`
	SessionID string         `json:"session_id"`
	Priority  int            `json:"priority"`
}

func (b executeBody) request(caller string) gateway.Request {
	return gateway.Request{
		Tool:      b.Tool,
		Params:    b.Params,
		CallerID:  caller,
		SessionID: b.SessionID,
		Priority:  b.Priority,
	}
}

func (s *Server) handleExecute(c *gin.Context) {
	var body executeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, gwerrors.NewConfigurationError("body", err))
		return
	}

	result := s.dispatcher.Execute(c.Request.Context(), body.request(callerID(c)))
	status := http.StatusOK
	if !result.Success {
		status = statusFor(result.ErrorCode)
		if result.ErrorCode == gwerrors.CodeRateLimitExceeded {
			if seconds, ok := result.ErrorDetail["retry_after_seconds"].(float64); ok {
				c.Header("Retry-After", strconv.Itoa(int(seconds)))
			}
		}
	}
	c.JSON(status, result)
}

func (s *Server) handleExecuteAsync(c *gin.Context) {
	var body executeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, gwerrors.NewConfigurationError("body", err))
		return
	}

	requestID, sessionID := s.dispatcher.ExecuteAsync(body.request(callerID(c)))
	c.JSON(http.StatusAccepted, gin.H{
		"request_id": requestID,
		"session_id": sessionID,
	})
}

// handleAwait polls or blocks for an async result. wait_ms=0 (the default)
// is a pure poll; the wait is capped so a client cannot pin a connection.
func (s *Server) handleAwait(c *gin.Context) {
	const maxWait = 30 * time.Second

	wait := time.Duration(0)
	if raw := c.Query("wait_ms"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(c, gwerrors.NewInvalidParameters("", nil, []string{"wait_ms"}))
			return
		}
		wait = time.Duration(parsed) * time.Millisecond
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	if wait > maxWait {
		wait = maxWait
	}

	result, err := s.dispatcher.AwaitResult(c.Param("id"), wait)
	if err != nil {
		if gwerrors.HasCode(err, gwerrors.CodeTimeout) {
			c.JSON(http.StatusAccepted, gin.H{
				"request_id": c.Param("id"),
				"status":     "running",
			})
			return
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCancel(c *gin.Context) {
	if !s.dispatcher.Cancel(c.Param("id")) {
		s.writeError(c, gwerrors.NewHandleNotFound(c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": c.Param("id"), "cancelled": true})
}
