package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akhi19-dev/incident-agent/internal/engine"
	"github.com/akhi19-dev/incident-agent/internal/models"
	"github.com/akhi19-dev/incident-agent/internal/services"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

const (
	incidentAcceptedMessage = "Payload received and processing started in the background."
	maxEventBytes           = 1 << 20
)

// IncidentHandler accepts ticket webhooks.
type IncidentHandler interface {
	HandleIncident(ctx context.Context, req models.IncidentRequest) (models.Incident, bool, error)
}

// RunbookEventHandler applies runbook change notifications.
type RunbookEventHandler interface {
	HandleRunbookEvent(ctx context.Context, payload []byte) (services.RunbookEvent, error)
}

// LogAnalyzer inspects a remote log file for known issues.
type LogAnalyzer interface {
	Analyze(ctx context.Context, logURL string) (engine.LogAnalysis, bool, error)
}

// Handlers binds the webhook endpoints. A nil dependency disables its route with 503.
type Handlers struct {
	incidents IncidentHandler
	runbooks  RunbookEventHandler
	logs      LogAnalyzer
}

// NewHandlers constructs the endpoint set.
func NewHandlers(incidents IncidentHandler, runbooks RunbookEventHandler, logs LogAnalyzer) *Handlers {
	return &Handlers{incidents: incidents, runbooks: runbooks, logs: logs}
}

// Register mounts every route on router.
func (h *Handlers) Register(router gin.IRoutes) {
	router.GET("/healthz", h.Health)
	router.POST("/service_now/webhook", h.ServiceNowWebhook)
	router.POST("/azure/automation_runbook_webhook", h.RunbookWebhook)
	router.POST("/logs/analyze", h.AnalyzeLogs)
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ServiceNowWebhook records an incident and starts the pipeline without waiting for it.
func (h *Handlers) ServiceNowWebhook(c *gin.Context) {
	if h.incidents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "incident handling not configured"})
		return
	}
	var payload models.IncidentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, _, err := h.incidents.HandleIncident(c.Request.Context(), payload.Request()); err != nil {
		_ = c.Error(err)
		c.JSON(utils.HTTPStatus(err, http.StatusInternalServerError), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": incidentAcceptedMessage})
}

// RunbookWebhook applies an activity log alert about a runbook.
func (h *Handlers) RunbookWebhook(c *gin.Context) {
	if h.runbooks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runbook events not configured"})
		return
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("read body: %v", err)})
		return
	}
	event, err := h.runbooks.HandleRunbookEvent(c.Request.Context(), payload)
	if err != nil {
		_ = c.Error(err)
		c.JSON(utils.HTTPStatus(err, http.StatusBadRequest), gin.H{"error": err.Error()})
		return
	}
	if event.Action == services.RunbookIgnored && event.Runbook == "" {
		c.JSON(http.StatusOK, gin.H{"message": "Event ignored."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Runbook %s %s.", event.Runbook, event.Action)})
}

type analyzeLogsRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// AnalyzeLogs scans a log file for CPU and disk issues.
func (h *Handlers) AnalyzeLogs(c *gin.Context) {
	if h.logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "log analysis not configured"})
		return
	}
	var req analyzeLogsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, found, err := h.logs.Analyze(c.Request.Context(), req.URL)
	if err != nil {
		_ = c.Error(err)
		c.JSON(utils.HTTPStatus(err, http.StatusBadGateway), gin.H{"error": err.Error()})
		return
	}
	issues := result.Issues
	if issues == nil {
		issues = []engine.LogIssue{}
	}
	c.JSON(http.StatusOK, gin.H{"found": found, "issues": issues})
}
