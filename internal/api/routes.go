package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/internal/audit"
	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/internal/graph"
	"github.com/bolcd/condense-engine/internal/ingest"
	"github.com/bolcd/condense-engine/internal/notify"
	"github.com/bolcd/condense-engine/internal/replay"
	"github.com/bolcd/condense-engine/internal/store"
	"github.com/bolcd/condense-engine/pkg/models"
)

// AuditReader is the read side of the audit log served over HTTP.
type AuditReader interface {
	VerifyChain(limit int) (audit.Report, error)
	Tail(limit int) ([]audit.Entry, error)
}

// Deps wires the HTTP surface to the engine.
type Deps struct {
	Cfg        func() *config.Config
	Queue      *ingest.Queue
	Graphs     *graph.Store
	Store      *store.Store
	Audit      AuditReader
	Notifier   *notify.Manager
	Reconciler *replay.Reconciler
	Hub        *Hub
	Log        zerolog.Logger
}

type handler struct {
	Deps
}

// SetupRouter builds the gin engine: public endpoints, then the
// token-protected, rate-limited ingest and admin group.
func SetupRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	h := &handler{Deps: deps}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", h.handleHealth)
		pub.GET("/stream", deps.Hub.Subscribe)
		pub.GET("/graph/:segment", h.handleGetGraph)
	}

	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware(deps.Cfg().Server.AuthToken))
	auth.Use(NewRateLimiter(600, 50).Middleware())
	{
		auth.POST("/alerts", h.handleIngestAlert)
		auth.GET("/decisions/:alert_id", h.handleGetDecision)
		auth.GET("/suppressions", h.handleListSuppressions)
		auth.POST("/suppressions/:alert_id/validate", h.handleValidateSuppression)
		auth.GET("/late-replays", h.handleListLateReplays)
		auth.GET("/notifications", h.handleNotifications)
		auth.GET("/audit/verify", h.handleAuditVerify)
		auth.GET("/audit/tail", h.handleAuditTail)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (h *handler) handleHealth(c *gin.Context) {
	snap := h.Graphs.Current()
	c.JSON(http.StatusOK, gin.H{
		"status":         "operational",
		"policy_version": h.Cfg().Policy.Version,
		"graph_empty":    snap.Empty(),
		"queue_depth":    h.Queue.Depth(),
	})
}

type alertRequest struct {
	ID        string            `json:"id"`
	TS        time.Time         `json:"ts"`
	EntityID  string            `json:"entity_id"`
	RuleID    string            `json:"rule_id"`
	Severity  string            `json:"severity"`
	Signature string            `json:"signature"`
	Attrs     map[string]string `json:"attrs"`
}

func (h *handler) handleIngestAlert(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.EntityID == "" || req.RuleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_id and rule_id are required"})
		return
	}
	if models.SeverityRank(req.Severity) < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity", "severity": req.Severity})
		return
	}
	if req.TS.IsZero() {
		req.TS = time.Now().UTC()
	}

	a := models.Alert{
		ID: req.ID, TS: req.TS, EntityID: req.EntityID, RuleID: req.RuleID,
		Severity: req.Severity, Signature: req.Signature, Attrs: req.Attrs,
	}.WithID()

	if err := h.Queue.Submit(a); err != nil {
		if errors.Is(err, errs.ErrBackPressure) {
			c.Header("Retry-After", "1s")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest queue full, retry later"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"alert_id": a.ID, "status": "queued"})
}

func (h *handler) handleGetGraph(c *gin.Context) {
	segment := c.Param("segment")
	snap := h.Graphs.Current()
	if snap.Empty() {
		c.JSON(http.StatusNotFound, gin.H{"error": "no graph published"})
		return
	}
	g := snap.Graph
	if segment != "union" {
		g = filterGraph(g, segment)
		if len(g.Edges) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown segment", "segment": segment})
			return
		}
	}
	c.JSON(http.StatusOK, g)
}

func filterGraph(g *models.Graph, segment string) *models.Graph {
	out := &models.Graph{Segment: segment}
	seen := make(map[string]bool)
	for _, e := range g.Edges {
		if e.Segment != segment {
			continue
		}
		out.Edges = append(out.Edges, e)
		for _, n := range []string{e.Src, e.Dst} {
			if !seen[n] {
				seen[n] = true
				out.Nodes = append(out.Nodes, n)
			}
		}
	}
	for _, e := range g.EdgesPreTR {
		if e.Segment == segment {
			out.EdgesPreTR = append(out.EdgesPreTR, e)
		}
	}
	return out
}

func (h *handler) handleGetDecision(c *gin.Context) {
	rec, ok, err := h.Store.GetDecision(c.Request.Context(), c.Param("alert_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no decision for alert"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handler) handleListSuppressions(c *gin.Context) {
	status := c.Query("status")
	sups, err := h.Store.ListSuppressions(c.Request.Context(), status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sups == nil {
		sups = []models.Suppression{}
	}
	c.JSON(http.StatusOK, gin.H{"data": sups, "count": len(sups)})
}

func (h *handler) handleValidateSuppression(c *gin.Context) {
	actor := c.GetHeader("X-Actor")
	if actor == "" {
		actor = "api"
	}
	err := h.Reconciler.Validate(c.Request.Context(), c.Param("alert_id"), actor)
	if err != nil {
		if errors.Is(err, errs.ErrValidation) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert_id": c.Param("alert_id"), "status": models.SuppressionValidated})
}

func (h *handler) handleListLateReplays(c *gin.Context) {
	replays, err := h.Store.ListLateReplays(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if replays == nil {
		replays = []models.LateReplay{}
	}
	c.JSON(http.StatusOK, gin.H{"data": replays, "count": len(replays)})
}

func (h *handler) handleNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	c.JSON(http.StatusOK, gin.H{"data": h.Notifier.Recent(limit)})
}

func (h *handler) handleAuditVerify(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	report, err := h.Audit.VerifyChain(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if !report.OK {
		status = http.StatusConflict
	}
	c.JSON(status, report)
}

func (h *handler) handleAuditTail(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.Audit.Tail(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries, "count": len(entries)})
}

// BroadcastNotification marshals a notification for the hub; wired as the
// notify manager's broadcast callback.
func BroadcastNotification(hub *Hub) func(notify.Notification) {
	return func(n notify.Notification) {
		payload, err := json.Marshal(gin.H{"type": n.Kind, "notification": n})
		if err != nil {
			return
		}
		hub.Broadcast(payload)
	}
}
