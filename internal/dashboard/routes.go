package dashboard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/civitaslab/demandgen/internal/batch"
	"github.com/civitaslab/demandgen/internal/coverage"
	"github.com/civitaslab/demandgen/internal/feedback"
	"github.com/civitaslab/demandgen/internal/gap"
	"github.com/civitaslab/demandgen/internal/models"
	"github.com/civitaslab/demandgen/internal/queue"
	"github.com/civitaslab/demandgen/internal/recovery"
	"github.com/civitaslab/demandgen/internal/review"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// deps bundles what the handlers need.
type deps struct {
	db          *gorm.DB
	store       coverage.Store
	collab      *batch.Registry
	runs        *RunRegistry
	pacing      time.Duration
	callTimeout time.Duration
}

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, d *deps) {
	api := router.Group("/api")

	api.GET("/plans/:id/gap", d.handleGap)
	api.POST("/plans/:id/queue", d.handleGenerateQueue)
	api.GET("/plans/:id/queue", d.handleListQueue)
	api.GET("/plans/:id/patterns", d.handlePatterns)
	api.POST("/plans/:id/recover", d.handleRecover)

	api.POST("/batch", d.handleBatchStart)
	api.POST("/batch/:id/pause", d.handleBatchControl((*batch.Runner).Pause))
	api.POST("/batch/:id/resume", d.handleBatchControl((*batch.Runner).Resume))
	api.POST("/batch/:id/stop", d.handleBatchControl((*batch.Runner).Stop))
	api.GET("/batch/:id/progress", d.handleBatchProgress)

	api.POST("/items/:id/approve", d.handleApprove)
	api.POST("/items/:id/reject", d.handleReject)
	api.POST("/items/:id/regenerate", d.handleRegenerate)
	api.POST("/items/:id/skip", d.handleSkip)
}

func (d *deps) handleGap(c *gin.Context) {
	report, err := gap.Analyze(d.store, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (d *deps) handleGenerateQueue(c *gin.Context) {
	var req struct {
		MaxItems int `json:"max_items"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MaxItems < 1 {
		req.MaxItems = 10
	}

	report, err := gap.Analyze(d.store, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items, err := queue.Generate(d.db, report, req.MaxItems)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": len(items), "items": items})
}

func (d *deps) handleListQueue(c *gin.Context) {
	items, err := queue.List(d.db, c.Param("id"), queue.ListFilters{
		Status:     c.Query("status"),
		EntityType: c.Query("entity_type"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (d *deps) handlePatterns(c *gin.Context) {
	patterns, err := feedback.Patterns(d.db, c.Param("id"), feedback.DefaultMaxExamples)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns})
}

func (d *deps) handleRecover(c *gin.Context) {
	var req struct {
		WindowMins int `json:"window_mins"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reset, err := recovery.ResetStuck(d.db, c.Param("id"), time.Duration(req.WindowMins)*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": len(reset), "items": reset})
}

func (d *deps) handleBatchStart(c *gin.Context) {
	var req struct {
		PlanID      string `json:"plan_id"`
		EntityType  string `json:"entity_type"`
		BatchSize   int    `json:"batch_size"`
		AutoApprove bool   `json:"auto_approve"`
		MinQuality  int    `json:"min_quality"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The run outlives this request; it must not inherit the request context.
	runner, err := batch.Start(context.Background(), d.db, d.collab, batch.Params{
		PlanID:           req.PlanID,
		EntityTypeFilter: req.EntityType,
		BatchSize:        req.BatchSize,
		AutoApprove:      req.AutoApprove,
		MinQuality:       req.MinQuality,
		Pacing:           d.pacing,
		CallTimeout:      d.callTimeout,
	}, nil)
	if err != nil {
		// Start only fails on configuration errors.
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d.runs.Add(runner)
	c.JSON(http.StatusOK, gin.H{"run_id": runner.ID(), "total": runner.Progress().Total})
}

func (d *deps) handleBatchControl(control func(*batch.Runner)) gin.HandlerFunc {
	return func(c *gin.Context) {
		runner, ok := d.runs.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no live run with that ID"})
			return
		}
		control(runner)
		c.JSON(http.StatusOK, progressBody(runner.Progress()))
	}
}

func (d *deps) handleBatchProgress(c *gin.Context) {
	runID := c.Param("id")
	if runner, ok := d.runs.Get(runID); ok {
		c.JSON(http.StatusOK, progressBody(runner.Progress()))
		return
	}

	// Finished or started by another process: read the persisted row.
	var run models.BatchRun
	if err := d.db.Where("id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown run ID"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":       run.ID,
		"state":        run.Status,
		"total":        run.Total,
		"completed":    run.Completed,
		"failed":       run.Failed,
		"current_item": run.CurrentItemID,
	})
}

func progressBody(p batch.Progress) gin.H {
	return gin.H{
		"run_id":       p.RunID,
		"state":        p.State,
		"total":        p.Total,
		"completed":    p.Completed,
		"failed":       p.Failed,
		"current_item": p.CurrentItem,
	}
}

func (d *deps) handleApprove(c *gin.Context) {
	reviewResult(c, review.Approve(d.db, c.Param("id")))
}

func (d *deps) handleSkip(c *gin.Context) {
	reviewResult(c, review.Skip(d.db, c.Param("id")))
}

func (d *deps) handleReject(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
		Notes  string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reviewResult(c, review.Reject(d.db, c.Param("id"), req.Reason, req.Notes))
}

func (d *deps) handleRegenerate(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reviewResult(c, review.RequestRegeneration(d.db, c.Param("id"), req.Notes))
}

// reviewResult maps review gateway errors onto HTTP statuses: validation
// problems are 400, state conflicts 409.
func reviewResult(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(err, review.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, queue.ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
