package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"olx-watcher/metrics"
	"olx-watcher/models"
	"olx-watcher/scheduler"
	"olx-watcher/storage"
	"olx-watcher/utils"
)

// Runner is the part of the scheduler the API drives.
type Runner interface {
	Trigger(ctx context.Context, trigger models.RunTrigger) (*models.RunRecord, error)
	Cancel() bool
	State() scheduler.State
	LastRun() *models.RunRecord
	History(ctx context.Context, n int) ([]*models.RunRecord, error)
}

// Server exposes the listing store and scrape runs over HTTP.
type Server struct {
	store   storage.Store
	runner  Runner
	auth    TokenValidator
	metrics *metrics.Metrics
	logger  *utils.Logger
	cors    string
	router  *gin.Engine
}

// ScrapeResponse is returned by POST /scrape.
type ScrapeResponse struct {
	TotalListings  int               `json:"total_listings"`
	UnseenListings int               `json:"unseen_listings"`
	NewListings    int               `json:"new_listings"`
	Rejected       bool              `json:"rejected"`
	Run            *models.RunRecord `json:"run,omitempty"`
}

// NewServer wires routes. m may be nil, which disables /metrics.
func NewServer(store storage.Store, runner Runner, auth TokenValidator, m *metrics.Metrics, logger *utils.Logger, corsOrigin string) *Server {
	s := &Server{
		store:   store,
		runner:  runner,
		auth:    auth,
		metrics: m,
		logger:  logger,
		cors:    corsOrigin,
		router:  gin.New(),
	}
	s.registerRoutes()
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// HTTPServer returns an http.Server for addr serving the router.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) registerRoutes() {
	s.router.Use(gin.Recovery(), RequestLogger(s.logger), CORS(s.cors))

	s.router.GET("/healthz", s.handleHealthz)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	authed := s.router.Group("/")
	authed.Use(BearerAuth(s.auth))
	{
		authed.GET("/listings", s.handleListListings)
		authed.POST("/listings/mark-seen", s.handleMarkSeen)
		authed.POST("/listings/export", s.handleExport)
		authed.GET("/stats", s.handleStats)
		authed.POST("/scrape", s.handleScrape)
		authed.POST("/scrape/cancel", s.handleCancel)
		authed.GET("/runs/last", s.handleLastRun)
		authed.GET("/runs", s.handleRuns)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "run_state": s.runner.State()})
}

func (s *Server) handleListListings(c *gin.Context) {
	includeSeen, ok := boolQuery(c, "include_seen", true)
	if !ok {
		return
	}
	listings, err := s.store.List(c.Request.Context(), models.ListFilter{IncludeSeen: includeSeen})
	if err != nil {
		s.storeFailure(c, "list listings", err)
		return
	}
	c.JSON(http.StatusOK, listings)
}

func (s *Server) handleMarkSeen(c *gin.Context) {
	var ids []string
	if err := c.ShouldBindJSON(&ids); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON array of listing ids"})
		return
	}
	n, err := s.store.MarkSeen(c.Request.Context(), ids)
	if err != nil {
		s.storeFailure(c, "mark seen", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"updated": n,
		"message": fmt.Sprintf("Marked %d listings as seen", n),
	})
}

func (s *Server) handleExport(c *gin.Context) {
	exporter, err := storage.ExporterFor(c.DefaultQuery("format", "csv"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid format, use csv or excel"})
		return
	}
	includeSeen, ok := boolQuery(c, "include_seen", true)
	if !ok {
		return
	}

	listings, err := s.store.List(c.Request.Context(), models.ListFilter{IncludeSeen: includeSeen})
	if err != nil {
		s.storeFailure(c, "export listings", err)
		return
	}

	var buf bytes.Buffer
	if err := exporter.Export(&buf, listings); err != nil {
		s.logger.Error("[api] Export failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}

	filename := storage.ExportFilename(exporter, includeSeen)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, exporter.ContentType(), buf.Bytes())
}

func (s *Server) handleStats(c *gin.Context) {
	st, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.storeFailure(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleScrape runs a scrape to completion. The run outlives a disconnected
// client so pages are never abandoned half way.
func (s *Server) handleScrape(c *gin.Context) {
	ctx := c.Request.Context()
	rec, runErr := s.runner.Trigger(context.WithoutCancel(ctx), models.TriggerManual)
	if runErr != nil && !errors.Is(runErr, scheduler.ErrAlreadyRunning) {
		s.logger.Error("[api] Trigger failed: %v", runErr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start scrape"})
		return
	}

	st, err := s.store.Stats(ctx)
	if err != nil {
		s.storeFailure(c, "stats after scrape", err)
		return
	}

	resp := ScrapeResponse{
		TotalListings:  st.Total,
		UnseenListings: st.Unseen,
		Run:            rec,
	}
	if runErr != nil {
		resp.Rejected = true
		c.JSON(http.StatusConflict, resp)
		return
	}
	resp.NewListings = rec.NewlyAdded
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCancel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cancelled": s.runner.Cancel()})
}

func (s *Server) handleLastRun(c *gin.Context) {
	rec := s.runner.LastRun()
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run has finished yet"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	runs, err := s.runner.History(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("[api] Run history unavailable: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run history unavailable"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) storeFailure(c *gin.Context, op string, err error) {
	s.logger.Error("[api] %s: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
}

func boolQuery(c *gin.Context, key string, def bool) (bool, bool) {
	raw, present := c.GetQuery(key)
	if !present || raw == "" {
		return def, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be true or false"})
		return false, false
	}
	return v, true
}
