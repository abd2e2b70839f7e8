// Package api exposes the recommendation pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hf-guideline-server/internal/config"
	"github.com/hf-guideline-server/internal/domain"
	"github.com/hf-guideline-server/internal/service"
	"github.com/hf-guideline-server/internal/store"
)

// Server is the HTTP front of the pipeline.
type Server struct {
	cfg      *config.Config
	logger   *logrus.Logger
	pipeline *service.Pipeline
	router   *gin.Engine
	server   *http.Server
}

// NewServer creates the HTTP server and wires its routes.
func NewServer(cfg *config.Config, logger *logrus.Logger, pipeline *service.Pipeline) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		pipeline: pipeline,
		router:   router,
	}
	s.setupRoutes()
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/recommend", s.handleRecommend)
		v1.POST("/recommend/batch", s.handleRecommendBatch)
		v1.GET("/case/:id", s.handleGetCase)
		v1.GET("/cases", s.handleListCases)
		v1.POST("/guidelines/reload", s.handleReload)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"edition":   s.pipeline.Edition(),
		"timestamp": time.Now().UTC(),
	})
}

type recommendRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleRecommend(c *gin.Context) {
	var req recommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  domain.ErrCodeInternal,
			"error": "request body must carry a non-empty text field",
		})
		return
	}

	result, err := s.pipeline.Process(c.Request.Context(), req.Text)
	if err != nil {
		var failure *domain.ValidationFailure
		if errors.As(err, &failure) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"code":           domain.ErrCodeValidation,
				"error":          failure.Error(),
				"missing_fields": failure.MissingFields,
			})
			return
		}
		s.logger.WithError(err).Error("Recommendation request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  domain.ErrCodeInternal,
			"error": "internal error",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

type batchRequest struct {
	Text      string `json:"text" binding:"required"`
	Separator string `json:"separator"`
}

type batchItemResponse struct {
	Index  int             `json:"index"`
	Result *service.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (s *Server) handleRecommendBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  domain.ErrCodeInternal,
			"error": "request body must carry a non-empty text field",
		})
		return
	}

	items := s.pipeline.ProcessBatch(c.Request.Context(), req.Text, req.Separator)
	out := make([]batchItemResponse, len(items))
	for i, item := range items {
		out[i] = batchItemResponse{Index: item.Index, Result: item.Result}
		if item.Err != nil {
			out[i].Error = item.Err.Error()
		}
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (s *Server) handleGetCase(c *gin.Context) {
	id := c.Param("id")
	saved, err := s.pipeline.Case(c.Request.Context(), id)
	if err != nil {
		s.logger.WithError(err).WithField("case_id", id).Error("Case lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  domain.ErrCodeStore,
			"error": "case lookup failed",
		})
		return
	}
	if saved == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  domain.ErrCodeStore,
			"error": fmt.Sprintf("case %s not found", id),
		})
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) handleListCases(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	cases, total, err := s.pipeline.Cases(c.Request.Context(), limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("Case listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  domain.ErrCodeStore,
			"error": "case listing failed",
		})
		return
	}
	if cases == nil {
		cases = []*store.Case{}
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "cases": cases})
}

type reloadRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleReload(c *gin.Context) {
	var req reloadRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  domain.ErrCodeInternal,
			"error": "malformed request body",
		})
		return
	}

	edition, err := s.pipeline.Reload(req.Path)
	if err != nil {
		// The active edition is untouched on failure.
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  domain.ErrCodeKBLoad,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"edition": edition})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
