package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	appconfig "trendoracle/config"
	"trendoracle/consensus"
	"trendoracle/logger"
	"trendoracle/models"
	"trendoracle/oracle"
	"trendoracle/store"
)

// Server exposes the oracle over HTTP. Consensus failures are mapped to
// 422 so callers can distinguish "the validators disagreed" from
// transport or server faults.
type Server struct {
	config      *appconfig.Config
	coordinator *oracle.Coordinator
	httpServer  *http.Server
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
}

func New(cfg *appconfig.Config, coordinator *oracle.Coordinator) *Server {
	return &Server{
		config:      cfg,
		coordinator: coordinator,
		log:         logger.GetLogger(),
	}
}

// Start binds the listener and serves until Stop or a listener error.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.Server.ListenAddr,
		Handler:      s.router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log := s.log.WithComponent("server").WithFields(logger.Fields{
		"listen_addr": s.config.Server.ListenAddr,
	})
	log.Info("starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()

	return nil
}

// Stop drains in-flight requests with a bounded grace period.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log := s.log.WithComponent("server")
	log.Info("stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown was not clean")
	}
	log.Info("HTTP server stopped")
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.handleHealth)

	api := router.Group("/api/v1/oracle")
	{
		api.POST("/score", s.handleScore)
		api.GET("/trends/:trendId/latest", s.handleLatest)
		api.GET("/trends/:trendId/history", s.handleHistory)
		api.POST("/verify/:proofHash", s.handleVerify)
		api.GET("/status", s.handleStatus)
	}

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithComponent("server").WithFields(logger.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
		}).Debug("request handled")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": s.config.Trendoracle.Name,
		"version": s.config.Trendoracle.Version,
	})
}

func (s *Server) handleScore(c *gin.Context) {
	var req models.OracleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.TrendID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trend_id is required"})
		return
	}

	resp, err := s.coordinator.ProcessOracleRequest(c.Request.Context(), req)
	if err != nil {
		var insufficientResponses *consensus.InsufficientResponsesError
		var insufficientConsensus *consensus.InsufficientConsensusError
		switch {
		case errors.As(err, &insufficientResponses):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":     "insufficient validator responses",
				"got":       insufficientResponses.Got,
				"needed":    insufficientResponses.Needed,
			})
		case errors.As(err, &insufficientConsensus):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":           "insufficient consensus",
				"agreement_ratio": insufficientConsensus.AgreementRatio,
			})
		default:
			s.log.WithComponent("server").WithError(err).Error("oracle round failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "oracle round failed"})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLatest(c *gin.Context) {
	trendID := c.Param("trendId")

	p, err := s.coordinator.GetLatestOracleData(trendID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no proof for trend"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	c.JSON(http.StatusOK, p)
}

func (s *Server) handleHistory(c *gin.Context) {
	trendID := c.Param("trendId")

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be in 1..100"})
			return
		}
		limit = parsed
	}

	proofs, err := s.coordinator.GetOracleHistory(trendID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trend_id": trendID,
		"count":    len(proofs),
		"proofs":   proofs,
	})
}

func (s *Server) handleVerify(c *gin.Context) {
	result := s.coordinator.VerifyProof(c.Request.Context(), c.Param("proofHash"))
	if result.NotFound {
		c.JSON(http.StatusNotFound, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.coordinator.GetOracleStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})
		return
	}
	c.JSON(http.StatusOK, status)
}
