// Package api serves the read-only status surface: bot schedule,
// persisted per-deal state, Prometheus metrics and a websocket stream
// of engine events.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"threecommas-tsl-bot/config"
	"threecommas-tsl-bot/internal/cache"
	"threecommas-tsl-bot/internal/database"
	"threecommas-tsl-bot/internal/events"
)

// Server is the HTTP status server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	repo       *database.Repository
	db         *database.DB
	cache      *cache.CacheService
	hub        *WSHub
	logger     zerolog.Logger
	started    time.Time
}

// NewServer creates the server and wires the websocket hub to the
// event bus. cacheService may be nil when Redis is disabled.
func NewServer(cfg config.ServerConfig, repo *database.Repository, db *database.DB, cacheService *cache.CacheService, bus *events.EventBus, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:  router,
		repo:    repo,
		db:      db,
		cache:   cacheService,
		hub:     NewWSHub(logger),
		logger:  logger.With().Str("component", "api").Logger(),
		started: time.Now(),
	}

	bus.SubscribeAll(s.hub.BroadcastEvent)

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", s.handleWebSocket)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/deals", s.handleDeals)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start runs the server until it is shut down. It blocks, so callers
// run it in a goroutine.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("status server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	schedule, err := s.repo.ListBotSchedule(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	bots := make([]gin.H, 0, len(schedule))
	for botID, next := range schedule {
		bots = append(bots, gin.H{
			"bot_id":             botID,
			"next_processing_at": next,
		})
	}

	status := gin.H{
		"uptime":  time.Since(s.started).String(),
		"bots":    bots,
		"clients": s.hub.GetClientCount(),
	}
	if s.cache != nil {
		status["cache"] = s.cache.GetStats()
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) handleDeals(c *gin.Context) {
	ctx := c.Request.Context()

	profit, err := s.repo.ListProfitStates(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	safety, err := s.repo.ListSafetyStates(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	pending, err := s.repo.ListPendingOrders(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profit":         profit,
		"safety":         safety,
		"pending_orders": pending,
	})
}
