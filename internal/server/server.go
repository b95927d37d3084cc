package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/B3VERAGE/Epub-translate/internal/config"
	"github.com/B3VERAGE/Epub-translate/internal/translation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Server struct {
	config         *config.Config
	logger         *logrus.Logger
	translationSvc *translation.Service
	jobs           map[string]*job
	jobsMu         sync.RWMutex
	router         *gin.Engine
	wsHub          *Hub
	ctx            context.Context
	cancel         context.CancelFunc
}

// New wires the HTTP API around translator. Backends that can report their
// requests get the websocket hub as broadcaster.
func New(cfg *config.Config, logger *logrus.Logger, translator translation.Translator) *Server {
	gin.SetMode(gin.ReleaseMode)

	wsHub := NewHub(logger)
	go wsHub.Run()

	if b, ok := translator.(interface {
		SetBroadcaster(translation.Broadcaster)
	}); ok {
		b.SetBroadcaster(wsHub)
	}

	translationSvc := translation.NewService(translator, logger, ServiceOptions(cfg), wsHub)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:         cfg,
		logger:         logger,
		translationSvc: translationSvc,
		jobs:           make(map[string]*job),
		wsHub:          wsHub,
		ctx:            ctx,
		cancel:         cancel,
	}

	s.setupRoutes()
	return s
}

// ServiceOptions maps the translation config section onto pipeline options.
func ServiceOptions(cfg *config.Config) translation.Options {
	t := cfg.Translation
	return translation.Options{
		BatchSize:      t.BatchSize,
		MaxChars:       t.MaxChars,
		Concurrency:    t.Concurrency,
		RateLimit:      t.RateLimit,
		OnError:        t.OnError,
		SkipTags:       t.SkipTags,
		UpdateMetadata: t.UpdateMetadata,
	}
}

func (s *Server) Handler() *gin.Engine {
	return s.router
}

// Close cancels running jobs and stops the hub.
func (s *Server) Close() {
	s.cancel()
	s.wsHub.Stop()
}

func (s *Server) setupRoutes() {
	s.router = gin.New()

	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.corsMiddleware())
	s.router.Use(gin.Recovery())

	api := s.router.Group("/api")
	api.POST("/jobs", s.handleCreateJob)
	api.GET("/jobs", s.handleListJobs)
	api.GET("/jobs/:id", s.handleJobStatus)
	api.GET("/jobs/:id/download", s.handleDownload)
	api.DELETE("/jobs/:id", s.handleDeleteJob)
	api.POST("/analyze", s.handleAnalyze)
	api.GET("/languages", s.handleLanguages)

	s.router.GET("/ws", s.HandleWebSocket)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "websocket_clients": s.wsHub.GetClientCount()})
	})
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		s.logger.WithFields(logrus.Fields{
			"status":     param.StatusCode,
			"method":     param.Method,
			"path":       param.Path,
			"ip":         param.ClientIP,
			"user_agent": param.Request.UserAgent(),
			"latency":    param.Latency,
		}).Info("HTTP Request")
		return ""
	})
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
