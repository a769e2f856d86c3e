package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/api/handlers"
)

// ServerConfig wires the HTTP surface to the core services.
type ServerConfig struct {
	Environment string
	Logger      *zap.Logger

	Upload   *handlers.UploadHandler
	Analyze  *handlers.AnalyzeHandler
	Generate *handlers.GenerateHandler
	Jobs     *handlers.JobsHandler

	OutputsRoot string
}

// Server is the thin HTTP boundary; all behavior lives in the core packages.
type Server struct {
	cfg    *ServerConfig
	router *gin.Engine
}

func NewServer(cfg *ServerConfig) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{cfg: cfg, router: router}
	s.registerRoutes()
	return s
}

// Router exposes the configured engine to the HTTP server.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api/v1")
	{
		api.POST("/uploads", s.cfg.Upload.Upload)
		api.POST("/analyze", s.cfg.Analyze.Analyze)
		api.POST("/generate", s.cfg.Generate.Generate)
		api.GET("/jobs", s.cfg.Jobs.List)
		api.GET("/jobs/:id", s.cfg.Jobs.Get)
		api.GET("/jobs/:id/resume", s.cfg.Jobs.ResumeInfo)
		api.DELETE("/jobs/:id", s.cfg.Jobs.Delete)
	}

	// Finished videos, thumbnails, and metadata are served straight from the
	// outputs tree.
	s.router.Static("/outputs", s.cfg.OutputsRoot)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
