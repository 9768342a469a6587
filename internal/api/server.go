// Package api serves the read-only reporting API over the link ledger:
// run history, recent links, the unmatched backlog, and summary stats.
// All writes go through the reconcile CLI; this surface only reads.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/almsbooks/recon-backend/internal/infrastructure/storage"
)

// Config holds API server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// Server is the HTTP reporting server.
type Server struct {
	config Config
	router *gin.Engine
	repo   storage.Repository
	logger *slog.Logger
}

// NewServer creates the server and registers its routes.
func NewServer(cfg Config, repo storage.Repository, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		config: cfg,
		router: router,
		repo:   repo,
		logger: logger,
	}

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/health", s.getHealth)
		apiGroup.GET("/stats", s.getStats)
		apiGroup.GET("/links", s.getLinks)
		apiGroup.GET("/runs", s.getRuns)
		apiGroup.GET("/runs/:id", s.getRun)
		apiGroup.GET("/unmatched", s.getUnmatched)
	}

	return s
}

// Router returns the gin engine, exposed for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks.
func (s *Server) Run(addr string) error {
	s.logger.Info("starting reporting API", slog.String("addr", addr))
	return s.router.Run(addr)
}
