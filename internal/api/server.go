// Package api exposes reconciliation and gap filling over a local HTTP API
// for the browser extension.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tiliavir/timesync/internal/projectmap"
	"github.com/Tiliavir/timesync/internal/session"
	"github.com/Tiliavir/timesync/internal/storage"
)

// Config configures the router.
type Config struct {
	AllowedOrigins []string
	// MappingsBase is the directory holding mappings.json.
	MappingsBase string
	Log          *zap.Logger
}

// Server holds the handler dependencies.
type Server struct {
	sess     *session.Session
	base     string
	projects *projectmap.Resolver
	log      *zap.Logger
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(sess *session.Session, cfg Config) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		sess:     sess,
		base:     cfg.MappingsBase,
		projects: projectmap.New(storage.MappingStore{Base: cfg.MappingsBase}, log),
		log:      log,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:           cfg.AllowedOrigins,
			AllowMethods:           []string{"GET", "POST", "DELETE"},
			AllowHeaders:           []string{"Origin", "Content-Type"},
			ExposeHeaders:          []string{"Content-Length", "Content-Disposition"},
			AllowWildcard:          true,
			AllowBrowserExtensions: true,
			MaxAge:                 12 * time.Hour,
		}))
	}

	api := r.Group("/api")
	api.GET("/health", s.health)
	api.POST("/reconcile", s.reconcile)
	api.GET("/result", s.result)
	api.GET("/missing.csv", s.missingCSV)
	api.POST("/missing/create-all", s.createAll)
	api.POST("/missing/:key/create", s.createOne)
	api.GET("/mappings", s.listMappings)
	api.POST("/mappings", s.addMapping)
	api.DELETE("/mappings/:id", s.removeMapping)
	api.GET("/mappings/resolve", s.resolveMapping)
	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("api request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
}

// fail renders the failure variant of a response.
func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoResult):
		return http.StatusConflict
	case errors.Is(err, storage.ErrMappingNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
