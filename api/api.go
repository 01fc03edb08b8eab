// Package api exposes the coordinator over HTTP with gin: job submission,
// job and task inspection, cancellation, worker listing and stats.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/coord/engine"
)

// API wires the HTTP handlers to an Engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used for request and error logging.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from an Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a gin engine with every route registered.
func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), a.requestLogger())
	a.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers all coordinator routes on router.
func (a *API) RegisterRoutes(router gin.IRouter) {
	router.GET("/healthz", a.health)

	v1 := router.Group("/v1")
	{
		v1.POST("/jobs", a.submitJob)
		v1.GET("/jobs/:id", a.getJob)
		v1.DELETE("/jobs/:id", a.cancelJob)
		v1.DELETE("/jobs/:id/data", a.cleanupJob)
		v1.GET("/tasks/:id", a.getTask)

		v1.GET("/workers", a.listWorkers)
		v1.GET("/queues/:name", a.queueSize)
		v1.GET("/stats", a.stats)
	}
}

// requestLogger logs one line per request through slog.
func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		a.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
		)
	}
}
