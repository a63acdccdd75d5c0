// SPDX-License-Identifier: Apache-2.0

// Package httpapi serves the evidence service over HTTP.
//
// Routes:
//
//	GET    /healthz
//	GET    /metrics
//	POST   /v1/documents
//	GET    /v1/documents
//	GET    /v1/documents/:id
//	DELETE /v1/documents/:id
//	POST   /v1/documents/:id/extractions
//	GET    /v1/documents/:id/extractions
//	GET    /v1/documents/:id/extractions/latest
//	POST   /v1/documents/:id/assessments
//	GET    /v1/documents/:id/assessments
//	POST   /v1/documents/:id/locate
//	POST   /v1/examples
//	DELETE /v1/examples/:id
//	POST   /v1/validate
//	POST   /v1/completeness
//	POST   /v1/certainty
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gemaraproj/evidence-mcp/internal/metrics"
	"github.com/gemaraproj/evidence-mcp/internal/service"
)

// Handlers holds the dependencies of the HTTP handlers.
type Handlers struct {
	svc     *service.Service
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandlers creates Handlers. A nil logger discards output.
func NewHandlers(svc *service.Service, m *metrics.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{svc: svc, metrics: m, logger: logger}
}

// NewRouter builds a gin engine with every route registered.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.logger))
	router.GET("/healthz", h.HandleHealth)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	RegisterRoutes(router.Group("/v1"), h)
	return router
}

// RegisterRoutes registers the /v1 endpoints on rg.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	docs := rg.Group("/documents")
	docs.POST("", h.HandleImportDocument)
	docs.GET("", h.HandleListDocuments)
	docs.GET("/:id", h.HandleGetDocument)
	docs.DELETE("/:id", h.HandleDeleteDocument)
	docs.POST("/:id/extractions", h.HandleExtract)
	docs.GET("/:id/extractions", h.HandleListExtractions)
	docs.GET("/:id/extractions/latest", h.HandleLatestExtraction)
	docs.POST("/:id/assessments", h.HandleAssess)
	docs.GET("/:id/assessments", h.HandleListAssessments)
	docs.POST("/:id/locate", h.HandleLocate)

	rg.POST("/examples", h.HandleAddExample)
	rg.DELETE("/examples/:id", h.HandleRetireExample)

	rg.POST("/validate", h.HandleValidate)
	rg.POST("/completeness", h.HandleCompleteness)
	rg.POST("/certainty", h.HandleCertainty)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}
