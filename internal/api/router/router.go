package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/toolbox/internal/api/handlers/tool"
	"github.com/aliskhannn/toolbox/internal/middleware"
)

// Setup registers the API routes. A nil metrics handler disables /metrics.
func Setup(h *tool.Handler, metrics http.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.GET("/health", func(c *ginext.Context) { c.Status(http.StatusOK) })
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	api := r.Group("/api")

	api.GET("/tools", h.Kinds)                          // available tools
	api.POST("/tools/:kind", h.Upload)                  // staging an upload
	api.GET("/tools/:kind/:token", h.Get)               // staged conversion metadata
	api.GET("/tools/:kind/:token/download", h.Download) // converting and downloading once
	api.POST("/maintenance/sweep", h.Sweep)             // evicting delivered and expired conversions

	return r
}
