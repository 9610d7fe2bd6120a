package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the call control routes. Route handlers hold no logic of
// their own.
func NewRouter(h Handlers, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	lesson := r.Group("/v1/lessons/:lesson_id")
	{
		lesson.GET("/events", h.ListEvents)

		lesson.POST("/call", h.Dial)
		lesson.GET("/call", h.Get)
		lesson.POST("/call/join", h.Join)
		lesson.POST("/call/decline", h.Decline)
		lesson.POST("/call/retry", h.Retry)
		lesson.POST("/call/no-answer", h.NoAnswer)
		lesson.POST("/call/cancel", h.Cancel)
		lesson.POST("/call/end", h.End)
		lesson.POST("/call/mic", h.ToggleMic)
		lesson.POST("/call/camera", h.ToggleCamera)
	}
	return r
}
