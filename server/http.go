package server

import (
	"CDEvalServer/monitor"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

func NewRouter(r *Runner) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), func(c *gin.Context) {
		monitor.HTTPTotal.Inc()
		c.Next()
	})
	router.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	router.POST("/api/eval", func(c *gin.Context) {
		var req EvalRequest
		// 允许空 body，全部使用配置中的默认值
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job, err := r.Submit(req)
		if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrStopped) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"data":  job,
			"wsURL": "ws://" + c.Request.Host + "/ws/" + job.ID,
		})
	})
	router.GET("/api/eval/:id", func(c *gin.Context) {
		job, ok := r.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": job})
	})
	router.GET("/ws/:id", r.handleWatch)
	router.GET("/metrics", gin.WrapH(monitor.Handler()))
	return router
}
