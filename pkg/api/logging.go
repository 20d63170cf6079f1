package api

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RequestLogger logs every request's method, path, status, and latency.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		log.Printf("[API] %s | %3d | %12v | %s | %s",
			c.ClientIP(), c.Writer.Status(), latency, c.Request.Method, path)

		if len(c.Errors) > 0 {
			log.Printf("[API ERROR] %s", c.Errors.String())
		}
	}
}

// metricsHandler exposes the default Prometheus registry (spec §6).
func metricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
