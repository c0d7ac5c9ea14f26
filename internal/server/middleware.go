package server

import (
	"net/http"
	"runtime/debug"
	"time"

	"mac-bot/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs every request once it has been handled.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status_code", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if query != "" {
			fields = append(fields, "query", query)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "gin_errors", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Errorw("Incoming request", fields...)
		case status >= http.StatusBadRequest:
			log.Warnw("Incoming request", fields...)
		default:
			log.Infow("Incoming request", fields...)
		}
	}
}

// Recovery turns a handler panic into a 500 response.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorw("Panic recovered",
					"error", err,
					"stacktrace", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method)

				if !c.Writer.Written() {
					c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
				}
				c.Abort()
			}
		}()

		c.Next()
	}
}
