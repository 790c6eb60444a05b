package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-payments/internal/metrics"
)

const requestIDKey = "request_id"

// RequestID присваивает запросу идентификатор или принимает клиентский.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

// Logger пишет структурированную запись на каждый запрос.
func Logger(logger *log.Entry) gin.HandlerFunc {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(log.Fields{
			"request_id": c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error("request failed")
			return
		}
		entry.Info("request handled")
	}
}

// Metrics считает запросы и их длительность по маршруту.
func Metrics(httpMetrics *metrics.HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpMetrics.RecordRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// Recovery перехватывает панику хендлера и отвечает 500.
func Recovery(logger *log.Entry) gin.HandlerFunc {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.WithFields(log.Fields{
					"request_id": c.GetString(requestIDKey),
					"panic":      recovered,
				}).Error("handler panicked")
				writeError(c, 500, codeInternal, "internal error")
			}
		}()
		c.Next()
	}
}
