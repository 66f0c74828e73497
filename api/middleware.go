package api

import (
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// RequestLogger logs every request once it has been served.
func RequestLogger(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let the error handler write the response so the logged status is final.
				c.Error(err)
			}
			req := c.Request()
			logger.WithFields(log.Fields{
				"url":        req.URL.RequestURI(),
				"method":     req.Method,
				"status":     c.Response().Status,
				"latency_ms": durationToMillis(time.Since(start)),
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
				"remote_ip":  c.RealIP(),
			}).Info("request")
			return nil
		}
	}
}
