package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// RequestLogging logs one line per request at debug level; 5xx responses are
// logged by Metrics.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			l.Debug("http request",
				logger.String("method", req.Method),
				logger.String("uri", req.RequestURI),
				logger.String("remote", c.RealIP()),
				logger.Int("status", c.Response().Status),
				logger.Duration("latency", time.Since(start)))
			return nil
		}
	}
}
