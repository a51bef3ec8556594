package middleware

import (
	"time"

	xlogger "OIWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs every request at debug, 5xx at error and slow requests at warn.
func RequestLogging(l *xlogger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	if l == nil {
		l = xlogger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			latency := time.Since(start)
			status := c.Response().Status
			fields := []xlogger.Field{
				xlogger.String("method", req.Method),
				xlogger.String("route", routeLabel(c)),
				xlogger.String("remote_ip", c.RealIP()),
				xlogger.Int("status", status),
				xlogger.Duration("latency_ms", latency),
				xlogger.Int64("bytes", c.Response().Size),
			}
			switch {
			case status >= 500:
				l.Error("http request failed", append(fields, xlogger.Error(err))...)
			case slowThreshold > 0 && latency >= slowThreshold:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
