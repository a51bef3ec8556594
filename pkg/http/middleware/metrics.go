package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
)

// Observer receives one sample per served request.
type Observer interface {
	ObserveHTTP(route, method string, status int, seconds float64)
}

// Metrics records request metrics labelled by route template to keep cardinality low.
func Metrics(o Observer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if o == nil {
			return next
		}
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			o.ObserveHTTP(routeLabel(c), c.Request().Method, status, time.Since(start).Seconds())
			return err
		}
	}
}

// routeLabel prefers the matched route template over the raw URL.
func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
