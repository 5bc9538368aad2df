package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// ProcessTimeHeader carries the handling time in seconds.
const ProcessTimeHeader = "X-Process-Time"

// ProcessTime sets X-Process-Time on every response just before the headers
// are written.
func ProcessTime() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			c.Response().Before(func() {
				secs := time.Since(start).Seconds()
				c.Response().Header().Set(ProcessTimeHeader, strconv.FormatFloat(secs, 'f', 6, 64))
			})
			return next(c)
		}
	}
}
