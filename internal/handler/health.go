package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// AppInfo is the identity reported by the health and root endpoints.
type AppInfo struct {
	Name        string
	Version     string
	Environment string
	APIPrefix   string
}

// Health is the liveness endpoint used by load balancers and monitoring.
func Health(info AppInfo) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status":      "healthy",
			"app_name":    info.Name,
			"version":     info.Version,
			"environment": info.Environment,
			"timestamp":   float64(time.Now().UnixNano()) / 1e9,
		})
	}
}

// Root greets API clients and points them to the documentation.
func Root(info AppInfo) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"message": "Welcome to " + info.Name + " API",
			"version": info.Version,
			"docs":    info.APIPrefix + "/docs",
		})
	}
}
