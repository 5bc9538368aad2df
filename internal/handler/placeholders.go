package handler

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// placeholder answers a domain route that is not implemented yet.  When
// param is set, its value is interpolated into the message, as in
// "Get visit 42 endpoint - TODO: Implement".
func placeholder(format, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		msg := format
		if param != "" {
			msg = fmt.Sprintf(format, c.Param(param))
		}
		return c.JSON(http.StatusOK, messageResp{Message: msg + " endpoint - TODO: Implement"})
	}
}

// Resource bundles the CRUD placeholders of one domain collection.
type Resource struct {
	List   echo.HandlerFunc
	Create echo.HandlerFunc
	Get    echo.HandlerFunc
	Update echo.HandlerFunc
}

// NewResource builds the placeholders for a collection.  singular and plural
// are the nouns used in messages, param is the id path parameter.
func NewResource(singular, plural, param string) Resource {
	return Resource{
		List:   placeholder("Get "+plural, ""),
		Create: placeholder("Create "+singular, ""),
		Get:    placeholder("Get "+singular+" %s", param),
		Update: placeholder("Update "+singular+" %s", param),
	}
}

// Dashboard placeholders.
var (
	DashboardData     = placeholder("Get dashboard data", "")
	DashboardMetrics  = placeholder("Get health metrics", "")
	DashboardTimeline = placeholder("Get medical timeline", "")
)
