// Package router wires handlers and middleware into an Echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/personal-health-manager/internal/config"
	"github.com/iliyamo/personal-health-manager/internal/handler"
	"github.com/iliyamo/personal-health-manager/internal/middleware"
)

// AuthService is what the routes need from the session flow: the handler
// operations plus the guard's token resolution.
type AuthService interface {
	handler.AuthFlow
	middleware.Authenticator
}

// Deps are the collaborators of the HTTP surface.  Redis is optional; without
// it rate limiting and response caching are disabled.
type Deps struct {
	Config    config.Config
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Log       zerolog.Logger
	Auth      AuthService
	Documents handler.DocumentSigner
	Redis     *redis.Client
	Registry  *prometheus.Registry
}

// New builds the Echo instance with the global middleware chain and every
// route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()
	e.HTTPErrorHandler = handler.ErrorHandler(d.Config.Debug, d.Log)

	reg := d.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := middleware.NewMetrics(reg)

	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(d.Log))
	e.Use(metrics.Middleware())
	e.Use(middleware.ProcessTime())
	e.Use(middleware.Recovery(d.Log))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     d.Config.CORSOrigins,
		AllowCredentials: true,
	}))
	e.Use(echomw.Secure())

	info := handler.AppInfo{
		Name:        d.Config.AppName,
		Version:     d.Config.Version,
		Environment: d.Config.Env,
		APIPrefix:   d.Config.APIPrefix,
	}
	e.GET("/health", handler.Health(info))
	e.GET("/", handler.Root(info))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := e.Group(d.Config.APIPrefix)
	guard := middleware.RequireUser(d.Auth)
	RegisterAuth(api, handler.NewAuthHandler(d.Auth), guard,
		middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log))
	RegisterDomain(api, handler.NewDocumentHandler(d.Documents), guard,
		middleware.NewRedisCache(d.Cache, d.Redis, d.Log))
	return e
}

// RegisterAuth registers the session routes under /auth.  The credential
// endpoints share the rate limiter; logout, change-password and me require a
// valid access token.
func RegisterAuth(api *echo.Group, a *handler.AuthHandler, guard, limit echo.MiddlewareFunc) {
	g := api.Group("/auth")

	g.POST("/register", a.Register, limit)
	g.POST("/login", a.Login, limit)
	g.POST("/refresh", a.Refresh, limit)
	g.POST("/forgot-password", a.ForgotPassword, limit)
	g.POST("/reset-password", a.ResetPassword, limit)

	g.POST("/logout", a.Logout, guard)
	g.POST("/change-password", a.ChangePassword, guard)
	g.GET("/me", a.Me, guard)
}

// RegisterDomain registers the health record routes.  All of them sit behind
// the guard; dashboard responses are cached per user.
func RegisterDomain(api *echo.Group, docs *handler.DocumentHandler, guard, cache echo.MiddlewareFunc) {
	resource(api.Group("/profiles", guard), handler.NewResource("profile", "profiles", "profile_id"), "profile_id")
	resource(api.Group("/visits", guard), handler.NewResource("visit", "visits", "visit_id"), "visit_id")
	resource(api.Group("/medications", guard), handler.NewResource("medication", "medications", "medication_id"), "medication_id")

	d := api.Group("/documents", guard)
	d.GET("", handler.ListDocuments)
	d.GET("/", handler.ListDocuments)
	d.POST("/upload", docs.Upload)
	d.GET("/download", docs.Download)
	d.GET("/:document_id", handler.GetDocument)
	d.DELETE("/:document_id", handler.DeleteDocument)

	dash := api.Group("/dashboard", guard, cache)
	dash.GET("", handler.DashboardData)
	dash.GET("/", handler.DashboardData)
	dash.GET("/metrics", handler.DashboardMetrics)
	dash.GET("/timeline", handler.DashboardTimeline)
}

func resource(g *echo.Group, r handler.Resource, param string) {
	g.GET("", r.List)
	g.GET("/", r.List)
	g.POST("", r.Create)
	g.POST("/", r.Create)
	g.GET("/:"+param, r.Get)
	g.PUT("/:"+param, r.Update)
}
