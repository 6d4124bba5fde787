package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SergeiKhy/shortlink-analytics/internal/metrics"
	"github.com/SergeiKhy/shortlink-analytics/internal/middleware"
)

type RouterDeps struct {
	Links       *LinkHandler
	Health      *HealthHandler
	Auth        *middleware.Auth
	APIKey      *middleware.APIKey
	RateLimiter *middleware.RateLimiter
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.Metrics(deps.Metrics))

	// Служебные маршруты без авторизации, лимит по IP
	ops := router.Group("")
	if deps.RateLimiter != nil {
		ops.Use(deps.RateLimiter.Middleware())
	}
	ops.GET("/health", deps.Health.Health)
	if deps.Gatherer != nil {
		ops.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Идентификация вызывающего нужна и редиректу (посетитель), и API
	app := router.Group("")
	if deps.Auth != nil {
		app.Use(deps.Auth.Middleware())
	}
	if deps.RateLimiter != nil {
		app.Use(deps.RateLimiter.MiddlewareWithKey(middleware.ByCaller))
	}

	api := app.Group("/api")
	if deps.APIKey != nil {
		api.Use(deps.APIKey.Middleware())
	}
	{
		api.GET("/links/redirect/:code", deps.Links.LegacyRedirect)

		links := api.Group("/links", middleware.RequireCaller())
		links.POST("", deps.Links.CreateLink)
		links.GET("", deps.Links.ListLinks)
		links.GET("/:id", deps.Links.GetLink)
		links.PATCH("/:id", deps.Links.UpdateLink)
		links.POST("/:id/bookmark", deps.Links.ToggleBookmark)
		links.DELETE("/:id", deps.Links.DeleteLink)
	}

	// Редирект (корневой путь)
	app.GET("/:code", deps.Links.Redirect)

	return router
}
