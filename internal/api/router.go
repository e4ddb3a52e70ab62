package api

import (
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leozw/routerfleet/internal/api/handlers"
	"github.com/leozw/routerfleet/internal/api/middleware"
	"github.com/leozw/routerfleet/internal/config"
	"github.com/leozw/routerfleet/internal/metrics"
	"github.com/leozw/routerfleet/pkg/keycloak"
)

type Server struct {
	Config  *config.Config
	Router  *gin.Engine
	handler *handlers.Handler
	metrics *metrics.Collector
	rsaKeys jwt.Keyfunc
}

func NewServer(cfg *config.Config, handler *handlers.Handler, m *metrics.Collector, logger *zap.Logger) *Server {
	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	server := &Server{
		Config:  cfg,
		Router:  router,
		handler: handler,
		metrics: m,
	}
	if cfg.Auth.KeycloakURL != "" {
		server.rsaKeys = keycloak.NewClient(cfg.Auth.KeycloakURL, cfg.Auth.KeycloakRealm, logger).Keyfunc
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	h := s.handler

	s.Router.GET("/health", h.Health)
	s.Router.GET("/ready", h.Ready)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{})))

	api := s.Router.Group("/api")
	api.Use(middleware.AuthRequired(s.Config.Auth.JWTSecret, s.rsaKeys))
	api.Use(middleware.Tenant())

	routers := api.Group("/routers")
	{
		routers.GET("", h.ListRouters)
		routers.POST("", h.CreateRouter)
		routers.POST("/bulk", h.BulkOperation)
		routers.GET("/:id", h.GetRouter)
		routers.PUT("/:id", h.UpdateRouter)
		routers.DELETE("/:id", h.DeleteRouter)
		routers.GET("/:id/test", h.TestRouter)
		routers.GET("/:id/config", h.SyncRouter)
		routers.GET("/:id/configs", h.ListConfigs)
	}

	vouchers := api.Group("/vouchers")
	{
		vouchers.GET("", h.ListVouchers)
		vouchers.POST("", h.CreateVouchers)
		vouchers.POST("/print", h.PrintVouchers)
		vouchers.DELETE("/:id", h.DeleteVoucher)
	}

	api.GET("/overview", h.Overview)

	admin := api.Group("/mikrotik")
	admin.Use(middleware.RequireRole(s.Config.Auth.AdminRole))
	{
		admin.POST("/sync", h.FleetSync)
	}
}
