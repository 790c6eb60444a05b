// Package http содержит внешний HTTP API пайплайна: создание
// checkout-сессии, приём вебхуков и чтение заказов.
package http

import (
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-payments/internal/metrics"
	"github.com/vladislavdragonenkov/storefront-payments/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront-payments/internal/service/reconcile"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

// GatewayResolver возвращает адаптер провайдера по имени.
type GatewayResolver interface {
	Resolve(provider string) (domain.GatewayClient, error)
}

// Server агрегирует зависимости HTTP-слоя.
type Server struct {
	builder    *checkout.Builder
	reconciler *reconcile.Reconciler
	orders     domain.OrderRepository
	gateways   GatewayResolver
	metrics    *metrics.PipelineMetrics
	logger     *log.Entry
}

// ServerDeps перечисляет зависимости HTTP-сервера.
type ServerDeps struct {
	Builder    *checkout.Builder
	Reconciler *reconcile.Reconciler
	Orders     domain.OrderRepository
	Gateways   GatewayResolver
	// Metrics необязателен: nil отключает счётчики.
	Metrics *metrics.PipelineMetrics
	Logger  *log.Entry
}

// NewServer создаёт HTTP-сервер пайплайна.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	return &Server{
		builder:    deps.Builder,
		reconciler: deps.Reconciler,
		orders:     deps.Orders,
		gateways:   deps.Gateways,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// Router собирает gin-роутер со всеми маршрутами и middleware.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), Logger(s.logger), Metrics(metrics.NewHTTPMetrics()), Recovery(s.logger))

	router.POST("/checkout", s.handleCheckout)
	router.POST("/webhooks/:provider", s.handleWebhook)
	router.GET("/orders", s.handleListOrders)
	router.GET("/orders/:number", s.handleGetOrder)

	return router
}
