package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carbonledger/internal/auth"
	"carbonledger/internal/config"
	"carbonledger/internal/payment"
	"carbonledger/internal/ratelimit"
	"carbonledger/internal/settlement"
	"carbonledger/internal/webhook"
)

// Verifier reconciles one payment with its processor on demand.
type Verifier interface {
	ReconcilePayment(ctx context.Context, paymentID string) (*payment.Payment, error)
}

// EventHandler applies verified processor events.
type EventHandler interface {
	OnProcessorEvent(ctx context.Context, e webhook.Event) (*webhook.Result, error)
}

// SecretSource resolves the webhook secret of a processor.
type SecretSource interface {
	WebhookSecret(name string) (string, bool)
}

type Deps struct {
	Settlement settlement.Service
	Webhooks   EventHandler
	Verifier   Verifier
	Secrets    SecretSource
	Limiter    ratelimit.Limiter
	Health     map[string]HealthCheck
}

type Server struct {
	router *gin.Engine
	http   *http.Server
	config *config.Config
}

func New(cfg *config.Config, deps Deps) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(RequestLoggingMiddleware())
	router.Use(MetricsMiddleware())
	router.Use(corsMiddleware())

	h := NewHandler(deps.Settlement, deps.Verifier, deps.Webhooks, deps.Secrets, cfg.Currency)
	limit := func(action string) gin.HandlerFunc { return RateLimitMiddleware(deps.Limiter, action) }

	router.GET("/health", Health(deps.Health))
	router.GET("/metrics", Metrics())
	SetupSwagger(router)

	router.POST("/webhooks/:processor", limit("webhook"), h.ProcessorWebhook)

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)
	protected := router.Group("/")
	protected.Use(authMiddleware)
	{
		protected.GET("/fees/quote", h.Quote)

		protected.GET("/wallet", h.GetWallet)
		protected.GET("/wallet/entries", h.ListEntries)
		protected.GET("/wallet/transactions", h.ListTransactions)

		protected.POST("/payments", limit("purchase"), h.CreatePayment)
		protected.GET("/payments/:paymentID", h.GetPayment)
		protected.POST("/payments/:paymentID/cancel", limit("cancel"), h.CancelPayment)
		protected.POST("/payments/:paymentID/verify", limit("verify"), h.VerifyPayment)

		protected.POST("/credits/retire", limit("retire"), h.RetireCredits)
		protected.POST("/credits/sell", limit("sell"), h.SellCredits)
	}

	admin := router.Group("/admin")
	admin.Use(authMiddleware, auth.RequireRole(auth.RoleAdmin))
	{
		admin.POST("/wallets/:userID/topup", limit("topup"), h.TopUp)
		admin.POST("/payments/:paymentID/refund", limit("refund"), h.RefundPayment)
	}

	return &Server{
		router: router,
		config: cfg,
		http: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start(port string) error {
	s.http.Addr = ":" + port
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Idempotency-Key, X-Request-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
