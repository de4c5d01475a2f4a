// Package app wires shared HTTP routes for both local and Lambda execution.
package app

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/damfello/bequ-15/apperr"
	"github.com/damfello/bequ-15/auth"
	"github.com/damfello/bequ-15/logging"
)

// NewRouter builds the shared HTTP router for both local and Lambda execution.
// Every route is served at the root and again under /api.
func NewRouter(s *Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.Middleware())

	origins := []string{"*"}
	if s.Config != nil && len(s.Config.CORS.AllowOrigins) > 0 {
		origins = s.Config.CORS.AllowOrigins
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", logging.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.mount(router)
	s.mount(router.Group("/api"))

	return router
}

func (s *Server) mount(r gin.IRouter) {
	r.GET("/health", s.Health)

	webhooks := NewWebhookHandler(s.stripeWebhookSecret(), s.Billing, s.Subs)
	r.POST("/webhooks/billing", webhooks.Handle)
	r.POST("/webhooks/stripe", webhooks.Handle)

	gate := NewGate(s.Subs)

	authenticate := auth.Middleware(s.Verifier, auth.MiddlewareConfig{DisableAuth: s.DisableAuth})

	// Checkout reports missing billing settings before looking at the caller.
	r.POST("/checkout_sessions", s.requireCheckoutConfig(), authenticate, s.CreateCheckoutSession)

	protected := r.Group("/")
	protected.Use(authenticate)
	protected.GET("/chat", s.GetChatHistory)
	protected.DELETE("/chat", s.DeleteChatHistory)
	protected.GET("/subscription", s.GetSubscription)

	entitled := protected.Group("/")
	entitled.Use(gate.RequireEntitlement())
	entitled.POST("/chat", s.PostChat)
	entitled.POST("/portal_sessions", s.CreatePortalSession)
}

func (s *Server) requireCheckoutConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		var missing []string
		if s.Config != nil {
			missing = s.Config.Stripe.CheckoutMissing()
		}
		if s.Config == nil || len(missing) > 0 || s.Billing == nil {
			respondError(c, apperr.Config("checkout missing settings: "+strings.Join(missing, ",")))
			return
		}
		c.Next()
	}
}

func (s *Server) stripeWebhookSecret() string {
	if s.Config == nil {
		return ""
	}
	return s.Config.Stripe.WebhookSecret
}
