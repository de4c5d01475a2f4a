package app

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/damfello/bequ-15/apperr"
)

const (
	defaultOrigin           = "http://localhost:3000"
	customerNotFoundMessage = "Customer information not found."
)

// CreateCheckoutSession starts a subscription checkout for the authenticated user.
func (s *Server) CreateCheckoutSession(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	logger := zerolog.Ctx(c.Request.Context())

	stripeCfg := s.Config.Stripe

	origin := s.origin(c.Request)
	sessionID, err := s.Billing.CreateCheckoutSession(c.Request.Context(), CheckoutInput{
		UserID:                  claims.Subject,
		Email:                   claims.Email,
		PriceID:                 stripeCfg.PriceID,
		SuccessURL:              origin + "/?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:               origin + "/",
		TrialPeriodDays:         stripeCfg.TrialPeriodDays,
		PaymentMethodCollection: stripeCfg.PaymentMethodCollection,
	})
	if err != nil {
		respondError(c, apperr.Upstream("Could not create Stripe Checkout Session", err))
		return
	}
	if sessionID == "" {
		respondError(c, apperr.Upstream("Could not create Stripe Checkout Session", errors.New("empty session id")))
		return
	}

	logger.Info().Str("user_id", claims.Subject).Str("checkout_session_id", sessionID).Msg("checkout session created")
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID})
}

// CreatePortalSession creates a billing portal session for the authenticated user.
func (s *Server) CreatePortalSession(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	logger := zerolog.Ctx(c.Request.Context())

	if s.Config.Stripe.SecretKey == "" || s.Billing == nil {
		respondError(c, apperr.Config("STRIPE_SECRET_KEY not set"))
		return
	}

	customerID, err := s.Subs.CustomerIDForUser(c.Request.Context(), claims.Subject)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Error().Err(err).Str("user_id", claims.Subject).Msg("customer id lookup failed")
		}
		respondError(c, apperr.NotFound(customerNotFoundMessage))
		return
	}

	url, err := s.Billing.CreatePortalSession(c.Request.Context(), customerID, s.origin(c.Request)+"/")
	if err != nil {
		respondError(c, apperr.Upstream("Could not create Stripe Billing Portal Session.", err))
		return
	}
	if url == "" {
		respondError(c, apperr.Upstream("Could not create Stripe Billing Portal Session.", errors.New("empty portal url")))
		return
	}

	c.JSON(http.StatusOK, gin.H{"portalUrl": url})
}

// origin is the base for redirect URLs: PUBLIC_URL when set, else the
// request's own origin.
func (s *Server) origin(r *http.Request) string {
	if s.Config != nil && s.Config.Server.PublicURL != "" {
		return s.Config.Server.PublicURL
	}
	host := strings.TrimSpace(firstHeaderValue(r.Header.Get("X-Forwarded-Host")))
	if host == "" {
		host = r.Host
	}
	if host == "" {
		return defaultOrigin
	}
	scheme := strings.TrimSpace(firstHeaderValue(r.Header.Get("X-Forwarded-Proto")))
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	return scheme + "://" + host
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		return v[:i]
	}
	return v
}
