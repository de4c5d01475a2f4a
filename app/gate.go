package app

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/damfello/bequ-15/apperr"
	"github.com/damfello/bequ-15/auth"
)

const forbiddenMessage = "Forbidden: Active subscription required."

// Gate decides whether a user holds an entitling subscription.
type Gate struct {
	subs SubscriptionStore
}

func NewGate(subs SubscriptionStore) *Gate {
	return &Gate{subs: subs}
}

// Entitled reports whether userID may use paid features. Store failures
// deny access.
func (g *Gate) Entitled(ctx context.Context, userID string) bool {
	logger := zerolog.Ctx(ctx)
	if g == nil || g.subs == nil || userID == "" {
		EntitlementChecksTotal.WithLabelValues("error").Inc()
		logger.Error().Str("user_id", userID).Msg("entitlement check without store or user")
		return false
	}

	ok, err := g.subs.HasEntitledSubscription(ctx, userID)
	if err != nil {
		EntitlementChecksTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Str("user_id", userID).Msg("entitlement query failed, denying access")
		return false
	}
	if !ok {
		EntitlementChecksTotal.WithLabelValues("not_entitled").Inc()
		logger.Info().Str("user_id", userID).Msg("no active or trialing subscription")
		return false
	}
	EntitlementChecksTotal.WithLabelValues("entitled").Inc()
	return true
}

// RequireEntitlement must run after auth.Middleware.
func (g *Gate) RequireEntitlement() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.ClaimsFromContext(c.Request.Context())
		if !ok {
			respondError(c, apperr.Unauthenticated(missingAuthContext))
			return
		}
		if !g.Entitled(c.Request.Context(), claims.Subject) {
			respondError(c, apperr.Forbidden(forbiddenMessage))
			return
		}
		c.Next()
	}
}
