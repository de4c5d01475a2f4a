package app

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/damfello/bequ-15/apperr"
	"github.com/damfello/bequ-15/auth"
)

const missingAuthContext = "Missing Authorization Header"

// respondError writes err as a plain-text body with its mapped status and
// stops the handler chain.
func respondError(c *gin.Context, err error) {
	status := apperr.StatusOf(err)
	if status >= 500 {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Int("status", status).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.Abort()
	c.String(status, apperr.MessageOf(err))
}

// requireClaims returns the caller's identity or writes a 401.
func requireClaims(c *gin.Context) (*auth.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok || claims.Subject == "" {
		respondError(c, apperr.Unauthenticated(missingAuthContext))
		return nil, false
	}
	return claims, true
}
