// Package auth provides Gin middleware for enforcing bearer token auth.
package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/damfello/bequ-15/apperr"
)

const missingHeaderMessage = "Missing Authorization Header"

// MiddlewareConfig controls auth enforcement behavior.
type MiddlewareConfig struct {
	PublicPaths map[string]bool
	DisableAuth bool
}

// Middleware enforces bearer token auth and injects claims into the request context.
func Middleware(verifier Verifier, cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := zerolog.Ctx(c.Request.Context())

		if cfg.DisableAuth || AuthDisabled() {
			claims := &Claims{
				Subject: "local-dev",
				Email:   "dev@localhost",
				Issuer:  "local",
				Raw:     map[string]any{"sub": "local-dev"},
			}
			ctx := WithClaims(c.Request.Context(), claims)
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		if cfg.PublicPaths != nil && cfg.PublicPaths[c.FullPath()] {
			c.Next()
			return
		}

		if verifier == nil {
			logger.Error().Str("path", c.Request.URL.Path).Msg("auth verifier not configured")
			respond(c, apperr.Config("auth verifier not configured"))
			return
		}

		token, ok := extractBearerToken(c.GetHeader("Authorization"))
		if !ok {
			logger.Warn().Str("path", c.Request.URL.Path).Msg("auth failure: missing or malformed Authorization header")
			respond(c, apperr.Unauthenticated(missingHeaderMessage))
			return
		}

		claims, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			logger.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("auth failure: token rejected")
			if _, classified := apperr.As(err); !classified {
				err = apperr.Unauthenticated(invalidTokenMessage)
			}
			respond(c, err)
			return
		}

		ctx := WithClaims(c.Request.Context(), claims)
		ctx = logger.With().Str("user_id", claims.Subject).Logger().WithContext(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func respond(c *gin.Context, err error) {
	c.Abort()
	c.String(apperr.StatusOf(err), apperr.MessageOf(err))
}
