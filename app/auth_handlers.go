package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health is a public health check endpoint.
func (s *Server) Health(c *gin.Context) {
	if s.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.DB.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetSubscription returns the caller's latest subscription and whether it entitles them.
func (s *Server) GetSubscription(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	sub, err := s.Subs.LatestSubscription(c.Request.Context(), claims.Subject)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"active": false, "subscription": nil})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active":       NewGate(s.Subs).Entitled(c.Request.Context(), claims.Subject),
		"subscription": sub,
	})
}
