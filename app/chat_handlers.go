package app

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/damfello/bequ-15/apperr"
	"github.com/damfello/bequ-15/app/models"
)

const badChatRequestMessage = "Bad Request: Missing sessionId or chatInput."

// PostChat relays one chat turn to the workflow engine and records both sides.
func (s *Server) PostChat(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	logger := zerolog.Ctx(ctx)

	if missing := s.Config.Workflow.Missing(); len(missing) > 0 || s.Engine == nil {
		ChatRelayTotal.WithLabelValues("config_error").Inc()
		respondError(c, apperr.Config("workflow missing settings: "+strings.Join(missing, ",")))
		return
	}

	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.SessionID) == "" || !req.ChatInput.Set {
		ChatRelayTotal.WithLabelValues("bad_request").Inc()
		respondError(c, apperr.BadRequest(badChatRequestMessage))
		return
	}

	human := models.MessageBody{Type: models.MessageHuman, Content: req.ChatInput.Value}
	if err := s.Chats.InsertChatMessage(ctx, claims.Subject, req.SessionID, human); err != nil {
		ChatRelayTotal.WithLabelValues("store_error").Inc()
		respondError(c, err)
		return
	}

	output, err := s.Engine.Reply(ctx, req.SessionID, req.ChatInput.Value)
	if err != nil {
		ChatRelayTotal.WithLabelValues("engine_error").Inc()
		respondError(c, err)
		return
	}

	ai := models.MessageBody{Type: models.MessageAI, Content: output}
	if err := s.Chats.InsertChatMessage(ctx, claims.Subject, req.SessionID, ai); err != nil {
		ChatRelayTotal.WithLabelValues("store_error").Inc()
		respondError(c, err)
		return
	}

	ChatRelayTotal.WithLabelValues("ok").Inc()
	logger.Info().Str("session_id", req.SessionID).Msg("chat turn relayed")
	c.JSON(http.StatusOK, gin.H{"output": output})
}

// GetChatHistory returns the caller's messages oldest first.
func (s *Server) GetChatHistory(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	history, err := s.Chats.ListChatMessages(c.Request.Context(), claims.Subject, strings.TrimSpace(c.Query("sessionId")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// DeleteChatHistory wipes the caller's history.
func (s *Server) DeleteChatHistory(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	n, err := s.Chats.DeleteChatMessages(c.Request.Context(), claims.Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	zerolog.Ctx(c.Request.Context()).Info().Int64("deleted", n).Msg("chat history deleted")
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
