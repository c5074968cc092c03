package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/adapter"
	"voice-assistant/backend/internal/constants"
	"voice-assistant/backend/internal/history"
	"voice-assistant/backend/internal/tools"
	"voice-assistant/backend/internal/utils"
	"voice-assistant/backend/internal/voice"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getHistory(c *gin.Context) {
	sessionID := c.Param("session_id")

	turns, err := s.deps.History.GetRecent(c.Request.Context(), sessionID, 0)
	if err != nil {
		s.log.Error("Failed to get chat history", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":       false,
			"session_id":    sessionID,
			"messages":      []history.Turn{},
			"message_count": 0,
			"error":         "Failed to load chat history",
		})
		return
	}
	if turns == nil {
		turns = []history.Turn{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"session_id":    sessionID,
		"messages":      turns,
		"message_count": len(turns),
	})
}

func (s *Server) clearHistory(c *gin.Context) {
	sessionID := c.Param("session_id")

	if err := s.deps.History.Clear(c.Request.Context(), sessionID); err != nil {
		s.log.Error("Failed to clear chat history", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to clear chat history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sessionID,
		"message":    "Chat history cleared",
	})
}

type chatRequest struct {
	Message   string `json:"message" binding:"required"`
	Language  string `json:"language"`
	Persona   string `json:"persona"`
	WebSearch bool   `json:"web_search"`
}

// chat answers one text message without audio. Turns are appended the same
// way the voice pipeline does.
func (s *Server) chat(c *gin.Context) {
	sessionID := c.Param("session_id")
	ctx := c.Request.Context()

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must not be empty"})
		return
	}
	if s.deps.Generator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": constants.FallbackNotReady})
		return
	}

	log := s.log.With(zap.String("session_id", sessionID))
	userID := s.userFromRequest(c)

	turns, err := s.deps.History.GetRecent(ctx, sessionID, s.cfg.HistoryTurns)
	if err != nil {
		log.Warn("Failed to load chat history", zap.Error(err))
		turns = nil
	}

	genReq := adapter.Request{
		UserMessage: message,
		History:     turns,
		Language:    utils.NormalizeLanguage(req.Language),
		Persona:     adapter.NormalizePersona(firstNonEmpty(req.Persona, s.cfg.DefaultPersona)),
	}
	if req.WebSearch {
		genReq.ExtraContext = s.searchContext(c, message)
	}

	response, err := s.deps.Generator.GenerateOnce(ctx, genReq)
	if err != nil {
		log.Error("One-shot generation failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"success":    false,
			"session_id": sessionID,
			"error":      voice.GenerationFallback(err),
		})
		return
	}

	for _, turn := range []struct {
		role    history.Role
		content string
	}{
		{history.RoleUser, message},
		{history.RoleAssistant, response},
	} {
		if err := s.deps.History.Append(ctx, sessionID, turn.role, turn.content, userID); err != nil {
			log.Warn("Failed to save chat turn", zap.String("role", string(turn.role)), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"session_id":   sessionID,
		"user_message": message,
		"response":     response,
	})
}

func (s *Server) searchContext(c *gin.Context, query string) string {
	skill, ok := s.deps.Skills.Get(tools.SkillWebSearch)
	if !ok {
		return ""
	}
	text, err := skill.Execute(c.Request.Context(), query)
	if err != nil {
		s.log.Warn("Web search failed, answering without it", zap.Error(err))
		return ""
	}
	return text
}

type webSearchRequest struct {
	Query string `json:"query" binding:"required"`
}

func (s *Server) webSearch(c *gin.Context) {
	var req webSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":       false,
			"query":         req.Query,
			"results":       []tools.SearchResult{},
			"error_message": "Search query cannot be empty",
		})
		return
	}
	if s.deps.Search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success":       false,
			"query":         req.Query,
			"results":       []tools.SearchResult{},
			"error_message": "Web search is not available",
		})
		return
	}

	results, err := s.deps.Search.Search(c.Request.Context(), req.Query)
	if err != nil {
		s.log.Error("Web search failed", zap.String("query", req.Query), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"success":       false,
			"query":         req.Query,
			"results":       []tools.SearchResult{},
			"error_message": "Web search failed",
		})
		return
	}
	if results == nil {
		results = []tools.SearchResult{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"query":     req.Query,
		"results":   results,
		"formatted": tools.FormatSearchResults(req.Query, results),
	})
}

func (s *Server) status(c *gin.Context) {
	generation := s.deps.Generator != nil
	responding := s.deps.Orchestrator != nil && s.deps.Orchestrator.Available()

	c.JSON(http.StatusOK, gin.H{
		"assistant": constants.DefaultAssistantName,
		"capabilities": gin.H{
			"transcription": s.deps.Transcribers != nil,
			"generation":    generation,
			"voice_replies": responding,
			"web_search":    s.deps.Search != nil,
			"auth":          s.deps.Verifier.Enabled(),
			"events":        s.deps.Events.Enabled(),
		},
		"history_backend":    s.cfg.HistoryBackend,
		"active_connections": s.deps.Registry.Count(),
		"skills":             s.deps.Skills.List(),
		"personas":           adapter.Personas(),
	})
}
