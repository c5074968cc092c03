package api

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/adapter"
	"voice-assistant/backend/internal/hub"
	"voice-assistant/backend/internal/utils"
	"voice-assistant/backend/internal/voice"
)

// sessionParams are read from the upgrade request's query string
type sessionParams struct {
	SessionID string
	UserID    string
	WebSearch bool
	Language  string
	Persona   string
}

func (s *Server) parseSessionParams(c *gin.Context) sessionParams {
	p := sessionParams{
		SessionID: strings.TrimSpace(c.Query("session_id")),
		Language:  utils.NormalizeLanguage(firstQuery(c, "language", "lang")),
		Persona:   adapter.NormalizePersona(firstNonEmpty(c.Query("persona"), s.cfg.DefaultPersona)),
	}
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}
	if enabled, err := strconv.ParseBool(firstQuery(c, "web_search", "web_search_enabled")); err == nil {
		p.WebSearch = enabled
	}
	p.UserID = s.userFromRequest(c)
	return p
}

// userFromRequest verifies the token query param or Authorization header.
// Any failure gives an anonymous user.
func (s *Server) userFromRequest(c *gin.Context) string {
	token := firstNonEmpty(c.Query("token"), c.GetHeader("Authorization"))
	if token == "" {
		return ""
	}
	userID, ok := s.deps.Verifier.VerifyToken(token)
	if !ok {
		s.log.Debug("Token rejected, continuing anonymously")
		return ""
	}
	return userID
}

// audioStream upgrades the connection and runs a voice session on it until
// the client leaves or the server shuts down
func (s *Server) audioStream(c *gin.Context) {
	params := s.parseSessionParams(c)

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		s.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	session := voice.NewSession(hub.NewConn(ws), voice.SessionConfig{
		ConnectionID:  uuid.NewString(),
		SessionID:     params.SessionID,
		UserID:        params.UserID,
		WebSearch:     params.WebSearch,
		Language:      params.Language,
		Persona:       params.Persona,
		Cooldown:      s.cfg.DebounceCooldown,
		AckEvery:      s.cfg.AudioAckEvery,
		CaptureDir:    s.cfg.AudioCaptureDir,
		MaxRestarts:   s.cfg.STTMaxRestarts,
		Authenticated: params.UserID != "",
	}, voice.SessionDeps{
		Orchestrator: s.deps.Orchestrator,
		Registry:     s.deps.Registry,
		Transcribers: s.deps.Transcribers,
		Metrics:      s.deps.Metrics,
		Events:       s.deps.Events,
		Logger:       s.log,
	})
	session.Run(s.baseCtx)
}

func firstQuery(c *gin.Context, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(c.Query(k)); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
