// Package api exposes the HTTP surface: the audio WebSocket, chat history
// and one-shot chat endpoints, web search, status, health and metrics.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/adapter"
	"voice-assistant/backend/internal/auth"
	"voice-assistant/backend/internal/events"
	"voice-assistant/backend/internal/history"
	"voice-assistant/backend/internal/hub"
	"voice-assistant/backend/internal/metrics"
	"voice-assistant/backend/internal/tools"
	"voice-assistant/backend/internal/voice"
)

// Searcher is the web search used by POST /api/web-search
type Searcher interface {
	Search(ctx context.Context, query string) ([]tools.SearchResult, error)
}

// Config holds the HTTP-layer settings
type Config struct {
	CORSAllowedOrigin string
	HistoryBackend    string
	HistoryTurns      int
	DefaultPersona    string

	// per-session settings handed to voice.Session
	DebounceCooldown time.Duration
	AudioCaptureDir  string
	AudioAckEvery    int
	STTMaxRestarts   int
}

// Deps are the collaborators the handlers use. Generator, Transcribers,
// Search and Verifier may be nil; the matching feature reports unavailable.
type Deps struct {
	Orchestrator *voice.Orchestrator
	Generator    adapter.Generator
	History      history.Store
	Registry     *hub.Registry
	Transcribers voice.TranscriberFactory
	Verifier     *auth.JWTVerifier
	Search       Searcher
	Skills       *tools.Registry
	Metrics      *metrics.Metrics
	Events       *events.Publisher
	Logger       *zap.Logger
}

// Server owns the router and every live audio session
type Server struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	upgrader websocket.Upgrader

	// sessions outlive their HTTP request once the socket is hijacked, so
	// they run under baseCtx and are tracked separately
	baseCtx  context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

// NewServer builds a server. Call Shutdown to end live sessions.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.History == nil {
		deps.History = history.NewMemoryStore()
	}
	if deps.Registry == nil {
		deps.Registry = hub.NewRegistry(deps.Logger)
	}
	if cfg.HistoryBackend == "" {
		cfg.HistoryBackend = "memory"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router returns the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(s.log))
	router.Use(gin.Recovery())
	router.Use(cors(s.cfg.CORSAllowedOrigin))

	router.GET("/health", s.health)
	if s.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
	router.GET("/ws/audio-stream", s.audioStream)

	chat := router.Group("/agent/chat")
	{
		chat.GET("/:session_id/history", s.getHistory)
		chat.DELETE("/:session_id/history", s.clearHistory)
		chat.POST("/:session_id", s.chat)
	}

	api := router.Group("/api")
	{
		api.POST("/web-search", s.webSearch)
		api.GET("/status", s.status)
	}

	return router
}

// Shutdown cancels every live session and waits for them, and for any
// running response cycle, to finish or for ctx to expire
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		if s.deps.Orchestrator != nil {
			s.deps.Orchestrator.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.CORSAllowedOrigin
	if allowed == "" || allowed == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == allowed
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}

func cors(origin string) gin.HandlerFunc {
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
