package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/adapter"
	"voice-assistant/backend/internal/api"
	"voice-assistant/backend/internal/auth"
	"voice-assistant/backend/internal/events"
	"voice-assistant/backend/internal/graph"
	"voice-assistant/backend/internal/history"
	"voice-assistant/backend/internal/hub"
	"voice-assistant/backend/internal/metrics"
	"voice-assistant/backend/internal/stt"
	"voice-assistant/backend/internal/tools"
	"voice-assistant/backend/internal/tts"
	"voice-assistant/backend/internal/voice"
	"voice-assistant/backend/pkg/config"
	"voice-assistant/backend/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}
	if err := logger.Init(env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting voice assistant server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()
	app, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer app.close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: app.server.Router(),
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("port", cfg.Port),
		zap.Bool("transcription", cfg.TranscriptionEnabled()),
		zap.Bool("generation", cfg.GenerationEnabled()),
		zap.Bool("synthesis", cfg.SynthesisEnabled()),
		zap.String("history_backend", cfg.HistoryBackend))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Audio sessions did not finish in time", zap.Error(err))
	}

	log.Info("Server exited")
}

// app is the wired process. close releases stores and event writers.
type app struct {
	server       *api.Server
	orchestrator *voice.Orchestrator
	closers      []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{}

	store, closeStore, err := newHistoryStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	m := metrics.New()
	publisher := events.New(&events.Config{
		Brokers:         cfg.KafkaBrokers,
		TranscriptTopic: cfg.KafkaTranscriptTopic,
		CycleTopic:      cfg.KafkaCycleTopic,
	}, m, logger.Named("events"))
	a.closers = append(a.closers, publisher.Close)

	search := tools.NewWebSearch(tools.WebSearchConfig{
		MaxResults: cfg.WebSearchMaxResults,
		CacheTTL:   cfg.WebSearchCacheTTL,
	}, logger.Named("tools"))
	news := tools.NewNews("", logger.Named("tools"))

	skills := tools.NewRegistry(logger.Named("tools"))
	skills.Register(search)
	skills.Register(news)

	generator, err := newGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if generator != nil {
		generator = tools.NewNewsRouter(generator, news, logger.Named("tools"))
	} else {
		log.Warn("LLM not configured, voice replies and chat are disabled",
			zap.String("provider", cfg.LLMProvider))
	}

	orchestrator := voice.NewOrchestrator(voice.Dependencies{
		Generator:                generator,
		Synthesizers:             synthesizerFactory(cfg),
		History:                  store,
		Skills:                   skills,
		Metrics:                  m,
		Events:                   publisher,
		Logger:                   logger.Named("orchestrator"),
		HistoryTurns:             cfg.LLMHistoryTurns,
		AuthenticatedHistoryOnly: cfg.HistoryAuthenticatedOnly,
	})
	a.orchestrator = orchestrator

	a.server = api.NewServer(api.Config{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		HistoryBackend:    cfg.HistoryBackend,
		HistoryTurns:      cfg.LLMHistoryTurns,
		DefaultPersona:    cfg.LLMPersona,
		DebounceCooldown:  cfg.DebounceCooldown,
		AudioCaptureDir:   cfg.AudioCaptureDir,
		AudioAckEvery:     cfg.AudioAckEvery,
		STTMaxRestarts:    cfg.STTMaxRestarts,
	}, api.Deps{
		Orchestrator: orchestrator,
		Generator:    generator,
		History:      store,
		Registry:     hub.NewRegistry(logger.Named("hub")),
		Transcribers: transcriberFactory(cfg),
		Verifier:     auth.NewJWTVerifier(cfg.JWTSecretKey),
		Search:       search,
		Skills:       skills,
		Metrics:      m,
		Events:       publisher,
		Logger:       log,
	})

	return a, nil
}

func newHistoryStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (history.Store, func() error, error) {
	switch cfg.HistoryBackend {
	case config.HistoryNeo4j:
		driver, err := graph.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, nil, err
		}
		repo := graph.NewRepository(driver)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		log.Info("Using Neo4j chat history", zap.String("uri", cfg.Neo4jURI))
		return repo, repo.Close, nil

	case config.HistoryPostgres:
		store, err := history.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		log.Info("Using Postgres chat history")
		return store, func() error { store.Close(); return nil }, nil

	default:
		log.Info("Using in-memory chat history")
		return history.NewMemoryStore(), nil, nil
	}
}

// newGenerator returns nil, nil when the selected provider has no credentials
func newGenerator(ctx context.Context, cfg *config.Config) (adapter.Generator, error) {
	if !cfg.GenerationEnabled() {
		return nil, nil
	}
	switch cfg.LLMProvider {
	case config.LLMProviderOpenAI:
		return adapter.NewOpenAIGenerator(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMHistoryTurns), nil
	default:
		gen, err := adapter.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.LLMHistoryTurns)
		if err != nil {
			return nil, err
		}
		return gen, nil
	}
}

func synthesizerFactory(cfg *config.Config) voice.SynthesizerFactory {
	if !cfg.SynthesisEnabled() {
		return nil
	}
	ttsCfg := tts.DefaultConfig()
	ttsCfg.APIKey = cfg.MurfAPIKey
	ttsCfg.Rate = cfg.MurfRate
	ttsCfg.Pitch = cfg.MurfPitch
	ttsCfg.Incremental = cfg.TTSIncremental
	setString(&ttsCfg.URL, cfg.MurfWSURL)
	setString(&ttsCfg.VoiceID, cfg.MurfVoiceID)
	setString(&ttsCfg.Style, cfg.MurfStyle)
	setString(&ttsCfg.ContextID, cfg.MurfContextID)
	if cfg.TTSReadTimeout > 0 {
		ttsCfg.ReadTimeout = cfg.TTSReadTimeout
	}

	log := logger.Named("tts")
	return func(sessionID string) voice.Synthesizer {
		return tts.NewClient(ttsCfg.ForSession(sessionID), log)
	}
}

func transcriberFactory(cfg *config.Config) voice.TranscriberFactory {
	if !cfg.TranscriptionEnabled() {
		return nil
	}
	sttCfg := stt.DefaultConfig()
	sttCfg.APIKey = cfg.AssemblyAIAPIKey
	setString(&sttCfg.URL, cfg.AssemblyAIStreamingURL)
	if cfg.STTSampleRate > 0 {
		sttCfg.SampleRate = cfg.STTSampleRate
	}
	if cfg.STTEndOfTurnConfidence > 0 {
		sttCfg.EndOfTurnConfidence = cfg.STTEndOfTurnConfidence
	}
	if cfg.STTMinSilenceMS > 0 {
		sttCfg.MinSilenceWhenConfident = cfg.STTMinSilenceMS
	}

	log := logger.Named("stt")
	return func() voice.Transcriber {
		return stt.NewClient(sttCfg, log)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
