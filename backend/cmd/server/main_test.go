package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/adapter"
	"voice-assistant/backend/internal/tools"
	"voice-assistant/backend/pkg/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "test",
		LLMProvider:      config.LLMProviderGemini,
		HistoryBackend:   config.HistoryMemory,
		STTSampleRate:    16000,
		DebounceCooldown: 2 * time.Second,
		LLMHistoryTurns:  10,
		LLMPersona:       "default",
	}
}

func TestBuildApp_DegradedWithoutKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := buildApp(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.close()

	assert.False(t, a.orchestrator.Available())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	a.server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBuildApp_OpenAIWithSynthesis(t *testing.T) {
	cfg := baseConfig()
	cfg.LLMProvider = config.LLMProviderOpenAI
	cfg.LLMBaseURL = "http://localhost:4000"
	cfg.MurfAPIKey = "murf-test"

	a, err := buildApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.close()

	assert.True(t, a.orchestrator.Available())
}

func TestNewGenerator(t *testing.T) {
	cfg := baseConfig()
	gen, err := newGenerator(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, gen, "gemini without a key is unavailable")

	cfg.LLMProvider = config.LLMProviderOpenAI
	cfg.LLMBaseURL = "http://localhost:4000"
	gen, err = newGenerator(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &adapter.OpenAIGenerator{}, gen)
}

func TestFactoriesFollowCredentials(t *testing.T) {
	cfg := baseConfig()
	assert.Nil(t, synthesizerFactory(cfg))
	assert.Nil(t, transcriberFactory(cfg))

	cfg.MurfAPIKey = "murf-test"
	cfg.AssemblyAIAPIKey = "aai-test"
	cfg.AssemblyAIStreamingURL = "wss://streaming.assemblyai.com/v3/ws"
	require.NotNil(t, synthesizerFactory(cfg))
	require.NotNil(t, transcriberFactory(cfg))

	first, second := synthesizerFactory(cfg)("s1"), synthesizerFactory(cfg)("s1")
	assert.NotSame(t, first, second, "every cycle gets its own synthesizer")
	assert.NotNil(t, transcriberFactory(cfg)())
}

func TestNewHistoryStore_Memory(t *testing.T) {
	store, closeFn, err := newHistoryStore(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, closeFn)
	assert.NotNil(t, store)
}

func TestSkillsAreRegistered(t *testing.T) {
	a, err := buildApp(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.close()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/status", nil)
	a.server.Router().ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), tools.SkillWebSearch)
	assert.Contains(t, w.Body.String(), tools.SkillNews)
}
