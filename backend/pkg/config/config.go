package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// History backends
const (
	HistoryMemory   = "memory"
	HistoryNeo4j    = "neo4j"
	HistoryPostgres = "postgres"
)

// LLM providers
const (
	LLMProviderGemini = "gemini"
	LLMProviderOpenAI = "openai"
)

// Config holds all application configuration
type Config struct {
	// App
	Port              string
	Env               string
	CORSAllowedOrigin string

	// Speech-to-text (AssemblyAI streaming)
	AssemblyAIAPIKey       string
	AssemblyAIStreamingURL string
	STTSampleRate          int
	STTEndOfTurnConfidence float64
	STTMinSilenceMS        int
	STTMaxRestarts         int

	// LLM
	LLMProvider     string
	GeminiAPIKey    string
	GeminiModel     string
	LLMBaseURL      string // OpenAI-compatible endpoint, e.g. LiteLLM
	LLMAPIKey       string
	LLMModel        string
	LLMHistoryTurns int
	LLMPersona      string

	// Text-to-speech (Murf streaming)
	MurfAPIKey     string
	MurfWSURL      string
	MurfVoiceID    string
	MurfStyle      string
	MurfRate       int
	MurfPitch      int
	MurfContextID  string
	TTSReadTimeout time.Duration
	TTSIncremental bool

	// Pipeline
	DebounceCooldown time.Duration
	AudioCaptureDir  string // empty disables the rolling capture file
	AudioAckEvery    int

	// History
	HistoryBackend           string
	Neo4jURI                 string
	Neo4jUser                string
	Neo4jPassword            string
	DatabaseURL              string
	HistoryAuthenticatedOnly bool

	// Auth
	JWTSecretKey string

	// Skills
	WebSearchMaxResults int
	WebSearchCacheTTL   time.Duration

	// Events
	KafkaBrokers         []string
	KafkaTranscriptTopic string
	KafkaCycleTopic      string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "*"),

		AssemblyAIAPIKey:       getEnv("ASSEMBLYAI_API_KEY", ""),
		AssemblyAIStreamingURL: getEnv("ASSEMBLYAI_STREAMING_URL", "wss://streaming.assemblyai.com/v3/ws"),
		STTSampleRate:          getEnvInt("STT_SAMPLE_RATE", 16000),
		STTEndOfTurnConfidence: getEnvFloat("STT_END_OF_TURN_CONFIDENCE", 0.5),
		STTMinSilenceMS:        getEnvInt("STT_MIN_SILENCE_MS", 1200),
		STTMaxRestarts:         getEnvInt("STT_MAX_RESTARTS", 3),

		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", LLMProviderGemini)),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		LLMBaseURL:      getEnv("LLM_BASE_URL", "http://localhost:4000"),
		LLMAPIKey:       getEnv("LLM_API_KEY", ""),
		LLMModel:        getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMHistoryTurns: getEnvInt("LLM_HISTORY_TURNS", 10),
		LLMPersona:      getEnv("LLM_PERSONA", "default"),

		MurfAPIKey:     getEnv("MURF_API_KEY", ""),
		MurfWSURL:      getEnv("MURF_WS_URL", "wss://api.murf.ai/v1/speech/stream-input"),
		MurfVoiceID:    getEnv("MURF_VOICE_ID", "en-US-amara"),
		MurfStyle:      getEnv("MURF_STYLE", "Conversational"),
		MurfRate:       getEnvInt("MURF_RATE", 0),
		MurfPitch:      getEnvInt("MURF_PITCH", 0),
		MurfContextID:  getEnv("MURF_CONTEXT_ID", "voice_agent_context_static"),
		TTSReadTimeout: getEnvDuration("TTS_READ_TIMEOUT", 30*time.Second),
		TTSIncremental: getEnvBool("TTS_INCREMENTAL", false),

		DebounceCooldown: getEnvDuration("DEBOUNCE_COOLDOWN", 2*time.Second),
		AudioCaptureDir:  getEnv("AUDIO_CAPTURE_DIR", "streamed_audio"),
		AudioAckEvery:    getEnvInt("AUDIO_ACK_EVERY", 50),

		HistoryBackend:           strings.ToLower(getEnv("HISTORY_BACKEND", HistoryMemory)),
		Neo4jURI:                 getEnv("NEO4J_URI", ""),
		Neo4jUser:                getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:            getEnv("NEO4J_PASSWORD", ""),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		HistoryAuthenticatedOnly: getEnvBool("HISTORY_AUTHENTICATED_ONLY", false),

		JWTSecretKey: getEnv("JWT_SECRET_KEY", ""),

		WebSearchMaxResults: getEnvInt("WEB_SEARCH_MAX_RESULTS", 3),
		WebSearchCacheTTL:   getEnvDuration("WEB_SEARCH_CACHE_TTL", 5*time.Minute),

		KafkaBrokers:         getEnvList("KAFKA_BROKERS"),
		KafkaTranscriptTopic: getEnv("KAFKA_TRANSCRIPT_TOPIC", "voice.transcripts"),
		KafkaCycleTopic:      getEnv("KAFKA_CYCLE_TOPIC", "voice.cycles"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.HistoryBackend {
	case HistoryMemory:
	case HistoryNeo4j:
		if c.Neo4jURI == "" {
			return fmt.Errorf("NEO4J_URI is required for the neo4j history backend")
		}
	case HistoryPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres history backend")
		}
	default:
		return fmt.Errorf("unknown HISTORY_BACKEND %q", c.HistoryBackend)
	}

	if c.LLMProvider != LLMProviderGemini && c.LLMProvider != LLMProviderOpenAI {
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.STTSampleRate <= 0 {
		return fmt.Errorf("STT_SAMPLE_RATE must be positive")
	}
	if c.DebounceCooldown <= 0 {
		return fmt.Errorf("DEBOUNCE_COOLDOWN must be positive")
	}
	if c.LLMHistoryTurns < 0 {
		return fmt.Errorf("LLM_HISTORY_TURNS must not be negative")
	}
	// Provider keys are optional: a missing key reports that capability as unavailable.
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TranscriptionEnabled reports whether a streaming STT key is configured.
func (c *Config) TranscriptionEnabled() bool {
	return c.AssemblyAIAPIKey != ""
}

// SynthesisEnabled reports whether a streaming TTS key is configured.
func (c *Config) SynthesisEnabled() bool {
	return c.MurfAPIKey != ""
}

// GenerationEnabled reports whether the selected LLM provider can be reached.
func (c *Config) GenerationEnabled() bool {
	if c.LLMProvider == LLMProviderGemini {
		return c.GeminiAPIKey != ""
	}
	return c.LLMBaseURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
