package constants

// Assistant constants
const (
	// DefaultAssistantName is used in logs and the status endpoint
	DefaultAssistantName = "voice-assistant"
)

// Audio format expected from the client and forwarded to the transcriber
const (
	InputSampleRate    = 16000
	InputChannels      = 1
	InputBitsPerSample = 16
	InputEncoding      = "pcm_s16le"

	// OutputSampleRate is requested from the synthesizer
	OutputSampleRate = 44100
)

// Pipeline constants
const (
	// MaxResponseChars bounds the answer length requested from the model
	MaxResponseChars = 3000

	// MaxSearchSnippetChars truncates each web result's content
	MaxSearchSnippetChars = 500

	// MaxNewsHeadlines is the number of headlines read out
	MaxNewsHeadlines = 3

	// MaxTranscriberBackoffSeconds caps the delay between transcriber restarts
	MaxTranscriberBackoffSeconds = 5
)

// Fallback messages spoken or shown when a stage fails
const (
	FallbackSTT        = "I'm having trouble understanding your audio right now. Please try speaking again clearly into your microphone."
	FallbackLLM        = "I'm experiencing some technical difficulties with my thinking process. Please try again in a moment."
	FallbackTTS        = "I can understand you, but I'm having trouble generating speech right now. Please check your connection."
	FallbackGeneral    = "I'm having trouble connecting right now. Please check your connection and try again."
	FallbackNoSpeech   = "I didn't detect any speech in your audio. Please try speaking clearly into your microphone."
	FallbackNotReady   = "The voice agent is not properly configured. Please contact support."
	FallbackTimeout    = "The request is taking longer than expected. Please try again."
	FallbackQuota      = "API quota exceeded. Please check your billing and rate limits."
	FallbackAuth       = "API authentication failed. Please check your API key."
	FallbackNewsFailed = "I couldn't fetch the latest news at the moment. Please try again later."
)

// Language codes
const (
	LanguageCodeEnglish   = "en"
	LanguageCodeHindi     = "hi"
	LanguageCodeBilingual = "both"
	LanguageCodeAuto      = "auto"
)

// Personas
const (
	PersonaDefault   = "default"
	PersonaPirate    = "pirate"
	PersonaDeveloper = "developer"
	PersonaCowboy    = "cowboy"
	PersonaRobot     = "robot"
)
