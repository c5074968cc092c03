// Package protocol defines the JSON messages exchanged with audio WebSocket
// clients. Every outbound message is a concrete struct tagged with its type;
// the session and orchestrator only ever send values of these types.
package protocol

import (
	"encoding/json"
	"time"
)

// Type is the value of the "type" field of an outbound message
type Type string

const (
	TypeAudioStreamReady               Type = "audio_stream_ready"
	TypeTranscriptionSessionStarted    Type = "transcription_session_started"
	TypePartialTranscript              Type = "partial_transcript"
	TypeFinalTranscript                Type = "final_transcript"
	TypeTurnEnd                        Type = "turn_end"
	TypeTranscriptionSessionTerminated Type = "transcription_session_terminated"
	TypeTranscriptionError             Type = "transcription_error"
	TypeLLMStreamingStart              Type = "llm_streaming_start"
	TypeLLMStreamingChunk              Type = "llm_streaming_chunk"
	TypeTTSStreamingStart              Type = "tts_streaming_start"
	TypeTTSAudioChunk                  Type = "tts_audio_chunk"
	TypeTTSStatus                      Type = "tts_status"
	TypeLLMStreamingComplete           Type = "llm_streaming_complete"
	TypeLLMStreamingError              Type = "llm_streaming_error"
	TypeTTSStreamingError              Type = "tts_streaming_error"
	TypeAudioChunkReceived             Type = "audio_chunk_received"
	TypeAudioStreamComplete            Type = "audio_stream_complete"
	TypeCommandResponse                Type = "command_response"
)

// Message is implemented by every outbound message. The unexported stamp
// method keeps the set closed to this package.
type Message interface {
	Type() Type
	stamp(kind Type, at time.Time)
}

type envelope struct {
	Kind      Type   `json:"type"`
	Timestamp string `json:"timestamp"`
}

func (e *envelope) stamp(kind Type, at time.Time) {
	e.Kind = kind
	e.Timestamp = at.Format(time.RFC3339Nano)
}

// Encode stamps the message with its type and the current time and returns
// the JSON wire form.
func Encode(m Message) ([]byte, error) {
	return EncodeAt(m, time.Now())
}

// EncodeAt is Encode with an explicit timestamp
func EncodeAt(m Message, at time.Time) ([]byte, error) {
	m.stamp(m.Type(), at)
	return json.Marshal(m)
}

// Session lifecycle

type AudioStreamReady struct {
	envelope
	Message              string `json:"message"`
	SessionID            string `json:"session_id"`
	AudioFilename        string `json:"audio_filename,omitempty"`
	TranscriptionEnabled bool   `json:"transcription_enabled"`
	TranscriptionReady   bool   `json:"transcription_ready"`
	WebSearchEnabled     bool   `json:"web_search_enabled"`
	Language             string `json:"language,omitempty"`
	Persona              string `json:"persona,omitempty"`
	Authenticated        bool   `json:"authenticated"`
}

func (*AudioStreamReady) Type() Type { return TypeAudioStreamReady }

type AudioChunkReceived struct {
	envelope
	ChunkNumber         int   `json:"chunk_number"`
	TotalBytes          int64 `json:"total_bytes"`
	TranscriptionActive bool  `json:"transcription_active"`
}

func (*AudioChunkReceived) Type() Type { return TypeAudioChunkReceived }

type AudioStreamComplete struct {
	envelope
	Message       string `json:"message"`
	SessionID     string `json:"session_id"`
	AudioFilename string `json:"audio_filename,omitempty"`
	TotalChunks   int    `json:"total_chunks"`
	TotalBytes    int64  `json:"total_bytes"`
}

func (*AudioStreamComplete) Type() Type { return TypeAudioStreamComplete }

type CommandResponse struct {
	envelope
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (*CommandResponse) Type() Type { return TypeCommandResponse }

// Transcription

type TranscriptionSessionStarted struct {
	envelope
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func (*TranscriptionSessionStarted) Type() Type { return TypeTranscriptionSessionStarted }

// Transcript carries both partial and final transcripts; Final selects the tag.
type Transcript struct {
	envelope
	Final           bool     `json:"-"`
	Text            string   `json:"text"`
	Confidence      *float64 `json:"confidence"`
	IsFinal         bool     `json:"is_final"`
	EndOfTurn       bool     `json:"end_of_turn"`
	TurnOrder       *int     `json:"turn_order"`
	TurnIsFormatted bool     `json:"turn_is_formatted"`
}

func (t *Transcript) Type() Type {
	if t.Final {
		return TypeFinalTranscript
	}
	return TypePartialTranscript
}

type TurnEnd struct {
	envelope
	Message         string   `json:"message"`
	FinalTranscript string   `json:"final_transcript"`
	Confidence      *float64 `json:"confidence"`
	TurnOrder       *int     `json:"turn_order"`
	TurnIsFormatted bool     `json:"turn_is_formatted"`
}

func (*TurnEnd) Type() Type { return TypeTurnEnd }

type TranscriptionSessionTerminated struct {
	envelope
	Message       string  `json:"message"`
	AudioDuration float64 `json:"audio_duration"`
}

func (*TranscriptionSessionTerminated) Type() Type { return TypeTranscriptionSessionTerminated }

type TranscriptionError struct {
	envelope
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (*TranscriptionError) Type() Type { return TypeTranscriptionError }

// Generation cycle

type LLMStreamingStart struct {
	envelope
	Message          string `json:"message"`
	UserMessage      string `json:"user_message"`
	WebSearchEnabled bool   `json:"web_search_enabled"`
}

func (*LLMStreamingStart) Type() Type { return TypeLLMStreamingStart }

type LLMStreamingChunk struct {
	envelope
	Chunk             string `json:"chunk"`
	AccumulatedLength int    `json:"accumulated_length"`
}

func (*LLMStreamingChunk) Type() Type { return TypeLLMStreamingChunk }

type TTSStreamingStart struct {
	envelope
	Message string `json:"message"`
}

func (*TTSStreamingStart) Type() Type { return TypeTTSStreamingStart }

type TTSAudioChunk struct {
	envelope
	AudioBase64 string `json:"audio_base64"`
	ChunkNumber int    `json:"chunk_number"`
	ChunkSize   int    `json:"chunk_size"`
	TotalSize   int    `json:"total_size"`
	IsFinal     bool   `json:"is_final"`
}

func (*TTSAudioChunk) Type() Type { return TypeTTSAudioChunk }

type TTSStatus struct {
	envelope
	Data map[string]any `json:"data"`
}

func (*TTSStatus) Type() Type { return TypeTTSStatus }

type LLMStreamingComplete struct {
	envelope
	Message             string `json:"message"`
	CompleteResponse    string `json:"complete_response"`
	TotalLength         int    `json:"total_length"`
	AudioChunksReceived int    `json:"audio_chunks_received"`
	TotalAudioSize      int    `json:"total_audio_size"`
	SessionID           string `json:"session_id"`
	WebSearchEnabled    bool   `json:"web_search_enabled"`
}

func (*LLMStreamingComplete) Type() Type { return TypeLLMStreamingComplete }

// LLMStreamingError reports a generation failure. Message is the user-facing
// fallback text; Error carries the underlying cause for debugging.
type LLMStreamingError struct {
	envelope
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

func (*LLMStreamingError) Type() Type { return TypeLLMStreamingError }

type TTSStreamingError struct {
	envelope
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Stage   string `json:"stage,omitempty"`
}

func (*TTSStreamingError) Type() Type { return TypeTTSStreamingError }
