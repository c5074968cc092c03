package protocol

import (
	"encoding/json"
	"strings"
)

// Plain-text commands accepted on the audio socket
const (
	CommandStartStreaming = "start_streaming"
	CommandStopStreaming  = "stop_streaming"
)

// Command response statuses
const (
	StatusStreamingReady   = "streaming_ready"
	StatusStreamingStopped = "streaming_stopped"
)

// Control is a parsed inbound text frame
type Control interface {
	isControl()
}

// SetSessionID rebinds the connection to a client-chosen session id
type SetSessionID struct {
	SessionID string
}

// ToggleWebSearch switches search-augmented answers on or off
type ToggleWebSearch struct {
	Enabled bool
}

type StartStreaming struct{}

type StopStreaming struct{}

// Ignored is any frame that is valid but carries nothing to act on
type Ignored struct {
	Raw string
}

func (SetSessionID) isControl()    {}
func (ToggleWebSearch) isControl() {}
func (StartStreaming) isControl()  {}
func (StopStreaming) isControl()   {}
func (Ignored) isControl()         {}

type inboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Enabled   bool   `json:"enabled"`
}

// ParseControl interprets a text frame. JSON objects are matched on their
// "type" field; anything else is treated as a plain command.
func ParseControl(text string) Control {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var frame inboundFrame
		if err := json.Unmarshal([]byte(trimmed), &frame); err == nil {
			switch frame.Type {
			case "session_id":
				if frame.SessionID == "" {
					return Ignored{Raw: text}
				}
				return SetSessionID{SessionID: frame.SessionID}
			case "web_search_toggle":
				return ToggleWebSearch{Enabled: frame.Enabled}
			}
			return Ignored{Raw: text}
		}
	}

	switch trimmed {
	case CommandStartStreaming:
		return StartStreaming{}
	case CommandStopStreaming:
		return StopStreaming{}
	}
	return Ignored{Raw: text}
}

// StartStreamingResponse acknowledges start_streaming
func StartStreamingResponse() *CommandResponse {
	return &CommandResponse{
		Message: "Ready to receive audio chunks with real-time transcription",
		Status:  StatusStreamingReady,
	}
}

// StopStreamingResponse acknowledges stop_streaming
func StopStreamingResponse() *CommandResponse {
	return &CommandResponse{
		Message: "Stopping audio stream",
		Status:  StatusStreamingStopped,
	}
}
