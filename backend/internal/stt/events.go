package stt

import "time"

// Kind distinguishes interim transcripts from end-of-turn ones
type Kind string

const (
	KindPartial Kind = "partial"
	KindFinal   Kind = "final"
)

// Event is one item on a transcription session's event channel
type Event interface {
	isEvent()
}

// BeginEvent is delivered once the provider has accepted the session
type BeginEvent struct {
	ID        string
	ExpiresAt time.Time
}

// Transcript is the normalized form of a provider turn update
type Transcript struct {
	Kind            Kind
	Text            string
	Confidence      *float64
	EndOfTurn       bool
	TurnOrder       *int
	TurnIsFormatted bool
}

// TurnEvent carries every turn update, including empty ones
type TurnEvent struct {
	Transcript
}

// TerminatedEvent is delivered when the provider closes the session cleanly
type TerminatedEvent struct {
	AudioDurationSeconds float64
}

// ErrorEvent reports a provider or transport failure. The session is
// inactive once it has been delivered.
type ErrorEvent struct {
	Err error
}

func (BeginEvent) isEvent()      {}
func (TurnEvent) isEvent()       {}
func (TerminatedEvent) isEvent() {}
func (ErrorEvent) isEvent()      {}
