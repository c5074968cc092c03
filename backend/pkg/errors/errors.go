package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeProvider represents failures talking to an upstream AI provider
	ErrorTypeProvider ErrorType = "provider"
	// ErrorTypeLLM represents generation errors that are not transport failures
	ErrorTypeLLM ErrorType = "llm"
	// ErrorTypeTranscription represents speech-to-text session errors
	ErrorTypeTranscription ErrorType = "transcription"
	// ErrorTypeSynthesis represents text-to-speech session errors
	ErrorTypeSynthesis ErrorType = "synthesis"
	// ErrorTypeHistory represents chat history store errors
	ErrorTypeHistory ErrorType = "history"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// ProviderErrorKind narrows a provider failure.
type ProviderErrorKind string

const (
	ProviderAuth    ProviderErrorKind = "auth"
	ProviderQuota   ProviderErrorKind = "quota"
	ProviderNetwork ProviderErrorKind = "network"
	ProviderTimeout ProviderErrorKind = "timeout"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Provider Errors

// ErrProvider is returned when an upstream provider call fails.
// Kind tells auth, quota, network and timeout failures apart.
type ErrProvider struct {
	*BaseError
	Provider   string
	Kind       ProviderErrorKind
	StatusCode int
}

func newProviderError(kind ProviderErrorKind, provider string, status int, err error) *ErrProvider {
	return &ErrProvider{
		BaseError:  NewBaseError(ErrorTypeProvider, fmt.Sprintf("%s %s failure", provider, kind), err),
		Provider:   provider,
		Kind:       kind,
		StatusCode: status,
	}
}

func NewProviderAuth(provider string, status int, err error) *ErrProvider {
	return newProviderError(ProviderAuth, provider, status, err)
}

func NewProviderQuota(provider string, status int, err error) *ErrProvider {
	return newProviderError(ProviderQuota, provider, status, err)
}

func NewProviderNetwork(provider string, err error) *ErrProvider {
	return newProviderError(ProviderNetwork, provider, 0, err)
}

func NewProviderTimeout(provider string, err error) *ErrProvider {
	return newProviderError(ProviderTimeout, provider, 0, err)
}

// LLM Errors

// ErrEmptyResponse is returned when the model produced no text at all
var ErrEmptyResponse = NewBaseError(ErrorTypeLLM, "empty response from LLM", nil)

// Transcription Errors

// ErrTranscriptionUnavailable is returned when the STT session cannot take audio
type ErrTranscriptionUnavailable struct {
	*BaseError
	Reason string
}

func NewTranscriptionUnavailable(reason string, err error) *ErrTranscriptionUnavailable {
	return &ErrTranscriptionUnavailable{
		BaseError: NewBaseError(ErrorTypeTranscription, fmt.Sprintf("transcription unavailable: %s", reason), err),
		Reason:    reason,
	}
}

// Synthesis Errors

// Synthesis stages
const (
	StageConnect    = "connect"
	StageStream     = "stream"
	StageIncomplete = "incomplete"
)

// ErrSynthesisUnavailable is returned when the TTS connection or stream fails
type ErrSynthesisUnavailable struct {
	*BaseError
	Stage string
}

func NewSynthesisUnavailable(stage string, err error) *ErrSynthesisUnavailable {
	return &ErrSynthesisUnavailable{
		BaseError: NewBaseError(ErrorTypeSynthesis, fmt.Sprintf("synthesis unavailable during %s", stage), err),
		Stage:     stage,
	}
}

// History Errors

// ErrHistoryStoreFailed is returned by history store implementations
type ErrHistoryStoreFailed struct {
	*BaseError
	Operation string
	SessionID string
}

func NewHistoryStoreFailed(operation, sessionID string, err error) *ErrHistoryStoreFailed {
	return &ErrHistoryStoreFailed{
		BaseError: NewBaseError(ErrorTypeHistory, fmt.Sprintf("history %s failed for session %s", operation, sessionID), err),
		Operation: operation,
		SessionID: sessionID,
	}
}

// Config Errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		switch e := err.(type) {
		case *BaseError:
			if e.Type == errType {
				return true
			}
		case interface{ base() *BaseError }:
			if e.base().Type == errType {
				return true
			}
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

func (e *ErrProvider) base() *BaseError                 { return e.BaseError }
func (e *ErrTranscriptionUnavailable) base() *BaseError { return e.BaseError }
func (e *ErrSynthesisUnavailable) base() *BaseError     { return e.BaseError }
func (e *ErrHistoryStoreFailed) base() *BaseError       { return e.BaseError }
func (e *ErrConfigMissingRequired) base() *BaseError    { return e.BaseError }

// ProviderKind returns the provider failure kind carried by err, if any.
func ProviderKind(err error) (ProviderErrorKind, bool) {
	var pe *ErrProvider
	if stderrors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if kind, ok := ProviderKind(err); ok {
		return kind != ProviderAuth
	}
	// Empty output is a model decision, not a transient failure
	if stderrors.Is(err, ErrEmptyResponse) {
		return false
	}
	return IsErrorType(err, ErrorTypeSynthesis) || IsErrorType(err, ErrorTypeTranscription)
}

// ClassifyProviderError maps a raw provider failure onto the provider taxonomy.
// status is the HTTP status when known, 0 otherwise. Errors that are already
// classified are returned unchanged.
func ClassifyProviderError(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := ProviderKind(err); ok {
		return err
	}
	if stderrors.Is(err, ErrEmptyResponse) || stderrors.Is(err, context.Canceled) {
		return err
	}

	switch {
	case status == 401 || status == 403:
		return NewProviderAuth(provider, status, err)
	case status == 429:
		return NewProviderQuota(provider, status, err)
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewProviderTimeout(provider, err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewProviderTimeout(provider, err)
		}
		return NewProviderNetwork(provider, err)
	}

	// Some SDKs only surface the status inside the message text
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return NewProviderQuota(provider, status, err)
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "403") || strings.Contains(msg, "401") || strings.Contains(msg, "api key"):
		return NewProviderAuth(provider, status, err)
	case status >= 500 || strings.Contains(msg, "connection") || strings.Contains(msg, "eof"):
		return NewProviderNetwork(provider, err)
	}
	return err
}
