package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	apperrors "voice-assistant/backend/pkg/errors"
	"voice-assistant/backend/pkg/logger"
)

const providerGemini = "gemini"

// GeminiGenerator uses the Gemini API through the genai SDK
type GeminiGenerator struct {
	client       *genai.Client
	model        string
	historyTurns int
	logger       *zap.Logger
}

// NewGeminiGenerator creates a Gemini-backed generator
func NewGeminiGenerator(ctx context.Context, apiKey, model string, historyTurns int) (*GeminiGenerator, error) {
	return newGeminiGenerator(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, model, historyTurns)
}

func newGeminiGenerator(ctx context.Context, cc *genai.ClientConfig, model string, historyTurns int) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiGenerator{
		client:       client,
		model:        model,
		historyTurns: historyTurns,
		logger:       logger.Named("llm"),
	}, nil
}

func (g *GeminiGenerator) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.7),
	}
}

// Generate starts a streaming generation
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (FragmentStream, error) {
	prompt := BuildPrompt(req, g.historyTurns)
	seq := g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), g.config())

	next, stop := iter.Pull2(seq)
	g.logger.Debug("Gemini stream started", zap.String("model", g.model), zap.Int("prompt_length", len(prompt)))
	return newGuardStream(&geminiStream{next: next, stop: stop}), nil
}

// GenerateOnce returns a complete answer
func (g *GeminiGenerator) GenerateOnce(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(BuildPrompt(req, g.historyTurns)), g.config())
	if err != nil {
		err = classifyGeminiError(err)
		g.logger.Error("Gemini request failed", zap.Error(err), zap.String("model", g.model))
		return "", err
	}

	text := resp.Text()
	if isBlank(text) {
		return "", apperrors.ErrEmptyResponse
	}
	return text, nil
}

type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *geminiStream) Recv() (string, error) {
	resp, err, ok := s.next()
	if !ok {
		return "", io.EOF
	}
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}

func classifyGeminiError(err error) error {
	status := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case errors.As(err, &apiErrPtr):
		status = apiErrPtr.Code
	}
	return apperrors.ClassifyProviderError(providerGemini, status, err)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
