package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "voice-assistant/backend/pkg/errors"
	"voice-assistant/backend/pkg/logger"
)

const providerOpenAI = "openai"

// OpenAIGenerator talks to any OpenAI-compatible endpoint, LiteLLM included
type OpenAIGenerator struct {
	client       *openai.Client
	model        string
	historyTurns int
	maxRetries   int
	retryBackoff time.Duration
	logger       *zap.Logger
}

// NewOpenAIGenerator creates a generator for baseURL. baseURL is the server
// root; "/v1" is appended.
func NewOpenAIGenerator(baseURL, apiKey, modelID string, historyTurns int) *OpenAIGenerator {
	// For LiteLLM, we can use a dummy API key if not provided
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"

	return &OpenAIGenerator{
		client:       openai.NewClientWithConfig(config),
		model:        modelID,
		historyTurns: historyTurns,
		maxRetries:   3,
		retryBackoff: time.Second,
		logger:       logger.Named("llm"),
	}
}

func (g *OpenAIGenerator) request(req Request, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: BuildPrompt(req, g.historyTurns),
			},
		},
		Temperature: 0.7,
		Stream:      stream,
	}
}

// Generate starts a streaming completion
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (FragmentStream, error) {
	stream, err := g.client.CreateChatCompletionStream(ctx, g.request(req, true))
	if err != nil {
		g.logger.Error("LLM stream request failed", zap.Error(err), zap.String("model", g.model))
		return nil, classifyOpenAIError(err)
	}
	return newGuardStream(&openAIStream{stream: stream}), nil
}

// GenerateOnce returns a complete answer, retrying transient failures
func (g *OpenAIGenerator) GenerateOnce(ctx context.Context, req Request) (string, error) {
	chatReq := g.request(req, false)

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * g.retryBackoff
			g.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		resp, err = g.client.CreateChatCompletion(ctx, chatReq)
		if err == nil {
			break
		}

		err = classifyOpenAIError(err)
		g.logger.Error("LLM request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", chatReq.Model),
		)
		if !apperrors.IsRetryable(err) {
			return "", err
		}
	}

	if err != nil {
		return "", fmt.Errorf("failed to generate response after %d attempts: %w", g.maxRetries, err)
	}

	if len(resp.Choices) == 0 {
		return "", apperrors.ErrEmptyResponse
	}
	text := resp.Choices[0].Message.Content
	if isBlank(text) {
		return "", apperrors.ErrEmptyResponse
	}

	g.logger.Debug("LLM response generated",
		zap.String("model", chatReq.Model),
		zap.Int("length", len(text)),
	)
	return text, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		return "", io.EOF
	}
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}

func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return apperrors.ClassifyProviderError(providerOpenAI, status, err)
}
