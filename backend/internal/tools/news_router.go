package tools

import (
	"context"

	"go.uber.org/zap"

	"voice-assistant/backend/internal/adapter"
	"voice-assistant/backend/internal/constants"
)

// NewsRouter answers news requests from the news skill and passes every
// other request to the wrapped generator
type NewsRouter struct {
	next   adapter.Generator
	news   Skill
	logger *zap.Logger
}

// NewNewsRouter wraps next
func NewNewsRouter(next adapter.Generator, news Skill, logger *zap.Logger) *NewsRouter {
	return &NewsRouter{next: next, news: news, logger: logger}
}

func (r *NewsRouter) Generate(ctx context.Context, req adapter.Request) (adapter.FragmentStream, error) {
	if r.news != nil && IsNewsQuery(req.UserMessage) {
		return adapter.NewStaticStream(r.answer(ctx, req.UserMessage)), nil
	}
	return r.next.Generate(ctx, req)
}

func (r *NewsRouter) GenerateOnce(ctx context.Context, req adapter.Request) (string, error) {
	if r.news != nil && IsNewsQuery(req.UserMessage) {
		return r.answer(ctx, req.UserMessage), nil
	}
	return r.next.GenerateOnce(ctx, req)
}

func (r *NewsRouter) answer(ctx context.Context, query string) string {
	r.logger.Info("Routing request to news skill", zap.String("query", query))
	text, err := r.news.Execute(ctx, query)
	if err != nil || text == "" {
		r.logger.Warn("News lookup failed", zap.Error(err))
		return constants.FallbackNewsFailed
	}
	return text
}
